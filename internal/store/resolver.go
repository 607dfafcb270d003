package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/arpeggiohq/arpeggio/internal/tenant"
)

// Resolver adapts a Store to the tenant.Resolver interface used by the
// tenant middleware.
type Resolver struct {
	store TenantStore
}

// NewResolver creates a store-backed tenant resolver.
func NewResolver(s TenantStore) *Resolver {
	return &Resolver{store: s}
}

// ByID resolves a tenant by ID.
func (r *Resolver) ByID(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	t, err := r.store.GetTenant(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, err
	}
	return t, nil
}

// BySlug resolves a tenant by its short name.
func (r *Resolver) BySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	t, err := r.store.GetTenantBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, err
	}
	return t, nil
}

// Compile-time check that Resolver implements tenant.Resolver.
var _ tenant.Resolver = (*Resolver)(nil)
