package tenant

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const tenantContextKey contextKey = "tenant"

// Tenant represents a resolved school, the unit of data isolation.
type Tenant struct {
	ID     uuid.UUID
	Slug   string
	Name   string
	Status string // active, suspended, cancelled
}

// NewContext returns a new context with the tenant attached.
func NewContext(ctx context.Context, t *Tenant) context.Context {
	return context.WithValue(ctx, tenantContextKey, t)
}

// FromContext extracts the tenant from the context.
// Returns nil if no tenant is present.
func FromContext(ctx context.Context) *Tenant {
	t, ok := ctx.Value(tenantContextKey).(*Tenant)
	if !ok {
		return nil
	}
	return t
}

// MustFromContext extracts the tenant from the context.
// Panics if no tenant is present. Use only behind RequireTenant middleware.
func MustFromContext(ctx context.Context) *Tenant {
	t := FromContext(ctx)
	if t == nil {
		panic("tenant.MustFromContext: no tenant in context")
	}
	return t
}

// RequireID returns the tenant ID from context, or ErrNoTenant when the
// context carries none. Every service operation goes through this; the
// engine never infers tenant scope from payload fields.
func RequireID(ctx context.Context) (uuid.UUID, error) {
	t := FromContext(ctx)
	if t == nil {
		return uuid.Nil, ErrNoTenant
	}
	return t.ID, nil
}

// IsActive returns true if the tenant status is "active".
func (t *Tenant) IsActive() bool {
	return t != nil && t.Status == "active"
}
