package tenant

import (
	"context"

	"github.com/google/uuid"
)

// Resolver resolves tenants from identifiers supplied by the auth
// collaborator. Implementations live with the data store.
type Resolver interface {
	// ByID resolves a tenant by ID.
	ByID(ctx context.Context, id uuid.UUID) (*Tenant, error)

	// BySlug resolves a tenant by its short name.
	BySlug(ctx context.Context, slug string) (*Tenant, error)
}
