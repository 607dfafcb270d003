package tenant

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	id := uuid.New()
	tn := &Tenant{ID: id, Slug: "crescendo", Name: "Crescendo Music School", Status: "active"}

	ctx := NewContext(context.Background(), tn)

	got := FromContext(ctx)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "crescendo", got.Slug)

	assert.Nil(t, FromContext(context.Background()))
}

func TestRequireID(t *testing.T) {
	id := uuid.New()
	ctx := NewContext(context.Background(), &Tenant{ID: id, Status: "active"})

	got, err := RequireID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = RequireID(context.Background())
	assert.ErrorIs(t, err, ErrNoTenant)
}

func TestMustFromContext_PanicsWithoutTenant(t *testing.T) {
	assert.Panics(t, func() {
		MustFromContext(context.Background())
	})
}

func TestIsActive(t *testing.T) {
	assert.True(t, (&Tenant{Status: "active"}).IsActive())
	assert.False(t, (&Tenant{Status: "suspended"}).IsActive())

	var nilTenant *Tenant
	assert.False(t, nilTenant.IsActive())
}
