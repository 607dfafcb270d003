package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpeggiohq/arpeggio/internal/tenant"
)

type mockResolver struct {
	byIDFunc   func(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error)
	bySlugFunc func(ctx context.Context, slug string) (*tenant.Tenant, error)
}

func (m *mockResolver) ByID(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	if m.byIDFunc != nil {
		return m.byIDFunc(ctx, id)
	}
	return nil, tenant.ErrTenantNotFound
}

func (m *mockResolver) BySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	if m.bySlugFunc != nil {
		return m.bySlugFunc(ctx, slug)
	}
	return nil, tenant.ErrTenantNotFound
}

func runMiddleware(t *testing.T, resolver tenant.Resolver, header string) (*httptest.ResponseRecorder, *tenant.Tenant) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/invoices", nil)
	if header != "" {
		req.Header.Set(TenantHeader, header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var captured *tenant.Tenant
	handler := ResolveTenant(TenantConfig{Resolver: resolver, Logger: zerolog.Nop()})(func(c echo.Context) error {
		captured = tenant.FromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	err := handler(c)
	if err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec, captured
}

func TestResolveTenantActive(t *testing.T) {
	id := uuid.New()
	resolver := &mockResolver{
		byIDFunc: func(ctx context.Context, got uuid.UUID) (*tenant.Tenant, error) {
			require.Equal(t, id, got)
			return &tenant.Tenant{ID: id, Slug: "riverside", Status: "active"}, nil
		},
	}

	rec, captured := runMiddleware(t, resolver, id.String())

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.Equal(t, id, captured.ID)
}

func TestResolveTenantMissingHeader(t *testing.T) {
	rec, captured := runMiddleware(t, &mockResolver{}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, captured)
}

func TestResolveTenantInvalidID(t *testing.T) {
	rec, captured := runMiddleware(t, &mockResolver{}, "not-a-uuid")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, captured)
}

func TestResolveTenantUnknown(t *testing.T) {
	rec, captured := runMiddleware(t, &mockResolver{}, uuid.New().String())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Nil(t, captured)
}

func TestResolveTenantSuspended(t *testing.T) {
	resolver := &mockResolver{
		byIDFunc: func(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
			return &tenant.Tenant{ID: id, Status: "suspended"}, nil
		},
	}

	rec, captured := runMiddleware(t, resolver, uuid.New().String())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Nil(t, captured)
}

func TestResolveTenantCancelled(t *testing.T) {
	resolver := &mockResolver{
		byIDFunc: func(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
			return &tenant.Tenant{ID: id, Status: "cancelled"}, nil
		},
	}

	rec, captured := runMiddleware(t, resolver, uuid.New().String())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Nil(t, captured)
}
