// Package middleware provides HTTP middleware for the Arpeggio API.
package middleware

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/arpeggiohq/arpeggio/internal/domain"
	"github.com/arpeggiohq/arpeggio/internal/tenant"
)

// TenantHeader carries the authenticated school id, set by the upstream
// auth proxy. The API never trusts tenant ids from request bodies.
const TenantHeader = "X-Tenant-ID"

// TenantConfig holds configuration for tenant resolution middleware.
type TenantConfig struct {
	// Resolver looks tenants up by id or slug.
	Resolver tenant.Resolver

	// Logger is used for resolution failures.
	Logger zerolog.Logger
}

// ResolveTenant resolves the tenant named by the X-Tenant-ID header and
// attaches it to the request context. Requests without the header, with an
// unknown tenant, or with a non-active tenant are rejected before reaching
// any handler.
func ResolveTenant(cfg TenantConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := c.Request().Header.Get(TenantHeader)
			if raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing tenant header")
			}

			id, err := uuid.Parse(raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid tenant id")
			}

			t, err := cfg.Resolver.ByID(c.Request().Context(), id)
			if err != nil {
				if errors.Is(err, tenant.ErrTenantNotFound) {
					return echo.NewHTTPError(http.StatusNotFound, "tenant not found")
				}
				cfg.Logger.Error().Err(err).Str("tenant_id", raw).Msg("tenant resolution failed")
				return echo.NewHTTPError(http.StatusInternalServerError, domain.ErrorMessage(err))
			}

			switch t.Status {
			case "active":
				// proceed
			case "suspended":
				return echo.NewHTTPError(http.StatusServiceUnavailable, "tenant suspended")
			default:
				return echo.NewHTTPError(http.StatusNotFound, "tenant not found")
			}

			ctx := tenant.NewContext(c.Request().Context(), t)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
