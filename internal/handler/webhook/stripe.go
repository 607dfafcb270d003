// Package webhook receives payment gateway notifications.
package webhook

import (
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/arpeggiohq/arpeggio/internal/gateway"
	"github.com/arpeggiohq/arpeggio/internal/service"
	"github.com/arpeggiohq/arpeggio/internal/telemetry"
)

// StripeHandler handles Stripe webhook events.
type StripeHandler struct {
	provider   gateway.Provider
	reconciler *service.Reconciler
	metrics    *telemetry.BusinessMetrics
	logger     zerolog.Logger
}

// NewStripeHandler creates the webhook handler. Signature verification
// happens inside the provider; the reconciler owns everything after that.
func NewStripeHandler(provider gateway.Provider, reconciler *service.Reconciler, metrics *telemetry.BusinessMetrics, logger zerolog.Logger) *StripeHandler {
	return &StripeHandler{
		provider:   provider,
		reconciler: reconciler,
		metrics:    metrics,
		logger:     logger.With().Str("component", "stripe_webhook").Logger(),
	}
}

// HandleWebhook processes POST /webhooks/stripe.
//
// Unverifiable payloads are rejected. Once the signature checks out the
// response is 200 for every drop or duplicate: Stripe retries on non-2xx,
// and retrying an event we deliberately ignored only produces noise. Only a
// genuine processing failure returns 5xx so the gateway redelivers.
func (h *StripeHandler) HandleWebhook(c echo.Context) error {
	start := time.Now()

	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "error reading request body")
	}

	signature := c.Request().Header.Get("Stripe-Signature")
	if signature == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing signature")
	}

	ev, err := h.provider.ParseWebhook(payload, signature)
	if err != nil {
		h.logger.Warn().Err(err).Msg("webhook signature verification failed")
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	if h.metrics != nil {
		h.metrics.WebhookReceived.WithLabelValues(ev.Type).Inc()
		defer func() {
			h.metrics.WebhookLatency.WithLabelValues(ev.Type).Observe(time.Since(start).Seconds())
		}()
	}

	outcome, err := h.reconciler.ProcessEvent(c.Request().Context(), ev)
	if err != nil {
		h.logger.Error().Err(err).
			Str("event_id", ev.ID).
			Str("event_type", ev.Type).
			Msg("webhook processing failed")
		if h.metrics != nil {
			h.metrics.WebhookFailed.WithLabelValues(ev.Type, "reconcile_error").Inc()
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "processing failed")
	}

	if h.metrics != nil {
		h.metrics.WebhookProcessed.WithLabelValues(ev.Type).Inc()
	}

	return c.JSON(http.StatusOK, map[string]any{
		"received": true,
		"outcome":  string(outcome),
	})
}
