package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arpeggiohq/arpeggio/internal/domain"
	"github.com/arpeggiohq/arpeggio/internal/gateway"
	"github.com/arpeggiohq/arpeggio/internal/store"
	"github.com/arpeggiohq/arpeggio/internal/tenant"
)

// ReconcileOutcome reports what the reconciler did with a gateway event.
type ReconcileOutcome string

const (
	// ReconcileApplied means a new payment was recorded.
	ReconcileApplied ReconcileOutcome = "applied"
	// ReconcileDuplicate means the charge was already recorded; no-op.
	ReconcileDuplicate ReconcileOutcome = "duplicate"
	// ReconcileDropped means the event carried no actionable reference
	// (missing or cross-tenant metadata, or a kind the engine ignores).
	ReconcileDropped ReconcileOutcome = "dropped"
)

// Reconciler turns verified gateway events into recorded payments.
// Processing is idempotent keyed on the gateway charge id, so webhook
// retries and duplicate deliveries are safe.
type Reconciler struct {
	store  store.Store
	engine PaymentEngine
	logger zerolog.Logger
}

// NewReconciler creates the gateway reconciliation processor.
func NewReconciler(st store.Store, engine PaymentEngine, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:  st,
		engine: engine,
		logger: logger.With().Str("component", "reconciler").Logger(),
	}
}

// ProcessEvent applies one verified gateway event. The tenant id comes from
// the event metadata, never from the caller's context: the invoice lookup is
// scoped to that tenant, so mismatched metadata resolves to nothing and the
// event is dropped rather than applied across tenants.
//
// Failed and unrecognized events are acknowledged without action. Returning
// an error means processing genuinely failed and the gateway should retry.
func (r *Reconciler) ProcessEvent(ctx context.Context, ev *gateway.Event) (ReconcileOutcome, error) {
	log := r.logger.With().
		Str("event_id", ev.ID).
		Str("event_type", ev.Type).
		Str("charge_id", ev.ChargeID).
		Logger()

	if ev.Kind != gateway.EventCompleted {
		log.Debug().Msg("ignoring non-completion gateway event")
		return ReconcileDropped, nil
	}

	if ev.TenantID == uuid.Nil || ev.InvoiceID == uuid.Nil || ev.ChargeID == "" {
		log.Warn().Msg("gateway event missing tenant or invoice metadata, dropping")
		return ReconcileDropped, nil
	}

	// The event dictates the tenant scope for everything below.
	ctx = tenant.NewContext(ctx, &tenant.Tenant{ID: ev.TenantID})

	// Fast path: charge already recorded.
	if _, err := r.store.GetPaymentByGatewayCharge(ctx, ev.TenantID, ev.ChargeID); err == nil {
		log.Info().Msg("gateway charge already recorded, skipping")
		return ReconcileDuplicate, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", domain.Internal(err, "reconcile.process", "Failed to check for existing payment.")
	}

	// The tenant-scoped lookup doubles as the ownership cross-check: an
	// invoice id pointing into another tenant resolves to not found.
	if _, err := r.store.GetInvoice(ctx, ev.TenantID, ev.InvoiceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn().
				Str("tenant_id", ev.TenantID.String()).
				Str("invoice_id", ev.InvoiceID.String()).
				Msg("gateway event references unknown invoice for tenant, dropping")
			return ReconcileDropped, nil
		}
		return "", domain.Internal(err, "reconcile.process", "Failed to resolve invoice.")
	}

	paidAt := ev.OccurredAt
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}

	_, err := r.engine.ApplyPayment(ctx, domain.ApplyPaymentParams{
		InvoiceID:       ev.InvoiceID,
		AmountCents:     ev.AmountCents,
		Method:          domain.PaymentGateway,
		Reference:       ev.ID,
		GatewayChargeID: ev.ChargeID,
		PaidAt:          paidAt,
	})
	if err != nil {
		// A conflict here means another delivery of the same charge won the
		// race between our duplicate check and the insert.
		if domain.IsCode(err, domain.ECONFLICT) {
			log.Info().Msg("gateway charge recorded concurrently, skipping")
			return ReconcileDuplicate, nil
		}
		return "", err
	}

	log.Info().
		Str("tenant_id", ev.TenantID.String()).
		Str("invoice_id", ev.InvoiceID.String()).
		Int64("amount_cents", ev.AmountCents).
		Msg("gateway payment reconciled")
	return ReconcileApplied, nil
}
