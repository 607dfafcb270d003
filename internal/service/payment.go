package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arpeggiohq/arpeggio/internal/domain"
	"github.com/arpeggiohq/arpeggio/internal/notify"
	"github.com/arpeggiohq/arpeggio/internal/store"
	"github.com/arpeggiohq/arpeggio/internal/tenant"
)

// PaymentEngine is re-exported from domain.
type PaymentEngine = domain.PaymentEngine

type paymentEngine struct {
	store  store.Store
	pub    notify.Publisher
	logger zerolog.Logger
	now    func() time.Time
}

// NewPaymentEngine creates the payment application engine. All status
// movement toward partially_paid and paid flows through it.
func NewPaymentEngine(st store.Store, pub notify.Publisher, logger zerolog.Logger) PaymentEngine {
	return &paymentEngine{
		store:  st,
		pub:    pub,
		logger: logger.With().Str("component", "payment_engine").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ApplyPayment validates and applies one payment atomically. The invoice
// row is locked for the whole read-validate-write sequence, so concurrent
// payments against one invoice serialize and the overpayment check holds.
func (e *paymentEngine) ApplyPayment(ctx context.Context, params domain.ApplyPaymentParams) (*domain.Payment, error) {
	tenantID, err := tenant.RequireID(ctx)
	if err != nil {
		return nil, err
	}

	if params.AmountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	if params.Method == "" {
		params.Method = domain.PaymentOther
	}

	paidAt := params.PaidAt
	if paidAt.IsZero() {
		paidAt = e.now()
	}

	payment := domain.Payment{
		ID:              uuid.New(),
		TenantID:        tenantID,
		InvoiceID:       params.InvoiceID,
		AmountCents:     params.AmountCents,
		Method:          params.Method,
		Reference:       params.Reference,
		GatewayChargeID: params.GatewayChargeID,
		PaidAt:          paidAt,
		CreatedAt:       e.now(),
	}

	var (
		updated       domain.Invoice
		settledInFull bool
	)
	err = e.store.InTx(ctx, func(tx store.Store) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, tenantID, params.InvoiceID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvoiceNotFound
			}
			return err
		}

		if inv.Status.Terminal() {
			return ErrInvalidState
		}

		// A payment may exceed the remaining balance by at most the rounding
		// tolerance. Rejection happens before any write.
		if inv.AmountPaidCents+params.AmountCents > inv.TotalCents+domain.BalanceToleranceCents {
			return ErrOverpayment
		}

		if err := tx.CreatePayment(ctx, &payment); err != nil {
			return err
		}

		inv.AmountPaidCents += params.AmountCents
		if inv.AmountPaidCents >= inv.TotalCents-domain.BalanceToleranceCents {
			if inv.Status != domain.InvoicePaid {
				now := e.now()
				inv.PaidAt = &now
			}
			inv.Status = domain.InvoicePaid
			settledInFull = true
		} else {
			inv.Status = domain.InvoicePartiallyPaid
		}

		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		updated = *inv
		return nil
	})
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) {
			return nil, err
		}
		if errors.Is(err, store.ErrDuplicate) {
			return nil, domain.Conflict("payment.apply", "A payment with this gateway charge id already exists.")
		}
		return nil, domain.Internal(err, "payment.apply", "Failed to apply payment.")
	}

	if err := e.pub.PaymentReceived(ctx, notify.PaymentEvent{
		TenantID:      tenantID,
		InvoiceID:     updated.ID,
		PaymentID:     payment.ID,
		InvoiceNumber: updated.Number,
		AmountCents:   payment.AmountCents,
		Method:        string(payment.Method),
		SettledInFull: settledInFull,
		OccurredAt:    e.now(),
	}); err != nil {
		e.logger.Warn().Err(err).
			Str("payment_id", payment.ID.String()).
			Msg("failed to publish payment received event")
	}

	e.logger.Info().
		Str("tenant_id", tenantID.String()).
		Str("invoice_id", updated.ID.String()).
		Str("payment_id", payment.ID.String()).
		Int64("amount_cents", payment.AmountCents).
		Str("method", string(payment.Method)).
		Str("status", string(updated.Status)).
		Msg("payment applied")

	return &payment, nil
}
