package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/arpeggiohq/arpeggio/internal/domain"
	"github.com/arpeggiohq/arpeggio/internal/notify"
	"github.com/arpeggiohq/arpeggio/internal/store"
	"github.com/arpeggiohq/arpeggio/internal/tenant"
)

// OverdueMarker flips sent invoices past their due date to overdue.
type OverdueMarker struct {
	store  store.Store
	pub    notify.Publisher
	logger zerolog.Logger
	now    func() time.Time
}

// NewOverdueMarker creates the overdue transition service.
func NewOverdueMarker(st store.Store, pub notify.Publisher, logger zerolog.Logger) *OverdueMarker {
	return &OverdueMarker{
		store:  st,
		pub:    pub,
		logger: logger.With().Str("component", "overdue_marker").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// MarkInvoicesOverdue transitions the context tenant's sent invoices whose
// due date has passed. Only sent invoices move; partially paid invoices
// keep their status, and each invoice is re-checked under lock so a payment
// landing mid-sweep wins.
func (m *OverdueMarker) MarkInvoicesOverdue(ctx context.Context) (int, error) {
	tenantID, err := tenant.RequireID(ctx)
	if err != nil {
		return 0, err
	}

	candidates, err := m.store.ListSentInvoicesPastDue(ctx, tenantID, m.now())
	if err != nil {
		return 0, domain.Internal(err, "overdue.mark", "Failed to list past-due invoices.")
	}

	count := 0
	for _, candidate := range candidates {
		var marked *domain.Invoice
		err := m.store.InTx(ctx, func(tx store.Store) error {
			inv, err := tx.GetInvoiceForUpdate(ctx, tenantID, candidate.ID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil
				}
				return err
			}
			if inv.Status != domain.InvoiceSent {
				return nil
			}
			inv.Status = domain.InvoiceOverdue
			if err := tx.UpdateInvoice(ctx, inv); err != nil {
				return err
			}
			marked = inv
			return nil
		})
		if err != nil {
			m.logger.Error().Err(err).
				Str("tenant_id", tenantID.String()).
				Str("invoice_id", candidate.ID.String()).
				Msg("failed to mark invoice overdue")
			continue
		}
		if marked == nil {
			continue
		}
		count++

		if err := m.pub.InvoiceOverdue(ctx, notify.InvoiceEvent{
			TenantID:      tenantID,
			InvoiceID:     marked.ID,
			InvoiceNumber: marked.Number,
			FamilyID:      marked.FamilyID,
			TotalCents:    marked.TotalCents,
			BalanceCents:  marked.BalanceCents(),
			DueDate:       marked.DueDate,
			OccurredAt:    m.now(),
		}); err != nil {
			m.logger.Warn().Err(err).
				Str("invoice_id", marked.ID.String()).
				Msg("failed to publish invoice overdue event")
		}
	}

	if count > 0 {
		m.logger.Info().
			Str("tenant_id", tenantID.String()).
			Int("marked", count).
			Msg("invoices marked overdue")
	}
	return count, nil
}
