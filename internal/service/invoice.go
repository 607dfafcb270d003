package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arpeggiohq/arpeggio/internal/domain"
	"github.com/arpeggiohq/arpeggio/internal/notify"
	"github.com/arpeggiohq/arpeggio/internal/store"
	"github.com/arpeggiohq/arpeggio/internal/tenant"
)

// InvoiceService is re-exported from domain so callers can depend on the
// service package alone.
type InvoiceService = domain.InvoiceService

type invoiceService struct {
	store    store.Store
	pub      notify.Publisher
	validate *validator.Validate
	logger   zerolog.Logger
	now      func() time.Time
}

// NewInvoiceService creates an InvoiceService backed by the given store.
// The publisher receives best-effort lifecycle events; pass notify.Noop{}
// to disable them.
func NewInvoiceService(st store.Store, pub notify.Publisher, logger zerolog.Logger) InvoiceService {
	return &invoiceService{
		store:    st,
		pub:      pub,
		validate: validator.New(),
		logger:   logger.With().Str("component", "invoice_service").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// buildLineItems validates inputs and computes per-line and subtotal cents.
func buildLineItems(validate *validator.Validate, invoiceID uuid.UUID, inputs []domain.LineItemInput) ([]domain.InvoiceLineItem, int64, error) {
	if len(inputs) == 0 {
		return nil, 0, ErrNoLineItems
	}

	items := make([]domain.InvoiceLineItem, len(inputs))
	var subtotal int64
	for i, in := range inputs {
		if err := validate.Struct(in); err != nil {
			return nil, 0, domain.Errorf(domain.EINVALID, "invoice.build_items", "Invalid line item %d: %v", i+1, err)
		}
		total := int64(in.Quantity) * in.UnitPriceCents
		items[i] = domain.InvoiceLineItem{
			ID:             uuid.New(),
			InvoiceID:      invoiceID,
			Description:    in.Description,
			Quantity:       in.Quantity,
			UnitPriceCents: in.UnitPriceCents,
			TotalCents:     total,
			Position:       int32(i),
		}
		subtotal += total
	}
	return items, subtotal, nil
}

// formatInvoiceNumber renders the per-tenant per-year sequence.
func formatInvoiceNumber(year, seq int) string {
	return fmt.Sprintf("INV-%04d-%05d", year, seq)
}

// CreateInvoice creates a draft invoice with the given line items.
func (s *invoiceService) CreateInvoice(ctx context.Context, params domain.CreateInvoiceParams) (*domain.InvoiceDetail, error) {
	tenantID, err := tenant.RequireID(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.GetFamily(ctx, tenantID, params.FamilyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrFamilyNotFound
		}
		return nil, domain.Internal(err, "invoice.create", "Failed to create invoice.")
	}

	if params.TermID != nil {
		if _, err := s.store.GetTerm(ctx, tenantID, *params.TermID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrTermNotFound
			}
			return nil, domain.Internal(err, "invoice.create", "Failed to create invoice.")
		}
	}

	now := s.now()
	inv := domain.Invoice{
		ID:          uuid.New(),
		TenantID:    tenantID,
		FamilyID:    params.FamilyID,
		TermID:      params.TermID,
		Status:      domain.InvoiceDraft,
		DueDate:     params.DueDate,
		Description: params.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	items, subtotal, err := buildLineItems(s.validate, inv.ID, params.Items)
	if err != nil {
		return nil, err
	}
	inv.SubtotalCents = subtotal
	inv.TotalCents = subtotal + inv.TaxCents

	// Numbering and the uniqueness checks run inside one transaction so two
	// concurrent creates cannot claim the same sequence.
	err = s.store.InTx(ctx, func(tx store.Store) error {
		if params.TermID != nil {
			if _, err := tx.GetInvoiceForFamilyTerm(ctx, tenantID, params.FamilyID, *params.TermID); err == nil {
				return ErrDuplicateTermInvoice
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		seq, err := tx.NextInvoiceSequence(ctx, tenantID, now.Year())
		if err != nil {
			return err
		}
		inv.Number = formatInvoiceNumber(now.Year(), seq)

		if err := tx.CreateInvoice(ctx, &inv, items); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrDuplicateTermInvoice
			}
			return err
		}
		return nil
	})
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) {
			return nil, err
		}
		return nil, domain.Internal(err, "invoice.create", "Failed to create invoice.")
	}

	s.logger.Info().
		Str("tenant_id", tenantID.String()).
		Str("invoice_id", inv.ID.String()).
		Str("invoice_number", inv.Number).
		Int64("total_cents", inv.TotalCents).
		Msg("invoice created")

	return &domain.InvoiceDetail{Invoice: inv, Items: items}, nil
}

// GetInvoice retrieves an invoice with line items and payments.
func (s *invoiceService) GetInvoice(ctx context.Context, invoiceID uuid.UUID) (*domain.InvoiceDetail, error) {
	tenantID, err := tenant.RequireID(ctx)
	if err != nil {
		return nil, err
	}
	return s.getDetail(ctx, s.store, tenantID, invoiceID)
}

func (s *invoiceService) getDetail(ctx context.Context, st store.Store, tenantID, invoiceID uuid.UUID) (*domain.InvoiceDetail, error) {
	inv, err := st.GetInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, domain.Internal(err, "invoice.get", "Failed to load invoice.")
	}

	items, err := st.ListLineItems(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, domain.Internal(err, "invoice.get", "Failed to load invoice.")
	}

	payments, err := st.ListPayments(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, domain.Internal(err, "invoice.get", "Failed to load invoice.")
	}

	return &domain.InvoiceDetail{Invoice: *inv, Items: items, Payments: payments}, nil
}

// GetInvoiceByNumber retrieves an invoice by its human-readable number.
func (s *invoiceService) GetInvoiceByNumber(ctx context.Context, number string) (*domain.InvoiceDetail, error) {
	tenantID, err := tenant.RequireID(ctx)
	if err != nil {
		return nil, err
	}

	inv, err := s.store.GetInvoiceByNumber(ctx, tenantID, number)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, domain.Internal(err, "invoice.get_by_number", "Failed to load invoice.")
	}

	return s.getDetail(ctx, s.store, tenantID, inv.ID)
}

// ListInvoices lists the tenant's invoices, newest first.
func (s *invoiceService) ListInvoices(ctx context.Context, limit, offset int32) ([]domain.Invoice, error) {
	tenantID, err := tenant.RequireID(ctx)
	if err != nil {
		return nil, err
	}

	invoices, err := s.store.ListInvoices(ctx, tenantID, normalizeLimit(limit), offset)
	if err != nil {
		return nil, domain.Internal(err, "invoice.list", "Failed to list invoices.")
	}
	return invoices, nil
}

// ListInvoicesForFamily lists invoices for one family.
func (s *invoiceService) ListInvoicesForFamily(ctx context.Context, familyID uuid.UUID, limit, offset int32) ([]domain.Invoice, error) {
	tenantID, err := tenant.RequireID(ctx)
	if err != nil {
		return nil, err
	}

	invoices, err := s.store.ListInvoicesForFamily(ctx, tenantID, familyID, normalizeLimit(limit), offset)
	if err != nil {
		return nil, domain.Internal(err, "invoice.list_for_family", "Failed to list invoices.")
	}
	return invoices, nil
}

func normalizeLimit(limit int32) int32 {
	if limit <= 0 || limit > 100 {
		return 50
	}
	return limit
}

// UpdateDraft edits a draft invoice. Line items, when provided, replace the
// existing ones wholesale and totals are recomputed.
func (s *invoiceService) UpdateDraft(ctx context.Context, params domain.UpdateDraftParams) (*domain.InvoiceDetail, error) {
	tenantID, err := tenant.RequireID(ctx)
	if err != nil {
		return nil, err
	}

	var detail *domain.InvoiceDetail
	err = s.store.InTx(ctx, func(tx store.Store) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, tenantID, params.InvoiceID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvoiceNotFound
			}
			return err
		}

		if !inv.Status.Editable() {
			return ErrInvalidState
		}

		if params.DueDate != nil {
			inv.DueDate = *params.DueDate
		}
		if params.Description != nil {
			inv.Description = *params.Description
		}

		if params.Items != nil {
			items, subtotal, err := buildLineItems(s.validate, inv.ID, params.Items)
			if err != nil {
				return err
			}
			if err := tx.ReplaceLineItems(ctx, tenantID, inv.ID, items); err != nil {
				return err
			}
			inv.SubtotalCents = subtotal
			inv.TotalCents = subtotal + inv.TaxCents
		}

		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}

		detail, err = s.getDetail(ctx, tx, tenantID, inv.ID)
		return err
	})
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) {
			return nil, err
		}
		return nil, domain.Internal(err, "invoice.update_draft", "Failed to update invoice.")
	}
	return detail, nil
}

// SendInvoice transitions draft -> sent and stamps sentAt.
func (s *invoiceService) SendInvoice(ctx context.Context, invoiceID uuid.UUID) error {
	tenantID, err := tenant.RequireID(ctx)
	if err != nil {
		return err
	}

	var sent domain.Invoice
	err = s.store.InTx(ctx, func(tx store.Store) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, tenantID, invoiceID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvoiceNotFound
			}
			return err
		}

		if inv.Status != domain.InvoiceDraft {
			return ErrInvalidState
		}

		now := s.now()
		inv.Status = domain.InvoiceSent
		inv.SentAt = &now
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		sent = *inv
		return nil
	})
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) {
			return err
		}
		return domain.Internal(err, "invoice.send", "Failed to send invoice.")
	}

	// Notification is best effort; a publish failure never rolls back the send.
	if err := s.pub.InvoiceSent(ctx, notify.InvoiceEvent{
		TenantID:      tenantID,
		InvoiceID:     sent.ID,
		InvoiceNumber: sent.Number,
		FamilyID:      sent.FamilyID,
		TotalCents:    sent.TotalCents,
		BalanceCents:  sent.BalanceCents(),
		DueDate:       sent.DueDate,
		OccurredAt:    s.now(),
	}); err != nil {
		s.logger.Warn().Err(err).
			Str("invoice_id", sent.ID.String()).
			Msg("failed to publish invoice sent event")
	}

	s.logger.Info().
		Str("tenant_id", tenantID.String()).
		Str("invoice_id", sent.ID.String()).
		Str("invoice_number", sent.Number).
		Msg("invoice sent")
	return nil
}

// CancelInvoice cancels an invoice that has no recorded payments.
func (s *invoiceService) CancelInvoice(ctx context.Context, invoiceID uuid.UUID) error {
	tenantID, err := tenant.RequireID(ctx)
	if err != nil {
		return err
	}

	err = s.store.InTx(ctx, func(tx store.Store) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, tenantID, invoiceID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvoiceNotFound
			}
			return err
		}

		if inv.Status.Terminal() {
			return ErrInvalidState
		}

		count, err := tx.CountPayments(ctx, tenantID, invoiceID)
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrHasPayments
		}

		inv.Status = domain.InvoiceCancelled
		return tx.UpdateInvoice(ctx, inv)
	})
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) {
			return err
		}
		return domain.Internal(err, "invoice.cancel", "Failed to cancel invoice.")
	}

	s.logger.Info().
		Str("tenant_id", tenantID.String()).
		Str("invoice_id", invoiceID.String()).
		Msg("invoice cancelled")
	return nil
}

// MarkRefunded records the refunded terminal state for an invoice with
// payment history. Refund execution happens at the gateway; this only
// records the outcome so the invoice can no longer accept payments.
func (s *invoiceService) MarkRefunded(ctx context.Context, invoiceID uuid.UUID) error {
	tenantID, err := tenant.RequireID(ctx)
	if err != nil {
		return err
	}

	err = s.store.InTx(ctx, func(tx store.Store) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, tenantID, invoiceID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvoiceNotFound
			}
			return err
		}

		if inv.Status.Terminal() || inv.Status == domain.InvoiceDraft {
			return ErrInvalidState
		}

		count, err := tx.CountPayments(ctx, tenantID, invoiceID)
		if err != nil {
			return err
		}
		if count == 0 {
			return ErrInvalidState
		}

		inv.Status = domain.InvoiceRefunded
		return tx.UpdateInvoice(ctx, inv)
	})
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) {
			return err
		}
		return domain.Internal(err, "invoice.mark_refunded", "Failed to mark invoice refunded.")
	}

	s.logger.Info().
		Str("tenant_id", tenantID.String()).
		Str("invoice_id", invoiceID.String()).
		Msg("invoice refunded")
	return nil
}

// DeleteInvoice hard-deletes a draft invoice with zero payments.
func (s *invoiceService) DeleteInvoice(ctx context.Context, invoiceID uuid.UUID) error {
	tenantID, err := tenant.RequireID(ctx)
	if err != nil {
		return err
	}

	err = s.store.InTx(ctx, func(tx store.Store) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, tenantID, invoiceID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvoiceNotFound
			}
			return err
		}

		if inv.Status != domain.InvoiceDraft {
			return ErrInvalidState
		}

		count, err := tx.CountPayments(ctx, tenantID, invoiceID)
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrHasPayments
		}

		return tx.DeleteInvoice(ctx, tenantID, invoiceID)
	})
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) {
			return err
		}
		return domain.Internal(err, "invoice.delete", "Failed to delete invoice.")
	}
	return nil
}
