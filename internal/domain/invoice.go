package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InvoiceStatus is the lifecycle state of an invoice.
type InvoiceStatus string

// Invoice lifecycle states.
//
//	draft -> sent -> {partially_paid, paid, overdue} -> {cancelled, refunded}
const (
	InvoiceDraft         InvoiceStatus = "draft"
	InvoiceSent          InvoiceStatus = "sent"
	InvoicePartiallyPaid InvoiceStatus = "partially_paid"
	InvoicePaid          InvoiceStatus = "paid"
	InvoiceOverdue       InvoiceStatus = "overdue"
	InvoiceCancelled     InvoiceStatus = "cancelled"
	InvoiceRefunded      InvoiceStatus = "refunded"
)

// Terminal reports whether the status is a terminal state. Terminal invoices
// accept no further payments or transitions.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoiceCancelled || s == InvoiceRefunded
}

// Editable reports whether invoice fields and line items may still change.
// Only drafts are editable; everything after send is immutable.
func (s InvoiceStatus) Editable() bool {
	return s == InvoiceDraft
}

// BalanceToleranceCents is the currency-unit rounding tolerance for balance
// comparisons: a payment may exceed the remaining balance by at most this
// much, and an invoice counts as paid when within this much of its total.
const BalanceToleranceCents int64 = 1

// PaymentMethod identifies how a payment was made.
type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentGateway      PaymentMethod = "gateway"
	PaymentOther        PaymentMethod = "other"
)

// Invoice is a billing document for a family, owned by exactly one tenant.
// AmountPaidCents and Status are mutated only by the payment engine and the
// invoice lifecycle operations; amountPaid never exceeds total beyond the
// rounding tolerance.
type Invoice struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	FamilyID        uuid.UUID
	TermID          *uuid.UUID
	Number          string // INV-<year>-<5-digit-sequence>, unique per tenant per year
	Status          InvoiceStatus
	SubtotalCents   int64
	TaxCents        int64
	TotalCents      int64
	AmountPaidCents int64
	DueDate         time.Time
	SentAt          *time.Time
	PaidAt          *time.Time
	Description     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BalanceCents is the amount still owed on the invoice.
func (i *Invoice) BalanceCents() int64 {
	return i.TotalCents - i.AmountPaidCents
}

// InvoiceLineItem is owned exclusively by one invoice. Line items are
// immutable once the invoice leaves draft; draft edits replace them wholesale.
type InvoiceLineItem struct {
	ID             uuid.UUID
	InvoiceID      uuid.UUID
	Description    string
	Quantity       int32
	UnitPriceCents int64
	TotalCents     int64 // quantity * unit price
	Position       int32
}

// Payment is one applied payment against an invoice. Payments form an
// append-only ledger; they are never mutated or deleted.
type Payment struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	InvoiceID       uuid.UUID
	AmountCents     int64
	Method          PaymentMethod
	Reference       string // free-form external reference (cheque number, transfer id)
	GatewayChargeID string // processor charge id; unique when present, the webhook de-duplication key
	PaidAt          time.Time
	CreatedAt       time.Time
}

// LineItemInput describes one line item when creating or editing a draft.
type LineItemInput struct {
	Description    string `json:"description" validate:"required"`
	Quantity       int32  `json:"quantity" validate:"gt=0"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"gte=0"`
}

// CreateInvoiceParams contains parameters for creating a draft invoice.
type CreateInvoiceParams struct {
	FamilyID    uuid.UUID
	TermID      *uuid.UUID
	DueDate     time.Time
	Description string
	Items       []LineItemInput
}

// UpdateDraftParams contains parameters for editing a draft invoice.
// Items, when non-nil, replace the existing line items wholesale.
type UpdateDraftParams struct {
	InvoiceID   uuid.UUID
	DueDate     *time.Time
	Description *string
	Items       []LineItemInput
}

// ApplyPaymentParams contains parameters for applying a payment to an invoice.
type ApplyPaymentParams struct {
	InvoiceID       uuid.UUID
	AmountCents     int64
	Method          PaymentMethod
	Reference       string
	GatewayChargeID string
	PaidAt          time.Time
}

// InvoiceDetail aggregates an invoice with its line items and payments.
type InvoiceDetail struct {
	Invoice  Invoice
	Items    []InvoiceLineItem
	Payments []Payment
}

// InvoiceService owns the invoice lifecycle: building drafts, the state
// machine transitions, and read access. The tenant is taken from the context
// on every call; an invoice belonging to another tenant is reported as not
// found.
type InvoiceService interface {
	// CreateInvoice creates a draft invoice with the given line items and
	// assigns the next invoice number for the tenant's current year.
	CreateInvoice(ctx context.Context, params CreateInvoiceParams) (*InvoiceDetail, error)

	// GetInvoice retrieves an invoice with line items and payments.
	GetInvoice(ctx context.Context, invoiceID uuid.UUID) (*InvoiceDetail, error)

	// GetInvoiceByNumber retrieves an invoice by its human-readable number.
	GetInvoiceByNumber(ctx context.Context, number string) (*InvoiceDetail, error)

	// ListInvoices lists the tenant's invoices, newest first.
	ListInvoices(ctx context.Context, limit, offset int32) ([]Invoice, error)

	// ListInvoicesForFamily lists invoices for one family.
	ListInvoicesForFamily(ctx context.Context, familyID uuid.UUID, limit, offset int32) ([]Invoice, error)

	// UpdateDraft edits a draft invoice. Fails with an invalid-state error
	// for any non-draft status.
	UpdateDraft(ctx context.Context, params UpdateDraftParams) (*InvoiceDetail, error)

	// SendInvoice transitions draft -> sent, stamps sentAt, and emits a
	// best-effort notification event.
	SendInvoice(ctx context.Context, invoiceID uuid.UUID) error

	// CancelInvoice cancels an invoice with zero recorded payments.
	// Invoices with payment history must be refunded first.
	CancelInvoice(ctx context.Context, invoiceID uuid.UUID) error

	// MarkRefunded marks a paid-family invoice as refunded. Refund execution
	// happens out of band; this records the terminal state.
	MarkRefunded(ctx context.Context, invoiceID uuid.UUID) error

	// DeleteInvoice hard-deletes a draft invoice with zero payments.
	DeleteInvoice(ctx context.Context, invoiceID uuid.UUID) error
}

// PaymentEngine applies payments to invoices. It is the only code path that
// mutates amountPaid or moves status toward the paid states. The
// read-validate-write sequence executes as one atomic unit per invoice.
type PaymentEngine interface {
	// ApplyPayment validates and applies one payment: inserts the payment
	// row, adds to amountPaid, and re-derives status (paid when within the
	// balance tolerance of total, else partially paid). paidAt is stamped
	// only on the transition to paid.
	ApplyPayment(ctx context.Context, params ApplyPaymentParams) (*Payment, error)
}
