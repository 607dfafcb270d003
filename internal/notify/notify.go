// Package notify publishes billing lifecycle events so downstream
// consumers (email workers, analytics) can react without coupling to the
// billing services.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InvoiceEvent describes an invoice lifecycle change.
type InvoiceEvent struct {
	TenantID      uuid.UUID `json:"tenant_id"`
	InvoiceID     uuid.UUID `json:"invoice_id"`
	InvoiceNumber string    `json:"invoice_number"`
	FamilyID      uuid.UUID `json:"family_id"`
	TotalCents    int64     `json:"total_cents"`
	BalanceCents  int64     `json:"balance_cents"`
	DueDate       time.Time `json:"due_date"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// PaymentEvent describes a recorded payment.
type PaymentEvent struct {
	TenantID      uuid.UUID `json:"tenant_id"`
	InvoiceID     uuid.UUID `json:"invoice_id"`
	PaymentID     uuid.UUID `json:"payment_id"`
	InvoiceNumber string    `json:"invoice_number"`
	AmountCents   int64     `json:"amount_cents"`
	Method        string    `json:"method"`
	SettledInFull bool      `json:"settled_in_full"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher emits billing events. Implementations must be safe for
// concurrent use. Publish failures are logged by callers and never block
// the billing operation that triggered them.
type Publisher interface {
	InvoiceSent(ctx context.Context, ev InvoiceEvent) error
	InvoiceOverdue(ctx context.Context, ev InvoiceEvent) error
	PaymentReceived(ctx context.Context, ev PaymentEvent) error
}

// Noop discards all events. Used in tests and when messaging is disabled.
type Noop struct{}

func (Noop) InvoiceSent(context.Context, InvoiceEvent) error     { return nil }
func (Noop) InvoiceOverdue(context.Context, InvoiceEvent) error  { return nil }
func (Noop) PaymentReceived(context.Context, PaymentEvent) error { return nil }
