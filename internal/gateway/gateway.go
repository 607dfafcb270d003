// Package gateway abstracts the payment gateway so the reconciliation
// engine can be tested without Stripe and another provider can be swapped
// in behind the same interface.
package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventKind classifies a gateway webhook event for the reconciler.
type EventKind string

const (
	// EventCompleted is a settled charge that should be applied to an invoice.
	EventCompleted EventKind = "completed"
	// EventFailed is a declined or abandoned charge. Recorded for metrics only.
	EventFailed EventKind = "failed"
	// EventOther covers event types the reconciler does not act on.
	EventOther EventKind = "other"
)

// Event is the provider-neutral form of a webhook notification.
// TenantID and InvoiceID come from the metadata stamped onto the charge at
// checkout time; either may be uuid.Nil when the metadata is absent.
type Event struct {
	Kind        EventKind
	ID          string
	Type        string
	ChargeID    string
	AmountCents int64
	Currency    string
	TenantID    uuid.UUID
	InvoiceID   uuid.UUID
	OccurredAt  time.Time
}

// CheckoutParams describes a hosted checkout session for an invoice.
type CheckoutParams struct {
	TenantID    uuid.UUID
	InvoiceID   uuid.UUID
	Number      string
	Description string
	AmountCents int64
	Currency    string
	SuccessURL  string
	CancelURL   string
}

// CheckoutSession is the created hosted payment page.
type CheckoutSession struct {
	ID  string
	URL string
}

// Provider is the payment gateway integration surface.
type Provider interface {
	// ParseWebhook verifies the payload signature and converts the event
	// into the neutral form. A signature failure returns an error; an
	// unrecognized but validly signed event returns Kind EventOther.
	ParseWebhook(payload []byte, signature string) (*Event, error)

	// CreateCheckoutSession creates a hosted payment page for an invoice
	// balance, stamping tenant and invoice ids into the charge metadata.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
}
