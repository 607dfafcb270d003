package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Subjects for billing events. Tenant id travels in the payload rather
// than the subject so consumers subscribe once for all schools.
const (
	SubjectInvoiceSent     = "billing.invoice.sent"
	SubjectInvoiceOverdue  = "billing.invoice.overdue"
	SubjectPaymentReceived = "billing.payment.received"
)

// NATSPublisher publishes billing events to NATS subjects.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher wraps an established NATS connection.
func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

var _ Publisher = (*NATSPublisher)(nil)

func (p *NATSPublisher) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (p *NATSPublisher) InvoiceSent(ctx context.Context, ev InvoiceEvent) error {
	return p.publish(SubjectInvoiceSent, ev)
}

func (p *NATSPublisher) InvoiceOverdue(ctx context.Context, ev InvoiceEvent) error {
	return p.publish(SubjectInvoiceOverdue, ev)
}

func (p *NATSPublisher) PaymentReceived(ctx context.Context, ev PaymentEvent) error {
	return p.publish(SubjectPaymentReceived, ev)
}
