package gateway

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testSecret = "whsec_test_secret"

// signedHeader builds a valid Stripe-Signature header for the payload.
func signedHeader(t *testing.T, payload []byte) string {
	t.Helper()
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, testSecret)
	return fmt.Sprintf("t=%d,v1=%x", now.Unix(), sig)
}

func eventPayload(eventType, objectJSON string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_test_1",
		"object": "event",
		"api_version": "2025-03-31",
		"created": 1756300000,
		"type": %q,
		"data": {"object": %s}
	}`, eventType, objectJSON))
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	p := NewStripeProvider("sk_test", testSecret)

	payload := eventPayload("payment_intent.succeeded", `{"id": "pi_1"}`)

	_, err := p.ParseWebhook(payload, "t=12345,v1=deadbeef")
	require.Error(t, err)

	_, err = p.ParseWebhook(payload, "")
	require.Error(t, err)
}

func TestParseWebhookPaymentIntentSucceeded(t *testing.T) {
	p := NewStripeProvider("sk_test", testSecret)

	tenantID := uuid.New()
	invoiceID := uuid.New()
	payload := eventPayload("payment_intent.succeeded", fmt.Sprintf(`{
		"id": "pi_42",
		"object": "payment_intent",
		"amount": 10000,
		"currency": "usd",
		"metadata": {"tenant_id": %q, "invoice_id": %q}
	}`, tenantID, invoiceID))

	ev, err := p.ParseWebhook(payload, signedHeader(t, payload))
	require.NoError(t, err)

	assert.Equal(t, EventCompleted, ev.Kind)
	assert.Equal(t, "evt_test_1", ev.ID)
	assert.Equal(t, "pi_42", ev.ChargeID)
	assert.Equal(t, int64(10000), ev.AmountCents)
	assert.Equal(t, "usd", ev.Currency)
	assert.Equal(t, tenantID, ev.TenantID)
	assert.Equal(t, invoiceID, ev.InvoiceID)
}

func TestParseWebhookPaymentIntentFailed(t *testing.T) {
	p := NewStripeProvider("sk_test", testSecret)

	payload := eventPayload("payment_intent.payment_failed", `{
		"id": "pi_declined",
		"object": "payment_intent",
		"amount": 5000,
		"currency": "usd"
	}`)

	ev, err := p.ParseWebhook(payload, signedHeader(t, payload))
	require.NoError(t, err)

	assert.Equal(t, EventFailed, ev.Kind)
	assert.Equal(t, "pi_declined", ev.ChargeID)
	assert.Equal(t, uuid.Nil, ev.TenantID)
}

func TestParseWebhookCheckoutSessionCompleted(t *testing.T) {
	p := NewStripeProvider("sk_test", testSecret)

	tenantID := uuid.New()
	invoiceID := uuid.New()
	payload := eventPayload("checkout.session.completed", fmt.Sprintf(`{
		"id": "cs_7",
		"object": "checkout.session",
		"amount_total": 12000,
		"currency": "usd",
		"payment_intent": "pi_from_checkout",
		"metadata": {"tenant_id": %q, "invoice_id": %q}
	}`, tenantID, invoiceID))

	ev, err := p.ParseWebhook(payload, signedHeader(t, payload))
	require.NoError(t, err)

	assert.Equal(t, EventCompleted, ev.Kind)
	assert.Equal(t, "pi_from_checkout", ev.ChargeID)
	assert.Equal(t, int64(12000), ev.AmountCents)
	assert.Equal(t, tenantID, ev.TenantID)
	assert.Equal(t, invoiceID, ev.InvoiceID)
}

func TestParseWebhookUnhandledType(t *testing.T) {
	p := NewStripeProvider("sk_test", testSecret)

	payload := eventPayload("customer.created", `{"id": "cus_1"}`)

	ev, err := p.ParseWebhook(payload, signedHeader(t, payload))
	require.NoError(t, err)
	assert.Equal(t, EventOther, ev.Kind)
	assert.Equal(t, "customer.created", ev.Type)
}

func TestParseWebhookMalformedMetadataIgnored(t *testing.T) {
	p := NewStripeProvider("sk_test", testSecret)

	payload := eventPayload("payment_intent.succeeded", `{
		"id": "pi_badmeta",
		"object": "payment_intent",
		"amount": 1000,
		"currency": "usd",
		"metadata": {"tenant_id": "not-a-uuid", "invoice_id": "also-not"}
	}`)

	ev, err := p.ParseWebhook(payload, signedHeader(t, payload))
	require.NoError(t, err)
	assert.Equal(t, EventCompleted, ev.Kind)
	assert.Equal(t, uuid.Nil, ev.TenantID)
	assert.Equal(t, uuid.Nil, ev.InvoiceID)
}
