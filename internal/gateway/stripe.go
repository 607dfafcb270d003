package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeProvider implements Provider using the Stripe SDK.
type StripeProvider struct {
	webhookSecret string
}

// NewStripeProvider configures the global Stripe client and returns the
// provider. apiKey is the secret key, webhookSecret the endpoint signing
// secret from the Stripe dashboard.
func NewStripeProvider(apiKey, webhookSecret string) *StripeProvider {
	stripe.Key = apiKey
	return &StripeProvider{webhookSecret: webhookSecret}
}

var _ Provider = (*StripeProvider)(nil)

// ParseWebhook verifies the Stripe-Signature header and maps the event.
// checkout.session.completed and payment_intent.succeeded both mark a
// settled charge; the reconciler deduplicates by payment intent id, so
// receiving both for one checkout is harmless.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("verify webhook signature: %w", err)
	}

	out := &Event{
		Kind:       EventOther,
		ID:         ev.ID,
		Type:       string(ev.Type),
		OccurredAt: time.Unix(ev.Created, 0).UTC(),
	}

	switch string(ev.Type) {
	case "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("parse checkout session: %w", err)
		}
		out.Kind = EventCompleted
		out.AmountCents = cs.AmountTotal
		out.Currency = string(cs.Currency)
		if cs.PaymentIntent != nil {
			out.ChargeID = cs.PaymentIntent.ID
		}
		fillMetadata(out, cs.Metadata)

	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("parse payment intent: %w", err)
		}
		out.Kind = EventCompleted
		out.ChargeID = pi.ID
		out.AmountCents = pi.Amount
		out.Currency = string(pi.Currency)
		fillMetadata(out, pi.Metadata)

	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("parse payment intent: %w", err)
		}
		out.Kind = EventFailed
		out.ChargeID = pi.ID
		out.AmountCents = pi.Amount
		out.Currency = string(pi.Currency)
		fillMetadata(out, pi.Metadata)
	}

	return out, nil
}

func fillMetadata(ev *Event, metadata map[string]string) {
	if metadata == nil {
		return
	}
	if id, err := uuid.Parse(metadata["tenant_id"]); err == nil {
		ev.TenantID = id
	}
	if id, err := uuid.Parse(metadata["invoice_id"]); err == nil {
		ev.InvoiceID = id
	}
}

// CreateCheckoutSession creates a hosted Stripe Checkout page for the
// invoice balance. Metadata is stamped on both the session and the payment
// intent so every resulting webhook carries the tenant and invoice ids.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	metadata := map[string]string{
		"tenant_id":  params.TenantID.String(),
		"invoice_id": params.InvoiceID.String(),
	}

	currency := params.Currency
	if currency == "" {
		currency = "usd"
	}

	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(fmt.Sprintf("Invoice %s", params.Number)),
	}
	// Stripe rejects an empty description parameter.
	if params.Description != "" {
		product.Description = stripe.String(params.Description)
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:    stripe.String(currency),
					UnitAmount:  stripe.Int64(params.AmountCents),
					ProductData: product,
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	sessionParams.Context = ctx

	s, err := session.New(sessionParams)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}
