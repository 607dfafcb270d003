package gateway

import "context"

// MockProvider is a configurable Provider for tests.
type MockProvider struct {
	ParseWebhookFunc          func(payload []byte, signature string) (*Event, error)
	CreateCheckoutSessionFunc func(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
}

var _ Provider = (*MockProvider)(nil)

func (m *MockProvider) ParseWebhook(payload []byte, signature string) (*Event, error) {
	if m.ParseWebhookFunc != nil {
		return m.ParseWebhookFunc(payload, signature)
	}
	return &Event{Kind: EventOther}, nil
}

func (m *MockProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	if m.CreateCheckoutSessionFunc != nil {
		return m.CreateCheckoutSessionFunc(ctx, params)
	}
	return &CheckoutSession{ID: "cs_mock", URL: "https://checkout.example/cs_mock"}, nil
}
