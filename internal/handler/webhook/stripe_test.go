package webhook

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpeggiohq/arpeggio/internal/domain"
	"github.com/arpeggiohq/arpeggio/internal/gateway"
	"github.com/arpeggiohq/arpeggio/internal/notify"
	"github.com/arpeggiohq/arpeggio/internal/service"
	"github.com/arpeggiohq/arpeggio/internal/store"
	"github.com/arpeggiohq/arpeggio/internal/tenant"
)

type world struct {
	store    *store.Memory
	tenantID uuid.UUID
	invoice  uuid.UUID
}

// newWorld seeds one tenant with one sent 100.00 invoice.
func newWorld(t *testing.T) (*world, *service.Reconciler) {
	t.Helper()

	st := store.NewMemory()
	w := &world{store: st, tenantID: uuid.New()}
	familyID := uuid.New()
	st.AddTenant(tenant.Tenant{ID: w.tenantID, Slug: "riverside", Status: "active"})
	st.AddFamily(domain.Family{ID: familyID, TenantID: w.tenantID, Name: "The Andersons"})

	ctx := tenant.NewContext(t.Context(), &tenant.Tenant{ID: w.tenantID, Status: "active"})
	invoices := service.NewInvoiceService(st, notify.Noop{}, zerolog.Nop())
	detail, err := invoices.CreateInvoice(ctx, domain.CreateInvoiceParams{
		FamilyID: familyID,
		DueDate:  time.Now().UTC().Add(14 * 24 * time.Hour),
		Items: []domain.LineItemInput{
			{Description: "Piano lessons", Quantity: 4, UnitPriceCents: 2500},
		},
	})
	require.NoError(t, err)
	require.NoError(t, invoices.SendInvoice(ctx, detail.Invoice.ID))
	w.invoice = detail.Invoice.ID

	engine := service.NewPaymentEngine(st, notify.Noop{}, zerolog.Nop())
	return w, service.NewReconciler(st, engine, zerolog.Nop())
}

func post(t *testing.T, h *StripeHandler, signature string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.HandleWebhook(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestHandleWebhookMissingSignature(t *testing.T) {
	_, reconciler := newWorld(t)
	h := NewStripeHandler(&gateway.MockProvider{}, reconciler, nil, zerolog.Nop())

	rec := post(t, h, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWebhookBadSignature(t *testing.T) {
	_, reconciler := newWorld(t)
	provider := &gateway.MockProvider{
		ParseWebhookFunc: func(payload []byte, signature string) (*gateway.Event, error) {
			return nil, errors.New("signature mismatch")
		},
	}
	h := NewStripeHandler(provider, reconciler, nil, zerolog.Nop())

	rec := post(t, h, "t=1,v1=bad")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleWebhookAppliesPayment(t *testing.T) {
	w, reconciler := newWorld(t)
	provider := &gateway.MockProvider{
		ParseWebhookFunc: func(payload []byte, signature string) (*gateway.Event, error) {
			return &gateway.Event{
				Kind:        gateway.EventCompleted,
				ID:          "evt_1",
				Type:        "payment_intent.succeeded",
				ChargeID:    "pi_1",
				AmountCents: 10000,
				Currency:    "usd",
				TenantID:    w.tenantID,
				InvoiceID:   w.invoice,
				OccurredAt:  time.Now().UTC(),
			}, nil
		},
	}
	h := NewStripeHandler(provider, reconciler, nil, zerolog.Nop())

	rec := post(t, h, "t=1,v1=ok")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "applied")

	inv, err := w.store.GetInvoice(t.Context(), w.tenantID, w.invoice)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoicePaid, inv.Status)
}

func TestHandleWebhookDroppedEventStill200(t *testing.T) {
	_, reconciler := newWorld(t)
	provider := &gateway.MockProvider{
		ParseWebhookFunc: func(payload []byte, signature string) (*gateway.Event, error) {
			return &gateway.Event{
				Kind: gateway.EventCompleted,
				ID:   "evt_no_meta",
				Type: "payment_intent.succeeded",
			}, nil
		},
	}
	h := NewStripeHandler(provider, reconciler, nil, zerolog.Nop())

	rec := post(t, h, "t=1,v1=ok")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dropped")
}

func TestHandleWebhookReplayStill200(t *testing.T) {
	w, reconciler := newWorld(t)
	ev := &gateway.Event{
		Kind:        gateway.EventCompleted,
		ID:          "evt_replay",
		Type:        "payment_intent.succeeded",
		ChargeID:    "pi_replay",
		AmountCents: 10000,
		TenantID:    w.tenantID,
		InvoiceID:   w.invoice,
		OccurredAt:  time.Now().UTC(),
	}
	provider := &gateway.MockProvider{
		ParseWebhookFunc: func(payload []byte, signature string) (*gateway.Event, error) {
			return ev, nil
		},
	}
	h := NewStripeHandler(provider, reconciler, nil, zerolog.Nop())

	rec := post(t, h, "t=1,v1=ok")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = post(t, h, "t=1,v1=ok")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "duplicate")

	payments, err := w.store.ListPayments(t.Context(), w.tenantID, w.invoice)
	require.NoError(t, err)
	require.Len(t, payments, 1)
}
