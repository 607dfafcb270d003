package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpeggiohq/arpeggio/internal/domain"
	"github.com/arpeggiohq/arpeggio/internal/notify"
	"github.com/arpeggiohq/arpeggio/internal/tenant"
)

// pastDueInvoice creates a sent invoice whose due date is already behind us.
func pastDueInvoice(t *testing.T, f *fixture, svc InvoiceService, tenantID, familyID uuid.UUID) uuid.UUID {
	t.Helper()
	ctx := tenantContext(tenantID)
	detail, err := svc.CreateInvoice(ctx, domain.CreateInvoiceParams{
		FamilyID: familyID,
		DueDate:  time.Now().UTC().Add(-72 * time.Hour),
		Items: []domain.LineItemInput{
			{Description: "Lessons", Quantity: 4, UnitPriceCents: 2500},
		},
	})
	require.NoError(t, err)
	require.NoError(t, svc.SendInvoice(ctx, detail.Invoice.ID))
	return detail.Invoice.ID
}

func TestMarkInvoicesOverdue(t *testing.T) {
	f := newFixture()
	svc := f.invoiceService()
	marker := NewOverdueMarker(f.store, notify.Noop{}, testLogger())

	pastDue := pastDueInvoice(t, f, svc, f.tenantID, f.familyID)

	// A sent invoice still within its due date must not move.
	current, err := f.createDraft(svc)
	require.NoError(t, err)
	require.NoError(t, svc.SendInvoice(f.ctx, current.Invoice.ID))

	// A draft past its due date must not move either.
	draft, err := svc.CreateInvoice(f.ctx, domain.CreateInvoiceParams{
		FamilyID: f.familyID,
		DueDate:  time.Now().UTC().Add(-24 * time.Hour),
		Items: []domain.LineItemInput{
			{Description: "Theory class", Quantity: 1, UnitPriceCents: 1500},
		},
	})
	require.NoError(t, err)

	count, err := marker.MarkInvoicesOverdue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := svc.GetInvoice(f.ctx, pastDue)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceOverdue, got.Invoice.Status)

	got, err = svc.GetInvoice(f.ctx, current.Invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceSent, got.Invoice.Status)

	got, err = svc.GetInvoice(f.ctx, draft.Invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceDraft, got.Invoice.Status)
}

func TestMarkInvoicesOverdueIdempotent(t *testing.T) {
	f := newFixture()
	svc := f.invoiceService()
	marker := NewOverdueMarker(f.store, notify.Noop{}, testLogger())

	pastDueInvoice(t, f, svc, f.tenantID, f.familyID)

	count, err := marker.MarkInvoicesOverdue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Overdue invoices are not re-marked on the next run.
	count, err = marker.MarkInvoicesOverdue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMarkInvoicesOverduePartiallyPaidUntouched(t *testing.T) {
	f := newFixture()
	svc := f.invoiceService()
	engine := f.paymentEngine()
	marker := NewOverdueMarker(f.store, notify.Noop{}, testLogger())

	invoiceID := pastDueInvoice(t, f, svc, f.tenantID, f.familyID)

	_, err := engine.ApplyPayment(f.ctx, domain.ApplyPaymentParams{
		InvoiceID:   invoiceID,
		AmountCents: 2500,
		Method:      domain.PaymentCash,
	})
	require.NoError(t, err)

	count, err := marker.MarkInvoicesOverdue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	got, err := svc.GetInvoice(f.ctx, invoiceID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoicePartiallyPaid, got.Invoice.Status)
}

func TestMarkInvoicesOverdueTenantScoped(t *testing.T) {
	f := newFixture()
	svc := f.invoiceService()
	marker := NewOverdueMarker(f.store, notify.Noop{}, testLogger())

	pastDueInvoice(t, f, svc, f.tenantID, f.familyID)

	// Second tenant with its own past-due invoice.
	otherTenant := uuid.New()
	otherFamily := uuid.New()
	f.store.AddTenant(tenant.Tenant{ID: otherTenant, Slug: "hillside", Status: "active"})
	f.store.AddFamily(domain.Family{ID: otherFamily, TenantID: otherTenant, Name: "The Parks"})
	otherInvoice := pastDueInvoice(t, f, svc, otherTenant, otherFamily)

	// Sweeping the first tenant leaves the second untouched.
	count, err := marker.MarkInvoicesOverdue(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := svc.GetInvoice(tenantContext(otherTenant), otherInvoice)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceSent, got.Invoice.Status)

	count, err = marker.MarkInvoicesOverdue(tenantContext(otherTenant))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
