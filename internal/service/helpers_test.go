package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arpeggiohq/arpeggio/internal/domain"
	"github.com/arpeggiohq/arpeggio/internal/notify"
	"github.com/arpeggiohq/arpeggio/internal/store"
	"github.com/arpeggiohq/arpeggio/internal/tenant"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func tenantContext(id uuid.UUID) context.Context {
	return tenant.NewContext(context.Background(), &tenant.Tenant{ID: id, Slug: "test", Status: "active"})
}

// fixture is a seeded in-memory world for one tenant.
type fixture struct {
	store    *store.Memory
	tenantID uuid.UUID
	familyID uuid.UUID
	termID   uuid.UUID
	ctx      context.Context
}

func newFixture() *fixture {
	f := &fixture{
		store:    store.NewMemory(),
		tenantID: uuid.New(),
		familyID: uuid.New(),
		termID:   uuid.New(),
	}
	f.ctx = tenantContext(f.tenantID)

	f.store.AddTenant(tenant.Tenant{ID: f.tenantID, Slug: "riverside", Name: "Riverside Music School", Status: "active"})
	f.store.AddFamily(domain.Family{ID: f.familyID, TenantID: f.tenantID, Name: "The Andersons", Email: "andersons@example.com"})
	f.store.AddTerm(domain.Term{
		ID:       f.termID,
		TenantID: f.tenantID,
		Name:     "Autumn 2026",
		Weeks:    10,
		StartsAt: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2026, 11, 10, 0, 0, 0, 0, time.UTC),
	})
	return f
}

func (f *fixture) invoiceService() InvoiceService {
	return NewInvoiceService(f.store, notify.Noop{}, testLogger())
}

func (f *fixture) paymentEngine() PaymentEngine {
	return NewPaymentEngine(f.store, notify.Noop{}, testLogger())
}

func tenantlessContext() context.Context {
	return context.Background()
}

// createDraft makes a one-line 100.00 draft invoice due 2026-10-01.
func (f *fixture) createDraft(svc InvoiceService) (*domain.InvoiceDetail, error) {
	return f.createDraftWithCtx(svc, f.ctx)
}

func (f *fixture) createDraftWithCtx(svc InvoiceService, ctx context.Context) (*domain.InvoiceDetail, error) {
	return svc.CreateInvoice(ctx, domain.CreateInvoiceParams{
		FamilyID:    f.familyID,
		DueDate:     time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		Description: "Piano tuition",
		Items: []domain.LineItemInput{
			{Description: "Piano lessons", Quantity: 4, UnitPriceCents: 2500},
		},
	})
}
