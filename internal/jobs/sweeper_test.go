package jobs

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpeggiohq/arpeggio/internal/domain"
	"github.com/arpeggiohq/arpeggio/internal/notify"
	"github.com/arpeggiohq/arpeggio/internal/service"
	"github.com/arpeggiohq/arpeggio/internal/store"
	"github.com/arpeggiohq/arpeggio/internal/tenant"
)

// seedTenant creates an active tenant with one sent, past-due invoice.
func seedTenant(t *testing.T, st *store.Memory, slug string) (uuid.UUID, uuid.UUID) {
	t.Helper()

	tenantID := uuid.New()
	familyID := uuid.New()
	st.AddTenant(tenant.Tenant{ID: tenantID, Slug: slug, Status: "active"})
	st.AddFamily(domain.Family{ID: familyID, TenantID: tenantID, Name: "Family " + slug})

	ctx := tenant.NewContext(t.Context(), &tenant.Tenant{ID: tenantID, Status: "active"})
	invoices := service.NewInvoiceService(st, notify.Noop{}, zerolog.Nop())
	detail, err := invoices.CreateInvoice(ctx, domain.CreateInvoiceParams{
		FamilyID: familyID,
		DueDate:  time.Now().UTC().Add(-48 * time.Hour),
		Items: []domain.LineItemInput{
			{Description: "Lessons", Quantity: 4, UnitPriceCents: 2500},
		},
	})
	require.NoError(t, err)
	require.NoError(t, invoices.SendInvoice(ctx, detail.Invoice.ID))
	return tenantID, detail.Invoice.ID
}

func TestRunOnceSweepsAllActiveTenants(t *testing.T) {
	st := store.NewMemory()
	marker := service.NewOverdueMarker(st, notify.Noop{}, zerolog.Nop())
	sweeper := NewSweeper(st, marker, nil, zerolog.Nop())

	tenantA, invoiceA := seedTenant(t, st, "riverside")
	tenantB, invoiceB := seedTenant(t, st, "hillside")

	// Suspended tenants are skipped entirely.
	suspended := uuid.New()
	st.AddTenant(tenant.Tenant{ID: suspended, Slug: "dormant", Status: "suspended"})

	require.NoError(t, sweeper.RunOnce(t.Context()))

	invA, err := st.GetInvoice(t.Context(), tenantA, invoiceA)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceOverdue, invA.Status)

	invB, err := st.GetInvoice(t.Context(), tenantB, invoiceB)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceOverdue, invB.Status)
}

func TestRunOnceIdempotent(t *testing.T) {
	st := store.NewMemory()
	marker := service.NewOverdueMarker(st, notify.Noop{}, zerolog.Nop())
	sweeper := NewSweeper(st, marker, nil, zerolog.Nop())

	tenantID, invoiceID := seedTenant(t, st, "riverside")

	require.NoError(t, sweeper.RunOnce(t.Context()))
	require.NoError(t, sweeper.RunOnce(t.Context()))

	inv, err := st.GetInvoice(t.Context(), tenantID, invoiceID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceOverdue, inv.Status)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	st := store.NewMemory()
	marker := service.NewOverdueMarker(st, notify.Noop{}, zerolog.Nop())
	sweeper := NewSweeper(st, marker, nil, zerolog.Nop())

	err := sweeper.Start("not a cron spec")
	require.Error(t, err)
}
