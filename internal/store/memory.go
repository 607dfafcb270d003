package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arpeggiohq/arpeggio/internal/domain"
	"github.com/arpeggiohq/arpeggio/internal/tenant"
)

// Memory is an in-memory Store used by tests and local development.
// Transactions are serialized under one mutex, which gives the same
// effective guarantee as row locking: two payment applications against the
// same invoice can never interleave their read-validate-write sequences.
type Memory struct {
	mu   sync.Mutex
	data memData
}

type memData struct {
	tenants     map[uuid.UUID]tenant.Tenant
	families    map[uuid.UUID]domain.Family
	terms       map[uuid.UUID]domain.Term
	enrollments []domain.Enrollment
	patterns    []domain.HybridPattern
	invoices    map[uuid.UUID]domain.Invoice
	lineItems   map[uuid.UUID][]domain.InvoiceLineItem // keyed by invoice id
	payments    []domain.Payment
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: memData{
		tenants:   make(map[uuid.UUID]tenant.Tenant),
		families:  make(map[uuid.UUID]domain.Family),
		terms:     make(map[uuid.UUID]domain.Term),
		invoices:  make(map[uuid.UUID]domain.Invoice),
		lineItems: make(map[uuid.UUID][]domain.InvoiceLineItem),
	}}
}

// InTx serializes fn under the store mutex. Nested InTx calls join the
// outer "transaction". There is no rollback: tests that exercise failure
// paths rely on the services writing nothing before validation succeeds.
func (m *Memory) InTx(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memTx{d: &m.data})
}

// Seed helpers for tests and local fixtures.

func (m *Memory) AddTenant(t tenant.Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.tenants[t.ID] = t
}

func (m *Memory) AddFamily(f domain.Family) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.families[f.ID] = f
}

func (m *Memory) AddTerm(t domain.Term) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.terms[t.ID] = t
}

func (m *Memory) AddEnrollment(e domain.Enrollment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.enrollments = append(m.data.enrollments, e)
}

func (m *Memory) AddHybridPattern(p domain.HybridPattern) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.patterns = append(m.data.patterns, p)
}

// memTx operates on the shared data without locking; it only exists inside
// a held mutex (InTx) or behind the locked wrappers below.
type memTx struct {
	d *memData
}

func (t *memTx) InTx(ctx context.Context, fn func(Store) error) error {
	return fn(t)
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*memTx)(nil)
)

// ---------------------------------------------------------------------------
// Tenants
// ---------------------------------------------------------------------------

func (t *memTx) ListActiveTenants(ctx context.Context) ([]tenant.Tenant, error) {
	var out []tenant.Tenant
	for _, tn := range t.d.tenants {
		if tn.Status == "active" {
			out = append(out, tn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (t *memTx) GetTenant(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	tn, ok := t.d.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tn, nil
}

func (t *memTx) GetTenantBySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	for _, tn := range t.d.tenants {
		if tn.Slug == slug {
			return &tn, nil
		}
	}
	return nil, ErrNotFound
}

// ---------------------------------------------------------------------------
// Roster
// ---------------------------------------------------------------------------

func (t *memTx) GetFamily(ctx context.Context, tenantID, familyID uuid.UUID) (*domain.Family, error) {
	f, ok := t.d.families[familyID]
	if !ok || f.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &f, nil
}

func (t *memTx) GetTerm(ctx context.Context, tenantID, termID uuid.UUID) (*domain.Term, error) {
	tr, ok := t.d.terms[termID]
	if !ok || tr.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &tr, nil
}

func (t *memTx) ListFamiliesWithActiveEnrollments(ctx context.Context, tenantID, termID uuid.UUID) ([]domain.Family, error) {
	seen := make(map[uuid.UUID]bool)
	var out []domain.Family
	for _, e := range t.d.enrollments {
		if e.TenantID != tenantID || e.TermID != termID || !e.Active || seen[e.FamilyID] {
			continue
		}
		f, ok := t.d.families[e.FamilyID]
		if !ok {
			continue
		}
		seen[e.FamilyID] = true
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *memTx) ListActiveEnrollments(ctx context.Context, tenantID, termID, familyID uuid.UUID) ([]domain.Enrollment, error) {
	var out []domain.Enrollment
	for _, e := range t.d.enrollments {
		if e.TenantID == tenantID && e.TermID == termID && e.FamilyID == familyID && e.Active {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LessonName < out[j].LessonName })
	return out, nil
}

func (t *memTx) GetHybridPattern(ctx context.Context, tenantID, lessonID uuid.UUID) (*domain.HybridPattern, error) {
	for _, p := range t.d.patterns {
		if p.TenantID == tenantID && p.LessonID == lessonID {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

// ---------------------------------------------------------------------------
// Invoices
// ---------------------------------------------------------------------------

func (t *memTx) CreateInvoice(ctx context.Context, inv *domain.Invoice, items []domain.InvoiceLineItem) error {
	for _, existing := range t.d.invoices {
		if existing.TenantID != inv.TenantID {
			continue
		}
		if existing.Number == inv.Number {
			return ErrDuplicate
		}
		if inv.TermID != nil && existing.TermID != nil &&
			existing.FamilyID == inv.FamilyID && *existing.TermID == *inv.TermID {
			return ErrDuplicate
		}
	}
	t.d.invoices[inv.ID] = *inv
	t.d.lineItems[inv.ID] = append([]domain.InvoiceLineItem(nil), items...)
	return nil
}

func (t *memTx) getInvoice(tenantID, invoiceID uuid.UUID) (*domain.Invoice, error) {
	inv, ok := t.d.invoices[invoiceID]
	if !ok || inv.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &inv, nil
}

func (t *memTx) GetInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (*domain.Invoice, error) {
	return t.getInvoice(tenantID, invoiceID)
}

func (t *memTx) GetInvoiceForUpdate(ctx context.Context, tenantID, invoiceID uuid.UUID) (*domain.Invoice, error) {
	return t.getInvoice(tenantID, invoiceID)
}

func (t *memTx) GetInvoiceByNumber(ctx context.Context, tenantID uuid.UUID, number string) (*domain.Invoice, error) {
	for _, inv := range t.d.invoices {
		if inv.TenantID == tenantID && inv.Number == number {
			out := inv
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) GetInvoiceForFamilyTerm(ctx context.Context, tenantID, familyID, termID uuid.UUID) (*domain.Invoice, error) {
	for _, inv := range t.d.invoices {
		if inv.TenantID == tenantID && inv.FamilyID == familyID &&
			inv.TermID != nil && *inv.TermID == termID {
			out := inv
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) listInvoices(tenantID uuid.UUID, familyID *uuid.UUID, limit, offset int32) []domain.Invoice {
	var out []domain.Invoice
	for _, inv := range t.d.invoices {
		if inv.TenantID != tenantID {
			continue
		}
		if familyID != nil && inv.FamilyID != *familyID {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if int(offset) >= len(out) {
		return nil
	}
	out = out[offset:]
	if limit > 0 && int(limit) < len(out) {
		out = out[:limit]
	}
	return out
}

func (t *memTx) ListInvoices(ctx context.Context, tenantID uuid.UUID, limit, offset int32) ([]domain.Invoice, error) {
	return t.listInvoices(tenantID, nil, limit, offset), nil
}

func (t *memTx) ListInvoicesForFamily(ctx context.Context, tenantID, familyID uuid.UUID, limit, offset int32) ([]domain.Invoice, error) {
	return t.listInvoices(tenantID, &familyID, limit, offset), nil
}

func (t *memTx) UpdateInvoice(ctx context.Context, inv *domain.Invoice) error {
	existing, ok := t.d.invoices[inv.ID]
	if !ok || existing.TenantID != inv.TenantID {
		return ErrNotFound
	}
	updated := *inv
	updated.UpdatedAt = time.Now().UTC()
	t.d.invoices[inv.ID] = updated
	return nil
}

func (t *memTx) ReplaceLineItems(ctx context.Context, tenantID, invoiceID uuid.UUID, items []domain.InvoiceLineItem) error {
	if _, err := t.getInvoice(tenantID, invoiceID); err != nil {
		return err
	}
	t.d.lineItems[invoiceID] = append([]domain.InvoiceLineItem(nil), items...)
	return nil
}

func (t *memTx) ListLineItems(ctx context.Context, tenantID, invoiceID uuid.UUID) ([]domain.InvoiceLineItem, error) {
	if _, err := t.getInvoice(tenantID, invoiceID); err != nil {
		return nil, err
	}
	return append([]domain.InvoiceLineItem(nil), t.d.lineItems[invoiceID]...), nil
}

func (t *memTx) DeleteInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) error {
	if _, err := t.getInvoice(tenantID, invoiceID); err != nil {
		return err
	}
	delete(t.d.invoices, invoiceID)
	delete(t.d.lineItems, invoiceID)
	return nil
}

func (t *memTx) NextInvoiceSequence(ctx context.Context, tenantID uuid.UUID, year int) (int, error) {
	max := 0
	for _, inv := range t.d.invoices {
		if inv.TenantID != tenantID {
			continue
		}
		var invYear, seq int
		if n, err := fmt.Sscanf(inv.Number, "INV-%d-%d", &invYear, &seq); err == nil && n == 2 && invYear == year && seq > max {
			max = seq
		}
	}
	return max + 1, nil
}

func (t *memTx) ListSentInvoicesPastDue(ctx context.Context, tenantID uuid.UUID, asOf time.Time) ([]domain.Invoice, error) {
	var out []domain.Invoice
	for _, inv := range t.d.invoices {
		if inv.TenantID == tenantID && inv.Status == domain.InvoiceSent && inv.DueDate.Before(asOf) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

// ---------------------------------------------------------------------------
// Payments
// ---------------------------------------------------------------------------

func (t *memTx) CreatePayment(ctx context.Context, p *domain.Payment) error {
	if p.GatewayChargeID != "" {
		for _, existing := range t.d.payments {
			if existing.TenantID == p.TenantID && existing.GatewayChargeID == p.GatewayChargeID {
				return ErrDuplicate
			}
		}
	}
	t.d.payments = append(t.d.payments, *p)
	return nil
}

func (t *memTx) ListPayments(ctx context.Context, tenantID, invoiceID uuid.UUID) ([]domain.Payment, error) {
	var out []domain.Payment
	for _, p := range t.d.payments {
		if p.TenantID == tenantID && p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaidAt.Before(out[j].PaidAt) })
	return out, nil
}

func (t *memTx) CountPayments(ctx context.Context, tenantID, invoiceID uuid.UUID) (int64, error) {
	var count int64
	for _, p := range t.d.payments {
		if p.TenantID == tenantID && p.InvoiceID == invoiceID {
			count++
		}
	}
	return count, nil
}

func (t *memTx) GetPaymentByGatewayCharge(ctx context.Context, tenantID uuid.UUID, chargeID string) (*domain.Payment, error) {
	for _, p := range t.d.payments {
		if p.TenantID == tenantID && p.GatewayChargeID == chargeID {
			out := p
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// ---------------------------------------------------------------------------
// Locked wrappers: Memory delegates every Store method to memTx under the
// store mutex so direct (non-transactional) calls are safe too.
// ---------------------------------------------------------------------------

func (m *Memory) locked() (*memTx, func()) {
	m.mu.Lock()
	return &memTx{d: &m.data}, m.mu.Unlock
}

func (m *Memory) ListActiveTenants(ctx context.Context) ([]tenant.Tenant, error) {
	tx, done := m.locked()
	defer done()
	return tx.ListActiveTenants(ctx)
}

func (m *Memory) GetTenant(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	tx, done := m.locked()
	defer done()
	return tx.GetTenant(ctx, id)
}

func (m *Memory) GetTenantBySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	tx, done := m.locked()
	defer done()
	return tx.GetTenantBySlug(ctx, slug)
}

func (m *Memory) GetFamily(ctx context.Context, tenantID, familyID uuid.UUID) (*domain.Family, error) {
	tx, done := m.locked()
	defer done()
	return tx.GetFamily(ctx, tenantID, familyID)
}

func (m *Memory) GetTerm(ctx context.Context, tenantID, termID uuid.UUID) (*domain.Term, error) {
	tx, done := m.locked()
	defer done()
	return tx.GetTerm(ctx, tenantID, termID)
}

func (m *Memory) ListFamiliesWithActiveEnrollments(ctx context.Context, tenantID, termID uuid.UUID) ([]domain.Family, error) {
	tx, done := m.locked()
	defer done()
	return tx.ListFamiliesWithActiveEnrollments(ctx, tenantID, termID)
}

func (m *Memory) ListActiveEnrollments(ctx context.Context, tenantID, termID, familyID uuid.UUID) ([]domain.Enrollment, error) {
	tx, done := m.locked()
	defer done()
	return tx.ListActiveEnrollments(ctx, tenantID, termID, familyID)
}

func (m *Memory) GetHybridPattern(ctx context.Context, tenantID, lessonID uuid.UUID) (*domain.HybridPattern, error) {
	tx, done := m.locked()
	defer done()
	return tx.GetHybridPattern(ctx, tenantID, lessonID)
}

func (m *Memory) CreateInvoice(ctx context.Context, inv *domain.Invoice, items []domain.InvoiceLineItem) error {
	tx, done := m.locked()
	defer done()
	return tx.CreateInvoice(ctx, inv, items)
}

func (m *Memory) GetInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (*domain.Invoice, error) {
	tx, done := m.locked()
	defer done()
	return tx.GetInvoice(ctx, tenantID, invoiceID)
}

func (m *Memory) GetInvoiceForUpdate(ctx context.Context, tenantID, invoiceID uuid.UUID) (*domain.Invoice, error) {
	tx, done := m.locked()
	defer done()
	return tx.GetInvoiceForUpdate(ctx, tenantID, invoiceID)
}

func (m *Memory) GetInvoiceByNumber(ctx context.Context, tenantID uuid.UUID, number string) (*domain.Invoice, error) {
	tx, done := m.locked()
	defer done()
	return tx.GetInvoiceByNumber(ctx, tenantID, number)
}

func (m *Memory) GetInvoiceForFamilyTerm(ctx context.Context, tenantID, familyID, termID uuid.UUID) (*domain.Invoice, error) {
	tx, done := m.locked()
	defer done()
	return tx.GetInvoiceForFamilyTerm(ctx, tenantID, familyID, termID)
}

func (m *Memory) ListInvoices(ctx context.Context, tenantID uuid.UUID, limit, offset int32) ([]domain.Invoice, error) {
	tx, done := m.locked()
	defer done()
	return tx.ListInvoices(ctx, tenantID, limit, offset)
}

func (m *Memory) ListInvoicesForFamily(ctx context.Context, tenantID, familyID uuid.UUID, limit, offset int32) ([]domain.Invoice, error) {
	tx, done := m.locked()
	defer done()
	return tx.ListInvoicesForFamily(ctx, tenantID, familyID, limit, offset)
}

func (m *Memory) UpdateInvoice(ctx context.Context, inv *domain.Invoice) error {
	tx, done := m.locked()
	defer done()
	return tx.UpdateInvoice(ctx, inv)
}

func (m *Memory) ReplaceLineItems(ctx context.Context, tenantID, invoiceID uuid.UUID, items []domain.InvoiceLineItem) error {
	tx, done := m.locked()
	defer done()
	return tx.ReplaceLineItems(ctx, tenantID, invoiceID, items)
}

func (m *Memory) ListLineItems(ctx context.Context, tenantID, invoiceID uuid.UUID) ([]domain.InvoiceLineItem, error) {
	tx, done := m.locked()
	defer done()
	return tx.ListLineItems(ctx, tenantID, invoiceID)
}

func (m *Memory) DeleteInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) error {
	tx, done := m.locked()
	defer done()
	return tx.DeleteInvoice(ctx, tenantID, invoiceID)
}

func (m *Memory) NextInvoiceSequence(ctx context.Context, tenantID uuid.UUID, year int) (int, error) {
	tx, done := m.locked()
	defer done()
	return tx.NextInvoiceSequence(ctx, tenantID, year)
}

func (m *Memory) ListSentInvoicesPastDue(ctx context.Context, tenantID uuid.UUID, asOf time.Time) ([]domain.Invoice, error) {
	tx, done := m.locked()
	defer done()
	return tx.ListSentInvoicesPastDue(ctx, tenantID, asOf)
}

func (m *Memory) CreatePayment(ctx context.Context, p *domain.Payment) error {
	tx, done := m.locked()
	defer done()
	return tx.CreatePayment(ctx, p)
}

func (m *Memory) ListPayments(ctx context.Context, tenantID, invoiceID uuid.UUID) ([]domain.Payment, error) {
	tx, done := m.locked()
	defer done()
	return tx.ListPayments(ctx, tenantID, invoiceID)
}

func (m *Memory) CountPayments(ctx context.Context, tenantID, invoiceID uuid.UUID) (int64, error) {
	tx, done := m.locked()
	defer done()
	return tx.CountPayments(ctx, tenantID, invoiceID)
}

func (m *Memory) GetPaymentByGatewayCharge(ctx context.Context, tenantID uuid.UUID, chargeID string) (*domain.Payment, error) {
	tx, done := m.locked()
	defer done()
	return tx.GetPaymentByGatewayCharge(ctx, tenantID, chargeID)
}
