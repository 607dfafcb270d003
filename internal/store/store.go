// Package store provides tenant-scoped persistence for the billing engine.
//
// Every read and write takes the owning tenant's ID; implementations must
// include it in the lookup so that a row belonging to another tenant is
// indistinguishable from an absent row. Services never query unscoped.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/arpeggiohq/arpeggio/internal/domain"
	"github.com/arpeggiohq/arpeggio/internal/tenant"
)

// Sentinel errors returned by implementations. Services translate these
// into domain errors at the operation boundary.
var (
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a uniqueness constraint is violated:
	// a second invoice for a (family, term) pair, a reused invoice number,
	// or a replayed gateway charge id.
	ErrDuplicate = errors.New("store: duplicate")
)

// Store is the persistence boundary for the billing engine.
type Store interface {
	// InTx runs fn against a transactional view of the store and commits
	// when fn returns nil. Row locks taken inside fn (GetInvoiceForUpdate)
	// are held until the transaction ends. Nested InTx calls join the
	// outer transaction.
	InTx(ctx context.Context, fn func(Store) error) error

	TenantStore
	RosterStore
	InvoiceStore
	PaymentStore
}

// TenantStore reads the tenant roster.
type TenantStore interface {
	ListActiveTenants(ctx context.Context) ([]tenant.Tenant, error)
	GetTenant(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*tenant.Tenant, error)
}

// RosterStore reads families, terms, enrollments, and lesson patterns.
// These records are owned by upstream collaborators; the billing engine
// only reads them, always tenant-scoped.
type RosterStore interface {
	GetFamily(ctx context.Context, tenantID, familyID uuid.UUID) (*domain.Family, error)
	GetTerm(ctx context.Context, tenantID, termID uuid.UUID) (*domain.Term, error)

	// ListFamiliesWithActiveEnrollments returns the distinct families that
	// have at least one active enrollment in the term.
	ListFamiliesWithActiveEnrollments(ctx context.Context, tenantID, termID uuid.UUID) ([]domain.Family, error)

	// ListActiveEnrollments returns a family's active enrollments in a term.
	ListActiveEnrollments(ctx context.Context, tenantID, termID, familyID uuid.UUID) ([]domain.Enrollment, error)

	GetHybridPattern(ctx context.Context, tenantID, lessonID uuid.UUID) (*domain.HybridPattern, error)
}

// InvoiceStore persists invoices and their line items.
type InvoiceStore interface {
	// CreateInvoice inserts the invoice header and its line items.
	// Returns ErrDuplicate when an invoice for the same (family, term)
	// pair or with the same number already exists.
	CreateInvoice(ctx context.Context, inv *domain.Invoice, items []domain.InvoiceLineItem) error

	GetInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (*domain.Invoice, error)

	// GetInvoiceForUpdate reads the invoice with a row lock when called
	// inside InTx. Outside a transaction it behaves like GetInvoice.
	GetInvoiceForUpdate(ctx context.Context, tenantID, invoiceID uuid.UUID) (*domain.Invoice, error)

	GetInvoiceByNumber(ctx context.Context, tenantID uuid.UUID, number string) (*domain.Invoice, error)

	// GetInvoiceForFamilyTerm returns the invoice for a (family, term)
	// pair, if one exists. Used to enforce at-most-one per pair.
	GetInvoiceForFamilyTerm(ctx context.Context, tenantID, familyID, termID uuid.UUID) (*domain.Invoice, error)

	ListInvoices(ctx context.Context, tenantID uuid.UUID, limit, offset int32) ([]domain.Invoice, error)
	ListInvoicesForFamily(ctx context.Context, tenantID, familyID uuid.UUID, limit, offset int32) ([]domain.Invoice, error)

	// UpdateInvoice writes the mutable invoice columns (status, amounts,
	// due date, description, timestamps).
	UpdateInvoice(ctx context.Context, inv *domain.Invoice) error

	// ReplaceLineItems deletes the invoice's line items and inserts the
	// given set. Draft edits replace items wholesale.
	ReplaceLineItems(ctx context.Context, tenantID, invoiceID uuid.UUID, items []domain.InvoiceLineItem) error

	ListLineItems(ctx context.Context, tenantID, invoiceID uuid.UUID) ([]domain.InvoiceLineItem, error)

	// DeleteInvoice hard-deletes an invoice and its line items.
	DeleteInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) error

	// NextInvoiceSequence returns max(existing sequence)+1 for the
	// tenant's invoices numbered in the given year. Call inside InTx so
	// the read and the subsequent insert are one atomic unit.
	NextInvoiceSequence(ctx context.Context, tenantID uuid.UUID, year int) (int, error)

	// ListSentInvoicesPastDue returns the tenant's sent invoices whose due
	// date is strictly before asOf.
	ListSentInvoicesPastDue(ctx context.Context, tenantID uuid.UUID, asOf time.Time) ([]domain.Invoice, error)
}

// PaymentStore persists the append-only payment ledger.
type PaymentStore interface {
	// CreatePayment inserts a payment row. Returns ErrDuplicate when the
	// gateway charge id is already recorded for the tenant.
	CreatePayment(ctx context.Context, p *domain.Payment) error

	ListPayments(ctx context.Context, tenantID, invoiceID uuid.UUID) ([]domain.Payment, error)
	CountPayments(ctx context.Context, tenantID, invoiceID uuid.UUID) (int64, error)

	// GetPaymentByGatewayCharge looks up a payment by its processor charge
	// id, the webhook de-duplication key.
	GetPaymentByGatewayCharge(ctx context.Context, tenantID uuid.UUID, chargeID string) (*domain.Payment, error)
}
