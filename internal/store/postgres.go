package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arpeggiohq/arpeggio/internal/domain"
	"github.com/arpeggiohq/arpeggio/internal/tenant"
)

// dbconn is the subset of pgxpool.Pool and pgx.Tx the queries need.
type dbconn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the pgx-backed Store.
type Postgres struct {
	queries
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store over a pgx connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{queries: queries{db: pool}, pool: pool}
}

// InTx runs fn inside a database transaction. Row locks taken by
// GetInvoiceForUpdate inside fn are held until commit or rollback.
func (p *Postgres) InTx(ctx context.Context, fn func(Store) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&txStore{queries: queries{db: tx, inTx: true}, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore is the transactional view handed to InTx callbacks.
type txStore struct {
	queries
	tx pgx.Tx
}

// InTx on a transactional store joins the outer transaction.
func (t *txStore) InTx(ctx context.Context, fn func(Store) error) error {
	return fn(t)
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*txStore)(nil)
)

// queries holds the SQL shared by the pool-backed and tx-backed stores.
type queries struct {
	db   dbconn
	inTx bool
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

// ---------------------------------------------------------------------------
// Tenants
// ---------------------------------------------------------------------------

const tenantColumns = `id, slug, name, status`

func scanTenant(row pgx.Row) (*tenant.Tenant, error) {
	var t tenant.Tenant
	if err := row.Scan(&t.ID, &t.Slug, &t.Name, &t.Status); err != nil {
		return nil, mapPgError(err)
	}
	return &t, nil
}

func (q queries) ListActiveTenants(ctx context.Context) ([]tenant.Tenant, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE status = 'active' ORDER BY slug`)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var tenants []tenant.Tenant
	for rows.Next() {
		var t tenant.Tenant
		if err := rows.Scan(&t.ID, &t.Slug, &t.Name, &t.Status); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (q queries) GetTenant(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	return scanTenant(q.db.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
}

func (q queries) GetTenantBySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	return scanTenant(q.db.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug))
}

// ---------------------------------------------------------------------------
// Roster
// ---------------------------------------------------------------------------

func (q queries) GetFamily(ctx context.Context, tenantID, familyID uuid.UUID) (*domain.Family, error) {
	var f domain.Family
	err := q.db.QueryRow(ctx,
		`SELECT id, tenant_id, name, email FROM families WHERE tenant_id = $1 AND id = $2`,
		tenantID, familyID,
	).Scan(&f.ID, &f.TenantID, &f.Name, &f.Email)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &f, nil
}

func (q queries) GetTerm(ctx context.Context, tenantID, termID uuid.UUID) (*domain.Term, error) {
	var t domain.Term
	err := q.db.QueryRow(ctx,
		`SELECT id, tenant_id, name, weeks, starts_at, ends_at
		 FROM terms WHERE tenant_id = $1 AND id = $2`,
		tenantID, termID,
	).Scan(&t.ID, &t.TenantID, &t.Name, &t.Weeks, &t.StartsAt, &t.EndsAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &t, nil
}

func (q queries) ListFamiliesWithActiveEnrollments(ctx context.Context, tenantID, termID uuid.UUID) ([]domain.Family, error) {
	rows, err := q.db.Query(ctx,
		`SELECT DISTINCT f.id, f.tenant_id, f.name, f.email
		 FROM families f
		 JOIN enrollments e ON e.family_id = f.id AND e.tenant_id = f.tenant_id
		 WHERE f.tenant_id = $1 AND e.term_id = $2 AND e.active
		 ORDER BY f.name`,
		tenantID, termID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var families []domain.Family
	for rows.Next() {
		var f domain.Family
		if err := rows.Scan(&f.ID, &f.TenantID, &f.Name, &f.Email); err != nil {
			return nil, err
		}
		families = append(families, f)
	}
	return families, rows.Err()
}

func (q queries) ListActiveEnrollments(ctx context.Context, tenantID, termID, familyID uuid.UUID) ([]domain.Enrollment, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, tenant_id, family_id, term_id, lesson_id, lesson_name,
		        kind, active, rate_cents, individual_rate_cents
		 FROM enrollments
		 WHERE tenant_id = $1 AND term_id = $2 AND family_id = $3 AND active
		 ORDER BY lesson_name`,
		tenantID, termID, familyID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var enrollments []domain.Enrollment
	for rows.Next() {
		var e domain.Enrollment
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.FamilyID, &e.TermID, &e.LessonID, &e.LessonName,
			&e.Kind, &e.Active, &e.RateCents, &e.IndividualRateCents,
		); err != nil {
			return nil, err
		}
		enrollments = append(enrollments, e)
	}
	return enrollments, rows.Err()
}

func (q queries) GetHybridPattern(ctx context.Context, tenantID, lessonID uuid.UUID) (*domain.HybridPattern, error) {
	var p domain.HybridPattern
	err := q.db.QueryRow(ctx,
		`SELECT lesson_id, tenant_id, group_weeks, individual_weeks
		 FROM hybrid_patterns WHERE tenant_id = $1 AND lesson_id = $2`,
		tenantID, lessonID,
	).Scan(&p.LessonID, &p.TenantID, &p.GroupWeeks, &p.IndividualWeeks)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &p, nil
}

// ---------------------------------------------------------------------------
// Invoices
// ---------------------------------------------------------------------------

const invoiceColumns = `id, tenant_id, family_id, term_id, invoice_number, status,
	subtotal_cents, tax_cents, total_cents, amount_paid_cents,
	due_date, sent_at, paid_at, description, created_at, updated_at`

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := row.Scan(
		&inv.ID, &inv.TenantID, &inv.FamilyID, &inv.TermID, &inv.Number, &inv.Status,
		&inv.SubtotalCents, &inv.TaxCents, &inv.TotalCents, &inv.AmountPaidCents,
		&inv.DueDate, &inv.SentAt, &inv.PaidAt, &inv.Description, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &inv, nil
}

func scanInvoices(rows pgx.Rows) ([]domain.Invoice, error) {
	defer rows.Close()
	var invoices []domain.Invoice
	for rows.Next() {
		var inv domain.Invoice
		if err := rows.Scan(
			&inv.ID, &inv.TenantID, &inv.FamilyID, &inv.TermID, &inv.Number, &inv.Status,
			&inv.SubtotalCents, &inv.TaxCents, &inv.TotalCents, &inv.AmountPaidCents,
			&inv.DueDate, &inv.SentAt, &inv.PaidAt, &inv.Description, &inv.CreatedAt, &inv.UpdatedAt,
		); err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func (q queries) CreateInvoice(ctx context.Context, inv *domain.Invoice, items []domain.InvoiceLineItem) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO invoices (
			id, tenant_id, family_id, term_id, invoice_number, status,
			subtotal_cents, tax_cents, total_cents, amount_paid_cents,
			due_date, sent_at, paid_at, description, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		inv.ID, inv.TenantID, inv.FamilyID, inv.TermID, inv.Number, inv.Status,
		inv.SubtotalCents, inv.TaxCents, inv.TotalCents, inv.AmountPaidCents,
		inv.DueDate, inv.SentAt, inv.PaidAt, inv.Description, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return mapPgError(err)
	}
	return q.insertLineItems(ctx, inv.TenantID, items)
}

func (q queries) insertLineItems(ctx context.Context, tenantID uuid.UUID, items []domain.InvoiceLineItem) error {
	for _, item := range items {
		_, err := q.db.Exec(ctx,
			`INSERT INTO invoice_line_items (
				id, tenant_id, invoice_id, description, quantity, unit_price_cents, total_cents, position
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			item.ID, tenantID, item.InvoiceID, item.Description,
			item.Quantity, item.UnitPriceCents, item.TotalCents, item.Position,
		)
		if err != nil {
			return mapPgError(err)
		}
	}
	return nil
}

func (q queries) GetInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (*domain.Invoice, error) {
	return scanInvoice(q.db.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE tenant_id = $1 AND id = $2`,
		tenantID, invoiceID))
}

func (q queries) GetInvoiceForUpdate(ctx context.Context, tenantID, invoiceID uuid.UUID) (*domain.Invoice, error) {
	sql := `SELECT ` + invoiceColumns + ` FROM invoices WHERE tenant_id = $1 AND id = $2`
	if q.inTx {
		sql += ` FOR UPDATE`
	}
	return scanInvoice(q.db.QueryRow(ctx, sql, tenantID, invoiceID))
}

func (q queries) GetInvoiceByNumber(ctx context.Context, tenantID uuid.UUID, number string) (*domain.Invoice, error) {
	return scanInvoice(q.db.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE tenant_id = $1 AND invoice_number = $2`,
		tenantID, number))
}

func (q queries) GetInvoiceForFamilyTerm(ctx context.Context, tenantID, familyID, termID uuid.UUID) (*domain.Invoice, error) {
	return scanInvoice(q.db.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE tenant_id = $1 AND family_id = $2 AND term_id = $3`,
		tenantID, familyID, termID))
}

func (q queries) ListInvoices(ctx context.Context, tenantID uuid.UUID, limit, offset int32) ([]domain.Invoice, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		tenantID, limit, offset)
	if err != nil {
		return nil, mapPgError(err)
	}
	return scanInvoices(rows)
}

func (q queries) ListInvoicesForFamily(ctx context.Context, tenantID, familyID uuid.UUID, limit, offset int32) ([]domain.Invoice, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE tenant_id = $1 AND family_id = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		tenantID, familyID, limit, offset)
	if err != nil {
		return nil, mapPgError(err)
	}
	return scanInvoices(rows)
}

func (q queries) UpdateInvoice(ctx context.Context, inv *domain.Invoice) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE invoices SET
			status = $3, subtotal_cents = $4, tax_cents = $5, total_cents = $6,
			amount_paid_cents = $7, due_date = $8, sent_at = $9, paid_at = $10,
			description = $11, updated_at = $12
		 WHERE tenant_id = $1 AND id = $2`,
		inv.TenantID, inv.ID,
		inv.Status, inv.SubtotalCents, inv.TaxCents, inv.TotalCents,
		inv.AmountPaidCents, inv.DueDate, inv.SentAt, inv.PaidAt,
		inv.Description, time.Now().UTC(),
	)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q queries) ReplaceLineItems(ctx context.Context, tenantID, invoiceID uuid.UUID, items []domain.InvoiceLineItem) error {
	if _, err := q.db.Exec(ctx,
		`DELETE FROM invoice_line_items WHERE tenant_id = $1 AND invoice_id = $2`,
		tenantID, invoiceID,
	); err != nil {
		return mapPgError(err)
	}
	return q.insertLineItems(ctx, tenantID, items)
}

func (q queries) ListLineItems(ctx context.Context, tenantID, invoiceID uuid.UUID) ([]domain.InvoiceLineItem, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, invoice_id, description, quantity, unit_price_cents, total_cents, position
		 FROM invoice_line_items
		 WHERE tenant_id = $1 AND invoice_id = $2 ORDER BY position`,
		tenantID, invoiceID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var items []domain.InvoiceLineItem
	for rows.Next() {
		var item domain.InvoiceLineItem
		if err := rows.Scan(
			&item.ID, &item.InvoiceID, &item.Description,
			&item.Quantity, &item.UnitPriceCents, &item.TotalCents, &item.Position,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (q queries) DeleteInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) error {
	if _, err := q.db.Exec(ctx,
		`DELETE FROM invoice_line_items WHERE tenant_id = $1 AND invoice_id = $2`,
		tenantID, invoiceID,
	); err != nil {
		return mapPgError(err)
	}
	tag, err := q.db.Exec(ctx,
		`DELETE FROM invoices WHERE tenant_id = $1 AND id = $2`,
		tenantID, invoiceID,
	)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q queries) NextInvoiceSequence(ctx context.Context, tenantID uuid.UUID, year int) (int, error) {
	// Numbers are INV-<year>-<5 digits>; the sequence is the suffix after
	// the second dash (position 10 in SQL's 1-based substring).
	prefix := fmt.Sprintf("INV-%04d-%%", year)
	var next int
	err := q.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(substring(invoice_number FROM 10)::int), 0) + 1
		 FROM invoices WHERE tenant_id = $1 AND invoice_number LIKE $2`,
		tenantID, prefix,
	).Scan(&next)
	if err != nil {
		return 0, mapPgError(err)
	}
	return next, nil
}

func (q queries) ListSentInvoicesPastDue(ctx context.Context, tenantID uuid.UUID, asOf time.Time) ([]domain.Invoice, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE tenant_id = $1 AND status = 'sent' AND due_date < $2
		 ORDER BY due_date`,
		tenantID, asOf)
	if err != nil {
		return nil, mapPgError(err)
	}
	return scanInvoices(rows)
}

// ---------------------------------------------------------------------------
// Payments
// ---------------------------------------------------------------------------

func (q queries) CreatePayment(ctx context.Context, p *domain.Payment) error {
	var chargeID *string
	if p.GatewayChargeID != "" {
		chargeID = &p.GatewayChargeID
	}
	_, err := q.db.Exec(ctx,
		`INSERT INTO payments (
			id, tenant_id, invoice_id, amount_cents, method, reference,
			gateway_charge_id, paid_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.TenantID, p.InvoiceID, p.AmountCents, p.Method, p.Reference,
		chargeID, p.PaidAt, p.CreatedAt,
	)
	return mapPgError(err)
}

func scanPayments(rows pgx.Rows) ([]domain.Payment, error) {
	defer rows.Close()
	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPaymentRow(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func scanPaymentRow(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	var chargeID *string
	err := row.Scan(
		&p.ID, &p.TenantID, &p.InvoiceID, &p.AmountCents, &p.Method, &p.Reference,
		&chargeID, &p.PaidAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, mapPgError(err)
	}
	if chargeID != nil {
		p.GatewayChargeID = *chargeID
	}
	return &p, nil
}

const paymentColumns = `id, tenant_id, invoice_id, amount_cents, method, reference,
	gateway_charge_id, paid_at, created_at`

func (q queries) ListPayments(ctx context.Context, tenantID, invoiceID uuid.UUID) ([]domain.Payment, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE tenant_id = $1 AND invoice_id = $2 ORDER BY paid_at`,
		tenantID, invoiceID)
	if err != nil {
		return nil, mapPgError(err)
	}
	return scanPayments(rows)
}

func (q queries) CountPayments(ctx context.Context, tenantID, invoiceID uuid.UUID) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM payments WHERE tenant_id = $1 AND invoice_id = $2`,
		tenantID, invoiceID,
	).Scan(&count)
	if err != nil {
		return 0, mapPgError(err)
	}
	return count, nil
}

func (q queries) GetPaymentByGatewayCharge(ctx context.Context, tenantID uuid.UUID, chargeID string) (*domain.Payment, error) {
	return scanPaymentRow(q.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE tenant_id = $1 AND gateway_charge_id = $2`,
		tenantID, chargeID))
}
