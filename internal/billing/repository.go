package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/backresidences/billing/internal/platform/db"
)

const invoiceUniqueConstraint = "invoices_unit_concept_period_key"

// Repository persists the ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes fn inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// NextNumber bumps the per-year counter in its own implicit transaction.
func (r *Repository) NextNumber(ctx context.Context, kind DocumentKind, year int) (int64, error) {
	var seq int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO document_sequences (kind, year, last_value) VALUES ($1, $2, 1)
		ON CONFLICT (kind, year) DO UPDATE SET last_value = document_sequences.last_value + 1
		RETURNING last_value`, string(kind), year).Scan(&seq)
	return seq, err
}

// --- Catalog ---

const conceptColumns = `id, name, description, kind, base_amount, frequency, mandatory, applies_to_all, amount_rules, mora_rate, active, created_at, updated_at`

func scanConcept(row pgx.Row) (Concept, error) {
	var c Concept
	var rules []byte
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Kind, &c.BaseAmount, &c.Frequency, &c.Mandatory, &c.AppliesToAll, &rules, &c.MoraRate, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Concept{}, err
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &c.Rules); err != nil {
			return Concept{}, fmt.Errorf("billing: decode rules of concept %d: %w", c.ID, err)
		}
	}
	return c, nil
}

// GetConcept fetches a concept by id.
func (r *Repository) GetConcept(ctx context.Context, id int64) (Concept, error) {
	c, err := scanConcept(r.pool.QueryRow(ctx, `SELECT `+conceptColumns+` FROM payment_concepts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Concept{}, notFound("concept", id)
	}
	return c, err
}

// ListConcepts lists concepts by name.
func (r *Repository) ListConcepts(ctx context.Context, activeOnly bool) ([]Concept, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+conceptColumns+` FROM payment_concepts WHERE ($1 = FALSE OR active) ORDER BY name`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Concept
	for rows.Next() {
		c, err := scanConcept(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateConcept inserts a concept.
func (r *Repository) CreateConcept(ctx context.Context, c Concept) (Concept, error) {
	rules, err := json.Marshal(c.Rules)
	if err != nil {
		return Concept{}, err
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO payment_concepts (name, description, kind, base_amount, frequency, mandatory, applies_to_all, amount_rules, mora_rate, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING id`,
		c.Name, c.Description, string(c.Kind), c.BaseAmount, string(c.Frequency), c.Mandatory, c.AppliesToAll, rules, c.MoraRate, c.Active, c.CreatedAt,
	).Scan(&c.ID)
	if db.IsUniqueViolation(err, "") {
		return Concept{}, &ConflictError{Reason: fmt.Sprintf("concept %q already exists", c.Name)}
	}
	return c, err
}

// SetConceptActive toggles the active flag.
func (r *Repository) SetConceptActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE payment_concepts SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("concept", id)
	}
	return nil
}

const methodColumns = `id, code, name, requires_reference, requires_receipt, commission_pct, gateway, config, display_order, active`

func scanMethod(row pgx.Row) (Method, error) {
	var m Method
	var cfg []byte
	if err := row.Scan(&m.ID, &m.Code, &m.Name, &m.RequiresReference, &m.RequiresReceipt, &m.CommissionPct, &m.Gateway, &cfg, &m.DisplayOrder, &m.Active); err != nil {
		return Method{}, err
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &m.Config); err != nil {
			return Method{}, fmt.Errorf("billing: decode config of method %s: %w", m.Code, err)
		}
	}
	return m, nil
}

// GetMethodByCode fetches a payment method.
func (r *Repository) GetMethodByCode(ctx context.Context, code string) (Method, error) {
	m, err := scanMethod(r.pool.QueryRow(ctx, `SELECT `+methodColumns+` FROM payment_methods WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return Method{}, notFound("payment method", code)
	}
	return m, err
}

// ListMethods lists methods in display order.
func (r *Repository) ListMethods(ctx context.Context, activeOnly bool) ([]Method, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+methodColumns+` FROM payment_methods WHERE ($1 = FALSE OR active) ORDER BY display_order, code`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Method
	for rows.Next() {
		m, err := scanMethod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Invoices ---

const invoiceColumns = `id, number, unit_id, concept_id, period, issued_at, due_at, original_amount, discount, interest, total, outstanding, status, notes, generated_by, interest_updated_at, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var generatedBy pgtype.Int8
	if err := row.Scan(&inv.ID, &inv.Number, &inv.UnitID, &inv.ConceptID, &inv.Period, &inv.IssuedAt, &inv.DueAt,
		&inv.Original, &inv.Discount, &inv.Interest, &inv.Total, &inv.Outstanding, &inv.Status, &inv.Notes,
		&generatedBy, &inv.InterestUpdatedAt, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return Invoice{}, err
	}
	inv.GeneratedBy = generatedBy.Int64
	return inv, nil
}

func collectInvoices(rows pgx.Rows, err error) ([]Invoice, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// InvoiceExists reports whether the (unit, concept, period) slot is taken.
func (r *Repository) InvoiceExists(ctx context.Context, unitID, conceptID int64, period string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE unit_id = $1 AND concept_id = $2 AND period = $3)`, unitID, conceptID, period).Scan(&exists)
	return exists, err
}

// DelinquentUnitIDs lists units with an unpaid invoice past due at asOf.
func (r *Repository) DelinquentUnitIDs(ctx context.Context, asOf time.Time) ([]int64, error) {
	return collectIDs(r.pool.Query(ctx, `SELECT DISTINCT unit_id FROM invoices WHERE due_at < $1::date AND outstanding > 0 AND status <> 'void' ORDER BY unit_id`, asOf))
}

// GetInvoice fetches an invoice by id.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, notFound("invoice", id)
	}
	return inv, err
}

// ListInvoices filters invoices ordered by due date.
func (r *Repository) ListInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, error) {
	var w where
	if f.UnitID > 0 {
		w.add("unit_id = ?", f.UnitID)
	}
	if f.ConceptID > 0 {
		w.add("concept_id = ?", f.ConceptID)
	}
	if f.Period != "" {
		w.add("period = ?", f.Period)
	}
	if f.FromPeriod != "" {
		w.add("period >= ?", f.FromPeriod)
	}
	if f.ToPeriod != "" {
		w.add("period <= ?", f.ToPeriod)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		w.add("status = ANY(?)", statuses)
	}
	if !f.DueFrom.IsZero() {
		w.add("due_at >= ?::date", f.DueFrom)
	}
	if !f.DueTo.IsZero() {
		w.add("due_at <= ?::date", f.DueTo)
	}
	if f.OpenOnly {
		w.add("outstanding > 0 AND status <> 'void'")
	}
	query := `SELECT ` + invoiceColumns + ` FROM invoices` + w.sql() + ` ORDER BY due_at, id` + w.page(f.Page.Limit, f.Page.Offset)
	return collectInvoices(r.pool.Query(ctx, query, w.args...))
}

// ListAccruableInvoiceIDs lists invoices eligible for interest at asOf.
func (r *Repository) ListAccruableInvoiceIDs(ctx context.Context, asOf time.Time) ([]int64, error) {
	return collectIDs(r.pool.Query(ctx, `
		SELECT id FROM invoices
		WHERE due_at < $1::date
		  AND status IN ('issued', 'pending', 'partially_paid', 'overdue')
		  AND outstanding > 0
		ORDER BY due_at, id`, asOf))
}

// SumOutstanding totals the open balance of non-void invoices issued up to cutoff.
func (r *Repository) SumOutstanding(ctx context.Context, unitID int64, cutoff time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(outstanding), 0) FROM invoices WHERE unit_id = $1 AND status <> 'void' AND issued_at <= $2`, unitID, cutoff).Scan(&total)
	return total, err
}

func (r *Repository) SummarizeAccount(ctx context.Context, unitID int64, filter StatementFilter, yearStart time.Time) (StatementSummary, error) {
	summary := StatementSummary{TotalOutstanding: decimal.Zero, PaidThisYear: decimal.Zero}
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(outstanding), 0),
		       COUNT(*) FILTER (WHERE status IN ('issued', 'pending', 'partially_paid')),
		       COUNT(*) FILTER (WHERE status = 'overdue')
		FROM invoices
		WHERE unit_id = $1 AND status <> 'void'
		  AND ($2 = '' OR period >= $2) AND ($3 = '' OR period <= $3)`,
		unitID, filter.FromPeriod, filter.ToPeriod,
	).Scan(&summary.TotalOutstanding, &summary.PendingInvoices, &summary.OverdueInvoices)
	if err != nil {
		return StatementSummary{}, fmt.Errorf("summarize invoices: %w", err)
	}

	var lastPayment pgtype.Timestamptz
	err = r.pool.QueryRow(ctx, `
		SELECT MAX(received_at),
		       COALESCE(SUM(amount) FILTER (WHERE received_at >= $2 AND received_at < $3), 0)
		FROM payments
		WHERE unit_id = $1 AND status = 'confirmed'`,
		unitID, yearStart, yearStart.AddDate(1, 0, 0),
	).Scan(&lastPayment, &summary.PaidThisYear)
	if err != nil {
		return StatementSummary{}, fmt.Errorf("summarize payments: %w", err)
	}
	if lastPayment.Valid {
		at := lastPayment.Time.UTC()
		summary.LastPaymentAt = &at
	}
	return summary, nil
}

func (t *txRepo) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO invoices (number, unit_id, concept_id, period, issued_at, due_at, original_amount, discount, interest, total, outstanding, status, notes, generated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		RETURNING id`,
		inv.Number, inv.UnitID, inv.ConceptID, inv.Period, inv.IssuedAt, inv.DueAt, inv.Original, inv.Discount, inv.Interest,
		inv.Total, inv.Outstanding, string(inv.Status), inv.Notes, nullInt64(inv.GeneratedBy), inv.CreatedAt,
	).Scan(&inv.ID)
	if db.IsUniqueViolation(err, invoiceUniqueConstraint) {
		return Invoice{}, ErrDuplicateInvoice
	}
	return inv, err
}

func (t *txRepo) LockInvoices(ctx context.Context, ids []int64) ([]Invoice, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return collectInvoices(t.tx.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids))
}

func (t *txRepo) LockOpenInvoices(ctx context.Context, unitID int64) ([]Invoice, error) {
	return collectInvoices(t.tx.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE unit_id = $1 AND outstanding > 0 AND status <> 'void' ORDER BY id FOR UPDATE`, unitID))
}

func (t *txRepo) UpdateInvoiceBalance(ctx context.Context, inv Invoice) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE invoices
		SET interest = $2, total = $3, outstanding = $4, status = $5, interest_updated_at = COALESCE($6, interest_updated_at), updated_at = $7
		WHERE id = $1`,
		inv.ID, inv.Interest, inv.Total, inv.Outstanding, string(inv.Status), inv.InterestUpdatedAt, inv.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("invoice", inv.ID)
	}
	return nil
}

// --- Payments ---

const paymentColumns = `p.id, p.number, p.unit_id, p.amount, p.method_id, m.code, p.reference, p.received_at, p.registered_at, p.status,
	p.registered_by, p.confirmed_by, p.confirmed_at, p.reversed_by, p.reversed_at, p.reversal_reason, p.gateway_intent_id, p.allocation_request, p.notes`

const paymentFrom = ` FROM payments p JOIN payment_methods m ON m.id = p.method_id`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var registeredBy, confirmedBy, reversedBy pgtype.Int8
	var intent pgtype.Text
	var request []byte
	if err := row.Scan(&p.ID, &p.Number, &p.UnitID, &p.Amount, &p.MethodID, &p.MethodCode, &p.Reference, &p.ReceivedAt, &p.RegisteredAt, &p.Status,
		&registeredBy, &confirmedBy, &p.ConfirmedAt, &reversedBy, &p.ReversedAt, &p.ReversalReason, &intent, &request, &p.Notes); err != nil {
		return Payment{}, err
	}
	p.RegisteredBy = registeredBy.Int64
	p.ConfirmedBy = confirmedBy.Int64
	p.ReversedBy = reversedBy.Int64
	p.GatewayIntentID = intent.String
	if len(request) > 0 {
		var req AllocationRequest
		if err := json.Unmarshal(request, &req); err != nil {
			return Payment{}, fmt.Errorf("billing: decode allocation request of %s: %w", p.Number, err)
		}
		p.AllocationRequest = &req
	}
	return p, nil
}

func (r *Repository) getPayment(ctx context.Context, q querier, clause string, arg any, key any) (Payment, error) {
	p, err := scanPayment(q.QueryRow(ctx, `SELECT `+paymentColumns+paymentFrom+` WHERE `+clause, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, notFound("payment", key)
	}
	return p, err
}

// GetPayment fetches a payment by id.
func (r *Repository) GetPayment(ctx context.Context, id int64) (Payment, error) {
	return r.getPayment(ctx, r.pool, "p.id = $1", id, id)
}

// GetPaymentByIntent fetches the payment created for a gateway intent.
func (r *Repository) GetPaymentByIntent(ctx context.Context, intentID string) (Payment, error) {
	return r.getPayment(ctx, r.pool, "p.gateway_intent_id = $1", intentID, intentID)
}

// ListPayments filters payments newest first.
func (r *Repository) ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, error) {
	var w where
	if f.UnitID > 0 {
		w.add("p.unit_id = ?", f.UnitID)
	}
	if f.MethodID > 0 {
		w.add("p.method_id = ?", f.MethodID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		w.add("p.status = ANY(?)", statuses)
	}
	if !f.From.IsZero() {
		w.add("p.received_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		w.add("p.received_at < ?", f.To)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+paymentColumns+paymentFrom+w.sql()+` ORDER BY p.received_at DESC, p.id DESC`+w.page(f.Page.Limit, f.Page.Offset), w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *txRepo) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	var request []byte
	if p.AllocationRequest != nil {
		var err error
		if request, err = json.Marshal(p.AllocationRequest); err != nil {
			return Payment{}, err
		}
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO payments (number, unit_id, amount, method_id, reference, received_at, registered_at, status, registered_by, confirmed_by, confirmed_at, gateway_intent_id, allocation_request, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, $14)
		RETURNING id`,
		p.Number, p.UnitID, p.Amount, p.MethodID, p.Reference, p.ReceivedAt, p.RegisteredAt, string(p.Status),
		nullInt64(p.RegisteredBy), nullInt64(p.ConfirmedBy), p.ConfirmedAt, p.GatewayIntentID, request, p.Notes,
	).Scan(&p.ID)
	if db.IsUniqueViolation(err, "") {
		return Payment{}, &ConflictError{Reason: "payment number or gateway intent already recorded"}
	}
	return p, err
}

func (t *txRepo) LockPayment(ctx context.Context, id int64) (Payment, error) {
	p, err := scanPayment(t.tx.QueryRow(ctx, `SELECT `+paymentColumns+paymentFrom+` WHERE p.id = $1 FOR UPDATE OF p`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, notFound("payment", id)
	}
	return p, err
}

func (t *txRepo) UpdatePayment(ctx context.Context, p Payment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE payments
		SET status = $2, confirmed_by = $3, confirmed_at = $4, reversed_by = $5, reversed_at = $6, reversal_reason = $7
		WHERE id = $1`,
		p.ID, string(p.Status), nullInt64(p.ConfirmedBy), p.ConfirmedAt, nullInt64(p.ReversedBy), p.ReversedAt, p.ReversalReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("payment", p.ID)
	}
	return nil
}

// --- Allocations ---

const allocationColumns = `id, payment_id, invoice_id, amount, created_at`

func collectAllocations(rows pgx.Rows, err error) ([]Allocation, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Allocation
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.InvoiceID, &a.Amount, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListAllocations lists allocations of a payment or an invoice.
func (r *Repository) ListAllocations(ctx context.Context, f AllocationFilter) ([]Allocation, error) {
	var w where
	if f.PaymentID > 0 {
		w.add("payment_id = ?", f.PaymentID)
	}
	if f.InvoiceID > 0 {
		w.add("invoice_id = ?", f.InvoiceID)
	}
	if len(w.clauses) == 0 {
		return nil, errors.New("billing: allocation filter requires payment or invoice")
	}
	return collectAllocations(r.pool.Query(ctx, `SELECT `+allocationColumns+` FROM payment_allocations`+w.sql()+` ORDER BY id`, w.args...))
}

func (t *txRepo) InsertAllocation(ctx context.Context, a Allocation) (Allocation, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO payment_allocations (payment_id, invoice_id, amount, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		a.PaymentID, a.InvoiceID, a.Amount, a.CreatedAt).Scan(&a.ID)
	return a, err
}

func (t *txRepo) ListAllocationsForPayment(ctx context.Context, paymentID int64) ([]Allocation, error) {
	return collectAllocations(t.tx.Query(ctx, `SELECT `+allocationColumns+` FROM payment_allocations WHERE payment_id = $1 ORDER BY id`, paymentID))
}

func (t *txRepo) DeleteAllocations(ctx context.Context, paymentID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM payment_allocations WHERE payment_id = $1`, paymentID)
	return err
}

// --- Certificates ---

const certificateColumns = `id, number, unit_id, cutoff, outstanding, issued_at, expires_at, verification_code, issued_by`

func scanCertificate(row pgx.Row) (Certificate, error) {
	var c Certificate
	var issuedBy pgtype.Int8
	if err := row.Scan(&c.ID, &c.Number, &c.UnitID, &c.Cutoff, &c.Outstanding, &c.IssuedAt, &c.ExpiresAt, &c.VerificationCode, &issuedBy); err != nil {
		return Certificate{}, err
	}
	c.IssuedBy = issuedBy.Int64
	return c, nil
}

// GetCertificateByCode fetches a certificate by verification code.
func (r *Repository) GetCertificateByCode(ctx context.Context, code string) (Certificate, error) {
	c, err := scanCertificate(r.pool.QueryRow(ctx, `SELECT `+certificateColumns+` FROM clearance_certificates WHERE verification_code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return Certificate{}, notFound("certificate", code)
	}
	return c, err
}

// ListCertificates lists a unit's certificates newest first.
func (r *Repository) ListCertificates(ctx context.Context, unitID int64) ([]Certificate, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+certificateColumns+` FROM clearance_certificates WHERE unit_id = $1 ORDER BY issued_at DESC, id DESC`, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *txRepo) InsertCertificate(ctx context.Context, c Certificate) (Certificate, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO clearance_certificates (number, unit_id, cutoff, outstanding, issued_at, expires_at, verification_code, issued_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		c.Number, c.UnitID, c.Cutoff, c.Outstanding, c.IssuedAt, c.ExpiresAt, c.VerificationCode, nullInt64(c.IssuedBy),
	).Scan(&c.ID)
	return c, err
}

// --- helpers ---

func nullInt64(v int64) pgtype.Int8 {
	return pgtype.Int8{Int64: v, Valid: v != 0}
}

func collectIDs(rows pgx.Rows, err error) ([]int64, error) {
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// where accumulates AND-ed clauses using ? placeholders.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, args ...any) {
	for _, arg := range args {
		w.args = append(w.args, arg)
		clause = strings.Replace(clause, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.clauses = append(w.clauses, clause)
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (w *where) page(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
}
