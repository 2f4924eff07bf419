package billing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/backresidences/billing/internal/shared"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Equal(t, d(want).StringFixed(2), got.StringFixed(2))
}

func day(year int, month time.Month, dd int) time.Time {
	return time.Date(year, month, dd, 0, 0, 0, 0, time.UTC)
}

// memoryRepo is an in-memory RepositoryPort. Transactions are serialized and
// roll back to a snapshot on error, which mirrors row locking closely enough
// for service level tests.
type memoryRepo struct {
	txMu sync.Mutex
	mu   sync.Mutex

	nextID       int64
	sequences    map[string]int64
	concepts     map[int64]Concept
	methods      map[string]Method
	invoices     map[int64]Invoice
	payments     map[int64]Payment
	allocations  map[int64]Allocation
	certificates map[int64]Certificate

	failInsertInvoice map[int64]error
	failUpdateInvoice map[int64]error
}

func newMemoryRepo() *memoryRepo {
	r := &memoryRepo{
		sequences:         make(map[string]int64),
		concepts:          make(map[int64]Concept),
		methods:           make(map[string]Method),
		invoices:          make(map[int64]Invoice),
		payments:          make(map[int64]Payment),
		allocations:       make(map[int64]Allocation),
		certificates:      make(map[int64]Certificate),
		failInsertInvoice: make(map[int64]error),
		failUpdateInvoice: make(map[int64]error),
	}
	for i, m := range []Method{
		{Code: "card", Name: "Card", Gateway: true, CommissionPct: d("3.4")},
		{Code: "transfer", Name: "Transfer", RequiresReference: true, RequiresReceipt: true},
		{Code: "cash", Name: "Cash", RequiresReceipt: true},
		{Code: "cheque", Name: "Cheque"},
	} {
		m.ID = int64(i + 1)
		m.DisplayOrder = i + 1
		m.Active = m.Code != "cheque"
		r.methods[m.Code] = m
	}
	return r
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

type memorySnapshot struct {
	concepts     map[int64]Concept
	invoices     map[int64]Invoice
	payments     map[int64]Payment
	allocations  map[int64]Allocation
	certificates map[int64]Certificate
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	snap := memorySnapshot{
		concepts:     cloneMap(r.concepts),
		invoices:     cloneMap(r.invoices),
		payments:     cloneMap(r.payments),
		allocations:  cloneMap(r.allocations),
		certificates: cloneMap(r.certificates),
	}
	r.mu.Unlock()

	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.mu.Lock()
		r.concepts = snap.concepts
		r.invoices = snap.invoices
		r.payments = snap.payments
		r.allocations = snap.allocations
		r.certificates = snap.certificates
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *memoryRepo) NextNumber(_ context.Context, kind DocumentKind, year int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := fmt.Sprintf("%s-%d", kind, year)
	r.sequences[key]++
	return r.sequences[key], nil
}

func (r *memoryRepo) GetConcept(_ context.Context, id int64) (Concept, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.concepts[id]
	if !ok {
		return Concept{}, notFound("concept", id)
	}
	return c, nil
}

func (r *memoryRepo) ListConcepts(_ context.Context, activeOnly bool) ([]Concept, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Concept
	for _, c := range r.concepts {
		if activeOnly && !c.Active {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memoryRepo) CreateConcept(_ context.Context, c Concept) (Concept, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.concepts {
		if existing.Name == c.Name {
			return Concept{}, &ConflictError{Reason: fmt.Sprintf("concept %q already exists", c.Name)}
		}
	}
	c.ID = r.id()
	r.concepts[c.ID] = c
	return c, nil
}

func (r *memoryRepo) SetConceptActive(_ context.Context, id int64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.concepts[id]
	if !ok {
		return notFound("concept", id)
	}
	c.Active = active
	r.concepts[id] = c
	return nil
}

func (r *memoryRepo) GetMethodByCode(_ context.Context, code string) (Method, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.methods[code]
	if !ok {
		return Method{}, notFound("payment method", code)
	}
	return m, nil
}

func (r *memoryRepo) ListMethods(_ context.Context, activeOnly bool) ([]Method, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Method
	for _, m := range r.methods {
		if activeOnly && !m.Active {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayOrder < out[j].DisplayOrder })
	return out, nil
}

func (r *memoryRepo) InvoiceExists(_ context.Context, unitID, conceptID int64, period string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invoices {
		if inv.UnitID == unitID && inv.ConceptID == conceptID && inv.Period == period {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) DelinquentUnitIDs(_ context.Context, asOf time.Time) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[int64]struct{})
	var out []int64
	for _, inv := range r.invoices {
		if inv.Status == InvoiceVoid || inv.Outstanding.Sign() <= 0 || !truncateDay(inv.DueAt).Before(truncateDay(asOf)) {
			continue
		}
		if _, ok := seen[inv.UnitID]; !ok {
			seen[inv.UnitID] = struct{}{}
			out = append(out, inv.UnitID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *memoryRepo) GetInvoice(_ context.Context, id int64) (Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return Invoice{}, notFound("invoice", id)
	}
	return inv, nil
}

func (r *memoryRepo) ListInvoices(_ context.Context, f InvoiceFilter) ([]Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	statuses := make(map[InvoiceStatus]struct{}, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses[s] = struct{}{}
	}
	var out []Invoice
	for _, inv := range r.invoices {
		switch {
		case f.UnitID > 0 && inv.UnitID != f.UnitID,
			f.ConceptID > 0 && inv.ConceptID != f.ConceptID,
			f.Period != "" && inv.Period != f.Period,
			f.FromPeriod != "" && inv.Period < f.FromPeriod,
			f.ToPeriod != "" && inv.Period > f.ToPeriod,
			f.OpenOnly && !inv.Open():
			continue
		}
		if len(statuses) > 0 {
			if _, ok := statuses[inv.Status]; !ok {
				continue
			}
		}
		out = append(out, inv)
	}
	sortInvoices(out)
	return paginate(out, f.Page), nil
}

func (r *memoryRepo) ListAccruableInvoiceIDs(_ context.Context, asOf time.Time) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []Invoice
	for _, inv := range r.invoices {
		if _, ok := accruableStatuses[inv.Status]; !ok {
			continue
		}
		if inv.Outstanding.Sign() > 0 && truncateDay(inv.DueAt).Before(truncateDay(asOf)) {
			due = append(due, inv)
		}
	}
	sortInvoices(due)
	ids := make([]int64, 0, len(due))
	for _, inv := range due {
		ids = append(ids, inv.ID)
	}
	return ids, nil
}

func (r *memoryRepo) SumOutstanding(_ context.Context, unitID int64, cutoff time.Time) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, inv := range r.invoices {
		if inv.UnitID == unitID && inv.Status != InvoiceVoid && !inv.IssuedAt.After(cutoff) {
			total = total.Add(inv.Outstanding)
		}
	}
	return total, nil
}

func (r *memoryRepo) SummarizeAccount(_ context.Context, unitID int64, f StatementFilter, yearStart time.Time) (StatementSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	summary := StatementSummary{TotalOutstanding: decimal.Zero, PaidThisYear: decimal.Zero}
	for _, inv := range r.invoices {
		if inv.UnitID != unitID || inv.Status == InvoiceVoid ||
			(f.FromPeriod != "" && inv.Period < f.FromPeriod) || (f.ToPeriod != "" && inv.Period > f.ToPeriod) {
			continue
		}
		summary.TotalOutstanding = summary.TotalOutstanding.Add(inv.Outstanding)
		switch inv.Status {
		case InvoiceIssued, InvoicePending, InvoicePartiallyPaid:
			summary.PendingInvoices++
		case InvoiceOverdue:
			summary.OverdueInvoices++
		}
	}
	yearEnd := yearStart.AddDate(1, 0, 0)
	for _, p := range r.payments {
		if p.UnitID != unitID || p.Status != PaymentConfirmed {
			continue
		}
		if summary.LastPaymentAt == nil || p.ReceivedAt.After(*summary.LastPaymentAt) {
			at := p.ReceivedAt
			summary.LastPaymentAt = &at
		}
		if !p.ReceivedAt.Before(yearStart) && p.ReceivedAt.Before(yearEnd) {
			summary.PaidThisYear = summary.PaidThisYear.Add(p.Amount)
		}
	}
	return summary, nil
}

func (r *memoryRepo) GetPayment(_ context.Context, id int64) (Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return Payment{}, notFound("payment", id)
	}
	return p, nil
}

func (r *memoryRepo) GetPaymentByIntent(_ context.Context, intentID string) (Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.GatewayIntentID != "" && p.GatewayIntentID == intentID {
			return p, nil
		}
	}
	return Payment{}, notFound("payment", intentID)
}

func (r *memoryRepo) ListPayments(_ context.Context, f PaymentFilter) ([]Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	statuses := make(map[PaymentStatus]struct{}, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses[s] = struct{}{}
	}
	var out []Payment
	for _, p := range r.payments {
		switch {
		case f.UnitID > 0 && p.UnitID != f.UnitID,
			f.MethodID > 0 && p.MethodID != f.MethodID,
			!f.From.IsZero() && p.ReceivedAt.Before(f.From),
			!f.To.IsZero() && !p.ReceivedAt.Before(f.To):
			continue
		}
		if len(statuses) > 0 {
			if _, ok := statuses[p.Status]; !ok {
				continue
			}
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.After(out[j].ReceivedAt)
		}
		return out[i].ID > out[j].ID
	})
	return paginate(out, f.Page), nil
}

func (r *memoryRepo) ListAllocations(_ context.Context, f AllocationFilter) ([]Allocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Allocation
	for _, a := range r.allocations {
		if (f.PaymentID > 0 && a.PaymentID != f.PaymentID) || (f.InvoiceID > 0 && a.InvoiceID != f.InvoiceID) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) GetCertificateByCode(_ context.Context, code string) (Certificate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.certificates {
		if c.VerificationCode == code {
			return c, nil
		}
	}
	return Certificate{}, notFound("certificate", code)
}

func (r *memoryRepo) ListCertificates(_ context.Context, unitID int64) ([]Certificate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Certificate
	for _, c := range r.certificates {
		if c.UnitID == unitID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) InsertInvoice(_ context.Context, inv Invoice) (Invoice, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failInsertInvoice[inv.UnitID]; err != nil {
		return Invoice{}, err
	}
	for _, existing := range r.invoices {
		if existing.UnitID == inv.UnitID && existing.ConceptID == inv.ConceptID && existing.Period == inv.Period {
			return Invoice{}, ErrDuplicateInvoice
		}
	}
	inv.ID = r.id()
	r.invoices[inv.ID] = inv
	return inv, nil
}

func (t *memoryTx) LockInvoices(_ context.Context, ids []int64) ([]Invoice, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Invoice
	for _, id := range ids {
		if inv, ok := r.invoices[id]; ok {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memoryTx) LockOpenInvoices(_ context.Context, unitID int64) ([]Invoice, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Invoice
	for _, inv := range r.invoices {
		if inv.UnitID == unitID && inv.Open() {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memoryTx) UpdateInvoiceBalance(_ context.Context, inv Invoice) error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failUpdateInvoice[inv.ID]; err != nil {
		return err
	}
	current, ok := r.invoices[inv.ID]
	if !ok {
		return notFound("invoice", inv.ID)
	}
	current.Interest = inv.Interest
	current.Total = inv.Total
	current.Outstanding = inv.Outstanding
	current.Status = inv.Status
	if inv.InterestUpdatedAt != nil {
		current.InterestUpdatedAt = inv.InterestUpdatedAt
	}
	current.UpdatedAt = inv.UpdatedAt
	r.invoices[inv.ID] = current
	return nil
}

func (t *memoryTx) InsertPayment(_ context.Context, p Payment) (Payment, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = r.id()
	r.payments[p.ID] = p
	return p, nil
}

func (t *memoryTx) LockPayment(_ context.Context, id int64) (Payment, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return Payment{}, notFound("payment", id)
	}
	return p, nil
}

func (t *memoryTx) UpdatePayment(_ context.Context, p Payment) error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[p.ID]; !ok {
		return notFound("payment", p.ID)
	}
	r.payments[p.ID] = p
	return nil
}

func (t *memoryTx) InsertAllocation(_ context.Context, a Allocation) (Allocation, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	a.ID = r.id()
	r.allocations[a.ID] = a
	return a, nil
}

func (t *memoryTx) ListAllocationsForPayment(ctx context.Context, paymentID int64) ([]Allocation, error) {
	return t.repo.ListAllocations(ctx, AllocationFilter{PaymentID: paymentID})
}

func (t *memoryTx) DeleteAllocations(_ context.Context, paymentID int64) error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range r.allocations {
		if a.PaymentID == paymentID {
			delete(r.allocations, id)
		}
	}
	return nil
}

func (t *memoryTx) InsertCertificate(_ context.Context, c Certificate) (Certificate, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = r.id()
	r.certificates[c.ID] = c
	return c, nil
}

func sortInvoices(invoices []Invoice) {
	sort.Slice(invoices, func(i, j int) bool {
		if !invoices[i].DueAt.Equal(invoices[j].DueAt) {
			return invoices[i].DueAt.Before(invoices[j].DueAt)
		}
		return invoices[i].ID < invoices[j].ID
	})
}

func paginate[T any](items []T, page shared.Page) []T {
	if page.Limit <= 0 {
		return items
	}
	if page.Offset >= len(items) {
		return nil
	}
	end := page.Offset + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[page.Offset:end]
}

// memoryUnits is a fixed unit directory.
type memoryUnits struct {
	units map[int64]Unit
}

func newMemoryUnits(units ...Unit) *memoryUnits {
	m := &memoryUnits{units: make(map[int64]Unit)}
	for _, u := range units {
		m.units[u.ID] = u
	}
	return m
}

func (m *memoryUnits) GetUnit(_ context.Context, id int64) (Unit, error) {
	u, ok := m.units[id]
	if !ok {
		return Unit{}, notFound("unit", id)
	}
	return u, nil
}

func (m *memoryUnits) ListUnits(_ context.Context, f UnitFilter) ([]Unit, error) {
	blocks := make(map[string]struct{}, len(f.Blocks))
	for _, b := range f.Blocks {
		blocks[b] = struct{}{}
	}
	ids := make(map[int64]struct{}, len(f.UnitIDs))
	for _, id := range f.UnitIDs {
		ids[id] = struct{}{}
	}
	var out []Unit
	for _, u := range m.units {
		if f.OccupiedOnly && !u.Occupied {
			continue
		}
		if len(blocks) > 0 {
			if _, ok := blocks[u.Block]; !ok {
				continue
			}
		}
		if len(ids) > 0 {
			if _, ok := ids[u.ID]; !ok {
				continue
			}
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type stubGateway struct {
	mu       sync.Mutex
	seq      int
	outcomes map[string]ChargeStatus
	charged  map[string]decimal.Decimal
	requests []ChargeRequest
}

func newStubGateway() *stubGateway {
	return &stubGateway{outcomes: make(map[string]ChargeStatus), charged: make(map[string]decimal.Decimal)}
}

func (g *stubGateway) CreateChargeIntent(_ context.Context, req ChargeRequest) (ChargeIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("pi_stub_%d", g.seq)
	g.outcomes[id] = ChargeProcessing
	g.charged[id] = req.Amount
	g.requests = append(g.requests, req)
	return ChargeIntent{ID: id, ClientSecret: id + "_secret", Status: "requires_payment_method"}, nil
}

func (g *stubGateway) ConfirmCharge(_ context.Context, intentID string) (ChargeOutcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	status, ok := g.outcomes[intentID]
	if !ok {
		return ChargeOutcome{}, fmt.Errorf("unknown intent %s", intentID)
	}
	return ChargeOutcome{IntentID: intentID, Status: status, Amount: g.charged[intentID]}, nil
}

func (g *stubGateway) settle(intentID string, status ChargeStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outcomes[intentID] = status
}

func (g *stubGateway) settleAmount(intentID string, status ChargeStatus, amount decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outcomes[intentID] = status
	g.charged[intentID] = amount
}

type memoryAudit struct {
	mu      sync.Mutex
	entries []shared.AuditLog
}

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, log)
	return nil
}

func (a *memoryAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]struct{})
	}
	if _, ok := m.keys[module+"/"+key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+"/"+key] = struct{}{}
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+"/"+key)
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     *Service
	repo    *memoryRepo
	units   *memoryUnits
	gateway *stubGateway
	audit   *memoryAudit
	clock   *testClock
}

var operator = shared.Caller{UserID: 1, Name: "admin"}

func newFixture(t *testing.T, cfg ServiceConfig) *fixture {
	t.Helper()
	f := &fixture{
		repo: newMemoryRepo(),
		units: newMemoryUnits(
			Unit{ID: 1, Code: "A-101", Block: "A", Type: "apartment", Area: d("60"), Occupied: true},
			Unit{ID: 2, Code: "B-201", Block: "B", Type: "commercial", Area: d("40"), Occupied: true},
			Unit{ID: 3, Code: "A-102", Block: "A", Type: "apartment", Area: d("0"), Occupied: false},
		),
		gateway: newStubGateway(),
		audit:   &memoryAudit{},
		clock:   &testClock{now: testNow},
	}
	f.repo.nextID = 100
	f.svc = NewService(Dependencies{
		Repo:        f.repo,
		Units:       f.units,
		Gateway:     f.gateway,
		Audit:       f.audit,
		Idempotency: &memoryIdempotency{},
		Clock:       f.clock.Now,
	}, cfg)
	return f
}

func (f *fixture) addConcept(t *testing.T, c Concept) Concept {
	t.Helper()
	if c.Kind == "" {
		c.Kind = ConceptFixed
	}
	if c.Frequency == "" {
		c.Frequency = FrequencyMonthly
	}
	c.Active = true
	stored, err := f.repo.CreateConcept(context.Background(), c)
	require.NoError(t, err)
	return stored
}

// addInvoice stores an unpaid invoice with the status its due date implies.
func (f *fixture) addInvoice(t *testing.T, unitID, conceptID int64, period, amount string, dueAt time.Time) Invoice {
	t.Helper()
	total := d(amount)
	inv := Invoice{
		Number:      fmt.Sprintf("INV-TEST-%s-%d-%d", period, unitID, conceptID),
		UnitID:      unitID,
		ConceptID:   conceptID,
		Period:      period,
		IssuedAt:    testNow.AddDate(0, -1, 0),
		DueAt:       dueAt,
		Original:    total,
		Total:       total,
		Outstanding: total,
		Status:      DeriveState(total, total, dueAt, f.clock.Now()),
	}
	var stored Invoice
	err := f.repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		var err error
		stored, err = tx.InsertInvoice(ctx, inv)
		return err
	})
	require.NoError(t, err)
	return stored
}

func (f *fixture) invoice(t *testing.T, id int64) Invoice {
	t.Helper()
	inv, err := f.repo.GetInvoice(context.Background(), id)
	require.NoError(t, err)
	return inv
}
