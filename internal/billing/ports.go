package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/backresidences/billing/internal/shared"
)

// RepositoryPort abstracts persistence used by the service. Reads go straight
// to the store; writes happen through WithTx.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// NextNumber commits independently of any caller transaction so a
	// number is never handed out twice.
	NextNumber(ctx context.Context, kind DocumentKind, year int) (int64, error)

	GetConcept(ctx context.Context, id int64) (Concept, error)
	ListConcepts(ctx context.Context, activeOnly bool) ([]Concept, error)
	CreateConcept(ctx context.Context, concept Concept) (Concept, error)
	SetConceptActive(ctx context.Context, id int64, active bool) error
	GetMethodByCode(ctx context.Context, code string) (Method, error)
	ListMethods(ctx context.Context, activeOnly bool) ([]Method, error)

	InvoiceExists(ctx context.Context, unitID, conceptID int64, period string) (bool, error)
	DelinquentUnitIDs(ctx context.Context, asOf time.Time) ([]int64, error)
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error)
	ListAccruableInvoiceIDs(ctx context.Context, asOf time.Time) ([]int64, error)
	SumOutstanding(ctx context.Context, unitID int64, cutoff time.Time) (decimal.Decimal, error)
	// SummarizeAccount aggregates over every invoice in the period range and
	// every confirmed payment of the unit, independent of list pagination.
	SummarizeAccount(ctx context.Context, unitID int64, filter StatementFilter, yearStart time.Time) (StatementSummary, error)

	GetPayment(ctx context.Context, id int64) (Payment, error)
	GetPaymentByIntent(ctx context.Context, intentID string) (Payment, error)
	ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error)
	ListAllocations(ctx context.Context, filter AllocationFilter) ([]Allocation, error)

	GetCertificateByCode(ctx context.Context, code string) (Certificate, error)
	ListCertificates(ctx context.Context, unitID int64) ([]Certificate, error)
}

// TxRepository exposes the transactional operations. Lock* methods take row
// locks that are held until the transaction ends.
type TxRepository interface {
	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	LockInvoices(ctx context.Context, ids []int64) ([]Invoice, error)
	LockOpenInvoices(ctx context.Context, unitID int64) ([]Invoice, error)
	UpdateInvoiceBalance(ctx context.Context, inv Invoice) error

	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	LockPayment(ctx context.Context, id int64) (Payment, error)
	UpdatePayment(ctx context.Context, p Payment) error

	InsertAllocation(ctx context.Context, a Allocation) (Allocation, error)
	ListAllocationsForPayment(ctx context.Context, paymentID int64) ([]Allocation, error)
	DeleteAllocations(ctx context.Context, paymentID int64) error

	InsertCertificate(ctx context.Context, c Certificate) (Certificate, error)
}

// UnitDirectory is the read-only view of residential units.
type UnitDirectory interface {
	GetUnit(ctx context.Context, id int64) (Unit, error)
	ListUnits(ctx context.Context, filter UnitFilter) ([]Unit, error)
}

// UnitFilter narrows ListUnits.
type UnitFilter struct {
	Blocks       []string
	OccupiedOnly bool
	UnitIDs      []int64
}

// ChargeRequest asks the gateway for a payment intent.
type ChargeRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Description string
	Metadata    map[string]string
}

// ChargeIntent is the gateway side handle of a pending charge.
type ChargeIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret,omitempty"`
	Status       string `json:"status"`
}

// ChargeStatus is the settled state reported by the gateway.
type ChargeStatus string

const (
	ChargeSucceeded  ChargeStatus = "succeeded"
	ChargeFailed     ChargeStatus = "failed"
	ChargeProcessing ChargeStatus = "processing"
)

// ChargeOutcome is the result of querying a charge intent.
type ChargeOutcome struct {
	IntentID string
	Status   ChargeStatus
	Amount   decimal.Decimal
}

// Gateway creates and confirms card/PSE charges.
type Gateway interface {
	CreateChargeIntent(ctx context.Context, req ChargeRequest) (ChargeIntent, error)
	ConfirmCharge(ctx context.Context, intentID string) (ChargeOutcome, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort claims client request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// InvoiceFilter narrows invoice listings.
type InvoiceFilter struct {
	UnitID     int64
	ConceptID  int64
	Period     string
	FromPeriod string
	ToPeriod   string
	Statuses   []InvoiceStatus
	DueFrom    time.Time
	DueTo      time.Time
	OpenOnly   bool
	Page       shared.Page
}

// PaymentFilter narrows payment listings.
type PaymentFilter struct {
	UnitID   int64
	MethodID int64
	Statuses []PaymentStatus
	From     time.Time
	To       time.Time
	Page     shared.Page
}

// AllocationFilter selects allocations by payment or invoice.
type AllocationFilter struct {
	PaymentID int64
	InvoiceID int64
}
