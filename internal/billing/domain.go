package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConceptKind classifies a billable concept.
type ConceptKind string

const (
	ConceptFixed         ConceptKind = "fixed"
	ConceptVariable      ConceptKind = "variable"
	ConceptExtraordinary ConceptKind = "extraordinary"
)

// Frequency describes how often a concept is billed.
type Frequency string

const (
	FrequencyMonthly    Frequency = "monthly"
	FrequencyBimonthly  Frequency = "bimonthly"
	FrequencyQuarterly  Frequency = "quarterly"
	FrequencySemiannual Frequency = "semiannual"
	FrequencyAnnual     Frequency = "annual"
	FrequencyOneTime    Frequency = "one_time"
)

// AmountBasis selects how the base amount scales with the unit.
type AmountBasis string

const (
	BasisFlat AmountBasis = "flat"
	BasisArea AmountBasis = "area"
)

// AmountRules refine the base amount of a concept for a unit.
type AmountRules struct {
	Basis       AmountBasis                `json:"basis,omitempty"`
	TypeFactors map[string]decimal.Decimal `json:"type_factors,omitempty"`
}

// Concept is a billable item of the catalog.
type Concept struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Kind         ConceptKind     `json:"kind"`
	BaseAmount   decimal.Decimal `json:"base_amount"`
	Frequency    Frequency       `json:"frequency"`
	Mandatory    bool            `json:"mandatory"`
	AppliesToAll bool            `json:"applies_to_all"`
	Rules        AmountRules     `json:"rules"`
	MoraRate     decimal.Decimal `json:"mora_rate"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Method is an accepted payment channel.
type Method struct {
	ID                int64           `json:"id"`
	Code              string          `json:"code"`
	Name              string          `json:"name"`
	RequiresReference bool            `json:"requires_reference"`
	RequiresReceipt   bool            `json:"requires_receipt"`
	CommissionPct     decimal.Decimal `json:"commission_pct"`
	Gateway           bool            `json:"gateway"`
	Config            map[string]any  `json:"config,omitempty"`
	DisplayOrder      int             `json:"display_order"`
	Active            bool            `json:"active"`
}

// InvoiceStatus is the lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoiceIssued        InvoiceStatus = "issued"
	InvoicePending       InvoiceStatus = "pending"
	InvoicePartiallyPaid InvoiceStatus = "partially_paid"
	InvoicePaid          InvoiceStatus = "paid"
	InvoiceOverdue       InvoiceStatus = "overdue"
	InvoiceVoid          InvoiceStatus = "void"
)

// Invoice is a charge against a unit for one concept and period.
type Invoice struct {
	ID                int64           `json:"id"`
	Number            string          `json:"number"`
	UnitID            int64           `json:"unit_id"`
	ConceptID         int64           `json:"concept_id"`
	Period            string          `json:"period"`
	IssuedAt          time.Time       `json:"issued_at"`
	DueAt             time.Time       `json:"due_at"`
	Original          decimal.Decimal `json:"original_amount"`
	Discount          decimal.Decimal `json:"discount"`
	Interest          decimal.Decimal `json:"interest"`
	Total             decimal.Decimal `json:"total"`
	Outstanding       decimal.Decimal `json:"outstanding"`
	Status            InvoiceStatus   `json:"status"`
	Notes             string          `json:"notes,omitempty"`
	GeneratedBy       int64           `json:"generated_by,omitempty"`
	InterestUpdatedAt *time.Time      `json:"interest_updated_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Paid returns the amount allocated to the invoice.
func (i Invoice) Paid() decimal.Decimal {
	return i.Total.Sub(i.Outstanding)
}

// Open reports whether the invoice can still receive allocations.
func (i Invoice) Open() bool {
	return i.Status != InvoiceVoid && i.Outstanding.Sign() > 0
}

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentRejected  PaymentStatus = "rejected"
	PaymentReversed  PaymentStatus = "reversed"
)

// AllocationLine assigns part of a payment to one invoice.
type AllocationLine struct {
	InvoiceID int64           `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// AllocationRequest chooses how a payment is spread. Lines selects explicit
// distribution; otherwise open invoices (restricted to InvoiceIDs when given)
// are paid oldest due date first.
type AllocationRequest struct {
	Lines      []AllocationLine `json:"lines,omitempty"`
	InvoiceIDs []int64          `json:"invoice_ids,omitempty"`
}

// Explicit reports whether the request carries explicit lines.
func (r AllocationRequest) Explicit() bool {
	return len(r.Lines) > 0
}

// Payment is money received from a unit.
type Payment struct {
	ID                int64              `json:"id"`
	Number            string             `json:"number"`
	UnitID            int64              `json:"unit_id"`
	Amount            decimal.Decimal    `json:"amount"`
	MethodID          int64              `json:"method_id"`
	MethodCode        string             `json:"method_code"`
	Reference         string             `json:"reference,omitempty"`
	ReceivedAt        time.Time          `json:"received_at"`
	RegisteredAt      time.Time          `json:"registered_at"`
	Status            PaymentStatus      `json:"status"`
	RegisteredBy      int64              `json:"registered_by,omitempty"`
	ConfirmedBy       int64              `json:"confirmed_by,omitempty"`
	ConfirmedAt       *time.Time         `json:"confirmed_at,omitempty"`
	ReversedBy        int64              `json:"reversed_by,omitempty"`
	ReversedAt        *time.Time         `json:"reversed_at,omitempty"`
	ReversalReason    string             `json:"reversal_reason,omitempty"`
	GatewayIntentID   string             `json:"gateway_intent_id,omitempty"`
	AllocationRequest *AllocationRequest `json:"allocation_request,omitempty"`
	Notes             string             `json:"notes,omitempty"`
}

// Allocation links part of a payment to an invoice.
type Allocation struct {
	ID        int64           `json:"id"`
	PaymentID int64           `json:"payment_id"`
	InvoiceID int64           `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// Certificate is a clearance certificate ("paz y salvo") for a unit.
type Certificate struct {
	ID               int64           `json:"id"`
	Number           string          `json:"number"`
	UnitID           int64           `json:"unit_id"`
	Cutoff           time.Time       `json:"cutoff"`
	Outstanding      decimal.Decimal `json:"outstanding"`
	IssuedAt         time.Time       `json:"issued_at"`
	ExpiresAt        time.Time       `json:"expires_at"`
	VerificationCode string          `json:"verification_code"`
	IssuedBy         int64           `json:"issued_by,omitempty"`
}

// IsValid reports a debt-free certificate that has not expired at now.
func (c Certificate) IsValid(now time.Time) bool {
	return c.Outstanding.Sign() == 0 && !now.After(c.ExpiresAt)
}

// Unit is the slice of the unit directory the ledger needs.
type Unit struct {
	ID        int64           `json:"id"`
	Code      string          `json:"code"`
	Block     string          `json:"block"`
	Type      string          `json:"type"`
	Area      decimal.Decimal `json:"area"`
	OwnerID   int64           `json:"owner_id,omitempty"`
	OwnerName string          `json:"owner_name,omitempty"`
	Occupied  bool            `json:"occupied"`
}
