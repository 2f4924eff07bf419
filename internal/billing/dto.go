package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

type generateInvoicesRequest struct {
	ConceptIDs []int64        `json:"concept_ids" validate:"required,min=1,dive,gt=0"`
	Period     string         `json:"period" validate:"required,len=7"`
	DueAt      string         `json:"due_at" validate:"omitempty,datetime=2006-01-02"`
	Notes      string         `json:"notes" validate:"max=500"`
	Filter     GenerateFilter `json:"filter"`
}

type recordPaymentRequest struct {
	UnitID      int64            `json:"unit_id" validate:"required,gt=0"`
	Amount      decimal.Decimal  `json:"amount"`
	Method      string           `json:"method" validate:"required,max=40"`
	Reference   string           `json:"reference" validate:"max=120"`
	ReceivedAt  *time.Time       `json:"received_at"`
	Notes       string           `json:"notes" validate:"max=500"`
	Allocations []AllocationLine `json:"allocations" validate:"omitempty,dive"`
	InvoiceIDs  []int64          `json:"invoice_ids" validate:"omitempty,dive,gt=0"`
}

type allocatePaymentRequest struct {
	Allocations []AllocationLine `json:"allocations" validate:"required,min=1"`
}

type reversePaymentRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type gatewayCallbackRequest struct {
	IntentID string `json:"intent_id" validate:"required"`
}

type interestRunRequest struct {
	AsOf   string `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
	DryRun bool   `json:"dry_run"`
}

type issueCertificateRequest struct {
	Cutoff *time.Time `json:"cutoff"`
}

type createConceptRequest struct {
	Name         string          `json:"name" validate:"required,max=120"`
	Description  string          `json:"description" validate:"max=500"`
	Kind         ConceptKind     `json:"kind" validate:"required,oneof=fixed variable extraordinary"`
	BaseAmount   decimal.Decimal `json:"base_amount"`
	Frequency    Frequency       `json:"frequency" validate:"required,oneof=monthly bimonthly quarterly semiannual annual one_time"`
	Mandatory    *bool           `json:"mandatory"`
	AppliesToAll *bool           `json:"applies_to_all"`
	Rules        AmountRules     `json:"rules"`
	MoraRate     decimal.Decimal `json:"mora_rate"`
}
