package billing

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/backresidences/billing/internal/money"
	"github.com/backresidences/billing/internal/shared"
)

// ComputeAmount prices concept for unit: the base amount, multiplied by the
// unit area for area based concepts, then by the factor for the unit type
// when one is configured.
func ComputeAmount(c Concept, u Unit) decimal.Decimal {
	amount := c.BaseAmount
	if c.Rules.Basis == BasisArea {
		amount = amount.Mul(u.Area)
	}
	if factor, ok := c.Rules.TypeFactors[u.Type]; ok {
		amount = amount.Mul(factor)
	}
	return money.Round(amount)
}

// CreateConceptInput describes a new catalog entry.
type CreateConceptInput struct {
	Name         string
	Description  string
	Kind         ConceptKind
	BaseAmount   decimal.Decimal
	Frequency    Frequency
	Mandatory    bool
	AppliesToAll bool
	Rules        AmountRules
	MoraRate     decimal.Decimal
	Caller       shared.Caller
}

func (in CreateConceptInput) validate() error {
	v := newValidationError()
	if strings.TrimSpace(in.Name) == "" {
		v.Add("name", "required")
	}
	switch in.Kind {
	case ConceptFixed, ConceptVariable, ConceptExtraordinary:
	default:
		v.Add("kind", "must be fixed, variable or extraordinary")
	}
	switch in.Frequency {
	case FrequencyMonthly, FrequencyBimonthly, FrequencyQuarterly, FrequencySemiannual, FrequencyAnnual, FrequencyOneTime:
	default:
		v.Add("frequency", "unknown frequency")
	}
	if in.BaseAmount.Sign() < 0 {
		v.Add("base_amount", "must not be negative")
	}
	if in.MoraRate.Sign() < 0 {
		v.Add("mora_rate", "must not be negative")
	}
	switch in.Rules.Basis {
	case "", BasisFlat, BasisArea:
	default:
		v.Add("rules.basis", "must be flat or area")
	}
	for unitType, factor := range in.Rules.TypeFactors {
		if factor.Sign() <= 0 {
			v.Add("rules.type_factors."+unitType, "must be positive")
		}
	}
	return v.orNil()
}

// CreateConcept adds a concept to the catalog.
func (s *Service) CreateConcept(ctx context.Context, in CreateConceptInput) (Concept, error) {
	if err := in.validate(); err != nil {
		return Concept{}, err
	}
	rules := in.Rules
	if rules.Basis == "" {
		rules.Basis = BasisFlat
	}
	now := s.now()
	concept, err := s.repo.CreateConcept(ctx, Concept{
		Name:         strings.TrimSpace(in.Name),
		Description:  strings.TrimSpace(in.Description),
		Kind:         in.Kind,
		BaseAmount:   money.Round(in.BaseAmount),
		Frequency:    in.Frequency,
		Mandatory:    in.Mandatory,
		AppliesToAll: in.AppliesToAll,
		Rules:        rules,
		MoraRate:     in.MoraRate,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return Concept{}, err
	}
	s.record(ctx, in.Caller, "concept.created", "payment_concept", concept.ID, map[string]any{"name": concept.Name})
	return concept, nil
}

// DeactivateConcept retires a concept. Issued invoices keep referencing it.
func (s *Service) DeactivateConcept(ctx context.Context, id int64, caller shared.Caller) error {
	if _, err := s.repo.GetConcept(ctx, id); err != nil {
		return err
	}
	if err := s.repo.SetConceptActive(ctx, id, false); err != nil {
		return err
	}
	s.record(ctx, caller, "concept.deactivated", "payment_concept", id, nil)
	return nil
}

// ListConcepts returns the catalog.
func (s *Service) ListConcepts(ctx context.Context, activeOnly bool) ([]Concept, error) {
	return s.repo.ListConcepts(ctx, activeOnly)
}

// ListMethods returns the payment methods in display order.
func (s *Service) ListMethods(ctx context.Context, activeOnly bool) ([]Method, error) {
	return s.repo.ListMethods(ctx, activeOnly)
}
