package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/backresidences/billing/internal/shared"
)

// GenerateFilter selects the units billed by a generation run.
type GenerateFilter struct {
	Blocks            []string `json:"blocks,omitempty"`
	OccupiedOnly      bool     `json:"occupied_only,omitempty"`
	ExcludeDelinquent bool     `json:"exclude_delinquent,omitempty"`
	UnitIDs           []int64  `json:"unit_ids,omitempty"`
}

// GenerateInput drives GenerateInvoices.
type GenerateInput struct {
	ConceptIDs []int64
	Period     string
	DueAt      time.Time
	Notes      string
	Filter     GenerateFilter
	Caller     shared.Caller
}

// GenerateResult summarises a generation run.
type GenerateResult struct {
	RunID           string      `json:"run_id"`
	Period          string      `json:"period"`
	InvoicesCreated int         `json:"invoices_created"`
	Skipped         int         `json:"skipped"`
	UnitsProcessed  int         `json:"units_processed"`
	ConceptsApplied []string    `json:"concepts_applied"`
	Errors          []ItemError `json:"errors,omitempty"`
}

// Err returns a PartialBatchError when some items failed.
func (r GenerateResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return &PartialBatchError{Items: r.Errors}
}

// GenerateInvoices bills every selected unit for every concept of the period.
// Existing (unit, concept, period) invoices and non-positive amounts are
// skipped. Each invoice commits on its own; failures are collected in the
// result instead of aborting the run.
func (s *Service) GenerateInvoices(ctx context.Context, in GenerateInput) (GenerateResult, error) {
	v := newValidationError()
	if len(in.ConceptIDs) == 0 {
		v.Add("concept_ids", "at least one concept is required")
	}
	if _, err := shared.ParsePeriod(in.Period); err != nil {
		v.Add("period", err.Error())
	}
	if err := v.orNil(); err != nil {
		return GenerateResult{}, err
	}

	concepts := make([]Concept, 0, len(in.ConceptIDs))
	seen := make(map[int64]struct{}, len(in.ConceptIDs))
	for _, id := range in.ConceptIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		c, err := s.repo.GetConcept(ctx, id)
		if errors.Is(err, ErrNotFound) {
			v.Add("concept_ids", fmt.Sprintf("concept %d not found", id))
			continue
		}
		if err != nil {
			return GenerateResult{}, err
		}
		if !c.Active {
			v.Add("concept_ids", fmt.Sprintf("concept %d is inactive", id))
			continue
		}
		concepts = append(concepts, c)
	}
	if err := v.orNil(); err != nil {
		return GenerateResult{}, err
	}

	now := s.now()
	dueAt := in.DueAt
	if dueAt.IsZero() {
		dueAt = truncateDay(now).AddDate(0, 0, s.cfg.DefaultDueDays)
	}

	units, err := s.units.ListUnits(ctx, UnitFilter{
		Blocks:       in.Filter.Blocks,
		OccupiedOnly: in.Filter.OccupiedOnly,
		UnitIDs:      in.Filter.UnitIDs,
	})
	if err != nil {
		return GenerateResult{}, fmt.Errorf("billing: list units: %w", err)
	}
	if in.Filter.ExcludeDelinquent {
		units, err = s.withoutDelinquent(ctx, units, now)
		if err != nil {
			return GenerateResult{}, err
		}
	}

	result := GenerateResult{RunID: uuid.NewString(), Period: in.Period}
	explicit := len(in.Filter.UnitIDs) > 0
	for _, c := range concepts {
		if !c.AppliesToAll && !explicit {
			result.Errors = append(result.Errors, ItemError{ConceptID: c.ID, Message: "concept requires an explicit unit selection"})
			continue
		}
		result.ConceptsApplied = append(result.ConceptsApplied, c.Name)
	}

	logger := s.logger.With(slog.String("run_id", result.RunID), slog.String("period", in.Period))
	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.UnitsProcessed++
		for _, c := range concepts {
			if !c.AppliesToAll && !explicit {
				continue
			}
			created, err := s.generateOne(ctx, c, unit, in, dueAt, now)
			switch {
			case err != nil:
				logger.Warn("invoice generation failed", slog.Int64("unit_id", unit.ID), slog.Int64("concept_id", c.ID), slog.Any("error", err))
				result.Errors = append(result.Errors, ItemError{UnitID: unit.ID, ConceptID: c.ID, Message: err.Error()})
			case created:
				result.InvoicesCreated++
			default:
				result.Skipped++
			}
		}
	}

	logger.Info("invoice generation finished",
		slog.Int("created", result.InvoicesCreated),
		slog.Int("skipped", result.Skipped),
		slog.Int("units", result.UnitsProcessed),
		slog.Int("errors", len(result.Errors)),
	)
	s.record(ctx, in.Caller, "invoices.generated", "invoice_run", 0, map[string]any{
		"run_id":  result.RunID,
		"period":  in.Period,
		"created": result.InvoicesCreated,
		"errors":  len(result.Errors),
	})
	return result, nil
}

// generateOne creates a single invoice; false without error means skipped.
func (s *Service) generateOne(ctx context.Context, c Concept, unit Unit, in GenerateInput, dueAt, now time.Time) (bool, error) {
	exists, err := s.repo.InvoiceExists(ctx, unit.ID, c.ID, in.Period)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	amount := ComputeAmount(c, unit)
	if amount.Sign() <= 0 {
		return false, nil
	}
	number, err := s.nextNumber(ctx, DocInvoice, now)
	if err != nil {
		return false, err
	}
	inv := Invoice{
		Number:      number,
		UnitID:      unit.ID,
		ConceptID:   c.ID,
		Period:      in.Period,
		IssuedAt:    now,
		DueAt:       truncateDay(dueAt),
		Original:    amount,
		Total:       amount,
		Outstanding: amount,
		Status:      InvoiceIssued,
		Notes:       in.Notes,
		GeneratedBy: in.Caller.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := checkInvoice(inv); err != nil {
		return false, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := tx.InsertInvoice(ctx, inv)
		return err
	})
	if errors.Is(err, ErrDuplicateInvoice) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) withoutDelinquent(ctx context.Context, units []Unit, asOf time.Time) ([]Unit, error) {
	ids, err := s.repo.DelinquentUnitIDs(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("billing: delinquent units: %w", err)
	}
	if len(ids) == 0 {
		return units, nil
	}
	delinquent := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		delinquent[id] = struct{}{}
	}
	kept := units[:0:0]
	for _, u := range units {
		if _, ok := delinquent[u.ID]; !ok {
			kept = append(kept, u)
		}
	}
	return kept, nil
}
