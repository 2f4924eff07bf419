package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/backresidences/billing/internal/money"
	"github.com/backresidences/billing/internal/shared"
)

var (
	thirty  = decimal.NewFromInt(30)
	hundred = decimal.NewFromInt(100)
)

// accruableStatuses are the states whose interest is recomputed.
var accruableStatuses = map[InvoiceStatus]struct{}{
	InvoiceIssued:        {},
	InvoicePending:       {},
	InvoicePartiallyPaid: {},
	InvoiceOverdue:       {},
}

// ComputeInterest returns original x (rate/30/100) x days, rounded, or zero
// while days is within the grace period. rate is percent per 30 days.
func ComputeInterest(original, rate decimal.Decimal, days, graceDays int) decimal.Decimal {
	if days <= 0 || days <= graceDays || rate.Sign() <= 0 {
		return decimal.Zero
	}
	daily := rate.Div(thirty).Div(hundred)
	return money.Round(original.Mul(daily).Mul(decimal.NewFromInt(int64(days))))
}

// AccrualInput drives AccrueInterest.
type AccrualInput struct {
	AsOf   time.Time
	DryRun bool
	Caller shared.Caller
}

// InterestChange describes one invoice touched by an accrual run.
type InterestChange struct {
	InvoiceID      int64           `json:"invoice_id"`
	Number         string          `json:"number"`
	DaysOverdue    int             `json:"days_overdue"`
	Previous       decimal.Decimal `json:"previous_interest"`
	Current        decimal.Decimal `json:"current_interest"`
	PreviousStatus InvoiceStatus   `json:"previous_status"`
	Status         InvoiceStatus   `json:"status"`
}

// AccrualResult summarises an accrual run.
type AccrualResult struct {
	AsOf          time.Time        `json:"as_of"`
	DryRun        bool             `json:"dry_run"`
	Scanned       int              `json:"scanned"`
	Updated       int              `json:"updated"`
	MarkedOverdue int              `json:"marked_overdue"`
	InterestDelta decimal.Decimal  `json:"interest_delta"`
	Changes       []InterestChange `json:"changes,omitempty"`
	Errors        []ItemError      `json:"errors,omitempty"`
}

// AccrueInterest recomputes late interest from scratch for every overdue
// invoice with a balance. Each invoice is handled in its own transaction under
// a row lock, so concurrent runs and payments serialize and a rerun with the
// same AsOf changes nothing.
func (s *Service) AccrueInterest(ctx context.Context, in AccrualInput) (AccrualResult, error) {
	asOf := in.AsOf
	if asOf.IsZero() {
		asOf = s.now()
	}
	asOf = asOf.UTC()
	result := AccrualResult{AsOf: asOf, DryRun: in.DryRun, InterestDelta: decimal.Zero}

	ids, err := s.repo.ListAccruableInvoiceIDs(ctx, asOf)
	if err != nil {
		return result, fmt.Errorf("billing: list accruable invoices: %w", err)
	}
	rates := make(map[int64]decimal.Decimal)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++
		change, changed, err := s.accrueOne(ctx, id, asOf, in.DryRun, rates)
		if err != nil {
			if errors.Is(err, ErrInvariant) {
				s.logger.Error("interest accrual invariant", slog.Int64("invoice_id", id), slog.Any("error", err))
			}
			result.Errors = append(result.Errors, ItemError{InvoiceID: id, Message: err.Error()})
			continue
		}
		if !changed {
			continue
		}
		result.Updated++
		result.InterestDelta = result.InterestDelta.Add(change.Current.Sub(change.Previous))
		if change.Status == InvoiceOverdue && change.PreviousStatus != InvoiceOverdue {
			result.MarkedOverdue++
		}
		result.Changes = append(result.Changes, change)
	}

	s.logger.Info("interest accrual finished",
		slog.Time("as_of", asOf),
		slog.Bool("dry_run", in.DryRun),
		slog.Int("scanned", result.Scanned),
		slog.Int("updated", result.Updated),
		slog.Int("marked_overdue", result.MarkedOverdue),
		slog.String("interest_delta", result.InterestDelta.StringFixed(money.Places)),
	)
	if !in.DryRun && result.Updated > 0 {
		s.record(ctx, in.Caller, "interest.accrued", "invoice_run", 0, map[string]any{
			"as_of":          asOf,
			"updated":        result.Updated,
			"interest_delta": result.InterestDelta.StringFixed(money.Places),
		})
	}
	return result, nil
}

func (s *Service) accrueOne(ctx context.Context, id int64, asOf time.Time, dryRun bool, rates map[int64]decimal.Decimal) (InterestChange, bool, error) {
	if dryRun {
		inv, err := s.repo.GetInvoice(ctx, id)
		if err != nil {
			return InterestChange{}, false, err
		}
		rate, err := s.moraRate(ctx, inv.ConceptID, rates)
		if err != nil {
			return InterestChange{}, false, err
		}
		_, change, changed, err := s.applyInterest(inv, rate, asOf)
		return change, changed, err
	}

	var change InterestChange
	var changed bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockInvoices(ctx, []int64{id})
		if err != nil {
			return err
		}
		if len(locked) == 0 {
			return notFound("invoice", id)
		}
		rate, err := s.moraRate(ctx, locked[0].ConceptID, rates)
		if err != nil {
			return err
		}
		var updated Invoice
		updated, change, changed, err = s.applyInterest(locked[0], rate, asOf)
		if err != nil || !changed {
			return err
		}
		return tx.UpdateInvoiceBalance(ctx, updated)
	})
	return change, changed, err
}

// applyInterest recomputes interest for inv as of asOf. Allocated money is
// preserved: outstanding moves by the same delta as total.
func (s *Service) applyInterest(inv Invoice, rate decimal.Decimal, asOf time.Time) (Invoice, InterestChange, bool, error) {
	change := InterestChange{InvoiceID: inv.ID, Number: inv.Number, Previous: inv.Interest, Current: inv.Interest, PreviousStatus: inv.Status, Status: inv.Status}
	if _, ok := accruableStatuses[inv.Status]; !ok || inv.Outstanding.Sign() <= 0 {
		return inv, change, false, nil
	}
	days := DaysOverdue(inv.DueAt, asOf)
	if days <= 0 {
		return inv, change, false, nil
	}
	change.DaysOverdue = days

	allocated := inv.Paid()
	interest := ComputeInterest(inv.Original, rate, days, s.cfg.InterestGraceDays)
	next := inv
	next.Interest = interest
	next.Total = next.Original.Add(interest).Sub(next.Discount)
	next, err := settle(next, next.Total.Sub(allocated), asOf)
	if err != nil {
		return inv, change, false, err
	}
	change.Current = next.Interest
	change.Status = next.Status
	if next.Interest.Equal(inv.Interest) && next.Status == inv.Status {
		return inv, change, false, nil
	}
	at := asOf
	next.InterestUpdatedAt = &at
	return next, change, true, nil
}

func (s *Service) moraRate(ctx context.Context, conceptID int64, cache map[int64]decimal.Decimal) (decimal.Decimal, error) {
	if rate, ok := cache[conceptID]; ok {
		return rate, nil
	}
	c, err := s.repo.GetConcept(ctx, conceptID)
	if err != nil {
		return decimal.Zero, err
	}
	cache[conceptID] = c.MoraRate
	return c.MoraRate, nil
}
