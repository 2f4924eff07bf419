package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/backresidences/billing/internal/money"
	"github.com/backresidences/billing/internal/shared"
)

const idempotencyModulePayments = "billing.payments"

// RecordPaymentInput registers money received from a unit.
type RecordPaymentInput struct {
	UnitID         int64
	Amount         decimal.Decimal
	MethodCode     string
	Reference      string
	ReceivedAt     time.Time
	Notes          string
	Request        AllocationRequest
	IdempotencyKey string
	Caller         shared.Caller
}

// PaymentResult is returned by every operation that changes a payment.
type PaymentResult struct {
	Payment     Payment         `json:"payment"`
	Allocations []Allocation    `json:"allocations"`
	Unallocated decimal.Decimal `json:"unallocated"`
	Intent      *ChargeIntent   `json:"intent,omitempty"`
}

func (in RecordPaymentInput) validate() error {
	v := newValidationError()
	if in.UnitID <= 0 {
		v.Add("unit_id", "required")
	}
	if in.Amount.Sign() <= 0 {
		v.Add("amount", "must be positive")
	} else if !in.Amount.Equal(money.Round(in.Amount)) {
		v.Add("amount", "at most two decimal places")
	}
	if strings.TrimSpace(in.MethodCode) == "" {
		v.Add("method", "required")
	}
	if !in.Caller.Valid() {
		v.Add("caller", "authenticated caller required")
	}
	if sum := validateLines(v, in.Request.Lines); sum.GreaterThan(in.Amount) {
		v.Add("allocations", exceedsMessage(sum, in.Amount))
	}
	return v.orNil()
}

func exceedsMessage(sum, available decimal.Decimal) string {
	return fmt.Sprintf("allocated %s exceeds available %s", sum.StringFixed(money.Places), available.StringFixed(money.Places))
}

// validateLines checks what can be checked before invoices are locked and
// returns the requested total.
func validateLines(v *ValidationError, lines []AllocationLine) decimal.Decimal {
	seen := make(map[int64]struct{}, len(lines))
	sum := decimal.Zero
	for i, line := range lines {
		field := fmt.Sprintf("allocations[%d]", i)
		if line.InvoiceID <= 0 {
			v.Add(field+".invoice_id", "required")
		}
		if _, dup := seen[line.InvoiceID]; dup {
			v.Add(field+".invoice_id", "duplicate invoice")
		}
		seen[line.InvoiceID] = struct{}{}
		if line.Amount.Sign() <= 0 {
			v.Add(field+".amount", "must be positive")
		} else if !line.Amount.Equal(money.Round(line.Amount)) {
			v.Add(field+".amount", "at most two decimal places")
		}
		sum = sum.Add(line.Amount)
	}
	return sum
}

// RecordPayment stores a payment and distributes it over the unit's invoices.
// Explicit lines are all-or-nothing: any line above the invoice outstanding
// rejects the whole payment. Without lines, open invoices are paid oldest due
// date first and any surplus stays unallocated on the payment. Gateway
// methods store a pending payment and allocate on confirmation.
func (s *Service) RecordPayment(ctx context.Context, in RecordPaymentInput) (PaymentResult, error) {
	if err := in.validate(); err != nil {
		return PaymentResult{}, err
	}
	if _, err := s.getUnit(ctx, in.UnitID); err != nil {
		return PaymentResult{}, err
	}
	method, err := s.repo.GetMethodByCode(ctx, strings.TrimSpace(in.MethodCode))
	if errors.Is(err, ErrNotFound) || (err == nil && !method.Active) {
		return PaymentResult{}, invalid("method", "unknown or inactive payment method")
	}
	if err != nil {
		return PaymentResult{}, err
	}
	if method.RequiresReference && strings.TrimSpace(in.Reference) == "" {
		return PaymentResult{}, invalid("reference", "required for method "+method.Code)
	}
	if method.Gateway && s.gateway == nil {
		return PaymentResult{}, &ConflictError{Reason: "payment gateway not configured"}
	}

	if in.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, in.IdempotencyKey, idempotencyModulePayments); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return PaymentResult{}, &ConflictError{Reason: "idempotency key already used"}
			}
			return PaymentResult{}, err
		}
	}
	result, err := s.recordPayment(ctx, in, method)
	if err != nil && in.IdempotencyKey != "" && s.idempotency != nil {
		if delErr := s.idempotency.Delete(ctx, in.IdempotencyKey, idempotencyModulePayments); delErr != nil {
			s.logger.Warn("release idempotency key", slog.Any("error", delErr))
		}
	}
	return result, err
}

func (s *Service) recordPayment(ctx context.Context, in RecordPaymentInput, method Method) (PaymentResult, error) {
	now := s.now()
	number, err := s.nextNumber(ctx, DocPayment, now)
	if err != nil {
		return PaymentResult{}, err
	}
	receivedAt := in.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}
	payment := Payment{
		Number:       number,
		UnitID:       in.UnitID,
		Amount:       in.Amount,
		MethodID:     method.ID,
		MethodCode:   method.Code,
		Reference:    strings.TrimSpace(in.Reference),
		ReceivedAt:   receivedAt.UTC(),
		RegisteredAt: now,
		RegisteredBy: in.Caller.UserID,
		Notes:        in.Notes,
	}

	var intent *ChargeIntent
	if method.Gateway {
		created, err := s.gateway.CreateChargeIntent(ctx, ChargeRequest{
			Amount:      in.Amount,
			Currency:    s.cfg.Currency,
			Description: number,
			Metadata: map[string]string{
				"payment_number": number,
				"unit_id":        strconv.FormatInt(in.UnitID, 10),
			},
		})
		if err != nil {
			return PaymentResult{}, fmt.Errorf("billing: create charge intent: %w", err)
		}
		intent = &created
		req := in.Request
		payment.Status = PaymentPending
		payment.GatewayIntentID = created.ID
		payment.AllocationRequest = &req
	} else {
		payment.Status = PaymentConfirmed
		payment.ConfirmedBy = in.Caller.UserID
		payment.ConfirmedAt = &now
	}

	var result PaymentResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stored, err := tx.InsertPayment(ctx, payment)
		if err != nil {
			return err
		}
		result = PaymentResult{Payment: stored, Unallocated: decimal.Zero, Intent: intent}
		if stored.Status != PaymentConfirmed {
			return nil
		}
		allocations, err := s.allocate(ctx, tx, stored, in.Request, stored.Amount, false, now)
		if err != nil {
			return err
		}
		result.Allocations = allocations
		result.Unallocated = stored.Amount.Sub(sumAllocations(allocations))
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}

	s.logger.Info("payment recorded",
		slog.String("number", result.Payment.Number),
		slog.Int64("unit_id", result.Payment.UnitID),
		slog.String("status", string(result.Payment.Status)),
		slog.Int("allocations", len(result.Allocations)),
	)
	s.record(ctx, in.Caller, "payment.recorded", "payment", result.Payment.ID, map[string]any{
		"number":      result.Payment.Number,
		"amount":      result.Payment.Amount.StringFixed(money.Places),
		"method":      method.Code,
		"unallocated": result.Unallocated.StringFixed(money.Places),
	})
	return result, nil
}

// AllocateInput spreads the unallocated part of a confirmed payment.
type AllocateInput struct {
	PaymentID int64
	Lines     []AllocationLine
	Caller    shared.Caller
}

// AllocatePayment applies explicit lines against the unallocated surplus of a
// confirmed payment. The whole call fails if any line is invalid.
func (s *Service) AllocatePayment(ctx context.Context, in AllocateInput) (PaymentResult, error) {
	v := newValidationError()
	if in.PaymentID <= 0 {
		v.Add("payment_id", "required")
	}
	if len(in.Lines) == 0 {
		v.Add("allocations", "at least one allocation is required")
	}
	if !in.Caller.Valid() {
		v.Add("caller", "authenticated caller required")
	}
	requested := validateLines(v, in.Lines)
	if err := v.orNil(); err != nil {
		return PaymentResult{}, err
	}

	now := s.now()
	var result PaymentResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		payment, err := tx.LockPayment(ctx, in.PaymentID)
		if err != nil {
			return err
		}
		if payment.Status != PaymentConfirmed {
			return &ConflictError{Reason: fmt.Sprintf("payment %s is %s", payment.Number, payment.Status)}
		}
		existing, err := tx.ListAllocationsForPayment(ctx, payment.ID)
		if err != nil {
			return err
		}
		available := payment.Amount.Sub(sumAllocations(existing))
		if requested.GreaterThan(available) {
			return invalid("allocations", exceedsMessage(requested, available))
		}
		created, err := s.allocate(ctx, tx, payment, AllocationRequest{Lines: in.Lines}, available, false, now)
		if err != nil {
			return err
		}
		all := append(existing, created...)
		result = PaymentResult{Payment: payment, Allocations: all, Unallocated: payment.Amount.Sub(sumAllocations(all))}
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}
	s.record(ctx, in.Caller, "payment.allocated", "payment", result.Payment.ID, map[string]any{
		"lines":       len(in.Lines),
		"unallocated": result.Unallocated.StringFixed(money.Places),
	})
	return result, nil
}

// GatewayCallback is the settled outcome of a gateway charge.
type GatewayCallback struct {
	IntentID  string
	Succeeded bool
	Caller    shared.Caller
}

// HandleGatewayCallback confirms or rejects the pending payment behind an
// intent. Repeated callbacks for a settled payment return it unchanged.
func (s *Service) HandleGatewayCallback(ctx context.Context, cb GatewayCallback) (PaymentResult, error) {
	if strings.TrimSpace(cb.IntentID) == "" {
		return PaymentResult{}, invalid("intent_id", "required")
	}
	found, err := s.repo.GetPaymentByIntent(ctx, cb.IntentID)
	if err != nil {
		return PaymentResult{}, err
	}
	now := s.now()
	var result PaymentResult
	settled := false
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		payment, err := tx.LockPayment(ctx, found.ID)
		if err != nil {
			return err
		}
		if payment.Status != PaymentPending {
			existing, err := tx.ListAllocationsForPayment(ctx, payment.ID)
			if err != nil {
				return err
			}
			result = PaymentResult{Payment: payment, Allocations: existing, Unallocated: unallocated(payment, existing)}
			return nil
		}
		settled = true
		if !cb.Succeeded {
			payment.Status = PaymentRejected
			if err := tx.UpdatePayment(ctx, payment); err != nil {
				return err
			}
			result = PaymentResult{Payment: payment, Unallocated: decimal.Zero}
			return nil
		}
		payment.Status = PaymentConfirmed
		payment.ConfirmedAt = &now
		payment.ConfirmedBy = cb.Caller.UserID
		var req AllocationRequest
		if payment.AllocationRequest != nil {
			req = *payment.AllocationRequest
		}
		allocations, err := s.allocate(ctx, tx, payment, req, payment.Amount, true, now)
		if err != nil {
			return err
		}
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return err
		}
		result = PaymentResult{Payment: payment, Allocations: allocations, Unallocated: payment.Amount.Sub(sumAllocations(allocations))}
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}
	if settled {
		s.logger.Info("gateway payment settled", slog.String("number", result.Payment.Number), slog.String("status", string(result.Payment.Status)))
		s.record(ctx, cb.Caller, "payment."+string(result.Payment.Status), "payment", result.Payment.ID, map[string]any{"intent_id": cb.IntentID})
	}
	return result, nil
}

// ConfirmGatewayPayment polls the gateway for the outcome of intentID and
// settles the payment accordingly. Processing intents are left pending, and
// so is a succeeded charge whose amount differs from the recorded payment.
func (s *Service) ConfirmGatewayPayment(ctx context.Context, intentID string, caller shared.Caller) (PaymentResult, error) {
	if s.gateway == nil {
		return PaymentResult{}, &ConflictError{Reason: "payment gateway not configured"}
	}
	outcome, err := s.gateway.ConfirmCharge(ctx, intentID)
	if err != nil {
		return PaymentResult{}, fmt.Errorf("billing: confirm charge: %w", err)
	}
	if outcome.Status == ChargeProcessing {
		p, err := s.repo.GetPaymentByIntent(ctx, intentID)
		if err != nil {
			return PaymentResult{}, err
		}
		return PaymentResult{Payment: p, Unallocated: decimal.Zero}, nil
	}
	if outcome.Status == ChargeSucceeded {
		p, err := s.repo.GetPaymentByIntent(ctx, intentID)
		if err != nil {
			return PaymentResult{}, err
		}
		if p.Status == PaymentPending && !outcome.Amount.Equal(p.Amount) {
			s.logger.Error("gateway amount mismatch",
				slog.String("number", p.Number),
				slog.String("intent_id", intentID),
				slog.String("charged", outcome.Amount.StringFixed(money.Places)),
				slog.String("recorded", p.Amount.StringFixed(money.Places)),
			)
			return PaymentResult{}, &ConflictError{Reason: fmt.Sprintf("gateway charged %s for payment %s of %s",
				outcome.Amount.StringFixed(money.Places), p.Number, p.Amount.StringFixed(money.Places))}
		}
	}
	return s.HandleGatewayCallback(ctx, GatewayCallback{IntentID: intentID, Succeeded: outcome.Status == ChargeSucceeded, Caller: caller})
}

// allocate locks the target invoices and applies req within available. With
// clip set, explicit lines are capped at the current outstanding and closed
// invoices are skipped instead of rejecting the request.
func (s *Service) allocate(ctx context.Context, tx TxRepository, payment Payment, req AllocationRequest, available decimal.Decimal, clip bool, now time.Time) ([]Allocation, error) {
	var invoices []Invoice
	var err error
	switch {
	case req.Explicit():
		invoices, err = tx.LockInvoices(ctx, lineInvoiceIDs(req.Lines))
	case len(req.InvoiceIDs) > 0:
		invoices, err = tx.LockInvoices(ctx, req.InvoiceIDs)
	default:
		invoices, err = tx.LockOpenInvoices(ctx, payment.UnitID)
	}
	if err != nil {
		return nil, err
	}

	var plan []AllocationLine
	if req.Explicit() {
		plan, err = planExplicit(payment.UnitID, invoices, req.Lines, clip)
	} else {
		plan, err = planAutomatic(payment.UnitID, invoices, req.InvoiceIDs, available)
	}
	if err != nil {
		return nil, err
	}
	if total := sumLines(plan); total.GreaterThan(available) {
		return nil, invariantf("payment %s allocations %s exceed available %s", payment.Number, total, available)
	}

	byID := make(map[int64]Invoice, len(invoices))
	for _, inv := range invoices {
		byID[inv.ID] = inv
	}
	allocations := make([]Allocation, 0, len(plan))
	for _, line := range plan {
		inv := byID[line.InvoiceID]
		updated, err := settle(inv, inv.Outstanding.Sub(line.Amount), now)
		if err != nil {
			return nil, err
		}
		if err := tx.UpdateInvoiceBalance(ctx, updated); err != nil {
			return nil, err
		}
		alloc, err := tx.InsertAllocation(ctx, Allocation{PaymentID: payment.ID, InvoiceID: inv.ID, Amount: line.Amount, CreatedAt: now})
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, alloc)
	}
	return allocations, nil
}

func planExplicit(unitID int64, invoices []Invoice, lines []AllocationLine, clip bool) ([]AllocationLine, error) {
	byID := make(map[int64]Invoice, len(invoices))
	for _, inv := range invoices {
		byID[inv.ID] = inv
	}
	v := newValidationError()
	plan := make([]AllocationLine, 0, len(lines))
	for i, line := range lines {
		field := fmt.Sprintf("allocations[%d]", i)
		inv, ok := byID[line.InvoiceID]
		switch {
		case !ok:
			v.Add(field+".invoice_id", "invoice not found")
		case inv.UnitID != unitID:
			v.Add(field+".invoice_id", "invoice belongs to another unit")
		case !inv.Open():
			if !clip {
				v.Add(field+".invoice_id", fmt.Sprintf("invoice %s is not open", inv.Number))
			}
		case line.Amount.GreaterThan(inv.Outstanding):
			if !clip {
				v.Add(field+".amount", fmt.Sprintf("exceeds outstanding %s of invoice %s", inv.Outstanding.StringFixed(money.Places), inv.Number))
				continue
			}
			plan = append(plan, AllocationLine{InvoiceID: inv.ID, Amount: inv.Outstanding})
		default:
			plan = append(plan, line)
		}
	}
	if err := v.orNil(); err != nil {
		return nil, err
	}
	return plan, nil
}

// planAutomatic pays open invoices oldest due date first.
func planAutomatic(unitID int64, invoices []Invoice, requested []int64, available decimal.Decimal) ([]AllocationLine, error) {
	if len(requested) > 0 {
		found := make(map[int64]Invoice, len(invoices))
		for _, inv := range invoices {
			found[inv.ID] = inv
		}
		v := newValidationError()
		for i, id := range requested {
			inv, ok := found[id]
			if !ok {
				v.Add(fmt.Sprintf("invoice_ids[%d]", i), "invoice not found")
			} else if inv.UnitID != unitID {
				v.Add(fmt.Sprintf("invoice_ids[%d]", i), "invoice belongs to another unit")
			}
		}
		if err := v.orNil(); err != nil {
			return nil, err
		}
	}
	open := make([]Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if inv.UnitID == unitID && inv.Open() {
			open = append(open, inv)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		if !open[i].DueAt.Equal(open[j].DueAt) {
			return open[i].DueAt.Before(open[j].DueAt)
		}
		return open[i].ID < open[j].ID
	})
	remaining := available
	plan := make([]AllocationLine, 0, len(open))
	for _, inv := range open {
		if remaining.Sign() <= 0 {
			break
		}
		amount := money.Min(remaining, inv.Outstanding)
		plan = append(plan, AllocationLine{InvoiceID: inv.ID, Amount: amount})
		remaining = remaining.Sub(amount)
	}
	return plan, nil
}

func lineInvoiceIDs(lines []AllocationLine) []int64 {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.InvoiceID)
	}
	return ids
}

func sumLines(lines []AllocationLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount)
	}
	return total
}

func sumAllocations(allocs []Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocs {
		total = total.Add(a.Amount)
	}
	return total
}

func unallocated(p Payment, allocs []Allocation) decimal.Decimal {
	if p.Status != PaymentConfirmed {
		return decimal.Zero
	}
	return p.Amount.Sub(sumAllocations(allocs))
}
