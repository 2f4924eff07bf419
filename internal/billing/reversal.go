package billing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/backresidences/billing/internal/money"
	"github.com/backresidences/billing/internal/shared"
)

// ReverseInput identifies the payment to undo.
type ReverseInput struct {
	PaymentID int64
	Reason    string
	Caller    shared.Caller
}

// RestoredInvoice reports the effect of a reversal on one invoice.
type RestoredInvoice struct {
	InvoiceID   int64           `json:"invoice_id"`
	Number      string          `json:"number"`
	Restored    decimal.Decimal `json:"restored"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Status      InvoiceStatus   `json:"status"`
}

// ReversalResult is returned by ReversePayment.
type ReversalResult struct {
	Payment  Payment           `json:"payment"`
	Invoices []RestoredInvoice `json:"invoices"`
}

// ReversePayment undoes every allocation of a payment and marks it reversed.
// The payment row is locked first, then its invoices, and the whole change
// commits or rolls back together.
func (s *Service) ReversePayment(ctx context.Context, in ReverseInput) (ReversalResult, error) {
	v := newValidationError()
	if in.PaymentID <= 0 {
		v.Add("payment_id", "required")
	}
	if strings.TrimSpace(in.Reason) == "" {
		v.Add("reason", "required")
	}
	if !in.Caller.Valid() {
		v.Add("caller", "authenticated caller required")
	}
	if err := v.orNil(); err != nil {
		return ReversalResult{}, err
	}

	now := s.now()
	var result ReversalResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		payment, err := tx.LockPayment(ctx, in.PaymentID)
		if err != nil {
			return err
		}
		switch payment.Status {
		case PaymentReversed:
			return ErrPaymentReversed
		case PaymentRejected:
			return &ConflictError{Reason: fmt.Sprintf("payment %s was rejected", payment.Number)}
		}

		allocations, err := tx.ListAllocationsForPayment(ctx, payment.ID)
		if err != nil {
			return err
		}
		restore := make(map[int64]decimal.Decimal, len(allocations))
		ids := make([]int64, 0, len(allocations))
		for _, a := range allocations {
			if _, ok := restore[a.InvoiceID]; !ok {
				ids = append(ids, a.InvoiceID)
			}
			restore[a.InvoiceID] = restore[a.InvoiceID].Add(a.Amount)
		}
		invoices, err := tx.LockInvoices(ctx, ids)
		if err != nil {
			return err
		}
		if len(invoices) != len(ids) {
			return invariantf("payment %s references %d invoices, %d found", payment.Number, len(ids), len(invoices))
		}
		for _, inv := range invoices {
			amount := restore[inv.ID]
			updated, err := settle(inv, inv.Outstanding.Add(amount), now)
			if err != nil {
				return err
			}
			if err := tx.UpdateInvoiceBalance(ctx, updated); err != nil {
				return err
			}
			result.Invoices = append(result.Invoices, RestoredInvoice{
				InvoiceID:   updated.ID,
				Number:      updated.Number,
				Restored:    amount,
				Outstanding: updated.Outstanding,
				Status:      updated.Status,
			})
		}
		if err := tx.DeleteAllocations(ctx, payment.ID); err != nil {
			return err
		}

		payment.Status = PaymentReversed
		payment.ReversedBy = in.Caller.UserID
		payment.ReversedAt = &now
		payment.ReversalReason = strings.TrimSpace(in.Reason)
		if err := tx.UpdatePayment(ctx, payment); err != nil {
			return err
		}
		result.Payment = payment
		return nil
	})
	if err != nil {
		return ReversalResult{}, err
	}

	restored := decimal.Zero
	for _, inv := range result.Invoices {
		restored = restored.Add(inv.Restored)
	}
	s.logger.Info("payment reversed",
		slog.String("number", result.Payment.Number),
		slog.Int("invoices", len(result.Invoices)),
		slog.String("restored", restored.StringFixed(money.Places)),
	)
	s.record(ctx, in.Caller, "payment.reversed", "payment", result.Payment.ID, map[string]any{
		"reason":   result.Payment.ReversalReason,
		"restored": restored.StringFixed(money.Places),
	})
	return result, nil
}
