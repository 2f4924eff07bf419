package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// DeriveState computes the invoice status from its balances. Void invoices
// never pass through here; the caller keeps them void.
func DeriveState(total, outstanding decimal.Decimal, dueAt, now time.Time) InvoiceStatus {
	switch {
	case outstanding.Sign() <= 0:
		return InvoicePaid
	case outstanding.LessThan(total):
		return InvoicePartiallyPaid
	case DaysOverdue(dueAt, now) > 0:
		return InvoiceOverdue
	default:
		return InvoicePending
	}
}

// DaysOverdue counts whole calendar days between the due date and now,
// both taken in UTC. It is zero on or before the due date.
func DaysOverdue(dueAt, now time.Time) int {
	due := truncateDay(dueAt)
	today := truncateDay(now)
	if !today.After(due) {
		return 0
	}
	return int(today.Sub(due).Hours() / 24)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// checkInvoice enforces the balance invariants on a mutated invoice.
func checkInvoice(inv Invoice) error {
	if !inv.Total.Equal(inv.Original.Add(inv.Interest).Sub(inv.Discount)) {
		return invariantf("invoice %s total %s != original %s + interest %s - discount %s",
			inv.Number, inv.Total, inv.Original, inv.Interest, inv.Discount)
	}
	if inv.Outstanding.Sign() < 0 {
		return invariantf("invoice %s outstanding %s is negative", inv.Number, inv.Outstanding)
	}
	if inv.Outstanding.GreaterThan(inv.Total) {
		return invariantf("invoice %s outstanding %s exceeds total %s", inv.Number, inv.Outstanding, inv.Total)
	}
	return nil
}

// settle applies a balance change and recomputes status, guarding invariants.
func settle(inv Invoice, outstanding decimal.Decimal, now time.Time) (Invoice, error) {
	inv.Outstanding = outstanding
	if err := checkInvoice(inv); err != nil {
		return inv, err
	}
	if inv.Status != InvoiceVoid {
		inv.Status = DeriveState(inv.Total, inv.Outstanding, inv.DueAt, now)
	}
	inv.UpdatedAt = now
	return inv, nil
}
