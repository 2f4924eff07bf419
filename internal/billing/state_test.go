package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeriveState(t *testing.T) {
	due := day(2025, 3, 1)
	cases := []struct {
		name        string
		total       string
		outstanding string
		now         time.Time
		want        InvoiceStatus
	}{
		{"paid", "100", "0", day(2025, 2, 1), InvoicePaid},
		{"paid after due", "100", "0", day(2025, 4, 1), InvoicePaid},
		{"partial before due", "100", "40", day(2025, 2, 1), InvoicePartiallyPaid},
		{"partial after due stays partial", "100", "40", day(2025, 4, 1), InvoicePartiallyPaid},
		{"unpaid on due date", "100", "100", time.Date(2025, 3, 1, 23, 59, 0, 0, time.UTC), InvoicePending},
		{"unpaid day after due", "100", "100", day(2025, 3, 2), InvoiceOverdue},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DeriveState(d(tc.total), d(tc.outstanding), due, tc.now))
		})
	}
}

func TestDaysOverdue(t *testing.T) {
	due := day(2025, 2, 8)
	require.Equal(t, 0, DaysOverdue(due, day(2025, 2, 1)))
	require.Equal(t, 0, DaysOverdue(due, time.Date(2025, 2, 8, 18, 0, 0, 0, time.UTC)))
	require.Equal(t, 1, DaysOverdue(due, time.Date(2025, 2, 9, 0, 0, 1, 0, time.UTC)))
	require.Equal(t, 30, DaysOverdue(due, testNow))

	bogota := time.FixedZone("COT", -5*3600)
	// 2025-02-09 20:00 in Bogota is already 2025-02-10 in UTC.
	require.Equal(t, 2, DaysOverdue(due, time.Date(2025, 2, 9, 20, 0, 0, 0, bogota)))
}

func TestSettleGuardsInvariants(t *testing.T) {
	inv := Invoice{Number: "INV-1", Original: d("100"), Total: d("100"), Outstanding: d("100"), DueAt: day(2025, 4, 1), Status: InvoicePending}

	next, err := settle(inv, d("30"), testNow)
	require.NoError(t, err)
	require.Equal(t, InvoicePartiallyPaid, next.Status)
	require.Equal(t, testNow, next.UpdatedAt)

	_, err = settle(inv, d("-1"), testNow)
	require.ErrorIs(t, err, ErrInvariant)

	_, err = settle(inv, d("101"), testNow)
	require.ErrorIs(t, err, ErrInvariant)

	broken := inv
	broken.Total = d("90")
	_, err = settle(broken, d("10"), testNow)
	require.ErrorIs(t, err, ErrInvariant)

	void := inv
	void.Status = InvoiceVoid
	next, err = settle(void, d("0"), testNow)
	require.NoError(t, err)
	require.Equal(t, InvoiceVoid, next.Status)
}
