// Package money holds decimal helpers shared by the ledger. Every amount is a
// shopspring decimal rounded to two places before it is persisted.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Places is the number of fractional digits kept for stored amounts.
const Places = 2

// ErrInvalidAmount indicates an amount that could not be parsed.
var ErrInvalidAmount = errors.New("money: invalid amount")

var hundred = decimal.NewFromInt(100)

// Zero is the additive identity.
var Zero = decimal.Zero

// Round rounds half away from zero to two places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Parse converts user input into a rounded decimal.
func Parse(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAmount, raw)
	}
	return Round(d), nil
}

// MustParse is Parse for constants and tests.
func MustParse(raw string) decimal.Decimal {
	d, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return d
}

// Min returns the smaller amount.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Percent returns pct percent of amount, rounded.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(pct).Div(hundred))
}

// Sum adds the given amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// ToMinorUnits converts an amount into the integer minor unit used by card
// gateways (cents).
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -Places)
}

// IsPositive reports d > 0.
func IsPositive(d decimal.Decimal) bool {
	return d.Sign() > 0
}

// Format renders amount with its ISO currency code using locale grouping.
// Unknown codes are printed as given. Only the integer part goes through the
// locale printer; the cents are copied from the decimal digits.
func Format(amount decimal.Decimal, code string, tag language.Tag) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if unit, err := currency.ParseISO(code); err == nil {
		code = unit.String()
	}
	rounded := Round(amount)
	abs := rounded.Abs()
	_, cents, _ := strings.Cut(abs.StringFixed(Places), ".")
	grouped := message.NewPrinter(tag).Sprint(number.Decimal(abs.IntPart(), number.Scale(Places)))
	if zeros := strings.Repeat("0", Places); strings.HasSuffix(grouped, zeros) {
		grouped = strings.TrimSuffix(grouped, zeros) + cents
	}
	if rounded.Sign() < 0 {
		grouped = "-" + grouped
	}
	return code + " " + grouped
}
