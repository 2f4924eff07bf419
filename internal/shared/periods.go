package shared

import (
	"strings"
	"time"
)

// PeriodLayout is the billing period format.
const PeriodLayout = "2006-01"

// ParsePeriod validates a YYYY-MM period and returns its first day in UTC.
func ParsePeriod(period string) (time.Time, error) {
	period = strings.TrimSpace(period)
	if len(period) != len(PeriodLayout) {
		return time.Time{}, ErrInvalidPeriod
	}
	start, err := time.ParseInLocation(PeriodLayout, period, time.UTC)
	if err != nil {
		return time.Time{}, ErrInvalidPeriod
	}
	return start, nil
}
