package shared

import (
	"fmt"
	"time"
)

// InterestAccrualLockKey builds the redis key guarding one accrual run per day.
func InterestAccrualLockKey(asOf time.Time) string {
	return fmt.Sprintf("billing:interest:%s:lock", asOf.UTC().Format("2006-01-02"))
}

// InvoiceGenerationLockKey builds the redis key guarding a generation run.
func InvoiceGenerationLockKey(period string) string {
	return fmt.Sprintf("billing:generation:%s:lock", period)
}
