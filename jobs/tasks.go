package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/backresidences/billing/internal/billing"
	jobmetrics "github.com/backresidences/billing/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInterestAccrual recomputes late-payment interest for overdue invoices.
	TaskInterestAccrual = "billing:interest:accrue"
	// TaskInvoiceGeneration runs a periodic invoice generation batch.
	TaskInvoiceGeneration = "billing:invoices:generate"
)

const dateLayout = "2006-01-02"

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// InterestAccrualPayload configures an accrual run. An empty AsOf means the
// date the task executes.
type InterestAccrualPayload struct {
	AsOf   string `json:"as_of,omitempty"`
	DryRun bool   `json:"dry_run,omitempty"`
}

// NewInterestAccrualTask builds an accrual task. A zero asOf defers the date to
// execution time, which is what the daily cron uses.
func NewInterestAccrualTask(asOf time.Time, dryRun bool) (*asynq.Task, error) {
	payload := InterestAccrualPayload{DryRun: dryRun}
	if !asOf.IsZero() {
		payload.AsOf = asOf.UTC().Format(dateLayout)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInterestAccrual, body, asynq.Queue(QueueDefault)), nil
}

// InvoiceGenerationPayload mirrors billing.GenerateInput over the wire.
type InvoiceGenerationPayload struct {
	ConceptIDs []int64                `json:"concept_ids"`
	Period     string                 `json:"period"`
	DueAt      string                 `json:"due_at,omitempty"`
	Notes      string                 `json:"notes,omitempty"`
	Filter     billing.GenerateFilter `json:"filter"`
}

// NewInvoiceGenerationTask builds a generation task for period.
func NewInvoiceGenerationTask(payload InvoiceGenerationPayload) (*asynq.Task, error) {
	if len(payload.ConceptIDs) == 0 || payload.Period == "" {
		return nil, fmt.Errorf("jobs: generation task needs concepts and a period")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInvoiceGeneration, body, asynq.Queue(QueueDefault)), nil
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, raw)
}
