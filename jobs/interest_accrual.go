package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/backresidences/billing/internal/billing"
	jobmetrics "github.com/backresidences/billing/internal/jobs"
	"github.com/backresidences/billing/internal/platform/cache"
	"github.com/backresidences/billing/internal/shared"
)

// InterestAccruer runs interest accrual.
type InterestAccruer interface {
	AccrueInterest(ctx context.Context, in billing.AccrualInput) (billing.AccrualResult, error)
}

// Locker hands out run locks.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*cache.Lock, error)
}

const runLockTTL = 30 * time.Minute

// InterestAccrualJob executes the daily accrual run once per date.
type InterestAccrualJob struct {
	Service InterestAccruer
	Locker  Locker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewInterestAccrualJob constructs the job handler.
func NewInterestAccrualJob(service InterestAccruer, locker Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *InterestAccrualJob {
	return &InterestAccrualJob{
		Service: service,
		Locker:  locker,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one accrual run. A run already holding the date's lock makes
// this one a no-op.
func (j *InterestAccrualJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("interest accrual: handler not configured")
	}
	var payload InterestAccrualPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("interest accrual: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	asOf, err := parseDate(payload.AsOf)
	if err != nil {
		return fmt.Errorf("interest accrual: as_of: %v: %w", err, asynq.SkipRetry)
	}
	if asOf.IsZero() {
		asOf = j.now()
	}

	logger := j.logger().With(slog.String("as_of", asOf.Format(dateLayout)), slog.Bool("dry_run", payload.DryRun))

	if j.Locker != nil && !payload.DryRun {
		lock, err := j.Locker.Acquire(ctx, shared.InterestAccrualLockKey(asOf), runLockTTL)
		if errors.Is(err, cache.ErrLockHeld) {
			logger.Info("interest accrual already running, skipping")
			return nil
		}
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("release accrual lock", slog.Any("error", err))
			}
		}()
	}

	tracker := j.metrics().Track(TaskInterestAccrual)
	result, err := j.Service.AccrueInterest(ctx, billing.AccrualInput{
		AsOf:   asOf,
		DryRun: payload.DryRun,
		Caller: shared.SystemCaller,
	})
	if err != nil {
		logger.Error("interest accrual failed", slog.Any("error", err))
		return tracker.End(err)
	}
	if !payload.DryRun {
		j.metrics().AddInterest(result.Updated, result.InterestDelta.InexactFloat64())
	}
	for _, item := range result.Errors {
		logger.Warn("invoice accrual failed", slog.Int64("invoice_id", item.InvoiceID), slog.String("error", item.Message))
	}
	logger.Info("completed interest accrual",
		slog.Int("scanned", result.Scanned),
		slog.Int("updated", result.Updated),
		slog.Int("marked_overdue", result.MarkedOverdue),
	)
	var runErr error
	if len(result.Errors) > 0 {
		runErr = &billing.PartialBatchError{Items: result.Errors}
	}
	return tracker.End(runErr)
}

func (j *InterestAccrualJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInterestAccrual))
	}
	return slog.Default().With(slog.String("job", TaskInterestAccrual))
}

func (j *InterestAccrualJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *InterestAccrualJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
