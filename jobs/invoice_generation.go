package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/backresidences/billing/internal/billing"
	jobmetrics "github.com/backresidences/billing/internal/jobs"
	"github.com/backresidences/billing/internal/platform/cache"
	"github.com/backresidences/billing/internal/shared"
)

// InvoiceGenerator runs a generation batch.
type InvoiceGenerator interface {
	GenerateInvoices(ctx context.Context, in billing.GenerateInput) (billing.GenerateResult, error)
}

// InvoiceGenerationJob runs queued invoice generation batches.
type InvoiceGenerationJob struct {
	Service InvoiceGenerator
	Locker  Locker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewInvoiceGenerationJob constructs the job handler.
func NewInvoiceGenerationJob(service InvoiceGenerator, locker Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *InvoiceGenerationJob {
	return &InvoiceGenerationJob{Service: service, Locker: locker, Logger: logger, Metrics: metrics}
}

// Handle executes the batch. Failed units are returned as an error so asynq
// retries them; units already billed are skipped on the retry.
func (j *InvoiceGenerationJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("invoice generation: handler not configured")
	}
	var payload InvoiceGenerationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invoice generation: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	dueAt, err := parseDate(payload.DueAt)
	if err != nil {
		return fmt.Errorf("invoice generation: due_at: %v: %w", err, asynq.SkipRetry)
	}

	logger := j.logger().With(slog.String("period", payload.Period))

	if j.Locker != nil {
		lock, err := j.Locker.Acquire(ctx, shared.InvoiceGenerationLockKey(payload.Period), runLockTTL)
		if errors.Is(err, cache.ErrLockHeld) {
			logger.Info("invoice generation already running, skipping")
			return nil
		}
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("release generation lock", slog.Any("error", err))
			}
		}()
	}

	tracker := j.metrics().Track(TaskInvoiceGeneration)
	result, err := j.Service.GenerateInvoices(ctx, billing.GenerateInput{
		ConceptIDs: payload.ConceptIDs,
		Period:     payload.Period,
		DueAt:      dueAt,
		Notes:      payload.Notes,
		Filter:     payload.Filter,
		Caller:     shared.SystemCaller,
	})
	if errors.Is(err, billing.ErrValidation) {
		logger.Error("invoice generation rejected", slog.Any("error", err))
		return tracker.End(fmt.Errorf("%w: %w", err, asynq.SkipRetry))
	}
	if err != nil {
		logger.Error("invoice generation failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().AddGeneration(result.InvoicesCreated, result.Skipped, len(result.Errors))
	logger.Info("completed invoice generation",
		slog.String("run_id", result.RunID),
		slog.Int("created", result.InvoicesCreated),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", len(result.Errors)),
	)
	return tracker.End(result.Err())
}

func (j *InvoiceGenerationJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInvoiceGeneration))
	}
	return slog.Default().With(slog.String("job", TaskInvoiceGeneration))
}

func (j *InvoiceGenerationJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
