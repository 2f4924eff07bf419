package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/backresidences/billing/internal/app"
	jobmetrics "github.com/backresidences/billing/internal/jobs"
	"github.com/backresidences/billing/internal/platform/cache"
	"github.com/backresidences/billing/internal/platform/db"
	"github.com/backresidences/billing/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	locker := cache.NewLocker(redisClient)

	gw, err := app.NewGateway(cfg, logger)
	if err != nil {
		logger.Error("init payment gateway", slog.Any("error", err))
		os.Exit(1)
	}
	billingService := app.NewBillingService(pool, cfg, logger, gw)
	metrics := jobmetrics.NewMetrics(nil)

	accrualJob := jobs.NewInterestAccrualJob(billingService, locker, logger, metrics)
	generationJob := jobs.NewInvoiceGenerationJob(billingService, locker, logger, metrics)

	accrualTask, err := jobs.NewInterestAccrualTask(time.Time{}, false)
	if err != nil {
		logger.Error("build accrual task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskInterestAccrual, Handler: accrualJob.Handle},
			{Type: jobs.TaskInvoiceGeneration, Handler: generationJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.InterestCron, Task: accrualTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("interest_cron", cfg.InterestCron))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
