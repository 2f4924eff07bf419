package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/backresidences/billing/internal/app"
	"github.com/backresidences/billing/internal/billing"
	"github.com/backresidences/billing/internal/observability"
	"github.com/backresidences/billing/internal/platform/cache"
	"github.com/backresidences/billing/internal/platform/db"
	"github.com/backresidences/billing/internal/rbac"
	"github.com/backresidences/billing/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
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
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	gw, err := app.NewGateway(cfg, logger)
	if err != nil {
		logger.Error("init payment gateway", slog.Any("error", err))
		os.Exit(1)
	}
	billingService := app.NewBillingService(pool, cfg, logger, gw)

	rbacService := rbac.NewService(rbac.NewStore(pool))
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	health := map[string]app.HealthCheck{
		"postgres": func(r *http.Request) error { return pool.Ping(r.Context()) },
	}
	if redisClient != nil {
		health["redis"] = func(r *http.Request) error { return redisClient.Ping(r.Context()).Err() }
	}

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		BillingHandler:     billing.NewHandler(logger, billingService, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService),
		JobHandler:         jobs.NewHandler(inspector, logger),
		RBACMiddleware:     rbacMiddleware,
		Metrics:            observability.NewMetrics(),
		Health:             health,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("gateway", cfg.GatewayMode))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
