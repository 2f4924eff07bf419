package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/backresidences/billing/internal/billing"
	"github.com/backresidences/billing/internal/gateway"
	"github.com/backresidences/billing/internal/residences"
	"github.com/backresidences/billing/internal/shared"
)

// NewGateway returns the Stripe adapter in live mode and the simulated
// gateway otherwise.
func NewGateway(cfg *Config, logger *slog.Logger) (billing.Gateway, error) {
	if cfg != nil && cfg.GatewayMode == GatewayModeLive {
		return gateway.NewStripeGateway(cfg.StripeSecretKey, logger)
	}
	logger.Warn("using simulated payment gateway")
	return gateway.NewSimulatedGateway(""), nil
}

// NewBillingService wires the ledger to PostgreSQL.
func NewBillingService(pool *pgxpool.Pool, cfg *Config, logger *slog.Logger, gw billing.Gateway) *billing.Service {
	return billing.NewService(billing.Dependencies{
		Repo:        billing.NewRepository(pool),
		Units:       residences.NewDirectory(pool),
		Gateway:     gw,
		Audit:       shared.NewAuditLogger(pool),
		Idempotency: shared.NewIdempotencyStore(pool),
		Logger:      logger,
	}, cfg.BillingConfig())
}
