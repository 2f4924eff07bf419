// Package cli implements the billingctl operator commands.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/backresidences/billing/internal/app"
	"github.com/backresidences/billing/internal/billing"
	"github.com/backresidences/billing/internal/platform/db"
	"github.com/backresidences/billing/internal/rbac"
	"github.com/backresidences/billing/migrations"
)

// Migrator applies schema migrations.
type Migrator interface {
	Up() error
	Down(steps int) error
	Version() (uint, bool, error)
	Close() error
}

// InterestAccruer runs an accrual in-process.
type InterestAccruer interface {
	AccrueInterest(ctx context.Context, in billing.AccrualInput) (billing.AccrualResult, error)
}

// Permissions manages user grants.
type Permissions interface {
	Grant(ctx context.Context, userID int64, perms ...string) error
	Revoke(ctx context.Context, userID int64, perms ...string) error
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
}

// Env carries the collaborators commands open on demand. Each opener returns a
// release func the command calls when done.
type Env struct {
	Out    io.Writer
	Logger *slog.Logger
	Now    func() time.Time

	LoadConfig      func() (*app.Config, error)
	OpenMigrator    func(cfg *app.Config, logger *slog.Logger) (Migrator, error)
	OpenAccruer     func(ctx context.Context, cfg *app.Config, logger *slog.Logger) (InterestAccruer, func(), error)
	OpenJobs        func(cfg *app.Config) (JobsClient, error)
	OpenPermissions func(ctx context.Context, cfg *app.Config) (Permissions, func(), error)
}

// DefaultEnv wires commands to PostgreSQL and Redis from the environment.
func DefaultEnv() *Env {
	return &Env{
		Out: os.Stdout,
		Now: func() time.Time { return time.Now().UTC() },
		LoadConfig: func() (*app.Config, error) {
			return app.LoadConfig()
		},
		OpenMigrator: func(cfg *app.Config, logger *slog.Logger) (Migrator, error) {
			return db.NewMigrator(cfg.PGDSN, migrations.FS, ".", logger)
		},
		OpenAccruer: func(ctx context.Context, cfg *app.Config, logger *slog.Logger) (InterestAccruer, func(), error) {
			pool, err := db.New(ctx, cfg.PGDSN)
			if err != nil {
				return nil, nil, err
			}
			gw, err := app.NewGateway(cfg, logger)
			if err != nil {
				pool.Close()
				return nil, nil, err
			}
			return app.NewBillingService(pool, cfg, logger, gw), pool.Close, nil
		},
		OpenJobs: func(cfg *app.Config) (JobsClient, error) {
			return NewJobsCLI(cfg.RedisAddr)
		},
		OpenPermissions: func(ctx context.Context, cfg *app.Config) (Permissions, func(), error) {
			pool, err := db.New(ctx, cfg.PGDSN)
			if err != nil {
				return nil, nil, err
			}
			return rbac.NewService(rbac.NewStore(pool)), pool.Close, nil
		},
	}
}

func (e *Env) config() (*app.Config, *slog.Logger, error) {
	cfg, err := e.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := e.Logger
	if logger == nil {
		logger = app.NewLogger(cfg)
	}
	return cfg, logger, nil
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}
