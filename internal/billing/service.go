package billing

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/text/language"

	"github.com/backresidences/billing/internal/shared"
)

// ServiceConfig groups ledger policy settings.
type ServiceConfig struct {
	Currency            string
	Locale              language.Tag
	DefaultDueDays      int
	InterestGraceDays   int
	CertificateValidity time.Duration
}

// DefaultServiceConfig mirrors the production defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Currency:            "COP",
		Locale:              language.LatinAmericanSpanish,
		DefaultDueDays:      15,
		CertificateValidity: 30 * 24 * time.Hour,
	}
}

// Dependencies are the collaborators of the ledger service. Gateway, Audit and
// Idempotency are optional.
type Dependencies struct {
	Repo        RepositoryPort
	Units       UnitDirectory
	Gateway     Gateway
	Audit       AuditPort
	Idempotency IdempotencyPort
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Service coordinates the billing ledger.
type Service struct {
	repo        RepositoryPort
	units       UnitDirectory
	gateway     Gateway
	audit       AuditPort
	idempotency IdempotencyPort
	logger      *slog.Logger
	clock       func() time.Time
	cfg         ServiceConfig
}

// NewService builds Service.
func NewService(deps Dependencies, cfg ServiceConfig) *Service {
	defaults := DefaultServiceConfig()
	if cfg.Currency == "" {
		cfg.Currency = defaults.Currency
	}
	if cfg.Locale == language.Und {
		cfg.Locale = defaults.Locale
	}
	if cfg.DefaultDueDays <= 0 {
		cfg.DefaultDueDays = defaults.DefaultDueDays
	}
	if cfg.CertificateValidity <= 0 {
		cfg.CertificateValidity = defaults.CertificateValidity
	}
	if cfg.InterestGraceDays < 0 {
		cfg.InterestGraceDays = 0
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		repo:        deps.Repo,
		units:       deps.Units,
		gateway:     deps.Gateway,
		audit:       deps.Audit,
		idempotency: deps.Idempotency,
		logger:      logger,
		clock:       clock,
		cfg:         cfg,
	}
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

// record writes an audit entry after commit. Failures are only logged.
func (s *Service) record(ctx context.Context, caller shared.Caller, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  caller.UserID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("billing audit", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) getUnit(ctx context.Context, id int64) (Unit, error) {
	if id <= 0 {
		return Unit{}, invalid("unit_id", "required")
	}
	return s.units.GetUnit(ctx, id)
}
