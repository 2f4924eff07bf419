package billing

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
	"golang.org/x/text/message"

	"github.com/backresidences/billing/internal/money"
	"github.com/backresidences/billing/internal/shared"
)

// VerificationCode derives the public code printed on a certificate: the first
// twelve hex digits of SHA3-256 over number, unit and issue instant, upper
// cased and grouped by four.
func VerificationCode(number string, unitID int64, issuedAt time.Time) string {
	payload := number + "|" + strconv.FormatInt(unitID, 10) + "|" + issuedAt.UTC().Format(time.RFC3339Nano)
	sum := sha3.Sum256([]byte(payload))
	raw := strings.ToUpper(hex.EncodeToString(sum[:]))[:12]
	return raw[0:4] + "-" + raw[4:8] + "-" + raw[8:12]
}

// IssueCertificateInput requests a clearance certificate.
type IssueCertificateInput struct {
	UnitID int64
	Cutoff time.Time
	Caller shared.Caller
}

// IssueCertificate snapshots the unit balance as of the cutoff. The
// certificate is stored even when the unit owes money; it is simply invalid.
func (s *Service) IssueCertificate(ctx context.Context, in IssueCertificateInput) (Certificate, error) {
	if !in.Caller.Valid() {
		return Certificate{}, invalid("caller", "authenticated caller required")
	}
	if _, err := s.getUnit(ctx, in.UnitID); err != nil {
		return Certificate{}, err
	}
	now := s.now()
	cutoff := in.Cutoff
	if cutoff.IsZero() {
		cutoff = now
	}
	cutoff = cutoff.UTC()

	outstanding, err := s.repo.SumOutstanding(ctx, in.UnitID, cutoff)
	if err != nil {
		return Certificate{}, fmt.Errorf("billing: unit balance: %w", err)
	}
	number, err := s.nextNumber(ctx, DocCertificate, now)
	if err != nil {
		return Certificate{}, err
	}
	cert := Certificate{
		Number:           number,
		UnitID:           in.UnitID,
		Cutoff:           cutoff,
		Outstanding:      money.Round(outstanding),
		IssuedAt:         now,
		ExpiresAt:        now.Add(s.cfg.CertificateValidity),
		VerificationCode: VerificationCode(number, in.UnitID, now),
		IssuedBy:         in.Caller.UserID,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stored, err := tx.InsertCertificate(ctx, cert)
		if err != nil {
			return err
		}
		cert = stored
		return nil
	})
	if err != nil {
		return Certificate{}, err
	}
	s.logger.Info("clearance certificate issued",
		slog.String("number", cert.Number),
		slog.Int64("unit_id", cert.UnitID),
		slog.Bool("valid", cert.IsValid(now)),
	)
	s.record(ctx, in.Caller, "certificate.issued", "clearance_certificate", cert.ID, map[string]any{
		"number":      cert.Number,
		"outstanding": cert.Outstanding.StringFixed(money.Places),
	})
	return cert, nil
}

// CertificateVerification is the public answer to a verification lookup.
type CertificateVerification struct {
	Certificate Certificate `json:"certificate"`
	Valid       bool        `json:"valid"`
	Summary     string      `json:"summary"`
}

// VerifyCertificate looks a certificate up by its verification code.
func (s *Service) VerifyCertificate(ctx context.Context, code string) (CertificateVerification, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return CertificateVerification{}, invalid("code", "required")
	}
	cert, err := s.repo.GetCertificateByCode(ctx, code)
	if err != nil {
		return CertificateVerification{}, err
	}
	now := s.now()
	return CertificateVerification{
		Certificate: cert,
		Valid:       cert.IsValid(now),
		Summary:     s.certificateSummary(cert, now),
	}, nil
}

func (s *Service) certificateSummary(c Certificate, now time.Time) string {
	p := message.NewPrinter(s.cfg.Locale)
	balance := money.Format(c.Outstanding, s.cfg.Currency, s.cfg.Locale)
	switch {
	case c.Outstanding.Sign() > 0:
		return p.Sprintf("Certificate %s: unit %d owed %s at %s", c.Number, c.UnitID, balance, c.Cutoff.Format("2006-01-02"))
	case now.After(c.ExpiresAt):
		return p.Sprintf("Certificate %s expired on %s", c.Number, c.ExpiresAt.Format("2006-01-02"))
	default:
		return p.Sprintf("Certificate %s: unit %d is clear as of %s, valid until %s", c.Number, c.UnitID, c.Cutoff.Format("2006-01-02"), c.ExpiresAt.Format("2006-01-02"))
	}
}

// ListCertificates returns the certificates issued for a unit, newest first.
func (s *Service) ListCertificates(ctx context.Context, unitID int64) ([]Certificate, error) {
	if unitID <= 0 {
		return nil, invalid("unit_id", "required")
	}
	return s.repo.ListCertificates(ctx, unitID)
}
