package billing

import (
	"context"
	"fmt"
	"time"
)

// DocumentKind prefixes a sequential document number.
type DocumentKind string

const (
	DocInvoice     DocumentKind = "INV"
	DocPayment     DocumentKind = "PAY"
	DocCertificate DocumentKind = "PYS"
)

// FormatNumber renders <kind>-<year>-<seq> with a zero padded sequence.
func FormatNumber(kind DocumentKind, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%06d", kind, year, seq)
}

func (s *Service) nextNumber(ctx context.Context, kind DocumentKind, at time.Time) (string, error) {
	year := at.UTC().Year()
	seq, err := s.repo.NextNumber(ctx, kind, year)
	if err != nil {
		return "", fmt.Errorf("billing: next %s number: %w", kind, err)
	}
	return FormatNumber(kind, year, seq), nil
}
