package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/backresidences/billing/internal/shared"
)

// InvoiceDetail is an invoice with its concept and allocations.
type InvoiceDetail struct {
	Invoice     Invoice         `json:"invoice"`
	ConceptName string          `json:"concept_name"`
	Allocations []Allocation    `json:"allocations"`
	Paid        decimal.Decimal `json:"paid"`
}

// PaymentDetail is a payment with its allocations and surplus.
type PaymentDetail struct {
	Payment     Payment         `json:"payment"`
	Allocations []Allocation    `json:"allocations"`
	Allocated   decimal.Decimal `json:"allocated"`
	Unallocated decimal.Decimal `json:"unallocated"`
}

// ListInvoices returns invoices matching filter.
func (s *Service) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	if filter.Period != "" {
		if _, err := shared.ParsePeriod(filter.Period); err != nil {
			return nil, invalid("period", err.Error())
		}
	}
	filter.Page = shared.NewPage(filter.Page.Limit, filter.Page.Offset)
	return s.repo.ListInvoices(ctx, filter)
}

// GetInvoiceDetail loads one invoice with its allocations.
func (s *Service) GetInvoiceDetail(ctx context.Context, id int64) (InvoiceDetail, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return InvoiceDetail{}, err
	}
	detail := InvoiceDetail{Invoice: inv, Paid: inv.Paid()}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.repo.GetConcept(gctx, inv.ConceptID)
		if err != nil {
			return err
		}
		detail.ConceptName = c.Name
		return nil
	})
	g.Go(func() error {
		allocs, err := s.repo.ListAllocations(gctx, AllocationFilter{InvoiceID: id})
		detail.Allocations = allocs
		return err
	})
	if err := g.Wait(); err != nil {
		return InvoiceDetail{}, err
	}
	return detail, nil
}

// ListPayments returns payments matching filter.
func (s *Service) ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error) {
	filter.Page = shared.NewPage(filter.Page.Limit, filter.Page.Offset)
	return s.repo.ListPayments(ctx, filter)
}

// GetPaymentDetail loads one payment with its allocations.
func (s *Service) GetPaymentDetail(ctx context.Context, id int64) (PaymentDetail, error) {
	p, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return PaymentDetail{}, err
	}
	allocs, err := s.repo.ListAllocations(ctx, AllocationFilter{PaymentID: id})
	if err != nil {
		return PaymentDetail{}, err
	}
	return PaymentDetail{
		Payment:     p,
		Allocations: allocs,
		Allocated:   sumAllocations(allocs),
		Unallocated: unallocated(p, allocs),
	}, nil
}

// StatementFilter narrows an account statement.
type StatementFilter struct {
	FromPeriod  string
	ToPeriod    string
	IncludePaid bool
}

// StatementSummary aggregates a unit's position.
type StatementSummary struct {
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
	PendingInvoices  int             `json:"pending_invoices"`
	OverdueInvoices  int             `json:"overdue_invoices"`
	LastPaymentAt    *time.Time      `json:"last_payment_at,omitempty"`
	PaidThisYear     decimal.Decimal `json:"paid_this_year"`
}

// AccountStatement is the unit facing view of the ledger.
type AccountStatement struct {
	Unit        Unit             `json:"unit"`
	GeneratedAt time.Time        `json:"generated_at"`
	Summary     StatementSummary `json:"summary"`
	Invoices    []Invoice        `json:"invoices"`
	Payments    []Payment        `json:"payments"`
}

// statementPageSize caps the invoices and payments listed on a statement.
// The summary is aggregated over the whole account.
const statementPageSize = 500

// GetAccountStatement loads the statement of a unit. Invoices, payments and
// the summary are fetched concurrently.
func (s *Service) GetAccountStatement(ctx context.Context, unitID int64, filter StatementFilter) (AccountStatement, error) {
	v := newValidationError()
	for field, period := range map[string]string{"from_period": filter.FromPeriod, "to_period": filter.ToPeriod} {
		if period == "" {
			continue
		}
		if _, err := shared.ParsePeriod(period); err != nil {
			v.Add(field, err.Error())
		}
	}
	if err := v.orNil(); err != nil {
		return AccountStatement{}, err
	}
	unit, err := s.getUnit(ctx, unitID)
	if err != nil {
		return AccountStatement{}, err
	}

	now := s.now()
	statement := AccountStatement{Unit: unit, GeneratedAt: now}
	var invoices []Invoice
	var payments []Payment
	var summary StatementSummary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		invoices, err = s.repo.ListInvoices(gctx, InvoiceFilter{
			UnitID:     unitID,
			FromPeriod: filter.FromPeriod,
			ToPeriod:   filter.ToPeriod,
			Page:       shared.NewPage(statementPageSize, 0),
		})
		return err
	})
	g.Go(func() error {
		var err error
		payments, err = s.repo.ListPayments(gctx, PaymentFilter{
			UnitID:   unitID,
			Statuses: []PaymentStatus{PaymentConfirmed},
			Page:     shared.NewPage(statementPageSize, 0),
		})
		return err
	})
	g.Go(func() error {
		var err error
		yearStart := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		summary, err = s.repo.SummarizeAccount(gctx, unitID, filter, yearStart)
		return err
	})
	if err := g.Wait(); err != nil {
		return AccountStatement{}, err
	}

	for _, inv := range invoices {
		if inv.Status == InvoiceVoid || (inv.Status == InvoicePaid && !filter.IncludePaid) {
			continue
		}
		statement.Invoices = append(statement.Invoices, inv)
	}
	statement.Summary = summary
	statement.Payments = payments
	return statement, nil
}
