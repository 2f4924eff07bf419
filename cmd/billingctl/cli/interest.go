package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/backresidences/billing/internal/billing"
	"github.com/backresidences/billing/internal/money"
	"github.com/backresidences/billing/internal/shared"
)

const dateLayout = "2006-01-02"

var timeZero time.Time

func newInterestCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interest",
		Short: "Late-payment interest operations",
	}

	var (
		asOf    string
		dryRun  bool
		asJSON  bool
		actorID int64
	)
	accrue := &cobra.Command{
		Use:   "accrue",
		Short: "Recompute interest on overdue invoices now",
		Long: `Runs interest accrual in this process. Interest is recomputed from the
original amount, so running twice for the same date changes nothing.`,
		Example: `  billingctl interest accrue
  billingctl interest accrue --as-of 2025-03-17 --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			date, err := parseDateFlag(asOf, env.now())
			if err != nil {
				return err
			}
			cfg, logger, err := env.config()
			if err != nil {
				return err
			}
			svc, release, err := env.OpenAccruer(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer release()

			caller := shared.SystemCaller
			if actorID > 0 {
				caller = shared.Caller{UserID: actorID, Name: "billingctl"}
			}
			result, err := svc.AccrueInterest(cmd.Context(), billing.AccrualInput{AsOf: date, DryRun: dryRun, Caller: caller})
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printAccrual(cmd, result)
			if len(result.Errors) > 0 {
				return &billing.PartialBatchError{Items: result.Errors}
			}
			return nil
		},
	}
	accrue.Flags().StringVar(&asOf, "as-of", "", "Accrual date (YYYY-MM-DD, default: today)")
	accrue.Flags().BoolVar(&dryRun, "dry-run", false, "Compute without persisting")
	accrue.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	accrue.Flags().Int64Var(&actorID, "actor", 0, "User id recorded in the audit log")

	cmd.AddCommand(accrue)
	return cmd
}

func printAccrual(cmd *cobra.Command, r billing.AccrualResult) {
	out := cmd.OutOrStdout()
	mode := "applied"
	if r.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(out, "interest accrual %s as of %s\n", mode, r.AsOf.Format(dateLayout))
	fmt.Fprintf(out, "  scanned:        %d\n", r.Scanned)
	fmt.Fprintf(out, "  updated:        %d\n", r.Updated)
	fmt.Fprintf(out, "  marked overdue: %d\n", r.MarkedOverdue)
	fmt.Fprintf(out, "  interest delta: %s\n", r.InterestDelta.StringFixed(money.Places))
	for _, c := range r.Changes {
		fmt.Fprintf(out, "  %s  %d days  %s -> %s\n", c.Number, c.DaysOverdue,
			c.Previous.StringFixed(money.Places), c.Current.StringFixed(money.Places))
	}
	for _, e := range r.Errors {
		fmt.Fprintf(out, "  invoice %d failed: %s\n", e.InvoiceID, e.Message)
	}
}

func parseDateFlag(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, use YYYY-MM-DD: %w", raw, err)
	}
	return t, nil
}
