package cli

import (
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// NewRootCommand assembles billingctl.
func NewRootCommand(env *Env) *cobra.Command {
	root := &cobra.Command{
		Use:   "billingctl",
		Short: "Operate the residential billing ledger",
		Long: `billingctl runs operator tasks against the billing ledger: schema
migrations, interest accrual, background job management and permission grants.

Configuration is read from the environment and an optional .env file
(PG_DSN, REDIS_ADDR, BILLING_*).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(env.Out)
	root.AddCommand(
		newMigrateCommand(env),
		newInterestCommand(env),
		newJobsCommand(env),
		newRBACCommand(env),
	)
	return root
}
