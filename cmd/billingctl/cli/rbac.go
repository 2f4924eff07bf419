package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newRBACCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rbac",
		Short: "Manage billing permissions of users",
	}

	withPermissions := func(fn func(cmd *cobra.Command, p Permissions, userID int64, perms []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || userID <= 0 {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			cfg, _, err := env.config()
			if err != nil {
				return err
			}
			p, release, err := env.OpenPermissions(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer release()
			return fn(cmd, p, userID, args[1:])
		}
	}

	show := func(cmd *cobra.Command, p Permissions, userID int64) error {
		perms, err := p.EffectivePermissions(cmd.Context(), userID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "user %d: %s\n", userID, strings.Join(perms, " "))
		return nil
	}

	grant := &cobra.Command{
		Use:     "grant <user-id> <permission>...",
		Short:   "Grant permissions",
		Example: "  billingctl rbac grant 7 billing.view billing.payments.record",
		Args:    cobra.MinimumNArgs(2),
		RunE: withPermissions(func(cmd *cobra.Command, p Permissions, userID int64, perms []string) error {
			if err := p.Grant(cmd.Context(), userID, perms...); err != nil {
				return err
			}
			return show(cmd, p, userID)
		}),
	}
	revoke := &cobra.Command{
		Use:   "revoke <user-id> <permission>...",
		Short: "Revoke permissions",
		Args:  cobra.MinimumNArgs(2),
		RunE: withPermissions(func(cmd *cobra.Command, p Permissions, userID int64, perms []string) error {
			if err := p.Revoke(cmd.Context(), userID, perms...); err != nil {
				return err
			}
			return show(cmd, p, userID)
		}),
	}
	list := &cobra.Command{
		Use:   "show <user-id>",
		Short: "Print effective permissions",
		Args:  cobra.ExactArgs(1),
		RunE: withPermissions(func(cmd *cobra.Command, p Permissions, userID int64, _ []string) error {
			return show(cmd, p, userID)
		}),
	}

	cmd.AddCommand(grant, revoke, list)
	return cmd
}
