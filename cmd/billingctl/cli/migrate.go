package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
	}

	run := func(fn func(m Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := env.config()
			if err != nil {
				return err
			}
			m, err := env.OpenMigrator(cfg, logger)
			if err != nil {
				return err
			}
			defer m.Close()
			if err := fn(m); err != nil {
				return err
			}
			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
			return nil
		}
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE:  run(func(m Migrator) error { return m.Up() }),
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(m Migrator) error { return m.Down(steps) })(cmd, args)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")

	status := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE:  run(func(Migrator) error { return nil }),
	}

	cmd.AddCommand(up, down, status)
	return cmd
}
