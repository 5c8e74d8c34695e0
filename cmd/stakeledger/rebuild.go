package main

import (
	"database/sql"
	"fmt"

	"StakeLedger/internal/observability"
	"StakeLedger/internal/persistence"
	"StakeLedger/internal/projection"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

// NewRebuildCommand rebuilds the projection tables from the event log. Run
// it with the service stopped.
func NewRebuildCommand() *cobra.Command {
	cfg := DefaultConfig()

	cmd := &cobra.Command{
		Use:   "rebuild-projections",
		Short: "Truncate and rebuild the read models from the event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := observability.NewLogger("rebuild")
			ctx := cmd.Context()

			db, err := sql.Open("postgres", cfg.PostgresURL)
			if err != nil {
				return fmt.Errorf("postgres open: %w", err)
			}
			defer db.Close()

			migrations, err := persistence.Migrations(cfg.MigrationsDir)
			if err != nil {
				return err
			}
			if err := persistence.NewMigrator(db, migrations, logger).Up(ctx); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}

			applied, err := projection.RebuildProjections(ctx, db, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rebuilt projections from %d events\n", applied)
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.PostgresURL, "dsn", cfg.PostgresURL, "Postgres connection string")
	return cmd
}
