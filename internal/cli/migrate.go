package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"ledger-sync/internal/config"
	"ledger-sync/internal/storage/migrations"
	pgstore "ledger-sync/internal/storage/postgres"
	sqlitestore "ledger-sync/internal/storage/sqlite"
)

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema for the configured backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := flags.load(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			uses := func(b string) bool { return cfg.Backend == b || cfg.LedgerBackend() == b }
			applied := 0

			if uses(config.BackendPostgres) {
				pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
				if err != nil {
					return err
				}
				defer pool.Close()
				if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
					return err
				}
				log.Info().Msg("postgres migrations applied")
				applied++
			}

			if uses(config.BackendClickHouse) {
				conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN)
				if err != nil {
					return err
				}
				conn.Close()
				log.Info().Msg("clickhouse migrations applied")
				applied++
			}

			if uses(config.BackendSQLite) {
				// Open applies the embedded schema.
				db, err := sqlitestore.Open(cfg.SQLite.Path)
				if err != nil {
					return err
				}
				db.Close()
				log.Info().Str("path", cfg.SQLite.Path).Msg("sqlite schema applied")
				applied++
			}

			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d backend(s) (%s)\n", applied, describe(cfg))
			return nil
		},
	}
}
