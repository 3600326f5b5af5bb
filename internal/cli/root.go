// Package cli wires the ledger sync service into a cobra command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"ledger-sync/internal/config"
	"ledger-sync/internal/logger"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFile    string
	backend    string
	ledger     string
	logLevel   string
	logFormat  string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "ledgersync",
		Short: "Sync transactions from a rate-limited source into an idempotent ledger",
		Long: `ledgersync pulls transactions from a paginated, rate-limited source on a
fixed schedule, stores them exactly once keyed by their source id, and serves
per-user balances and pending payouts over the stored ledger.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "YAML config file")
	pf.StringVar(&flags.envFile, "env-file", ".env", "env file loaded before the environment is read")
	pf.StringVar(&flags.backend, "backend", "", "storage backend: memory, sqlite or postgres")
	pf.StringVar(&flags.ledger, "ledger", "", "ledger backend override, e.g. clickhouse")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&flags.logFormat, "log-format", "", "log format: console or json")

	root.AddCommand(
		newServeCmd(flags),
		newSyncCmd(flags),
		newBalanceCmd(flags),
		newPayoutsCmd(flags),
		newJobsCmd(flags),
		newMigrateCmd(flags),
	)
	return root
}

// Execute runs the root command
func Execute(version string) error {
	// Amounts are JSON numbers on the wire.
	decimal.MarshalJSONWithoutQuotes = true

	root := NewRootCmd()
	root.Version = version
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// load resolves configuration and logger for a command run.
// Precedence: flags, environment, .env file, YAML file, defaults.
func (f *globalFlags) load(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	if err := config.LoadEnvFile(f.envFile); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load env file: %w", err)
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	if cmd.Flags().Changed("backend") {
		cfg.Backend = f.backend
	}
	if cmd.Flags().Changed("ledger") {
		cfg.Ledger = f.ledger
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, log, nil
}
