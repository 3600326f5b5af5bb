package cli

import (
	"github.com/spf13/cobra"
)

func newBalanceCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <userId>",
		Short: "Print the aggregated balance of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := flags.load(cmd)
			if err != nil {
				return err
			}

			s, err := openStores(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			balance, err := newEngine(s).BalanceFor(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd, balance)
		},
	}
}

func newPayoutsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "payouts",
		Short: "Print pending payouts per user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := flags.load(cmd)
			if err != nil {
				return err
			}

			s, err := openStores(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			payouts, err := newEngine(s).PendingPayouts(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd, payouts)
		},
	}
}

func newJobsCmd(flags *globalFlags) *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect page jobs",
	}

	jobs.AddCommand(&cobra.Command{
		Use:   "failed",
		Short: "List page jobs that exhausted their attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := flags.load(cmd)
			if err != nil {
				return err
			}

			s, err := openStores(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			failed, err := s.jobs.ListFailed(cmd.Context())
			if err != nil {
				return err
			}

			type row struct {
				ID        string `json:"id"`
				Page      int    `json:"page"`
				RunID     string `json:"runId"`
				Attempts  int    `json:"attempts"`
				LastError string `json:"lastError"`
			}
			rows := make([]row, 0, len(failed))
			for _, j := range failed {
				rows = append(rows, row{
					ID:        j.ID,
					Page:      j.Job.Page,
					RunID:     j.Job.ParentRunID,
					Attempts:  j.Attempts,
					LastError: j.LastError,
				})
			}
			return writeJSON(cmd, rows)
		},
	})
	return jobs
}
