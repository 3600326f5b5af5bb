package cli

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newSyncCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync tick with in-process workers and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := flags.load(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := openStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			p := newPipeline(cfg, s, log)
			defer p.Close()

			workerCtx, cancelWorkers := context.WithCancel(ctx)
			workersDone := make(chan struct{})
			go func() {
				defer close(workersDone)
				_ = p.queue.Run(workerCtx, p.orch.HandlePageJob)
			}()

			result, syncErr := p.orch.Sync(ctx)
			cancelWorkers()
			<-workersDone

			if result != nil {
				if err := writeJSON(cmd, result); err != nil {
					return err
				}
			}
			return syncErr
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
