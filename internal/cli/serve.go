package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ledger-sync/internal/api"
	"ledger-sync/internal/scheduler"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, page-job workers and the read API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := flags.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.HTTP.Addr = addr
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

			sched := scheduler.New(scheduler.Options{
				Interval: cfg.Sync.Interval,
				Job: func(ctx context.Context) error {
					_, err := p.orch.Sync(ctx)
					return err
				},
				Logger: log.With().Str("component", "scheduler").Logger(),
			})

			server := api.NewServer(api.Options{
				Aggregator: newEngine(s),
				Status:     p.orch,
				Scheduler:  sched,
				Watermarks: s.watermarks,
				StreamKey:  cfg.Sync.StreamKey,
				Jobs:       p.queue,
				Logger:     log.With().Str("component", "api").Logger(),
			})

			log.Info().Str("stores", describe(cfg)).Str("addr", cfg.HTTP.Addr).Msg("starting ledger sync service")

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return p.queue.Run(ctx, p.orch.HandlePageJob) })
			g.Go(func() error { return sched.Run(ctx) })
			g.Go(func() error { return server.ListenAndServe(ctx, cfg.HTTP.Addr) })

			err = g.Wait()
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			log.Info().Msg("shutdown complete")
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default from config, :8080)")
	return cmd
}
