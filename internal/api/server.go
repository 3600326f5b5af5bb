// Package api serves the read endpoints over the ledger plus health,
// status and metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"ledger-sync/internal/domain"
	"ledger-sync/internal/observability"
	"ledger-sync/internal/orchestrator"
	"ledger-sync/internal/scheduler"
	"ledger-sync/internal/storage"
)

// Aggregator serves the derived ledger views.
type Aggregator interface {
	BalanceFor(ctx context.Context, userID string) (*domain.AggregatedBalance, error)
	PendingPayouts(ctx context.Context) ([]domain.PayoutRequest, error)
}

// StatusSource reports orchestrator state. Optional.
type StatusSource interface {
	Status() orchestrator.Status
}

// SchedulerStats reports scheduler activity. Optional.
type SchedulerStats interface {
	Stats() scheduler.Stats
}

// FailedJobLister lists retained failed page jobs. Optional.
type FailedJobLister interface {
	ListFailed(ctx context.Context) ([]*domain.JobRecord, error)
}

// Options for creating Server.
type Options struct {
	Aggregator Aggregator
	Status     StatusSource
	Scheduler  SchedulerStats
	Watermarks storage.WatermarkStore
	StreamKey  string // Default: domain.DefaultStreamKey
	Jobs       FailedJobLister
	Logger     zerolog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	aggregator Aggregator
	status     StatusSource
	scheduler  SchedulerStats
	watermarks storage.WatermarkStore
	streamKey  string
	jobs       FailedJobLister
	log        zerolog.Logger
	started    time.Time
}

// NewServer creates a new Server.
func NewServer(opts Options) *Server {
	streamKey := opts.StreamKey
	if streamKey == "" {
		streamKey = domain.DefaultStreamKey
	}
	return &Server{
		aggregator: opts.Aggregator,
		status:     opts.Status,
		scheduler:  opts.Scheduler,
		watermarks: opts.Watermarks,
		streamKey:  streamKey,
		jobs:       opts.Jobs,
		log:        opts.Logger,
		started:    time.Now(),
	}
}

// Handler returns the routed handler wrapped in recovery and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /transactions/aggregated/{userId}", instrument("aggregated", s.handleAggregated))
	mux.Handle("GET /transactions/payouts", instrument("payouts", s.handlePayouts))
	mux.Handle("GET /jobs/failed", instrument("jobs_failed", s.handleFailedJobs))
	mux.Handle("GET /status", instrument("status", s.handleStatus))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", observability.Handler())

	var h http.Handler = mux
	h = Logger(s.log)(h)
	h = Recovery(s.log)(h)
	return h
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
