// Package scheduler triggers a job on a fixed period and skips ticks that
// arrive while the previous run is still executing.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ledger-sync/internal/observability"
)

// DefaultInterval is the sync period.
const DefaultInterval = 60 * time.Second

// Job is the work run on every tick.
type Job func(ctx context.Context) error

// Stats is a snapshot of scheduler activity.
type Stats struct {
	Runs    int       `json:"runs"`
	Skipped int       `json:"skipped"`
	Running bool      `json:"running"`
	LastRun time.Time `json:"lastRun,omitempty"`
}

// Scheduler runs Job immediately and then every Interval.
type Scheduler struct {
	interval time.Duration
	job      Job
	logger   zerolog.Logger

	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stats   Stats
}

// Options for creating Scheduler.
type Options struct {
	Interval time.Duration // Default: 60s
	Job      Job
	Logger   zerolog.Logger
}

// New creates a new Scheduler.
func New(opts Options) *Scheduler {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		interval: interval,
		job:      opts.Job,
		logger:   opts.Logger,
	}
}

// Run fires on start and on every tick until ctx is cancelled, then waits
// for an in-flight run to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")
	defer s.wg.Wait()

	s.Trigger(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			s.Trigger(ctx)
		}
	}
}

// Trigger starts the job in its own goroutine unless a run is in progress.
// It reports whether a run was started.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.stats.Skipped++
		s.mu.Unlock()
		observability.RecordTickSkipped()
		s.logger.Warn().Msg("previous run still in progress, skipping tick")
		return false
	}
	s.running = true
	s.stats.Running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.running = false
			s.stats.Running = false
			s.stats.Runs++
			s.stats.LastRun = time.Now()
			s.mu.Unlock()
		}()

		if err := s.job(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("scheduled run failed")
		}
	}()
	return true
}

// Stats returns a snapshot of scheduler activity.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
