// Package jobqueue runs page jobs from a durable store with bounded
// concurrency, exponential backoff and completion awaiting.
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ledger-sync/internal/domain"
	"ledger-sync/internal/idhash"
	"ledger-sync/internal/observability"
	"ledger-sync/internal/storage"
)

// ErrJobFailed is returned by Await for a job that exhausted its attempts.
var ErrJobFailed = errors.New("job failed")

// Handler processes one job. A nil return completes the job.
type Handler func(ctx context.Context, job *domain.PageJob) error

// Handle identifies an enqueued job.
type Handle struct {
	ID string
}

// Outcome is the final state of an awaited job.
type Outcome struct {
	Handle Handle
	Err    error // nil on success, wraps ErrJobFailed on exhaustion
}

// Config contains configuration for creating a Queue.
type Config struct {
	Store        storage.JobStore
	Concurrency  int           // Default: 1
	PollInterval time.Duration // Default: 200ms
	Lease        time.Duration // Default: 5m
	Logger       zerolog.Logger
}

// Queue is a job queue over a storage.JobStore. Several processes may run
// workers against the same store.
type Queue struct {
	store        storage.JobStore
	concurrency  int
	pollInterval time.Duration
	lease        time.Duration
	logger       zerolog.Logger

	mu      sync.Mutex
	changed chan struct{} // closed and replaced on every local state change
}

// New creates a Queue.
func New(cfg Config) *Queue {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}

	lease := cfg.Lease
	if lease <= 0 {
		lease = 5 * time.Minute
	}

	return &Queue{
		store:        cfg.Store,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		lease:        lease,
		logger:       cfg.Logger,
		changed:      make(chan struct{}),
	}
}

// Enqueue stores job for execution under opts. Job ids derive from the job
// itself, so enqueueing the same page of the same run twice yields one job.
func (q *Queue) Enqueue(ctx context.Context, job domain.PageJob, opts Options) (Handle, error) {
	if err := opts.Validate(); err != nil {
		return Handle{}, fmt.Errorf("invalid job options: %w", err)
	}

	now := time.Now().UTC()
	rec := &domain.JobRecord{
		ID:           idhash.ComputePageJobID(job),
		Job:          job,
		Status:       domain.JobStatusPending,
		MaxAttempts:  opts.Attempts,
		InitialDelay: opts.InitialDelay,
		Multiplier:   opts.Multiplier,
		NextRunAt:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := q.store.Enqueue(ctx, rec)
	if errors.Is(err, storage.ErrDuplicateKey) {
		q.logger.Debug().Str("job_id", rec.ID).Int("page", job.Page).Msg("page job already enqueued")
		return Handle{ID: rec.ID}, nil
	}
	if err != nil {
		return Handle{}, fmt.Errorf("enqueue page %d: %w", job.Page, err)
	}

	observability.RecordJobEnqueued()
	q.notify()
	return Handle{ID: rec.ID}, nil
}

// Await blocks until the job is completed or terminally failed.
// Completed jobs are deleted from the store, so a missing job is a success.
func (q *Queue) Await(ctx context.Context, h Handle) error {
	for {
		wait := q.watch()

		rec, err := q.store.Get(ctx, h.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil
		case err != nil:
			return fmt.Errorf("await job %s: %w", h.ID, err)
		case rec.Status == domain.JobStatusFailed:
			return fmt.Errorf("%w: page %d after %d attempts: %s", ErrJobFailed, rec.Job.Page, rec.Attempts, rec.LastError)
		}

		if err := q.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// AwaitAll waits for every handle. Failed jobs are reported in their Outcome;
// the returned error is set only when waiting itself could not finish.
func (q *Queue) AwaitAll(ctx context.Context, handles []Handle) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(handles))
	for _, h := range handles {
		err := q.Await(ctx, h)
		if err != nil && !errors.Is(err, ErrJobFailed) {
			return outcomes, err
		}
		outcomes = append(outcomes, Outcome{Handle: h, Err: err})
	}
	return outcomes, nil
}

// ListFailed returns jobs retained after exhausting their attempts.
func (q *Queue) ListFailed(ctx context.Context) ([]*domain.JobRecord, error) {
	return q.store.ListFailed(ctx)
}

// Run starts the workers and blocks until ctx is cancelled.
func (q *Queue) Run(ctx context.Context, handler Handler) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.concurrency; i++ {
		worker := i
		g.Go(func() error {
			q.work(ctx, worker, handler)
			return nil
		})
	}
	return g.Wait()
}

func (q *Queue) work(ctx context.Context, worker int, handler Handler) {
	log := q.logger.With().Int("worker", worker).Logger()

	for {
		wait := q.watch()

		now := time.Now().UTC()
		rec, err := q.store.ClaimNext(ctx, now, now.Add(q.lease))
		switch {
		case err == nil:
			q.process(ctx, log, rec, handler)
			continue
		case errors.Is(err, storage.ErrNotFound):
		case ctx.Err() != nil:
			return
		default:
			log.Error().Err(err).Msg("claim job failed")
		}

		if q.sleep(ctx, wait) != nil {
			return
		}
	}
}

func (q *Queue) process(ctx context.Context, log zerolog.Logger, rec *domain.JobRecord, handler Handler) {
	defer q.notify()

	log = log.With().
		Str("job_id", rec.ID).
		Str("run_id", rec.Job.ParentRunID).
		Int("page", rec.Job.Page).
		Int("attempt", rec.Attempts).
		Logger()

	// Store updates must land even while shutting down.
	bg := context.WithoutCancel(ctx)

	// A worker died holding this job after its last attempt began.
	if rec.Attempts > rec.MaxAttempts {
		q.fail(bg, log, rec, "attempt budget exhausted: "+rec.LastError)
		return
	}

	observability.RecordJobAttempt()
	err := handler(ctx, &rec.Job)
	if err == nil {
		if err := q.store.Complete(bg, rec.ID); err != nil {
			log.Error().Err(err).Msg("complete job failed")
			return
		}
		observability.RecordJobCompleted()
		log.Debug().Msg("job completed")
		return
	}

	if rec.Exhausted() {
		q.fail(bg, log, rec, err.Error())
		return
	}

	delay := BackoffDelay(rec.InitialDelay, rec.Multiplier, rec.Attempts)
	if ctx.Err() != nil {
		delay = 0
	}
	if rerr := q.store.Reschedule(bg, rec.ID, time.Now().UTC().Add(delay), err.Error()); rerr != nil {
		log.Error().Err(rerr).Msg("reschedule job failed")
		return
	}
	observability.RecordJobRetry()
	log.Warn().Err(err).Dur("retry_in", delay).Msg("job attempt failed, retrying")
}

func (q *Queue) fail(ctx context.Context, log zerolog.Logger, rec *domain.JobRecord, reason string) {
	if err := q.store.Fail(ctx, rec.ID, reason); err != nil {
		log.Error().Err(err).Msg("mark job failed")
		return
	}
	observability.RecordJobFailed()
	log.Error().Str("reason", reason).Msg("job failed after exhausting attempts")
}

// watch returns a channel closed on the next local state change.
func (q *Queue) watch() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.changed
}

func (q *Queue) notify() {
	q.mu.Lock()
	defer q.mu.Unlock()
	close(q.changed)
	q.changed = make(chan struct{})
}

// sleep waits for a local change, the poll interval or ctx, whichever is first.
// Polling covers changes made by other processes.
func (q *Queue) sleep(ctx context.Context, changed <-chan struct{}) error {
	timer := time.NewTimer(q.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-changed:
		return nil
	case <-timer.C:
		return nil
	}
}
