// Package orchestrator runs one sync tick: it takes the stream lease, fetches
// page 1 of the window [watermark, now), fans the remaining pages out as jobs,
// awaits them, and advances the watermark only when every page is committed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ledger-sync/internal/domain"
	"ledger-sync/internal/ingestion"
	"ledger-sync/internal/jobqueue"
	"ledger-sync/internal/observability"
	"ledger-sync/internal/source"
	"ledger-sync/internal/storage"
)

// ErrIncompleteWindow is returned when one or more page jobs failed terminally.
var ErrIncompleteWindow = errors.New("sync window incomplete")

// PageFetcher fetches one converted page of a window.
type PageFetcher interface {
	FetchPage(ctx context.Context, start, end time.Time, page int) (*ingestion.PageResult, error)
}

// JobQueue is the part of jobqueue.Queue the orchestrator drives.
type JobQueue interface {
	Enqueue(ctx context.Context, job domain.PageJob, opts jobqueue.Options) (jobqueue.Handle, error)
	AwaitAll(ctx context.Context, handles []jobqueue.Handle) ([]jobqueue.Outcome, error)
}

// RunResult describes one Sync call.
type RunResult struct {
	RunID       string              `json:"runId,omitempty"`
	StreamKey   string              `json:"stream"`
	Skipped     bool                `json:"skipped"`
	Deferred    bool                `json:"deferred"`
	WindowStart time.Time           `json:"windowStart"`
	WindowEnd   time.Time           `json:"windowEnd"`
	TotalPages  int                 `json:"totalPages"`
	TotalItems  int                 `json:"totalItems"`
	FirstPage   domain.UpsertResult `json:"firstPage"`
	PageJobs    int                 `json:"pageJobs"`
	FailedPages []int               `json:"failedPages,omitempty"`
	StartedAt   time.Time           `json:"startedAt"`
	Duration    time.Duration       `json:"duration"`
	Error       string              `json:"error,omitempty"`
}

// Status is a snapshot for operators.
type Status struct {
	State   State      `json:"state"`
	LastRun *RunResult `json:"lastRun,omitempty"`
}

// Orchestrator coordinates sync runs for one stream.
type Orchestrator struct {
	fetcher    PageFetcher
	ledger     storage.LedgerWriter
	watermarks storage.WatermarkStore
	queue      JobQueue
	jobOpts    jobqueue.Options
	streamKey  string
	lease      time.Duration
	heartbeat  time.Duration
	now        func() time.Time
	logger     zerolog.Logger

	mu      sync.Mutex
	state   State
	lastRun *RunResult
}

// Options for creating Orchestrator.
type Options struct {
	Fetcher    PageFetcher
	Ledger     storage.LedgerWriter
	Watermarks storage.WatermarkStore
	Queue      JobQueue

	JobOptions jobqueue.Options // Default: jobqueue.DefaultOptions()
	StreamKey  string           // Default: domain.DefaultStreamKey
	Lease      time.Duration    // Default: 10m
	Heartbeat  time.Duration    // Default: Lease/3
	Clock      func() time.Time // Default: time.Now
	Logger     zerolog.Logger
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	jobOpts := opts.JobOptions
	if jobOpts.Attempts == 0 {
		jobOpts = jobqueue.DefaultOptions()
	}

	streamKey := opts.StreamKey
	if streamKey == "" {
		streamKey = domain.DefaultStreamKey
	}

	lease := opts.Lease
	if lease <= 0 {
		lease = 10 * time.Minute
	}

	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = lease / 3
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Orchestrator{
		fetcher:    opts.Fetcher,
		ledger:     opts.Ledger,
		watermarks: opts.Watermarks,
		queue:      opts.Queue,
		jobOpts:    jobOpts,
		streamKey:  streamKey,
		lease:      lease,
		heartbeat:  heartbeat,
		now:        clock,
		logger:     opts.Logger.With().Str("stream", streamKey).Logger(),
		state:      StateIdle,
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status returns the current state and the last finished run.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{State: o.state, LastRun: o.lastRun}
}

// Sync executes one tick. A tick that finds another unexpired run holding the
// stream returns a Skipped result and no error; a tick whose first page is
// rate limited returns a Deferred result and no error. Any failure leaves the
// watermark where it was, so the next tick retries the same window.
func (o *Orchestrator) Sync(ctx context.Context) (*RunResult, error) {
	started := time.Now()
	runID := uuid.NewString()
	// Millisecond precision round-trips through every watermark store.
	now := o.now().UTC().Truncate(time.Millisecond)

	result := &RunResult{RunID: runID, StreamKey: o.streamKey, StartedAt: now}
	log := o.logger.With().Str("run_id", runID).Logger()

	wm, err := o.watermarks.AcquireRun(ctx, o.streamKey, runID, now, o.lease)
	if errors.Is(err, storage.ErrRunInProgress) {
		log.Info().Msg("sync already in progress, skipping tick")
		observability.RecordSyncRun("skipped", 0)
		return &RunResult{StreamKey: o.streamKey, Skipped: true, StartedAt: now}, nil
	}
	if err != nil {
		observability.RecordSyncRun("failed", 0)
		return nil, fmt.Errorf("acquire sync lease: %w", err)
	}

	result.WindowStart = wm.LastSyncTime.UTC()
	result.WindowEnd = now
	log = log.With().
		Time("window_start", result.WindowStart).
		Time("window_end", result.WindowEnd).
		Logger()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	heartbeatDone := o.startHeartbeat(runCtx, cancel, runID, log)

	err = o.run(runCtx, result, log)
	cancel()
	<-heartbeatDone

	result.Duration = time.Since(started)
	if err != nil && source.IsRateLimited(err) {
		return o.deferRun(ctx, result, log, err), nil
	}
	if err != nil {
		return o.fail(ctx, result, log, err)
	}

	observability.RecordSyncRun("success", result.Duration)
	observability.RecordWatermark(result.WindowEnd)
	o.finish(StateIdle, result)
	log.Info().
		Int("total_pages", result.TotalPages).
		Int("total_items", result.TotalItems).
		Dur("duration", result.Duration).
		Msg("sync completed, watermark advanced")
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, result *RunResult, log zerolog.Logger) error {
	o.transition(StateFetchingFirstPage, log)
	first, err := o.fetcher.FetchPage(ctx, result.WindowStart, result.WindowEnd, 1)
	if err != nil {
		return fmt.Errorf("fetch first page: %w", err)
	}
	result.TotalPages = first.TotalPages
	result.TotalItems = first.TotalItems

	upserted, err := o.ledger.UpsertBatch(ctx, first.Records)
	if err != nil {
		return fmt.Errorf("persist first page: %w", err)
	}
	result.FirstPage = upserted
	observability.RecordUpsert(upserted.Inserted, upserted.Duplicates)
	log.Debug().
		Int("page", 1).
		Int("inserted", upserted.Inserted).
		Int("duplicates", upserted.Duplicates).
		Msg("first page persisted")

	o.transition(StateFanningOut, log)
	var handles []jobqueue.Handle
	pageOf := make(map[string]int, max(first.TotalPages-1, 0))
	for page := 2; page <= first.TotalPages; page++ {
		h, err := o.queue.Enqueue(ctx, domain.PageJob{
			StartDate:   result.WindowStart,
			EndDate:     result.WindowEnd,
			Page:        page,
			ParentRunID: result.RunID,
		}, o.jobOpts)
		if err != nil {
			return fmt.Errorf("enqueue page %d: %w", page, err)
		}
		handles = append(handles, h)
		pageOf[h.ID] = page
	}
	result.PageJobs = len(handles)

	o.transition(StateAwaitingPageJobs, log)
	outcomes, err := o.queue.AwaitAll(ctx, handles)
	if err != nil {
		return fmt.Errorf("await page jobs: %w", err)
	}
	for _, out := range outcomes {
		if out.Err != nil {
			page := pageOf[out.Handle.ID]
			result.FailedPages = append(result.FailedPages, page)
			log.Error().Err(out.Err).Int("page", page).Str("job_id", out.Handle.ID).Msg("page job failed")
		}
	}
	if len(result.FailedPages) > 0 {
		return fmt.Errorf("%w: %d of %d page jobs failed", ErrIncompleteWindow, len(result.FailedPages), len(handles))
	}

	o.transition(StateAdvancingWatermark, log)
	if err := o.watermarks.Advance(ctx, o.streamKey, result.RunID, result.WindowEnd); err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	return nil
}

// HandlePageJob is the queue handler for pages 2..N: fetch then persist.
// Errors are returned to the queue, which owns retries.
func (o *Orchestrator) HandlePageJob(ctx context.Context, job *domain.PageJob) error {
	res, err := o.fetcher.FetchPage(ctx, job.StartDate, job.EndDate, job.Page)
	if err != nil {
		return err
	}

	upserted, err := o.ledger.UpsertBatch(ctx, res.Records)
	if err != nil {
		return fmt.Errorf("persist page %d: %w", job.Page, err)
	}
	observability.RecordUpsert(upserted.Inserted, upserted.Duplicates)

	o.logger.Debug().
		Str("run_id", job.ParentRunID).
		Int("page", job.Page).
		Int("inserted", upserted.Inserted).
		Int("duplicates", upserted.Duplicates).
		Msg("page persisted")
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, result *RunResult, log zerolog.Logger, err error) (*RunResult, error) {
	result.Error = err.Error()

	if rerr := o.watermarks.Release(context.WithoutCancel(ctx), o.streamKey, result.RunID); rerr != nil {
		log.Warn().Err(rerr).Msg("release sync lease failed, it will expire")
	}

	observability.RecordSyncRun("failed", result.Duration)
	o.finish(StateFailed, result)
	log.Error().Err(err).Msg("sync failed, watermark unchanged")
	return result, err
}

// deferRun ends a run whose first page was refused by the rate limit. The
// window is left for the next tick and the run does not count as failed.
func (o *Orchestrator) deferRun(ctx context.Context, result *RunResult, log zerolog.Logger, err error) *RunResult {
	result.Deferred = true
	result.Error = err.Error()

	if rerr := o.watermarks.Release(context.WithoutCancel(ctx), o.streamKey, result.RunID); rerr != nil {
		log.Warn().Err(rerr).Msg("release sync lease failed, it will expire")
	}

	observability.RecordSyncRun("deferred", result.Duration)
	o.finish(StateIdle, result)
	log.Warn().Err(err).Msg("first page rate limited, deferring window to next tick")
	return result
}

// startHeartbeat extends the lease until ctx is done. Losing the lease
// cancels the run.
func (o *Orchestrator) startHeartbeat(ctx context.Context, cancel context.CancelFunc, runID string, log zerolog.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(o.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				until := o.now().UTC().Add(o.lease)
				err := o.watermarks.ExtendRun(ctx, o.streamKey, runID, until)
				switch {
				case err == nil:
				case errors.Is(err, storage.ErrLeaseLost):
					log.Error().Msg("sync lease lost, aborting run")
					cancel()
					return
				case ctx.Err() == nil:
					log.Warn().Err(err).Msg("extend sync lease failed")
				}
			}
		}
	}()
	return done
}

func (o *Orchestrator) transition(s State, log zerolog.Logger) {
	o.mu.Lock()
	prev := o.state
	o.state = s
	o.mu.Unlock()
	log.Debug().Str("from", string(prev)).Str("to", string(s)).Msg("state transition")
}

func (o *Orchestrator) finish(s State, result *RunResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
	o.lastRun = result
}
