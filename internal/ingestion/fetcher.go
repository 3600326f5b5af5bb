// Package ingestion fetches pages from the transaction source under the
// shared rate limit and turns them into ledger records.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"ledger-sync/internal/domain"
	"ledger-sync/internal/observability"
	"ledger-sync/internal/ratelimit"
	"ledger-sync/internal/source"
)

// Defaults match the source's published limit of 5 calls per minute.
const (
	DefaultLimitKey = "ledger-sync:source-fetch"
	DefaultLimit    = 5
	DefaultWindow   = 60 * time.Second
)

// NoPacing disables the spacing between calls. Meant for tests.
const NoPacing time.Duration = -1

// DefaultPacing is window/limit plus a tenth of that interval. The limiter
// records a call when it wakes, so spacing of exactly window/limit lets a late
// wake-up put limit+1 calls inside one window.
func DefaultPacing(limit int, window time.Duration) time.Duration {
	interval := window / time.Duration(limit)
	return interval + interval/10
}

// PageResult is one converted page.
type PageResult struct {
	Records    []*domain.TransactionRecord
	Page       int
	TotalPages int
	TotalItems int
	RateLimit  *source.RateLimitMeta
}

// PageFetcher calls the source through the rate limiter with fixed pacing.
// It never retries; errors go back to the caller's retry machinery.
type PageFetcher struct {
	source   source.Source
	limiter  *ratelimit.Limiter
	limitKey string
	limit    int
	window   time.Duration
	pageSize int
	pacer    *rate.Limiter
	logger   zerolog.Logger
}

// FetcherOptions contains configuration for creating a PageFetcher.
type FetcherOptions struct {
	Source   source.Source
	Limiter  *ratelimit.Limiter // nil disables admission checks
	LimitKey string             // Default: DefaultLimitKey
	Limit    int                // Default: 5
	Window   time.Duration      // Default: 60s
	Pacing   time.Duration      // Default: DefaultPacing(Limit, Window); NoPacing disables
	PageSize int                // Default: 1000
	Logger   zerolog.Logger
}

// NewPageFetcher creates a PageFetcher. The pacer is shared by every caller
// of the returned fetcher.
func NewPageFetcher(opts FetcherOptions) *PageFetcher {
	limitKey := opts.LimitKey
	if limitKey == "" {
		limitKey = DefaultLimitKey
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	window := opts.Window
	if window <= 0 {
		window = DefaultWindow
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = source.DefaultPageSize
	}

	pacing := opts.Pacing
	if pacing == 0 {
		pacing = DefaultPacing(limit, window)
	}

	pacer := rate.NewLimiter(rate.Inf, 1)
	if pacing > 0 {
		pacer = rate.NewLimiter(rate.Every(pacing), 1)
	}

	return &PageFetcher{
		source:   opts.Source,
		limiter:  opts.Limiter,
		limitKey: limitKey,
		limit:    limit,
		window:   window,
		pageSize: pageSize,
		pacer:    pacer,
		logger:   opts.Logger,
	}
}

// PageSize returns the page size requested from the source.
func (f *PageFetcher) PageSize() int {
	return f.pageSize
}

// FetchPage fetches and converts one page of [start, end).
// A denied admission returns *source.RateLimitError without calling the source.
func (f *PageFetcher) FetchPage(ctx context.Context, start, end time.Time, page int) (*PageResult, error) {
	if err := f.pacer.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for pacing: %w", err)
	}

	if f.limiter != nil {
		res := f.limiter.Admit(ctx, f.limitKey, f.limit, f.window)
		if !res.Allowed {
			observability.RecordSourceError("rate_limited")
			return nil, &source.RateLimitError{RetryAfter: f.window / time.Duration(f.limit)}
		}
	}

	started := time.Now()
	resp, err := f.source.Fetch(ctx, source.Request{
		Start:    start,
		End:      end,
		Page:     page,
		PageSize: f.pageSize,
	})
	if err != nil {
		observability.RecordSourceError(errorKind(err))
		return nil, fmt.Errorf("fetch page %d: %w", page, err)
	}
	observability.RecordPageFetched(time.Since(started))

	if rl := resp.Meta.RateLimit; rl != nil {
		f.logger.Debug().
			Int("page", page).
			Int("limit", rl.Limit).
			Int("remaining", rl.Remaining).
			Int("reset_in_seconds", rl.ResetInSeconds).
			Msg("source rate limit status")
	}

	records, err := ToRecords(resp.Items)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page, err)
	}

	return &PageResult{
		Records:    records,
		Page:       page,
		TotalPages: resp.Meta.TotalPages,
		TotalItems: resp.Meta.TotalItems,
		RateLimit:  resp.Meta.RateLimit,
	}, nil
}

// ToRecords converts source items into validated ledger records.
func ToRecords(items []source.Item) ([]*domain.TransactionRecord, error) {
	records := make([]*domain.TransactionRecord, 0, len(items))
	for _, it := range items {
		at, err := time.Parse(time.RFC3339Nano, it.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: createdAt %q", domain.ErrInvalidRecord, it.ID, it.CreatedAt)
		}

		r := &domain.TransactionRecord{
			NaturalID:  it.ID,
			UserID:     it.UserID,
			OccurredAt: at.UTC(),
			Kind:       domain.Kind(it.Type),
			Amount:     it.Amount,
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// IsTransient reports whether a FetchPage error is worth retrying later.
func IsTransient(err error) bool {
	return source.IsTransient(err)
}

func errorKind(err error) string {
	switch {
	case source.IsRateLimited(err):
		return "rate_limited"
	case source.IsTransient(err):
		return "unavailable"
	default:
		return "other"
	}
}
