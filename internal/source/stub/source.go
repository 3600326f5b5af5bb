// Package stub provides an in-memory transaction source for tests and local runs.
package stub

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"ledger-sync/internal/ratelimit"
	"ledger-sync/internal/source"
)

// RateLimitKey is the limiter key the stub gates itself with.
const RateLimitKey = "mock-api:rate-limit"

// Source serves fixed items filtered by [start, end), newest first.
// Implements source.Source.
type Source struct {
	mu       sync.Mutex
	items    []source.Item
	failures map[int][]error // page -> errors returned by successive calls
	calls    []source.Request
	rejected int

	limiter *ratelimit.Limiter
	limit   int
	window  time.Duration
}

// New creates a stub source over items. Items need RFC3339 CreatedAt values.
func New(items []source.Item) *Source {
	sorted := make([]source.Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return parseTime(sorted[i].CreatedAt).After(parseTime(sorted[j].CreatedAt))
	})

	return &Source{
		items:    sorted,
		failures: make(map[int][]error),
	}
}

// WithRateLimit gates every call through limiter, rejecting with
// *source.RateLimitError when denied.
func (s *Source) WithRateLimit(limiter *ratelimit.Limiter, limit int, window time.Duration) *Source {
	s.limiter = limiter
	s.limit = limit
	s.window = window
	return s
}

// FailPage makes the next len(errs) calls for page return errs in order.
func (s *Source) FailPage(page int, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[page] = append(s.failures[page], errs...)
}

// Add appends items, keeping newest-first order.
func (s *Source) Add(items ...source.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, items...)
	sort.SliceStable(s.items, func(i, j int) bool {
		return parseTime(s.items[i].CreatedAt).After(parseTime(s.items[j].CreatedAt))
	})
}

// Calls returns the number of Fetch calls admitted past the rate-limit gate.
func (s *Source) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Rejected returns the number of Fetch calls refused by the rate-limit gate.
func (s *Source) Rejected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

// Requests returns a copy of every request received.
func (s *Source) Requests() []source.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]source.Request, len(s.calls))
	copy(out, s.calls)
	return out
}

// Fetch implements source.Source.
func (s *Source) Fetch(ctx context.Context, req source.Request) (*source.Page, error) {
	var rl *source.RateLimitMeta
	if s.limiter != nil {
		res := s.limiter.Admit(ctx, RateLimitKey, s.limit, s.window)
		if !res.Allowed {
			s.mu.Lock()
			s.rejected++
			s.mu.Unlock()
			return nil, &source.RateLimitError{RetryAfter: s.window}
		}
		rl = &source.RateLimitMeta{
			Limit:          s.limit,
			Remaining:      res.Remaining,
			ResetInSeconds: int(s.window.Seconds()),
		}
	}

	s.mu.Lock()
	s.calls = append(s.calls, req)
	if errs := s.failures[req.Page]; len(errs) > 0 {
		s.failures[req.Page] = errs[1:]
		s.mu.Unlock()
		return nil, errs[0]
	}
	s.mu.Unlock()

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = source.DefaultPageSize
	}
	page := req.Page
	if page < 1 {
		page = 1
	}

	s.mu.Lock()
	var matched []source.Item
	for _, it := range s.items {
		at := parseTime(it.CreatedAt)
		if !at.Before(req.Start) && at.Before(req.End) {
			matched = append(matched, it)
		}
	}
	s.mu.Unlock()

	from := min((page-1)*pageSize, len(matched))
	to := min(page*pageSize, len(matched))
	items := make([]source.Item, to-from)
	copy(items, matched[from:to])

	return &source.Page{
		Items: items,
		Meta: source.Meta{
			TotalItems:   len(matched),
			ItemCount:    len(items),
			ItemsPerPage: pageSize,
			TotalPages:   int(math.Ceil(float64(len(matched)) / float64(pageSize))),
			CurrentPage:  page,
			RateLimit:    rl,
		},
	}, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ source.Source = (*Source)(nil)
