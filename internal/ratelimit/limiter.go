// Package ratelimit implements sliding-window admission control over a
// counter store that may be shared by several processes.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ledger-sync/internal/observability"
)

// Decision is the outcome of an admission check.
type Decision int

const (
	// DecisionAdmitted means the request fits in the window.
	DecisionAdmitted Decision = iota
	// DecisionDenied means the window already holds limit requests.
	DecisionDenied
	// DecisionDegraded means the counter store failed and the request was let through.
	DecisionDegraded
)

// String returns the string representation of Decision.
func (d Decision) String() string {
	switch d {
	case DecisionAdmitted:
		return "admitted"
	case DecisionDenied:
		return "denied"
	case DecisionDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Result is returned by Admit.
type Result struct {
	Decision  Decision
	Allowed   bool
	Remaining int
}

// Store keeps the per-key log of request timestamps.
type Store interface {
	// Record adds member at time at to key, drops entries at or before at-window,
	// refreshes the key expiry to window and returns the number of entries left.
	// All four steps must be atomic with respect to other callers.
	Record(ctx context.Context, key, member string, at time.Time, window time.Duration) (int, error)
}

// Limiter is a sliding-window log rate limiter.
type Limiter struct {
	store  Store
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithLogger sets the logger used for degradation warnings.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// New creates a Limiter over store.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit records the current request under key and decides whether it fits in
// the trailing window. Denied requests are recorded too, so the log reflects
// attempted traffic. When the store fails the request is admitted with
// Remaining 1 and DecisionDegraded.
func (l *Limiter) Admit(ctx context.Context, key string, limit int, window time.Duration) Result {
	now := l.now()
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

	count, err := l.store.Record(ctx, key, member, now, window)
	if err != nil {
		l.logger.Warn().
			Err(err).
			Str("key", key).
			Msg("rate limiter store unavailable, failing open")
		observability.RecordLimiterDecision(DecisionDegraded.String())
		return Result{Decision: DecisionDegraded, Allowed: true, Remaining: 1}
	}

	res := Result{
		Decision:  DecisionAdmitted,
		Allowed:   count <= limit,
		Remaining: max(0, limit-count),
	}
	if !res.Allowed {
		res.Decision = DecisionDenied
	}
	observability.RecordLimiterDecision(res.Decision.String())
	return res
}
