package source

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited is matched by every rate-limit rejection.
	ErrRateLimited = errors.New("transaction source rate limited")

	// ErrUnavailable covers transport failures and 5xx responses.
	ErrUnavailable = errors.New("transaction source unavailable")
)

// RateLimitError is a rate-limit rejection with an optional retry hint.
type RateLimitError struct {
	RetryAfter time.Duration // zero when unknown
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter)
	}
	return ErrRateLimited.Error()
}

// Is reports whether target is ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// IsRateLimited reports whether err is a rate-limit rejection.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}
