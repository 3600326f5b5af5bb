package jobqueue

import (
	"fmt"
	"math"
	"time"
)

// Options is the retry policy of one job.
type Options struct {
	Attempts     int           // total attempt budget, first try included
	InitialDelay time.Duration // delay after the first failure
	Multiplier   float64       // delay growth per further failure
}

// DefaultOptions returns 3 attempts with 1s, 2s backoff.
func DefaultOptions() Options {
	return Options{
		Attempts:     3,
		InitialDelay: time.Second,
		Multiplier:   2,
	}
}

// Validate rejects policies that could never run or never stop.
func (o Options) Validate() error {
	if o.Attempts < 1 {
		return fmt.Errorf("attempts must be >= 1, got %d", o.Attempts)
	}
	if o.InitialDelay < 0 {
		return fmt.Errorf("initial delay must be >= 0, got %s", o.InitialDelay)
	}
	if o.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %v", o.Multiplier)
	}
	return nil
}

// BackoffDelay is the wait after the failed-th failed attempt (1-based):
// initialDelay * multiplier^(failed-1).
func BackoffDelay(initialDelay time.Duration, multiplier float64, failed int) time.Duration {
	if failed < 1 {
		return 0
	}
	return time.Duration(float64(initialDelay) * math.Pow(multiplier, float64(failed-1)))
}
