package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(store Store) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(store, WithClock(clock.Now)), clock
}

func TestLimiter_SixthCallDenied(t *testing.T) {
	limiter, _ := newTestLimiter(NewMemoryStore())
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		res := limiter.Admit(ctx, "k", 5, 60*time.Second)
		if !res.Allowed || res.Decision != DecisionAdmitted {
			t.Fatalf("call %d: got %+v, want admitted", i, res)
		}
		if res.Remaining != 5-i {
			t.Errorf("call %d: Remaining = %d, want %d", i, res.Remaining, 5-i)
		}
	}

	res := limiter.Admit(ctx, "k", 5, 60*time.Second)
	if res.Allowed || res.Decision != DecisionDenied {
		t.Errorf("call 6: got %+v, want denied", res)
	}
	if res.Remaining != 0 {
		t.Errorf("call 6: Remaining = %d, want 0", res.Remaining)
	}
}

func TestLimiter_WindowSlides(t *testing.T) {
	limiter, clock := newTestLimiter(NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		limiter.Admit(ctx, "k", 2, 10*time.Second)
		clock.Advance(time.Second)
	}
	if res := limiter.Admit(ctx, "k", 2, 10*time.Second); res.Allowed {
		t.Fatalf("third call inside window admitted: %+v", res)
	}

	// All three entries age out after the window.
	clock.Advance(10 * time.Second)
	if res := limiter.Admit(ctx, "k", 2, 10*time.Second); !res.Allowed {
		t.Errorf("call after window denied: %+v", res)
	}
}

func TestLimiter_DeniedCallsAreRecorded(t *testing.T) {
	limiter, clock := newTestLimiter(NewMemoryStore())
	ctx := context.Background()

	limiter.Admit(ctx, "k", 1, 10*time.Second)
	clock.Advance(5 * time.Second)
	limiter.Admit(ctx, "k", 1, 10*time.Second) // denied, but logged

	// The first entry has aged out; the denied one has not.
	clock.Advance(6 * time.Second)
	if res := limiter.Admit(ctx, "k", 1, 10*time.Second); res.Allowed {
		t.Errorf("expected denial while the denied attempt is still in the window: %+v", res)
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(NewMemoryStore())
	ctx := context.Background()

	limiter.Admit(ctx, "a", 1, time.Minute)
	if res := limiter.Admit(ctx, "b", 1, time.Minute); !res.Allowed {
		t.Errorf("key b affected by key a: %+v", res)
	}
}

type brokenStore struct{}

func (brokenStore) Record(context.Context, string, string, time.Time, time.Duration) (int, error) {
	return 0, errors.New("connection refused")
}

func TestLimiter_FailsOpen(t *testing.T) {
	limiter, _ := newTestLimiter(brokenStore{})

	res := limiter.Admit(context.Background(), "k", 5, time.Minute)
	if res.Decision != DecisionDegraded || !res.Allowed || res.Remaining != 1 {
		t.Errorf("got %+v, want degraded admit with remaining 1", res)
	}
}

// Over a random arrival pattern, no trailing window ever holds more than
// limit admitted calls.
func TestLimiter_NeverExceedsLimitInAnyWindow(t *testing.T) {
	const (
		limit  = 5
		window = 60 * time.Second
	)
	limiter, clock := newTestLimiter(NewMemoryStore())
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	var admitted []time.Time
	for i := 0; i < 2000; i++ {
		clock.Advance(time.Duration(rng.Intn(15000)) * time.Millisecond)
		if res := limiter.Admit(ctx, "k", limit, window); res.Allowed {
			admitted = append(admitted, clock.Now())
		}
	}

	for i := range admitted {
		inWindow := 0
		for j := i; j < len(admitted) && admitted[j].Sub(admitted[i]) < window; j++ {
			inWindow++
		}
		if inWindow > limit {
			t.Fatalf("%d admitted calls within %s starting at %v", inWindow, window, admitted[i])
		}
	}
}

func TestDecision_String(t *testing.T) {
	tests := []struct {
		d    Decision
		want string
	}{
		{DecisionAdmitted, "admitted"},
		{DecisionDenied, "denied"},
		{DecisionDegraded, "degraded"},
	}
	for _, tt := range tests {
		if got := tt.d.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", int(tt.d), got, tt.want)
		}
	}
}
