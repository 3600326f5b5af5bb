package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisStore_Scenario(t *testing.T) {
	_, client := setupRedis(t)
	limiter, _ := newTestLimiter(NewRedisStore(client, "test:"))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		res := limiter.Admit(ctx, "api", 5, 60*time.Second)
		require.True(t, res.Allowed, "call %d", i)
		assert.Equal(t, 5-i, res.Remaining)
	}

	res := limiter.Admit(ctx, "api", 5, 60*time.Second)
	assert.False(t, res.Allowed)
	assert.Equal(t, DecisionDenied, res.Decision)
}

func TestRedisStore_SetsExpiryAndPrunes(t *testing.T) {
	mr, client := setupRedis(t)
	store := NewRedisStore(client, "test:")
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := store.Record(ctx, "k", "m1", now, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, mr.TTL("test:k"))

	count, err := store.Record(ctx, "k", "m2", now.Add(10*time.Second), 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "entry exactly one window old must be pruned")
}

func TestRedisStore_SameInstantCountsTwice(t *testing.T) {
	_, client := setupRedis(t)
	store := NewRedisStore(client, "")
	ctx := context.Background()
	now := time.Now()

	_, err := store.Record(ctx, "k", "a", now, time.Minute)
	require.NoError(t, err)
	count, err := store.Record(ctx, "k", "b", now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRedisStore_SharedAcrossLimiters(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()

	// Two limiters model two processes sharing one redis.
	a := New(NewRedisStore(client, "shared:"))
	b := New(NewRedisStore(client, "shared:"))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		l := a
		if i%2 == 1 {
			l = b
		}
		go func() {
			defer wg.Done()
			if l.Admit(ctx, "api", 5, time.Minute).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, allowed)
}

func TestRedisStore_DownFailsOpen(t *testing.T) {
	mr, client := setupRedis(t)
	limiter := New(NewRedisStore(client, ""))
	mr.Close()

	res := limiter.Admit(context.Background(), "api", 5, time.Minute)
	assert.Equal(t, DecisionDegraded, res.Decision)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)
}
