package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps request logs in redis sorted sets scored by unix milliseconds.
// Every process pointed at the same redis shares the counts.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Store on client. Keys are prefixed with prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Record implements Store with ZADD, ZREMRANGEBYSCORE, ZCARD and PEXPIRE in one MULTI/EXEC.
func (s *RedisStore) Record(ctx context.Context, key, member string, at time.Time, window time.Duration) (int, error) {
	k := s.prefix + key
	score := float64(at.UnixMilli())
	cutoff := at.Add(-window).UnixMilli()

	var card *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, k, redis.Z{Score: score, Member: member})
		pipe.ZRemRangeByScore(ctx, k, "-inf", fmt.Sprintf("%d", cutoff))
		card = pipe.ZCard(ctx, k)
		pipe.PExpire(ctx, k, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis rate limit %s: %w", key, err)
	}

	return int(card.Val()), nil
}

var _ Store = (*RedisStore)(nil)
