package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the sliding-window log with a Redis sorted set per
// key, letting the limiter be shared across Gateway replicas. Score and
// member are both the event's Unix-nanosecond timestamp so duplicates
// within the same nanosecond are deduplicated away; this is an accepted
// approximation at 60s window granularity.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Record(ctx context.Context, key string, now time.Time, window time.Duration) ([]time.Time, error) {
	cutoff := now.Add(-window).UnixNano()
	member := strconv.FormatInt(now.UnixNano(), 10)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, key, window+time.Second)
	members := pipe.ZRange(ctx, key, 0, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("ratelimit: redis pipeline: %w", err)
	}

	raw, err := members.Result()
	if err != nil {
		return nil, fmt.Errorf("ratelimit: zrange result: %w", err)
	}
	out := make([]time.Time, 0, len(raw))
	for _, m := range raw {
		ns, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, time.Unix(0, ns))
	}
	return out, nil
}

var _ Store = (*RedisStore)(nil)
