package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreAllowsUpToLimit(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore(), map[string]Rule{"qr_ip": {Limit: 30, Window: 60 * time.Second}})

	for i := 0; i < 30; i++ {
		d, err := l.Allow(ctx, "qr_ip", "1.2.3.4")
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d should be allowed", i+1)
	}
	d, err := l.Allow(ctx, "qr_ip", "1.2.3.4")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.GreaterOrEqual(t, d.RetryAfter, time.Second)
}

func TestDeviceLimitIsOnePerTwentySeconds(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemoryStore(), DefaultRules())

	d, err := l.Allow(ctx, "qr_device", "device-1")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = l.Allow(ctx, "qr_device", "device-1")
	require.NoError(t, err)
	require.False(t, d.Allowed)
}

func TestRedisStoreMatchesMemorySemantics(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := New(NewRedisStore(client), map[string]Rule{"qr_locker": {Limit: 6, Window: 60 * time.Second}})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		d, err := l.Allow(ctx, "qr_locker", "locker-9")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		mr.FastForward(time.Millisecond)
	}
	d, err := l.Allow(ctx, "qr_locker", "locker-9")
	require.NoError(t, err)
	require.False(t, d.Allowed)
}
