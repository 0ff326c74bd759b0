package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/assert"
)

func newTestCache(t *testing.T) *RedisCapacity {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCapacity(client)
}

func TestRedisCapacity_IncrDecrRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	n, err := c.Incr(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.Incr(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = c.Decr(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisCapacity_DecrNeverGoesNegative(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	n, err := c.Decr(ctx, "chan-2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	got, err := c.Get(ctx, "chan-2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)
}

func TestRedisCapacity_GetUnsetChannelReturnsZero(t *testing.T) {
	c := newTestCache(t)
	n, err := c.Get(context.Background(), "never-touched")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
