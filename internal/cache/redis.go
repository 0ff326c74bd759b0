// Package cache implements channelreg.CapacityCache on Redis, so a
// channel's in-flight concurrency counter is shared across multiple
// orchestrator worker processes instead of being process-local
// (spec.md §4.3: "multiple worker processes see a consistent view").
package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisCapacity implements channelreg.CapacityCache.
type RedisCapacity struct {
	client *redis.Client
	prefix string
}

// NewRedisCapacity constructs a RedisCapacity over an existing client.
func NewRedisCapacity(client *redis.Client) *RedisCapacity {
	return &RedisCapacity{client: client, prefix: "orchestrator:inflight:"}
}

func (c *RedisCapacity) key(channelID string) string {
	return c.prefix + channelID
}

// Incr increments and returns the channel's in-flight counter.
func (c *RedisCapacity) Incr(ctx context.Context, channelID string) (int64, error) {
	n, err := c.client.Incr(ctx, c.key(channelID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", channelID, err)
	}
	return n, nil
}

// Decr decrements and returns the channel's in-flight counter, never
// going below zero (a stray extra release must not corrupt the count).
func (c *RedisCapacity) Decr(ctx context.Context, channelID string) (int64, error) {
	n, err := c.client.Decr(ctx, c.key(channelID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis decr %s: %w", channelID, err)
	}
	if n < 0 {
		_ = c.client.Set(ctx, c.key(channelID), 0, 0).Err()
		return 0, nil
	}
	return n, nil
}

// Get returns the channel's current in-flight counter, 0 if unset.
func (c *RedisCapacity) Get(ctx context.Context, channelID string) (int64, error) {
	n, err := c.client.Get(ctx, c.key(channelID)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("redis get %s: %w", channelID, err)
	}
	return n, nil
}
