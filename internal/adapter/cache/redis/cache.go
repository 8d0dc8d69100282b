// Package redisadp implements the shared KV cache on Redis. It carries the
// GPU telemetry document and other ephemeral state with TTL semantics.
package redisadp

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zimagehq/zimage/internal/domain"
)

// GPUStatsKey is the well-known key the worker telemetry loop writes.
const GPUStatsKey = "ml_worker:gpu_stats"

// GPUStatsTTL bounds staleness of the telemetry document.
const GPUStatsTTL = 30 * time.Second

// Cache implements domain.KVCache.
type Cache struct{ rdb *redis.Client }

// New parses a Redis URL and returns a Cache.
func New(redisURL string) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=cache.new: %w", err)
	}
	return &Cache{rdb: redis.NewClient(opt)}, nil
}

// NewFromClient wraps an existing client (used by tests and the gateway,
// which shares one connection pool between limiter and cache).
func NewFromClient(rdb *redis.Client) *Cache { return &Cache{rdb: rdb} }

// Set stores value under key with the given TTL.
func (c *Cache) Set(ctx domain.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("op=cache.set: %w", err)
	}
	return nil
}

// Get returns the value under key, or domain.ErrNotFound when absent/expired.
func (c *Cache) Get(ctx domain.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("op=cache.get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=cache.get: %w", err)
	}
	return b, nil
}

// Ping verifies connectivity; used by readiness checks.
func (c *Cache) Ping(ctx domain.Context) error { return c.rdb.Ping(ctx).Err() }
