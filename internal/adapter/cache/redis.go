// Package cache provides the hot-path caching tiers: a distributed Redis
// wrapper with silent degradation and a bounded process-local TTL tier.
// The system must stay correct (slower) when Redis is unreachable.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps a go-redis client with JSON encoding and fail-silent semantics.
// Get returns (nil, false) on miss or connectivity failure; Set is
// fire-and-forget.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing client. A nil client is valid and behaves as
// permanently unavailable.
func NewRedis(client *redis.Client) *Redis { return &Redis{client: client} }

// Client exposes the raw client for components (queue, dedup set) that need
// list/zset/lock primitives directly.
func (r *Redis) Client() *redis.Client { return r.client }

// Available pings Redis with a short deadline.
func (r *Redis) Available(ctx context.Context) bool {
	if r.client == nil {
		return false
	}
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.client.Ping(pctx).Err() == nil
}

// Get reads and JSON-decodes a key into dst. Returns false on miss or any
// Redis failure.
func (r *Redis) Get(ctx context.Context, key string, dst any) bool {
	if r.client == nil {
		return false
	}
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		slog.Debug("cache decode failed", slog.String("key", key), slog.Any("error", err))
		return false
	}
	return true
}

// Set JSON-encodes and writes a key with TTL. Failures are logged at debug
// and otherwise ignored.
func (r *Redis) Set(ctx context.Context, key string, v any, ttl time.Duration) {
	if r.client == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		slog.Debug("cache set failed", slog.String("key", key), slog.Any("error", err))
	}
}

// Delete removes a key; used on invalidation paths.
func (r *Redis) Delete(ctx context.Context, key string) {
	if r.client == nil {
		return
	}
	_ = r.client.Del(ctx, key).Err()
}
