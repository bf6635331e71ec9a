package cache

import (
	"context"
	"time"
)

// TwoTier fronts the distributed cache with a process-local TTL map for one
// key class. The local TTL mirrors the Redis TTL so eviction stays
// semantically consistent across tiers.
//
// Read order: local -> Redis -> loader. On a loader hit both tiers are
// populated (write-through). Invalidate drops the local tier only; Redis is
// allowed to serve stale data until its TTL elapses.
type TwoTier[T any] struct {
	local  *Local
	redis  *Redis
	prefix string
	ttl    time.Duration
}

// NewTwoTier builds a two-tier cache for one key class.
func NewTwoTier[T any](redis *Redis, prefix string, capacity int, ttl time.Duration) *TwoTier[T] {
	return &TwoTier[T]{
		local:  NewLocal(capacity, ttl),
		redis:  redis,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *TwoTier[T]) key(k string) string { return c.prefix + ":" + k }

// Get returns a cached value, promoting Redis hits into the local tier.
func (c *TwoTier[T]) Get(ctx context.Context, k string) (T, bool) {
	var zero T
	if v, ok := c.local.Get(c.key(k)); ok {
		if t, ok := v.(T); ok {
			return t, true
		}
	}
	var t T
	if c.redis.Get(ctx, c.key(k), &t) {
		c.local.Set(c.key(k), t)
		return t, true
	}
	return zero, false
}

// Put writes through both tiers.
func (c *TwoTier[T]) Put(ctx context.Context, k string, v T) {
	c.local.Set(c.key(k), v)
	c.redis.Set(ctx, c.key(k), v, c.ttl)
}

// GetOrLoad returns the cached value or loads, caches, and returns it. Loader
// errors pass through without caching.
func (c *TwoTier[T]) GetOrLoad(ctx context.Context, k string, load func(context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(ctx, k); ok {
		return v, nil
	}
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	c.Put(ctx, k, v)
	return v, nil
}

// Invalidate drops the local entry and best-effort deletes the Redis key.
func (c *TwoTier[T]) Invalidate(ctx context.Context, k string) {
	c.local.Delete(c.key(k))
	c.redis.Delete(ctx, c.key(k))
}
