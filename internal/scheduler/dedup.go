package scheduler

import (
	"context"
	"time"

	"github.com/socialops/oversight-agent/internal/adapter/cache"
)

// dedupTTL keeps the hot set alive for a day past the last write. Refreshing
// on every write can hold the set indefinitely under continuous traffic; the
// store-side processed flag bounds the damage.
const dedupTTL = 24 * time.Hour

// DedupSet is the hot half of the engagement monitor's two-layer dedup: a
// Redis set in front of the store's processed flag. All operations degrade
// silently to "not seen" when Redis is down; the store filter remains
// authoritative.
type DedupSet struct {
	redis *cache.Redis
	key   string
}

// NewDedupSet builds a set under one key.
func NewDedupSet(redis *cache.Redis, key string) *DedupSet {
	return &DedupSet{redis: redis, key: key}
}

// Seen reports whether the id is in the hot set.
func (d *DedupSet) Seen(ctx context.Context, id string) bool {
	if !d.redis.Available(ctx) {
		return false
	}
	ok, err := d.redis.Client().SIsMember(ctx, d.key, id).Result()
	return err == nil && ok
}

// Add records the id and refreshes the set TTL.
func (d *DedupSet) Add(ctx context.Context, id string) {
	if !d.redis.Available(ctx) {
		return
	}
	pipe := d.redis.Client().Pipeline()
	pipe.SAdd(ctx, d.key, id)
	pipe.Expire(ctx, d.key, dedupTTL)
	_, _ = pipe.Exec(ctx)
}
