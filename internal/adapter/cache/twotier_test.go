package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTwoTier(t *testing.T) (*TwoTier[string], *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return NewTwoTier[string](rdb, "test", 8, time.Minute), mr
}

func TestTwoTierPutGet(t *testing.T) {
	c, _ := newTestTwoTier(t)
	ctx := context.Background()

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	c.Put(ctx, "k", "v")
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestTwoTierPromotesRedisHit(t *testing.T) {
	c, mr := newTestTwoTier(t)
	ctx := context.Background()

	c.Put(ctx, "k", "v")
	c.local.Delete("test:k")

	got, ok := c.Get(ctx, "k")
	require.True(t, ok, "redis tier must backfill a local miss")
	assert.Equal(t, "v", got)

	// The hit was promoted: a dead Redis no longer matters.
	mr.Close()
	got, ok = c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestTwoTierGetOrLoad(t *testing.T) {
	c, _ := newTestTwoTier(t)
	ctx := context.Background()

	loads := 0
	loader := func(context.Context) (string, error) {
		loads++
		return "loaded", nil
	}

	got, err := c.GetOrLoad(ctx, "k", loader)
	require.NoError(t, err)
	assert.Equal(t, "loaded", got)

	got, err = c.GetOrLoad(ctx, "k", loader)
	require.NoError(t, err)
	assert.Equal(t, "loaded", got)
	assert.Equal(t, 1, loads, "second read must come from cache")
}

func TestTwoTierGetOrLoadErrorNotCached(t *testing.T) {
	c, _ := newTestTwoTier(t)
	ctx := context.Background()

	boom := errors.New("store down")
	_, err := c.GetOrLoad(ctx, "k", func(context.Context) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)

	// A later successful load still runs.
	got, err := c.GetOrLoad(ctx, "k", func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestTwoTierInvalidate(t *testing.T) {
	c, _ := newTestTwoTier(t)
	ctx := context.Background()

	c.Put(ctx, "k", "v")
	c.Invalidate(ctx, "k")

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestTwoTierSurvivesRedisLoss(t *testing.T) {
	c, mr := newTestTwoTier(t)
	ctx := context.Background()
	mr.Close()

	c.Put(ctx, "k", "v")
	got, ok := c.Get(ctx, "k")
	require.True(t, ok, "local tier carries the cache when redis is down")
	assert.Equal(t, "v", got)
}
