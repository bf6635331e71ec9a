package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialops/oversight-agent/internal/adapter/cache"
)

func newTestScheduler(at time.Time) *Scheduler {
	s := New()
	s.now = func() time.Time { return at }
	return s
}

func TestFireDueRunsAndAdvances(t *testing.T) {
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	s := newTestScheduler(now)

	var runs atomic.Int64
	s.Register("job", Every(time.Minute), func(context.Context) error {
		runs.Add(1)
		return nil
	})
	s.jobs["job"].nextRun = now.Add(-10 * time.Second)

	s.fireDue(context.Background())
	s.wg.Wait()

	assert.Equal(t, int64(1), runs.Load())
	st, ok := s.Status("job")
	require.True(t, ok)
	assert.True(t, st.NextRun.After(now))
	assert.Equal(t, int64(1), st.TotalRuns)
	require.NotNil(t, st.LastRun)
	assert.Empty(t, st.LastError)
}

func TestFireDueSkipsMisfires(t *testing.T) {
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	s := newTestScheduler(now)

	var runs atomic.Int64
	s.Register("stale", Every(time.Minute), func(context.Context) error {
		runs.Add(1)
		return nil
	})
	// Due five minutes ago, well past the misfire window.
	s.jobs["stale"].nextRun = now.Add(-5 * time.Minute)

	s.fireDue(context.Background())
	s.wg.Wait()

	assert.Zero(t, runs.Load(), "stale fire must be skipped, not run late")
	st, _ := s.Status("stale")
	assert.True(t, st.NextRun.After(now), "skipped fire still advances the schedule")
}

func TestFireDueCoalescesMissedRuns(t *testing.T) {
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	s := newTestScheduler(now)

	s.Register("job", Every(10*time.Second), func(context.Context) error { return nil })
	s.jobs["job"].nextRun = now.Add(-30 * time.Second)

	s.fireDue(context.Background())
	s.wg.Wait()

	// Three missed intervals collapse into one run and one advance past now.
	st, _ := s.Status("job")
	assert.True(t, st.NextRun.After(now))
	assert.True(t, st.NextRun.Sub(now) <= 10*time.Second)
	assert.Equal(t, int64(1), st.TotalRuns)
}

func TestFireDueHonorsPause(t *testing.T) {
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	s := newTestScheduler(now)

	var runs atomic.Int64
	s.Register("job", Every(time.Minute), func(context.Context) error {
		runs.Add(1)
		return nil
	})
	s.jobs["job"].nextRun = now.Add(-time.Second)

	require.True(t, s.Pause("job"))
	s.fireDue(context.Background())
	s.wg.Wait()
	assert.Zero(t, runs.Load())

	require.True(t, s.Resume("job"))
	st, _ := s.Status("job")
	assert.False(t, st.Paused)
	assert.Equal(t, now.Add(time.Minute), st.NextRun, "resume recomputes from now")
}

func TestTriggerNow(t *testing.T) {
	s := newTestScheduler(time.Now())

	var runs atomic.Int64
	block := make(chan struct{})
	s.Register("job", Every(time.Hour), func(context.Context) error {
		runs.Add(1)
		<-block
		return nil
	})

	require.True(t, s.TriggerNow(context.Background(), "job"))
	assert.False(t, s.TriggerNow(context.Background(), "job"), "running job refuses a second trigger")
	assert.False(t, s.TriggerNow(context.Background(), "unknown"))

	close(block)
	s.wg.Wait()
	assert.Equal(t, int64(1), runs.Load())
}

func TestRunErrorRecordedInStatus(t *testing.T) {
	s := newTestScheduler(time.Now())
	s.Register("flaky", Every(time.Hour), func(context.Context) error {
		return errors.New("upstream 500")
	})

	require.True(t, s.TriggerNow(context.Background(), "flaky"))
	s.wg.Wait()

	st, _ := s.Status("flaky")
	assert.Equal(t, "upstream 500", st.LastError)
	assert.False(t, st.Running)
}

func TestStatusAllKeepsRegistrationOrder(t *testing.T) {
	s := newTestScheduler(time.Now())
	for _, id := range []string{"c", "a", "b"} {
		s.Register(id, Every(time.Hour), func(context.Context) error { return nil })
	}
	all := s.StatusAll()
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)
	assert.Equal(t, "a", all[1].ID)
	assert.Equal(t, "b", all[2].ID)
}

func TestDedupSet(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := cache.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	d := NewDedupSet(rdb, "engagement_monitor:processed_ids")
	assert.False(t, d.Seen(ctx, "c1"))

	d.Add(ctx, "c1")
	assert.True(t, d.Seen(ctx, "c1"))
	assert.False(t, d.Seen(ctx, "c2"))

	// Redis loss degrades to "not seen"; the store filter stays authoritative.
	mr.Close()
	assert.False(t, d.Seen(ctx, "c1"))
	d.Add(ctx, "c3")
}
