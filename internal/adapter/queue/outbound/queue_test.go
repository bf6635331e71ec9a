package outbound

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialops/oversight-agent/internal/adapter/cache"
	"github.com/socialops/oversight-agent/internal/domain"
)

// memJobs is an in-memory JobRepository for queue tests.
type memJobs struct {
	mu     sync.Mutex
	rows   map[string]domain.Job
	stat   map[string]domain.JobStatus
	fail   bool                       // simulate a degraded store
	failOn map[domain.JobStatus]bool  // fail status writes to these states only
	trans  []string                   // ordered "jobID:status" transitions
	extra  map[string]map[string]any  // last extra payload per job
}

func newMemJobs() *memJobs {
	return &memJobs{
		rows:   map[string]domain.Job{},
		stat:   map[string]domain.JobStatus{},
		failOn: map[domain.JobStatus]bool{},
		extra:  map[string]map[string]any{},
	}
}

func (m *memJobs) CreatePending(_ context.Context, j domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return domain.ErrCircuitOpen
	}
	m.rows[j.JobID] = j
	m.stat[j.JobID] = domain.JobPending
	return nil
}

func (m *memJobs) UpdateStatus(_ context.Context, jobID string, status domain.JobStatus, extra map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail || m.failOn[status] {
		return domain.ErrCircuitOpen
	}
	m.stat[jobID] = status
	m.trans = append(m.trans, jobID+":"+string(status))
	if extra != nil {
		m.extra[jobID] = extra
	}
	return nil
}

func (m *memJobs) FindActiveByIdempotencyKey(_ context.Context, key string) (domain.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return domain.Job{}, false, domain.ErrCircuitOpen
	}
	for id, j := range m.rows {
		if j.IdempotencyKey == key && m.stat[id].Active() {
			return j, true, nil
		}
	}
	return domain.Job{}, false, nil
}

func (m *memJobs) ListPending(_ context.Context, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, domain.ErrCircuitOpen
	}
	var out []domain.Job
	for id, j := range m.rows {
		if m.stat[id] == domain.JobPending {
			out = append(out, j)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memJobs) ListDLQ(_ context.Context, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for id, j := range m.rows {
		if m.stat[id] == domain.JobDLQ {
			out = append(out, j)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memJobs) Get(_ context.Context, jobID string) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.rows[jobID]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return j, nil
}

func (m *memJobs) status(jobID string) domain.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stat[jobID]
}

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis, *memJobs) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := cache.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	jobs := newMemJobs()
	return New(rdb, jobs, 5), mr, jobs
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q, _, jobs := newTestQueue(t)
	ctx := context.Background()

	res := q.Enqueue(ctx, domain.Job{
		ActionType: domain.ActionReplyComment,
		Priority:   domain.PriorityHigh,
		Endpoint:   "/api/instagram/reply-comment",
		Payload:    map[string]any{"comment_id": "c1"},
		AccountID:  "acct1",
	})
	require.True(t, res.Success)
	assert.True(t, res.Queued)
	assert.Equal(t, "redis", res.Backend)
	assert.Equal(t, domain.JobQueued, jobs.status(res.JobID))

	got, err := q.Dequeue(ctx, domain.PriorityHigh)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, res.JobID, got.JobID)
	assert.Equal(t, domain.ActionReplyComment, got.ActionType)
	assert.Equal(t, 5, got.MaxRetries)

	empty, err := q.Dequeue(ctx, domain.PriorityHigh)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestEnqueueDeduplicatesOnIdempotencyKey(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	first := q.Enqueue(ctx, domain.Job{
		ActionType:     domain.ActionReplyComment,
		IdempotencyKey: "reply_comment:c1",
	})
	require.True(t, first.Success)
	require.False(t, first.Deduplicated)

	second := q.Enqueue(ctx, domain.Job{
		ActionType:     domain.ActionReplyComment,
		IdempotencyKey: "reply_comment:c1",
	})
	require.True(t, second.Success)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.JobID, second.JobID)
}

func TestDequeueDrainsLanesIndependently(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	q.Enqueue(ctx, domain.Job{ActionType: domain.ActionReplyDM, Priority: domain.PriorityNormal})
	q.Enqueue(ctx, domain.Job{ActionType: domain.ActionReplyComment, Priority: domain.PriorityHigh})

	high, err := q.Dequeue(ctx, domain.PriorityHigh)
	require.NoError(t, err)
	require.NotNil(t, high)
	assert.Equal(t, domain.ActionReplyComment, high.ActionType)

	normal, err := q.Dequeue(ctx, domain.PriorityNormal)
	require.NoError(t, err)
	require.NotNil(t, normal)
	assert.Equal(t, domain.ActionReplyDM, normal.ActionType)
}

func TestEnqueueFallsBackToStoreWhenRedisDown(t *testing.T) {
	q, mr, jobs := newTestQueue(t)
	ctx := context.Background()
	mr.Close()

	res := q.Enqueue(ctx, domain.Job{ActionType: domain.ActionSyncUGC})
	require.True(t, res.Success)
	assert.Equal(t, "store", res.Backend)
	assert.Equal(t, domain.JobPending, jobs.status(res.JobID))

	// The fallback lane only serves the normal cadence.
	high, err := q.Dequeue(ctx, domain.PriorityHigh)
	require.NoError(t, err)
	assert.Nil(t, high)

	got, err := q.Dequeue(ctx, domain.PriorityNormal)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, res.JobID, got.JobID)
	assert.Equal(t, domain.JobProcessing, jobs.status(res.JobID))
}

func TestEnqueueFailsWhenBothBackendsDown(t *testing.T) {
	q, mr, jobs := newTestQueue(t)
	mr.Close()
	jobs.fail = true

	res := q.Enqueue(context.Background(), domain.Job{ActionType: domain.ActionRepostUGC})
	assert.False(t, res.Success)
}

func TestScheduleRetryAndDrain(t *testing.T) {
	q, mr, _ := newTestQueue(t)
	ctx := context.Background()

	j := domain.Job{JobID: "j1", ActionType: domain.ActionPublishPost, Priority: domain.PriorityNormal, MaxRetries: 5}
	require.True(t, q.ScheduleRetry(ctx, j, 0))

	// Member score is now or earlier, so one drain promotes it.
	mr.FastForward(time.Second)
	assert.Equal(t, 1, q.DrainScheduled(ctx))

	got, err := q.Dequeue(ctx, domain.PriorityNormal)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "j1", got.JobID)

	// Nothing left to drain.
	assert.Equal(t, 0, q.DrainScheduled(ctx))
}

func TestScheduleRetryFutureJobsStayParked(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	j := domain.Job{JobID: "j2", Priority: domain.PriorityNormal}
	require.True(t, q.ScheduleRetry(ctx, j, time.Hour))
	assert.Equal(t, 0, q.DrainScheduled(ctx))

	stats := q.Stats(ctx)
	assert.Equal(t, int64(1), stats.ScheduledDepth)
	assert.Equal(t, int64(0), stats.NormalDepth)
}

func TestMoveToDLQAndRetry(t *testing.T) {
	q, _, jobs := newTestQueue(t)
	ctx := context.Background()

	j := domain.Job{JobID: "dead1", ActionType: domain.ActionReplyDM, Priority: domain.PriorityHigh, AccountID: "acct1"}
	jobs.rows["dead1"] = j
	require.True(t, q.MoveToDLQ(ctx, j, "non_retryable:permanent:bad payload", domain.CategoryPermanent))
	assert.Equal(t, domain.JobDLQ, jobs.status("dead1"))

	listed := q.DLQJobs(ctx, 10)
	require.Len(t, listed, 1)
	assert.Equal(t, "dead1", listed[0].JobID)
	assert.Equal(t, "non_retryable:permanent:bad payload", listed[0].DLQReason)

	res, err := q.RetryDLQ(ctx, "dead1")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.NotEqual(t, "dead1", res.JobID)

	// The dead row closes out pointing at its replacement.
	assert.Equal(t, domain.JobCompleted, jobs.status("dead1"))
	assert.Equal(t, res.JobID, jobs.extra["dead1"]["retried_as"])

	// The fresh copy carries a clean retry budget on its original lane.
	got, err := q.Dequeue(ctx, domain.PriorityHigh)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Zero(t, got.RetryCount)
	assert.Empty(t, got.DLQReason)

	assert.Empty(t, q.DLQJobs(ctx, 10))
}

func TestRetryDLQUnknownJob(t *testing.T) {
	q, _, _ := newTestQueue(t)
	_, err := q.RetryDLQ(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAcquireLockExclusiveAndFailOpen(t *testing.T) {
	q, mr, _ := newTestQueue(t)
	ctx := context.Background()

	require.True(t, q.AcquireLock(ctx, "j1"))
	assert.False(t, q.AcquireLock(ctx, "j1"))
	q.ReleaseLock(ctx, "j1")
	assert.True(t, q.AcquireLock(ctx, "j1"))

	mr.Close()
	assert.True(t, q.AcquireLock(ctx, "j1"), "lock fails open when redis is down")
}

func TestDrainStoreFallbackAfterRecovery(t *testing.T) {
	q, mr, jobs := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, jobs.CreatePending(ctx, domain.Job{JobID: "p1", Priority: domain.PriorityNormal}))
	require.NoError(t, jobs.CreatePending(ctx, domain.Job{JobID: "p2", Priority: domain.PriorityNormal}))

	assert.Equal(t, 2, q.DrainStoreFallback(ctx))
	assert.Equal(t, domain.JobQueued, jobs.status("p1"))
	assert.Equal(t, domain.JobQueued, jobs.status("p2"))

	// Queued rows are off the pending list, so a second drain moves nothing.
	assert.Equal(t, 0, q.DrainStoreFallback(ctx))

	stats := q.Stats(ctx)
	assert.Equal(t, int64(2), stats.NormalDepth)
	_ = mr
}

func TestDrainStoreFallbackClaimsBeforePush(t *testing.T) {
	q, _, jobs := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, jobs.CreatePending(ctx, domain.Job{JobID: "p1", Priority: domain.PriorityNormal}))
	assert.Equal(t, 1, q.DrainStoreFallback(ctx))

	// The row passes through processing before the push lands it on queued.
	assert.Equal(t, []string{"p1:processing", "p1:queued"}, jobs.trans)
}

func TestDrainStoreFallbackClaimFailureSkipsPush(t *testing.T) {
	q, _, jobs := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, jobs.CreatePending(ctx, domain.Job{JobID: "p1", Priority: domain.PriorityNormal}))
	jobs.failOn[domain.JobProcessing] = true

	assert.Equal(t, 0, q.DrainStoreFallback(ctx))
	assert.Equal(t, domain.JobPending, jobs.status("p1"))
	stats := q.Stats(ctx)
	assert.Equal(t, int64(0), stats.NormalDepth, "unclaimed rows must not reach the lane")
}
