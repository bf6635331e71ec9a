package outbound

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialops/oversight-agent/internal/domain"
)

// stubBackend scripts one proxy response per call.
type stubBackend struct {
	mu    sync.Mutex
	calls int
	resp  map[string]any
	err   error
}

func (b *stubBackend) Post(_ context.Context, _ string, _ any) (map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return b.resp, b.err
}

type stubPosts struct {
	mu      sync.Mutex
	status  domain.PostStatus
	statErr error
	updates []domain.PostStatus
	extras  []map[string]any
}

func (p *stubPosts) Create(context.Context, domain.ScheduledPost) (string, error) { return "", nil }
func (p *stubPosts) GetStatus(context.Context, string) (domain.PostStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.statErr
}
func (p *stubPosts) UpdateStatus(_ context.Context, _ string, s domain.PostStatus, extra map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, s)
	p.extras = append(p.extras, extra)
	return nil
}
func (p *stubPosts) CountToday(context.Context, string) (int, error) { return 0, nil }

type stubAssets struct {
	mu     sync.Mutex
	posted []string
}

func (a *stubAssets) ListEligible(context.Context, string) ([]domain.Asset, error) { return nil, nil }
func (a *stubAssets) RecentPostTags(context.Context, string, int) ([][]string, error) {
	return nil, nil
}
func (a *stubAssets) MarkPosted(_ context.Context, assetID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.posted = append(a.posted, assetID)
	return nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *memAudit) Log(_ context.Context, e domain.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}
func (a *memAudit) Recent(context.Context, string, int) ([]domain.AuditEntry, error) {
	return nil, nil
}
func (a *memAudit) Query(context.Context, domain.AuditFilter) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestRetryDelayLadder(t *testing.T) {
	cases := []struct {
		name       string
		retryCount int
		category   domain.ErrorCategory
		hint       int
		want       time.Duration
	}{
		{"first attempt", 1, domain.CategoryTransient, 0, 60 * time.Second},
		{"second attempt", 2, domain.CategoryTransient, 0, 120 * time.Second},
		{"fifth attempt", 5, domain.CategoryTransient, 0, 960 * time.Second},
		{"beyond ladder clamps", 9, domain.CategoryTransient, 0, 960 * time.Second},
		{"rate limit floor", 1, domain.CategoryRateLimit, 0, 300 * time.Second},
		{"rate limit late rung beats floor", 4, domain.CategoryRateLimit, 0, 480 * time.Second},
		{"hint wins over ladder", 1, domain.CategoryTransient, 600, 600 * time.Second},
		{"hint wins even when shorter", 3, domain.CategoryTransient, 10, 10 * time.Second},
		{"hint wins over rate limit floor", 1, domain.CategoryRateLimit, 30, 30 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, retryDelay(tc.retryCount, tc.category, tc.hint))
		})
	}
}

func TestExecuteSuccessSettlesPostAndAsset(t *testing.T) {
	q, _, jobs := newTestQueue(t)
	backend := &stubBackend{resp: map[string]any{"media_id": "ig123"}}
	posts := &stubPosts{status: domain.PostPublishing}
	assets := &stubAssets{}
	audit := &memAudit{}
	w := NewWorker(q, backend, posts, assets, audit, WorkerOptions{})
	ctx := context.Background()

	j := domain.Job{
		JobID:      "job1",
		ActionType: domain.ActionPublishPost,
		Endpoint:   "/api/instagram/publish-post",
		Payload:    map[string]any{"post_id": "post1", "asset_id": "asset1"},
		AccountID:  "acct1",
		MaxRetries: 5,
	}
	jobs.rows["job1"] = j
	w.execute(ctx, j)

	assert.Equal(t, 1, backend.calls)
	assert.Equal(t, domain.JobCompleted, jobs.status("job1"))
	require.Len(t, posts.updates, 1)
	assert.Equal(t, domain.PostPublished, posts.updates[0])
	assert.Equal(t, "ig123", posts.extras[0]["instagram_media_id"])
	assert.Equal(t, []string{"asset1"}, assets.posted)
	require.Len(t, audit.entries, 1)
	assert.True(t, audit.entries[0].Success)
}

func TestExecutePublishGuardSkips(t *testing.T) {
	q, _, jobs := newTestQueue(t)
	backend := &stubBackend{}
	posts := &stubPosts{status: domain.PostPublished}
	w := NewWorker(q, backend, posts, &stubAssets{}, &memAudit{}, WorkerOptions{})

	j := domain.Job{
		JobID:      "job2",
		ActionType: domain.ActionPublishPost,
		Payload:    map[string]any{"post_id": "post1"},
	}
	jobs.rows["job2"] = j
	w.execute(context.Background(), j)

	assert.Zero(t, backend.calls, "already-published post must not hit the proxy")
	assert.Equal(t, domain.JobCompleted, jobs.status("job2"))
}

func TestExecutePublishGuardMissingRow(t *testing.T) {
	q, _, jobs := newTestQueue(t)
	backend := &stubBackend{}
	posts := &stubPosts{statErr: domain.ErrNotFound}
	w := NewWorker(q, backend, posts, &stubAssets{}, &memAudit{}, WorkerOptions{})

	j := domain.Job{
		JobID:      "job3",
		ActionType: domain.ActionPublishPost,
		Payload:    map[string]any{"post_id": "gone"},
	}
	jobs.rows["job3"] = j
	w.execute(context.Background(), j)
	assert.Zero(t, backend.calls)
}

func TestExecutePublishGuardDegradedStoreProceeds(t *testing.T) {
	q, _, jobs := newTestQueue(t)
	backend := &stubBackend{resp: map[string]any{}}
	posts := &stubPosts{statErr: domain.ErrCircuitOpen}
	w := NewWorker(q, backend, posts, &stubAssets{}, &memAudit{}, WorkerOptions{})

	j := domain.Job{
		JobID:      "job4",
		ActionType: domain.ActionPublishPost,
		Payload:    map[string]any{"post_id": "post1"},
		MaxRetries: 5,
	}
	jobs.rows["job4"] = j
	w.execute(context.Background(), j)
	assert.Equal(t, 1, backend.calls)
}

func TestExecuteNonRetryableDeadLettersImmediately(t *testing.T) {
	q, _, jobs := newTestQueue(t)
	backend := &stubBackend{err: &domain.ProxyError{
		StatusCode: 401, Retryable: false, Category: domain.CategoryAuthFailure, Message: "token expired",
	}}
	posts := &stubPosts{status: domain.PostPublishing}
	audit := &memAudit{}
	w := NewWorker(q, backend, posts, &stubAssets{}, audit, WorkerOptions{})
	ctx := context.Background()

	j := domain.Job{
		JobID:      "job5",
		ActionType: domain.ActionPublishPost,
		Payload:    map[string]any{"post_id": "post1"},
		MaxRetries: 5,
	}
	jobs.rows["job5"] = j
	w.execute(ctx, j)

	assert.Equal(t, domain.JobDLQ, jobs.status("job5"))
	dlq := q.DLQJobs(ctx, 10)
	require.Len(t, dlq, 1)
	assert.Contains(t, dlq[0].DLQReason, "non_retryable:auth_failure")
	require.Len(t, posts.updates, 1)
	assert.Equal(t, domain.PostFailed, posts.updates[0])
	require.Len(t, audit.entries, 1)
	assert.False(t, audit.entries[0].Success)
}

func TestExecuteTransientFailureSchedulesRetry(t *testing.T) {
	q, _, jobs := newTestQueue(t)
	backend := &stubBackend{err: &domain.ProxyError{
		StatusCode: 503, Retryable: true, Category: domain.CategoryTransient, Message: "upstream flake",
	}}
	w := NewWorker(q, backend, nil, nil, &memAudit{}, WorkerOptions{})
	ctx := context.Background()

	j := domain.Job{JobID: "job6", ActionType: domain.ActionReplyDM, MaxRetries: 5}
	jobs.rows["job6"] = j
	w.execute(ctx, j)

	assert.Equal(t, domain.JobFailed, jobs.status("job6"))
	stats := q.Stats(ctx)
	assert.Equal(t, int64(1), stats.ScheduledDepth)
	assert.Equal(t, int64(0), stats.DLQDepth)
}

func TestExecuteExhaustedRetriesDeadLetters(t *testing.T) {
	q, _, jobs := newTestQueue(t)
	backend := &stubBackend{err: &domain.ProxyError{
		StatusCode: 500, Retryable: true, Category: domain.CategoryTransient, Message: "still down",
	}}
	w := NewWorker(q, backend, nil, nil, &memAudit{}, WorkerOptions{})
	ctx := context.Background()

	j := domain.Job{JobID: "job7", ActionType: domain.ActionSyncUGC, RetryCount: 5, MaxRetries: 5}
	jobs.rows["job7"] = j
	w.execute(ctx, j)

	assert.Equal(t, domain.JobDLQ, jobs.status("job7"))
	dlq := q.DLQJobs(ctx, 10)
	require.Len(t, dlq, 1)
	assert.Contains(t, dlq[0].DLQReason, "max_retries_exceeded:transient")
}
