package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialops/oversight-agent/internal/adapter/backend"
	"github.com/socialops/oversight-agent/internal/adapter/cache"
	"github.com/socialops/oversight-agent/internal/domain"
)

type stubAccounts struct{ list []domain.Account }

func (s stubAccounts) ListActive(domain.Context) ([]domain.Account, error) { return s.list, nil }
func (s stubAccounts) Get(_ domain.Context, id string) (domain.Account, error) {
	for _, a := range s.list {
		if a.ID == id {
			return a, nil
		}
	}
	return domain.Account{}, domain.ErrNotFound
}

type memUGCRepo struct {
	existing map[string]struct{}
	upserts  []string
}

func (m *memUGCRepo) Upsert(_ domain.Context, rec domain.UGCRecord) error {
	m.upserts = append(m.upserts, rec.InstagramMediaID)
	return nil
}
func (m *memUGCRepo) ExistingMediaIDs(domain.Context, string) (map[string]struct{}, error) {
	return m.existing, nil
}
func (m *memUGCRepo) CreatePermission(domain.Context, string, string, string) error { return nil }
func (m *memUGCRepo) GrantedPermissions(domain.Context, string) ([]domain.UGCRecord, error) {
	return nil, nil
}
func (m *memUGCRepo) UpdatePermission(domain.Context, string, string, domain.PermissionState) error {
	return nil
}

// mediaBackend serves canned media lists keyed by endpoint.
type mediaBackend struct{ media map[string][]any }

func (b mediaBackend) Post(_ domain.Context, endpoint string, _ any) (map[string]any, error) {
	return map[string]any{"media": b.media[endpoint]}, nil
}

type recordQueue struct{ enqueued []domain.Job }

func (q *recordQueue) Enqueue(_ domain.Context, j domain.Job) domain.EnqueueResult {
	q.enqueued = append(q.enqueued, j)
	return domain.EnqueueResult{Success: true, Queued: true, JobID: "job-1", Backend: "redis"}
}
func (q *recordQueue) Dequeue(domain.Context, domain.Priority) (*domain.Job, error) {
	return nil, nil
}
func (q *recordQueue) ScheduleRetry(domain.Context, domain.Job, time.Duration) bool { return false }
func (q *recordQueue) MoveToDLQ(domain.Context, domain.Job, string, domain.ErrorCategory) bool {
	return false
}
func (q *recordQueue) AcquireLock(domain.Context, string) bool { return true }
func (q *recordQueue) ReleaseLock(domain.Context, string)      {}
func (q *recordQueue) DrainScheduled(domain.Context) int       { return 0 }
func (q *recordQueue) DrainStoreFallback(domain.Context) int   { return 0 }
func (q *recordQueue) Stats(domain.Context) domain.QueueStats  { return domain.QueueStats{} }

type nopAudit struct{}

func (nopAudit) Log(domain.Context, domain.AuditEntry) error { return nil }
func (nopAudit) Recent(domain.Context, string, int) ([]domain.AuditEntry, error) {
	return nil, nil
}
func (nopAudit) Query(domain.Context, domain.AuditFilter) ([]domain.AuditEntry, error) {
	return nil, nil
}

func media(id string) map[string]any {
	return map[string]any{
		"id": id, "username": "fan", "media_type": "IMAGE",
		"like_count": float64(3), "comments_count": float64(1),
	}
}

func TestUGCDiscoveryFiltersHotSetAndStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := cache.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	dedup := NewDedupSet(rdb, "ugc_discovery:processed_ids")
	dedup.Add(ctx, "m-hot")

	repo := &memUGCRepo{existing: map[string]struct{}{"m-known": {}}}
	proxy := mediaBackend{media: map[string][]any{
		backend.EndpointSearchHashtag: {media("m-hot"), media("m-known"), media("m-new")},
		backend.EndpointTags:          {media("m-hot")},
	}}
	queue := &recordQueue{}
	u := NewUGCDiscovery(UGCConfig{
		HighThreshold:      80,
		ModerateThreshold:  50,
		MaxMediaPerHashtag: 10,
		AccountConcurrency: 1,
	}, stubAccounts{list: []domain.Account{
		{ID: "acct-1", Username: "brand", Hashtags: []string{"summer"}, Active: true},
	}}, repo, proxy, queue, nopAudit{}, dedup)

	acct, err := u.accounts.Get(ctx, "acct-1")
	require.NoError(t, err)

	processed, err := u.discoverAccount(ctx, "run-1", acct)
	require.NoError(t, err)
	assert.Equal(t, 1, processed, "hot-set and store hits must both be filtered")
	assert.True(t, dedup.Seen(ctx, "m-new"), "processed candidates join the hot set")

	// The next cycle sees the same feed; the hot set now filters m-new too.
	processed, err = u.discoverAccount(ctx, "run-2", acct)
	require.NoError(t, err)
	assert.Zero(t, processed)
}

func TestUGCDiscoveryEnqueuesHourlySync(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := cache.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	queue := &recordQueue{}
	u := NewUGCDiscovery(UGCConfig{AccountConcurrency: 1},
		stubAccounts{list: []domain.Account{{ID: "acct-1", Active: true}}},
		&memUGCRepo{existing: map[string]struct{}{}},
		mediaBackend{}, queue, nopAudit{},
		NewDedupSet(rdb, "ugc_discovery:processed_ids"))
	u.now = func() time.Time { return time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC) }

	_, err := u.discoverAccount(context.Background(), "run-1", domain.Account{ID: "acct-1"})
	require.NoError(t, err)

	require.Len(t, queue.enqueued, 1)
	j := queue.enqueued[0]
	assert.Equal(t, domain.ActionSyncUGC, j.ActionType)
	assert.Equal(t, "sync_ugc:acct-1:2026082014", j.IdempotencyKey)
}
