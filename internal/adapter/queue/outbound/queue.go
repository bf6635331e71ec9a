// Package outbound implements the durable action queue: Redis lists per
// priority lane, a sorted set for delayed retries, a sorted-set DLQ, and a
// store fallback lane that keeps enqueues succeeding while Redis is down.
package outbound

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/socialops/oversight-agent/internal/adapter/cache"
	"github.com/socialops/oversight-agent/internal/adapter/observability"
	"github.com/socialops/oversight-agent/internal/domain"
)

const (
	keyHigh      = "outbound:queue:high"
	keyNormal    = "outbound:queue:normal"
	keyScheduled = "outbound:queue:scheduled"
	keyDLQ       = "outbound:dlq"
	lockPrefix   = "outbound:lock:"

	lockTTL         = 120 * time.Second
	drainBatch      = 50
	defaultRetries  = 5
	scheduledFields = 100 // max jobs promoted per scheduled drain
)

// Queue is the Redis-first outbound queue with a Postgres fallback lane.
type Queue struct {
	redis      *cache.Redis
	jobs       domain.JobRepository
	maxRetries int
}

// New builds a queue. jobs is both the fallback lane and the terminal-state
// record; it is required even when Redis is healthy.
func New(redis *cache.Redis, jobs domain.JobRepository, maxRetries int) *Queue {
	if maxRetries <= 0 {
		maxRetries = defaultRetries
	}
	return &Queue{redis: redis, jobs: jobs, maxRetries: maxRetries}
}

func laneKey(p domain.Priority) string {
	if p == domain.PriorityHigh {
		return keyHigh
	}
	return keyNormal
}

// Enqueue accepts a job for eventual delivery. Order of preference: dedupe on
// the idempotency key, push to Redis, fall back to a pending store row. Only
// when both Redis and the store reject the job does Success come back false.
func (q *Queue) Enqueue(ctx context.Context, j domain.Job) domain.EnqueueResult {
	if j.JobID == "" {
		j.JobID = uuid.New().String()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	if j.MaxRetries == 0 {
		j.MaxRetries = q.maxRetries
	}
	if j.Priority == "" {
		j.Priority = domain.PriorityNormal
	}

	log := observability.LoggerFromContext(ctx)

	if j.IdempotencyKey != "" {
		if existing, found, err := q.jobs.FindActiveByIdempotencyKey(ctx, j.IdempotencyKey); err == nil && found {
			log.Info("enqueue deduplicated",
				slog.String("job_id", existing.JobID),
				slog.String("idempotency_key", j.IdempotencyKey))
			return domain.EnqueueResult{Success: true, Queued: false, JobID: existing.JobID, Deduplicated: true}
		}
	}

	if q.pushRedis(ctx, j) {
		// Mirror to the store as queued so the idempotency key stays held.
		if err := q.jobs.CreatePending(ctx, j); err == nil {
			_ = q.jobs.UpdateStatus(ctx, j.JobID, domain.JobQueued, nil)
		}
		observability.QueueEnqueuedTotal.WithLabelValues(string(j.ActionType), "redis").Inc()
		return domain.EnqueueResult{Success: true, Queued: true, JobID: j.JobID, Backend: "redis"}
	}

	if err := q.jobs.CreatePending(ctx, j); err != nil {
		log.Error("enqueue failed on both backends",
			slog.String("job_id", j.JobID),
			slog.String("action_type", string(j.ActionType)),
			slog.Any("error", err))
		return domain.EnqueueResult{Success: false, JobID: j.JobID}
	}
	observability.QueueEnqueuedTotal.WithLabelValues(string(j.ActionType), "store").Inc()
	log.Warn("enqueued to store fallback", slog.String("job_id", j.JobID))
	return domain.EnqueueResult{Success: true, Queued: true, JobID: j.JobID, Backend: "store"}
}

func (q *Queue) pushRedis(ctx context.Context, j domain.Job) bool {
	if !q.redis.Available(ctx) {
		return false
	}
	payload, err := json.Marshal(j)
	if err != nil {
		return false
	}
	if err := q.redis.Client().LPush(ctx, laneKey(j.Priority), payload).Err(); err != nil {
		observability.LoggerFromContext(ctx).Warn("redis enqueue failed",
			slog.String("job_id", j.JobID), slog.Any("error", err))
		return false
	}
	return true
}

// Dequeue pops one job from the lane. With Redis down it falls back to the
// oldest pending store row, marking it processing so another worker skips it.
func (q *Queue) Dequeue(ctx context.Context, p domain.Priority) (*domain.Job, error) {
	if q.redis.Available(ctx) {
		raw, err := q.redis.Client().RPop(ctx, laneKey(p)).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		var j domain.Job
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
			observability.LoggerFromContext(ctx).Error("dropping undecodable job",
				slog.String("lane", string(p)), slog.Any("error", err))
			return nil, nil
		}
		return &j, nil
	}

	// Store fallback only serves the normal cadence; lanes collapse into one.
	if p == domain.PriorityHigh {
		return nil, nil
	}
	pending, err := q.jobs.ListPending(ctx, 1)
	if err != nil || len(pending) == 0 {
		return nil, err
	}
	j := pending[0]
	if err := q.jobs.UpdateStatus(ctx, j.JobID, domain.JobProcessing, nil); err != nil {
		return nil, err
	}
	return &j, nil
}

// ScheduleRetry parks the job in the delayed set until now+delay. Reports
// whether the job was durably parked somewhere.
func (q *Queue) ScheduleRetry(ctx context.Context, j domain.Job, delay time.Duration) bool {
	readyAt := time.Now().Add(delay)
	j.NextRetryAt = readyAt.UTC()
	observability.QueueRetriesTotal.WithLabelValues(string(j.ActionType)).Inc()

	if q.redis.Available(ctx) {
		payload, err := json.Marshal(j)
		if err == nil {
			err = q.redis.Client().ZAdd(ctx, keyScheduled, redis.Z{
				Score:  float64(readyAt.Unix()),
				Member: payload,
			}).Err()
		}
		if err == nil {
			_ = q.jobs.UpdateStatus(ctx, j.JobID, domain.JobFailed, map[string]any{
				"last_error":     j.LastError,
				"error_category": string(j.ErrorCategory),
				"retry_count":    j.RetryCount,
				"next_retry_at":  j.NextRetryAt,
			})
			return true
		}
	}

	err := q.jobs.UpdateStatus(ctx, j.JobID, domain.JobFailed, map[string]any{
		"last_error":     j.LastError,
		"error_category": string(j.ErrorCategory),
		"retry_count":    j.RetryCount,
		"next_retry_at":  j.NextRetryAt,
	})
	return err == nil
}

// MoveToDLQ dead-letters the job with a structured reason. Reports whether at
// least one backend recorded it.
func (q *Queue) MoveToDLQ(ctx context.Context, j domain.Job, reason string, category domain.ErrorCategory) bool {
	now := time.Now()
	j.DLQReason = reason
	j.DLQAt = now.UTC()
	j.ErrorCategory = category
	observability.QueueDLQTotal.WithLabelValues(string(j.ActionType), string(category)).Inc()
	observability.LoggerFromContext(ctx).Warn("job dead-lettered",
		slog.String("job_id", j.JobID),
		slog.String("action_type", string(j.ActionType)),
		slog.String("reason", reason))

	recorded := false
	if q.redis.Available(ctx) {
		if payload, err := json.Marshal(j); err == nil {
			if q.redis.Client().ZAdd(ctx, keyDLQ, redis.Z{
				Score:  float64(now.Unix()),
				Member: payload,
			}).Err() == nil {
				recorded = true
			}
		}
	}
	if err := q.jobs.UpdateStatus(ctx, j.JobID, domain.JobDLQ, map[string]any{
		"dlq_reason":     reason,
		"error_category": string(category),
		"last_error":     j.LastError,
	}); err == nil {
		recorded = true
	}
	return recorded
}

// AcquireLock takes the per-job execution lock. Fails open when Redis is down:
// the store fallback lane is single-consumer by construction.
func (q *Queue) AcquireLock(ctx context.Context, jobID string) bool {
	if !q.redis.Available(ctx) {
		return true
	}
	ok, err := q.redis.Client().SetNX(ctx, lockPrefix+jobID, "1", lockTTL).Result()
	if err != nil {
		return true
	}
	return ok
}

// ReleaseLock drops the per-job lock. Best effort; the TTL bounds leakage.
func (q *Queue) ReleaseLock(ctx context.Context, jobID string) {
	if q.redis.Available(ctx) {
		q.redis.Client().Del(ctx, lockPrefix+jobID)
	}
}

// DrainScheduled promotes due retries back onto their lanes. Returns the
// number promoted.
func (q *Queue) DrainScheduled(ctx context.Context) int {
	if !q.redis.Available(ctx) {
		return 0
	}
	now := time.Now().Unix()
	members, err := q.redis.Client().ZRangeByScore(ctx, keyScheduled, &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(now, 10), Count: scheduledFields,
	}).Result()
	if err != nil || len(members) == 0 {
		return 0
	}
	moved := 0
	for _, raw := range members {
		var j domain.Job
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
			q.redis.Client().ZRem(ctx, keyScheduled, raw)
			continue
		}
		// Remove before pushing so a crash duplicates nothing; the per-job
		// lock absorbs the rare double push.
		if n, err := q.redis.Client().ZRem(ctx, keyScheduled, raw).Result(); err != nil || n == 0 {
			continue
		}
		if err := q.redis.Client().LPush(ctx, laneKey(j.Priority), raw).Err(); err != nil {
			observability.LoggerFromContext(ctx).Error("scheduled drain push failed",
				slog.String("job_id", j.JobID), slog.Any("error", err))
			continue
		}
		moved++
	}
	return moved
}

// DrainStoreFallback moves pending store rows onto Redis once it recovers.
// Returns the number moved.
func (q *Queue) DrainStoreFallback(ctx context.Context) int {
	if !q.redis.Available(ctx) {
		return 0
	}
	pending, err := q.jobs.ListPending(ctx, drainBatch)
	if err != nil || len(pending) == 0 {
		return 0
	}
	moved := 0
	for _, j := range pending {
		// Claim the row before the push; an unclaimed push would be
		// re-drained as a duplicate if the status write failed afterward.
		if err := q.jobs.UpdateStatus(ctx, j.JobID, domain.JobProcessing, nil); err != nil {
			continue
		}
		if !q.pushRedis(ctx, j) {
			if err := q.jobs.UpdateStatus(ctx, j.JobID, domain.JobPending, nil); err != nil {
				observability.LoggerFromContext(ctx).Error("fallback drain revert failed",
					slog.String("job_id", j.JobID), slog.Any("error", err))
			}
			break
		}
		if err := q.jobs.UpdateStatus(ctx, j.JobID, domain.JobQueued, nil); err != nil {
			observability.LoggerFromContext(ctx).Error("fallback drain status update failed",
				slog.String("job_id", j.JobID), slog.Any("error", err))
		}
		moved++
	}
	if moved > 0 {
		observability.LoggerFromContext(ctx).Info("drained store fallback",
			slog.Int("moved", moved))
	}
	return moved
}

// Stats reports lane depths for /queue/status and the depth gauges.
func (q *Queue) Stats(ctx context.Context) domain.QueueStats {
	s := domain.QueueStats{}
	if !q.redis.Available(ctx) {
		return s
	}
	s.RedisAvailable = true
	c := q.redis.Client()
	s.HighDepth, _ = c.LLen(ctx, keyHigh).Result()
	s.NormalDepth, _ = c.LLen(ctx, keyNormal).Result()
	s.ScheduledDepth, _ = c.ZCard(ctx, keyScheduled).Result()
	s.DLQDepth, _ = c.ZCard(ctx, keyDLQ).Result()

	observability.QueueDepth.WithLabelValues("high").Set(float64(s.HighDepth))
	observability.QueueDepth.WithLabelValues("normal").Set(float64(s.NormalDepth))
	observability.QueueDepth.WithLabelValues("scheduled").Set(float64(s.ScheduledDepth))
	observability.QueueDepth.WithLabelValues("dlq").Set(float64(s.DLQDepth))
	return s
}

// DLQJobs lists dead-lettered jobs, newest first, preferring Redis and
// falling back to the store record.
func (q *Queue) DLQJobs(ctx context.Context, limit int) []domain.Job {
	if limit <= 0 {
		limit = 50
	}
	if q.redis.Available(ctx) {
		members, err := q.redis.Client().ZRevRange(ctx, keyDLQ, 0, int64(limit-1)).Result()
		if err == nil {
			out := make([]domain.Job, 0, len(members))
			for _, raw := range members {
				var j domain.Job
				if json.Unmarshal([]byte(raw), &j) == nil {
					out = append(out, j)
				}
			}
			return out
		}
	}
	jobs, err := q.jobs.ListDLQ(ctx, limit)
	if err != nil {
		return nil
	}
	return jobs
}

// RetryDLQ re-enqueues one dead-lettered job with its retry budget reset.
func (q *Queue) RetryDLQ(ctx context.Context, jobID string) (domain.EnqueueResult, error) {
	for _, j := range q.DLQJobs(ctx, 500) {
		if j.JobID != jobID {
			continue
		}
		if q.redis.Available(ctx) {
			if payload, err := json.Marshal(j); err == nil {
				q.redis.Client().ZRem(ctx, keyDLQ, payload)
			}
		}

		fresh := j
		fresh.JobID = uuid.New().String()
		fresh.RetryCount = 0
		fresh.LastError = ""
		fresh.ErrorCategory = ""
		fresh.DLQReason = ""
		fresh.DLQAt = time.Time{}
		fresh.NextRetryAt = time.Time{}
		fresh.CreatedAt = time.Now().UTC()

		// The dead row closes out with a pointer to its replacement so the
		// DLQ history stays traceable.
		_ = q.jobs.UpdateStatus(ctx, j.JobID, domain.JobCompleted,
			map[string]any{"retried_as": fresh.JobID})
		return q.Enqueue(ctx, fresh), nil
	}
	return domain.EnqueueResult{}, domain.ErrNotFound
}
