package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/socialops/oversight-agent/internal/adapter/observability"
	"github.com/socialops/oversight-agent/internal/domain"
)

// retryDelays is the backoff ladder indexed by retry_count-1. Attempts beyond
// the ladder reuse the last rung.
var retryDelays = []time.Duration{
	60 * time.Second,
	120 * time.Second,
	240 * time.Second,
	480 * time.Second,
	960 * time.Second,
}

// rateLimitFloor is the minimum delay after a rate-limit failure regardless of
// the ladder position.
const rateLimitFloor = 300 * time.Second

// Worker consumes the outbound queue and executes jobs against the backend
// proxy. One Worker runs three loops: the high lane, the normal lane, and the
// periodic drain of scheduled retries plus the store fallback.
type Worker struct {
	queue   *Queue
	backend domain.Backend
	posts   domain.PostRepository
	assets  domain.AssetRepository
	audit   domain.AuditRepository

	pollInterval  time.Duration
	drainInterval time.Duration
	shutdownGrace time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// WorkerOptions tunes the loop cadence; zero values take the defaults.
type WorkerOptions struct {
	PollInterval  time.Duration
	DrainInterval time.Duration
	ShutdownGrace time.Duration
}

// NewWorker builds a worker over the queue and backend proxy.
func NewWorker(q *Queue, backend domain.Backend, posts domain.PostRepository, assets domain.AssetRepository, audit domain.AuditRepository, opts WorkerOptions) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = 30 * time.Second
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 15 * time.Second
	}
	return &Worker{
		queue:         q,
		backend:       backend,
		posts:         posts,
		assets:        assets,
		audit:         audit,
		pollInterval:  opts.PollInterval,
		drainInterval: opts.DrainInterval,
		shutdownGrace: opts.ShutdownGrace,
	}
}

// Start launches the three loops. The normal lane is staggered behind the
// high lane so high-priority jobs win ties on a quiet queue.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(3)
	go func() {
		defer w.wg.Done()
		w.laneLoop(ctx, domain.PriorityHigh, 0)
	}()
	go func() {
		defer w.wg.Done()
		w.laneLoop(ctx, domain.PriorityNormal, 100*time.Millisecond)
	}()
	go func() {
		defer w.wg.Done()
		w.drainLoop(ctx)
	}()
	slog.Info("outbound worker started",
		slog.Duration("poll_interval", w.pollInterval),
		slog.Duration("drain_interval", w.drainInterval))
}

// Stop cancels the loops and waits up to the shutdown grace for in-flight
// jobs to settle.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("outbound worker stopped")
	case <-time.After(w.shutdownGrace):
		slog.Warn("outbound worker shutdown grace elapsed with jobs in flight")
	}
}

func (w *Worker) laneLoop(ctx context.Context, p domain.Priority, stagger time.Duration) {
	if stagger > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(stagger):
		}
	}
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := w.queue.Dequeue(ctx, p)
			if err != nil {
				slog.Warn("dequeue failed", slog.String("lane", string(p)), slog.Any("error", err))
				continue
			}
			if job == nil {
				continue
			}
			w.execute(ctx, *job)
		}
	}
}

func (w *Worker) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(w.drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.queue.DrainScheduled(ctx)
			w.queue.DrainStoreFallback(ctx)
			w.queue.Stats(ctx)
		}
	}
}

// execute runs one job end to end: lock, publish guard, backend call,
// settlement. Every exit path releases the lock.
func (w *Worker) execute(ctx context.Context, j domain.Job) {
	log := slog.With(
		slog.String("job_id", j.JobID),
		slog.String("action_type", string(j.ActionType)),
		slog.Int("retry_count", j.RetryCount))

	if !w.queue.AcquireLock(ctx, j.JobID) {
		log.Info("job locked by another worker")
		return
	}
	defer w.queue.ReleaseLock(ctx, j.JobID)

	if j.ActionType == domain.ActionPublishPost {
		if skip, reason := w.publishGuard(ctx, j); skip {
			log.Info("publish skipped by idempotency guard", slog.String("reason", reason))
			observability.QueueExecuteTotal.WithLabelValues(string(j.ActionType), "skipped").Inc()
			_ = w.queue.jobs.UpdateStatus(ctx, j.JobID, domain.JobCompleted, map[string]any{
				"last_error": "skipped: " + reason,
			})
			return
		}
	}

	_ = w.queue.jobs.UpdateStatus(ctx, j.JobID, domain.JobProcessing, nil)

	started := time.Now()
	resp, err := w.backend.Post(ctx, j.Endpoint, j.Payload)
	observability.QueueExecuteLatency.WithLabelValues(string(j.ActionType)).
		Observe(time.Since(started).Seconds())

	if err == nil {
		w.settleSuccess(ctx, j, resp, log)
		return
	}
	w.settleFailure(ctx, j, err, log)
}

// publishGuard enforces the approved->publishing transition: a post row that
// no longer reads publishing has been handled elsewhere.
func (w *Worker) publishGuard(ctx context.Context, j domain.Job) (skip bool, reason string) {
	postID, _ := j.Payload["post_id"].(string)
	if postID == "" || w.posts == nil {
		return false, ""
	}
	status, err := w.posts.GetStatus(ctx, postID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return true, "post row missing"
		}
		// Store degraded: let the attempt proceed rather than stall publishes.
		return false, ""
	}
	if status != domain.PostPublishing {
		return true, fmt.Sprintf("post status %s", status)
	}
	return false, ""
}

func (w *Worker) settleSuccess(ctx context.Context, j domain.Job, resp map[string]any, log *slog.Logger) {
	observability.QueueExecuteTotal.WithLabelValues(string(j.ActionType), "completed").Inc()
	_ = w.queue.jobs.UpdateStatus(ctx, j.JobID, domain.JobCompleted, map[string]any{
		"completed_at": time.Now().UTC(),
	})

	if j.ActionType == domain.ActionPublishPost {
		if postID, _ := j.Payload["post_id"].(string); postID != "" && w.posts != nil {
			mediaID, _ := resp["media_id"].(string)
			_ = w.posts.UpdateStatus(ctx, postID, domain.PostPublished, map[string]any{
				"instagram_media_id": mediaID,
				"published_at":       time.Now().UTC(),
			})
		}
		if assetID, _ := j.Payload["asset_id"].(string); assetID != "" && w.assets != nil {
			_ = w.assets.MarkPosted(ctx, assetID)
		}
	}

	w.auditLog(ctx, j, true, "")
	log.Info("job completed")
}

func (w *Worker) settleFailure(ctx context.Context, j domain.Job, err error, log *slog.Logger) {
	category := domain.CategoryUnknown
	retryAfter := 0
	var perr *domain.ProxyError
	if errors.As(err, &perr) {
		category = perr.Category
		retryAfter = perr.RetryAfter
		if !perr.Retryable {
			w.deadLetter(ctx, j, err, category,
				fmt.Sprintf("non_retryable:%s:%s", category, truncate(perr.Message, 200)), log)
			return
		}
	} else if !category.Retryable() {
		w.deadLetter(ctx, j, err, category,
			fmt.Sprintf("non_retryable:%s:%s", category, truncate(err.Error(), 200)), log)
		return
	}

	j.RetryCount++
	j.LastError = truncate(err.Error(), 500)
	j.ErrorCategory = category

	if j.RetryCount > j.MaxRetries {
		w.deadLetter(ctx, j, err, category,
			fmt.Sprintf("max_retries_exceeded:%s:%s", category, truncate(err.Error(), 200)), log)
		return
	}

	delay := retryDelay(j.RetryCount, category, retryAfter)
	observability.QueueExecuteTotal.WithLabelValues(string(j.ActionType), "retrying").Inc()
	if !w.queue.ScheduleRetry(ctx, j, delay) {
		log.Error("failed to park retry, job lost to both backends", slog.Any("error", err))
		return
	}
	log.Warn("job scheduled for retry",
		slog.String("category", string(category)),
		slog.Duration("delay", delay),
		slog.Any("error", err))
}

func (w *Worker) deadLetter(ctx context.Context, j domain.Job, err error, category domain.ErrorCategory, reason string, log *slog.Logger) {
	j.LastError = truncate(err.Error(), 500)
	observability.QueueExecuteTotal.WithLabelValues(string(j.ActionType), "dlq").Inc()
	w.queue.MoveToDLQ(ctx, j, reason, category)

	if j.ActionType == domain.ActionPublishPost && w.posts != nil {
		if postID, _ := j.Payload["post_id"].(string); postID != "" {
			_ = w.posts.UpdateStatus(ctx, postID, domain.PostFailed, map[string]any{
				"publish_error": j.LastError,
			})
		}
	}

	w.auditLog(ctx, j, false, reason)
	log.Error("job dead-lettered", slog.String("reason", reason))
}

func (w *Worker) auditLog(ctx context.Context, j domain.Job, success bool, reason string) {
	if w.audit == nil {
		return
	}
	details := map[string]any{
		"action_type": string(j.ActionType),
		"endpoint":    j.Endpoint,
		"retry_count": j.RetryCount,
		"source":      j.Source,
	}
	if reason != "" {
		details["dlq_reason"] = reason
	}
	if err := w.audit.Log(ctx, domain.AuditEntry{
		EventType:    "outbound_execution",
		Action:       string(j.ActionType),
		ResourceType: "outbound_job",
		ResourceID:   j.JobID,
		AccountID:    j.AccountID,
		Details:      details,
		Success:      success,
	}); err != nil {
		slog.Warn("audit write failed", slog.String("job_id", j.JobID), slog.Any("error", err))
	}
}

// retryDelay picks the wait before the next attempt. An explicit retry-after
// hint from the proxy wins outright; otherwise the ladder rung applies, with
// rate-limit failures never waiting less than the floor.
func retryDelay(retryCount int, category domain.ErrorCategory, retryAfterSeconds int) time.Duration {
	if retryAfterSeconds > 0 {
		return time.Duration(retryAfterSeconds) * time.Second
	}
	idx := retryCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(retryDelays) {
		idx = len(retryDelays) - 1
	}
	delay := retryDelays[idx]
	if category == domain.CategoryRateLimit && delay < rateLimitFloor {
		delay = rateLimitFloor
	}
	return delay
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
