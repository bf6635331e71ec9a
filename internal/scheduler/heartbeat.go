package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/socialops/oversight-agent/internal/adapter/backend"
	"github.com/socialops/oversight-agent/internal/adapter/observability"
	"github.com/socialops/oversight-agent/internal/domain"
)

// Heartbeat tells the backend this agent is alive and what its queue looks
// like. Process-level, no per-account fan-out.
type Heartbeat struct {
	backend   domain.Backend
	queue     domain.Queue
	health    *observability.Health
	startedAt time.Time
}

// NewHeartbeat wires the sender.
func NewHeartbeat(proxy domain.Backend, queue domain.Queue, health *observability.Health) *Heartbeat {
	return &Heartbeat{backend: proxy, queue: queue, health: health, startedAt: time.Now()}
}

// Run posts one heartbeat.
func (h *Heartbeat) Run(ctx context.Context) error {
	stats := h.queue.Stats(ctx)
	requests, avgLatency := h.health.Snapshot()
	_, err := h.backend.Post(ctx, backend.EndpointHeartbeat, map[string]any{
		"uptime_seconds":   int64(time.Since(h.startedAt).Seconds()),
		"redis_available":  stats.RedisAvailable,
		"queue_high":       stats.HighDepth,
		"queue_normal":     stats.NormalDepth,
		"queue_scheduled":  stats.ScheduledDepth,
		"queue_dlq":        stats.DLQDepth,
		"requests_served":  requests,
		"avg_latency_ms":   avgLatency,
	})
	if err != nil {
		return fmt.Errorf("op=scheduler.Heartbeat: %w", err)
	}
	return nil
}
