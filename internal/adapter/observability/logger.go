// Package observability provides the slog setup, Prometheus collectors, and
// the in-memory health counters shared by every component.
package observability

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/socialops/oversight-agent/internal/config"
)

// SetupLogger configures a JSON slog logger with environment fields.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(h).With(
		slog.String("service", cfg.ServiceName),
		slog.String("env", cfg.AppEnv),
	)
	return logger
}

type loggerContextKey struct{}
type requestIDContextKey struct{}

// ContextWithLogger attaches a non-nil logger to the context.
func ContextWithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	if ctx == nil || lg == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey{}, lg)
}

// LoggerFromContext returns the logger stored in the context or the default
// slog logger when none is present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if v := ctx.Value(loggerContextKey{}); v != nil {
		if lg, ok := v.(*slog.Logger); ok && lg != nil {
			return lg
		}
	}
	return slog.Default()
}

// ContextWithRequestID stores a non-empty request_id in the context so that
// queue workers and deeper layers can correlate their logs with the
// originating HTTP request.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext retrieves the request_id from the context, or an empty
// string when none is present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(requestIDContextKey{}); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// Health tracks in-memory request counters for /health. The counters are
// serialized with a mutex; readers get a consistent snapshot.
type Health struct {
	mu             sync.Mutex
	requestCount   int64
	totalLatencyMS int64
}

// NewHealth returns zeroed health counters.
func NewHealth() *Health { return &Health{} }

// Track records one analyzed request and its latency.
func (h *Health) Track(latencyMS int64) {
	h.mu.Lock()
	h.requestCount++
	h.totalLatencyMS += latencyMS
	h.mu.Unlock()
}

// Snapshot returns (requests, average latency ms).
func (h *Health) Snapshot() (int64, int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.requestCount == 0 {
		return 0, 0
	}
	return h.requestCount, h.totalLatencyMS / h.requestCount
}
