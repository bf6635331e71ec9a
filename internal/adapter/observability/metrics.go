package observability

import (
	"net/http"

	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	StoreCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_calls_total",
			Help: "Total store client calls by entity and operation",
		},
		[]string{"entity", "operation", "status"},
	)

	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Total LLM gateway inferences by status",
		},
		[]string{"status"},
	)
	LLMLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM inference duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20},
		},
	)
	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tool_calls_total",
			Help: "Total tool invocations requested by the model",
		},
		[]string{"tool", "status"},
	)

	QueueEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_queue_enqueued_total",
			Help: "Jobs enqueued by action type and backend",
		},
		[]string{"action_type", "backend"},
	)
	QueueExecuteTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_queue_execute_total",
			Help: "Job executions by action type and outcome",
		},
		[]string{"action_type", "status"},
	)
	QueueRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_queue_retries_total",
			Help: "Retries scheduled by action type",
		},
		[]string{"action_type"},
	)
	QueueDLQTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_queue_dlq_total",
			Help: "Jobs dead-lettered by action type and error category",
		},
		[]string{"action_type", "category"},
	)
	QueueExecuteLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outbound_queue_execute_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"action_type"},
	)
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outbound_queue_depth",
			Help: "Queue depths by lane",
		},
		[]string{"lane"},
	)

	PipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Scheduled pipeline cycles by pipeline and status",
		},
		[]string{"pipeline", "status"},
	)
	PipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_run_duration_seconds",
			Help:    "Scheduled pipeline cycle duration in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"pipeline"},
	)
	PipelineItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_items_total",
			Help: "Per-item pipeline outcomes",
		},
		[]string{"pipeline", "action"},
	)

	AttributionScores = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "attribution_scores",
			Help:    "Distribution of final weighted attribution scores",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)
)

// Register installs every collector on the provided registry. Call once at
// startup.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration,
		StoreCallsTotal,
		LLMRequestsTotal, LLMLatency, ToolCallsTotal,
		QueueEnqueuedTotal, QueueExecuteTotal, QueueRetriesTotal, QueueDLQTotal,
		QueueExecuteLatency, QueueDepth,
		PipelineRuns, PipelineDuration, PipelineItems,
		AttributionScores,
	)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}
