package httpserver

import (
	"net/http"
	"time"
)

var startedAt = time.Now()

// HandleHealth is the liveness + dependency snapshot. It never returns
// non-200 while the process is up: a degraded store or cache is reported in
// the body, not the status code, so orchestrators do not restart the agent
// for an outage it is designed to ride out.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	requests, avgLatency := s.health.Snapshot()
	storeState := "unknown"
	if s.storeState != nil {
		storeState = s.storeState()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"uptime_seconds":  int64(time.Since(startedAt).Seconds()),
		"redis_available": s.redis.Available(r.Context()),
		"store_breaker":   storeState,
		"requests_served": requests,
		"avg_latency_ms":  avgLatency,
	})
}
