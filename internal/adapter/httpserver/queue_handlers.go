package httpserver

import (
	"net/http"

	"github.com/socialops/oversight-agent/internal/domain"
)

// HandleQueueStatus reports lane depths. Public: depth numbers leak nothing
// sensitive and operators poll this from dashboards.
func (s *Server) HandleQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Stats(r.Context()))
}

// HandleQueueDLQ lists dead-lettered jobs, newest first.
func (s *Server) HandleQueueDLQ(w http.ResponseWriter, r *http.Request) {
	jobs := s.queue.DLQJobs(r.Context(), 100)
	if jobs == nil {
		jobs = []domain.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(jobs), "jobs": jobs})
}

type retryDLQRequest struct {
	JobID string `json:"job_id" validate:"required"`
}

// HandleQueueRetryDLQ re-enqueues one dead-lettered job as a fresh attempt.
func (s *Server) HandleQueueRetryDLQ(w http.ResponseWriter, r *http.Request) {
	var req retryDLQRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	ctx := r.Context()
	result, err := s.queue.RetryDLQ(ctx, req.JobID)
	if err != nil {
		writeError(w, r, err, "dlq retry failed")
		return
	}
	s.auditWebhook(ctx, "queue_dlq_retry", "requeued", "job", req.JobID, "", map[string]any{
		"new_job_id": result.JobID,
		"backend":    result.Backend,
	}, r)
	writeJSON(w, http.StatusOK, result)
}
