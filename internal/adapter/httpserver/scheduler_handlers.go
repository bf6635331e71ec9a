package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/socialops/oversight-agent/internal/domain"
)

// HandleSchedulerStatusAll lists every registered pipeline.
func (s *Server) HandleSchedulerStatusAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pipelines": s.sched.StatusAll()})
}

// HandleSchedulerStatus reports one pipeline.
func (s *Server) HandleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pipeline")
	st, ok := s.sched.Status(id)
	if !ok {
		writeError(w, r, domain.ErrNotFound, "unknown pipeline: "+id)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleSchedulerTrigger runs a pipeline out of schedule. A pipeline already
// running reports triggered=false rather than queueing a second run.
func (s *Server) HandleSchedulerTrigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pipeline")
	if _, ok := s.sched.Status(id); !ok {
		writeError(w, r, domain.ErrNotFound, "unknown pipeline: "+id)
		return
	}
	ok := s.sched.TriggerNow(r.Context(), id)
	resp := map[string]any{"triggered": ok}
	if !ok {
		resp["message"] = "pipeline is already running or paused"
	}
	s.auditWebhook(r.Context(), "scheduler_control", "trigger", "pipeline", id, "", resp, r)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) HandleSchedulerPause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pipeline")
	ok := s.sched.Pause(id)
	resp := map[string]any{"paused": ok}
	if !ok {
		resp["message"] = "unknown pipeline or already paused"
	}
	s.auditWebhook(r.Context(), "scheduler_control", "pause", "pipeline", id, "", resp, r)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) HandleSchedulerResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pipeline")
	ok := s.sched.Resume(id)
	resp := map[string]any{"resumed": ok}
	if !ok {
		resp["message"] = "unknown pipeline or not paused"
	}
	s.auditWebhook(r.Context(), "scheduler_control", "resume", "pipeline", id, "", resp, r)
	writeJSON(w, http.StatusOK, resp)
}
