package httpserver

import (
	"net/http"
	"time"

	"github.com/socialops/oversight-agent/internal/domain"
)

type outcomeRequest struct {
	ResourceID string `json:"resource_id" validate:"required"`
	AccountID  string `json:"business_account_id"`
	Action     string `json:"action" validate:"required"`
	Success    bool   `json:"success"`
	Detail     string `json:"detail"`
}

// HandleLogOutcome records execution feedback from the backend so the weekly
// learning pass can see how dispatched actions actually landed.
func (s *Server) HandleLogOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	err := s.outcomes.Log(r.Context(), domain.ExecutionOutcome{
		ResourceID: req.ResourceID,
		AccountID:  req.AccountID,
		Action:     req.Action,
		Success:    req.Success,
		Detail:     req.Detail,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		writeError(w, r, err, "outcome persist failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recorded": true})
}
