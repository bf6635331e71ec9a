package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/socialops/oversight-agent/internal/adapter/observability"
	"github.com/socialops/oversight-agent/internal/domain"
)

// errorBody is the uniform failure envelope.
type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("response encode failed", slog.Any("error", err))
	}
}

// writeError maps a domain error onto the envelope and the matching HTTP
// status.
func writeError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status, tag := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status, tag = http.StatusBadRequest, "validation"
	case errors.Is(err, domain.ErrUnauthorized):
		status, tag = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrNotFound):
		status, tag = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrRateLimited):
		status, tag = http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, domain.ErrCircuitOpen), errors.Is(err, domain.ErrDegraded):
		status, tag = http.StatusServiceUnavailable, "degraded"
	case errors.Is(err, domain.ErrConflict):
		status, tag = http.StatusConflict, "conflict"
	}
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, errorBody{
		Error:     tag,
		Message:   message,
		RequestID: observability.RequestIDFromContext(r.Context()),
	})
}

func decodeBody(r *http.Request, dst any, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBytes))
	if err := dec.Decode(dst); err != nil {
		return domain.ErrInvalidArgument
	}
	return nil
}
