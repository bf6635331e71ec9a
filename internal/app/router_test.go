package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialops/oversight-agent/internal/adapter/httpserver"
	"github.com/socialops/oversight-agent/internal/adapter/observability"
	"github.com/socialops/oversight-agent/internal/config"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := config.Config{
		WebhookVerifyToken: "tok",
		RateLimitGlobal:    1000,
		RateLimitWebhook:   1000,
		RateLimitApproval:  1000,
		RateLimitOversight: 1000,
		OversightTimeout:   5 * time.Second,
	}
	srv := httpserver.New(httpserver.Deps{Config: cfg, Health: observability.NewHealth()})
	return BuildRouter(cfg, srv)
}

func TestWebhookRoutesAnswerVerificationHandshake(t *testing.T) {
	h := newTestRouter(t)
	for _, path := range []string{"/webhook/comment", "/webhook/dm"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet,
				path+"?hub.mode=subscribe&hub.verify_token=tok&hub.challenge=4711", nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "4711", rec.Body.String())
		})
	}
}

func TestWebhookRoutesAcceptDeliveries(t *testing.T) {
	h := newTestRouter(t)
	// Unsigned deliveries are rejected by the signature check, proving the
	// route resolves to the webhook handler rather than 404/405.
	for _, path := range []string{"/webhook/comment", "/webhook/dm", "/webhook/order-created"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, path, nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, ParseOrigins(""))
	assert.Equal(t, []string{"*"}, ParseOrigins("*"))
	assert.Equal(t, []string{"https://a.example", "https://b.example"},
		ParseOrigins(" https://a.example , https://b.example "))
	assert.Equal(t, []string{"*"}, ParseOrigins(" , "))
}
