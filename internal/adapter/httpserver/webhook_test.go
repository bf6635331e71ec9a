package httpserver

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialops/oversight-agent/internal/config"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"object":"instagram"}`)
	header := sign("s3cret", body)

	assert.True(t, VerifySignature("s3cret", body, header))

	// Without the scheme prefix the raw hex still verifies.
	assert.True(t, VerifySignature("s3cret", body, header[len("sha256="):]))
}

func TestVerifySignatureRejects(t *testing.T) {
	body := []byte(`{"object":"instagram"}`)
	header := sign("s3cret", body)

	assert.False(t, VerifySignature("wrong", body, header))
	assert.False(t, VerifySignature("s3cret", []byte("tampered"), header))
	assert.False(t, VerifySignature("", body, header))
	assert.False(t, VerifySignature("s3cret", body, ""))
	assert.False(t, VerifySignature("s3cret", body, "sha256=not-hex"))

	// A single flipped byte must fail.
	mutated := []byte(header)
	if mutated[len(mutated)-1] == 'a' {
		mutated[len(mutated)-1] = 'b'
	} else {
		mutated[len(mutated)-1] = 'a'
	}
	assert.False(t, VerifySignature("s3cret", body, string(mutated)))
}

func TestHandleVerificationHandshake(t *testing.T) {
	s := New(Deps{Config: config.Config{WebhookVerifyToken: "tok"}})

	req := httptest.NewRequest(http.MethodGet,
		"/webhook/comment?hub.mode=subscribe&hub.verify_token=tok&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	s.HandleVerification(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())
}

func TestHandleVerificationBadToken(t *testing.T) {
	s := New(Deps{Config: config.Config{WebhookVerifyToken: "tok"}})

	req := httptest.NewRequest(http.MethodGet,
		"/webhook/comment?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	s.HandleVerification(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotContains(t, rec.Body.String(), "12345")
}

func TestAPIKeyMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	protected := APIKey("topsecret")(ok)

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"health is public", "/health", "", http.StatusNoContent},
		{"metrics is public", "/metrics", "", http.StatusNoContent},
		{"webhooks are public", "/webhook/comment", "", http.StatusNoContent},
		{"queue status is public", "/queue/status", "", http.StatusNoContent},
		{"scheduler status reads are public", "/scheduler/heartbeat/status", "", http.StatusNoContent},
		{"missing key rejected", "/approve/post", "", http.StatusUnauthorized},
		{"wrong key rejected", "/approve/post", "guess", http.StatusUnauthorized},
		{"right key accepted", "/approve/post", "topsecret", http.StatusNoContent},
		{"control verbs stay protected", "/scheduler/heartbeat/pause", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("X-API-Key", tc.header)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestAPIKeyEmptyConfigLocksProtectedPaths(t *testing.T) {
	handler := APIKey("")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/approve/post", nil)
	req.Header.Set("X-API-Key", "")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Public surfaces still answer.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
