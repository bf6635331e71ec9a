package httpserver

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/socialops/oversight-agent/internal/domain"
)

// maxWebhookBody bounds how much of a delivery is read before verification.
const maxWebhookBody = 1 << 20

// VerifySignature checks HMAC-SHA256(secret, body) against the header value,
// stripped of its sha256= prefix, in constant time.
func VerifySignature(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	header = strings.TrimPrefix(header, "sha256=")
	want, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// HandleVerification answers the platform's GET subscription handshake.
func (s *Server) HandleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == s.cfg.WebhookVerifyToken {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	writeError(w, r, domain.ErrUnauthorized, "verification failed")
}

// readSignedBody reads and authenticates a webhook delivery. A nil return
// means the response has already been written.
func (s *Server) readSignedBody(w http.ResponseWriter, r *http.Request) []byte {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, r, domain.ErrInvalidArgument, "unreadable body")
		return nil
	}
	if !VerifySignature(s.cfg.InstagramAppSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		writeError(w, r, domain.ErrUnauthorized, "invalid signature")
		return nil
	}
	return body
}
