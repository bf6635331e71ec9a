package httpserver

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/socialops/oversight-agent/internal/domain"
)

// publicPrefixes bypass the API key check: health, metrics, HMAC-signed
// webhooks, and read-only status surfaces.
var publicPrefixes = []string{
	"/health",
	"/metrics",
	"/webhook/",
	"/queue/status",
}

func isPublic(path string) bool {
	for _, p := range publicPrefixes {
		if path == strings.TrimSuffix(p, "/") || strings.HasPrefix(path, p) {
			return true
		}
	}
	// Scheduler status reads are public; control verbs are not.
	return strings.HasSuffix(path, "/status")
}

// APIKey enforces the X-API-Key header outside the public allow-list. An
// empty configured key locks every protected path; that is a deployment
// error, not an open door.
func APIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get("X-API-Key")
			if key == "" || got == "" ||
				subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeError(w, r, domain.ErrUnauthorized, "missing or invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
