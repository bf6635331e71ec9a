// Package app wires the HTTP surface: middleware stack, rate limits, and the
// route table.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/socialops/oversight-agent/internal/adapter/httpserver"
	"github.com/socialops/oversight-agent/internal/adapter/observability"
	"github.com/socialops/oversight-agent/internal/config"
)

// ParseOrigins splits a comma-separated origin list, trimming spaces. Empty
// input allows every origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// oversightKey rate-limits oversight chat per operator, falling back to IP
// when the header is absent.
func oversightKey(r *http.Request) (string, error) {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id, nil
	}
	return httprate.KeyByIP(r)
}

// BuildRouter constructs the HTTP handler with all middleware and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()

	r.Use(httpserver.Recoverer)
	r.Use(httpserver.RequestID)
	r.Use(httpserver.AccessLog)
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(httpserver.HealthTrack(srv.Health()))
	r.Use(httprate.LimitByIP(cfg.RateLimitGlobal, time.Minute))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(httpserver.APIKey(cfg.AgentAPIKey))

	// Webhooks authenticate by HMAC signature, not API key. Meta sends the
	// subscription handshake to every subscribed path, so each webhook
	// answers GET with the verification challenge.
	r.Route("/webhook", func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitWebhook, time.Minute))
		wr.Get("/comment", srv.HandleVerification)
		wr.Post("/comment", srv.HandleWebhookComment)
		wr.Get("/dm", srv.HandleVerification)
		wr.Post("/dm", srv.HandleWebhookDM)
		wr.Post("/order-created", srv.HandleWebhookOrder)
	})

	r.Route("/approve", func(ar chi.Router) {
		ar.Use(httprate.LimitByIP(cfg.RateLimitApproval, time.Minute))
		ar.Post("/comment-reply", srv.HandleApproveCommentReply)
		ar.Post("/dm-reply", srv.HandleApproveDMReply)
		ar.Post("/post", srv.HandleApprovePost)
	})

	r.Route("/oversight", func(or chi.Router) {
		or.Use(httprate.Limit(cfg.RateLimitOversight, time.Minute, httprate.WithKeyFuncs(oversightKey)))
		or.Post("/chat", srv.HandleOversightChat)
		or.Post("/chat/stream", srv.HandleOversightStream)
	})

	r.Route("/queue", func(qr chi.Router) {
		qr.Get("/status", srv.HandleQueueStatus)
		qr.Get("/dlq", srv.HandleQueueDLQ)
		qr.Post("/retry-dlq", srv.HandleQueueRetryDLQ)
	})

	r.Route("/scheduler", func(sr chi.Router) {
		sr.Get("/status", srv.HandleSchedulerStatusAll)
		sr.Route("/{pipeline}", func(pr chi.Router) {
			pr.Get("/status", srv.HandleSchedulerStatus)
			pr.Post("/trigger", srv.HandleSchedulerTrigger)
			pr.Post("/pause", srv.HandleSchedulerPause)
			pr.Post("/resume", srv.HandleSchedulerResume)
		})
	})

	r.Post("/log-outcome", srv.HandleLogOutcome)

	r.Get("/health", srv.HandleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return httpserver.SecurityHeaders(r)
}
