// Package backend implements the HTTP client for the backend proxy, the only
// path to the Instagram Graph API. Every failure is classified into a
// domain.ErrorCategory so the queue worker can branch without inspecting
// status codes.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/socialops/oversight-agent/internal/domain"
)

// Proxy endpoint paths. Workers carry these on jobs; pipelines call the read
// paths directly.
const (
	EndpointReplyComment    = "/api/instagram/reply-comment"
	EndpointReplyDM         = "/api/instagram/reply-dm"
	EndpointPublishPost     = "/api/instagram/publish-post"
	EndpointSendDM          = "/api/instagram/send-dm"
	EndpointSearchHashtag   = "/api/instagram/search-hashtag"
	EndpointTags            = "/api/instagram/tags"
	EndpointRepostUGC       = "/api/instagram/repost-ugc"
	EndpointSyncUGC         = "/api/instagram/sync-ugc"
	EndpointPostComments    = "/api/instagram/post-comments"
	EndpointConversations   = "/api/instagram/conversations"
	EndpointConvMessages    = "/api/instagram/conversation-messages"
	EndpointAccountInsights = "/api/instagram/account-insights"
	EndpointMediaInsights   = "/api/instagram/media-insights"
	EndpointHeartbeat       = "/api/instagram/agent/heartbeat"
)

// Client posts JSON to the proxy with a hard per-call timeout.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// New builds a proxy client. timeout bounds every call end to end.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// failureBody is the structured error envelope the proxy returns on non-2xx.
type failureBody struct {
	Retryable         *bool  `json:"retryable"`
	ErrorCategory     string `json:"error_category"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
	Error             string `json:"error"`
	Message           string `json:"message"`
}

// Post sends payload to endpoint and decodes the JSON response. Non-2xx
// responses return *domain.ProxyError; transport failures are classified as
// transient so the worker retries them.
func (c *Client) Post(ctx domain.Context, endpoint string, payload any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("op=backend.Post: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("op=backend.Post: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("op=backend.Post: %w", err)
		}
		// Timeouts and connection failures are worth retrying.
		return nil, &domain.ProxyError{
			StatusCode: 0,
			Retryable:  true,
			Category:   domain.CategoryTransient,
			Message:    err.Error(),
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domain.ProxyError{
			StatusCode: resp.StatusCode,
			Retryable:  true,
			Category:   domain.CategoryTransient,
			Message:    err.Error(),
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		out := map[string]any{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, fmt.Errorf("op=backend.Post: decode response: %w", err)
			}
		}
		return out, nil
	}

	return nil, classify(resp.StatusCode, raw)
}

// classify builds a ProxyError from the status code and the failure envelope.
// The proxy's explicit fields win; the status code is only a fallback.
func classify(status int, raw []byte) *domain.ProxyError {
	var fb failureBody
	_ = json.Unmarshal(raw, &fb)

	msg := fb.Error
	if msg == "" {
		msg = fb.Message
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	category := domain.ErrorCategory(fb.ErrorCategory)
	switch category {
	case domain.CategoryRateLimit, domain.CategoryTransient,
		domain.CategoryAuthFailure, domain.CategoryPermanent:
	default:
		category = categoryFromStatus(status)
	}

	retryable := category.Retryable()
	if fb.Retryable != nil {
		retryable = *fb.Retryable
	}

	return &domain.ProxyError{
		StatusCode: status,
		Retryable:  retryable,
		Category:   category,
		RetryAfter: fb.RetryAfterSeconds,
		Message:    msg,
	}
}

func categoryFromStatus(status int) domain.ErrorCategory {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.CategoryRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.CategoryAuthFailure
	case status >= 500:
		return domain.CategoryTransient
	case status >= 400:
		return domain.CategoryPermanent
	default:
		return domain.CategoryUnknown
	}
}
