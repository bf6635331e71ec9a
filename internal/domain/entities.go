// Package domain holds the core entities and ports of the oversight agent.
// Adapters (store, cache, queue, AI, backend proxy) implement the interfaces
// declared here; pipelines depend only on this package.
package domain

import (
	"context"
	"fmt"
	"time"
)

// Context is an alias so adapters and pipelines share one signature shape.
type Context = context.Context

// ActionType enumerates every outbound side effect the agent can take.
type ActionType string

const (
	ActionReplyComment     ActionType = "reply_comment"
	ActionReplyDM          ActionType = "reply_dm"
	ActionPublishPost      ActionType = "publish_post"
	ActionSendPermissionDM ActionType = "send_permission_dm"
	ActionRepostUGC        ActionType = "repost_ugc"
	ActionSyncUGC          ActionType = "sync_ugc"
)

// Priority selects the queue lane. High is drained before normal.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// JobStatus is the store-side lifecycle of an outbound job.
// pending -> queued (drained to Redis) | processing -> completed | failed (retrying) | dlq
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobDLQ        JobStatus = "dlq"
)

// ErrorCategory classifies outbound failures reported by the backend proxy.
type ErrorCategory string

const (
	CategoryRateLimit   ErrorCategory = "rate_limit"
	CategoryTransient   ErrorCategory = "transient"
	CategoryAuthFailure ErrorCategory = "auth_failure"
	CategoryPermanent   ErrorCategory = "permanent"
	CategoryUnknown     ErrorCategory = "unknown"
)

// Retryable reports whether the category permits another attempt.
// Unknown fails safe: retry.
func (c ErrorCategory) Retryable() bool {
	switch c {
	case CategoryAuthFailure, CategoryPermanent:
		return false
	default:
		return true
	}
}

// Job is the durable unit of outbound work. Once enqueued, workers receive a
// fresh copy and retries clone and update; the queue never shares a Job value
// between goroutines.
type Job struct {
	JobID          string         `json:"job_id"`
	ActionType     ActionType     `json:"action_type"`
	Priority       Priority       `json:"priority"`
	Endpoint       string         `json:"endpoint"`
	Payload        map[string]any `json:"payload"`
	AccountID      string         `json:"business_account_id"`
	IdempotencyKey string         `json:"idempotency_key"`
	Source         string         `json:"source"`
	CreatedAt      time.Time      `json:"created_at"`
	RetryCount     int            `json:"retry_count"`
	MaxRetries     int            `json:"max_retries"`
	LastError      string         `json:"last_error,omitempty"`
	ErrorCategory  ErrorCategory  `json:"error_category,omitempty"`
	NextRetryAt    time.Time      `json:"next_retry_at,omitempty"`
	DLQReason      string         `json:"dlq_reason,omitempty"`
	DLQAt          time.Time      `json:"dlq_at,omitempty"`
}

// Active reports whether the status still blocks a same-key enqueue.
func (s JobStatus) Active() bool {
	return s != JobCompleted && s != JobDLQ
}

// EnqueueResult tells callers where the job went.
type EnqueueResult struct {
	Success      bool   `json:"success"`
	Queued       bool   `json:"queued"`
	JobID        string `json:"job_id"`
	Backend      string `json:"backend,omitempty"` // "redis" | "store"
	Deduplicated bool   `json:"deduplicated,omitempty"`
}

// QueueStats are the depths exposed at /queue/status.
type QueueStats struct {
	RedisAvailable bool  `json:"redis_available"`
	HighDepth      int64 `json:"high_depth"`
	NormalDepth    int64 `json:"normal_depth"`
	ScheduledDepth int64 `json:"scheduled_depth"`
	DLQDepth       int64 `json:"dlq_depth"`
}

// PostStatus is the scheduled-post lifecycle. The approved->publishing
// transition is the idempotency guard: a worker refuses to publish unless the
// row still reads publishing.
type PostStatus string

const (
	PostApproved   PostStatus = "approved"
	PostPublishing PostStatus = "publishing"
	PostPublished  PostStatus = "published"
	PostFailed     PostStatus = "failed"
)

// ScheduledPost bundles an asset and an evaluated caption awaiting publish.
type ScheduledPost struct {
	ID               string
	AccountID        string
	RunID            string
	AssetID          string
	AssetURL         string
	MediaType        string
	Caption          string
	Hashtags         []string
	SelectionScore   float64
	SelectionFactors map[string]float64
	QualityScore     float64
	Approved         bool
	Reasoning        string
	Status           PostStatus
	InstagramMediaID string
	PublishError     string
	CreatedAt        time.Time
	PublishedAt      time.Time
}

// UGCTier classifies discovered third-party posts.
type UGCTier string

const (
	TierHigh     UGCTier = "high"
	TierModerate UGCTier = "moderate"
	TierLow      UGCTier = "low"
)

// PermissionState tracks the repost-permission lifecycle for a UGC record.
type PermissionState string

const (
	PermissionNone     PermissionState = "none"
	PermissionPending  PermissionState = "pending"
	PermissionGranted  PermissionState = "granted"
	PermissionReposted PermissionState = "reposted"
	PermissionDenied   PermissionState = "denied"
	PermissionExpired  PermissionState = "expired"
)

// UGCRecord is a discovered third-party post with its quality verdict.
type UGCRecord struct {
	ID               string
	AccountID        string
	InstagramMediaID string
	AuthorUsername   string
	MediaType        string
	MediaURL         string
	Permalink        string
	Caption          string
	LikeCount        int
	CommentsCount    int
	Hashtag          string
	QualityScore     int
	QualityFactors   map[string]int
	Tier             UGCTier
	Permission       PermissionState
	DiscoveredAt     time.Time
}

// Signal is a detected attribution cue on an order.
type Signal struct {
	Type     string         `json:"type"`
	Source   string         `json:"source,omitempty"`
	Strength string         `json:"strength"` // high | medium | low
	Details  map[string]any `json:"details,omitempty"`
}

// Touchpoint is one engagement event in a reconstructed journey, weighted by
// exponential time decay (half-life 7 days).
type Touchpoint struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	DaysBefore float64   `json:"days_before"`
	Weight     float64   `json:"weight"`
}

// ModelScores carries the four multi-touch model outputs plus the blend.
type ModelScores struct {
	LastTouch     float64 `json:"last_touch"`
	FirstTouch    float64 `json:"first_touch"`
	Linear        float64 `json:"linear"`
	TimeDecay     float64 `json:"time_decay"`
	FinalWeighted float64 `json:"final_weighted"`
}

// ModelWeights is the per-account blending tuple. Invariant: sums to 1.0
// after Normalize.
type ModelWeights struct {
	LastTouch  float64 `json:"last_touch"`
	FirstTouch float64 `json:"first_touch"`
	Linear     float64 `json:"linear"`
	TimeDecay  float64 `json:"time_decay"`
}

// DefaultModelWeights is used when no learned row exists for an account.
func DefaultModelWeights() ModelWeights {
	return ModelWeights{LastTouch: 0.40, FirstTouch: 0.20, Linear: 0.20, TimeDecay: 0.20}
}

// Normalize rescales the tuple so the components sum to 1.0. A zero tuple
// resets to the defaults.
func (w ModelWeights) Normalize() ModelWeights {
	sum := w.LastTouch + w.FirstTouch + w.Linear + w.TimeDecay
	if sum <= 0 {
		return DefaultModelWeights()
	}
	return ModelWeights{
		LastTouch:  w.LastTouch / sum,
		FirstTouch: w.FirstTouch / sum,
		Linear:     w.Linear / sum,
		TimeDecay:  w.TimeDecay / sum,
	}
}

// Attribution is a scored order.
type Attribution struct {
	ID            string
	OrderID       string
	AccountID     string
	OrderValue    float64
	CustomerEmail string
	Signals       []Signal
	Touchpoints   []Touchpoint
	ModelScores   ModelScores
	Strategy      string // high_signal | medium_signal | low_signal
	Method        string // fast_path | llm_validated
	QualityScore  float64
	AutoApproved  bool
	CreatedAt     time.Time
}

// AuditEntry is the append-only decision record. Details stays free-form by
// design; everything else is closed.
type AuditEntry struct {
	ID           string
	EventType    string
	Action       string
	ResourceType string
	ResourceID   string
	AccountID    string
	Details      map[string]any
	IP           string
	Success      bool
	CreatedAt    time.Time
}

// AuditFilter narrows audit queries for the explainability tools.
type AuditFilter struct {
	AccountID    string
	EventType    string
	ResourceType string
	ResourceID   string
	Since        time.Time
	Until        time.Time
	Limit        int
}

// Account is an Instagram business account tracked in the store.
type Account struct {
	ID          string
	Username    string
	AccountType string
	Hashtags    []string // monitored hashtags for UGC discovery
	Active      bool
}

// Comment is an ingested Instagram comment awaiting engagement processing.
type Comment struct {
	ID                 string
	InstagramCommentID string
	MediaID            string
	AccountID          string
	AuthorUsername     string
	Text               string
	Processed          bool
	CreatedAt          time.Time
}

// DMMessage is one message in a DM conversation, newest first in history.
type DMMessage struct {
	ID        string
	SenderID  string
	AccountID string
	Direction string // inbound | outbound
	Text      string
	CreatedAt time.Time
}

// Conversation summarizes the DM thread state used by the 24h-window check.
type Conversation struct {
	SenderID        string
	AccountID       string
	LastInboundAt   time.Time
	MessageCount    int
	CustomerLTV     float64
	CustomerHistory map[string]any
}

// WithinWindow reports whether an outbound DM is still allowed under the
// platform's 24-hour rule.
func (c Conversation) WithinWindow(now time.Time) bool {
	if c.LastInboundAt.IsZero() {
		return false
	}
	return now.Sub(c.LastInboundAt) < 24*time.Hour
}

// PostContext is the cached context around a media object.
type PostContext struct {
	MediaID        string  `json:"media_id"`
	Caption        string  `json:"caption"`
	MediaType      string  `json:"media_type"`
	EngagementRate float64 `json:"engagement_rate"`
	LikeCount      int     `json:"like_count"`
	CommentsCount  int     `json:"comments_count"`
}

// Asset is a library item eligible for the content scheduler.
type Asset struct {
	ID            string
	AccountID     string
	Title         string
	StoragePath   string
	MediaType     string
	Tags          []string
	TimesPosted   int
	LastPostedAt  time.Time
	AvgEngagement float64
	CreatedAt     time.Time
}

// AnalyticsReport is the per-account aggregate produced by the report pipeline.
type AnalyticsReport struct {
	ID              string
	AccountID       string
	ReportType      string // daily | weekly
	PeriodStart     time.Time
	PeriodEnd       time.Time
	Reach           int64
	Impressions     int64
	EngagementRate  float64
	ByMediaType     map[string]float64
	BestPostID      string
	WorstPostID     string
	PercentChange   float64
	Trend           string // up | flat | down
	Recommendations []string
	Narrative       string
	CreatedAt       time.Time
}

// PromptTemplate is one active row of the prompt_templates table.
type PromptTemplate struct {
	Key      string
	Version  int
	Template string
}

// ExecutionOutcome is the feedback row persisted by /log-outcome.
type ExecutionOutcome struct {
	ID         string
	ResourceID string
	AccountID  string
	Action     string
	Success    bool
	Detail     string
	CreatedAt  time.Time
}

// ProxyError is the structured failure reported by the backend proxy. The
// worker branches on Category and Retryable; no panic or exception carries
// control flow across goroutines.
type ProxyError struct {
	StatusCode int
	Retryable  bool
	Category   ErrorCategory
	RetryAfter int // seconds; 0 means no hint
	Message    string
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("backend proxy: status=%d category=%s retryable=%t: %s",
		e.StatusCode, e.Category, e.Retryable, e.Message)
}

// InferenceResult is what the LLM gateway returns. ParseFailed means the raw
// text could not be decoded as JSON; downstream pipelines treat that as a
// best-effort signal, not a hard failure.
type InferenceResult struct {
	Output      map[string]any
	Raw         string
	LatencyMS   int64
	ToolsUsed   []string
	ParseFailed bool
}

// Str reads a string field out of the parsed output.
func (r InferenceResult) Str(key string) string {
	if v, ok := r.Output[key].(string); ok {
		return v
	}
	return ""
}

// Num reads a numeric field out of the parsed output.
func (r InferenceResult) Num(key string) float64 {
	switch v := r.Output[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// Bool reads a boolean field out of the parsed output.
func (r InferenceResult) Bool(key string) bool {
	if v, ok := r.Output[key].(bool); ok {
		return v
	}
	return false
}
