package domain

import "time"

// Repositories (ports). Postgres implementations wrap every call with retry
// and a circuit breaker; on a degraded store, list methods return empty slices
// and error with ErrCircuitOpen so pipelines can continue best-effort.

// AccountRepository reads the tracked business accounts.
type AccountRepository interface {
	ListActive(ctx Context) ([]Account, error)
	Get(ctx Context, id string) (Account, error)
}

// CommentRepository is the engagement monitor's view of ingested comments.
type CommentRepository interface {
	ListUnprocessed(ctx Context, accountID string, limit int, since time.Time) ([]Comment, error)
	MarkProcessed(ctx Context, commentID string) error
	Recent(ctx Context, accountID string, limit int) ([]Comment, error)
}

// DMRepository reads DM history and conversation state.
type DMRepository interface {
	History(ctx Context, senderID, accountID string, limit int) ([]DMMessage, error)
	Conversation(ctx Context, senderID, accountID string) (Conversation, error)
}

// JobRepository is the store side of the outbound queue: the fallback lane
// when Redis is down and the authoritative record of terminal states.
type JobRepository interface {
	CreatePending(ctx Context, j Job) error
	UpdateStatus(ctx Context, jobID string, status JobStatus, extra map[string]any) error
	FindActiveByIdempotencyKey(ctx Context, key string) (Job, bool, error)
	ListPending(ctx Context, limit int) ([]Job, error)
	ListDLQ(ctx Context, limit int) ([]Job, error)
	Get(ctx Context, jobID string) (Job, error)
}

// PostRepository persists scheduled posts and their settlement.
type PostRepository interface {
	Create(ctx Context, p ScheduledPost) (string, error)
	GetStatus(ctx Context, id string) (PostStatus, error)
	UpdateStatus(ctx Context, id string, status PostStatus, extra map[string]any) error
	CountToday(ctx Context, accountID string) (int, error)
}

// AssetRepository serves the content scheduler's selection step.
type AssetRepository interface {
	ListEligible(ctx Context, accountID string) ([]Asset, error)
	RecentPostTags(ctx Context, accountID string, limit int) ([][]string, error)
	MarkPosted(ctx Context, assetID string) error
}

// UGCRepository persists discovered third-party content and permissions.
type UGCRepository interface {
	Upsert(ctx Context, rec UGCRecord) error
	ExistingMediaIDs(ctx Context, accountID string) (map[string]struct{}, error)
	CreatePermission(ctx Context, accountID, mediaID, authorUsername string) error
	GrantedPermissions(ctx Context, accountID string) ([]UGCRecord, error)
	UpdatePermission(ctx Context, accountID, mediaID string, state PermissionState) error
}

// AttributionRepository persists scored orders and the learned model weights.
type AttributionRepository interface {
	Create(ctx Context, a Attribution) (string, error)
	OrderSeen(ctx Context, orderID string) (bool, error)
	LastWeek(ctx Context, accountID string) ([]Attribution, error)
	GetWeights(ctx Context, accountID string) (ModelWeights, bool, error)
	UpsertWeights(ctx Context, accountID string, w ModelWeights) error
	CreateReviewItem(ctx Context, attributionID, accountID, reason string) error
	CustomerHistory(ctx Context, email, accountID string) (map[string]any, error)
	Engagements(ctx Context, email, accountID string, since time.Time) ([]Touchpoint, error)
}

// AuditRepository is write-only from pipelines; the explainability tools read it.
type AuditRepository interface {
	Log(ctx Context, e AuditEntry) error
	Recent(ctx Context, accountID string, limit int) ([]AuditEntry, error)
	Query(ctx Context, f AuditFilter) ([]AuditEntry, error)
}

// ReportRepository persists analytics reports; Latest backs the trend compare.
type ReportRepository interface {
	Upsert(ctx Context, r AnalyticsReport) error
	Latest(ctx Context, accountID, reportType string) (AnalyticsReport, bool, error)
	RecentPosts(ctx Context, accountID string, since time.Time) ([]PostContext, error)
}

// PromptRepository loads active prompt templates at startup.
type PromptRepository interface {
	ListActive(ctx Context) ([]PromptTemplate, error)
}

// OutcomeRepository persists execution feedback from /log-outcome.
type OutcomeRepository interface {
	Log(ctx Context, o ExecutionOutcome) error
}

// Queue is the durable outbound queue (Redis-first, store fallback).
type Queue interface {
	Enqueue(ctx Context, j Job) EnqueueResult
	Dequeue(ctx Context, p Priority) (*Job, error)
	ScheduleRetry(ctx Context, j Job, delay time.Duration) bool
	MoveToDLQ(ctx Context, j Job, reason string, category ErrorCategory) bool
	AcquireLock(ctx Context, jobID string) bool
	ReleaseLock(ctx Context, jobID string)
	DrainScheduled(ctx Context) int
	DrainStoreFallback(ctx Context) int
	Stats(ctx Context) QueueStats
}

// Backend is the proxy that performs actual Instagram API calls. A failed
// call returns *ProxyError carrying the structured retry metadata.
type Backend interface {
	Post(ctx Context, endpoint string, payload any) (map[string]any, error)
}

// LLM is the single inference entry point. Implementations bound concurrency
// with a semaphore and handle tool binding internally. AnalyzeStream forwards
// model tokens through onDelta as they arrive and returns the same final
// result as Analyze.
type LLM interface {
	Analyze(ctx Context, prompt string) (InferenceResult, error)
	AnalyzeStream(ctx Context, prompt string, onDelta func(string)) (InferenceResult, error)
}
