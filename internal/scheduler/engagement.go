package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/socialops/oversight-agent/internal/adapter/backend"
	"github.com/socialops/oversight-agent/internal/adapter/cache"
	"github.com/socialops/oversight-agent/internal/domain"
	"github.com/socialops/oversight-agent/internal/prompts"
)

// EngagementConfig tunes the comment sweep.
type EngagementConfig struct {
	MaxCommentsPerRun   int
	MaxConcurrent       int64
	Lookback            time.Duration
	AutoReplyEnabled    bool
	ConfidenceThreshold float64
	AccountConcurrency  int64
}

// EngagementMonitor sweeps unprocessed comments per account, classifies each
// through the gateway, and routes: escalate, auto-reply via the queue, or
// skip. Every surviving comment ends the cycle marked processed.
type EngagementMonitor struct {
	cfg      EngagementConfig
	accounts domain.AccountRepository
	comments domain.CommentRepository
	dedup    *DedupSet
	postCtx  *cache.TwoTier[domain.PostContext]
	llm      domain.LLM
	prompts  *prompts.Service
	queue    domain.Queue
	audit    domain.AuditRepository
}

// NewEngagementMonitor wires the sweep.
func NewEngagementMonitor(
	cfg EngagementConfig,
	accounts domain.AccountRepository,
	comments domain.CommentRepository,
	dedup *DedupSet,
	postCtx *cache.TwoTier[domain.PostContext],
	llm domain.LLM,
	prompts *prompts.Service,
	queue domain.Queue,
	audit domain.AuditRepository,
) *EngagementMonitor {
	return &EngagementMonitor{
		cfg: cfg, accounts: accounts, comments: comments, dedup: dedup,
		postCtx: postCtx, llm: llm, prompts: prompts, queue: queue, audit: audit,
	}
}

// Run is one monitor cycle.
func (m *EngagementMonitor) Run(ctx context.Context) error {
	_, err := runPerAccount(ctx, "engagement_monitor", m.accounts, m.audit, m.cfg.AccountConcurrency,
		func(ctx context.Context, runID string, acct domain.Account) (int, error) {
			return m.sweepAccount(ctx, runID, acct)
		})
	return err
}

func (m *EngagementMonitor) sweepAccount(ctx context.Context, runID string, acct domain.Account) (int, error) {
	since := time.Now().Add(-m.cfg.Lookback)
	pending, err := m.comments.ListUnprocessed(ctx, acct.ID, m.cfg.MaxCommentsPerRun, since)
	if err != nil {
		return 0, err
	}

	sem := semaphore.NewWeighted(maxConcurrent(m.cfg.MaxConcurrent))
	var wg sync.WaitGroup
	processed := 0
	for _, c := range pending {
		if m.dedup.Seen(ctx, c.InstagramCommentID) {
			// Hot-set hit means a prior cycle already handled it; make the
			// store agree so the next sweep stops returning it.
			_ = m.comments.MarkProcessed(ctx, c.ID)
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(c domain.Comment) {
			defer wg.Done()
			defer sem.Release(1)
			m.processComment(ctx, runID, acct, c)
		}(c)
		processed++
	}
	wg.Wait()
	return processed, nil
}

// commentAnalysis is the model verdict shape.
type commentAnalysis struct {
	Category       string  `json:"category"`
	Sentiment      string  `json:"sentiment"`
	Confidence     float64 `json:"confidence"`
	NeedsHuman     bool    `json:"needs_human"`
	SuggestedReply string  `json:"suggested_reply"`
}

// processComment classifies and routes one comment. Whatever the route, the
// comment leaves this function marked processed in both dedup layers.
func (m *EngagementMonitor) processComment(ctx context.Context, runID string, acct domain.Account, c domain.Comment) {
	defer func() {
		if err := m.comments.MarkProcessed(ctx, c.ID); err != nil {
			slog.Warn("mark processed failed", slog.String("comment_id", c.ID), slog.Any("error", err))
		}
		m.dedup.Add(ctx, c.InstagramCommentID)
	}()

	postCtx, _ := m.postCtx.Get(ctx, acct.ID+":"+c.MediaID)

	prompt, promptVersion, err := m.prompts.Render("comment_analysis", map[string]string{
		"account_username": acct.Username,
		"post_caption":     postCtx.Caption,
		"author":           c.AuthorUsername,
		"comment_text":     c.Text,
	})
	if err != nil {
		m.auditComment(ctx, runID, acct.ID, c, "error", map[string]any{"error": err.Error()})
		return
	}

	res, err := m.llm.Analyze(ctx, prompt)
	if err != nil {
		m.auditComment(ctx, runID, acct.ID, c, "error", map[string]any{"error": err.Error()})
		return
	}
	var analysis commentAnalysis
	if !res.ParseFailed {
		raw, _ := json.Marshal(res.Output)
		_ = json.Unmarshal(raw, &analysis)
	}

	details := map[string]any{
		"category":       analysis.Category,
		"sentiment":      analysis.Sentiment,
		"confidence":     analysis.Confidence,
		"latency_ms":     res.LatencyMS,
		"tools_used":     res.ToolsUsed,
		"parse_failed":   res.ParseFailed,
		"prompt_version": promptVersion,
	}

	switch {
	case res.ParseFailed || analysis.NeedsHuman || analysis.Sentiment == "negative":
		m.auditComment(ctx, runID, acct.ID, c, "escalated", details)

	case m.cfg.AutoReplyEnabled &&
		analysis.SuggestedReply != "" &&
		analysis.Confidence >= m.cfg.ConfidenceThreshold:
		result := m.queue.Enqueue(ctx, domain.Job{
			ActionType: domain.ActionReplyComment,
			Priority:   domain.PriorityHigh,
			Endpoint:   backend.EndpointReplyComment,
			Payload: map[string]any{
				"comment_id":          c.InstagramCommentID,
				"business_account_id": acct.ID,
				"text":                analysis.SuggestedReply,
			},
			AccountID:      acct.ID,
			IdempotencyKey: fmt.Sprintf("reply_comment:%s", c.InstagramCommentID),
			Source:         "engagement_monitor",
		})
		details["job_id"] = result.JobID
		details["deduplicated"] = result.Deduplicated
		m.auditComment(ctx, runID, acct.ID, c, "auto_replied", details)

	default:
		m.auditComment(ctx, runID, acct.ID, c, "skipped", details)
	}
}

func (m *EngagementMonitor) auditComment(ctx context.Context, runID, accountID string, c domain.Comment, action string, details map[string]any) {
	details["run_id"] = runID
	_ = m.audit.Log(ctx, domain.AuditEntry{
		EventType:    "engagement_comment_processed",
		Action:       action,
		ResourceType: "comment",
		ResourceID:   c.InstagramCommentID,
		AccountID:    accountID,
		Details:      details,
		Success:      action != "error",
	})
}

func maxConcurrent(n int64) int64 {
	if n <= 0 {
		return 3
	}
	return n
}
