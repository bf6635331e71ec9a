package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/socialops/oversight-agent/internal/adapter/backend"
	"github.com/socialops/oversight-agent/internal/content"
	"github.com/socialops/oversight-agent/internal/domain"
	"github.com/socialops/oversight-agent/internal/prompts"
)

// ContentConfig tunes the per-slot publish pipeline.
type ContentConfig struct {
	AutoPublish        bool
	MaxPostsPerDay     int
	QualityThreshold   float64
	MaxCaptionLength   int
	MaxHashtagCount    int
	AccountConcurrency int64
}

// ContentScheduler produces at most one scheduled post per account per slot:
// cap check, four-factor selection, single-call caption generation and
// evaluation, hard rules, persist, and optionally hand off to the queue.
type ContentScheduler struct {
	cfg      ContentConfig
	accounts domain.AccountRepository
	assets   domain.AssetRepository
	posts    domain.PostRepository
	llm      domain.LLM
	prompts  *prompts.Service
	queue    domain.Queue
	audit    domain.AuditRepository

	mu  sync.Mutex
	rng *rand.Rand
}

// NewContentScheduler wires the pipeline.
func NewContentScheduler(
	cfg ContentConfig,
	accounts domain.AccountRepository,
	assets domain.AssetRepository,
	posts domain.PostRepository,
	llm domain.LLM,
	prompts *prompts.Service,
	queue domain.Queue,
	audit domain.AuditRepository,
) *ContentScheduler {
	return &ContentScheduler{
		cfg: cfg, accounts: accounts, assets: assets, posts: posts,
		llm: llm, prompts: prompts, queue: queue, audit: audit,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run is one publish slot.
func (s *ContentScheduler) Run(ctx context.Context) error {
	_, err := runPerAccount(ctx, "content_scheduler", s.accounts, s.audit, s.cfg.AccountConcurrency,
		func(ctx context.Context, runID string, acct domain.Account) (int, error) {
			return s.scheduleOne(ctx, runID, acct)
		})
	return err
}

// captionResult is the model's combined generation + self-evaluation.
type captionResult struct {
	Caption      string   `json:"caption"`
	Hashtags     []string `json:"hashtags"`
	QualityScore float64  `json:"quality_score"`
	Reasoning    string   `json:"reasoning"`
}

func (s *ContentScheduler) scheduleOne(ctx context.Context, runID string, acct domain.Account) (int, error) {
	count, err := s.posts.CountToday(ctx, acct.ID)
	if err == nil && s.cfg.MaxPostsPerDay > 0 && count >= s.cfg.MaxPostsPerDay {
		s.auditPost(ctx, runID, acct.ID, "", "cap_reached", map[string]any{"posts_today": count})
		return 0, nil
	}

	eligible, err := s.assets.ListEligible(ctx, acct.ID)
	if err != nil {
		return 0, err
	}
	recentTags, _ := s.assets.RecentPostTags(ctx, acct.ID, 10)
	ranked := content.ScoreAssets(eligible, recentTags, time.Now())
	picked, ok := s.pick(ranked)
	if !ok {
		s.auditPost(ctx, runID, acct.ID, "", "no_eligible_assets", nil)
		return 0, nil
	}

	prompt, promptVersion, err := s.prompts.Render("post_caption", map[string]string{
		"account_username": acct.Username,
		"asset_title":      picked.Asset.Title,
		"asset_tags":       strings.Join(picked.Asset.Tags, ", "),
		"media_type":       picked.Asset.MediaType,
		"max_hashtags":     fmt.Sprintf("%d", s.cfg.MaxHashtagCount),
		"max_length":       fmt.Sprintf("%d", s.cfg.MaxCaptionLength),
	})
	if err != nil {
		return 0, err
	}
	res, err := s.llm.Analyze(ctx, prompt)
	if err != nil {
		return 0, fmt.Errorf("op=content.scheduleOne: %w", err)
	}
	var gen captionResult
	if !res.ParseFailed {
		raw, _ := json.Marshal(res.Output)
		_ = json.Unmarshal(raw, &gen)
	}

	check := content.CheckCaption(gen.Caption, gen.Hashtags, s.cfg.MaxCaptionLength, s.cfg.MaxHashtagCount)
	approved := !res.ParseFailed && check.OK && gen.QualityScore >= s.cfg.QualityThreshold

	post := domain.ScheduledPost{
		AccountID:        acct.ID,
		RunID:            runID,
		AssetID:          picked.Asset.ID,
		AssetURL:         picked.Asset.StoragePath,
		MediaType:        picked.Asset.MediaType,
		Caption:          gen.Caption,
		Hashtags:         gen.Hashtags,
		SelectionScore:   picked.Score,
		SelectionFactors: picked.Factors,
		QualityScore:     gen.QualityScore,
		Approved:         approved,
		Reasoning:        gen.Reasoning,
		Status:           domain.PostApproved,
	}
	if !approved {
		post.Status = domain.PostFailed
	}
	postID, err := s.posts.Create(ctx, post)
	if err != nil {
		return 0, err
	}

	details := map[string]any{
		"asset_id":          picked.Asset.ID,
		"selection_score":   picked.Score,
		"selection_factors": picked.Factors,
		"quality_score":     gen.QualityScore,
		"issues":            check.Issues,
		"latency_ms":        res.LatencyMS,
		"prompt_version":    promptVersion,
	}
	if !approved {
		s.auditPost(ctx, runID, acct.ID, postID, "rejected", details)
		return 1, nil
	}

	if s.cfg.AutoPublish {
		// approved -> publishing is the idempotency guard the worker checks.
		if err := s.posts.UpdateStatus(ctx, postID, domain.PostPublishing, nil); err != nil {
			return 1, err
		}
		result := s.queue.Enqueue(ctx, domain.Job{
			ActionType: domain.ActionPublishPost,
			Priority:   domain.PriorityNormal,
			Endpoint:   backend.EndpointPublishPost,
			Payload: map[string]any{
				"post_id":             postID,
				"asset_id":            picked.Asset.ID,
				"business_account_id": acct.ID,
				"asset_url":           picked.Asset.StoragePath,
				"media_type":          picked.Asset.MediaType,
				"caption":             composeCaption(gen),
			},
			AccountID:      acct.ID,
			IdempotencyKey: "publish_post:" + postID,
			Source:         "content_scheduler",
		})
		details["job_id"] = result.JobID
		s.auditPost(ctx, runID, acct.ID, postID, "enqueued_publish", details)
	} else {
		s.auditPost(ctx, runID, acct.ID, postID, "awaiting_approval", details)
	}
	return 1, nil
}

func (s *ContentScheduler) pick(ranked []content.ScoredAsset) (content.ScoredAsset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return content.Select(ranked, s.rng)
}

func composeCaption(c captionResult) string {
	if len(c.Hashtags) == 0 {
		return c.Caption
	}
	return c.Caption + "\n\n" + strings.Join(c.Hashtags, " ")
}

func (s *ContentScheduler) auditPost(ctx context.Context, runID, accountID, postID, action string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["run_id"] = runID
	_ = s.audit.Log(ctx, domain.AuditEntry{
		EventType:    "content_post_scheduled",
		Action:       action,
		ResourceType: "scheduled_post",
		ResourceID:   postID,
		AccountID:    accountID,
		Details:      details,
		Success:      action != "error",
	})
}
