package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/socialops/oversight-agent/internal/adapter/backend"
	"github.com/socialops/oversight-agent/internal/domain"
)

// commentEvent is the normalized comment delivery.
type commentEvent struct {
	CommentID string `json:"comment_id" validate:"required"`
	MediaID   string `json:"media_id" validate:"required"`
	AccountID string `json:"business_account_id" validate:"required"`
	Author    string `json:"author_username"`
	Text      string `json:"text"`
}

// commentVerdict is the model's classification shape, shared with the
// engagement monitor.
type commentVerdict struct {
	Category       string  `json:"category"`
	Sentiment      string  `json:"sentiment"`
	Confidence     float64 `json:"confidence"`
	NeedsHuman     bool    `json:"needs_human"`
	SuggestedReply string  `json:"suggested_reply"`
}

// HandleWebhookComment ingests one comment delivery: verify, parse, enrich,
// classify, act through the queue, audit. The platform gets a 200 as soon as
// the payload is accepted; downstream failures surface in the audit log only.
func (s *Server) HandleWebhookComment(w http.ResponseWriter, r *http.Request) {
	body := s.readSignedBody(w, r)
	if body == nil {
		return
	}
	var ev commentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		writeError(w, r, domain.ErrInvalidArgument, "malformed comment payload")
		return
	}
	if err := s.validate.Struct(ev); err != nil {
		writeError(w, r, domain.ErrInvalidArgument, err.Error())
		return
	}

	ctx := r.Context()
	acct, err := s.accounts.Get(ctx, ev.AccountID)
	if err != nil {
		// Unknown or degraded account read: accept the delivery, record it.
		s.auditWebhook(ctx, "webhook_comment_processed", "error", "comment", ev.CommentID, ev.AccountID,
			map[string]any{"error": err.Error()}, r)
		writeJSON(w, http.StatusOK, map[string]any{"accepted": true})
		return
	}

	postCtx, _ := s.postCtxCache.Get(ctx, ev.AccountID+":"+ev.MediaID)
	prompt, promptVersion, err := s.prompts.Render("comment_analysis", map[string]string{
		"account_username": acct.Username,
		"post_caption":     postCtx.Caption,
		"author":           ev.Author,
		"comment_text":     ev.Text,
	})
	if err != nil {
		writeError(w, r, err, "prompt unavailable")
		return
	}
	res, err := s.llm.Analyze(ctx, prompt)
	if err != nil {
		s.auditWebhook(ctx, "webhook_comment_processed", "error", "comment", ev.CommentID, ev.AccountID,
			map[string]any{"error": err.Error()}, r)
		writeJSON(w, http.StatusOK, map[string]any{"accepted": true})
		return
	}

	var verdict commentVerdict
	if !res.ParseFailed {
		raw, _ := json.Marshal(res.Output)
		_ = json.Unmarshal(raw, &verdict)
	}

	details := map[string]any{
		"category":       verdict.Category,
		"sentiment":      verdict.Sentiment,
		"confidence":     verdict.Confidence,
		"latency_ms":     res.LatencyMS,
		"tools_used":     res.ToolsUsed,
		"parse_failed":   res.ParseFailed,
		"prompt_version": promptVersion,
	}

	action := "skipped"
	switch {
	case res.ParseFailed || verdict.NeedsHuman || verdict.Sentiment == "negative":
		action = "escalated"
	case verdict.SuggestedReply != "" && verdict.Confidence >= s.cfg.CommentApprovalThreshold:
		result := s.queue.Enqueue(ctx, domain.Job{
			ActionType: domain.ActionReplyComment,
			Priority:   domain.PriorityHigh,
			Endpoint:   backend.EndpointReplyComment,
			Payload: map[string]any{
				"comment_id":          ev.CommentID,
				"business_account_id": ev.AccountID,
				"text":                verdict.SuggestedReply,
			},
			AccountID:      ev.AccountID,
			IdempotencyKey: fmt.Sprintf("reply_comment:%s", ev.CommentID),
			Source:         "webhook_comment",
		})
		details["job_id"] = result.JobID
		details["deduplicated"] = result.Deduplicated
		action = "auto_replied"
	}

	s.auditWebhook(ctx, "webhook_comment_processed", action, "comment", ev.CommentID, ev.AccountID, details, r)
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true, "action": action})
}

func (s *Server) auditWebhook(ctx context.Context, eventType, action, resourceType, resourceID, accountID string, details map[string]any, r *http.Request) {
	_ = s.audit.Log(ctx, domain.AuditEntry{
		EventType:    eventType,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		AccountID:    accountID,
		Details:      details,
		IP:           r.RemoteAddr,
		Success:      action != "error",
	})
}
