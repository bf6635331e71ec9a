package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/socialops/oversight-agent/internal/content"
	"github.com/socialops/oversight-agent/internal/domain"
)

// approvalVerdict is the uniform response of every /approve endpoint.
type approvalVerdict struct {
	Approved   bool           `json:"approved"`
	Confidence float64        `json:"confidence,omitempty"`
	Reasoning  string         `json:"reasoning,omitempty"`
	Issues     []string       `json:"issues,omitempty"`
	AuditData  map[string]any `json:"audit_data"`
}

// approval runs the shared pipeline: hard rules first, then one model call,
// then threshold comparison. Hard-rule rejections skip the model entirely.
type approval struct {
	eventType string
	threshold float64
	hardRules func() []string
	promptKey string
	vars      func(ctx context.Context) (map[string]string, []string, error)
}

func (s *Server) runApproval(w http.ResponseWriter, r *http.Request, resourceID, accountID string, a approval) {
	ctx := r.Context()
	verdict := approvalVerdict{AuditData: map[string]any{
		"analyzed_at": time.Now().UTC().Format(time.RFC3339),
		"model":       s.cfg.OllamaModel,
	}}

	if issues := a.hardRules(); len(issues) > 0 {
		verdict.Issues = issues
		verdict.Reasoning = "hard rule violation"
		verdict.AuditData["hard_rules"] = issues
		s.auditApproval(ctx, a.eventType, resourceID, accountID, verdict, r)
		writeJSON(w, http.StatusOK, verdict)
		return
	}

	vars, contextSources, err := a.vars(ctx)
	if err != nil {
		writeError(w, r, err, "context fetch failed")
		return
	}
	prompt, promptVersion, err := s.prompts.Render(a.promptKey, vars)
	if err != nil {
		writeError(w, r, err, "prompt unavailable")
		return
	}
	res, err := s.llm.Analyze(ctx, prompt)
	if err != nil {
		writeError(w, r, err, "analysis failed")
		return
	}

	verdict.AuditData["latency_ms"] = res.LatencyMS
	verdict.AuditData["tools_used"] = res.ToolsUsed
	verdict.AuditData["context_sources"] = contextSources
	verdict.AuditData["prompt_version"] = promptVersion

	if res.ParseFailed {
		verdict.Issues = []string{"analysis output unparseable"}
		verdict.Reasoning = "model output could not be decoded"
	} else {
		verdict.Confidence = res.Num("confidence")
		verdict.Reasoning = res.Str("reasoning")
		if factors, ok := res.Output["factors"]; ok {
			verdict.AuditData["factors"] = factors
		}
		verdict.Approved = verdict.Confidence >= a.threshold
		if !verdict.Approved {
			verdict.Issues = append(verdict.Issues,
				fmt.Sprintf("confidence %.2f below threshold %.2f", verdict.Confidence, a.threshold))
		}
	}

	s.auditApproval(ctx, a.eventType, resourceID, accountID, verdict, r)
	writeJSON(w, http.StatusOK, verdict)
}

func (s *Server) auditApproval(ctx context.Context, eventType, resourceID, accountID string, v approvalVerdict, r *http.Request) {
	action := "rejected"
	if v.Approved {
		action = "approved"
	}
	details := map[string]any{
		"confidence": v.Confidence,
		"issues":     v.Issues,
		"audit_data": v.AuditData,
	}
	s.auditWebhook(ctx, eventType, action, "approval", resourceID, accountID, details, r)
}

type commentApprovalRequest struct {
	CommentID string `json:"comment_id" validate:"required"`
	MediaID   string `json:"media_id"`
	AccountID string `json:"business_account_id" validate:"required"`
	Comment   string `json:"comment_text" validate:"required"`
	Reply     string `json:"proposed_reply" validate:"required"`
}

func (s *Server) HandleApproveCommentReply(w http.ResponseWriter, r *http.Request) {
	var req commentApprovalRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	s.runApproval(w, r, req.CommentID, req.AccountID, approval{
		eventType: "approval_comment_reply",
		threshold: s.cfg.CommentApprovalThreshold,
		hardRules: func() []string {
			var issues []string
			if strings.TrimSpace(req.Reply) == "" {
				issues = append(issues, "empty reply")
			}
			return issues
		},
		promptKey: "comment_analysis",
		vars: func(ctx context.Context) (map[string]string, []string, error) {
			sources := []string{"request"}
			var caption string
			if req.MediaID != "" {
				if pc, ok := s.postCtxCache.Get(ctx, req.AccountID+":"+req.MediaID); ok {
					caption = pc.Caption
					sources = append(sources, "post_context")
				}
			}
			return map[string]string{
				"account_username": "",
				"post_caption":     caption,
				"author":           "",
				"comment_text":     req.Comment + "\n\nProposed reply: " + req.Reply,
			}, sources, nil
		},
	})
}

type dmApprovalRequest struct {
	SenderID  string `json:"sender_id" validate:"required"`
	AccountID string `json:"business_account_id" validate:"required"`
	Message   string `json:"message_text" validate:"required"`
	Reply     string `json:"proposed_reply" validate:"required"`
}

func (s *Server) HandleApproveDMReply(w http.ResponseWriter, r *http.Request) {
	var req dmApprovalRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	s.runApproval(w, r, req.SenderID, req.AccountID, approval{
		eventType: "approval_dm_reply",
		threshold: s.cfg.DMApprovalThreshold,
		hardRules: func() []string {
			var issues []string
			if n := len([]rune(req.Reply)); n > s.cfg.MaxDMReplyLength {
				issues = append(issues, fmt.Sprintf("Reply too long (%d chars, max %d)", n, s.cfg.MaxDMReplyLength))
			}
			conv, err := s.dms.Conversation(r.Context(), req.SenderID, req.AccountID)
			if err == nil && !conv.WithinWindow(time.Now().UTC()) {
				issues = append(issues, "outside_24h_window")
			}
			return issues
		},
		promptKey: "dm_analysis",
		vars: func(ctx context.Context) (map[string]string, []string, error) {
			sources := []string{"request"}
			var hist strings.Builder
			if msgs, err := s.dms.History(ctx, req.SenderID, req.AccountID, 10); err == nil && len(msgs) > 0 {
				sources = append(sources, "dm_history")
				for i := len(msgs) - 1; i >= 0; i-- {
					fmt.Fprintf(&hist, "%s: %s\n", msgs[i].Direction, msgs[i].Text)
				}
			}
			ltv := 0.0
			acctName := ""
			if conv, err := s.dms.Conversation(ctx, req.SenderID, req.AccountID); err == nil {
				ltv = conv.CustomerLTV
				sources = append(sources, "conversation")
			}
			if acct, err := s.accounts.Get(ctx, req.AccountID); err == nil {
				acctName = acct.Username
			}
			return map[string]string{
				"account_username": acctName,
				"customer_ltv":     fmt.Sprintf("%.2f", ltv),
				"max_reply_length": fmt.Sprintf("%d", s.cfg.MaxDMReplyLength),
				"history":          hist.String(),
				"message_text":     req.Message + "\n\nProposed reply: " + req.Reply,
			}, sources, nil
		},
	})
}

type postApprovalRequest struct {
	PostID    string   `json:"post_id"`
	AccountID string   `json:"business_account_id" validate:"required"`
	Caption   string   `json:"caption" validate:"required"`
	Hashtags  []string `json:"hashtags"`
	MediaType string   `json:"media_type"`
}

func (s *Server) HandleApprovePost(w http.ResponseWriter, r *http.Request) {
	var req postApprovalRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	s.runApproval(w, r, req.PostID, req.AccountID, approval{
		eventType: "approval_post",
		threshold: s.cfg.PostApprovalThreshold,
		hardRules: func() []string {
			return content.CheckCaption(req.Caption, req.Hashtags, s.cfg.MaxCaptionLength, s.cfg.MaxHashtagCount).Issues
		},
		promptKey: "post_review",
		vars: func(ctx context.Context) (map[string]string, []string, error) {
			sources := []string{"request"}
			acctName := ""
			if acct, err := s.accounts.Get(ctx, req.AccountID); err == nil {
				acctName = acct.Username
				sources = append(sources, "account")
			}
			caption := req.Caption
			if len(req.Hashtags) > 0 {
				caption += "\n" + strings.Join(req.Hashtags, " ")
			}
			return map[string]string{
				"account_username": acctName,
				"media_type":       req.MediaType,
				"caption":          caption,
			}, sources, nil
		},
	})
}

func (s *Server) decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeBody(r, dst, 0); err != nil {
		writeError(w, r, err, "malformed request body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, r, domain.ErrInvalidArgument, err.Error())
		return false
	}
	return true
}
