package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/socialops/oversight-agent/internal/adapter/backend"
	"github.com/socialops/oversight-agent/internal/domain"
)

// escalationIntents always route to a human regardless of model confidence.
var escalationIntents = map[string]bool{
	"complaint": true,
	"refund":    true,
	"return":    true,
	"legal":     true,
}

type dmEvent struct {
	MessageID   string `json:"message_id" validate:"required"`
	SenderID    string `json:"sender_id" validate:"required"`
	AccountID   string `json:"business_account_id" validate:"required"`
	Text        string `json:"text"`
	Attachments []struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"attachments"`
}

type dmVerdict struct {
	Intent         string  `json:"intent"`
	Sentiment      string  `json:"sentiment"`
	Confidence     float64 `json:"confidence"`
	NeedsHuman     bool    `json:"needs_human"`
	SuggestedReply string  `json:"suggested_reply"`
}

// HandleWebhookDM processes an inbound direct message. Hard rules run before
// any model call: attachments escalate, empty messages are dropped, and a VIP
// sender always gets a human. Auto-replies must clear the confidence
// threshold, fit the reply length cap, and land inside the platform's
// 24-hour messaging window.
func (s *Server) HandleWebhookDM(w http.ResponseWriter, r *http.Request) {
	body := s.readSignedBody(w, r)
	if body == nil {
		return
	}
	var ev dmEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		writeError(w, r, domain.ErrInvalidArgument, "malformed dm payload")
		return
	}
	if err := s.validate.Struct(ev); err != nil {
		writeError(w, r, domain.ErrInvalidArgument, err.Error())
		return
	}
	ctx := r.Context()

	if strings.TrimSpace(ev.Text) == "" && len(ev.Attachments) == 0 {
		s.respondDM(w, r, ev, "skipped", map[string]any{"reason": "empty_message"})
		return
	}
	if len(ev.Attachments) > 0 {
		s.respondDM(w, r, ev, "escalated", map[string]any{"reason": "has_attachments"})
		return
	}

	conv, err := s.dms.Conversation(ctx, ev.SenderID, ev.AccountID)
	if err != nil {
		s.respondDM(w, r, ev, "escalated", map[string]any{"reason": "conversation_unavailable", "error": err.Error()})
		return
	}
	if conv.CustomerLTV >= s.cfg.VIPLifetimeValue {
		s.respondDM(w, r, ev, "escalated", map[string]any{
			"reason": "vip_customer", "lifetime_value": conv.CustomerLTV,
		})
		return
	}

	history, _ := s.dms.History(ctx, ev.SenderID, ev.AccountID, 10)
	var hist strings.Builder
	for i := len(history) - 1; i >= 0; i-- {
		fmt.Fprintf(&hist, "%s: %s\n", history[i].Direction, history[i].Text)
	}

	acctName := ""
	if acct, err := s.accounts.Get(ctx, ev.AccountID); err == nil {
		acctName = acct.Username
	}
	prompt, promptVersion, err := s.prompts.Render("dm_analysis", map[string]string{
		"account_username": acctName,
		"customer_ltv":     fmt.Sprintf("%.2f", conv.CustomerLTV),
		"max_reply_length": fmt.Sprintf("%d", s.cfg.MaxDMReplyLength),
		"history":          hist.String(),
		"message_text":     ev.Text,
	})
	if err != nil {
		writeError(w, r, err, "prompt unavailable")
		return
	}
	res, err := s.llm.Analyze(ctx, prompt)
	if err != nil {
		s.respondDM(w, r, ev, "escalated", map[string]any{"reason": "analysis_failed", "error": err.Error()})
		return
	}

	var verdict dmVerdict
	if !res.ParseFailed {
		raw, _ := json.Marshal(res.Output)
		_ = json.Unmarshal(raw, &verdict)
	}

	details := map[string]any{
		"intent":         verdict.Intent,
		"sentiment":      verdict.Sentiment,
		"confidence":     verdict.Confidence,
		"latency_ms":     res.LatencyMS,
		"tools_used":     res.ToolsUsed,
		"parse_failed":   res.ParseFailed,
		"prompt_version": promptVersion,
	}

	switch {
	case res.ParseFailed || verdict.NeedsHuman || escalationIntents[strings.ToLower(verdict.Intent)]:
		s.respondDM(w, r, ev, "escalated", details)
	case verdict.SuggestedReply == "" || verdict.Confidence < s.cfg.DMApprovalThreshold:
		s.respondDM(w, r, ev, "skipped", details)
	case utf8.RuneCountInString(verdict.SuggestedReply) > s.cfg.MaxDMReplyLength:
		details["reason"] = "reply_too_long"
		s.respondDM(w, r, ev, "escalated", details)
	case !conv.WithinWindow(time.Now().UTC()):
		details["reason"] = "outside_24h_window"
		s.respondDM(w, r, ev, "skipped", details)
	default:
		result := s.queue.Enqueue(ctx, domain.Job{
			ActionType: domain.ActionReplyDM,
			Priority:   domain.PriorityHigh,
			Endpoint:   backend.EndpointReplyDM,
			Payload: map[string]any{
				"sender_id":           ev.SenderID,
				"business_account_id": ev.AccountID,
				"text":                verdict.SuggestedReply,
			},
			AccountID:      ev.AccountID,
			IdempotencyKey: fmt.Sprintf("reply_dm:%s", ev.MessageID),
			Source:         "webhook_dm",
		})
		details["job_id"] = result.JobID
		details["deduplicated"] = result.Deduplicated
		s.respondDM(w, r, ev, "auto_replied", details)
	}
}

func (s *Server) respondDM(w http.ResponseWriter, r *http.Request, ev dmEvent, action string, details map[string]any) {
	s.auditWebhook(r.Context(), "webhook_dm_processed", action, "dm", ev.MessageID, ev.AccountID, details, r)
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true, "action": action})
}
