package httpserver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/socialops/oversight-agent/internal/domain"
)

// autoContextEntries is how many recent audit entries prime every question.
const autoContextEntries = 12

// OversightAnswer is the cached/streamed reply shape.
type OversightAnswer struct {
	Answer    string   `json:"answer"`
	Sources   []string `json:"sources"`
	ToolsUsed []string `json:"tools_used"`
	LatencyMS int64    `json:"latency_ms"`
}

type oversightRequest struct {
	Question  string `json:"question" validate:"required,min=3"`
	AccountID string `json:"business_account_id"`
	History   []struct {
		Role string `json:"role"`
		Text string `json:"text"`
	} `json:"history"`
}

// HandleOversightChat answers an operator question about recent agent
// behavior. Fresh questions with no history are cached briefly; the model
// keeps its read-only tool surface for anything the auto-context misses.
func (s *Server) HandleOversightChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeOversight(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.OversightTimeout)
	defer cancel()

	cacheKey := ""
	if len(req.History) == 0 {
		sum := sha256.Sum256([]byte(req.AccountID + "|" + req.Question))
		cacheKey = hex.EncodeToString(sum[:16])
		if ans, hit := s.answerCache.Get(ctx, cacheKey); hit {
			writeJSON(w, http.StatusOK, ans)
			return
		}
	}

	ans, err := s.answerQuestion(ctx, req, r, nil)
	if err != nil {
		writeError(w, r, err, "oversight analysis failed")
		return
	}
	if cacheKey != "" {
		s.answerCache.Put(ctx, cacheKey, ans)
	}
	writeJSON(w, http.StatusOK, ans)
}

// HandleOversightStream is the SSE variant. Model tokens are forwarded as
// delta frames while inference runs; the done frame carries the sources and
// timing once the answer settles.
func (s *Server) HandleOversightStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeOversight(w, r)
	if !ok {
		return
	}
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeError(w, r, domain.ErrInvalidArgument, "streaming unsupported by connection")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.OversightTimeout)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	ans, err := s.answerQuestion(ctx, req, r, func(delta string) {
		piece, _ := json.Marshal(map[string]string{"delta": delta})
		fmt.Fprintf(w, "event: delta\ndata: %s\n\n", piece)
		flusher.Flush()
	})
	if err != nil {
		piece, _ := json.Marshal(map[string]string{"error": "oversight analysis failed"})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", piece)
		flusher.Flush()
		return
	}

	final, _ := json.Marshal(ans)
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", final)
	flusher.Flush()
}

func (s *Server) decodeOversight(w http.ResponseWriter, r *http.Request) (oversightRequest, bool) {
	var req oversightRequest
	if err := decodeBody(r, &req, 0); err != nil {
		writeError(w, r, err, "malformed oversight request")
		return req, false
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, domain.ErrInvalidArgument, err.Error())
		return req, false
	}
	return req, true
}

func (s *Server) answerQuestion(ctx context.Context, req oversightRequest, r *http.Request, onDelta func(string)) (OversightAnswer, error) {
	recent, err := s.audit.Recent(ctx, req.AccountID, autoContextEntries)
	sources := []string{}
	if err == nil && len(recent) > 0 {
		sources = append(sources, "audit_log")
	}

	var b strings.Builder
	for _, e := range recent {
		fmt.Fprintf(&b, "- %s %s %s/%s action=%s success=%t\n",
			e.CreatedAt.UTC().Format("2006-01-02 15:04"), e.EventType,
			e.ResourceType, e.ResourceID, e.Action, e.Success)
	}
	var hist strings.Builder
	for _, m := range req.History {
		fmt.Fprintf(&hist, "%s: %s\n", m.Role, m.Text)
	}

	prompt, promptVersion, err := s.prompts.Render("oversight_explanation", map[string]string{
		"business_account_id": req.AccountID,
		"audit_context":       b.String(),
		"history":             hist.String(),
		"question":            req.Question,
	})
	if err != nil {
		return OversightAnswer{}, err
	}
	var res domain.InferenceResult
	if onDelta != nil {
		res, err = s.llm.AnalyzeStream(ctx, prompt, onDelta)
	} else {
		res, err = s.llm.Analyze(ctx, prompt)
	}
	if err != nil {
		return OversightAnswer{}, err
	}

	ans := OversightAnswer{
		Sources:   sources,
		ToolsUsed: res.ToolsUsed,
		LatencyMS: res.LatencyMS,
	}
	if res.ParseFailed {
		// Free-form answers are acceptable here; the raw text is the answer.
		ans.Answer = res.Raw
	} else if a := res.Str("answer"); a != "" {
		ans.Answer = a
	} else {
		ans.Answer = res.Raw
	}
	for _, t := range res.ToolsUsed {
		ans.Sources = append(ans.Sources, "tool:"+t)
	}
	if cited, ok := res.Output["sources"].([]any); ok {
		for _, c := range cited {
			if str, ok := c.(string); ok {
				ans.Sources = append(ans.Sources, str)
			}
		}
	}

	s.auditWebhook(ctx, "oversight_query", "answered", "oversight", "", req.AccountID, map[string]any{
		"question":       truncateStr(req.Question, 300),
		"tools_used":     res.ToolsUsed,
		"latency_ms":     res.LatencyMS,
		"prompt_version": promptVersion,
		"history_turns":  len(req.History),
	}, r)
	return ans, nil
}

func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
