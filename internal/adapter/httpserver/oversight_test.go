package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialops/oversight-agent/internal/config"
	"github.com/socialops/oversight-agent/internal/domain"
	"github.com/socialops/oversight-agent/internal/prompts"
)

// streamLLM emits its answer as per-rune deltas, the way a model streams
// tokens, and returns the accumulated text as the final result.
type streamLLM struct {
	answer string
}

func (s *streamLLM) Analyze(_ domain.Context, _ string) (domain.InferenceResult, error) {
	return domain.InferenceResult{Raw: s.answer, ParseFailed: true}, nil
}

func (s *streamLLM) AnalyzeStream(_ domain.Context, _ string, onDelta func(string)) (domain.InferenceResult, error) {
	for _, r := range s.answer {
		onDelta(string(r))
	}
	return domain.InferenceResult{Raw: s.answer, ParseFailed: true, LatencyMS: 7}, nil
}

type memAudit struct{}

func (memAudit) Log(domain.Context, domain.AuditEntry) error { return nil }
func (memAudit) Recent(domain.Context, string, int) ([]domain.AuditEntry, error) {
	return nil, nil
}
func (memAudit) Query(domain.Context, domain.AuditFilter) ([]domain.AuditEntry, error) {
	return nil, nil
}

// sseEvents parses a text/event-stream body into (event, data) pairs.
func sseEvents(t *testing.T, body string) [][2]string {
	t.Helper()
	var events [][2]string
	var event string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			events = append(events, [2]string{event, strings.TrimPrefix(line, "data: ")})
		}
	}
	require.NoError(t, sc.Err())
	return events
}

func TestOversightStreamForwardsModelTokens(t *testing.T) {
	answer := strings.Repeat("あ", 100) + " done"
	s := New(Deps{
		Config:  config.Config{OversightTimeout: 5 * time.Second},
		LLM:     &streamLLM{answer: answer},
		Prompts: prompts.Load(context.Background(), nil),
		Audit:   memAudit{},
	})

	req := httptest.NewRequest(http.MethodPost, "/oversight/chat/stream",
		strings.NewReader(`{"question": "why was the reply held?", "business_account_id": "acct-1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.HandleOversightStream(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var rebuilt strings.Builder
	doneSeen := false
	for _, ev := range sseEvents(t, rec.Body.String()) {
		switch ev[0] {
		case "delta":
			var payload struct {
				Delta string `json:"delta"`
			}
			require.NoError(t, json.Unmarshal([]byte(ev[1]), &payload))
			assert.True(t, utf8.ValidString(payload.Delta))
			rebuilt.WriteString(payload.Delta)
		case "done":
			doneSeen = true
			var final OversightAnswer
			require.NoError(t, json.Unmarshal([]byte(ev[1]), &final))
			assert.Equal(t, answer, final.Answer)
			assert.EqualValues(t, 7, final.LatencyMS)
		case "error":
			t.Fatalf("unexpected error frame: %s", ev[1])
		}
	}
	assert.True(t, doneSeen)
	assert.Equal(t, answer, rebuilt.String())
	assert.Equal(t, utf8.RuneCountInString(answer), utf8.RuneCountInString(rebuilt.String()))
}

func TestOversightStreamRejectsMalformedBody(t *testing.T) {
	s := New(Deps{
		Config:  config.Config{OversightTimeout: 5 * time.Second},
		LLM:     &streamLLM{answer: "x"},
		Prompts: prompts.Load(context.Background(), nil),
		Audit:   memAudit{},
	})

	req := httptest.NewRequest(http.MethodPost, "/oversight/chat/stream",
		strings.NewReader(`{"question": ""}`))
	rec := httptest.NewRecorder()
	s.HandleOversightStream(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
