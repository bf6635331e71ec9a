package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatStreamForwardsDeltas(t *testing.T) {
	chunks := []string{"Der ", "Umsatz ", "stieg ", "um 12 %."}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		enc := json.NewEncoder(w)
		for _, c := range chunks {
			require.NoError(t, enc.Encode(chatResponse{Message: chatMessage{Role: "assistant", Content: c}}))
		}
		require.NoError(t, enc.Encode(chatResponse{Done: true}))
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "test-model", time.Second)
	var got []string
	msg, err := client.ChatStream(context.Background(), []chatMessage{{Role: "user", Content: "q"}}, nil, func(d string) {
		got = append(got, d)
	})
	require.NoError(t, err)
	assert.Equal(t, chunks, got)
	assert.Equal(t, strings.Join(chunks, ""), msg.Content)
	assert.Equal(t, "assistant", msg.Role)
}

func TestChatStreamKeepsMultibyteRunesIntact(t *testing.T) {
	// Chunks arrive on token boundaries, so every forwarded delta must be
	// valid UTF-8 and the reassembly must be rune-exact.
	text := strings.Repeat("あ", 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		for _, ch := range text {
			_ = enc.Encode(chatResponse{Message: chatMessage{Role: "assistant", Content: string(ch)}})
		}
		_ = enc.Encode(chatResponse{Done: true})
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "test-model", time.Second)
	var rebuilt strings.Builder
	msg, err := client.ChatStream(context.Background(), []chatMessage{{Role: "user", Content: "q"}}, nil, func(d string) {
		assert.True(t, utf8.ValidString(d))
		rebuilt.WriteString(d)
	})
	require.NoError(t, err)
	assert.Equal(t, text, rebuilt.String())
	assert.Equal(t, text, msg.Content)
	assert.Equal(t, 100, utf8.RuneCountInString(rebuilt.String()))
}

func TestChatStreamCollectsToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var tc toolCall
		tc.Function.Name = "query_audit_log"
		tc.Function.Arguments = map[string]any{"limit": float64(5)}
		enc := json.NewEncoder(w)
		_ = enc.Encode(chatResponse{Message: chatMessage{Role: "assistant", ToolCalls: []toolCall{tc}}, Done: true})
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "test-model", time.Second)
	deltas := 0
	msg, err := client.ChatStream(context.Background(), nil, nil, func(string) { deltas++ })
	require.NoError(t, err)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "query_audit_log", msg.ToolCalls[0].Function.Name)
	assert.Zero(t, deltas)
}

func TestChatStreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "test-model", time.Second)
	_, err := client.ChatStream(context.Background(), nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestChatNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		fmt.Fprint(w, `{"message": {"role": "assistant", "content": "{\"ok\": true}"}, "done": true}`)
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "test-model", time.Second)
	msg, err := client.Chat(context.Background(), []chatMessage{{Role: "user", Content: "q"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, msg.Content)
}
