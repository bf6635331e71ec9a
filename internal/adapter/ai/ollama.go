// Package ai implements the inference gateway over a local Ollama instance.
// All pipeline and oversight inference funnels through Gateway.Analyze, which
// bounds concurrency, binds tools, and normalizes the model's JSON output.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// chatMessage is one turn of the Ollama chat transcript.
type chatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type toolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Tools    []toolSpec     `json:"tools,omitempty"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type toolSpec struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

// OllamaClient is a thin HTTP client for the /api/chat endpoint. The gateway
// handles multi-turn tool exchanges itself.
type OllamaClient struct {
	host  string
	model string
	httpc *http.Client
}

// NewOllamaClient builds a client for one model.
func NewOllamaClient(host, model string, timeout time.Duration) *OllamaClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaClient{host: host, model: model, httpc: &http.Client{Timeout: timeout}}
}

// Chat runs one non-streaming chat completion.
func (c *OllamaClient) Chat(ctx context.Context, messages []chatMessage, tools []toolSpec) (chatMessage, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: messages,
		Tools:    tools,
		Stream:   false,
		Options:  map[string]any{"temperature": 0.2},
	})
	if err != nil {
		return chatMessage{}, fmt.Errorf("op=ai.Chat: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return chatMessage{}, fmt.Errorf("op=ai.Chat: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return chatMessage{}, fmt.Errorf("op=ai.Chat: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return chatMessage{}, fmt.Errorf("op=ai.Chat: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return chatMessage{}, fmt.Errorf("op=ai.Chat: status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return chatMessage{}, fmt.Errorf("op=ai.Chat: decode: %w", err)
	}
	return out.Message, nil
}

// ChatStream runs one chat completion with streaming on, invoking onDelta for
// every content token as it arrives. Deltas arrive on Ollama chunk boundaries,
// which are valid UTF-8. The returned message carries the accumulated content
// and any tool calls.
func (c *OllamaClient) ChatStream(ctx context.Context, messages []chatMessage, tools []toolSpec, onDelta func(string)) (chatMessage, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: messages,
		Tools:    tools,
		Stream:   true,
		Options:  map[string]any{"temperature": 0.2},
	})
	if err != nil {
		return chatMessage{}, fmt.Errorf("op=ai.ChatStream: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return chatMessage{}, fmt.Errorf("op=ai.ChatStream: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return chatMessage{}, fmt.Errorf("op=ai.ChatStream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return chatMessage{}, fmt.Errorf("op=ai.ChatStream: status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var final chatMessage
	dec := json.NewDecoder(resp.Body)
	for {
		var chunk chatResponse
		if err := dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return chatMessage{}, fmt.Errorf("op=ai.ChatStream: decode: %w", err)
		}
		if chunk.Message.Role != "" {
			final.Role = chunk.Message.Role
		}
		if chunk.Message.Content != "" {
			final.Content += chunk.Message.Content
			if onDelta != nil {
				onDelta(chunk.Message.Content)
			}
		}
		final.ToolCalls = append(final.ToolCalls, chunk.Message.ToolCalls...)
		if chunk.Done {
			break
		}
	}
	return final, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
