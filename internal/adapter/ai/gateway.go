package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/socialops/oversight-agent/internal/adapter/observability"
	"github.com/socialops/oversight-agent/internal/domain"
)

// maxToolRounds bounds the bind-and-reinvoke loop so a confused model cannot
// spin on tool calls forever.
const maxToolRounds = 4

// Tool is one callable exposed to the model. Run receives the decoded
// arguments and returns a JSON-serializable result.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Run         func(ctx context.Context, args map[string]any) (any, error)
}

// Gateway is the single inference entry point. A weighted semaphore bounds
// concurrent model calls; waiting callers are released when their context
// expires, never queued indefinitely.
type Gateway struct {
	client      *OllamaClient
	sem         *semaphore.Weighted
	tools       []Tool
	toolTimeout time.Duration
}

// NewGateway wires the client with the tool catalogue.
func NewGateway(client *OllamaClient, maxConcurrent int64, toolTimeout time.Duration, tools []Tool) *Gateway {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if toolTimeout <= 0 {
		toolTimeout = 5 * time.Second
	}
	return &Gateway{
		client:      client,
		sem:         semaphore.NewWeighted(maxConcurrent),
		tools:       tools,
		toolTimeout: toolTimeout,
	}
}

// Analyze runs one inference with tool binding and returns the parsed JSON
// output. A response that is not JSON comes back with ParseFailed set rather
// than an error; callers decide how degraded output is handled.
func (g *Gateway) Analyze(ctx context.Context, prompt string) (domain.InferenceResult, error) {
	return g.run(ctx, prompt, nil)
}

// AnalyzeStream is Analyze with model tokens forwarded through onDelta as
// they arrive. Tool-call rounds normally carry no content, so forwarded
// deltas are the answer tokens.
func (g *Gateway) AnalyzeStream(ctx context.Context, prompt string, onDelta func(string)) (domain.InferenceResult, error) {
	return g.run(ctx, prompt, onDelta)
}

func (g *Gateway) run(ctx context.Context, prompt string, onDelta func(string)) (domain.InferenceResult, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return domain.InferenceResult{}, fmt.Errorf("op=ai.Analyze: acquire slot: %w", err)
	}
	defer g.sem.Release(1)

	started := time.Now()
	messages := []chatMessage{{Role: "user", Content: prompt}}
	specs := g.toolSpecs()

	var toolsUsed []string
	var final chatMessage
	for round := 0; ; round++ {
		var msg chatMessage
		var err error
		if onDelta != nil {
			msg, err = g.client.ChatStream(ctx, messages, specs, onDelta)
		} else {
			msg, err = g.client.Chat(ctx, messages, specs)
		}
		if err != nil {
			observability.LLMRequestsTotal.WithLabelValues("error").Inc()
			return domain.InferenceResult{}, err
		}
		if len(msg.ToolCalls) == 0 || round >= maxToolRounds {
			final = msg
			break
		}
		messages = append(messages, msg)
		results := g.dispatch(ctx, msg.ToolCalls)
		for i, tc := range msg.ToolCalls {
			toolsUsed = append(toolsUsed, tc.Function.Name)
			messages = append(messages, chatMessage{Role: "tool", Content: results[i]})
		}
	}

	latency := time.Since(started)
	observability.LLMRequestsTotal.WithLabelValues("ok").Inc()
	observability.LLMLatency.Observe(latency.Seconds())

	result := parseOutput(final.Content)
	result.LatencyMS = latency.Milliseconds()
	result.ToolsUsed = toolsUsed
	return result, nil
}

// dispatch runs the round's tool calls in parallel, each under its own
// timeout. Results keep call order; failures become structured error payloads
// the model can read.
func (g *Gateway) dispatch(ctx context.Context, calls []toolCall) []string {
	results := make([]string, len(calls))
	var wg sync.WaitGroup
	for i, tc := range calls {
		wg.Add(1)
		go func(i int, tc toolCall) {
			defer wg.Done()
			results[i] = g.runOne(ctx, tc)
		}(i, tc)
	}
	wg.Wait()
	return results
}

func (g *Gateway) runOne(ctx context.Context, tc toolCall) string {
	name := tc.Function.Name
	tool, ok := g.lookup(name)
	if !ok {
		observability.ToolCallsTotal.WithLabelValues(name, "unknown").Inc()
		return toolError(name, "unknown tool")
	}

	ctx, cancel := context.WithTimeout(ctx, g.toolTimeout)
	defer cancel()

	out, err := tool.Run(ctx, tc.Function.Arguments)
	if err != nil {
		observability.ToolCallsTotal.WithLabelValues(name, "error").Inc()
		slog.Warn("tool call failed", slog.String("tool", name), slog.Any("error", err))
		return toolError(name, err.Error())
	}
	observability.ToolCallsTotal.WithLabelValues(name, "ok").Inc()
	payload, err := json.Marshal(out)
	if err != nil {
		return toolError(name, "unserializable result")
	}
	return string(payload)
}

func (g *Gateway) lookup(name string) (Tool, bool) {
	for _, t := range g.tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

func (g *Gateway) toolSpecs() []toolSpec {
	specs := make([]toolSpec, len(g.tools))
	for i, t := range g.tools {
		specs[i].Type = "function"
		specs[i].Function.Name = t.Name
		specs[i].Function.Description = t.Description
		specs[i].Function.Parameters = t.Parameters
	}
	return specs
}

func toolError(name, msg string) string {
	payload, _ := json.Marshal(map[string]string{"tool": name, "error": msg})
	return string(payload)
}
