package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/corvidae/relay/pkg/loopdetect"
	"github.com/corvidae/relay/pkg/providers"
)

// ToolLoopConfig parameterizes RunToolLoop: the minimal agent turn used by
// specialist consultations and subagents, independent of the main agent's
// session/history/routing machinery.
type ToolLoopConfig struct {
	Provider      providers.LLMProvider
	Model         string
	Tools         *ToolRegistry
	MaxIterations int
	LLMOptions    map[string]any
}

// LoopResult is what RunToolLoop returns once the model stops requesting
// tool calls or the turn is cut short by the loop detector or iteration cap.
type LoopResult struct {
	Content    string
	Iterations int
	Messages   []providers.Message
}

// RunToolLoop drives messages through cfg.Provider, executing any requested
// tool calls against cfg.Tools and feeding their results back, until the
// model replies with no further tool calls, the iteration cap is hit, or
// the loop detector flags the turn as runaway.
//
// channel/chatID are propagated to ContextualTool implementations (e.g. the
// message tool) so a tool invoked from inside this loop still knows where
// to send things.
func RunToolLoop(ctx context.Context, cfg ToolLoopConfig, messages []providers.Message, channel, chatID string) (*LoopResult, error) {
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 10
	}
	if cfg.Tools != nil {
		cfg.Tools.UpdateContext(channel, chatID)
	}

	defs := toolDefinitions(cfg.Tools)
	detector := loopdetect.New(loopdetect.DefaultConfig(maxIter))

	var lastContent string
	for i := 0; i < maxIter; i++ {
		resp, err := cfg.Provider.Chat(ctx, messages, defs, cfg.Model, cfg.LLMOptions)
		if err != nil {
			return nil, fmt.Errorf("tool loop chat: %w", err)
		}
		lastContent = resp.Content

		if len(resp.ToolCalls) == 0 {
			messages = append(messages, providers.Message{Role: "assistant", Content: resp.Content})
			return &LoopResult{Content: resp.Content, Iterations: i + 1, Messages: messages}, nil
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			detector.RecordCall(call.Name, call.Arguments)

			result := cfg.Tools.Execute(ctx, call.Name, call.Arguments)
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    formatToolResult(result),
				ToolCallID: call.ID,
			})
		}

		if res := detector.DetectLoop(); res.Terminal() {
			return &LoopResult{
				Content:    fmt.Sprintf("Stopped: %s", res.Detail),
				Iterations: i + 1,
				Messages:   messages,
			}, nil
		}
	}

	return &LoopResult{Content: lastContent, Iterations: maxIter, Messages: messages}, nil
}

func formatToolResult(r *ToolResult) string {
	if r == nil {
		return ""
	}
	if r.IsError {
		if r.Err != nil {
			return fmt.Sprintf("error: %s (%v)", r.ForLLM, r.Err)
		}
		return fmt.Sprintf("error: %s", r.ForLLM)
	}
	return r.ForLLM
}

func toolDefinitions(registry *ToolRegistry) []providers.ToolDefinition {
	if registry == nil {
		return nil
	}
	defs := registry.Definitions()
	out := make([]providers.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = providers.ToolDefinition{
			Type: "function",
			Function: providers.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		}
	}
	return out
}

// marshalArgsPreview is used by tools that want to log what they were
// called with without re-deriving JSON formatting rules.
func marshalArgsPreview(args map[string]interface{}) string {
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(b)
}
