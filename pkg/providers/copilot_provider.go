package providers

import (
	"context"
	"encoding/json"
	"errors"

	copilot "github.com/github/copilot-sdk/go"
)

// CopilotProvider adapts GitHub Copilot's chat API to the Provider Adapter
// contract, demonstrating that the contract is truly polymorphic (§9) — a
// third concrete backend alongside Claude and the generic HTTP adapter.
type CopilotProvider struct {
	client       *copilot.Client
	defaultModel string
}

// NewCopilotProvider creates an adapter authenticated with a Copilot token.
func NewCopilotProvider(token, defaultModel string) *CopilotProvider {
	client := copilot.NewClient(copilot.WithToken(token))
	if defaultModel == "" {
		defaultModel = "gpt-4o"
	}
	return &CopilotProvider{client: client, defaultModel: defaultModel}
}

func (p *CopilotProvider) GetDefaultModel() string { return p.defaultModel }

func (p *CopilotProvider) IsAvailable() bool { return p.client != nil }

func (p *CopilotProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	req := copilot.ChatRequest{Model: model, Messages: toCopilotMessages(messages)}
	if len(tools) > 0 {
		req.Tools = toCopilotTools(tools)
	}
	if mt, ok := options["max_tokens"].(int); ok {
		req.MaxTokens = mt
	}
	if t, ok := options["temperature"].(float64); ok {
		req.Temperature = t
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyCopilotError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Kind: ErrorKindServer, Provider: "copilot", Message: "empty choices"}
	}

	choice := resp.Choices[0]
	result := &LLMResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		UsedProvider: "copilot",
		UsedModel:    model,
		Usage: &UsageInfo{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Type:      "function",
			Function:  &FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
			Name:      tc.Function.Name,
			Arguments: parseArguments(tc.Function.Arguments),
		})
	}
	return result, nil
}

func toCopilotMessages(messages []Message) []copilot.Message {
	out := make([]copilot.Message, 0, len(messages))
	for _, m := range messages {
		cm := copilot.Message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, copilot.ToolCall{
				ID: tc.ID,
				Function: copilot.FunctionCall{
					Name:      toolCallName(tc),
					Arguments: toolCallArgumentsJSON(tc),
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func toCopilotTools(tools []ToolDefinition) []copilot.Tool {
	out := make([]copilot.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, copilot.Tool{
			Type: "function",
			Function: copilot.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return out
}

func toolCallName(tc ToolCall) string {
	if tc.Name != "" {
		return tc.Name
	}
	if tc.Function != nil {
		return tc.Function.Name
	}
	return ""
}

func toolCallArgumentsJSON(tc ToolCall) string {
	if tc.Function != nil {
		return tc.Function.Arguments
	}
	return "{}"
}

func parseArguments(raw string) map[string]interface{} {
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]interface{}{"raw": raw}
	}
	return args
}

func classifyCopilotError(err error) *ProviderError {
	var apiErr *copilot.APIError
	if errors.As(err, &apiErr) {
		kind := ErrorKindServer
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			kind = ErrorKindAuth
		case apiErr.StatusCode == 429:
			kind = ErrorKindRateLimit
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			kind = ErrorKindBadRequest
		}
		return &ProviderError{Kind: kind, Provider: "copilot", Message: "api call failed", Cause: err}
	}
	return &ProviderError{Kind: ErrorKindTransport, Provider: "copilot", Message: "api call failed", Cause: err}
}
