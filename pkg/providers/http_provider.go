package providers

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/corvidae/relay/pkg/logger"
)

const (
	defaultMaxRetries    = 5
	defaultRetryBaseWait = 1 * time.Second
	defaultRetryMaxWait  = 60 * time.Second
	defaultRetryJitter   = 0.2
	defaultHTTPTimeout   = 2 * time.Minute
)

// HTTPProvider is a generic OpenAI-compatible chat-completions Provider
// Adapter (§6's wire payload), usable against any backend that speaks that
// dialect (OpenRouter, Groq, Zhipu, a local vLLM instance, ...).
type HTTPProvider struct {
	name          string
	apiKey        string
	apiBase       string
	defaultModel  string
	client        *resty.Client
	maxRetries    int
	retryBaseWait time.Duration
	retryMaxWait  time.Duration
	retryJitter   float64
	randFloat     func() float64
	models        []ModelDescriptor
}

// NewHTTPProvider creates an adapter targeting apiBase (no trailing path
// beyond the backend's root, e.g. "https://openrouter.ai/api/v1").
func NewHTTPProvider(name, apiKey, apiBase, defaultModel string, models []ModelDescriptor) *HTTPProvider {
	client := resty.New().
		SetTimeout(defaultHTTPTimeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &HTTPProvider{
		name:          name,
		apiKey:        apiKey,
		apiBase:       strings.TrimRight(apiBase, "/"),
		defaultModel:  defaultModel,
		client:        client,
		maxRetries:    defaultMaxRetries,
		retryBaseWait: defaultRetryBaseWait,
		retryMaxWait:  defaultRetryMaxWait,
		retryJitter:   defaultRetryJitter,
		randFloat:     rand.Float64,
		models:        models,
	}
}

func (p *HTTPProvider) GetDefaultModel() string { return p.defaultModel }

// IsAvailable reports whether a base URL is configured. An empty API key is
// permitted for local backends (§4.5) — no Authorization header is sent in
// that case.
func (p *HTTPProvider) IsAvailable() bool { return p.apiBase != "" }

func (p *HTTPProvider) ListModels() []string {
	ids := make([]string, 0, len(p.models))
	for _, m := range p.models {
		ids = append(ids, m.ID)
	}
	return ids
}

func (p *HTTPProvider) GetModelCapabilities(modelID string) ModelDescriptor {
	for _, m := range p.models {
		if m.ID == modelID {
			return m
		}
	}
	return ModelDescriptor{ID: modelID, Provider: p.name, Level: "medium",
		Capabilities: ModelCapabilities{Tools: true}}
}

type chatCompletionRequest struct {
	Model            string                 `json:"model"`
	Messages         []Message              `json:"messages"`
	Tools            []ToolDefinition       `json:"tools,omitempty"`
	ToolChoice       string                 `json:"tool_choice,omitempty"`
	MaxTokens        int                    `json:"max_tokens,omitempty"`
	MaxCompletion    int                    `json:"max_completion_tokens,omitempty"`
	Temperature      *float64               `json:"temperature,omitempty"`
	TopP             *float64               `json:"top_p,omitempty"`
	FrequencyPenalty *float64               `json:"frequency_penalty,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Chat implements the Provider Adapter contract over the OpenAI-compatible
// chat-completions dialect, with exponential-backoff retry honoring
// Retry-After on 429/5xx responses.
func (p *HTTPProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	if !p.IsAvailable() {
		return nil, &ProviderError{Kind: ErrorKindBadRequest, Provider: p.name, Message: "api base not configured"}
	}

	body := chatCompletionRequest{Model: model, Messages: messages}
	if len(tools) > 0 {
		body.Tools = tools
		body.ToolChoice = "auto"
	}
	if mt, ok := options["max_tokens"].(int); ok {
		lower := strings.ToLower(model)
		if strings.Contains(lower, "glm") || strings.Contains(lower, "o1") {
			body.MaxCompletion = mt
		} else {
			body.MaxTokens = mt
		}
	}
	if t, ok := options["temperature"].(float64); ok {
		body.Temperature = &t
	}
	if tp, ok := options["top_p"].(float64); ok {
		body.TopP = &tp
	}
	if fp, ok := options["frequency_penalty"].(float64); ok {
		body.FrequencyPenalty = &fp
	}

	payload, err := sonic.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	var retryAfter time.Duration
	var hasRetryAfter bool

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			wait := p.computeRetryWait(attempt, retryAfter, hasRetryAfter)
			hasRetryAfter = false
			logger.WarnCF("provider", "retrying LLM request", map[string]interface{}{
				"provider": p.name, "attempt": attempt, "wait": wait.String(),
			})
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		resp, err := p.client.R().
			SetContext(ctx).
			SetBody(payload).
			Post(p.apiBase + "/chat/completions")
		if err != nil {
			lastErr = &ProviderError{Kind: ErrorKindTransport, Provider: p.name, Message: "request failed", Cause: err}
			if ctx.Err() != nil {
				return nil, lastErr
			}
			continue
		}

		if resp.StatusCode() != http.StatusOK {
			retryAfter, hasRetryAfter = parseRetryAfterHeader(resp.Header().Get("Retry-After"))
			kind := classifyHTTPStatus(resp.StatusCode())
			lastErr = &ProviderError{Kind: kind, Provider: p.name,
				Message: fmt.Sprintf("http %d: %s", resp.StatusCode(), truncate(string(resp.Body()), 500))}
			if kind.Transient() {
				continue
			}
			return nil, lastErr
		}
		hasRetryAfter = false

		var parsed chatCompletionResponse
		if err := sonic.Unmarshal(resp.Body(), &parsed); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}
		if len(parsed.Choices) == 0 {
			lastErr = fmt.Errorf("empty choices in response")
			continue
		}

		choice := parsed.Choices[0]
		result := &LLMResponse{
			Content:      choice.Message.Content,
			FinishReason: choice.FinishReason,
			UsedProvider: p.name,
			UsedModel:    model,
			Usage: &UsageInfo{
				PromptTokens:     parsed.Usage.PromptTokens,
				CompletionTokens: parsed.Usage.CompletionTokens,
				TotalTokens:      parsed.Usage.TotalTokens,
			},
		}
		for _, tc := range choice.Message.ToolCalls {
			var args map[string]interface{}
			_ = sonic.UnmarshalString(tc.Function.Arguments, &args)
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:   tc.ID,
				Type: tc.Type,
				Function: &FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
				Name:      tc.Function.Name,
				Arguments: args,
			})
		}

		if strings.EqualFold(result.FinishReason, "error") ||
			(result.Content == "" && len(result.ToolCalls) == 0) {
			lastErr = fmt.Errorf("empty or error response (finish_reason=%s)", result.FinishReason)
			continue
		}

		return result, nil
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", p.maxRetries+1, lastErr)
}

func (p *HTTPProvider) computeRetryWait(attempt int, retryAfter time.Duration, hasRetryAfter bool) time.Duration {
	wait := p.retryBaseWait * time.Duration(1<<(attempt-1))
	if wait > p.retryMaxWait {
		wait = p.retryMaxWait
	}
	if !hasRetryAfter && p.retryJitter > 0 {
		factor := 1 + (p.randFloat()*2-1)*p.retryJitter
		if factor < 0 {
			factor = 0
		}
		wait = time.Duration(float64(wait) * factor)
		if wait <= 0 {
			wait = time.Millisecond
		}
	}
	if hasRetryAfter && retryAfter > wait {
		wait = retryAfter
	}
	if wait > p.retryMaxWait {
		wait = p.retryMaxWait
	}
	return wait
}

func classifyHTTPStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorKindAuth
	case status == http.StatusTooManyRequests:
		return ErrorKindRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrorKindTimeout
	case status >= 500:
		return ErrorKindServer
	default:
		return ErrorKindBadRequest
	}
}

func parseRetryAfterHeader(header string) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs <= 0 {
			return 0, true
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
