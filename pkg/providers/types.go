// Package providers implements the Provider Adapter contract (C5): a
// polymorphic interface over any LLM backend, plus concrete adapters for
// Claude, OpenAI-compatible HTTP backends, and GitHub Copilot.
package providers

import (
	"context"

	"github.com/corvidae/relay/pkg/bus"
)

// Message is an LLMMessage: a role plus either plain text content or an
// ordered sequence of content parts (text | image), optionally carrying
// tool calls (assistant) or a tool-call-answer id (tool).
type Message struct {
	Role         string             `json:"role"`
	Content      string             `json:"content"`
	ContentParts []bus.ContentPart  `json:"content_parts,omitempty"`
	ToolCalls    []ToolCall         `json:"tool_calls,omitempty"`
	ToolCallID   string             `json:"tool_call_id,omitempty"`
}

// FunctionCall is the wire-shape of a tool invocation's name+arguments pair
// in the OpenAI chat-completions dialect (§6): arguments are a JSON-encoded
// object, not a parsed map.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a single tool invocation requested by the assistant. Name and
// Arguments are the parsed, adapter-normalized form; Function carries the
// raw OpenAI-dialect encoding when a message is being serialized back onto
// the wire.
type ToolCall struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type,omitempty"`
	Function  *FunctionCall          `json:"function,omitempty"`
	Name      string                 `json:"-"`
	Arguments map[string]interface{} `json:"-"`
}

// FunctionDefinition describes one callable tool for LLM declaration.
type FunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolDefinition is the wire-shape of a declared tool (OpenAI dialect).
type ToolDefinition struct {
	Type     string              `json:"type"`
	Function FunctionDefinition  `json:"function"`
}

// UsageInfo carries token accounting for a single chat call.
type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LLMResponse is the normalized result of a Chat call, independent of which
// adapter produced it.
type LLMResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        *UsageInfo `json:"usage,omitempty"`
	UsedProvider string     `json:"used_provider,omitempty"`
	UsedModel    string     `json:"used_model,omitempty"`
}

// ModelCapabilities describes what a model can do, per §3's ModelDescriptor.
type ModelCapabilities struct {
	Vision    bool `json:"vision"`
	Reasoning bool `json:"reasoning"`
	Tools     bool `json:"tools"`
}

// GenerationDefaults are the default sampling parameters for a model.
type GenerationDefaults struct {
	MaxTokens        int     `json:"max_tokens"`
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"top_p"`
	TopK             int     `json:"top_k"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
}

// ModelDescriptor is §3's ModelDescriptor.
type ModelDescriptor struct {
	ID           string             `json:"id"`
	Provider     string             `json:"provider"`
	Level        string             `json:"level"` // fast|low|medium|high|ultra, used by the router
	Capabilities ModelCapabilities  `json:"capabilities"`
	Defaults     GenerationDefaults `json:"defaults"`
}

// StreamCallback receives incremental text deltas during a streamed chat.
type StreamCallback func(delta string)

// LLMProvider is the Provider Adapter contract (§4.5).
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error)
	GetDefaultModel() string
}

// StreamingProvider is an optional capability: adapters that can stream
// incremental content implement it in addition to LLMProvider.
type StreamingProvider interface {
	ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}, onContent StreamCallback) (*LLMResponse, error)
}

// AvailabilityProvider reports whether the backend is reachable/configured.
type AvailabilityProvider interface {
	IsAvailable() bool
}

// ModelLister advertises alternative model ids the same adapter can serve;
// used by the Gateway's same-provider fallback step (§4.6).
type ModelLister interface {
	ListModels() []string
}

// CapabilityProvider exposes per-model descriptors; used by the Gateway and
// Router to decide tool/vision eligibility.
type CapabilityProvider interface {
	GetModelCapabilities(modelID string) ModelDescriptor
}

// Embedding is the optional embedding sub-interface of a Provider (§6).
type Embedding interface {
	IsAvailable() bool
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ErrorKind classifies a ProviderError per §4.5.
type ErrorKind string

const (
	ErrorKindAuth       ErrorKind = "auth"
	ErrorKindRateLimit  ErrorKind = "rate-limit"
	ErrorKindBadRequest ErrorKind = "bad-request"
	ErrorKindServer     ErrorKind = "server"
	ErrorKindTransport  ErrorKind = "transport"
	ErrorKindTimeout    ErrorKind = "timeout"
)

// Transient reports whether this error kind should trigger a retry/fallback.
func (k ErrorKind) Transient() bool {
	switch k {
	case ErrorKindRateLimit, ErrorKindServer, ErrorKindTransport, ErrorKindTimeout:
		return true
	default:
		return false
	}
}

// ProviderError is the typed error every adapter surfaces for network, 4xx,
// and 5xx failures (§4.5).
type ProviderError struct {
	Kind      ErrorKind
	Provider  string
	Message   string
	Cause     error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Provider + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Provider + ": " + e.Message
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Transient reports whether this error's kind is retryable.
func (e *ProviderError) Transient() bool { return e.Kind.Transient() }
