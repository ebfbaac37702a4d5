// Package tools implements the Tool Registry (C12): the catalogue of
// capabilities an agent turn can invoke, grounded on the teacher's tool
// implementations (message.go, think.go, memory_search.go, specialist.go)
// which all assume this exact Tool/ToolResult contract without ever
// declaring it themselves in the retrieved sources.
package tools

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/corvidae/relay/pkg/logger"
	"github.com/corvidae/relay/pkg/providers"
)

// Tool is anything an agent turn can call by name with JSON-object
// arguments.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *ToolResult
}

// MetadataAwareTool lets the registry hand a tool inbound message metadata
// (e.g. a Telegram thread_id) before a turn begins, without widening the
// base Tool interface for tools that don't need it.
type MetadataAwareTool interface {
	Tool
	SetMetadata(meta map[string]string)
}

// ContextualTool lets the registry hand a tool the channel/chatID a turn
// is running against, the same way.
type ContextualTool interface {
	Tool
	SetContext(channel, chatID string)
}

// AsyncTool is a tool whose work outlives the turn that invoked it (e.g. a
// long-running subagent). ExecuteAsync returns an immediate ToolResult (the
// acknowledgement fed to the LLM right away) and invokes onComplete later,
// from its own goroutine, once the background work finishes.
type AsyncTool interface {
	Tool
	ExecuteAsync(ctx context.Context, args map[string]interface{}, onComplete func(context.Context, *ToolResult)) *ToolResult
}

// ToolResult is what Execute returns. ForLLM is always fed back into the
// conversation as the tool's output. ForUser, when non-empty, is also
// surfaced directly to the human independent of the LLM's next turn.
// Silent tools (e.g. message) have already delivered their own output and
// don't need ForLLM echoed back to the user.
type ToolResult struct {
	ForLLM  string
	ForUser string
	IsError bool
	Silent  bool
	Err     error
}

// ErrorResult builds a ToolResult reporting a failure to the LLM.
func ErrorResult(msg string) *ToolResult {
	return &ToolResult{ForLLM: msg, IsError: true}
}

// ErrorResultf is ErrorResult with fmt.Sprintf formatting.
func ErrorResultf(format string, args ...interface{}) *ToolResult {
	return ErrorResult(fmt.Sprintf(format, args...))
}

// SilentResult builds a successful ToolResult that should not also be
// echoed to the user (the tool already delivered its own output, or the
// result is only useful to the LLM's next turn).
func SilentResult(msg string) *ToolResult {
	return &ToolResult{ForLLM: msg, Silent: true}
}

// TextResult builds a plain successful ToolResult shown to both the LLM
// and, where the caller chooses, the user.
func TextResult(msg string) *ToolResult {
	return &ToolResult{ForLLM: msg}
}

// ToolRegistry is the set of tools available to one agent loop (main agent
// or a restricted subagent/specialist). Safe for concurrent use: tools may
// be registered during setup and executed concurrently across turns.
type ToolRegistry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	policy ToolExecutionPolicy
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool, overwriting any previous registration under the
// same name. Registering a nil tool is a no-op, so optional constructors
// that return nil (e.g. a disabled web search tool) can be registered
// unconditionally.
func (r *ToolRegistry) Register(t Tool) {
	if t == nil {
		return
	}
	if v := reflect.ValueOf(t); v.Kind() == reflect.Ptr && v.IsNil() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Get returns the tool registered under name, if any.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// List is an alias of Names kept for callers that want a flat inventory
// (e.g. startup diagnostics) rather than full Definitions.
func (r *ToolRegistry) List() []string {
	return r.Names()
}

// GetSummaries renders a one-line "name: description" summary per tool, in
// registration order, for embedding into a system prompt's tools section.
func (r *ToolRegistry) GetSummaries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, fmt.Sprintf("- **%s**: %s", t.Name(), t.Description()))
	}
	return out
}

// ToProviderDefs renders every registered tool as a provider-dialect
// ToolDefinition, sorted by name for a stable wire order.
func (r *ToolRegistry) ToProviderDefs() []providers.ToolDefinition {
	return toolDefinitions(r)
}

// SetExecutionPolicy installs an allow/deny policy checked before every
// Execute call.
func (r *ToolRegistry) SetExecutionPolicy(p ToolExecutionPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = p
}

// Execute looks up name and runs it, returning an error ToolResult if the
// tool is unknown or blocked by policy rather than failing the whole turn.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]interface{}) *ToolResult {
	r.mu.RLock()
	policy := r.policy
	r.mu.RUnlock()

	if err := policy.check(name); err != nil {
		return ErrorResult(err.Error())
	}

	t, ok := r.Get(name)
	if !ok {
		return ErrorResultf("unknown tool %q", name)
	}
	return t.Execute(ctx, args)
}

// ExecuteWithContext is Execute plus per-call context propagation: it sets
// channel/chatID on the target tool if it is a ContextualTool, and, if the
// tool is an AsyncTool, dispatches through ExecuteAsync so long-running work
// can report back via onComplete instead of blocking the turn.
func (r *ToolRegistry) ExecuteWithContext(ctx context.Context, name string, args map[string]interface{}, channel, chatID string, onComplete func(context.Context, *ToolResult)) *ToolResult {
	r.mu.RLock()
	policy := r.policy
	r.mu.RUnlock()

	if err := policy.check(name); err != nil {
		return ErrorResult(err.Error())
	}

	t, ok := r.Get(name)
	if !ok {
		return ErrorResultf("unknown tool %q", name)
	}
	if ct, ok := t.(ContextualTool); ok {
		ct.SetContext(channel, chatID)
	}
	if at, ok := t.(AsyncTool); ok && onComplete != nil {
		return at.ExecuteAsync(ctx, args, onComplete)
	}
	return t.Execute(ctx, args)
}

// ExecuteBatchOptions tunes ExecuteToolCalls.
type ExecuteBatchOptions struct {
	Channel        string
	ChatID         string
	Timeout        time.Duration
	MaxParallel    int // <=0 means unlimited within this batch
	LogComponent   string
	Iteration      int
	OnToolComplete func(completed, total, index int, call providers.ToolCall, result providers.Message)
}

// ExecuteToolCalls runs a batch of tool calls with bounded parallelism and a
// per-call timeout, returning results in original call order as tool-role
// messages ready to append to the conversation.
func (r *ToolRegistry) ExecuteToolCalls(ctx context.Context, calls []providers.ToolCall, opts ExecuteBatchOptions) []providers.Message {
	n := len(calls)
	if n == 0 {
		return nil
	}

	component := opts.LogComponent
	if component == "" {
		component = "tool"
	}
	r.UpdateContext(opts.Channel, opts.ChatID)

	parallelLimit := n
	if opts.MaxParallel > 0 && opts.MaxParallel < parallelLimit {
		parallelLimit = opts.MaxParallel
	}

	results := make([]providers.Message, n)
	sem := make(chan struct{}, parallelLimit)
	doneCh := make(chan int, n)

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call providers.ToolCall) {
			acquired := false
			defer func() {
				if acquired {
					<-sem
				}
				if rec := recover(); rec != nil {
					logger.ErrorCF(component, "recovered panic in tool execution", map[string]interface{}{
						"tool":      call.Name,
						"iteration": opts.Iteration,
						"panic":     fmt.Sprintf("%v", rec),
					})
					results[idx] = providers.Message{Role: "tool", Content: fmt.Sprintf("error: tool %s panicked: %v", call.Name, rec), ToolCallID: call.ID}
				}
				doneCh <- idx
				wg.Done()
			}()

			select {
			case sem <- struct{}{}:
				acquired = true
			case <-ctx.Done():
				results[idx] = providers.Message{Role: "tool", Content: fmt.Sprintf("error: %v", ctx.Err()), ToolCallID: call.ID}
				return
			}

			logger.InfoCF(component, fmt.Sprintf("tool call: %s(%s)", call.Name, marshalArgsPreview(call.Arguments)), map[string]interface{}{
				"tool":      call.Name,
				"iteration": opts.Iteration,
			})

			toolCtx := ctx
			cancel := func() {}
			if opts.Timeout > 0 {
				toolCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
			}
			result := r.Execute(toolCtx, call.Name, call.Arguments)
			cancel()

			results[idx] = providers.Message{Role: "tool", Content: formatToolResult(result), ToolCallID: call.ID}
		}(i, call)
	}

	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		completed := 0
		for j := 0; j < n; j++ {
			idx := <-doneCh
			completed++
			if opts.OnToolComplete != nil {
				opts.OnToolComplete(completed, n, idx, calls[idx], results[idx])
			}
		}
	}()

	wg.Wait()
	<-progressDone

	return results
}

// Definition is the wire shape handed to a provider adapter describing one
// callable tool.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Definitions returns every registered tool's Definition, sorted by name so
// the provider always sees a stable tool list regardless of registration
// order.
func (r *ToolRegistry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// UpdateContext propagates the active channel/chatID to every registered
// ContextualTool (e.g. message, telegram) ahead of a turn.
func (r *ToolRegistry) UpdateContext(channel, chatID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tools {
		if ct, ok := t.(ContextualTool); ok {
			ct.SetContext(channel, chatID)
		}
	}
}

// UpdateMetadata propagates inbound message metadata to every registered
// MetadataAwareTool ahead of a turn.
func (r *ToolRegistry) UpdateMetadata(meta map[string]string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tools {
		if mt, ok := t.(MetadataAwareTool); ok {
			mt.SetMetadata(meta)
		}
	}
}
