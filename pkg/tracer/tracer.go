// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package tracer implements the structured call trace (C13): one trace id
// per turn, one span id per traced call, redacted input/output, written as
// JSONL for offline inspection. It also keeps a running per-model token/cost
// summary, the same pricing table the token tracker uses.
package tracer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/corvidae/relay/pkg/metrics"
	"github.com/google/uuid"
)

// Span is one traced call: a tool execution, an LLM request, a memory
// lookup, anything wrapped in TraceAsync.
type Span struct {
	TraceID      string `json:"trace_id"`
	SpanID       string `json:"span_id"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
	Depth        int    `json:"depth"`
	File         string `json:"file"`
	Method       string `json:"method"`
	Class        string `json:"class,omitempty"`
	StartedAt    string `json:"started_at"`
	DurationMS   int64  `json:"duration_ms"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	Input        string `json:"input,omitempty"`
	Output       string `json:"output,omitempty"`
}

type traceContextKey struct{}

type traceContext struct {
	traceID      string
	parentSpanID string
	depth        int
}

// NewTrace seeds ctx with a fresh trace id for one turn, so every span
// TraceAsync records while handling it shares the same trace_id.
func NewTrace(ctx context.Context) context.Context {
	return context.WithValue(ctx, traceContextKey{}, &traceContext{traceID: uuid.NewString()})
}

// TraceIDFromContext returns the trace id seeded by NewTrace, or "" if ctx
// was never seeded (spans still work, just ungrouped).
func TraceIDFromContext(ctx context.Context) string {
	if tc, ok := ctx.Value(traceContextKey{}).(*traceContext); ok {
		return tc.traceID
	}
	return ""
}

// ModelUsage is the running total for one model.
type ModelUsage struct {
	Model        string  `json:"model"`
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Tracer writes spans to workspace/traces/spans.jsonl and accumulates a
// per-model usage summary in memory. It is never on the critical path: a
// write failure is logged to stderr-free silence rather than surfaced, and
// TraceAsync always returns fn's own result regardless of whether the span
// was recorded.
type Tracer struct {
	filePath string
	fileMu   sync.Mutex

	usageMu sync.Mutex
	usage   map[string]*ModelUsage
}

// New creates a Tracer writing under workspace/traces/.
func New(workspace string) *Tracer {
	dir := filepath.Join(workspace, "traces")
	os.MkdirAll(dir, 0755)
	return &Tracer{
		filePath: filepath.Join(dir, "spans.jsonl"),
		usage:    make(map[string]*ModelUsage),
	}
}

// TraceAsync wraps fn, recording a span for its execution: start time,
// duration, success/failure, and redacted input/output. The span is written
// asynchronously so tracing can never add latency to the traced call; ctx
// should carry the trace id set up by NewTrace and, inside an enclosing
// TraceAsync call, that call's span id as the parent, if any.
func (t *Tracer) TraceAsync(ctx context.Context, file, method string, input interface{}, fn func(context.Context) (interface{}, error), class ...string) (interface{}, error) {
	tc, _ := ctx.Value(traceContextKey{}).(*traceContext)
	traceID := ""
	parentSpanID := ""
	depth := 0
	if tc != nil {
		traceID = tc.traceID
		parentSpanID = tc.parentSpanID
		depth = tc.depth
	}
	if traceID == "" {
		traceID = uuid.NewString()
	}

	spanID := uuid.NewString()
	childCtx := context.WithValue(ctx, traceContextKey{}, &traceContext{
		traceID:      traceID,
		parentSpanID: spanID,
		depth:        depth + 1,
	})

	className := ""
	if len(class) > 0 {
		className = class[0]
	}

	start := time.Now()
	output, err := fn(childCtx)
	duration := time.Since(start)

	span := Span{
		TraceID:      traceID,
		SpanID:       spanID,
		ParentSpanID: parentSpanID,
		Depth:        depth,
		File:         file,
		Method:       method,
		Class:        className,
		StartedAt:    start.UTC().Format(time.RFC3339Nano),
		DurationMS:   duration.Milliseconds(),
		Success:      err == nil,
		Input:        redactJSON(input),
		Output:       redactJSON(output),
	}
	if err != nil {
		span.Error = err.Error()
	}

	go t.writeSpan(span)

	return output, err
}

func (t *Tracer) writeSpan(span Span) {
	data, err := json.Marshal(span)
	if err != nil {
		return
	}

	t.fileMu.Lock()
	defer t.fileMu.Unlock()

	f, err := os.OpenFile(t.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	f.Write(data)
	f.Write([]byte("\n"))
}

// RecordUsage adds one LLM call's token counts to the running per-model
// summary, pricing it with the same table the token tracker uses.
func (t *Tracer) RecordUsage(model string, inputTokens, outputTokens int) {
	cost := metrics.CalculateCost(model, inputTokens, outputTokens, 0, 0)

	t.usageMu.Lock()
	defer t.usageMu.Unlock()

	u, ok := t.usage[model]
	if !ok {
		u = &ModelUsage{Model: model}
		t.usage[model] = u
	}
	u.Calls++
	u.InputTokens += inputTokens
	u.OutputTokens += outputTokens
	u.CostUSD += cost
}

// GetSummary returns a snapshot of the per-model usage table accumulated so
// far, sorted by nothing in particular: callers that need a stable order
// should sort by Model themselves.
func (t *Tracer) GetSummary() []ModelUsage {
	t.usageMu.Lock()
	defer t.usageMu.Unlock()

	summary := make([]ModelUsage, 0, len(t.usage))
	for _, u := range t.usage {
		summary = append(summary, *u)
	}
	return summary
}
