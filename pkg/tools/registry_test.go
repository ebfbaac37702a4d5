package tools

import (
	"context"
	"strings"
	"testing"
)

type policyTestTool struct {
	name   string
	result string
}

func (t *policyTestTool) Name() string        { return t.name }
func (t *policyTestTool) Description() string { return "policy test tool" }
func (t *policyTestTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *policyTestTool) Execute(_ context.Context, _ map[string]interface{}) *ToolResult {
	return TextResult(t.result)
}

func TestToolRegistry_RegisterAndExecute(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&policyTestTool{name: "echo", result: "ok"})

	res := r.Execute(context.Background(), "echo", map[string]interface{}{})
	if res.IsError || res.ForLLM != "ok" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestToolRegistry_Execute_UnknownTool(t *testing.T) {
	r := NewToolRegistry()
	res := r.Execute(context.Background(), "nope", map[string]interface{}{})
	if !res.IsError {
		t.Fatal("expected error for unknown tool")
	}
}

func TestToolRegistry_Register_NilIsNoop(t *testing.T) {
	r := NewToolRegistry()
	r.Register(nil)
	if len(r.Names()) != 0 {
		t.Fatalf("expected no tools registered, got %v", r.Names())
	}
}

func TestToolRegistry_Register_OverwriteKeepsOrder(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&policyTestTool{name: "echo", result: "first"})
	r.Register(&policyTestTool{name: "echo", result: "second"})

	if names := r.Names(); len(names) != 1 || names[0] != "echo" {
		t.Fatalf("expected single entry for overwritten name, got %v", names)
	}
	res := r.Execute(context.Background(), "echo", map[string]interface{}{})
	if res.ForLLM != "second" {
		t.Fatalf("expected overwrite to take effect, got %q", res.ForLLM)
	}
}

func TestToolRegistry_Definitions_SortedByName(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&policyTestTool{name: "zeta", result: "z"})
	r.Register(&policyTestTool{name: "alpha", result: "a"})

	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "zeta" {
		t.Fatalf("expected sorted definitions, got %+v", defs)
	}
}

func TestToolRegistry_Policy_Deny(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&policyTestTool{name: "danger", result: "ok"})
	r.SetExecutionPolicy(NewToolExecutionPolicy(true, nil, []string{"danger"}))

	res := r.Execute(context.Background(), "danger", map[string]interface{}{})
	if !res.IsError {
		t.Fatal("expected deny policy to block tool")
	}
	if !strings.Contains(res.ForLLM, "blocked by policy") {
		t.Fatalf("unexpected message: %v", res.ForLLM)
	}
}

func TestToolRegistry_Policy_AllowList(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&policyTestTool{name: "safe", result: "ok"})
	r.Register(&policyTestTool{name: "other", result: "ok"})
	r.SetExecutionPolicy(NewToolExecutionPolicy(true, []string{"safe"}, nil))

	if res := r.Execute(context.Background(), "safe", map[string]interface{}{}); res.IsError {
		t.Fatalf("safe tool should be allowed: %v", res.ForLLM)
	}

	res := r.Execute(context.Background(), "other", map[string]interface{}{})
	if !res.IsError || !strings.Contains(res.ForLLM, "not allowed by policy") {
		t.Fatalf("expected non-allowlisted tool to be blocked, got %+v", res)
	}
}

func TestToolRegistry_Policy_Disabled(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&policyTestTool{name: "danger", result: "ok"})
	r.SetExecutionPolicy(NewToolExecutionPolicy(false, nil, []string{"danger"}))

	res := r.Execute(context.Background(), "danger", map[string]interface{}{})
	if res.IsError {
		t.Fatalf("policy disabled; expected success, got error: %v", res.ForLLM)
	}
}

type contextTestTool struct {
	policyTestTool
	channel, chatID string
}

func (t *contextTestTool) SetContext(channel, chatID string) {
	t.channel, t.chatID = channel, chatID
}

func TestToolRegistry_UpdateContext_PropagatesToContextualTools(t *testing.T) {
	r := NewToolRegistry()
	ct := &contextTestTool{policyTestTool: policyTestTool{name: "ctx", result: "ok"}}
	r.Register(ct)

	r.UpdateContext("telegram", "123")
	if ct.channel != "telegram" || ct.chatID != "123" {
		t.Fatalf("expected context propagated, got channel=%q chatID=%q", ct.channel, ct.chatID)
	}
}
