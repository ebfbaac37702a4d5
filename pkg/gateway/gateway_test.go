package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/corvidae/relay/pkg/providers"
)

type fakeProvider struct {
	name         string
	defaultModel string
	failModels   map[string]bool
	models       []string
	calls        []string
	lastTools    []providers.ToolDefinition
}

func (f *fakeProvider) Chat(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.LLMResponse, error) {
	f.calls = append(f.calls, model)
	f.lastTools = tools
	if f.failModels[model] {
		return nil, errors.New("simulated failure for " + model)
	}
	return &providers.LLMResponse{Content: "ok from " + f.name + "/" + model}, nil
}

func (f *fakeProvider) GetDefaultModel() string { return f.defaultModel }

func (f *fakeProvider) ListModels() []string { return f.models }

func TestChat_ResolvesExplicitProviderPrefix(t *testing.T) {
	g := New("primary", true)
	primary := &fakeProvider{name: "primary", defaultModel: "m1", failModels: map[string]bool{}}
	g.RegisterProvider("primary", primary, []string{"m1"}, 0, nil)

	resp, err := g.Chat(context.Background(), nil, nil, "primary/m1", nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.UsedProvider != "primary" || resp.UsedModel != "m1" {
		t.Errorf("unexpected attribution: %+v", resp)
	}
}

func TestChat_BareModelResolvesByModelsList(t *testing.T) {
	g := New("fallback-provider", true)
	p1 := &fakeProvider{name: "p1", defaultModel: "a"}
	p2 := &fakeProvider{name: "p2", defaultModel: "b"}
	g.RegisterProvider("p1", p1, []string{"x"}, 0, nil)
	g.RegisterProvider("p2", p2, []string{"y"}, 1, nil)

	resp, err := g.Chat(context.Background(), nil, nil, "y", nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.UsedProvider != "p2" {
		t.Errorf("expected resolution to p2, got %q", resp.UsedProvider)
	}
}

func TestChat_SameProviderFallback(t *testing.T) {
	g := New("primary", true)
	primary := &fakeProvider{
		name: "primary", defaultModel: "m1",
		failModels: map[string]bool{"m1": true},
		models:     []string{"m1", "m2"},
	}
	g.RegisterProvider("primary", primary, []string{"m1"}, 0, nil)

	resp, err := g.Chat(context.Background(), nil, nil, "primary/m1", nil)
	if err != nil {
		t.Fatalf("expected same-provider fallback to succeed: %v", err)
	}
	if resp.UsedModel != "m2" {
		t.Errorf("expected fallback model m2, got %q", resp.UsedModel)
	}
}

func TestChat_CrossProviderFallback(t *testing.T) {
	g := New("primary", true)
	primary := &fakeProvider{name: "primary", defaultModel: "m1", failModels: map[string]bool{"m1": true}}
	secondary := &fakeProvider{name: "secondary", defaultModel: "m2"}
	g.RegisterProvider("primary", primary, []string{"m1"}, 0, nil)
	g.RegisterProvider("secondary", secondary, []string{"m2"}, 1, nil)

	resp, err := g.Chat(context.Background(), nil, nil, "primary/m1", nil)
	if err != nil {
		t.Fatalf("expected cross-provider fallback to succeed: %v", err)
	}
	if resp.UsedProvider != "secondary" {
		t.Errorf("expected fallback to secondary, got %q", resp.UsedProvider)
	}
}

func TestChat_AllFailAggregatesErrors(t *testing.T) {
	g := New("primary", true)
	primary := &fakeProvider{name: "primary", defaultModel: "m1", failModels: map[string]bool{"m1": true}}
	secondary := &fakeProvider{name: "secondary", defaultModel: "m2", failModels: map[string]bool{"m2": true}}
	g.RegisterProvider("primary", primary, []string{"m1"}, 0, nil)
	g.RegisterProvider("secondary", secondary, []string{"m2"}, 1, nil)

	_, err := g.Chat(context.Background(), nil, nil, "primary/m1", nil)
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if !contains(err.Error(), "primary/m1") || !contains(err.Error(), "secondary/m2") {
		t.Errorf("expected aggregated error to mention both attempts, got: %v", err)
	}
}

func TestChat_FallbackDisabledFailsImmediately(t *testing.T) {
	g := New("primary", false)
	primary := &fakeProvider{name: "primary", defaultModel: "m1", failModels: map[string]bool{"m1": true}}
	secondary := &fakeProvider{name: "secondary", defaultModel: "m2"}
	g.RegisterProvider("primary", primary, []string{"m1"}, 0, nil)
	g.RegisterProvider("secondary", secondary, []string{"m2"}, 1, nil)

	_, err := g.Chat(context.Background(), nil, nil, "primary/m1", nil)
	if err == nil {
		t.Fatal("expected immediate failure with fallback disabled")
	}
	if len(secondary.calls) != 0 {
		t.Error("secondary should not have been tried with fallback disabled")
	}
}

func TestChat_NeverRetriesSamePairTwice(t *testing.T) {
	g := New("primary", true)
	primary := &fakeProvider{
		name: "primary", defaultModel: "m1",
		failModels: map[string]bool{"m1": true},
		models:     []string{"m1"},
	}
	g.RegisterProvider("primary", primary, []string{"m1"}, 0, nil)

	_, err := g.Chat(context.Background(), nil, nil, "primary/m1", nil)
	if err == nil {
		t.Fatal("expected failure since only m1 is registered and it always fails")
	}
	if len(primary.calls) != 1 {
		t.Errorf("expected exactly 1 call (no self-retry), got %d: %v", len(primary.calls), primary.calls)
	}
}

func TestChat_ToolsSuppressedWhenModelLacksCapability(t *testing.T) {
	g := New("primary", true)
	primary := &fakeProvider{name: "primary", defaultModel: "m1"}
	g.RegisterProvider("primary", primary, []string{"m1"}, 0, map[string]providers.ModelDescriptor{
		"m1": {ID: "m1", Capabilities: providers.ModelCapabilities{Tools: false}},
	})

	tools := []providers.ToolDefinition{{Type: "function", Function: providers.FunctionDefinition{Name: "exec"}}}
	_, err := g.Chat(context.Background(), nil, tools, "primary/m1", nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if len(primary.lastTools) != 0 {
		t.Errorf("expected tools to be withheld from a model without tool support, got %d", len(primary.lastTools))
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
