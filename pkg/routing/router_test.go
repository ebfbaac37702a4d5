package routing

import (
	"testing"

	"github.com/corvidae/relay/pkg/bus"
	"github.com/corvidae/relay/pkg/providers"
)

func textMessages(texts ...string) []providers.Message {
	out := make([]providers.Message, len(texts))
	for i, t := range texts {
		out[i] = providers.Message{Role: "user", Content: t}
	}
	return out
}

func TestSelectModel_PrefersExactLevelMatch(t *testing.T) {
	r := New(DefaultConfig())
	candidates := []Candidate{
		{ProviderName: "p1", Model: providers.ModelDescriptor{ID: "fast-model", Level: "fast"}},
		{ProviderName: "p1", Model: providers.ModelDescriptor{ID: "medium-model", Level: "medium"}},
	}

	chosen, err := r.SelectModel(textMessages("hi"), false, candidates)
	if err != nil {
		t.Fatalf("SelectModel failed: %v", err)
	}
	if chosen.Model.ID != "fast-model" {
		t.Errorf("expected fast-model for a short message, got %q", chosen.Model.ID)
	}
}

func TestSelectModel_MaxModeForcesUltra(t *testing.T) {
	r := New(DefaultConfig())
	candidates := []Candidate{
		{ProviderName: "p1", Model: providers.ModelDescriptor{ID: "fast-model", Level: "fast"}},
		{ProviderName: "p1", Model: providers.ModelDescriptor{ID: "ultra-model", Level: "ultra"}},
	}

	chosen, err := r.SelectModel(textMessages("hi"), true, candidates)
	if err != nil {
		t.Fatalf("SelectModel failed: %v", err)
	}
	if chosen.Model.ID != "ultra-model" {
		t.Errorf("expected ultra-model in max mode, got %q", chosen.Model.ID)
	}
}

func TestSelectModel_VisionRestrictsCandidates(t *testing.T) {
	r := New(DefaultConfig())
	candidates := []Candidate{
		{ProviderName: "p1", Model: providers.ModelDescriptor{ID: "text-only", Level: "fast", Capabilities: providers.ModelCapabilities{Vision: false}}},
		{ProviderName: "p1", Model: providers.ModelDescriptor{ID: "vision-model", Level: "fast", Capabilities: providers.ModelCapabilities{Vision: true}}},
	}

	messages := []providers.Message{
		{Role: "user", ContentParts: []bus.ContentPart{{Type: "image", Data: "..."}}},
	}

	chosen, err := r.SelectModel(messages, false, candidates)
	if err != nil {
		t.Fatalf("SelectModel failed: %v", err)
	}
	if chosen.Model.ID != "vision-model" {
		t.Errorf("expected vision-model when an image part is present, got %q", chosen.Model.ID)
	}
}

func TestSelectModel_ToolKeywordRestrictsToToolCapable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ToolKeywords = []string{"run the command"}
	r := New(cfg)

	candidates := []Candidate{
		{ProviderName: "p1", Model: providers.ModelDescriptor{ID: "no-tools", Level: "fast", Capabilities: providers.ModelCapabilities{Tools: false}}},
		{ProviderName: "p1", Model: providers.ModelDescriptor{ID: "tool-model", Level: "fast", Capabilities: providers.ModelCapabilities{Tools: true}}},
	}

	chosen, err := r.SelectModel(textMessages("please run the command ls -la"), false, candidates)
	if err != nil {
		t.Fatalf("SelectModel failed: %v", err)
	}
	if chosen.Model.ID != "tool-model" {
		t.Errorf("expected tool-model, got %q", chosen.Model.ID)
	}
}

func TestSelectModel_KeywordRuleOverridesScore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeywordRules = []KeywordRule{
		{Keywords: []string{"urgent"}, TargetLevel: LevelHigh, Priority: 10},
	}
	r := New(cfg)

	candidates := []Candidate{
		{ProviderName: "p1", Model: providers.ModelDescriptor{ID: "fast-model", Level: "fast"}},
		{ProviderName: "p1", Model: providers.ModelDescriptor{ID: "high-model", Level: "high"}},
	}

	chosen, err := r.SelectModel(textMessages("urgent: fix prod now"), false, candidates)
	if err != nil {
		t.Fatalf("SelectModel failed: %v", err)
	}
	if chosen.Model.ID != "high-model" {
		t.Errorf("expected keyword rule to force high-model, got %q", chosen.Model.ID)
	}
}

func TestSelectModel_TieBreakByProviderPriorityThenModelID(t *testing.T) {
	r := New(DefaultConfig())
	candidates := []Candidate{
		{ProviderName: "p2", ProviderPriority: 1, Model: providers.ModelDescriptor{ID: "b-model", Level: "fast"}},
		{ProviderName: "p1", ProviderPriority: 0, Model: providers.ModelDescriptor{ID: "a-model", Level: "fast"}},
	}

	chosen, err := r.SelectModel(textMessages("hi"), false, candidates)
	if err != nil {
		t.Fatalf("SelectModel failed: %v", err)
	}
	if chosen.ProviderName != "p1" {
		t.Errorf("expected lower-priority provider to win tie, got %q", chosen.ProviderName)
	}
}

func TestSelectModel_NoCandidatesErrors(t *testing.T) {
	r := New(DefaultConfig())
	if _, err := r.SelectModel(textMessages("hi"), false, nil); err == nil {
		t.Error("expected error with no candidates")
	}
}

func TestSelectModel_ClosestLevelWhenNoExactMatch(t *testing.T) {
	r := New(DefaultConfig())
	longMessage := ""
	for i := 0; i < 50; i++ {
		longMessage += "this is a long and complex message about distributed systems architecture. "
	}
	candidates := []Candidate{
		{ProviderName: "p1", Model: providers.ModelDescriptor{ID: "fast-model", Level: "fast"}},
		{ProviderName: "p1", Model: providers.ModelDescriptor{ID: "low-model", Level: "low"}},
	}

	chosen, err := r.SelectModel(textMessages(longMessage), false, candidates)
	if err != nil {
		t.Fatalf("SelectModel failed: %v", err)
	}
	if chosen.Model.ID != "low-model" {
		t.Errorf("expected low-model as the closest available tier, got %q", chosen.Model.ID)
	}
}
