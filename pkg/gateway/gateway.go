// Package gateway implements the LLM Gateway (C6): a provider registry that
// resolves a model id to a concrete Provider Adapter and retries across
// models and providers on failure, grounded on the Provider Adapter's own
// two-tier fallback idiom but generalized to an arbitrary number of
// registered providers (§4.6).
package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/corvidae/relay/pkg/logger"
	"github.com/corvidae/relay/pkg/providers"
)

// ProviderEntry is one registered backend: its adapter, the model ids it
// claims to serve, and its position in the cross-provider fallback order.
type ProviderEntry struct {
	Name        string
	Adapter     providers.LLMProvider
	Models      []string // may include "*" to mean "any model id"
	Priority    int      // ascending order = tried first during fallback
	Descriptors map[string]providers.ModelDescriptor
}

func (e ProviderEntry) servesModel(modelID string) bool {
	for _, m := range e.Models {
		if m == "*" || m == modelID {
			return true
		}
	}
	return false
}

// Gateway maintains the provider-name -> ProviderEntry map and implements
// chat's fallback procedure (§4.6).
type Gateway struct {
	mu              sync.RWMutex
	entries         map[string]*ProviderEntry
	defaultProvider string
	fallbackEnabled bool
}

// New creates an empty Gateway. defaultProvider is used when a bare model
// id (no "provider/" prefix) matches no registered provider's model list.
func New(defaultProvider string, fallbackEnabled bool) *Gateway {
	return &Gateway{
		entries:         make(map[string]*ProviderEntry),
		defaultProvider: defaultProvider,
		fallbackEnabled: fallbackEnabled,
	}
}

// GetDefaultModel returns defaultProvider's own default model, so a Gateway
// can stand in for a single providers.LLMProvider wherever the agent loop
// only needs one.
func (g *Gateway) GetDefaultModel() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entry, ok := g.entries[g.defaultProvider]
	if !ok {
		return ""
	}
	return entry.Adapter.GetDefaultModel()
}

// ListModels aggregates ListModels() across every registered adapter that
// implements providers.ModelLister, so a Gateway can stand in for a single
// providers.ModelLister wherever the agent loop routes across models without
// caring which concrete provider serves each one.
func (g *Gateway) ListModels() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, entry := range g.entries {
		lister, ok := entry.Adapter.(providers.ModelLister)
		if !ok {
			continue
		}
		for _, id := range lister.ListModels() {
			if id == "*" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// GetModelCapabilities looks up modelID's descriptor on whichever registered
// adapter implements providers.CapabilityProvider and reports it.
func (g *Gateway) GetModelCapabilities(modelID string) providers.ModelDescriptor {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, entry := range g.entries {
		capper, ok := entry.Adapter.(providers.CapabilityProvider)
		if !ok {
			continue
		}
		if desc := capper.GetModelCapabilities(modelID); desc.ID == modelID {
			return desc
		}
	}
	return providers.ModelDescriptor{ID: modelID}
}

// RegisterProvider inserts or replaces a provider entry.
func (g *Gateway) RegisterProvider(name string, adapter providers.LLMProvider, models []string, priority int, descriptors map[string]providers.ModelDescriptor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries[name] = &ProviderEntry{
		Name: name, Adapter: adapter, Models: models, Priority: priority, Descriptors: descriptors,
	}
}

// parseModel splits "provider/modelId" into its parts; if model carries no
// "/" it is returned as (bare-model, "").
func parseModel(model string) (provider, modelID string) {
	if i := strings.IndexByte(model, '/'); i >= 0 {
		return model[:i], model[i+1:]
	}
	return "", model
}

// resolve picks the ProviderEntry + modelId for a model string: an explicit
// "provider/modelId" pins the provider; otherwise the first registered
// provider (in ascending priority order; the order among providers with
// equal priority is not defined) whose models list contains
// the id or "*" wins, falling back to defaultProvider.
func (g *Gateway) resolve(model string) (*ProviderEntry, string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	provider, modelID := parseModel(model)
	if provider != "" {
		entry, ok := g.entries[provider]
		if !ok {
			return nil, "", fmt.Errorf("unknown provider %q", provider)
		}
		return entry, modelID, nil
	}

	for _, entry := range g.orderedEntriesLocked() {
		if entry.servesModel(modelID) {
			return entry, modelID, nil
		}
	}

	if entry, ok := g.entries[g.defaultProvider]; ok {
		return entry, modelID, nil
	}
	return nil, "", fmt.Errorf("no provider registered for model %q", model)
}

func (g *Gateway) orderedEntriesLocked() []*ProviderEntry {
	out := make([]*ProviderEntry, 0, len(g.entries))
	for _, e := range g.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

type attemptFailure struct {
	provider string
	model    string
	reason   string
}

// Chat implements §4.6's procedure: resolve the (provider, model) pair,
// call it, and on failure — if fallback is enabled — retry other models on
// the same provider, then other providers in ascending priority order,
// never retrying the same (provider, model) pair twice.
func (g *Gateway) Chat(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, genConfig map[string]interface{}) (*providers.LLMResponse, error) {
	entry, modelID, err := g.resolve(model)
	if err != nil {
		return nil, err
	}

	tried := make(map[string]bool)
	var failures []attemptFailure

	resp, err := g.callWithCapabilities(ctx, entry, modelID, messages, tools, genConfig)
	tried[entry.Name+"/"+modelID] = true
	if err == nil {
		return g.annotate(resp, entry, modelID), nil
	}
	failures = append(failures, attemptFailure{entry.Name, modelID, err.Error()})

	if !g.fallbackEnabled {
		return nil, fmt.Errorf("%s/%s: %w", entry.Name, modelID, err)
	}

	if lister, ok := entry.Adapter.(providers.ModelLister); ok {
		for _, altModel := range candidateModels(entry, lister) {
			key := entry.Name + "/" + altModel
			if tried[key] {
				continue
			}
			tried[key] = true
			resp, err := g.callWithCapabilities(ctx, entry, altModel, messages, tools, genConfig)
			if err == nil {
				logger.InfoCF("gateway", "same-provider fallback succeeded", map[string]interface{}{
					"provider": entry.Name, "model": altModel,
				})
				return g.annotate(resp, entry, altModel), nil
			}
			failures = append(failures, attemptFailure{entry.Name, altModel, err.Error()})
		}
	}

	g.mu.RLock()
	remaining := g.orderedEntriesLocked()
	g.mu.RUnlock()

	for _, other := range remaining {
		if other.Name == entry.Name {
			continue
		}
		altModel := other.Adapter.GetDefaultModel()
		key := other.Name + "/" + altModel
		if tried[key] {
			continue
		}
		tried[key] = true
		resp, err := g.callWithCapabilities(ctx, other, altModel, messages, tools, genConfig)
		if err == nil {
			logger.InfoCF("gateway", "cross-provider fallback succeeded", map[string]interface{}{
				"provider": other.Name, "model": altModel,
			})
			return g.annotate(resp, other, altModel), nil
		}
		failures = append(failures, attemptFailure{other.Name, altModel, err.Error()})
	}

	return nil, aggregateError(failures)
}

// candidateModels merges the entry's statically registered models with
// whatever the adapter's ListModels() reports, excluding the wildcard.
func candidateModels(entry *ProviderEntry, lister providers.ModelLister) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(m string) {
		if m == "*" || seen[m] {
			return
		}
		seen[m] = true
		out = append(out, m)
	}
	for _, m := range entry.Models {
		add(m)
	}
	for _, m := range lister.ListModels() {
		add(m)
	}
	return out
}

// callWithCapabilities forwards tools unless the resolved model has a
// descriptor that says it lacks tool support, per §4.5; a model with no
// descriptor gets the tools.
func (g *Gateway) callWithCapabilities(ctx context.Context, entry *ProviderEntry, modelID string, messages []providers.Message, tools []providers.ToolDefinition, genConfig map[string]interface{}) (*providers.LLMResponse, error) {
	effectiveTools := tools
	if len(tools) > 0 {
		if desc, ok := entry.Descriptors[modelID]; ok && !desc.Capabilities.Tools {
			effectiveTools = nil
		}
	}
	return entry.Adapter.Chat(ctx, messages, effectiveTools, modelID, genConfig)
}

func (g *Gateway) annotate(resp *providers.LLMResponse, entry *ProviderEntry, modelID string) *providers.LLMResponse {
	resp.UsedProvider = entry.Name
	resp.UsedModel = modelID
	return resp
}

func aggregateError(failures []attemptFailure) error {
	if len(failures) == 0 {
		return fmt.Errorf("no provider available")
	}
	var sb strings.Builder
	sb.WriteString("all providers failed: ")
	for i, f := range failures {
		if i > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%s/%s: %s", f.provider, f.model, f.reason)
	}
	return fmt.Errorf("%s", sb.String())
}
