package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// WebSearchToolOptions configures which backends WebSearchTool queries.
type WebSearchToolOptions struct {
	BraveAPIKey          string
	BraveMaxResults      int
	BraveEnabled         bool
	DuckDuckGoMaxResults int
	DuckDuckGoEnabled    bool
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

type braveResponse struct {
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
}

type duckDuckGoResponse struct {
	AbstractText string `json:"AbstractText"`
	AbstractURL  string `json:"AbstractURL"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

// WebSearchTool queries Brave Search (when an API key is configured) and
// falls back to DuckDuckGo's zero-click instant-answer API otherwise.
type WebSearchTool struct {
	client               *resty.Client
	braveAPIKey          string
	braveMaxResults      int
	braveEnabled         bool
	duckDuckGoMaxResults int
	duckDuckGoEnabled    bool
}

// NewWebSearchTool returns nil when neither backend is enabled, so callers
// can register it unconditionally without a nil-guard.
func NewWebSearchTool(opts WebSearchToolOptions) *WebSearchTool {
	if !opts.BraveEnabled && !opts.DuckDuckGoEnabled {
		return nil
	}
	braveMax := opts.BraveMaxResults
	if braveMax <= 0 {
		braveMax = 5
	}
	ddgMax := opts.DuckDuckGoMaxResults
	if ddgMax <= 0 {
		ddgMax = 5
	}
	return &WebSearchTool{
		client:               resty.New().SetTimeout(10 * time.Second),
		braveAPIKey:          opts.BraveAPIKey,
		braveMaxResults:      braveMax,
		braveEnabled:         opts.BraveEnabled && opts.BraveAPIKey != "",
		duckDuckGoMaxResults: ddgMax,
		duckDuckGoEnabled:    opts.DuckDuckGoEnabled,
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web for current information. Returns titles, URLs, and snippets."
}

func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "Search query"},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return ErrorResult("query is required")
	}

	if t.braveEnabled {
		if out, err := t.searchBrave(ctx, query); err == nil {
			return SilentResult(out)
		}
	}
	if t.duckDuckGoEnabled {
		if out, err := t.searchDuckDuckGo(ctx, query); err == nil {
			return SilentResult(out)
		}
	}
	return ErrorResult("web search is not available: no backend succeeded")
}

func (t *WebSearchTool) searchBrave(ctx context.Context, query string) (string, error) {
	var result braveResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("X-Subscription-Token", t.braveAPIKey).
		SetHeader("Accept", "application/json").
		SetQueryParams(map[string]string{
			"q":     query,
			"count": fmt.Sprintf("%d", t.braveMaxResults),
		}).
		SetResult(&result).
		Get("https://api.search.brave.com/res/v1/web/search")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("brave search returned %s", resp.Status())
	}

	var lines []string
	for i, r := range result.Web.Results {
		if i >= t.braveMaxResults {
			break
		}
		lines = append(lines, fmt.Sprintf("%d. %s\n%s\n%s", i+1, r.Title, r.URL, r.Description))
	}
	if len(lines) == 0 {
		return "No results found.", nil
	}
	return strings.Join(lines, "\n\n"), nil
}

func (t *WebSearchTool) searchDuckDuckGo(ctx context.Context, query string) (string, error) {
	var result duckDuckGoResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":           query,
			"format":      "json",
			"no_html":     "1",
			"skip_disambig": "1",
		}).
		SetResult(&result).
		Get("https://api.duckduckgo.com/")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("duckduckgo search returned %s", resp.Status())
	}

	var lines []string
	if result.AbstractText != "" {
		lines = append(lines, fmt.Sprintf("%s\n%s", result.AbstractText, result.AbstractURL))
	}
	for i, rt := range result.RelatedTopics {
		if len(lines) >= t.duckDuckGoMaxResults {
			break
		}
		if rt.Text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%d. %s\n%s", i+1, rt.Text, rt.FirstURL))
	}
	if len(lines) == 0 {
		return "No results found.", nil
	}
	return strings.Join(lines, "\n\n"), nil
}
