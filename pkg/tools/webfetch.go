package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// WebFetchTool downloads a URL and returns its body as text, truncated to
// maxBytes so a large page can't blow the conversation's context budget.
type WebFetchTool struct {
	client   *resty.Client
	maxBytes int
}

func NewWebFetchTool(maxBytes int) *WebFetchTool {
	if maxBytes <= 0 {
		maxBytes = 50000
	}
	return &WebFetchTool{
		client:   resty.New().SetTimeout(15 * time.Second),
		maxBytes: maxBytes,
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch the content of a URL and return it as text, truncated to a safe size."
}

func (t *WebFetchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{"type": "string", "description": "URL to fetch"},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	rawURL, _ := args["url"].(string)
	if strings.TrimSpace(rawURL) == "" {
		return ErrorResult("url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return ErrorResult("url must start with http:// or https://")
	}

	resp, err := t.client.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return ErrorResultf("fetching %s: %v", rawURL, err)
	}
	if resp.IsError() {
		return ErrorResultf("fetch returned HTTP %d", resp.StatusCode())
	}

	body := resp.String()
	if len(body) > t.maxBytes {
		body = body[:t.maxBytes] + fmt.Sprintf("\n…[truncated, %d bytes total]", len(resp.Body()))
	}
	return TextResult(body)
}
