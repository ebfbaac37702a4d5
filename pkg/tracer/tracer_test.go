package tracer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitForFile(t *testing.T, path string) []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
			return data
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", path)
	return nil
}

func TestTraceAsync_RecordsSuccessSpan(t *testing.T) {
	workspace := t.TempDir()
	tr := New(workspace)

	ctx := NewTrace(context.Background())
	result, err := tr.TraceAsync(ctx, "tools/webfetch.go", "Execute", map[string]string{"url": "https://example.com"},
		func(ctx context.Context) (interface{}, error) {
			return "ok", nil
		}, "WebFetchTool")

	if err != nil {
		t.Fatalf("TraceAsync returned error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("TraceAsync result = %v, want ok", result)
	}

	data := waitForFile(t, filepath.Join(workspace, "traces", "spans.jsonl"))
	if !contains(string(data), `"method":"Execute"`) {
		t.Errorf("span file missing method field: %s", data)
	}
	if !contains(string(data), `"success":true`) {
		t.Errorf("span file missing success:true: %s", data)
	}
}

func TestTraceAsync_RecordsFailureSpan(t *testing.T) {
	workspace := t.TempDir()
	tr := New(workspace)

	ctx := NewTrace(context.Background())
	_, err := tr.TraceAsync(ctx, "tools/fail.go", "Execute", nil, func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error to propagate")
	}

	data := waitForFile(t, filepath.Join(workspace, "traces", "spans.jsonl"))
	if !contains(string(data), `"success":false`) {
		t.Errorf("span file missing success:false: %s", data)
	}
	if !contains(string(data), "boom") {
		t.Errorf("span file missing error message: %s", data)
	}
}

func TestTraceAsync_RedactsSensitiveFields(t *testing.T) {
	workspace := t.TempDir()
	tr := New(workspace)

	ctx := NewTrace(context.Background())
	_, _ = tr.TraceAsync(ctx, "auth/oauth.go", "exchangeCodeForTokens",
		map[string]string{"client_id": "abc", "refresh_token": "super-secret-value"},
		func(ctx context.Context) (interface{}, error) {
			return map[string]string{"access_token": "another-secret"}, nil
		})

	data := waitForFile(t, filepath.Join(workspace, "traces", "spans.jsonl"))
	s := string(data)
	if contains(s, "super-secret-value") || contains(s, "another-secret") {
		t.Errorf("span file leaked a sensitive value: %s", s)
	}
	if !contains(s, "REDACTED") {
		t.Errorf("span file missing redaction marker: %s", s)
	}
}

func TestRecordUsage_AccumulatesPerModel(t *testing.T) {
	tr := New(t.TempDir())

	tr.RecordUsage("claude-sonnet-4-5-20250929", 100, 50)
	tr.RecordUsage("claude-sonnet-4-5-20250929", 200, 100)
	tr.RecordUsage("claude-haiku-3-5-20241022", 10, 5)

	summary := tr.GetSummary()
	if len(summary) != 2 {
		t.Fatalf("expected 2 models in summary, got %d", len(summary))
	}

	var sonnet ModelUsage
	for _, u := range summary {
		if u.Model == "claude-sonnet-4-5-20250929" {
			sonnet = u
		}
	}
	if sonnet.Calls != 2 || sonnet.InputTokens != 300 || sonnet.OutputTokens != 150 {
		t.Errorf("unexpected sonnet usage: %+v", sonnet)
	}
	if sonnet.CostUSD <= 0 {
		t.Errorf("expected positive cost, got %v", sonnet.CostUSD)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
