package tracer

import (
	"strings"
	"testing"
)

func TestRedactJSON_RedactsSensitiveKeys(t *testing.T) {
	input := map[string]interface{}{
		"username":      "alice",
		"password":      "hunter2",
		"apiKey":        "sk-123",
		"Authorization": "Bearer xyz",
		"nested": map[string]interface{}{
			"secret_token": "deep-secret",
			"ok":           "fine",
		},
	}

	out := redactJSON(input)
	for _, leaked := range []string{"hunter2", "sk-123", "Bearer xyz", "deep-secret"} {
		if strings.Contains(out, leaked) {
			t.Errorf("redactJSON leaked %q: %s", leaked, out)
		}
	}
	if !strings.Contains(out, "alice") {
		t.Errorf("redactJSON over-redacted non-sensitive field: %s", out)
	}
	if !strings.Contains(out, "fine") {
		t.Errorf("redactJSON over-redacted nested non-sensitive field: %s", out)
	}
}

func TestRedactJSON_TruncatesLargeArrays(t *testing.T) {
	items := make([]int, 150)
	for i := range items {
		items[i] = i
	}

	out := redactJSON(items)
	if !strings.Contains(out, "truncated") {
		t.Errorf("expected truncation marker for 150-element array: %s", out)
	}
}

func TestRedactJSON_CapsRecursionDepth(t *testing.T) {
	// Build a structure 8 levels deep; redaction should stop descending at
	// maxRedactDepth and collapse the remainder instead of recursing forever.
	var deepest interface{} = map[string]interface{}{"leaf": "value"}
	for i := 0; i < 8; i++ {
		deepest = map[string]interface{}{"level": deepest}
	}

	out := redactJSON(deepest)
	if out == "" {
		t.Fatal("expected non-empty redacted output")
	}
}

func TestRedactJSON_BufferPlaceholder(t *testing.T) {
	out := redactJSON([]byte("binary data"))
	if out != `"[buffer]"` {
		t.Errorf("redactJSON([]byte) = %q, want [buffer] placeholder", out)
	}
}

func TestRedactJSON_Nil(t *testing.T) {
	if got := redactJSON(nil); got != "null" {
		t.Errorf("redactJSON(nil) = %q, want null", got)
	}
}
