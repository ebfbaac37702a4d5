package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadFileTool_Execute(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	tool := NewReadFileTool(dir, false)
	res := tool.Execute(context.Background(), map[string]interface{}{"path": path})
	if res.IsError || res.ForLLM != "hello" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestWriteFileTool_CreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "nested", "out.txt")
	tool := NewWriteFileTool(dir, false)

	res := tool.Execute(context.Background(), map[string]interface{}{"path": file, "content": "data"})
	if res.IsError {
		t.Fatalf("unexpected error: %v", res.ForLLM)
	}

	raw, err := os.ReadFile(file)
	if err != nil || string(raw) != "data" {
		t.Fatalf("expected written file, got err=%v content=%q", err, raw)
	}
}

func TestWriteFileTool_RequiresContent(t *testing.T) {
	tool := NewWriteFileTool(t.TempDir(), false)
	res := tool.Execute(context.Background(), map[string]interface{}{"path": "out.txt"})
	if !res.IsError {
		t.Fatal("expected error for missing content")
	}
}

func TestEditFileTool_ReplacesUniqueMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	os.WriteFile(path, []byte("hello world"), 0644)

	tool := NewEditFileTool(dir, true)
	res := tool.Execute(context.Background(), map[string]interface{}{
		"path": path, "old_text": "hello", "new_text": "hi",
	})
	if res.IsError {
		t.Fatalf("unexpected error: %v", res.ForLLM)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "hi world" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestEditFileTool_RestrictRejectsPrefixBypass(t *testing.T) {
	root := t.TempDir()
	allowedDir := filepath.Join(root, "workspace")
	os.MkdirAll(allowedDir, 0755)

	escapeDir := allowedDir + "-escape"
	os.MkdirAll(escapeDir, 0755)
	outsidePath := filepath.Join(escapeDir, "leak.txt")
	os.WriteFile(outsidePath, []byte("secret value"), 0644)

	tool := NewEditFileTool(allowedDir, true)
	res := tool.Execute(context.Background(), map[string]interface{}{
		"path": outsidePath, "old_text": "secret", "new_text": "public",
	})
	if !res.IsError {
		t.Fatal("expected rejection for path outside allowed directory")
	}

	data, _ := os.ReadFile(outsidePath)
	if string(data) != "secret value" {
		t.Fatalf("outside file was modified: %q", data)
	}
}

func TestListDirTool_Execute(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0644)
	os.MkdirAll(filepath.Join(dir, "sub"), 0755)

	tool := NewListDirTool(dir, false)
	res := tool.Execute(context.Background(), map[string]interface{}{"path": dir})
	if res.IsError {
		t.Fatalf("unexpected error: %v", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "a.txt") || !strings.Contains(res.ForLLM, "sub/") {
		t.Fatalf("expected listing to include entries, got %q", res.ForLLM)
	}
}

func TestAppendFileTool_AppendsToExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.txt")
	os.WriteFile(path, []byte("first\n"), 0644)

	tool := NewAppendFileTool(dir, false)
	res := tool.Execute(context.Background(), map[string]interface{}{"path": path, "content": "second\n"})
	if res.IsError {
		t.Fatalf("unexpected error: %v", res.ForLLM)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "first\nsecond\n" {
		t.Fatalf("unexpected content: %q", data)
	}
}
