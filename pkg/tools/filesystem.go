package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// confine resolves path and, when restrict is true, rejects anything
// outside workspace. Confinement compares cleaned absolute paths rather
// than raw string prefixes so "workspace-escape" can't pass a HasPrefix
// check against "workspace".
func confine(workspace, path string, restrict bool) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(workspace, abs)
	}
	abs = filepath.Clean(abs)
	if !restrict {
		return abs, nil
	}
	root := filepath.Clean(workspace)
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside allowed directory %q", path, root)
	}
	return abs, nil
}

// ---------------------------------------------------------------------------
// ReadFileTool
// ---------------------------------------------------------------------------

type ReadFileTool struct {
	workspace string
	restrict  bool
}

func NewReadFileTool(workspace string, restrict bool) *ReadFileTool {
	return &ReadFileTool{workspace: workspace, restrict: restrict}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a text file."
}

func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string", "description": "Path to the file, relative to the workspace or absolute"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	path, _ := args["path"].(string)
	abs, err := confine(t.workspace, path, t.restrict)
	if err != nil {
		return ErrorResult(err.Error())
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return ErrorResultf("reading %s: %v", path, err)
	}
	return TextResult(string(data))
}

// ---------------------------------------------------------------------------
// WriteFileTool
// ---------------------------------------------------------------------------

type WriteFileTool struct {
	workspace string
	restrict  bool
}

func NewWriteFileTool(workspace string, restrict bool) *WriteFileTool {
	return &WriteFileTool{workspace: workspace, restrict: restrict}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file, creating it (and parent directories) if necessary, overwriting any existing content."
}

func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    map[string]interface{}{"type": "string", "description": "Path to the file"},
			"content": map[string]interface{}{"type": "string", "description": "Content to write"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	path, _ := args["path"].(string)
	content, hasContent := args["content"].(string)
	if !hasContent {
		return ErrorResult("content is required")
	}
	abs, err := confine(t.workspace, path, t.restrict)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return ErrorResultf("creating directories for %s: %v", path, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return ErrorResultf("writing %s: %v", path, err)
	}
	return TextResult("File written successfully")
}

// ---------------------------------------------------------------------------
// AppendFileTool
// ---------------------------------------------------------------------------

type AppendFileTool struct {
	workspace string
	restrict  bool
}

func NewAppendFileTool(workspace string, restrict bool) *AppendFileTool {
	return &AppendFileTool{workspace: workspace, restrict: restrict}
}

func (t *AppendFileTool) Name() string { return "append_file" }

func (t *AppendFileTool) Description() string {
	return "Append content to the end of a file, creating it if it doesn't exist."
}

func (t *AppendFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    map[string]interface{}{"type": "string", "description": "Path to the file"},
			"content": map[string]interface{}{"type": "string", "description": "Content to append"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *AppendFileTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	path, _ := args["path"].(string)
	content, hasContent := args["content"].(string)
	if !hasContent {
		return ErrorResult("content is required")
	}
	abs, err := confine(t.workspace, path, t.restrict)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return ErrorResultf("creating directories for %s: %v", path, err)
	}
	f, err := os.OpenFile(abs, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return ErrorResultf("opening %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return ErrorResultf("appending to %s: %v", path, err)
	}
	return TextResult("Content appended successfully")
}

// ---------------------------------------------------------------------------
// EditFileTool
// ---------------------------------------------------------------------------

type EditFileTool struct {
	workspace string
	restrict  bool
}

func NewEditFileTool(workspace string, restrict bool) *EditFileTool {
	return &EditFileTool{workspace: workspace, restrict: restrict}
}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Replace the first occurrence of old_text with new_text in a file. old_text must match exactly once."
}

func (t *EditFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":     map[string]interface{}{"type": "string", "description": "Path to the file"},
			"old_text": map[string]interface{}{"type": "string", "description": "Exact text to replace"},
			"new_text": map[string]interface{}{"type": "string", "description": "Replacement text"},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	path, _ := args["path"].(string)
	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)
	if oldText == "" {
		return ErrorResult("old_text is required")
	}
	abs, err := confine(t.workspace, path, t.restrict)
	if err != nil {
		return ErrorResult(err.Error())
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return ErrorResultf("reading %s: %v", path, err)
	}
	content := string(data)
	count := strings.Count(content, oldText)
	if count == 0 {
		return ErrorResult("old_text not found in file")
	}
	if count > 1 {
		return ErrorResultf("old_text matches %d times, must match exactly once", count)
	}
	updated := strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(abs, []byte(updated), 0644); err != nil {
		return ErrorResultf("writing %s: %v", path, err)
	}
	return TextResult("File edited successfully")
}

// ---------------------------------------------------------------------------
// ListDirTool
// ---------------------------------------------------------------------------

type ListDirTool struct {
	workspace string
	restrict  bool
}

func NewListDirTool(workspace string, restrict bool) *ListDirTool {
	return &ListDirTool{workspace: workspace, restrict: restrict}
}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Description() string {
	return "List the contents of a directory."
}

func (t *ListDirTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string", "description": "Directory to list, relative to the workspace or absolute. Defaults to the workspace root."},
		},
	}
}

func (t *ListDirTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	abs, err := confine(t.workspace, path, t.restrict)
	if err != nil {
		return ErrorResult(err.Error())
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return ErrorResultf("listing %s: %v", path, err)
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		suffix := ""
		if e.IsDir() {
			suffix = "/"
		}
		info, err := e.Info()
		size := ""
		if err == nil && !e.IsDir() {
			size = " (" + strconv.FormatInt(info.Size(), 10) + " bytes)"
		}
		lines = append(lines, e.Name()+suffix+size)
	}
	if len(lines) == 0 {
		return TextResult("(empty directory)")
	}
	return TextResult(strings.Join(lines, "\n"))
}
