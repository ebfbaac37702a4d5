package tools

import (
	"context"
	"strings"
	"testing"
)

func TestGuardCommand_DenyPatterns(t *testing.T) {
	tool := NewExecTool(t.TempDir(), false)

	blocked := []string{
		"rm -rf /",
		"rm -f important.txt",
		"rm -r mydir",
		"del /f somefile",
		"rmdir /s somedir",
		"format C:",
		"mkfs ext4 /dev/sda1",
		"diskpart /s script.txt",
		"dd if=/dev/zero of=/dev/sda",
		"echo bad > /dev/sda",
		"shutdown -h now",
		"reboot",
		"poweroff",
		":() { :|:& }; :",
	}

	for _, cmd := range blocked {
		if reason := tool.guardCommand(cmd, t.TempDir()); reason == "" {
			t.Errorf("expected command %q to be blocked", cmd)
		}
	}
}

func TestGuardCommand_SafeCommands(t *testing.T) {
	tool := NewExecTool(t.TempDir(), false)

	allowed := []string{
		"ls -la", "cat file.txt", "echo hello", "grep -r pattern .",
		"go build ./...", "go test ./...", "git status", "mkdir newdir",
		"rm file.txt", "cp a.txt b.txt", "mv a.txt b.txt",
		"echo test > /dev/null", "python3 script.py", "curl https://example.com",
	}

	for _, cmd := range allowed {
		if reason := tool.guardCommand(cmd, t.TempDir()); reason != "" {
			t.Errorf("expected command %q to be allowed, got %q", cmd, reason)
		}
	}
}

func TestGuardCommand_AllowPatterns(t *testing.T) {
	tool := NewExecTool(t.TempDir(), false)
	if err := tool.SetAllowPatterns([]string{`^git\s`, `^go\s`}); err != nil {
		t.Fatalf("SetAllowPatterns failed: %v", err)
	}

	if reason := tool.guardCommand("git status", t.TempDir()); reason != "" {
		t.Errorf("expected 'git status' to be allowed, got %q", reason)
	}
	if reason := tool.guardCommand("ls -la", t.TempDir()); reason == "" {
		t.Error("expected 'ls -la' to be blocked by allowlist")
	} else if !strings.Contains(reason, "not in allowlist") {
		t.Errorf("unexpected reason: %q", reason)
	}
	if reason := tool.guardCommand("rm -rf /", t.TempDir()); reason == "" {
		t.Error("expected deny pattern to win over allowlist")
	}
}

func TestGuardCommand_RestrictToWorkspace(t *testing.T) {
	dir := t.TempDir()
	tool := NewExecTool(dir, false)
	tool.SetRestrictToWorkspace(true)

	if reason := tool.guardCommand("cat ../../../etc/passwd", dir); reason == "" {
		t.Error("expected path traversal to be blocked")
	}
	if reason := tool.guardCommand("cat file.txt", dir); reason != "" {
		t.Errorf("expected workspace-local command to be allowed, got %q", reason)
	}
}

func TestExecTool_Execute(t *testing.T) {
	tool := NewExecTool(t.TempDir(), false)

	res := tool.Execute(context.Background(), map[string]interface{}{"command": "echo hello"})
	if res.IsError || !strings.Contains(res.ForLLM, "hello") {
		t.Fatalf("expected 'hello' in output, got %+v", res)
	}

	blocked := tool.Execute(context.Background(), map[string]interface{}{"command": "rm -rf /"})
	if !strings.Contains(blocked.ForLLM, "Error:") {
		t.Errorf("expected Error: prefix in result, got %q", blocked.ForLLM)
	}

	missing := tool.Execute(context.Background(), map[string]interface{}{})
	if !missing.IsError {
		t.Error("expected error for missing command")
	}
}

func TestSetAllowPatterns_InvalidRegex(t *testing.T) {
	tool := NewExecTool(t.TempDir(), false)
	if err := tool.SetAllowPatterns([]string{`[invalid`}); err == nil {
		t.Error("expected error for invalid regex pattern")
	}
}
