package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// denyPatterns block commands that could destroy the host or the machine
// it runs on, regardless of any configured allowlist.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-\w*r\w*f|-\w*f\w*r|-rf|-fr)\b`),
	regexp.MustCompile(`\brm\s+-\w*f\b`),
	regexp.MustCompile(`\brm\s+-\w*r\b`),
	regexp.MustCompile(`\bdel\s+/f\b`),
	regexp.MustCompile(`\bdel\s+/q\b`),
	regexp.MustCompile(`\brmdir\s+/s\b`),
	regexp.MustCompile(`\bformat\s`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`\bdiskpart\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
	regexp.MustCompile(`\bshutdown\b`),
	regexp.MustCompile(`\breboot\b`),
	regexp.MustCompile(`\bpoweroff\b`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`),
}

// ExecTool runs shell commands, guarded by a deny list, an optional
// allowlist, and optional workspace confinement.
type ExecTool struct {
	workspace  string
	restrict   bool
	allowPats  []*regexp.Regexp
	workspaceOnly bool
	timeout    time.Duration
}

func NewExecTool(workspace string, restrict bool) *ExecTool {
	return &ExecTool{workspace: workspace, restrict: restrict, timeout: 60 * time.Second}
}

// SetAllowPatterns restricts execution to commands matching at least one of
// the given regexes. Deny patterns are still checked first and always win.
func (t *ExecTool) SetAllowPatterns(patterns []string) error {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("invalid allow pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	t.allowPats = compiled
	return nil
}

// SetRestrictToWorkspace additionally rejects commands that look like they
// reference paths outside the workspace via ".." traversal.
func (t *ExecTool) SetRestrictToWorkspace(v bool) {
	t.workspaceOnly = v
}

func (t *ExecTool) Name() string { return "exec" }

func (t *ExecTool) Description() string {
	return "Execute a shell command and return its combined stdout/stderr. Destructive commands (rm -rf, disk formatting, shutdown, fork bombs, etc.) are blocked."
}

func (t *ExecTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{"type": "string", "description": "Shell command to run"},
		},
		"required": []string{"command"},
	}
}

// guardCommand returns a non-empty reason the command is blocked, or "" if
// it's allowed to run.
func (t *ExecTool) guardCommand(command, cwd string) string {
	for _, re := range denyPatterns {
		if re.MatchString(command) {
			return fmt.Sprintf("command matches dangerous pattern: %s", re.String())
		}
	}

	if t.workspaceOnly && (strings.Contains(command, "..") ) {
		return "command references a path outside the workspace"
	}

	if len(t.allowPats) > 0 {
		for _, re := range t.allowPats {
			if re.MatchString(command) {
				return ""
			}
		}
		return "command is not in allowlist"
	}

	return ""
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return ErrorResult("command is required")
	}

	if reason := t.guardCommand(command, t.workspace); reason != "" {
		return TextResult("Error: " + reason)
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	if t.workspace != "" {
		cmd.Dir = t.workspace
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return TextResult(fmt.Sprintf("Error: %v\n%s", err, out.String()))
	}
	return TextResult(out.String())
}
