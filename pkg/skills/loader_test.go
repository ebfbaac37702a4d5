package skills

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSkill(t *testing.T, dir, name, frontmatter, body string) {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	if err := os.MkdirAll(skillDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := body
	if frontmatter != "" {
		content = "---\n" + frontmatter + "\n---\n" + body
	}
	if err := os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(content), 0644); err != nil {
		t.Fatalf("write SKILL.md: %v", err)
	}
}

func TestListSkills_WorkspacePrecedence(t *testing.T) {
	workspace := t.TempDir()
	global := t.TempDir()
	builtin := t.TempDir()

	writeSkill(t, global, "weather", `{"name":"weather","description":"global version"}`, "global body")
	writeSkill(t, filepath.Join(workspace, "skills"), "weather", `{"name":"weather","description":"workspace version"}`, "workspace body")
	writeSkill(t, builtin, "notes", `{"name":"notes","description":"builtin notes"}`, "notes body")

	loader := NewSkillsLoader(workspace, global, builtin)
	all := loader.ListSkills()

	byName := make(map[string]SkillInfo)
	for _, s := range all {
		byName[s.Name] = s
	}

	if len(byName) != 2 {
		t.Fatalf("expected 2 distinct skills, got %d: %+v", len(byName), byName)
	}
	if byName["weather"].Description != "workspace version" {
		t.Errorf("expected workspace skill to take precedence, got %q", byName["weather"].Description)
	}
	if byName["notes"].Description != "builtin notes" {
		t.Errorf("expected builtin-only skill to surface, got %q", byName["notes"].Description)
	}
}

func TestLoadSkillsForContext(t *testing.T) {
	workspace := t.TempDir()
	writeSkill(t, filepath.Join(workspace, "skills"), "weather", `{"name":"weather","description":"checks weather"}`, "Run `weather get <city>`.")

	loader := NewSkillsLoader(workspace, "", "")
	content := loader.LoadSkillsForContext([]string{"weather"})

	if content == "" {
		t.Fatal("expected non-empty skill content")
	}
	if want := "Run `weather get <city>`."; !containsSubstr(content, want) {
		t.Errorf("expected content to contain %q, got %q", want, content)
	}
	if containsSubstr(content, "---") {
		t.Errorf("expected frontmatter stripped, got %q", content)
	}
}

func TestBuildSkillsSummary_EmptyWhenNoSkills(t *testing.T) {
	loader := NewSkillsLoader(t.TempDir(), "", "")
	if got := loader.BuildSkillsSummary(); got != "" {
		t.Errorf("expected empty summary with no skills, got %q", got)
	}
}

func containsSubstr(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
