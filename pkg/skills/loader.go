// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package skills discovers and loads skill definitions: self-contained
// SKILL.md files (optional frontmatter plus a body of runnable actions) that
// extend what the agent can do without adding a compiled tool. A skill can
// live in the workspace, a user-global config directory, or ship built in;
// a name present in more than one tier resolves to the most specific one.
package skills

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// SkillInfo holds metadata about one discovered skill.
type SkillInfo struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Description string `json:"description"`
	Actions     []string `json:"actions,omitempty"`
}

// SkillsLoader discovers skills across three directories, workspace-local
// skills taking precedence over global ones, which take precedence over
// builtin ones.
type SkillsLoader struct {
	workspaceDir string
	globalDir    string
	builtinDir   string
}

// NewSkillsLoader creates a loader scanning workspace/skills/, globalDir,
// and builtinDir, in that precedence order.
func NewSkillsLoader(workspace, globalDir, builtinDir string) *SkillsLoader {
	return &SkillsLoader{
		workspaceDir: filepath.Join(workspace, "skills"),
		globalDir:    globalDir,
		builtinDir:   builtinDir,
	}
}

// ListSkills returns every discovered skill, deduplicated by name with
// workspace > global > builtin precedence.
func (sl *SkillsLoader) ListSkills() []SkillInfo {
	seen := make(map[string]bool)
	var result []SkillInfo

	for _, dir := range []string{sl.workspaceDir, sl.globalDir, sl.builtinDir} {
		for _, info := range sl.scanDir(dir) {
			if seen[info.Name] {
				continue
			}
			seen[info.Name] = true
			result = append(result, info)
		}
	}
	return result
}

func (sl *SkillsLoader) scanDir(dir string) []SkillInfo {
	var result []SkillInfo
	if dir == "" {
		return result
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return result
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skillFile := filepath.Join(dir, entry.Name(), "SKILL.md")
		content, err := os.ReadFile(skillFile)
		if err != nil {
			continue
		}

		info := SkillInfo{Name: entry.Name(), Path: skillFile}
		meta := parseSkillMetadata(string(content))
		if meta.Name != "" {
			info.Name = meta.Name
		}
		info.Description = meta.Description
		info.Actions = meta.Actions
		result = append(result, info)
	}
	return result
}

// LoadSkillsForContext returns the concatenated, frontmatter-stripped body
// of every named skill found across the three directories, for injecting
// into a conversation that has asked to use them.
func (sl *SkillsLoader) LoadSkillsForContext(names []string) string {
	if len(names) == 0 {
		return ""
	}

	byName := make(map[string]SkillInfo)
	for _, info := range sl.ListSkills() {
		byName[info.Name] = info
	}

	var parts []string
	for _, name := range names {
		info, ok := byName[name]
		if !ok {
			continue
		}
		content, err := os.ReadFile(info.Path)
		if err != nil {
			continue
		}
		parts = append(parts, "## "+info.Name+"\n\n"+stripSkillFrontmatter(string(content)))
	}
	return strings.Join(parts, "\n\n")
}

// BuildSkillsSummary returns an XML summary of every skill's name,
// description, and available actions for the system prompt.
func (sl *SkillsLoader) BuildSkillsSummary() string {
	all := sl.ListSkills()
	if len(all) == 0 {
		return ""
	}

	var lines []string
	lines = append(lines, "<skills>")
	for _, s := range all {
		lines = append(lines, "  <skill>")
		lines = append(lines, "    <name>"+escapeXML(s.Name)+"</name>")
		lines = append(lines, "    <description>"+escapeXML(s.Description)+"</description>")
		if len(s.Actions) > 0 {
			lines = append(lines, "    <actions>"+escapeXML(strings.Join(s.Actions, ", "))+"</actions>")
		}
		lines = append(lines, "  </skill>")
	}
	lines = append(lines, "</skills>")

	return strings.Join(lines, "\n")
}

type skillMetadata struct {
	Name        string
	Description string
	Actions     []string
}

var skillFrontmatterRe = regexp.MustCompile(`(?s)^---\n(.*?)\n---\n?`)

func parseSkillMetadata(content string) skillMetadata {
	match := skillFrontmatterRe.FindStringSubmatch(content)
	if match == nil {
		return skillMetadata{}
	}

	fm := match[1]

	var jsonMeta struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Actions     []string `json:"actions"`
	}
	if err := json.Unmarshal([]byte(fm), &jsonMeta); err == nil {
		return skillMetadata{Name: jsonMeta.Name, Description: jsonMeta.Description, Actions: jsonMeta.Actions}
	}

	kv := parseSimpleYAML(fm)
	meta := skillMetadata{Name: kv["name"], Description: kv["description"]}
	if raw, ok := kv["actions"]; ok && raw != "" {
		for _, a := range strings.Split(raw, ",") {
			a = strings.TrimSpace(a)
			if a != "" {
				meta.Actions = append(meta.Actions, a)
			}
		}
	}
	return meta
}

func stripSkillFrontmatter(content string) string {
	return skillFrontmatterRe.ReplaceAllString(content, "")
}

func parseSimpleYAML(content string) map[string]string {
	result := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			value = strings.Trim(value, "\"'")
			result[key] = value
		}
	}
	return result
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
