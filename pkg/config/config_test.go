package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, e := range os.Environ() {
		if len(e) > 9 && e[:9] == "PICOCLAW_" {
			key := e[:indexByte(e, '=')]
			os.Unsetenv(key)
		}
	}
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("PICOCLAW_WORKSPACE", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Agents.Defaults.MaxToolIterations != 25 {
		t.Errorf("MaxToolIterations = %d, want 25", cfg.Agents.Defaults.MaxToolIterations)
	}
	if !cfg.Agents.Defaults.RestrictToWorkspace {
		t.Error("RestrictToWorkspace should default true")
	}
	if !cfg.Tools.Web.DuckDuckGo.Enabled {
		t.Error("DuckDuckGo should default enabled")
	}
	if cfg.Tools.Web.Brave.Enabled {
		t.Error("Brave should default disabled without an API key")
	}
}

func TestLoad_ExpandsWorkspaceTilde(t *testing.T) {
	clearEnv(t)
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}
	t.Setenv("PICOCLAW_WORKSPACE", "~/picoclaw-test-workspace")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	want := filepath.Join(home, "picoclaw-test-workspace")
	if cfg.WorkspacePath() != want {
		t.Errorf("WorkspacePath() = %q, want %q", cfg.WorkspacePath(), want)
	}
}

func TestLoad_EmailAccountsSideFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("PICOCLAW_WORKSPACE", dir)

	os.WriteFile(filepath.Join(dir, "email_accounts.json"),
		[]byte(`[{"label":"work","address":"me@example.com"}]`), 0644)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(cfg.EmailAccounts) != 1 || cfg.EmailAccounts[0].Address != "me@example.com" {
		t.Fatalf("unexpected EmailAccounts: %+v", cfg.EmailAccounts)
	}
}

func TestLoad_TelegramAllowedUsersFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PICOCLAW_WORKSPACE", t.TempDir())
	t.Setenv("PICOCLAW_TELEGRAM_ALLOWED_USERS", "111,222,333")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(cfg.Channels.Telegram.AllowedUsers) != 3 || cfg.Channels.Telegram.AllowedUsers[1] != 222 {
		t.Fatalf("unexpected AllowedUsers: %v", cfg.Channels.Telegram.AllowedUsers)
	}
}
