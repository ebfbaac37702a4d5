// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package config loads the root Config from environment variables via
// caarlos0/env, the way the rest of this stack expects runtime settings to
// arrive — no config file format of its own, just env vars with sane
// defaults so a bare `picoclaw` invocation works out of the box.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Config is the root configuration for one running agent.
type Config struct {
	Workspace string `env:"PICOCLAW_WORKSPACE" envDefault:"~/.picoclaw"`
	LogLevel  string `env:"PICOCLAW_LOG_LEVEL" envDefault:"info"`

	Providers Providers `envPrefix:"PICOCLAW_"`
	Agents    Agents    `envPrefix:"PICOCLAW_"`
	Tools     Tools     `envPrefix:"PICOCLAW_"`
	Channels  Channels  `envPrefix:"PICOCLAW_"`

	EmailAccounts []EmailAccount  `env:"-"`
	MCPServers    []MCPServerConfig `env:"-"`
}

// Providers holds every LLM backend's credentials. A provider with an empty
// APIKey (and, for Anthropic, no OAuth credential on disk) is simply not
// wired up at startup.
type Providers struct {
	Anthropic  AnthropicProvider  `envPrefix:"ANTHROPIC_"`
	OpenAI     OpenAIProvider     `envPrefix:"OPENAI_"`
	OpenRouter OpenRouterProvider `envPrefix:"OPENROUTER_"`
	Copilot    CopilotProvider    `envPrefix:"COPILOT_"`
}

type AnthropicProvider struct {
	APIKey       string `env:"API_KEY"`
	DefaultModel string `env:"MODEL" envDefault:"claude-sonnet-4-5-20250929"`
	UseOAuth     bool   `env:"USE_OAUTH" envDefault:"false"`
}

type OpenAIProvider struct {
	APIKey       string `env:"API_KEY"`
	DefaultModel string `env:"MODEL" envDefault:"gpt-4o"`
}

type OpenRouterProvider struct {
	APIKey       string `env:"API_KEY"`
	APIBase      string `env:"API_BASE" envDefault:"https://openrouter.ai/api/v1"`
	DefaultModel string `env:"MODEL"`
}

type CopilotProvider struct {
	Token        string `env:"TOKEN"`
	DefaultModel string `env:"MODEL" envDefault:"gpt-4o"`
}

// Agents holds per-agent tuning. Defaults applies to the main agent loop and
// is also the starting point subagents/specialists narrow down from.
type Agents struct {
	Defaults AgentDefaults `envPrefix:"AGENT_"`
}

type AgentDefaults struct {
	Model               string `env:"MODEL" envDefault:"claude-sonnet-4-5-20250929"`
	MaxTokens           int    `env:"MAX_TOKENS" envDefault:"8192"`
	MaxToolIterations   int    `env:"MAX_TOOL_ITERATIONS" envDefault:"25"`
	RestrictToWorkspace bool   `env:"RESTRICT_TO_WORKSPACE" envDefault:"true"`
}

// Tools holds per-tool enablement and credentials.
type Tools struct {
	Web    WebTools    `envPrefix:"WEB_"`
	Moodle MoodleTool  `envPrefix:"MOODLE_"`
	Email  EmailTool   `envPrefix:"EMAIL_"`
	Memory MemoryTools `envPrefix:"MEMORY_"`
}

type WebTools struct {
	Brave      BraveSearch      `envPrefix:"BRAVE_"`
	DuckDuckGo DuckDuckGoSearch `envPrefix:"DUCKDUCKGO_"`
}

type BraveSearch struct {
	Enabled    bool   `env:"ENABLED" envDefault:"false"`
	APIKey     string `env:"API_KEY"`
	MaxResults int    `env:"MAX_RESULTS" envDefault:"5"`
}

type DuckDuckGoSearch struct {
	Enabled    bool `env:"ENABLED" envDefault:"true"`
	MaxResults int  `env:"MAX_RESULTS" envDefault:"5"`
}

type MoodleTool struct {
	Enabled      bool   `env:"ENABLED" envDefault:"false"`
	URL          string `env:"URL"`
	Token        string `env:"TOKEN"`
	M365Username string `env:"M365_USERNAME"`
	M365Password string `env:"M365_PASSWORD"`
}

type EmailTool struct {
	Enabled bool   `env:"ENABLED" envDefault:"false"`
	Address string `env:"ADDRESS"`
}

// EmailAccount is one inbox the email monitor polls. Loaded from the
// workspace's email_accounts.json file rather than a flat env.Parse struct field
// because it's a variable-length list of (label, address) pairs.
type EmailAccount struct {
	Label   string `json:"label"`
	Address string `json:"address"`
}

type MemoryTools struct {
	SemanticSearch   bool   `env:"SEMANTIC_SEARCH" envDefault:"false"`
	KnowledgeExtract bool   `env:"KNOWLEDGE_EXTRACT" envDefault:"false"`
	EmbeddingModel   string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
}

// Channels holds per-channel-adapter settings.
type Channels struct {
	Telegram TelegramChannel `envPrefix:"TELEGRAM_"`
	CLI      CLIChannel      `envPrefix:"CLI_"`
}

type TelegramChannel struct {
	Enabled      bool    `env:"ENABLED" envDefault:"false"`
	BotToken     string  `env:"BOT_TOKEN"`
	AllowedUsers []int64 `env:"ALLOWED_USERS" envSeparator:","`
}

type CLIChannel struct {
	Enabled bool `env:"ENABLED" envDefault:"true"`
}

// MCPServerConfig describes one Model Context Protocol server to launch as
// a subprocess and bridge tools in from.
type MCPServerConfig struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	Enabled bool              `json:"enabled"`
}

// Load reads Config from the environment, applying defaults for anything
// unset, then expands Workspace and loads the JSON side-files that hold
// the variable-length EmailAccounts/MCPServers lists.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	expanded, err := expandHome(cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace path: %w", err)
	}
	cfg.Workspace = expanded

	if err := loadJSONSideFile(filepath.Join(cfg.Workspace, "email_accounts.json"), &cfg.EmailAccounts); err != nil {
		return nil, err
	}
	if err := loadJSONSideFile(filepath.Join(cfg.Workspace, "mcp_servers.json"), &cfg.MCPServers); err != nil {
		return nil, err
	}

	return cfg, nil
}

// WorkspacePath returns the absolute, already-expanded workspace directory.
func (c *Config) WorkspacePath() string {
	return c.Workspace
}

func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}

func loadJSONSideFile(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
