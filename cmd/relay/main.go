// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Command relay starts one running agent: it loads Config, wires whichever
// LLM provider has credentials, brings up the channel gateway, and runs the
// agent loop until an interrupt signal asks it to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/corvidae/relay/pkg/agent"
	"github.com/corvidae/relay/pkg/auth"
	"github.com/corvidae/relay/pkg/bus"
	"github.com/corvidae/relay/pkg/channels"
	"github.com/corvidae/relay/pkg/config"
	"github.com/corvidae/relay/pkg/email"
	"github.com/corvidae/relay/pkg/gateway"
	"github.com/corvidae/relay/pkg/logger"
	"github.com/corvidae/relay/pkg/mcp"
	"github.com/corvidae/relay/pkg/providers"
	"github.com/corvidae/relay/pkg/tools"
	"github.com/corvidae/relay/pkg/tracer"
)

const emailCheckIntervalMinutes = 10

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	jsonLogs := flag.Bool("json-logs", false, "emit structured JSON logs instead of the console writer")
	flag.Parse()

	if err := run(cfg, *jsonLogs); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, jsonLogs bool) error {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger.Configure(level, jsonLogs, os.Stderr)
	logger.InfoCF("main", "starting", map[string]interface{}{"workspace": cfg.WorkspacePath()})

	provider, err := buildProvider(cfg)
	if err != nil {
		return fmt.Errorf("selecting provider: %w", err)
	}

	msgBus := bus.NewMessageBus()
	agentLoop := agent.NewAgentLoop(cfg, msgBus, provider)
	agentLoop.SetTracer(tracer.New(cfg.WorkspacePath()))

	mcpManager := mcp.NewMCPManager()
	mcpManager.StartFromConfig(cfg.MCPServers)
	defer mcpManager.StopAll()
	for _, entry := range mcpManager.DiscoverMCPTools() {
		agentLoop.RegisterTool(mcp.NewMCPBridgeTool(mcpManager, entry.Server, entry.Tool))
	}

	channelManager := channels.NewManager(msgBus)
	if cfg.Channels.CLI.Enabled {
		channelManager.Register(channels.NewCLIChannel(cfg.WorkspacePath()))
	}
	if cfg.Channels.Telegram.Enabled {
		tg, err := channels.NewTelegramChannel(cfg.Channels.Telegram.BotToken, cfg.Channels.Telegram.AllowedUsers)
		if err != nil {
			return fmt.Errorf("starting telegram channel: %w", err)
		}
		channelManager.Register(tg)
		agentLoop.RegisterTool(tools.NewManageTelegramTool(tg.Bot()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := channelManager.Start(ctx); err != nil {
		logger.WarnCF("main", "one or more channels failed to start", map[string]interface{}{"error": err.Error()})
	}

	go bridgeOutbound(ctx, msgBus, channelManager)

	var emailMonitor *email.EmailMonitor
	if cfg.Tools.Email.Enabled && len(cfg.EmailAccounts) > 0 {
		emailMonitor = email.NewEmailMonitor(cfg.EmailAccounts, provider, cfg.Agents.Defaults.Model,
			cfg.WorkspacePath(), msgBus, "telegram", bus.DefaultChatID)
		emailMonitor.Start(emailCheckIntervalMinutes)
		defer emailMonitor.Stop()
	}

	runErr := agentLoop.Run(ctx)

	channelManager.Stop()
	agentLoop.Stop()
	msgBus.Close()

	logger.InfoCF("main", "stopped", nil)
	return runErr
}

// bridgeOutbound forwards every reply the agent loop publishes to the bus
// out to the channel gateway's broadcast, until ctx is cancelled.
func bridgeOutbound(ctx context.Context, msgBus *bus.MessageBus, channelManager *channels.Manager) {
	for {
		msg, ok := msgBus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		if err := channelManager.Broadcast(ctx, msg); err != nil {
			logger.WarnCF("main", "broadcast failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

// buildProvider registers every backend with a usable credential into one
// Gateway, in Anthropic/OpenAI/OpenRouter/Copilot priority order, so a
// transient failure on the default provider falls back to the next one
// instead of failing the whole turn.
func buildProvider(cfg *config.Config) (providers.LLMProvider, error) {
	gw := gateway.New("anthropic", true)
	registered := 0

	var anthropicCred *auth.AuthCredential
	if cfg.Providers.Anthropic.UseOAuth {
		stored, err := auth.GetCredential("anthropic")
		if err != nil {
			return nil, fmt.Errorf("anthropic oauth: %w", err)
		}
		anthropicCred = stored
	}

	if anthropicCred != nil {
		cred := anthropicCred
		oauthCfg := auth.AnthropicOAuthConfig()
		claude := providers.NewClaudeProviderOAuth(func() (string, error) {
			if cred.NeedsRefresh() {
				refreshed, err := auth.RefreshAccessToken(cred, oauthCfg)
				if err != nil {
					return "", fmt.Errorf("refreshing anthropic token: %w", err)
				}
				if err := auth.SetCredential("anthropic", refreshed); err != nil {
					return "", fmt.Errorf("persisting refreshed anthropic token: %w", err)
				}
				cred = refreshed
			}
			return cred.AccessToken, nil
		})
		gw.RegisterProvider("anthropic", claude, []string{"*"}, 0, nil)
		registered++
	} else if cfg.Providers.Anthropic.APIKey != "" {
		gw.RegisterProvider("anthropic", providers.NewClaudeProvider(cfg.Providers.Anthropic.APIKey), []string{"*"}, 0, nil)
		registered++
	}

	if cfg.Providers.OpenAI.APIKey != "" {
		openai := providers.NewHTTPProvider("openai", cfg.Providers.OpenAI.APIKey, "https://api.openai.com/v1", cfg.Providers.OpenAI.DefaultModel, nil)
		gw.RegisterProvider("openai", openai, []string{"*"}, 1, nil)
		registered++
	}
	if cfg.Providers.OpenRouter.APIKey != "" {
		openrouter := providers.NewHTTPProvider("openrouter", cfg.Providers.OpenRouter.APIKey, cfg.Providers.OpenRouter.APIBase, cfg.Providers.OpenRouter.DefaultModel, nil)
		gw.RegisterProvider("openrouter", openrouter, []string{"*"}, 2, nil)
		registered++
	}
	if cfg.Providers.Copilot.Token != "" {
		copilot := providers.NewCopilotProvider(cfg.Providers.Copilot.Token, cfg.Providers.Copilot.DefaultModel)
		gw.RegisterProvider("copilot", copilot, []string{"*"}, 3, nil)
		registered++
	}

	if registered == 0 {
		return nil, fmt.Errorf("no provider configured: set an API key or enable anthropic oauth")
	}
	return gw, nil
}
