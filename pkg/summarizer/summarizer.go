// Package summarizer implements the Summarizer (C4): periodic conversation
// condensation so the History Manager can keep prompts bounded without
// losing topic, decisions, and open todos.
package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/corvidae/relay/pkg/logger"
	"github.com/corvidae/relay/pkg/providers"
)

// Summary is the structured result of a summarization pass (§4.4).
type Summary struct {
	Topic     string   `json:"topic"`
	KeyPoints []string `json:"keyPoints"`
	Decisions []string `json:"decisions"`
	Todos     []string `json:"todos"`
	Entities  []string `json:"entities"`
}

// Config controls when summarization triggers.
type Config struct {
	MinMessages   int           // shouldSummarize threshold
	IdleTimeout   time.Duration // idle-elapsed before an automatic summarize
	CheckInterval time.Duration // idle-check ticker period, floored at 1 minute
	Model         string        // model id passed to the Gateway, "" = its default
}

func (c Config) withDefaults() Config {
	if c.MinMessages <= 0 {
		c.MinMessages = 20
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.CheckInterval < time.Minute {
		c.CheckInterval = time.Minute
	}
	return c
}

// ChatCaller is the subset of the Gateway's contract the summarizer needs,
// kept narrow so it's trivially satisfied by providers.LLMProvider and by
// the LLM Gateway alike.
type ChatCaller interface {
	Chat(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.LLMResponse, error)
}

const systemPrompt = `You summarize conversations for long-term memory. Respond with a single JSON object with exactly these fields:
{"topic": string, "keyPoints": [string], "decisions": [string], "todos": [string], "entities": [string]}
Omit nothing; use empty arrays or empty strings for fields that don't apply. Respond with JSON only, no prose.`

var jsonBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// Summarizer condenses a message history into a Summary via the Gateway.
type Summarizer struct {
	chat ChatCaller
	cfg  Config
}

// New creates a Summarizer backed by chat (typically the LLM Gateway).
func New(chat ChatCaller, cfg Config) *Summarizer {
	return &Summarizer{chat: chat, cfg: cfg.withDefaults()}
}

// ShouldSummarize reports whether messages has reached the configured
// minimum length (§4.4).
func (s *Summarizer) ShouldSummarize(messages []providers.Message) bool {
	return len(messages) >= s.cfg.MinMessages
}

// Summarize asks the Gateway to condense messages and parses its response,
// filling any fields the model omitted with empty defaults.
func (s *Summarizer) Summarize(ctx context.Context, messages []providers.Message) (*Summary, error) {
	prompt := []providers.Message{
		{Role: "system", Content: systemPrompt},
	}
	prompt = append(prompt, messages...)

	resp, err := s.chat.Chat(ctx, prompt, nil, s.cfg.Model, nil)
	if err != nil {
		return nil, fmt.Errorf("summarize: gateway call failed: %w", err)
	}

	return parseSummary(resp.Content), nil
}

// parseSummary extracts the first JSON object from text, whether fenced in
// a ```json block or written bare, tolerating missing fields.
func parseSummary(text string) *Summary {
	raw := text
	if m := jsonBlockRe.FindStringSubmatch(text); m != nil {
		raw = m[1]
	} else if i := strings.IndexByte(text, '{'); i >= 0 {
		if j := strings.LastIndexByte(text, '}'); j > i {
			raw = text[i : j+1]
		}
	}

	var parsed Summary
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		logger.WarnCF("summarizer", "failed to parse summary JSON, returning empty fields", map[string]interface{}{
			"error": err.Error(),
		})
		return &Summary{}
	}
	return &parsed
}

// Manager tracks per-session activity and runs idle checks that summarize
// sessions which have gone quiet, grounded on the same per-session ticking
// idiom as the Session History's idle rotation.
type Manager struct {
	summarizer *Summarizer
	mu         sync.Mutex
	lastActive map[string]time.Time
}

// NewManager creates a Manager driven by summarizer.
func NewManager(summarizer *Summarizer) *Manager {
	return &Manager{
		summarizer: summarizer,
		lastActive: make(map[string]time.Time),
	}
}

// RecordActivity marks sessionKey as active now, resetting its idle clock.
func (m *Manager) RecordActivity(sessionKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActive[sessionKey] = time.Now()
}

// GetMessagesFunc returns the current message history for a session key.
type GetMessagesFunc func(sessionKey string) []providers.Message

// OnSummaryFunc is invoked with the result of an idle-triggered summarize.
type OnSummaryFunc func(sessionKey string, summary *Summary)

// StartIdleCheck runs a periodic ticker (every CheckInterval, so at most
// once per minute) checking
// every tracked session key for idle time exceeding idleTimeout; any session
// past that threshold with pending messages is summarized. Any single
// summarization failure is logged and does not stop the check (§4.4).
func (m *Manager) StartIdleCheck(ctx context.Context, idleTimeout time.Duration, getMessages GetMessagesFunc, onSummary OnSummaryFunc) {
	if idleTimeout < time.Minute {
		idleTimeout = time.Minute
	}
	interval := m.summarizer.cfg.CheckInterval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(ctx, idleTimeout, getMessages, onSummary)
			}
		}
	}()
}

// StartCronSweep runs fn every time cronExpr is due, checked against the
// a one-minute ticker of its own. fn can be any periodic job that runs
// independently of the per-session idle checks, such as the Memory Store's
// CleanupExpired; nothing in this module calls StartCronSweep. An invalid
// cronExpr is logged and the sweep is skipped entirely.
func (m *Manager) StartCronSweep(ctx context.Context, cronExpr string, fn func(context.Context)) {
	if !gronx.IsValid(cronExpr) {
		logger.WarnCF("summarizer", "invalid cron expression, cron sweep disabled", map[string]interface{}{
			"expr": cronExpr,
		})
		return
	}
	g := gronx.New()

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				due, err := g.IsDue(cronExpr)
				if err != nil {
					logger.WarnCF("summarizer", "cron due-check failed", map[string]interface{}{"error": err.Error()})
					continue
				}
				if due {
					fn(ctx)
				}
			}
		}
	}()
}

func (m *Manager) sweep(ctx context.Context, idleTimeout time.Duration, getMessages GetMessagesFunc, onSummary OnSummaryFunc) {
	m.mu.Lock()
	due := make([]string, 0)
	now := time.Now()
	for key, last := range m.lastActive {
		if now.Sub(last) >= idleTimeout {
			due = append(due, key)
		}
	}
	m.mu.Unlock()

	for _, key := range due {
		messages := getMessages(key)
		if len(messages) == 0 {
			continue
		}
		summary, err := m.summarizer.Summarize(ctx, messages)
		if err != nil {
			logger.WarnCF("summarizer", "idle summarization failed", map[string]interface{}{
				"session": key, "error": err.Error(),
			})
			continue
		}
		if onSummary != nil {
			onSummary(key, summary)
		}
		m.mu.Lock()
		delete(m.lastActive, key)
		m.mu.Unlock()
	}
}
