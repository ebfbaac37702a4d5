// Package session implements Session History (C2): a per-conversation
// bounded message log, keyed by channel:chatId, with line-delimited-JSON
// persistence (§6).
package session

import (
	"time"

	"github.com/corvidae/relay/pkg/providers"
)

// Message is the on-disk/in-memory representation of one LLMMessage within
// a session: an alias of the Provider Adapter's Message type, with no fields
// of its own.
type Message = providers.Message

// Session is §3's Session: keyed by channel:chatId, bounded in size and
// time.
type Session struct {
	Key               string    `json:"key"`
	Channel           string    `json:"channel"`
	ChatID            string    `json:"chat_id"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	Messages          []Message `json:"messages"`
	Summary           string    `json:"summary,omitempty"`
	LastConsolidated  int       `json:"last_consolidated"`
}

// metadataRecord is the first line of every persisted session file (§6).
type metadataRecord struct {
	Type             string    `json:"_type"`
	Channel          string    `json:"channel"`
	ChatID           string    `json:"chat_id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	LastConsolidated int       `json:"last_consolidated"`
	Summary          string    `json:"summary,omitempty"`
}

func newSession(key string) *Session {
	now := time.Now()
	channel, chatID := splitSessionKey(key)
	return &Session{
		Key:       key,
		Channel:   channel,
		ChatID:    chatID,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]Message, 0),
	}
}

func splitSessionKey(key string) (channel, chatID string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

func (s *Session) clone() *Session {
	cp := *s
	cp.Messages = make([]Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	return &cp
}
