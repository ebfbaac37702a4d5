package bus

import "time"

// ContentPart is a single part of a multimodal message (text or image),
// shared between the bus, providers, and channels without circular imports.
type ContentPart struct {
	Type      string `json:"type"` // "text" or "image"
	Text      string `json:"text,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	FileName  string `json:"file_name,omitempty"`
}

// InboundMessage is published by a Channel and consumed by the Channel
// Gateway. Immutable once published.
type InboundMessage struct {
	Channel    string            `json:"channel"`
	SenderID   string            `json:"sender_id"`
	ChatID     string            `json:"chat_id"`
	SessionKey string            `json:"session_key"`
	Content    string            `json:"content"`
	Media      []string          `json:"media,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// DefaultChatID is the sentinel chat id meaning "the most recently observed
// inbound chat id on this channel."
const DefaultChatID = "default"

// OutboundMessage is produced by the Agent Executor and consumed by the
// Channel Gateway's broadcast.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Media    []string          `json:"media,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MessageHandler processes an inbound message synchronously.
type MessageHandler func(msg InboundMessage) error
