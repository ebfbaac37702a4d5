// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package channels implements the Channel Gateway (C11): fan-in from
// concrete transports (Telegram, a local console) into the message bus,
// fan-out of the agent's replies back to every running channel, and a
// per-channel reconnect policy for transports that can drop.
package channels

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/corvidae/relay/pkg/bus"
	"github.com/corvidae/relay/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Channel is a transport that turns inbound traffic into bus.InboundMessage
// and can deliver a bus.OutboundMessage back out. Start must return once
// the channel is listening; Stop must be safe to call on an already-stopped
// channel.
type Channel interface {
	Name() string
	Start(ctx context.Context, publish func(bus.InboundMessage)) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	Stop() error
}

const defaultMaxReconnect = 3

// registration tracks one channel's liveness and failure count for the
// reconnect policy.
type registration struct {
	channel       Channel
	mu            sync.Mutex
	running       bool
	failures      int
	unavailable   bool
	lastChatID    string
	reconnectOnce sync.Once
}

// Manager is the live view of every registered channel: it starts each one,
// routes its inbound traffic onto the bus, and broadcasts outbound traffic
// produced by the agent back out to all of them.
type Manager struct {
	mu           sync.RWMutex
	regs         map[string]*registration
	bus          *bus.MessageBus
	maxReconnect int
}

// NewManager creates an empty channel manager wired to msgBus.
func NewManager(msgBus *bus.MessageBus) *Manager {
	return &Manager{
		regs:         make(map[string]*registration),
		bus:          msgBus,
		maxReconnect: defaultMaxReconnect,
	}
}

// SetMaxReconnect overrides the default reconnect attempt cap.
func (m *Manager) SetMaxReconnect(n int) {
	if n > 0 {
		m.maxReconnect = n
	}
}

// Register adds ch to the manager without starting it. Call Start to bring
// every registered channel up.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[ch.Name()] = &registration{channel: ch}
}

// Start launches every registered channel, wrapping its publish callback so
// inbound traffic lands on the bus and the manager learns the channel's
// most recently observed chat id (for the "default" chat id substitution
// rule).
func (m *Manager) Start(ctx context.Context) error {
	m.mu.RLock()
	regs := make([]*registration, 0, len(m.regs))
	for _, r := range m.regs {
		regs = append(regs, r)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, r := range regs {
		if err := m.startOne(ctx, r); err != nil {
			logger.ErrorCF("channels", "channel failed to start", map[string]interface{}{
				"channel": r.channel.Name(),
				"error":   err.Error(),
			})
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *Manager) startOne(ctx context.Context, r *registration) error {
	r.mu.Lock()
	name := r.channel.Name()
	r.mu.Unlock()

	err := r.channel.Start(ctx, func(msg bus.InboundMessage) {
		r.mu.Lock()
		r.lastChatID = msg.ChatID
		r.mu.Unlock()
		m.bus.PublishInbound(msg)
	})
	if err != nil {
		return fmt.Errorf("starting channel %q: %w", name, err)
	}

	r.mu.Lock()
	r.running = true
	r.failures = 0
	r.unavailable = false
	r.mu.Unlock()
	return nil
}

// Stop stops every registered channel.
func (m *Manager) Stop() {
	m.mu.RLock()
	regs := make([]*registration, 0, len(m.regs))
	for _, r := range m.regs {
		regs = append(regs, r)
	}
	m.mu.RUnlock()

	for _, r := range regs {
		r.mu.Lock()
		running := r.running
		r.mu.Unlock()
		if !running {
			continue
		}
		if err := r.channel.Stop(); err != nil {
			logger.WarnCF("channels", "channel failed to stop cleanly", map[string]interface{}{
				"channel": r.channel.Name(),
				"error":   err.Error(),
			})
		}
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}
}

// Broadcast delivers msg to the channel named by msg.Channel, or to every
// running channel if msg.Channel is empty, substituting the "default" chat
// id sentinel for the most recently observed inbound chat id on each
// target channel. Failed channels do not affect others (settle-all).
func (m *Manager) Broadcast(ctx context.Context, msg bus.OutboundMessage) error {
	m.mu.RLock()
	var targets []*registration
	if msg.Channel != "" {
		if r, ok := m.regs[msg.Channel]; ok {
			targets = []*registration{r}
		}
	} else {
		for _, r := range m.regs {
			targets = append(targets, r)
		}
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range targets {
		r := r
		g.Go(func() error {
			m.deliver(gctx, r, msg)
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) deliver(ctx context.Context, r *registration, msg bus.OutboundMessage) {
	r.mu.Lock()
	if r.unavailable || !r.running {
		r.mu.Unlock()
		return
	}
	chatID := msg.ChatID
	if chatID == bus.DefaultChatID {
		if r.lastChatID == "" {
			r.mu.Unlock()
			logger.WarnCF("channels", "no known chat id for default substitution, dropping", map[string]interface{}{
				"channel": r.channel.Name(),
			})
			return
		}
		chatID = r.lastChatID
	}
	r.mu.Unlock()

	out := msg
	out.ChatID = chatID

	if err := r.channel.Send(ctx, out); err != nil {
		m.handleSendFailure(ctx, r, err)
		return
	}

	r.mu.Lock()
	r.failures = 0
	r.mu.Unlock()
}

func (m *Manager) handleSendFailure(ctx context.Context, r *registration, sendErr error) {
	r.mu.Lock()
	r.failures++
	failures := r.failures
	name := r.channel.Name()
	r.mu.Unlock()

	logger.WarnCF("channels", "channel send failed", map[string]interface{}{
		"channel":  name,
		"failures": failures,
		"error":    sendErr.Error(),
	})

	if failures < m.maxReconnect {
		return
	}

	go m.reconnect(ctx, r)
}

func (m *Manager) reconnect(ctx context.Context, r *registration) {
	r.mu.Lock()
	name := r.channel.Name()
	r.mu.Unlock()

	logger.InfoCF("channels", "attempting channel reconnect", map[string]interface{}{"channel": name})

	if err := r.channel.Stop(); err != nil {
		logger.WarnCF("channels", "reconnect stop failed", map[string]interface{}{"channel": name, "error": err.Error()})
	}

	reconnectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := m.startOne(reconnectCtx, r); err != nil {
		r.mu.Lock()
		r.unavailable = true
		r.mu.Unlock()
		logger.ErrorCF("channels", "channel unavailable after reconnect failure", map[string]interface{}{
			"channel": name,
			"error":   err.Error(),
		})
		return
	}

	logger.InfoCF("channels", "channel reconnected", map[string]interface{}{"channel": name})
}
