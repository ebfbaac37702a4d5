// Package bus implements the Message Bus (C1): a pair of bounded FIFO
// queues connecting channels to the agent executor. Producers never block —
// a full queue drops the message and logs a warning, preserving the
// at-least-once-within-a-process, no-retry-after-delivery semantics the
// runtime promises.
package bus

import (
	"context"
	"sync"

	"github.com/corvidae/relay/pkg/logger"
)

const queueCapacity = 100

// MessageBus is the shared inbound/outbound channel pair. Safe for
// concurrent use by any number of producers and consumers.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	handlersMu sync.RWMutex
	handlers   map[string]MessageHandler

	closed    chan struct{}
	closeOnce sync.Once
}

// NewMessageBus creates a bus with bounded, capacity-100 queues.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, queueCapacity),
		outbound: make(chan OutboundMessage, queueCapacity),
		handlers: make(map[string]MessageHandler),
		closed:   make(chan struct{}),
	}
}

// PublishInbound enqueues msg without blocking; if the inbound queue is
// full the message is dropped and a warning is logged. No-op after Close.
func (mb *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case <-mb.closed:
		return
	default:
	}
	select {
	case mb.inbound <- msg:
	case <-mb.closed:
	default:
		logger.WarnCF("bus", "inbound queue full, dropping message", map[string]interface{}{
			"channel": msg.Channel, "chat_id": msg.ChatID,
		})
	}
}

// ConsumeInbound blocks until a message is available, the bus is closed, or
// ctx is done. ok is false in the latter two cases.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-mb.inbound:
		return msg, true
	case <-mb.closed:
		return InboundMessage{}, false
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues msg without blocking, dropping it on a full
// queue. No-op after Close.
func (mb *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case <-mb.closed:
		return
	default:
	}
	select {
	case mb.outbound <- msg:
	case <-mb.closed:
	default:
		logger.WarnCF("bus", "outbound queue full, dropping message", map[string]interface{}{
			"channel": msg.Channel, "chat_id": msg.ChatID,
		})
	}
}

// SubscribeOutbound blocks until a message is available, the bus is closed,
// or ctx is done.
func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-mb.outbound:
		return msg, true
	case <-mb.closed:
		return OutboundMessage{}, false
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// RegisterHandler associates a synchronous handler with a channel name.
// Handlers are an alternative to ConsumeInbound for callers that want
// push-style dispatch instead of a pull loop.
func (mb *MessageBus) RegisterHandler(channel string, handler MessageHandler) {
	mb.handlersMu.Lock()
	defer mb.handlersMu.Unlock()
	mb.handlers[channel] = handler
}

// GetHandler looks up a previously registered handler.
func (mb *MessageBus) GetHandler(channel string) (MessageHandler, bool) {
	mb.handlersMu.RLock()
	defer mb.handlersMu.RUnlock()
	h, ok := mb.handlers[channel]
	return h, ok
}

// Close marks the bus terminal: pending and future Consume/Subscribe calls
// unblock with ok=false, and further Publish calls become no-ops. Safe to
// call more than once.
func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.closed)
	})
}
