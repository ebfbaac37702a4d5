package bus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPublishConsumeInbound(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	mb.PublishInbound(InboundMessage{Channel: "test", Content: "hello"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, ok := mb.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected to consume a message")
	}
	if got.Content != "hello" {
		t.Fatalf("expected content 'hello', got %q", got.Content)
	}
}

func TestPublishSubscribeOutbound(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	mb.PublishOutbound(OutboundMessage{Channel: "test", Content: "world"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, ok := mb.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("expected to receive a message")
	}
	if got.Content != "world" {
		t.Fatalf("expected content 'world', got %q", got.Content)
	}
}

func TestConsumeInboundCancelled(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := mb.ConsumeInbound(ctx); ok {
		t.Fatal("expected false from cancelled context")
	}
}

func TestPublishInboundFullBufferDoesNotBlock(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	for i := 0; i < queueCapacity; i++ {
		mb.PublishInbound(InboundMessage{Content: "fill"})
	}

	done := make(chan struct{})
	go func() {
		mb.PublishInbound(InboundMessage{Content: "overflow"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PublishInbound blocked on full buffer")
	}
}

func TestRegisterAndGetHandler(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	called := false
	mb.RegisterHandler("test", func(msg InboundMessage) error {
		called = true
		return nil
	})

	handler, ok := mb.GetHandler("test")
	if !ok {
		t.Fatal("expected handler to be registered")
	}
	handler(InboundMessage{})
	if !called {
		t.Fatal("expected handler to be called")
	}

	if _, ok := mb.GetHandler("nonexistent"); ok {
		t.Fatal("expected no handler for nonexistent channel")
	}
}

func TestMessageBus_PublishAfterClose_DoesNotPanic(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()
	mb.Close() // idempotent

	didPanic := false
	func() {
		defer func() {
			if recover() != nil {
				didPanic = true
			}
		}()
		mb.PublishInbound(InboundMessage{Channel: "test", ChatID: "chat", Content: "hello"})
		mb.PublishOutbound(OutboundMessage{Channel: "test", ChatID: "chat", Content: "hello"})
	}()

	if didPanic {
		t.Fatal("publish should not panic after Close")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, ok := mb.ConsumeInbound(ctx); ok {
		t.Fatal("ConsumeInbound should return ok=false after Close")
	}
}

func TestConcurrentPublishConsume(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	const n = 50
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mb.PublishInbound(InboundMessage{Content: "concurrent"})
		}()
	}

	received := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := mb.ConsumeInbound(ctx); ok {
				received <- struct{}{}
			}
		}()
	}

	wg.Wait()
	if len(received) != n {
		t.Fatalf("expected %d messages, got %d", n, len(received))
	}
}
