// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package channels

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/chzyer/readline"
	"github.com/corvidae/relay/pkg/bus"
)

// CLIChannel is a local console Channel: a single persistent chat identity
// ("local") read from stdin with line editing and history, printed replies
// to stdout.
type CLIChannel struct {
	prompt      string
	historyFile string
	senderID    string

	mu   sync.Mutex
	rl   *readline.Instance
	stop chan struct{}
	done chan struct{}
}

// NewCLIChannel creates a console channel. historyDir, if non-empty, backs
// the readline history file across process restarts.
func NewCLIChannel(historyDir string) *CLIChannel {
	c := &CLIChannel{
		prompt:   "picoclaw> ",
		senderID: "local",
	}
	if historyDir != "" {
		c.historyFile = filepath.Join(historyDir, "cli_history")
	}
	return c
}

func (c *CLIChannel) Name() string { return "cli" }

func (c *CLIChannel) Start(ctx context.Context, publish func(bus.InboundMessage)) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          c.prompt,
		HistoryFile:     c.historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initializing console: %w", err)
	}

	c.mu.Lock()
	c.rl = rl
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop(ctx, publish)
	return nil
}

func (c *CLIChannel) readLoop(ctx context.Context, publish func(bus.InboundMessage)) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		default:
		}

		line, err := c.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF || err != nil {
			return
		}
		if line == "" {
			continue
		}

		publish(bus.InboundMessage{
			Channel:    c.Name(),
			SenderID:   c.senderID,
			ChatID:     c.senderID,
			SessionKey: c.Name() + ":" + c.senderID,
			Content:    line,
		})
	}
}

func (c *CLIChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	rl := c.rl
	c.mu.Unlock()
	if rl == nil {
		fmt.Println(msg.Content)
		return nil
	}
	fmt.Fprintln(rl.Stdout(), msg.Content)
	return nil
}

func (c *CLIChannel) Stop() error {
	c.mu.Lock()
	rl := c.rl
	stop := c.stop
	done := c.done
	c.mu.Unlock()

	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
	if rl != nil {
		rl.Close()
	}
	if done != nil {
		<-done
	}
	return nil
}
