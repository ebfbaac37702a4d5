// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package channels

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/corvidae/relay/pkg/bus"
	"github.com/corvidae/relay/pkg/logger"
	"github.com/corvidae/relay/pkg/utils"
)

// TelegramChannel is a Channel backed by long-polling against the Telegram
// Bot API. One allowlist gates which Telegram user ids can reach the agent
// at all; the Manager's reconnect policy handles the rest of its liveness.
type TelegramChannel struct {
	bot         *telego.Bot
	allowedFrom map[int64]bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	typingMu  sync.Mutex
	typingCtl map[string]context.CancelFunc
}

// Bot exposes the underlying client so callers can register Telegram-specific
// tools (forum topic management, pinning) against the same bot session the
// channel itself listens on.
func (c *TelegramChannel) Bot() *telego.Bot {
	return c.bot
}

// NewTelegramChannel creates a Telegram channel. allowedUsers, if non-empty,
// restricts inbound messages to that set of Telegram user ids; an empty set
// allows anyone who can reach the bot.
func NewTelegramChannel(botToken string, allowedUsers []int64) (*TelegramChannel, error) {
	bot, err := telego.NewBot(botToken)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}

	allowed := make(map[int64]bool, len(allowedUsers))
	for _, id := range allowedUsers {
		allowed[id] = true
	}

	return &TelegramChannel{
		bot:         bot,
		allowedFrom: allowed,
		typingCtl:   make(map[string]context.CancelFunc),
	}, nil
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) isAllowed(userID int64) bool {
	if len(c.allowedFrom) == 0 {
		return true
	}
	return c.allowedFrom[userID]
}

func (c *TelegramChannel) Start(ctx context.Context, publish func(bus.InboundMessage)) error {
	pollCtx, cancel := context.WithCancel(ctx)

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{Timeout: 30})
	if err != nil {
		cancel()
		return fmt.Errorf("starting long polling: %w", err)
	}

	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	c.mu.Unlock()

	logger.InfoCF("telegram", "bot connected", map[string]interface{}{"username": c.bot.Username()})

	go func() {
		defer close(c.done)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					c.handleMessage(pollCtx, update.Message, publish)
				}
			}
		}
	}()

	return nil
}

func (c *TelegramChannel) Stop() error {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.running = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return nil
}

func (c *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.ChatID, err)
	}

	c.stopTyping(msg.ChatID)

	html := markdownToTelegramHTML(msg.Content)

	if len(msg.Media) == 0 {
		return c.sendText(ctx, chatID, html)
	}

	if msg.Content != "" {
		if err := c.sendText(ctx, chatID, html); err != nil {
			logger.ErrorCF("telegram", "failed to send text before media", map[string]interface{}{"error": err.Error()})
		}
	}

	for _, path := range msg.Media {
		c.sendMediaFile(ctx, chatID, path)
	}
	return nil
}

func (c *TelegramChannel) sendText(ctx context.Context, chatID int64, html string) error {
	tgMsg := tu.Message(tu.ID(chatID), html)
	tgMsg.ParseMode = telego.ModeHTML
	if _, err := c.bot.SendMessage(ctx, tgMsg); err != nil {
		logger.ErrorCF("telegram", "HTML send failed, retrying as plain text", map[string]interface{}{"error": err.Error()})
		tgMsg.ParseMode = ""
		_, err = c.bot.SendMessage(ctx, tgMsg)
		return err
	}
	return nil
}

func (c *TelegramChannel) sendMediaFile(ctx context.Context, chatID int64, path string) {
	f, err := os.Open(path)
	if err != nil {
		logger.ErrorCF("telegram", "failed to open media file", map[string]interface{}{"path": path, "error": err.Error()})
		return
	}
	defer f.Close()

	if isImageFile(path) {
		if _, err := c.bot.SendPhoto(ctx, tu.Photo(tu.ID(chatID), tu.File(f))); err != nil {
			logger.ErrorCF("telegram", "failed to send photo", map[string]interface{}{"path": path, "error": err.Error()})
		}
		return
	}
	if _, err := c.bot.SendDocument(ctx, tu.Document(tu.ID(chatID), tu.File(f))); err != nil {
		logger.ErrorCF("telegram", "failed to send document", map[string]interface{}{"path": path, "error": err.Error()})
	}
}

// startTyping repeats the "typing..." chat action until stopTyping is called
// for the same chat id or the enclosing context is cancelled.
func (c *TelegramChannel) startTyping(ctx context.Context, chatIDStr string, chatID int64) {
	typingCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)

	c.typingMu.Lock()
	if prev, ok := c.typingCtl[chatIDStr]; ok {
		prev()
	}
	c.typingCtl[chatIDStr] = cancel
	c.typingMu.Unlock()

	_ = c.bot.SendChatAction(typingCtx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping))

	go func() {
		ticker := time.NewTicker(4 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				_ = c.bot.SendChatAction(typingCtx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping))
			}
		}
	}()
}

func (c *TelegramChannel) stopTyping(chatIDStr string) {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	if cancel, ok := c.typingCtl[chatIDStr]; ok {
		cancel()
		delete(c.typingCtl, chatIDStr)
	}
}

func (c *TelegramChannel) handleMessage(ctx context.Context, message *telego.Message, publish func(bus.InboundMessage)) {
	user := message.From
	if user == nil {
		return
	}
	if !c.isAllowed(user.ID) {
		logger.DebugCF("telegram", "message rejected by allowlist", map[string]interface{}{"user_id": user.ID})
		return
	}

	senderID := strconv.FormatInt(user.ID, 10)
	chatID := message.Chat.ID
	chatIDStr := strconv.FormatInt(chatID, 10)

	var content strings.Builder
	var mediaPaths []string
	var localFiles []string
	defer func() {
		for _, f := range localFiles {
			if err := os.Remove(f); err != nil {
				logger.DebugCF("telegram", "failed to clean up temp file", map[string]interface{}{"file": f, "error": err.Error()})
			}
		}
	}()

	appendLine := func(s string) {
		if content.Len() > 0 {
			content.WriteString("\n")
		}
		content.WriteString(s)
	}

	if message.Text != "" {
		appendLine(message.Text)
	}
	if message.Caption != "" {
		appendLine(message.Caption)
	}

	if len(message.Photo) > 0 {
		photo := message.Photo[len(message.Photo)-1]
		if path := c.downloadFile(ctx, photo.FileID, ".jpg"); path != "" {
			localFiles = append(localFiles, path)
			mediaPaths = append(mediaPaths, path)
			appendLine("[image: photo]")
		}
	}
	if message.Voice != nil {
		if path := c.downloadFile(ctx, message.Voice.FileID, ".ogg"); path != "" {
			localFiles = append(localFiles, path)
			mediaPaths = append(mediaPaths, path)
			appendLine("[voice message]")
		}
	}
	if message.Audio != nil {
		if path := c.downloadFile(ctx, message.Audio.FileID, ".mp3"); path != "" {
			localFiles = append(localFiles, path)
			mediaPaths = append(mediaPaths, path)
			appendLine("[audio]")
		}
	}
	if message.Document != nil {
		if path := c.downloadFile(ctx, message.Document.FileID, ""); path != "" {
			localFiles = append(localFiles, path)
			mediaPaths = append(mediaPaths, path)
			appendLine("[file]")
		}
	}

	if content.Len() == 0 {
		content.WriteString("[empty message]")
	}

	logger.DebugCF("telegram", "received message", map[string]interface{}{
		"sender_id": senderID,
		"chat_id":   chatIDStr,
		"preview":   utils.Truncate(content.String(), 50),
	})

	c.startTyping(ctx, chatIDStr, chatID)

	publish(bus.InboundMessage{
		Channel:    c.Name(),
		SenderID:   senderID,
		ChatID:     chatIDStr,
		SessionKey: c.Name() + ":" + chatIDStr,
		Content:    content.String(),
		Media:      mediaPaths,
		Metadata: map[string]string{
			"message_id": strconv.Itoa(message.MessageID),
			"username":   user.Username,
			"first_name": user.FirstName,
			"is_group":   strconv.FormatBool(message.Chat.Type != "private"),
		},
	})
}

// downloadFile fetches the Telegram file identified by fileID to a temp
// file under os.TempDir, returning its path or "" on failure.
func (c *TelegramChannel) downloadFile(ctx context.Context, fileID, ext string) string {
	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		logger.ErrorCF("telegram", "failed to get file info", map[string]interface{}{"error": err.Error()})
		return ""
	}
	if file.FilePath == "" {
		return ""
	}

	url := c.bot.FileDownloadURL(file.FilePath)
	name := utils.SanitizeFilename(filepath.Base(file.FilePath))
	if ext != "" && filepath.Ext(name) == "" {
		name += ext
	}
	dest := filepath.Join(os.TempDir(), "picoclaw-tg-"+uuid.NewString()+"-"+name)

	if err := downloadToFile(ctx, url, dest); err != nil {
		logger.ErrorCF("telegram", "failed to download file", map[string]interface{}{"url": url, "error": err.Error()})
		return ""
	}
	return dest
}

func isImageFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	default:
		return false
	}
}

func markdownToTelegramHTML(text string) string {
	if text == "" {
		return ""
	}

	codeBlocks := extractCodeBlocks(text)
	text = codeBlocks.text

	inlineCodes := extractInlineCodes(text)
	text = inlineCodes.text

	text = regexp.MustCompile(`^#{1,6}\s+(.+)$`).ReplaceAllString(text, "$1")
	text = regexp.MustCompile(`^>\s*(.*)$`).ReplaceAllString(text, "$1")

	text = escapeHTML(text)

	text = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`).ReplaceAllString(text, `<a href="$2">$1</a>`)
	text = regexp.MustCompile(`\*\*(.+?)\*\*`).ReplaceAllString(text, "<b>$1</b>")
	text = regexp.MustCompile(`__(.+?)__`).ReplaceAllString(text, "<b>$1</b>")

	reItalic := regexp.MustCompile(`_([^_]+)_`)
	text = reItalic.ReplaceAllStringFunc(text, func(s string) string {
		match := reItalic.FindStringSubmatch(s)
		if len(match) < 2 {
			return s
		}
		return "<i>" + match[1] + "</i>"
	})

	text = regexp.MustCompile(`~~(.+?)~~`).ReplaceAllString(text, "<s>$1</s>")
	text = regexp.MustCompile(`^[-*]\s+`).ReplaceAllString(text, "• ")

	for i, code := range inlineCodes.codes {
		escaped := escapeHTML(code)
		text = strings.ReplaceAll(text, fmt.Sprintf("\x00IC%d\x00", i), fmt.Sprintf("<code>%s</code>", escaped))
	}
	for i, code := range codeBlocks.codes {
		escaped := escapeHTML(code)
		text = strings.ReplaceAll(text, fmt.Sprintf("\x00CB%d\x00", i), fmt.Sprintf("<pre><code>%s</code></pre>", escaped))
	}

	return text
}

type codeBlockMatch struct {
	text  string
	codes []string
}

func extractCodeBlocks(text string) codeBlockMatch {
	re := regexp.MustCompile("```[\\w]*\\n?([\\s\\S]*?)```")
	matches := re.FindAllStringSubmatch(text, -1)

	codes := make([]string, 0, len(matches))
	for _, m := range matches {
		codes = append(codes, m[1])
	}

	idx := 0
	text = re.ReplaceAllStringFunc(text, func(m string) string {
		s := fmt.Sprintf("\x00CB%d\x00", idx)
		idx++
		return s
	})

	return codeBlockMatch{text: text, codes: codes}
}

type inlineCodeMatch struct {
	text  string
	codes []string
}

func extractInlineCodes(text string) inlineCodeMatch {
	re := regexp.MustCompile("`([^`]+)`")
	matches := re.FindAllStringSubmatch(text, -1)

	codes := make([]string, 0, len(matches))
	for _, m := range matches {
		codes = append(codes, m[1])
	}

	text = re.ReplaceAllStringFunc(text, func(m string) string {
		return fmt.Sprintf("\x00IC%d\x00", len(codes)-1)
	})

	return inlineCodeMatch{text: text, codes: codes}
}

func escapeHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	return text
}
