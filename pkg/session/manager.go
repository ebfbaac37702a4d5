package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/corvidae/relay/pkg/logger"
)

// IdleTimeout is the duration of inactivity after which GetOrCreate starts a
// fresh session instead of reusing the stored one (§4.2).
const IdleTimeout = 2 * time.Hour

// SessionManager owns the in-memory session table and its on-disk mirror
// under storageDir, one file per session key.
type SessionManager struct {
	mu         sync.RWMutex
	storageDir string
	sessions   map[string]*Session
}

// NewSessionManager loads any sessions already persisted under storageDir.
func NewSessionManager(storageDir string) *SessionManager {
	m := &SessionManager{
		storageDir: storageDir,
		sessions:   make(map[string]*Session),
	}
	if storageDir != "" {
		if err := os.MkdirAll(storageDir, 0o755); err != nil {
			logger.ErrorCF("session", "failed to create storage dir", map[string]interface{}{
				"dir": storageDir, "error": err.Error(),
			})
		}
		m.loadAll()
	}
	return m
}

func sessionFilePath(dir, key string) string {
	safe := strings.NewReplacer(":", "_", "/", "_").Replace(key)
	return filepath.Join(dir, safe+".jsonl")
}

func (m *SessionManager) loadAll() {
	entries, err := os.ReadDir(m.storageDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		s, err := loadSessionFile(filepath.Join(m.storageDir, e.Name()))
		if err != nil {
			logger.WarnCF("session", "failed to load session file", map[string]interface{}{
				"file": e.Name(), "error": err.Error(),
			})
			continue
		}
		if s != nil {
			m.sessions[s.Key] = s
		}
	}
}

func loadSessionFile(path string) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var meta metadataRecord
	var s *Session
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if first {
			first = false
			if err := json.Unmarshal([]byte(line), &meta); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
			key := meta.Channel
			if meta.ChatID != "" {
				key = meta.Channel + ":" + meta.ChatID
			}
			s = &Session{
				Key:              key,
				Channel:          meta.Channel,
				ChatID:           meta.ChatID,
				CreatedAt:        meta.CreatedAt,
				UpdatedAt:        meta.UpdatedAt,
				Summary:          meta.Summary,
				LastConsolidated: meta.LastConsolidated,
				Messages:         make([]Message, 0),
			}
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		s.Messages = append(s.Messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

// GetOrCreate returns the session for key, creating it if absent or if it
// has been idle longer than IdleTimeout (§4.2's rotation rule).
func (m *SessionManager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		if time.Since(s.UpdatedAt) <= IdleTimeout {
			return s
		}
		logger.InfoCF("session", "rotating idle session", map[string]interface{}{"key": key})
	}
	s := newSession(key)
	m.sessions[key] = s
	return s
}

// AddMessage appends a plain text message and persists the session.
func (m *SessionManager) AddMessage(key, role, content string) {
	m.AddFullMessage(key, Message{Role: role, Content: content})
}

// AddFullMessage appends an arbitrary Message (with tool calls, content
// parts, etc.) and persists the session.
func (m *SessionManager) AddFullMessage(key string, msg Message) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if !ok {
		s = newSession(key)
		m.sessions[key] = s
	}
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = time.Now()
	snapshot := s.clone()
	m.mu.Unlock()

	if err := m.Save(snapshot); err != nil {
		logger.ErrorCF("session", "failed to persist session", map[string]interface{}{
			"key": key, "error": err.Error(),
		})
	}
}

// GetHistory returns a deep copy of the session's messages, empty if the
// session doesn't exist.
func (m *SessionManager) GetHistory(key string) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil
	}
	out := make([]Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// GetSummary returns the session's rolling summary, empty if none.
func (m *SessionManager) GetSummary(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[key]; ok {
		return s.Summary
	}
	return ""
}

// SetSummary sets the session's rolling summary and persists it.
func (m *SessionManager) SetSummary(key, summary string) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if !ok {
		s = newSession(key)
		m.sessions[key] = s
	}
	s.Summary = summary
	s.UpdatedAt = time.Now()
	snapshot := s.clone()
	m.mu.Unlock()

	if err := m.Save(snapshot); err != nil {
		logger.ErrorCF("session", "failed to persist session summary", map[string]interface{}{
			"key": key, "error": err.Error(),
		})
	}
}

// TruncateHistory drops all but the most recent keep messages, persisting
// the result. Used by the History Manager (C9) after compression.
func (m *SessionManager) TruncateHistory(key string, keep int) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	if keep < 0 {
		keep = 0
	}
	if len(s.Messages) > keep {
		s.Messages = append([]Message(nil), s.Messages[len(s.Messages)-keep:]...)
		s.LastConsolidated = len(s.Messages)
	}
	s.UpdatedAt = time.Now()
	snapshot := s.clone()
	m.mu.Unlock()

	if err := m.Save(snapshot); err != nil {
		logger.ErrorCF("session", "failed to persist truncated session", map[string]interface{}{
			"key": key, "error": err.Error(),
		})
	}
}

// List returns the keys of every known session.
func (m *SessionManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	return keys
}

// Save writes session to its on-disk file: a metadata line followed by one
// line per message (§6).
func (m *SessionManager) Save(s *Session) error {
	if m.storageDir == "" {
		return nil
	}
	path := sessionFilePath(m.storageDir, s.Key)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	w := bufio.NewWriter(f)
	meta := metadataRecord{
		Type: "session_meta", Channel: s.Channel, ChatID: s.ChatID,
		CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt,
		LastConsolidated: s.LastConsolidated, Summary: s.Summary,
	}
	if err := writeJSONLine(w, meta); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	for _, msg := range s.Messages {
		if err := writeJSONLine(w, msg); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeJSONLine(w *bufio.Writer, v interface{}) error {
	enc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(enc); err != nil {
		return err
	}
	return w.WriteByte('\n')
}
