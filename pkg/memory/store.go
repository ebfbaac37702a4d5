package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/corvidae/relay/pkg/logger"
)

// Entry is a single stored memory record: a conversation excerpt, an
// extracted fact, or a manually-recorded note (§3's MemoryEntry).
type Entry struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Category  string            `json:"category"`
	Type      string            `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
}

// SearchOpts narrows and controls a Memory Store search (§4.3).
type SearchOpts struct {
	Limit     int
	Mode      string // "vector" | "fulltext" | "hybrid", "" = auto
	SessionID string
	Type      string
	Tags      []string
	Since     time.Time
	Until     time.Time
}

// Stats is the aggregate shape returned by getStats.
type Stats struct {
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"by_category"`
}

// CleanupResult is the outcome of cleanupExpired.
type CleanupResult struct {
	Deleted    int      `json:"deleted"`
	Summarized int      `json:"summarized"`
	Errors     []string `json:"errors,omitempty"`
}

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
	vectorRankWeight   = 0.6
	fulltextRankWeight = 0.4
)

// Store is the Memory Store (C3): a vector + fulltext index over prior
// conversation turns and extracted knowledge, mirrored to markdown for
// human inspection and backed by an on-disk JSON-lines ledger.
type Store struct {
	mu            sync.RWMutex
	workspace     string
	entriesPath   string
	entries       map[string]*Entry
	vectors       *VectorStore // nil when no embedding service is configured
	retentionDays int
}

// NewStore opens (or initializes) the memory store rooted at workspace.
// vectors may be nil — vector search then degrades silently to fulltext
// per §4.3's failure semantics.
func NewStore(workspace string, vectors *VectorStore, retentionDays int) (*Store, error) {
	dir := filepath.Join(workspace, "memory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	if retentionDays <= 0 {
		retentionDays = 90
	}
	s := &Store{
		workspace:     workspace,
		entriesPath:   filepath.Join(dir, "entries.jsonl"),
		entries:       make(map[string]*Entry),
		vectors:       vectors,
		retentionDays: retentionDays,
	}
	if err := s.initialize(); err != nil {
		return nil, err
	}
	return s, nil
}

// initialize loads the on-disk entry ledger into memory.
func (s *Store) initialize() error {
	f, err := os.Open(s.entriesPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open entries ledger: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			logger.WarnCF("memory", "skipping malformed ledger entry", map[string]interface{}{"error": err.Error()})
			continue
		}
		cp := e
		s.entries[e.ID] = &cp
	}
	return nil
}

func (s *Store) appendLedger(e *Entry) error {
	f, err := os.OpenFile(s.entriesPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	return enc.Encode(e)
}

// rewriteLedger regenerates the entries file from the in-memory table;
// used after delete/cleanup, which remove lines rather than append.
func (s *Store) rewriteLedger() error {
	tmp := s.entriesPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, e := range s.entries {
		if err := enc.Encode(e); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.entriesPath)
}

// Store persists entry, embedding it when a vector service is configured.
// Embedding failures are logged and non-fatal: the entry is still saved
// with no vector representation (§4.3).
func (s *Store) Store(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.Category == "" {
		e.Category = "general"
	}

	s.mu.Lock()
	cp := e
	s.entries[e.ID] = &cp
	if err := s.appendLedger(&cp); err != nil {
		s.mu.Unlock()
		return Entry{}, fmt.Errorf("persist memory entry: %w", err)
	}
	s.mu.Unlock()

	if s.vectors != nil {
		if err := s.vectors.IndexKnowledgeWithOpts(ctx, e.ID, e.Content, e.Category, KnowledgeIndexOpts{
			SourceType: e.Type,
		}); err != nil {
			logger.WarnCF("memory", "embedding failed, entry stored without a vector", map[string]interface{}{
				"id": e.ID, "error": err.Error(),
			})
		}
	}

	s.writeMarkdownMirror(e)
	return e, nil
}

// GetByID returns a single entry, or ok=false if absent.
func (s *Store) GetByID(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Delete removes an entry from both the ledger and the vector index.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.entries, id)
	err := s.rewriteLedger()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("rewrite ledger after delete: %w", err)
	}
	if s.vectors != nil {
		if err := s.vectors.DeleteKnowledge(ctx, id); err != nil {
			logger.WarnCF("memory", "failed to remove vector for deleted entry", map[string]interface{}{
				"id": id, "error": err.Error(),
			})
		}
	}
	return nil
}

// ClearSession deletes every entry belonging to sessionID.
func (s *Store) ClearSession(ctx context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	var toDelete []string
	for id, e := range s.entries {
		if e.SessionID == sessionID {
			toDelete = append(toDelete, id)
		}
	}
	for _, id := range toDelete {
		delete(s.entries, id)
	}
	err := s.rewriteLedger()
	s.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("rewrite ledger after clear: %w", err)
	}
	for _, id := range toDelete {
		if s.vectors != nil {
			_ = s.vectors.DeleteKnowledge(ctx, id)
		}
	}
	return len(toDelete), nil
}

// GetRecent returns the most recently created entries for a session.
func (s *Store) GetRecent(sessionID string, limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []Entry
	for _, e := range s.entries {
		if sessionID == "" || e.SessionID == sessionID {
			matched = append(matched, *e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// GetStats reports totals per category.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{ByCategory: make(map[string]int)}
	for _, e := range s.entries {
		stats.Total++
		stats.ByCategory[e.Category]++
	}
	return stats
}

// CleanupExpired deletes entries older than retentionDays or past their
// explicit expiresAt (§4.3).
func (s *Store) CleanupExpired(ctx context.Context) CleanupResult {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	now := time.Now()

	s.mu.Lock()
	var toDelete []string
	for id, e := range s.entries {
		if e.CreatedAt.Before(cutoff) || (e.ExpiresAt != nil && e.ExpiresAt.Before(now)) {
			toDelete = append(toDelete, id)
		}
	}
	for _, id := range toDelete {
		delete(s.entries, id)
	}
	err := s.rewriteLedger()
	s.mu.Unlock()

	result := CleanupResult{}
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	for _, id := range toDelete {
		if s.vectors != nil {
			if err := s.vectors.DeleteKnowledge(ctx, id); err != nil {
				result.Errors = append(result.Errors, err.Error())
				continue
			}
		}
		result.Deleted++
	}
	return result
}

func (s *Store) filteredEntries(opts SearchOpts) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if opts.SessionID != "" && e.SessionID != opts.SessionID {
			continue
		}
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		if !opts.Since.IsZero() && e.CreatedAt.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && e.CreatedAt.After(opts.Until) {
			continue
		}
		if len(opts.Tags) > 0 && !hasAnyTag(e.Tags, opts.Tags) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func hasAnyTag(entryTags, wanted []string) bool {
	set := make(map[string]struct{}, len(entryTags))
	for _, t := range entryTags {
		set[t] = struct{}{}
	}
	for _, w := range wanted {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

// Search implements §4.3's three search modes, defaulting to vector when an
// embedding service is available and falling back to fulltext otherwise.
func (s *Store) Search(ctx context.Context, query string, opts SearchOpts) ([]Entry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	mode := opts.Mode
	if mode == "" {
		if s.vectors != nil {
			mode = "vector"
		} else {
			mode = "fulltext"
		}
	}
	if mode == "vector" && s.vectors == nil {
		mode = "fulltext"
	}

	candidates := s.filteredEntries(opts)

	switch mode {
	case "fulltext":
		return fulltextRanked(candidates, query, limit), nil
	case "vector":
		return s.vectorRanked(ctx, candidates, query, limit), nil
	case "hybrid":
		vecRanked := s.vectorRanked(ctx, candidates, query, len(candidates))
		fullRanked := fulltextRanked(candidates, query, len(candidates))
		return mergeByReciprocalRank(vecRanked, fullRanked, limit), nil
	default:
		return nil, fmt.Errorf("unknown search mode: %s", mode)
	}
}

func (s *Store) vectorRanked(ctx context.Context, candidates []Entry, query string, limit int) []Entry {
	if s.vectors == nil || len(candidates) == 0 {
		return nil
	}
	byID := make(map[string]Entry, len(candidates))
	for _, e := range candidates {
		byID[e.ID] = e
	}
	results, err := s.vectors.SearchKnowledge(ctx, query, len(candidates))
	if err != nil {
		logger.WarnCF("memory", "vector search failed, returning no vector ranking", map[string]interface{}{"error": err.Error()})
		return nil
	}
	out := make([]Entry, 0, limit)
	for _, r := range results {
		e, ok := byID[r.ID]
		if !ok {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// mergeByReciprocalRank combines two ranked lists using weighted reciprocal
// rank fusion: vector ranks count for 0.6, fulltext ranks for 0.4 (§4.3).
func mergeByReciprocalRank(vecRanked, fullRanked []Entry, limit int) []Entry {
	const k = 60.0
	scores := make(map[string]float64)
	entries := make(map[string]Entry)

	for i, e := range vecRanked {
		scores[e.ID] += vectorRankWeight * (1.0 / (k + float64(i+1)))
		entries[e.ID] = e
	}
	for i, e := range fullRanked {
		scores[e.ID] += fulltextRankWeight * (1.0 / (k + float64(i+1)))
		entries[e.ID] = e
	}

	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return entries[ids[i]].CreatedAt.After(entries[ids[j]].CreatedAt)
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]Entry, len(ids))
	for i, id := range ids {
		out[i] = entries[id]
	}
	return out
}

// writeMarkdownMirror appends entry to a human-readable markdown file under
// workspace/memory: preferences/notes go to MEMORY.md, everything else to a
// daily log named after its creation date.
func (s *Store) writeMarkdownMirror(e Entry) {
	dir := filepath.Join(s.workspace, "memory")
	line := fmt.Sprintf("- %s\n", e.Content)

	var path string
	switch e.Category {
	case "preference", "note":
		path = filepath.Join(dir, "MEMORY.md")
	default:
		day := e.CreatedAt.Format("20060102")
		monthDir := filepath.Join(dir, day[:6])
		if err := os.MkdirAll(monthDir, 0o755); err != nil {
			logger.WarnCF("memory", "failed to create markdown mirror dir", map[string]interface{}{"error": err.Error()})
			return
		}
		path = filepath.Join(monthDir, day+".md")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			header := fmt.Sprintf("# %s\n\n", e.CreatedAt.Format("2006-01-02"))
			if err := os.WriteFile(path, []byte(header+line), 0o644); err == nil {
				return
			}
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logger.WarnCF("memory", "failed to open markdown mirror", map[string]interface{}{"error": err.Error()})
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		logger.WarnCF("memory", "failed to write markdown mirror", map[string]interface{}{"error": err.Error()})
	}
}
