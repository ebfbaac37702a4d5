package memory

import (
	"context"
	"testing"
	"time"
)

func TestNewStore_CreatesWorkspaceDir(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, nil, 90)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if s == nil {
		t.Fatal("expected non-nil store")
	}
}

func TestStore_StoreAndGetByID(t *testing.T) {
	s, err := NewStore(t.TempDir(), nil, 90)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	entry, err := s.Store(context.Background(), Entry{Content: "the sky is blue", Category: "fact"})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if entry.ID == "" {
		t.Fatal("expected an assigned ID")
	}

	got, ok := s.GetByID(entry.ID)
	if !ok {
		t.Fatal("expected entry to be retrievable")
	}
	if got.Content != "the sky is blue" {
		t.Errorf("unexpected content: %q", got.Content)
	}
}

func TestStore_SearchFulltextDegradesWithoutVectors(t *testing.T) {
	s, err := NewStore(t.TempDir(), nil, 90)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	ctx := context.Background()
	if _, err := s.Store(ctx, Entry{Content: "go concurrency patterns", Category: "note"}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, err := s.Store(ctx, Entry{Content: "baking sourdough bread", Category: "note"}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	results, err := s.Search(ctx, "go concurrency", SearchOpts{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Content != "go concurrency patterns" {
		t.Errorf("unexpected top result: %q", results[0].Content)
	}
}

func TestStore_SearchFiltersBySession(t *testing.T) {
	s, err := NewStore(t.TempDir(), nil, 90)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	ctx := context.Background()
	if _, err := s.Store(ctx, Entry{Content: "session one note", SessionID: "s1"}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, err := s.Store(ctx, Entry{Content: "session two note", SessionID: "s2"}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	results, err := s.Search(ctx, "note", SearchOpts{SessionID: "s1"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].SessionID != "s1" {
		t.Fatalf("expected 1 result scoped to s1, got %+v", results)
	}
}

func TestStore_DeleteRemovesEntry(t *testing.T) {
	s, err := NewStore(t.TempDir(), nil, 90)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	ctx := context.Background()
	entry, err := s.Store(ctx, Entry{Content: "ephemeral"})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := s.Delete(ctx, entry.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := s.GetByID(entry.ID); ok {
		t.Error("expected entry to be gone after delete")
	}
}

func TestStore_ClearSession(t *testing.T) {
	s, err := NewStore(t.TempDir(), nil, 90)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	ctx := context.Background()
	s.Store(ctx, Entry{Content: "a", SessionID: "target"})
	s.Store(ctx, Entry{Content: "b", SessionID: "target"})
	s.Store(ctx, Entry{Content: "c", SessionID: "other"})

	n, err := s.ClearSession(ctx, "target")
	if err != nil {
		t.Fatalf("ClearSession failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 cleared, got %d", n)
	}
	if len(s.GetRecent("other", 10)) != 1 {
		t.Error("expected unrelated session to survive")
	}
}

func TestStore_GetStats(t *testing.T) {
	s, err := NewStore(t.TempDir(), nil, 90)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	ctx := context.Background()
	s.Store(ctx, Entry{Content: "a", Category: "fact"})
	s.Store(ctx, Entry{Content: "b", Category: "fact"})
	s.Store(ctx, Entry{Content: "c", Category: "note"})

	stats := s.GetStats()
	if stats.Total != 3 {
		t.Errorf("expected total 3, got %d", stats.Total)
	}
	if stats.ByCategory["fact"] != 2 {
		t.Errorf("expected 2 facts, got %d", stats.ByCategory["fact"])
	}
}

func TestStore_CleanupExpired(t *testing.T) {
	s, err := NewStore(t.TempDir(), nil, 1)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	ctx := context.Background()
	entry, err := s.Store(ctx, Entry{Content: "old news"})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	stale := s.entries[entry.ID]
	stale.CreatedAt = time.Now().AddDate(0, 0, -30)

	result := s.CleanupExpired(ctx)
	if result.Deleted != 1 {
		t.Errorf("expected 1 deleted, got %d (errors: %v)", result.Deleted, result.Errors)
	}
	if _, ok := s.GetByID(entry.ID); ok {
		t.Error("expected expired entry to be gone")
	}
}

func TestStore_PersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewStore(dir, nil, 90)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	entry, err := s1.Store(context.Background(), Entry{Content: "durable note"})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	s2, err := NewStore(dir, nil, 90)
	if err != nil {
		t.Fatalf("reopen NewStore failed: %v", err)
	}
	got, ok := s2.GetByID(entry.ID)
	if !ok {
		t.Fatal("expected entry to survive reload")
	}
	if got.Content != "durable note" {
		t.Errorf("unexpected content after reload: %q", got.Content)
	}
}
