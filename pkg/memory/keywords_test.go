package memory

import (
	"reflect"
	"testing"
	"time"
)

func fixedTime(offsetMinutes int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(offsetMinutes) * time.Minute)
}

func TestExtractKeywords_ASCII(t *testing.T) {
	got := extractKeywords("The Quick brown Fox")
	want := []string{"the", "quick", "brown", "fox"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExtractKeywords_SingleLetterDropped(t *testing.T) {
	got := extractKeywords("a b cd")
	want := []string{"cd"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExtractKeywords_DigitRuns(t *testing.T) {
	got := extractKeywords("room 42 at gate 7")
	for _, kw := range got {
		if kw == "7" {
			t.Errorf("single digit run should be dropped, got %v", got)
		}
	}
	found := false
	for _, kw := range got {
		if kw == "42" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected digit run '42' in %v", got)
	}
}

func TestExtractKeywords_CJKBigrams(t *testing.T) {
	got := extractKeywords("你好世界")
	if len(got) == 0 {
		t.Fatal("expected CJK bigrams/trigrams")
	}
	hasBigram := false
	hasTrigram := false
	for _, kw := range got {
		if kw == "你好" {
			hasBigram = true
		}
		if kw == "你好世" {
			hasTrigram = true
		}
	}
	if !hasBigram {
		t.Errorf("expected bigram '你好' in %v", got)
	}
	if !hasTrigram {
		t.Errorf("expected trigram '你好世' (>=4 CJK chars) in %v", got)
	}
}

func TestScoreFulltext_SumsOccurrences(t *testing.T) {
	score := scoreFulltext("the cat sat on the mat", "the")
	if score != 2 {
		t.Errorf("expected score 2, got %d", score)
	}
}

func TestScoreFulltext_NoMatch(t *testing.T) {
	score := scoreFulltext("completely unrelated text", "xyzzy")
	if score != 0 {
		t.Errorf("expected score 0, got %d", score)
	}
}

func TestFulltextRanked_OrdersByScoreThenRecency(t *testing.T) {
	older := Entry{ID: "a", Content: "go testing patterns", CreatedAt: fixedTime(1)}
	newer := Entry{ID: "b", Content: "go testing patterns in depth", CreatedAt: fixedTime(2)}
	low := Entry{ID: "c", Content: "unrelated content", CreatedAt: fixedTime(3)}

	// Callers pass entries newest first; the stable sort keeps that order
	// for equal scores.
	out := fulltextRanked([]Entry{newer, older, low}, "go testing", 10)
	if len(out) != 2 {
		t.Fatalf("expected 2 scored entries, got %d", len(out))
	}
	if out[0].ID != "b" {
		t.Errorf("expected entry 'b' (equal score, more recent) first, got %q", out[0].ID)
	}
}

func TestMergeByReciprocalRank_CombinesBothLists(t *testing.T) {
	a := Entry{ID: "a", CreatedAt: fixedTime(1)}
	b := Entry{ID: "b", CreatedAt: fixedTime(2)}
	c := Entry{ID: "c", CreatedAt: fixedTime(3)}

	vecRanked := []Entry{a, b}
	fullRanked := []Entry{b, c}

	merged := mergeByReciprocalRank(vecRanked, fullRanked, 10)
	if len(merged) != 3 {
		t.Fatalf("expected 3 merged entries, got %d", len(merged))
	}
	if merged[0].ID != "b" {
		t.Errorf("expected entry ranked in both lists to win, got %q", merged[0].ID)
	}
}
