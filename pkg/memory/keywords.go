package memory

import (
	"sort"
	"strings"
	"unicode"
)

// extractKeywords tokenizes text into the keyword set used by fulltext
// scoring: lowercase contiguous ASCII-letter runs of length >= 2, all
// 2-grams (and, if >= 4 CJK code points are present, 3-grams) of CJK code
// points, and digit runs of length >= 2.
func extractKeywords(text string) []string {
	lower := strings.ToLower(text)
	runes := []rune(lower)

	var keywords []string
	var asciiRun, digitRun []rune
	var cjkRunes []rune

	flushASCII := func() {
		if len(asciiRun) >= 2 {
			keywords = append(keywords, string(asciiRun))
		}
		asciiRun = asciiRun[:0]
	}
	flushDigits := func() {
		if len(digitRun) >= 2 {
			keywords = append(keywords, string(digitRun))
		}
		digitRun = digitRun[:0]
	}

	for _, r := range runes {
		switch {
		case r >= 'a' && r <= 'z':
			flushDigits()
			asciiRun = append(asciiRun, r)
		case unicode.IsDigit(r) && r < unicode.MaxASCII:
			flushASCII()
			digitRun = append(digitRun, r)
		case isCJK(r):
			flushASCII()
			flushDigits()
			cjkRunes = append(cjkRunes, r)
		default:
			flushASCII()
			flushDigits()
		}
	}
	flushASCII()
	flushDigits()

	if len(cjkRunes) >= 2 {
		for i := 0; i+1 < len(cjkRunes); i++ {
			keywords = append(keywords, string(cjkRunes[i:i+2]))
		}
	}
	if len(cjkRunes) >= 4 {
		for i := 0; i+2 < len(cjkRunes); i++ {
			keywords = append(keywords, string(cjkRunes[i:i+3]))
		}
	}

	return dedupe(keywords)
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// scoreFulltext scores content against query keywords: the sum, over every
// extracted query keyword, of how many times it occurs as a substring of
// the lowercased content.
func scoreFulltext(content, query string) int {
	keywords := extractKeywords(query)
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	score := 0
	for _, kw := range keywords {
		score += strings.Count(lower, kw)
	}
	return score
}

// fulltextRanked is a helper for hybrid merge: sorted by score desc, ties
// broken by recency (caller supplies entries already in createdAt-desc
// order so a stable sort preserves that as the tiebreak).
func fulltextRanked(entries []Entry, query string, limit int) []Entry {
	type scored struct {
		entry Entry
		score int
	}
	candidates := make([]scored, 0, len(entries))
	for _, e := range entries {
		sc := scoreFulltext(e.Content, query)
		if sc > 0 {
			candidates = append(candidates, scored{entry: e, score: sc})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]Entry, len(candidates))
	for i, c := range candidates {
		out[i] = c.entry
	}
	return out
}
