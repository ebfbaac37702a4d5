// Package routing implements the Model Router (C7): per-turn model
// selection based on vision/tool requirements, a complexity score, and
// configurable keyword overrides, grounded on the rule/candidate/priority
// idiom of a production multi-provider LLM router but adapted to the
// level-based target selection this system specifies (§4.7).
package routing

import (
	"regexp"
	"sort"
	"strings"

	"github.com/corvidae/relay/pkg/bus"
	"github.com/corvidae/relay/pkg/providers"
)

// Level is one of the five routing tiers, ordered fast < low < medium <
// high < ultra.
type Level string

const (
	LevelFast   Level = "fast"
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
	LevelUltra  Level = "ultra"
)

var levelOrder = map[Level]int{
	LevelFast: 0, LevelLow: 1, LevelMedium: 2, LevelHigh: 3, LevelUltra: 4,
}

var orderedLevels = []Level{LevelFast, LevelLow, LevelMedium, LevelHigh, LevelUltra}

// KeywordRule overrides the score-derived level when a user message matches.
type KeywordRule struct {
	Keywords    []string
	MinLength   *int
	MaxLength   *int
	TargetLevel Level
	Priority    int // higher wins among matching rules
}

// Config tunes the complexity score and its mapping to a Level.
type Config struct {
	BaseScore      float64
	LengthWeight   float64
	CodeBlockScore float64
	ToolCallScore  float64
	MultiTurnScore float64
	// LevelThresholds maps a level to the minimum score required to reach
	// it; must be monotonically increasing across orderedLevels.
	LevelThresholds map[Level]float64
	ToolKeywords    []string
	KeywordRules    []KeywordRule
}

// DefaultConfig returns reasonable complexity-scoring defaults.
func DefaultConfig() Config {
	return Config{
		BaseScore:      1,
		LengthWeight:   0.5,
		CodeBlockScore: 2,
		ToolCallScore:  1.5,
		MultiTurnScore: 0.2,
		LevelThresholds: map[Level]float64{
			LevelFast:   0,
			LevelLow:    3,
			LevelMedium: 6,
			LevelHigh:   10,
			LevelUltra:  15,
		},
	}
}

// Candidate is one selectable (provider, model) pair.
type Candidate struct {
	ProviderName     string
	ProviderPriority int
	Model            providers.ModelDescriptor
}

// Router selects a model per turn per §4.7.
type Router struct {
	cfg Config
}

// New creates a Router with cfg, filling in defaults for a zero Config.
func New(cfg Config) *Router {
	if cfg.LevelThresholds == nil {
		cfg = DefaultConfig()
	}
	return &Router{cfg: cfg}
}

var fencedBlockRe = regexp.MustCompile("```")

// SelectModel implements §4.7's selection procedure. maxMode forces the
// target level to ultra regardless of the computed score.
func (r *Router) SelectModel(messages []providers.Message, maxMode bool, candidates []Candidate) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, errNoCandidates
	}

	visionRequired := r.visionRequired(messages)
	lastUserText := lastUserText(messages)
	toolRequired := r.toolRequired(lastUserText)

	target := r.computeLevel(messages, toolRequired)
	if override, ok := r.matchKeywordRule(lastUserText); ok {
		target = override
	}
	if maxMode {
		target = LevelUltra
	}

	pool := candidates
	if visionRequired {
		pool = filterCandidates(pool, func(c Candidate) bool { return c.Model.Capabilities.Vision })
	}
	if toolRequired {
		pool = filterCandidates(pool, func(c Candidate) bool { return c.Model.Capabilities.Tools })
	}
	if len(pool) == 0 {
		return Candidate{}, errNoCandidates
	}

	return pickClosest(pool, target, maxMode), nil
}

func (r *Router) visionRequired(messages []providers.Message) bool {
	for _, m := range messages {
		if m.Role != "user" {
			continue
		}
		for _, part := range m.ContentParts {
			if part.Type == "image" {
				return true
			}
		}
	}
	return false
}

func (r *Router) toolRequired(lastUserText string) bool {
	lower := strings.ToLower(lastUserText)
	for _, kw := range r.cfg.ToolKeywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func lastUserText(messages []providers.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func (r *Router) computeLevel(messages []providers.Message, toolRequired bool) Level {
	var totalLength int
	var codeBlocks int
	for _, m := range messages {
		totalLength += len(m.Content)
		codeBlocks += len(fencedBlockRe.FindAllString(m.Content, -1)) / 2
	}

	toolScore := 0.0
	if toolRequired {
		toolScore = 1
	}

	score := r.cfg.BaseScore +
		float64(totalLength/100)*r.cfg.LengthWeight +
		float64(codeBlocks)*r.cfg.CodeBlockScore +
		toolScore*r.cfg.ToolCallScore +
		float64(len(messages))*r.cfg.MultiTurnScore

	level := LevelFast
	for _, l := range orderedLevels {
		if threshold, ok := r.cfg.LevelThresholds[l]; ok && score >= threshold {
			level = l
		}
	}
	return level
}

func (r *Router) matchKeywordRule(text string) (Level, bool) {
	lower := strings.ToLower(text)
	length := len(text)

	var best *KeywordRule
	for i := range r.cfg.KeywordRules {
		rule := r.cfg.KeywordRules[i]
		if rule.MinLength != nil && length < *rule.MinLength {
			continue
		}
		if rule.MaxLength != nil && length > *rule.MaxLength {
			continue
		}
		matched := false
		for _, kw := range rule.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(kw)) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if best == nil || rule.Priority > best.Priority {
			best = &r.cfg.KeywordRules[i]
		}
	}
	if best == nil {
		return "", false
	}
	return best.TargetLevel, true
}

func filterCandidates(in []Candidate, keep func(Candidate) bool) []Candidate {
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// pickClosest prefers candidates whose level equals target; failing that,
// the candidate whose level is closest to target, ties broken toward the
// higher level in Max mode and the lower level otherwise. Final tie-break:
// provider priority ascending, then model id ascending.
func pickClosest(candidates []Candidate, target Level, maxMode bool) Candidate {
	targetIdx := levelOrder[target]

	best := candidates[0]
	bestDist := levelDistance(best.Model.Level, targetIdx)
	for _, c := range candidates[1:] {
		dist := levelDistance(c.Model.Level, targetIdx)
		switch {
		case dist < bestDist:
			best, bestDist = c, dist
		case dist == bestDist:
			if preferOver(c, best, targetIdx, maxMode) {
				best = c
			}
		}
	}
	return best
}

func levelDistance(level string, targetIdx int) int {
	idx, ok := levelOrder[Level(level)]
	if !ok {
		idx = levelOrder[LevelMedium]
	}
	d := idx - targetIdx
	if d < 0 {
		d = -d
	}
	return d
}

func preferOver(c, best Candidate, targetIdx int, maxMode bool) bool {
	cIdx := levelOrder[Level(c.Model.Level)]
	bestIdx := levelOrder[Level(best.Model.Level)]
	if cIdx != bestIdx {
		if maxMode {
			return cIdx > bestIdx
		}
		return cIdx < bestIdx
	}
	if c.ProviderPriority != best.ProviderPriority {
		return c.ProviderPriority < best.ProviderPriority
	}
	return c.Model.ID < best.Model.ID
}

// mediaHasImage reports whether any attached media part is an image; kept
// separate from visionRequired so callers with raw attachments (outside the
// message list) can also drive routing.
func mediaHasImage(parts []bus.ContentPart) bool {
	for _, p := range parts {
		if p.Type == "image" {
			return true
		}
	}
	return false
}

var errNoCandidates = routerError("no candidate models available")

type routerError string

func (e routerError) Error() string { return string(e) }
