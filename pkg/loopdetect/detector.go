// Package loopdetect implements the Loop Detector (C8): it watches the tool
// calls made during a single agent turn (the iteration loop in pkg/agent)
// and flags repetition, ping-pong alternation, and runaway iteration counts
// before they burn through the turn's budget.
package loopdetect

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Severity classifies a detected loop.
type Severity string

const (
	SeverityNone     Severity = ""
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Kind names which check fired.
type Kind string

const (
	KindNone          Kind = ""
	KindRepetition    Kind = "repetition"
	KindPingPong      Kind = "ping-pong"
	KindCircuitBreaker Kind = "circuit-breaker"
)

// Result is what detectLoop returns.
type Result struct {
	Kind     Kind
	Severity Severity
	Detail   string
}

func (r Result) Detected() bool { return r.Kind != KindNone }

// Terminal reports whether this result should end the agent turn.
func (r Result) Terminal() bool { return r.Severity == SeverityCritical }

// Config tunes the detector's thresholds (§4.8).
type Config struct {
	WarningThreshold     int
	CriticalThreshold    int
	GlobalCircuitBreaker int
}

// DefaultConfig mirrors the spec's stated defaults, with a circuit breaker
// set relative to a caller-supplied maxIterations at construction time.
func DefaultConfig(maxIterations int) Config {
	return Config{
		WarningThreshold:     3,
		CriticalThreshold:    5,
		GlobalCircuitBreaker: maxIterations + 10,
	}
}

type record struct {
	name string
	args string // canonicalized JSON
}

// Detector tracks calls made during a single agent turn. Not safe for
// concurrent use by design — one Detector per in-flight turn.
type Detector struct {
	cfg     Config
	records []record
	counts  map[record]int
}

// New creates a Detector for one agent turn.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg, counts: make(map[record]int)}
}

// RecordCall appends a (toolName, arguments) observation and updates the
// frequency table. args is canonicalized (object keys sorted recursively)
// before comparison so equivalent-but-differently-ordered JSON collapses to
// the same key.
func (d *Detector) RecordCall(name string, args map[string]interface{}) {
	canon := canonicalize(args)
	r := record{name: name, args: canon}
	d.records = append(d.records, r)
	d.counts[r]++
}

// DetectLoop runs the three checks in priority order: repetition, then
// ping-pong, then the global circuit breaker (§4.8).
func (d *Detector) DetectLoop() Result {
	if res := d.detectRepetition(); res.Detected() {
		return res
	}
	if res := d.detectPingPong(); res.Detected() {
		return res
	}
	if res := d.detectCircuitBreaker(); res.Detected() {
		return res
	}
	return Result{}
}

func (d *Detector) detectRepetition() Result {
	for r, count := range d.counts {
		if count >= d.cfg.CriticalThreshold {
			return Result{
				Kind: KindRepetition, Severity: SeverityCritical,
				Detail: fmt.Sprintf("tool %q called %d times with identical arguments", r.name, count),
			}
		}
	}
	for r, count := range d.counts {
		if count >= d.cfg.WarningThreshold {
			return Result{
				Kind: KindRepetition, Severity: SeverityWarning,
				Detail: fmt.Sprintf("tool %q called %d times with identical arguments", r.name, count),
			}
		}
	}
	return Result{}
}

// detectPingPong flags the last four tool names forming pattern ABAB with
// A != B.
func (d *Detector) detectPingPong() Result {
	n := len(d.records)
	if n < 4 {
		return Result{}
	}
	a := d.records[n-4].name
	b := d.records[n-3].name
	c := d.records[n-2].name
	e := d.records[n-1].name
	if a != b && a == c && b == e {
		return Result{
			Kind: KindPingPong, Severity: SeverityWarning,
			Detail: fmt.Sprintf("alternating between %q and %q", a, b),
		}
	}
	return Result{}
}

func (d *Detector) detectCircuitBreaker() Result {
	if len(d.records) >= d.cfg.GlobalCircuitBreaker {
		return Result{
			Kind: KindCircuitBreaker, Severity: SeverityCritical,
			Detail: fmt.Sprintf("%d tool calls made this turn, exceeding the global circuit breaker", len(d.records)),
		}
	}
	return Result{}
}

// canonicalize produces a stable JSON encoding of args with object keys
// sorted recursively, so that {"a":1,"b":2} and {"b":2,"a":1} compare equal.
func canonicalize(args map[string]interface{}) string {
	enc, err := json.Marshal(sortKeys(args))
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(enc)
}

func sortKeys(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make([]canonicalEntry, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, canonicalEntry{Key: k, Value: sortKeys(val[k])})
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = sortKeys(item)
		}
		return out
	default:
		return val
	}
}

// canonicalEntry marshals as a fixed {"key":...,"value":...} pair so map
// iteration order never affects the resulting JSON bytes.
type canonicalEntry struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}
