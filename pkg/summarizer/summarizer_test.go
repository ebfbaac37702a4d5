package summarizer

import (
	"context"
	"testing"
	"time"

	"github.com/corvidae/relay/pkg/providers"
)

type fakeChat struct {
	response string
	err      error
	calls    int
}

func (f *fakeChat) Chat(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.LLMResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &providers.LLMResponse{Content: f.response}, nil
}

func TestShouldSummarize(t *testing.T) {
	s := New(&fakeChat{}, Config{MinMessages: 3})

	if s.ShouldSummarize(make([]providers.Message, 2)) {
		t.Error("expected false below threshold")
	}
	if !s.ShouldSummarize(make([]providers.Message, 3)) {
		t.Error("expected true at threshold")
	}
}

func TestSummarize_FencedJSON(t *testing.T) {
	chat := &fakeChat{response: "Sure, here you go:\n```json\n{\"topic\":\"go testing\",\"keyPoints\":[\"a\",\"b\"],\"decisions\":[],\"todos\":[],\"entities\":[]}\n```"}
	s := New(chat, Config{})

	summary, err := s.Summarize(context.Background(), []providers.Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if summary.Topic != "go testing" {
		t.Errorf("unexpected topic: %q", summary.Topic)
	}
	if len(summary.KeyPoints) != 2 {
		t.Errorf("expected 2 key points, got %d", len(summary.KeyPoints))
	}
	if chat.calls != 1 {
		t.Errorf("expected 1 chat call, got %d", chat.calls)
	}
}

func TestSummarize_BareJSON(t *testing.T) {
	chat := &fakeChat{response: `{"topic":"deploy plan","keyPoints":[],"decisions":["ship friday"],"todos":[],"entities":[]}`}
	s := New(chat, Config{})

	summary, err := s.Summarize(context.Background(), []providers.Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if summary.Topic != "deploy plan" {
		t.Errorf("unexpected topic: %q", summary.Topic)
	}
	if len(summary.Decisions) != 1 || summary.Decisions[0] != "ship friday" {
		t.Errorf("unexpected decisions: %v", summary.Decisions)
	}
}

func TestSummarize_MalformedJSON_ReturnsEmptyDefaults(t *testing.T) {
	chat := &fakeChat{response: "not json at all"}
	s := New(chat, Config{})

	summary, err := s.Summarize(context.Background(), []providers.Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Summarize should not fail on malformed content: %v", err)
	}
	if summary.Topic != "" || len(summary.KeyPoints) != 0 {
		t.Errorf("expected empty-default summary, got %+v", summary)
	}
}

func TestSummarize_GatewayErrorPropagates(t *testing.T) {
	chat := &fakeChat{err: errTest}
	s := New(chat, Config{})

	if _, err := s.Summarize(context.Background(), []providers.Message{{Role: "user", Content: "hi"}}); err == nil {
		t.Error("expected error to propagate")
	}
}

var errTest = errFixture("gateway unavailable")

type errFixture string

func (e errFixture) Error() string { return string(e) }

func TestManager_RecordActivityAndSweep(t *testing.T) {
	chat := &fakeChat{response: `{"topic":"idle chat","keyPoints":[],"decisions":[],"todos":[],"entities":[]}`}
	s := New(chat, Config{MinMessages: 1, CheckInterval: time.Minute})
	m := NewManager(s)

	m.RecordActivity("session-1")

	m.mu.Lock()
	m.lastActive["session-1"] = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	summarized := make(chan string, 1)
	m.sweep(context.Background(), time.Minute, func(key string) []providers.Message {
		return []providers.Message{{Role: "user", Content: "hello"}}
	}, func(key string, summary *Summary) {
		summarized <- key
	})

	select {
	case key := <-summarized:
		if key != "session-1" {
			t.Errorf("unexpected session key: %q", key)
		}
	default:
		t.Error("expected sweep to summarize idle session")
	}
}
