package loopdetect

import "testing"

func TestDetectLoop_NoIssue(t *testing.T) {
	d := New(Config{WarningThreshold: 3, CriticalThreshold: 5, GlobalCircuitBreaker: 100})
	d.RecordCall("exec", map[string]interface{}{"command": "ls"})
	d.RecordCall("read", map[string]interface{}{"path": "a.go"})

	if res := d.DetectLoop(); res.Detected() {
		t.Errorf("expected no loop detected, got %+v", res)
	}
}

func TestDetectLoop_RepetitionWarning(t *testing.T) {
	d := New(Config{WarningThreshold: 3, CriticalThreshold: 5, GlobalCircuitBreaker: 100})
	for i := 0; i < 3; i++ {
		d.RecordCall("exec", map[string]interface{}{"command": "ls"})
	}

	res := d.DetectLoop()
	if res.Kind != KindRepetition || res.Severity != SeverityWarning {
		t.Errorf("expected repetition warning, got %+v", res)
	}
	if res.Terminal() {
		t.Error("warning severity should not be terminal")
	}
}

func TestDetectLoop_RepetitionCritical(t *testing.T) {
	d := New(Config{WarningThreshold: 3, CriticalThreshold: 5, GlobalCircuitBreaker: 100})
	for i := 0; i < 5; i++ {
		d.RecordCall("exec", map[string]interface{}{"command": "ls"})
	}

	res := d.DetectLoop()
	if res.Kind != KindRepetition || res.Severity != SeverityCritical {
		t.Errorf("expected repetition critical, got %+v", res)
	}
	if !res.Terminal() {
		t.Error("critical severity should be terminal")
	}
}

func TestDetectLoop_CanonicalizesArgumentOrder(t *testing.T) {
	d := New(Config{WarningThreshold: 2, CriticalThreshold: 5, GlobalCircuitBreaker: 100})
	d.RecordCall("search", map[string]interface{}{"a": 1, "b": 2})
	d.RecordCall("search", map[string]interface{}{"b": 2, "a": 1})

	res := d.DetectLoop()
	if res.Kind != KindRepetition {
		t.Errorf("expected key-order-independent args to count as repeats, got %+v", res)
	}
}

func TestDetectLoop_DifferentArgumentsDoNotCountAsRepeats(t *testing.T) {
	d := New(Config{WarningThreshold: 2, CriticalThreshold: 5, GlobalCircuitBreaker: 100})
	d.RecordCall("search", map[string]interface{}{"query": "foo"})
	d.RecordCall("search", map[string]interface{}{"query": "bar"})

	if res := d.DetectLoop(); res.Detected() {
		t.Errorf("expected no loop for distinct arguments, got %+v", res)
	}
}

func TestDetectLoop_PingPong(t *testing.T) {
	d := New(Config{WarningThreshold: 10, CriticalThreshold: 20, GlobalCircuitBreaker: 100})
	d.RecordCall("read", map[string]interface{}{"path": "a"})
	d.RecordCall("write", map[string]interface{}{"path": "b"})
	d.RecordCall("read", map[string]interface{}{"path": "c"})
	d.RecordCall("write", map[string]interface{}{"path": "d"})

	res := d.DetectLoop()
	if res.Kind != KindPingPong || res.Severity != SeverityWarning {
		t.Errorf("expected ping-pong warning, got %+v", res)
	}
}

func TestDetectLoop_PingPongRequiresDistinctNames(t *testing.T) {
	d := New(Config{WarningThreshold: 10, CriticalThreshold: 20, GlobalCircuitBreaker: 100})
	d.RecordCall("read", map[string]interface{}{"path": "a"})
	d.RecordCall("read", map[string]interface{}{"path": "b"})
	d.RecordCall("read", map[string]interface{}{"path": "c"})
	d.RecordCall("read", map[string]interface{}{"path": "d"})

	if res := d.DetectLoop(); res.Kind == KindPingPong {
		t.Error("same tool name four times should not count as ping-pong")
	}
}

func TestDetectLoop_CircuitBreaker(t *testing.T) {
	d := New(Config{WarningThreshold: 100, CriticalThreshold: 100, GlobalCircuitBreaker: 5})
	for i := 0; i < 5; i++ {
		d.RecordCall("tool", map[string]interface{}{"i": i})
	}

	res := d.DetectLoop()
	if res.Kind != KindCircuitBreaker || res.Severity != SeverityCritical {
		t.Errorf("expected circuit breaker critical, got %+v", res)
	}
}

func TestDefaultConfig_DerivesFromMaxIterations(t *testing.T) {
	cfg := DefaultConfig(20)
	if cfg.GlobalCircuitBreaker != 30 {
		t.Errorf("expected circuit breaker 30, got %d", cfg.GlobalCircuitBreaker)
	}
	if cfg.WarningThreshold != 3 || cfg.CriticalThreshold != 5 {
		t.Errorf("unexpected default thresholds: %+v", cfg)
	}
}
