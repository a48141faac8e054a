package logging

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap/zapcore"
)

type captureLogger struct {
	mu    sync.Mutex
	lines [][]interface{}
}

func (c *captureLogger) record(msg string, kv []interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, append([]interface{}{msg}, kv...))
}

func (c *captureLogger) Infow(msg string, kv ...interface{})  { c.record(msg, kv) }
func (c *captureLogger) Debugw(msg string, kv ...interface{}) { c.record(msg, kv) }
func (c *captureLogger) Warnw(msg string, kv ...interface{})  { c.record(msg, kv) }
func (c *captureLogger) Errorw(msg string, kv ...interface{}) { c.record(msg, kv) }
func (c *captureLogger) Fatalw(msg string, kv ...interface{}) { c.record(msg, kv) }
func (c *captureLogger) Sync() error                          { return nil }

func TestInfowCtxMergesContextFields(t *testing.T) {
	cl := &captureLogger{}
	SetLogger(cl)
	defer SetLogger(nil)

	ctx := WithFields(context.Background(), "correlation_id", "abc")
	ctx = WithFields(ctx, "stage", "transcribe")
	InfowCtx(ctx, "hello", "bytes", 12)

	if len(cl.lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(cl.lines))
	}
	got := cl.lines[0]
	want := []interface{}{"hello", "correlation_id", "abc", "stage", "transcribe", "bytes", 12}
	if len(got) != len(want) {
		t.Fatalf("unexpected fields: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("field %d: want=%v got=%v", i, want[i], got[i])
		}
	}
}

func TestWithFieldsNoopOnEmpty(t *testing.T) {
	ctx := context.Background()
	if WithFields(ctx) != ctx {
		t.Fatalf("expected same context when no fields given")
	}
	if FromContext(ctx) != nil {
		t.Fatalf("expected no fields on bare context")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}
