package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	for _, tc := range []struct{ json, debug bool }{{false, false}, {true, true}} {
		l, err := New(tc.json, tc.debug)
		if err != nil {
			t.Fatalf("New(%v, %v) returned error: %v", tc.json, tc.debug, err)
		}
		if got := l.Core().Enabled(zapcore.DebugLevel); got != tc.debug {
			t.Fatalf("debug enabled = %v, want %v", got, tc.debug)
		}
	}
}

func TestWithFields(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	enriched := WithFields(logger, zap.String("foo", "bar"))
	enriched.Info("test log")

	entries := observed.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	ctx := entries[0].ContextMap()
	if ctx["foo"] != "bar" {
		t.Fatalf("expected field to be bar, got %q", ctx["foo"])
	}

	enriched = WithFields(nil, zap.String("baz", "qux"))
	if enriched == nil {
		t.Fatalf("expected fallback logger when nil provided")
	}
	enriched.Info("another log")
}

func TestJobFields(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	zap.New(core).Info("job", JobFields(" job-1 ", "app-1", 2)...)

	ctx := observed.All()[0].ContextMap()
	if ctx[FieldJobID] != "job-1" {
		t.Fatalf("expected job id job-1, got %v", ctx[FieldJobID])
	}
	if ctx[FieldApplicationID] != "app-1" {
		t.Fatalf("expected application id app-1, got %v", ctx[FieldApplicationID])
	}
	if ctx[FieldAttempts] != int64(2) {
		t.Fatalf("expected attempts 2, got %v", ctx[FieldAttempts])
	}

	if fields := JobFields("", "  ", 0); len(fields) != 1 {
		t.Fatalf("expected only the attempts field, got %d fields", len(fields))
	}
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in    string
		limit int
		want  string
	}{
		{"short", 10, "short"},
		{"  padded  ", 10, "padded"},
		{"héllo world", 5, "héllo..."},
		{"anything", 0, ""},
	}
	for _, tc := range cases {
		if got := Truncate(tc.in, tc.limit); got != tc.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tc.in, tc.limit, got, tc.want)
		}
	}
}
