package logging

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	l := &Logger{mu: &mu, out: &buf, component: "test", level: LevelWarn}

	l.Infof("should be suppressed")
	l.Warnf("should appear")

	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Fatalf("expected info line to be suppressed below warn level: %q", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Fatalf("expected warn line to be emitted: %q", out)
	}
	if !strings.Contains(out, "[test]") {
		t.Fatalf("expected component tag in output: %q", out)
	}
}

func TestWithFieldsAppendsKeyValues(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	l := &Logger{mu: &mu, out: &buf, component: "test", level: LevelDebug}

	l.WithFields(map[string]any{"slot": int64(42)}).Infof("decoded")

	if !strings.Contains(buf.String(), "slot=42") {
		t.Fatalf("expected field in output: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug": LevelDebug,
		"WARN":  LevelWarn,
		"error": LevelError,
		"":      LevelInfo,
		"bogus": LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
