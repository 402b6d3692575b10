package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "watch"))
	log.Info("cycle finished", Int("checked", 3), Err(errors.New("boom")))
	log.Trace("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %d (%q)", len(lines), buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["comp"] != "watch" || m["message"] != "cycle finished" || m["checked"] != float64(3) {
		t.Fatalf("entry = %v", m)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Info("ignored")
	l.With(String("k", "v")).Warn("ignored")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatChatLine(t *testing.T) {
	t.Parallel()
	got := formatChatLine([]byte(`{"level":"warn","time":"x","message":"fetch failed","url":"https://a.test/"}`))
	if !strings.HasPrefix(got, "[WARN] fetch failed") || !strings.Contains(got, "- url=https://a.test/") || strings.Contains(got, "time=") {
		t.Fatalf("chat line = %q", got)
	}
	if got := formatChatLine([]byte("not json")); got != "not json" {
		t.Fatalf("raw line = %q", got)
	}
	if got := truncate(strings.Repeat("x", 50), 20); len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate = %q", got)
	}
}
