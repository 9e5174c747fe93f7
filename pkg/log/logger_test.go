package log

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWithWriter_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, &Config{Level: "debug", Format: "text"})
	l.Debug("checkpoint saved", "agent_id", "agent:1")
	if !strings.Contains(buf.String(), "agent_id=agent:1") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arp.log")
	l, err := NewLogger(&Config{File: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.Info("hello")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
