package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Format: "json", Output: &buf})

	l.Info("client connected", "conn", "01HZX", "remote", "127.0.0.1:5000")

	var entry map[string]any

	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}

	if entry["msg"] != "client connected" || entry["conn"] != "01HZX" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Format: "text", Output: &buf})

	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()

	if strings.Contains(out, "hidden") {
		t.Errorf("info entry logged at warn level: %q", out)
	}

	if !strings.Contains(out, "shown") {
		t.Errorf("warn entry missing: %q", out)
	}

	SetLevel("debug")
	l.Debug("now visible")

	if !strings.Contains(buf.String(), "now visible") {
		t.Error("SetLevel(debug) did not take effect")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}

	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
