package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"info":  slog.LevelInfo,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("ParseLevel accepted unknown level")
	}
}

func TestComponentAttribute(t *testing.T) {
	var buf bytes.Buffer
	Init(slog.LevelInfo, "json", &buf)
	New("engine").Info("started")
	if !strings.Contains(buf.String(), `"component":"engine"`) {
		t.Errorf("component attribute missing: %s", buf.String())
	}
}
