package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != InfoLevel {
		t.Errorf("expected Level to be InfoLevel, got %v", cfg.Level)
	}
	if cfg.Output != nil {
		t.Errorf("expected Output to be nil")
	}
	if cfg.TimeFormat != time.RFC3339 {
		t.Errorf("expected TimeFormat to be RFC3339, got %s", cfg.TimeFormat)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", DebugLevel},
		{"  debug  ", DebugLevel},
		{"info", InfoLevel},
		{"WARN", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"off", Disabled},
		{"NONE", Disabled},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, expected %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestInitFiltersByLevel(t *testing.T) {
	t.Cleanup(func() { Init(DefaultConfig()) })
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Level = WarnLevel
	cfg.Output = &buf
	Init(cfg)

	Debug().Msg("hidden debug")
	Info().Msg("hidden info")
	Warn().Msg("shown warn")
	Error().Msg("shown error")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected debug and info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "shown warn") || !strings.Contains(out, "shown error") {
		t.Errorf("expected warn and error lines, got %q", out)
	}
}

func TestNilOutputDiscards(t *testing.T) {
	Init(DefaultConfig())
	if Logger.GetLevel() != Disabled {
		t.Errorf("expected a disabled logger, got level %v", Logger.GetLevel())
	}
}

func TestComponentTagsLines(t *testing.T) {
	t.Cleanup(func() { Init(DefaultConfig()) })
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &buf
	Init(cfg)

	log := Component("backend")
	log.Info().Msg("ready")
	if !strings.Contains(buf.String(), `"component":"backend"`) {
		t.Errorf("expected component field, got %q", buf.String())
	}
}

func TestOpenFileCreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "console.log")
	file, err := OpenFile(path)
	if err != nil {
		t.Fatalf("expected file to open, got %v", err)
	}
	defer file.Close()
	if _, err := file.WriteString("line\n"); err != nil {
		t.Fatalf("expected write to succeed, got %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "line\n" {
		t.Errorf("expected file contents %q, got %q (%v)", "line\n", data, err)
	}
}
