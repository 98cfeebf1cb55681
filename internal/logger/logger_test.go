package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"  error  ", slog.LevelError},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.raw); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestInitSetsDefault(t *testing.T) {
	prev := L
	defer func() {
		L = prev
		slog.SetDefault(prev)
	}()

	log := Init("debug", "json")
	if log == nil {
		t.Fatal("expected non-nil logger")
	}
	if L != log {
		t.Fatal("expected L to be replaced by Init")
	}
	if !log.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected debug level to be enabled")
	}
}
