package logger

import (
	"errors"
	"log/slog"
	"os"
	"testing"
)

func TestScope(t *testing.T) {
	tests := []struct {
		name  string
		scope string
		want  string
	}{
		{"basic scope", "jobs", "jobs"},
		{"nested scope", "videos.ingest", "videos.ingest"},
		{"empty scope", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr := Scope(tt.scope)
			if attr.Key != "scope" {
				t.Errorf("Scope() key = %q, want %q", attr.Key, "scope")
			}
			if attr.Value.String() != tt.want {
				t.Errorf("Scope() value = %q, want %q", attr.Value.String(), tt.want)
			}
		})
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"simple error", errors.New("something went wrong")},
		{"nil error", nil},
		{"joined error", errors.Join(errors.New("outer"), errors.New("inner"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr := Error(tt.err)
			if attr.Key != "error" {
				t.Errorf("Error() key = %q, want %q", attr.Key, "error")
			}
			if attr.Value.Any() != tt.err {
				t.Errorf("Error() value = %v, want %v", attr.Value.Any(), tt.err)
			}
		})
	}
}

func TestNewLogger_Levels(t *testing.T) {
	origLevel := os.Getenv("LOG_LEVEL")
	origEnv := os.Getenv("GO_ENV")
	defer func() {
		os.Setenv("LOG_LEVEL", origLevel)
		os.Setenv("GO_ENV", origEnv)
	}()
	os.Unsetenv("GO_ENV")

	tests := []struct {
		level    string
		enabled  slog.Level
		disabled slog.Level
	}{
		{"", slog.LevelInfo, slog.LevelDebug},
		{"debug", slog.LevelDebug, slog.LevelDebug - 4},
		{"info", slog.LevelInfo, slog.LevelDebug},
		{"warn", slog.LevelWarn, slog.LevelInfo},
		{"warning", slog.LevelWarn, slog.LevelInfo},
		{"error", slog.LevelError, slog.LevelWarn},
		{"DEBUG", slog.LevelDebug, slog.LevelDebug - 4},
		{"invalid", slog.LevelInfo, slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run("LOG_LEVEL="+tt.level, func(t *testing.T) {
			if tt.level == "" {
				os.Unsetenv("LOG_LEVEL")
			} else {
				os.Setenv("LOG_LEVEL", tt.level)
			}

			log := NewLogger()
			if log == nil {
				t.Fatal("NewLogger() returned nil")
			}
			if !log.Enabled(nil, tt.enabled) {
				t.Errorf("level %v should be enabled", tt.enabled)
			}
			if log.Enabled(nil, tt.disabled) {
				t.Errorf("level %v should be disabled", tt.disabled)
			}
		})
	}
}

func TestNewLogger_ProductionJSON(t *testing.T) {
	origEnv := os.Getenv("GO_ENV")
	defer os.Setenv("GO_ENV", origEnv)

	os.Setenv("GO_ENV", "production")

	log := NewLogger()
	if log == nil {
		t.Fatal("NewLogger() returned nil")
	}
	if !log.Enabled(nil, slog.LevelInfo) {
		t.Error("NewLogger() should have info level enabled in production")
	}
}
