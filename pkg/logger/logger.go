// Package logger provides the application-wide slog setup and shared
// attribute helpers used by every module.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"
)

var Module = fx.Module("logger",
	fx.Provide(NewLogger),
)

// NewLogger creates the root slog.Logger.
//
// The level comes from LOG_LEVEL (debug, info, warn/warning, error; defaults
// to info). In production (GO_ENV=production) a JSON handler is used so logs
// can be shipped as structured records; otherwise a text handler is used for
// local readability.
func NewLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	case "info", "":
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if os.Getenv("GO_ENV") == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// Scope returns a scope attribute identifying the subsystem a record
// originates from, e.g. log.With(logger.Scope("jobs.runtime")).
func Scope(scope string) slog.Attr {
	return slog.String("scope", scope)
}

// Error returns an error attribute under the conventional "error" key.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}
