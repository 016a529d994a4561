// Package main provides the entry point for the CourseKit API server
// and its background job workers.
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/coursekit/coursekit/domain/earnings"
	"github.com/coursekit/coursekit/domain/email"
	"github.com/coursekit/coursekit/domain/messaging"
	"github.com/coursekit/coursekit/domain/payments"
	"github.com/coursekit/coursekit/domain/realtime"
	"github.com/coursekit/coursekit/domain/videos"
	"github.com/coursekit/coursekit/internal/config"
	"github.com/coursekit/coursekit/internal/database"
	"github.com/coursekit/coursekit/internal/jobs"
	"github.com/coursekit/coursekit/internal/migrate"
	"github.com/coursekit/coursekit/internal/server"
	"github.com/coursekit/coursekit/internal/storage"
	"github.com/coursekit/coursekit/pkg/logger"
)

func main() {
	// Load .env files if present (for local development)
	// Note: Load() won't overwrite existing vars, Overload() will
	_ = godotenv.Load("../../.env")
	_ = godotenv.Overload("../../.env.local")

	fx.New(
		// Logging
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		database.Module,
		// Schema migrations apply before the queue workers start
		migrate.Module,
		server.Module,
		storage.Module,

		// Queue broker and worker runtime (handlers register before start)
		jobs.Module,

		// Domain modules
		realtime.Module,
		earnings.Module,
		videos.Module,
		messaging.Module,
		email.Module,
		payments.Module,
	).Run()
}
