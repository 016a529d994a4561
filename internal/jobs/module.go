package jobs

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/coursekit/coursekit/internal/config"
	"github.com/coursekit/coursekit/pkg/logger"
)

// Module provides the durable broker and the worker runtime. Domain modules
// register their handlers against the Runtime during construction; the
// lifecycle hooks here start the lease loops only after every registration
// has run.
var Module = fx.Module("jobs",
	fx.Provide(
		NewBrokerFromConfig,
		NewRuntimeFromConfig,
		NewStatsHandler,
	),
	fx.Invoke(
		RegisterRuntimeLifecycle,
		RegisterLeaseSweep,
		RegisterRoutes,
	),
)

// NewBrokerFromConfig provides the Postgres broker behind the Broker
// interface, with the queue retry policy as its enqueue defaults
func NewBrokerFromConfig(db bun.IDB, cfg *config.Config, log *slog.Logger) Broker {
	return NewPostgresBroker(db, Options{
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffMs:   cfg.Queue.RetryBackoffMs,
	}, log)
}

// NewRuntimeFromConfig builds the runtime from queue settings
func NewRuntimeFromConfig(broker Broker, cfg *config.Config, log *slog.Logger) *Runtime {
	return NewRuntime(broker, RuntimeConfig{
		PollInterval:  cfg.Queue.PollInterval(),
		LeaseDuration: cfg.Queue.LeaseDuration,
	}, log)
}

// RegisterRuntimeLifecycle ties the runtime to application start and stop
func RegisterRuntimeLifecycle(lc fx.Lifecycle, runtime *Runtime) {
	lc.Append(fx.Hook{
		OnStart: runtime.Start,
		OnStop:  runtime.Stop,
	})
}

// RegisterLeaseSweep schedules the expired-lease recovery sweep and runs one
// recovery pass on startup to requeue jobs orphaned by an unclean shutdown.
func RegisterLeaseSweep(lc fx.Lifecycle, broker Broker, cfg *config.Config, log *slog.Logger) {
	pg, ok := broker.(*PostgresBroker)
	if !ok {
		return
	}
	log = log.With(logger.Scope("lease-sweep"))

	c := cron.New()
	_, err := c.AddFunc(cfg.Queue.SweepSchedule, func() {
		if _, err := pg.RecoverExpiredLeases(context.Background()); err != nil {
			log.Error("sweep failed", logger.Error(err))
		}
	})
	if err != nil {
		log.Error("invalid sweep schedule, sweep disabled",
			slog.String("schedule", cfg.Queue.SweepSchedule),
			logger.Error(err))
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, err := pg.RecoverExpiredLeases(ctx); err != nil {
				log.Warn("startup recovery failed", logger.Error(err))
			}
			c.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopCtx := c.Stop()
			select {
			case <-stopCtx.Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
}
