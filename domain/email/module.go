package email

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/coursekit/coursekit/internal/config"
	"github.com/coursekit/coursekit/internal/jobs"
)

// Module provides transactional email dispatch
var Module = fx.Module("email",
	fx.Provide(
		NewHandler,
		fx.Annotate(
			NewSenderFromConfig,
			fx.As(new(Sender)),
		),
	),
	fx.Invoke(RegisterWorker),
)

// NewSenderFromConfig picks Mailgun when configured, no-op otherwise
func NewSenderFromConfig(cfg *config.Config, log *slog.Logger) Sender {
	if s := NewMailgunSender(cfg, log); s != nil {
		return s
	}
	log.Warn("mailgun not configured, using no-op email sender")
	return NewNoOpSender(log)
}

// RegisterWorker binds the email handler to its queue
func RegisterWorker(runtime *jobs.Runtime, h *Handler) {
	runtime.Register(jobs.QueueEmail, h.Handle, jobs.HandlerOptions{
		Concurrency: 2,
	})
}
