package messaging

import (
	"go.uber.org/fx"

	"github.com/coursekit/coursekit/internal/jobs"
)

// Module provides the conversation fan-in domain
var Module = fx.Module("messaging",
	fx.Provide(
		NewHandler,
		NewHTTPHandler,
		fx.Annotate(
			NewRepository,
			fx.As(new(Store)),
		),
	),
	fx.Invoke(
		RegisterRoutes,
		RegisterWorker,
	),
)

// RegisterWorker binds the fan-in handler to the conversation queue.
// The upsert races on the unique participant index, so concurrent
// workers are safe.
func RegisterWorker(runtime *jobs.Runtime, h *Handler) {
	runtime.Register(jobs.QueueConversations, h.Handle, jobs.HandlerOptions{
		Concurrency: 4,
	})
}
