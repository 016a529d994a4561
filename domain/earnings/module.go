package earnings

import (
	"go.uber.org/fx"

	"github.com/coursekit/coursekit/internal/jobs"
)

// Module provides the earnings ledger domain
var Module = fx.Module("earnings",
	fx.Provide(
		NewHandler,
		fx.Annotate(
			NewRepository,
			fx.As(new(Ledger)),
		),
	),
	fx.Invoke(RegisterHandler),
)

// RegisterHandler binds the earnings handler to its queue. Concurrency is
// safe above 1 because the ledger apply is a single atomic increment.
func RegisterHandler(runtime *jobs.Runtime, h *Handler) {
	runtime.Register(jobs.QueueEarnings, h.Handle, jobs.HandlerOptions{
		Concurrency: 4,
		Compensate:  h.Compensate,
	})
}
