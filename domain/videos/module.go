package videos

import (
	"go.uber.org/fx"

	"github.com/coursekit/coursekit/internal/jobs"
	"github.com/coursekit/coursekit/internal/storage"
)

// Module provides the video ingest pipeline
var Module = fx.Module("videos",
	fx.Provide(
		NewService,
		NewHandler,
		NewHTTPHandler,
		fx.Annotate(
			NewRepository,
			fx.As(new(Catalog)),
		),
		fx.Annotate(
			func(s *storage.Service) BlobStore { return s },
			fx.As(new(BlobStore)),
		),
	),
	fx.Invoke(
		RegisterRoutes,
		RegisterWorker,
	),
)

// RegisterWorker binds upload and transcode handling to the video queue.
// Concurrency stays low because uploads move whole source files.
func RegisterWorker(runtime *jobs.Runtime, h *Handler) {
	runtime.Register(jobs.QueueVideos, h.Handle, jobs.HandlerOptions{
		Concurrency: 2,
		Compensate:  h.Compensate,
	})
}
