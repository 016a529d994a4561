package videos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/smithy-go"

	"github.com/coursekit/coursekit/domain/realtime"
	"github.com/coursekit/coursekit/internal/config"
	"github.com/coursekit/coursekit/internal/jobs"
	"github.com/coursekit/coursekit/internal/storage"
	"github.com/coursekit/coursekit/pkg/logger"
)

// Handler runs the asynchronous half of the ingest pipeline on the
// video queue: upload jobs move staged files into the blob store and
// chain a transcode job; transcode jobs flip the asset to completed.
type Handler struct {
	catalog Catalog
	store   BlobStore
	broker  jobs.Broker
	relay   realtime.Relay
	cfg     config.VideosConfig
	log     *slog.Logger
}

func NewHandler(catalog Catalog, store BlobStore, broker jobs.Broker, relay realtime.Relay, cfg *config.Config, log *slog.Logger) *Handler {
	return &Handler{
		catalog: catalog,
		store:   store,
		broker:  broker,
		relay:   relay,
		cfg:     cfg.Videos,
		log:     log.With(logger.Scope("videos.worker")),
	}
}

// Handle dispatches on job kind since upload and transcode share one queue.
func (h *Handler) Handle(ctx context.Context, kind jobs.Kind, payload json.RawMessage) jobs.Result {
	switch kind {
	case jobs.KindVideoUpload:
		return h.handleUpload(ctx, payload)
	case jobs.KindVideoTranscode:
		return h.handleTranscode(ctx, payload)
	default:
		return jobs.Fatal(fmt.Errorf("unexpected job kind %q on video queue", kind))
	}
}

func (h *Handler) handleUpload(ctx context.Context, payload json.RawMessage) jobs.Result {
	var p jobs.VideoUploadPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return jobs.Fatal(fmt.Errorf("decode upload payload: %w", err))
	}

	asset, err := h.catalog.Video(ctx, p.VideoID)
	if err != nil {
		return jobs.Retry(fmt.Errorf("load video %s: %w", p.VideoID, err))
	}
	if asset == nil {
		// row already compensated away, nothing to upload
		h.log.Warn("upload job for missing video", slog.String("video_id", p.VideoID))
		return jobs.Ok()
	}

	f, err := os.Open(p.FileRef)
	if err != nil {
		// the staged file is gone; retrying cannot bring it back
		return jobs.Fatal(fmt.Errorf("open staged file %s: %w", p.FileRef, err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return jobs.Fatal(fmt.Errorf("stat staged file: %w", err))
	}

	_, err = h.store.Upload(ctx, asset.StorageKey, f, info.Size(), storage.UploadOptions{
		ContentType: "video/mp4",
	})
	if err != nil {
		if isCredentialError(err) {
			return jobs.Fatal(fmt.Errorf("blob store rejected credentials: %w", err))
		}
		return jobs.Retry(fmt.Errorf("upload %s: %w", asset.StorageKey, err))
	}

	transcode, err := jobs.Encode(jobs.KindVideoTranscode, &jobs.VideoTranscodePayload{
		VideoID:    asset.ID,
		StorageKey: asset.StorageKey,
	})
	if err != nil {
		return jobs.Fatal(fmt.Errorf("encode transcode job: %w", err))
	}
	// a redelivered upload re-puts the same object, so retrying the whole
	// job on enqueue failure stays idempotent
	if _, err := h.broker.Enqueue(ctx, jobs.QueueVideos, transcode, jobs.Options{
		DedupeKey: "video-transcode-" + asset.ID,
	}); err != nil {
		return jobs.Retry(fmt.Errorf("enqueue transcode: %w", err))
	}

	if err := os.Remove(p.FileRef); err != nil {
		h.log.Warn("failed to remove staged file",
			slog.String("path", p.FileRef),
			logger.Error(err),
		)
	}

	h.log.Info("video uploaded",
		slog.String("video_id", asset.ID),
		slog.String("storage_key", asset.StorageKey),
		slog.Int64("size_bytes", info.Size()),
	)
	return jobs.Ok()
}

func (h *Handler) handleTranscode(ctx context.Context, payload json.RawMessage) jobs.Result {
	var p jobs.VideoTranscodePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return jobs.Fatal(fmt.Errorf("decode transcode payload: %w", err))
	}

	asset, err := h.catalog.Video(ctx, p.VideoID)
	if err != nil {
		return jobs.Retry(fmt.Errorf("load video %s: %w", p.VideoID, err))
	}
	if asset == nil {
		h.log.Warn("transcode job for missing video", slog.String("video_id", p.VideoID))
		return jobs.Ok()
	}

	exists, err := h.store.Exists(ctx, p.StorageKey)
	if err != nil {
		if isCredentialError(err) {
			return jobs.Fatal(fmt.Errorf("blob store rejected credentials: %w", err))
		}
		return jobs.Retry(fmt.Errorf("check source object: %w", err))
	}
	if !exists {
		// upload may still be settling; eventual consistency
		return jobs.Retry(fmt.Errorf("source object %s not visible yet", p.StorageKey))
	}

	renditions := make([]string, 0, len(h.cfg.Renditions))
	for _, r := range h.cfg.Renditions {
		renditions = append(renditions, storage.RenditionKey(p.StorageKey, r))
	}

	if err := h.catalog.CompleteProcessing(ctx, asset.ID, renditions); err != nil {
		return jobs.Retry(fmt.Errorf("mark video completed: %w", err))
	}

	if course, err := h.catalog.Course(ctx, asset.CourseID); err == nil && course != nil {
		h.relay.EmitToUser(course.InstructorID, realtime.EventVideoProcessed, map[string]any{
			"videoId":       asset.ID,
			"courseId":      asset.CourseID,
			"processStatus": ProcessStatusCompleted,
		})
	}

	h.log.Info("video processing completed",
		slog.String("video_id", asset.ID),
		slog.Int("renditions", len(renditions)),
	)
	return jobs.Ok()
}

// Compensate reverses the ingest commit after a dead-letter. Upload
// dead-letters delete the row and restore both counters in one
// transaction, then best-effort clean the blob and staged file.
// Transcode dead-letters keep the row (the source object exists) and
// mark it failed so the status endpoint reports the terminal state.
func (h *Handler) Compensate(ctx context.Context, payload []byte, cause error) {
	kind, raw, err := jobs.Decode(payload)
	if err != nil {
		h.log.Error("cannot decode dead-lettered video job", logger.Error(err))
		return
	}

	switch kind {
	case jobs.KindVideoUpload:
		var p jobs.VideoUploadPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			h.log.Error("cannot decode dead-lettered upload payload", logger.Error(err))
			return
		}
		asset, err := h.catalog.CompensateVideo(ctx, p.VideoID)
		if err != nil {
			h.log.Error("video compensation failed",
				slog.String("video_id", p.VideoID),
				logger.Error(err),
			)
			return
		}
		os.Remove(p.FileRef)
		if asset != nil {
			if err := h.store.Delete(ctx, asset.StorageKey); err != nil {
				h.log.Warn("failed to delete blob during compensation",
					slog.String("storage_key", asset.StorageKey),
					logger.Error(err),
				)
			}
			h.log.Warn("video removed after upload dead-letter",
				slog.String("video_id", p.VideoID),
				logger.Error(cause),
			)
		}
	case jobs.KindVideoTranscode:
		var p jobs.VideoTranscodePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			h.log.Error("cannot decode dead-lettered transcode payload", logger.Error(err))
			return
		}
		if err := h.catalog.FailProcessing(ctx, p.VideoID); err != nil {
			h.log.Error("failed to mark video failed",
				slog.String("video_id", p.VideoID),
				logger.Error(err),
			)
			return
		}
		h.log.Warn("video marked failed after transcode dead-letter",
			slog.String("video_id", p.VideoID),
			logger.Error(cause),
		)
	}
}

// isCredentialError reports whether a blob store error is an auth
// failure that no amount of retrying can fix.
func isCredentialError(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "AccessDenied", "ExpiredToken", "InvalidSecurity":
		return true
	}
	return false
}
