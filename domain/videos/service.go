package videos

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/coursekit/coursekit/internal/config"
	"github.com/coursekit/coursekit/internal/jobs"
	"github.com/coursekit/coursekit/internal/storage"
	"github.com/coursekit/coursekit/pkg/apperror"
	"github.com/coursekit/coursekit/pkg/logger"
)

// BlobStore is the slice of the storage service the pipeline uses.
type BlobStore interface {
	Upload(ctx context.Context, key string, data io.Reader, size int64, opts storage.UploadOptions) (*storage.UploadResult, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	GetSignedDownloadURL(ctx context.Context, key string, opts storage.GetSignedDownloadURLOptions) (string, error)
}

// IngestRequest is a validated source upload ready for the pipeline.
type IngestRequest struct {
	CourseID  string
	SectionID string
	Title     string
	Filename  string
	Source    io.Reader
	Size      int64
}

// Service runs the synchronous half of the ingest pipeline: probe,
// transactional commit, enqueue. Everything after the enqueue happens
// on the video queue workers.
type Service struct {
	catalog Catalog
	broker  jobs.Broker
	store   BlobStore
	cfg     config.VideosConfig
	log     *slog.Logger
}

func NewService(catalog Catalog, broker jobs.Broker, store BlobStore, cfg *config.Config, log *slog.Logger) *Service {
	return &Service{
		catalog: catalog,
		broker:  broker,
		store:   store,
		cfg:     cfg.Videos,
		log:     log.With(logger.Scope("videos")),
	}
}

// Ingest stages the source file, probes it, commits the video row plus
// counter increments in one transaction, then enqueues the upload job.
// A probe failure rejects the request before any state is written. An
// enqueue failure rolls the commit back so no row is left pending with
// no job to ever advance it.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*VideoAsset, error) {
	maxBytes := int64(s.cfg.MaxUploadSizeMB) << 20
	if req.Size > maxBytes {
		return nil, apperror.NewBadRequest(fmt.Sprintf("video exceeds maximum size of %d MB", s.cfg.MaxUploadSizeMB))
	}

	stagedPath, err := s.stage(req)
	if err != nil {
		return nil, err
	}

	probe, err := ProbeFile(stagedPath)
	if err != nil {
		os.Remove(stagedPath)
		return nil, apperror.NewBadRequest("unsupported or corrupt video file").WithInternal(err)
	}

	asset := &VideoAsset{
		ID:              uuid.New().String(),
		SectionID:       req.SectionID,
		CourseID:        req.CourseID,
		Title:           req.Title,
		StorageKey:      storage.GenerateVideoKey(req.CourseID, req.Filename),
		DurationSeconds: probe.DurationSeconds,
		SizeBytes:       probe.SizeBytes,
		ProcessStatus:   ProcessStatusPending,
		ApprovalStatus:  ApprovalStatusNone,
	}

	if err := s.catalog.CreateVideo(ctx, asset); err != nil {
		os.Remove(stagedPath)
		return nil, fmt.Errorf("commit video metadata: %w", err)
	}

	payload, err := jobs.Encode(jobs.KindVideoUpload, &jobs.VideoUploadPayload{
		FileRef: stagedPath,
		VideoID: asset.ID,
	})
	if err != nil {
		s.rollbackIngest(ctx, asset.ID, stagedPath)
		return nil, fmt.Errorf("encode upload job: %w", err)
	}

	jobID, err := s.broker.Enqueue(ctx, jobs.QueueVideos, payload, jobs.Options{
		DedupeKey: "video-upload-" + asset.ID,
	})
	if err != nil {
		s.rollbackIngest(ctx, asset.ID, stagedPath)
		return nil, fmt.Errorf("enqueue upload: %w", err)
	}

	s.log.Info("video ingested",
		slog.String("video_id", asset.ID),
		slog.String("course_id", asset.CourseID),
		slog.Int64("duration_seconds", asset.DurationSeconds),
		slog.String("job_id", jobID),
	)
	return asset, nil
}

// stage copies the request body into the staging directory so the
// upload worker can read it after the HTTP response has been sent.
func (s *Service) stage(req IngestRequest) (string, error) {
	if err := os.MkdirAll(s.cfg.StagingDir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}

	f, err := os.CreateTemp(s.cfg.StagingDir, "src-*"+filepath.Ext(req.Filename))
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, req.Source); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("stage source file: %w", err)
	}
	return f.Name(), nil
}

func (s *Service) rollbackIngest(ctx context.Context, videoID, stagedPath string) {
	os.Remove(stagedPath)
	if _, err := s.catalog.CompensateVideo(ctx, videoID); err != nil {
		s.log.Error("failed to roll back ingested video",
			slog.String("video_id", videoID),
			logger.Error(err),
		)
	}
}

// PlaybackURL returns a signed URL for a processed source object.
func (s *Service) PlaybackURL(ctx context.Context, asset *VideoAsset) (string, error) {
	if asset.ProcessStatus != ProcessStatusCompleted {
		return "", apperror.NewBadRequest("video is not processed yet")
	}
	return s.store.GetSignedDownloadURL(ctx, asset.StorageKey, storage.GetSignedDownloadURLOptions{
		ExpiresIn: s.cfg.SignedURLTTL,
	})
}
