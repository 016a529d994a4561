package videos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/coursekit/coursekit/internal/database"
)

// Catalog persists the course/section/video aggregate. Creation and
// compensation each touch the video row and both parent counters in a
// single transaction so the aggregate never observes a partial write.
type Catalog interface {
	// CreateVideo inserts the asset and increments the section and
	// course counters atomically.
	CreateVideo(ctx context.Context, asset *VideoAsset) error
	// CompensateVideo reverses CreateVideo: it deletes the row and
	// decrements both counters in one transaction. It returns the
	// removed asset, or nil when no row existed.
	CompensateVideo(ctx context.Context, videoID string) (*VideoAsset, error)
	// Video loads a single asset.
	Video(ctx context.Context, videoID string) (*VideoAsset, error)
	// Course loads a course aggregate.
	Course(ctx context.Context, courseID string) (*Course, error)
	// CompleteProcessing flips the asset to completed and records the
	// rendition keys produced for it.
	CompleteProcessing(ctx context.Context, videoID string, renditions []string) error
	// FailProcessing marks the asset failed, keeping the row so the
	// status endpoint can report the terminal state.
	FailProcessing(ctx context.Context, videoID string) error
	// SetCourseApproval cascades an approval decision to every video of
	// the course in one bulk update, returning the affected row count.
	SetCourseApproval(ctx context.Context, courseID string, status ApprovalStatus) (int64, error)
}

type Repository struct {
	db bun.IDB
}

func NewRepository(db bun.IDB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateVideo(ctx context.Context, asset *VideoAsset) error {
	tx, err := database.BeginSafeTx(ctx, r.db)
	if err != nil {
		return fmt.Errorf("begin create video tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NewInsert().Model(asset).Exec(ctx); err != nil {
		return fmt.Errorf("insert video: %w", err)
	}
	if err := adjustCounters(ctx, tx.Tx, asset, +1); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repository) CompensateVideo(ctx context.Context, videoID string) (*VideoAsset, error) {
	tx, err := database.BeginSafeTx(ctx, r.db)
	if err != nil {
		return nil, fmt.Errorf("begin compensate tx: %w", err)
	}
	defer tx.Rollback()

	asset := new(VideoAsset)
	err = tx.NewSelect().Model(asset).
		Where("v.id = ?", videoID).
		For("UPDATE").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		// already compensated or never created
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load video for compensation: %w", err)
	}

	if _, err := tx.NewDelete().Model((*VideoAsset)(nil)).
		Where("id = ?", videoID).
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("delete video: %w", err)
	}
	if err := adjustCounters(ctx, tx.Tx, asset, -1); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return asset, nil
}

// adjustCounters applies the same delta to the section and course
// counters. sign is +1 on create and -1 on compensation.
func adjustCounters(ctx context.Context, tx bun.Tx, asset *VideoAsset, sign int64) error {
	duration := sign * asset.DurationSeconds

	res, err := tx.NewUpdate().Model((*Section)(nil)).
		Set("total_videos = total_videos + ?", sign).
		Set("total_duration_seconds = total_duration_seconds + ?", duration).
		Set("updated_at = now()").
		Where("id = ?", asset.SectionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update section counters: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("section %s not found", asset.SectionID)
	}

	res, err = tx.NewUpdate().Model((*Course)(nil)).
		Set("total_videos = total_videos + ?", sign).
		Set("total_duration_seconds = total_duration_seconds + ?", duration).
		Set("updated_at = now()").
		Where("id = ?", asset.CourseID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update course counters: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("course %s not found", asset.CourseID)
	}
	return nil
}

func (r *Repository) Video(ctx context.Context, videoID string) (*VideoAsset, error) {
	asset := new(VideoAsset)
	err := r.db.NewSelect().Model(asset).
		Where("v.id = ?", videoID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select video: %w", err)
	}
	return asset, nil
}

func (r *Repository) Course(ctx context.Context, courseID string) (*Course, error) {
	course := new(Course)
	err := r.db.NewSelect().Model(course).
		Where("c.id = ?", courseID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select course: %w", err)
	}
	return course, nil
}

func (r *Repository) CompleteProcessing(ctx context.Context, videoID string, renditions []string) error {
	_, err := r.db.NewUpdate().Model((*VideoAsset)(nil)).
		Set("process_status = ?", ProcessStatusCompleted).
		Set("renditions = ?", pgdialect.Array(renditions)).
		Set("updated_at = now()").
		Where("id = ?", videoID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("complete processing: %w", err)
	}
	return nil
}

func (r *Repository) FailProcessing(ctx context.Context, videoID string) error {
	_, err := r.db.NewUpdate().Model((*VideoAsset)(nil)).
		Set("process_status = ?", ProcessStatusFailed).
		Set("updated_at = now()").
		Where("id = ?", videoID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("fail processing: %w", err)
	}
	return nil
}

func (r *Repository) SetCourseApproval(ctx context.Context, courseID string, status ApprovalStatus) (int64, error) {
	res, err := r.db.NewUpdate().Model((*VideoAsset)(nil)).
		Set("approval_status = ?", status).
		Set("updated_at = now()").
		Where("course_id = ?", courseID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("cascade approval: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

var _ Catalog = (*Repository)(nil)
