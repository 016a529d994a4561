package earnings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/coursekit/coursekit/pkg/logger"
)

// Ledger is the earnings store. Apply is the only mutation path for
// balances and must be a single atomic increment so that concurrent jobs
// for the same instructor never lose updates.
type Ledger interface {
	// Apply upserts the aggregate and adds the deltas in one statement.
	// Returns whether the row was created by this call.
	Apply(ctx context.Context, instructorID string, delta Split, saleRef string) (created bool, err error)
	// DeleteIfCreatedBy removes the aggregate only when the given sale
	// reference materialized it. Pre-existing aggregates are never touched.
	DeleteIfCreatedBy(ctx context.Context, instructorID, saleRef string) (bool, error)
	// Get returns the aggregate, or nil when the instructor has none
	Get(ctx context.Context, instructorID string) (*InstructorEarnings, error)
}

// Repository is the bun-backed Ledger
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new earnings repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("earnings.repository")),
	}
}

// Apply performs the atomic upsert-increment. Never read-modify-write:
// the increment happens inside the statement, so concurrent applications
// for the same instructor serialize in the database.
func (r *Repository) Apply(ctx context.Context, instructorID string, delta Split, saleRef string) (bool, error) {
	query := `
		INSERT INTO instructor_earnings (instructor_id, total_instructor_earnings, total_admin_earnings, created_by_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, now(), now())
		ON CONFLICT (instructor_id) DO UPDATE
		SET total_instructor_earnings = instructor_earnings.total_instructor_earnings + EXCLUDED.total_instructor_earnings,
			total_admin_earnings = instructor_earnings.total_admin_earnings + EXCLUDED.total_admin_earnings,
			updated_at = now()
		RETURNING (xmax = 0) AS created`

	var created bool
	err := r.db.NewRaw(query, instructorID, delta.Instructor, delta.Admin, saleRef).Scan(ctx, &created)
	if err != nil {
		return false, fmt.Errorf("apply earnings: %w", err)
	}

	r.log.Debug("earnings applied",
		slog.String("instructor_id", instructorID),
		slog.Int64("instructor_delta", delta.Instructor),
		slog.Int64("admin_delta", delta.Admin),
		slog.Bool("created", created))
	return created, nil
}

// DeleteIfCreatedBy removes the aggregate only if this sale created it
func (r *Repository) DeleteIfCreatedBy(ctx context.Context, instructorID, saleRef string) (bool, error) {
	if saleRef == "" {
		return false, nil
	}
	res, err := r.db.NewDelete().
		Model((*InstructorEarnings)(nil)).
		Where("instructor_id = ?", instructorID).
		Where("created_by_ref = ?", saleRef).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("delete earnings aggregate: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Get returns the aggregate for an instructor, nil when absent
func (r *Repository) Get(ctx context.Context, instructorID string) (*InstructorEarnings, error) {
	agg := &InstructorEarnings{}
	err := r.db.NewSelect().
		Model(agg).
		Where("instructor_id = ?", instructorID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get earnings aggregate: %w", err)
	}
	return agg, nil
}
