package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/coursekit/coursekit/pkg/logger"
)

// Enrollments persists the checkout state machine. CompleteEnrollment
// is match-on-pending-then-flip: the WHERE status = 'pending' guard is
// what makes duplicate webhook deliveries a no-op.
type Enrollments interface {
	Create(ctx context.Context, e *Enrollment) error
	// CompleteEnrollment flips the pending enrollment for the pair to
	// completed. It returns the flipped enrollment and true on the
	// first delivery, and (existing, false) for duplicates. Both
	// return values are nil/false when no enrollment exists at all.
	CompleteEnrollment(ctx context.Context, courseID, userID, gatewayRef string) (*Enrollment, bool, error)
	Get(ctx context.Context, id string) (*Enrollment, error)
}

type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("payments.repo")),
	}
}

func (r *Repository) Create(ctx context.Context, e *Enrollment) error {
	_, err := r.db.NewInsert().
		Model(e).
		Returning("*").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to create enrollment", logger.Error(err))
		return fmt.Errorf("insert enrollment: %w", err)
	}
	return nil
}

func (r *Repository) CompleteEnrollment(ctx context.Context, courseID, userID, gatewayRef string) (*Enrollment, bool, error) {
	enrollment := new(Enrollment)
	err := r.db.NewUpdate().
		Model(enrollment).
		Set("status = ?", EnrollmentStatusCompleted).
		Set("gateway_ref = ?", gatewayRef).
		Set("updated_at = now()").
		Where("course_id = ?", courseID).
		Where("user_id = ?", userID).
		Where("status = ?", EnrollmentStatusPending).
		Returning("*").
		Scan(ctx)
	if err == nil {
		return enrollment, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("complete enrollment: %w", err)
	}

	// nothing pending; either a duplicate delivery or an unknown pair
	existing := new(Enrollment)
	err = r.db.NewSelect().
		Model(existing).
		Where("course_id = ?", courseID).
		Where("user_id = ?", userID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup enrollment: %w", err)
	}
	return existing, false, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*Enrollment, error) {
	enrollment := new(Enrollment)
	err := r.db.NewSelect().
		Model(enrollment).
		Where("e.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select enrollment: %w", err)
	}
	return enrollment, nil
}

var _ Enrollments = (*Repository)(nil)
