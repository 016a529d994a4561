package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/coursekit/coursekit/pkg/logger"
	"github.com/coursekit/coursekit/pkg/pgutils"
)

// PostgresBroker is the durable Broker implementation backed by a single
// jobs table. Claiming uses FOR UPDATE SKIP LOCKED so any number of workers
// can lease concurrently without conflicts, and every claim stamps a
// lease_expires_at deadline so jobs held by crashed workers become leasable
// again on their own.
type PostgresBroker struct {
	db       bun.IDB
	defaults Options
	log      *slog.Logger
}

// NewPostgresBroker creates a Postgres-backed broker. defaults supplies the
// retry policy for enqueues that leave Options unset.
func NewPostgresBroker(db bun.IDB, defaults Options, log *slog.Logger) *PostgresBroker {
	return &PostgresBroker{
		db:       db,
		defaults: defaults,
		log:      log.With(logger.Scope("broker")),
	}
}

// Enqueue durably inserts a job. When opts.DedupeKey is set and an active
// job with the same key exists on the queue, the insert is skipped and the
// existing job's ID is returned.
func (b *PostgresBroker) Enqueue(ctx context.Context, queue string, payload []byte, opts Options) (string, error) {
	opts = opts.withDefaults(b.defaults)
	id := uuid.NewString()

	// The payload column is jsonb: bind the bytes as text so they render as
	// a quoted JSON literal. A []byte argument renders as a bytea hex
	// literal, which the jsonb cast rejects.
	body := string(payload)

	if opts.DedupeKey != "" {
		// Idempotent enqueue: one active job per dedupe key
		query := `
			INSERT INTO jobs (id, queue, payload, status, attempt, max_attempts, backoff_ms, dedupe_key, scheduled_at, created_at, updated_at)
			SELECT ?, ?, ?, 'pending', 0, ?, ?, ?, now(), now(), now()
			WHERE NOT EXISTS (
				SELECT 1 FROM jobs
				WHERE queue = ? AND dedupe_key = ? AND status IN ('pending', 'processing')
			)`
		res, err := b.db.ExecContext(ctx, query,
			id, queue, body, opts.MaxAttempts, opts.BackoffMs, opts.DedupeKey,
			queue, opts.DedupeKey)
		// two racing enqueues can both pass the NOT EXISTS check; the
		// partial unique index on (queue, dedupe_key) catches the loser
		deduped := err != nil && pgutils.IsUniqueViolation(err)
		if err != nil && !deduped {
			return "", fmt.Errorf("%w: enqueue: %v", ErrBrokerUnavailable, err)
		}
		inserted := int64(0)
		if err == nil {
			inserted, _ = res.RowsAffected()
		}
		if deduped || inserted == 0 {
			var existingID string
			err := b.db.NewRaw(
				`SELECT id FROM jobs WHERE queue = ? AND dedupe_key = ? AND status IN ('pending', 'processing') LIMIT 1`,
				queue, opts.DedupeKey,
			).Scan(ctx, &existingID)
			if err != nil {
				return "", fmt.Errorf("%w: enqueue dedupe lookup: %v", ErrBrokerUnavailable, err)
			}
			b.log.Debug("enqueue deduplicated",
				slog.String("queue", queue),
				slog.String("dedupe_key", opts.DedupeKey),
				slog.String("existing_job_id", existingID))
			return existingID, nil
		}
		return id, nil
	}

	query := `
		INSERT INTO jobs (id, queue, payload, status, attempt, max_attempts, backoff_ms, scheduled_at, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, now(), now(), now())`
	if _, err := b.db.ExecContext(ctx, query, id, queue, body, opts.MaxAttempts, opts.BackoffMs); err != nil {
		return "", fmt.Errorf("%w: enqueue: %v", ErrBrokerUnavailable, err)
	}
	return id, nil
}

// Lease atomically claims at most one job for workerID. Eligible jobs are
// pending rows whose scheduled_at has passed, plus processing rows whose
// lease expired with attempts remaining. Each claim counts as a delivery
// attempt.
//
// This is strategic SQL that cannot be expressed with Bun's query builder.
func (b *PostgresBroker) Lease(ctx context.Context, queue, workerID string, leaseDuration time.Duration) (*Job, error) {
	query := `
		WITH cte AS (
			SELECT id FROM jobs
			WHERE queue = ?
				AND (
					(status = 'pending' AND scheduled_at <= now())
					OR (status = 'processing' AND lease_expires_at < now() AND attempt < max_attempts)
				)
			ORDER BY scheduled_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE jobs j
		SET status = 'processing',
			attempt = j.attempt + 1,
			worker_id = ?,
			lease_expires_at = now() + (? || ' milliseconds')::interval,
			updated_at = now()
		FROM cte WHERE j.id = cte.id
		RETURNING j.*`

	job := &Job{}
	err := b.db.NewRaw(query, queue, workerID, fmt.Sprintf("%d", leaseDuration.Milliseconds())).Scan(ctx, job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lease: %v", ErrBrokerUnavailable, err)
	}
	return job, nil
}

// Ack marks a leased job as completed
func (b *PostgresBroker) Ack(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET status = 'completed', worker_id = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE id = ? AND status = 'processing'`
	if _, err := b.db.ExecContext(ctx, query, jobID); err != nil {
		return fmt.Errorf("%w: ack: %v", ErrBrokerUnavailable, err)
	}
	return nil
}

// Nack reports a failed delivery. With retry and attempts remaining, the job
// returns to pending after a linear backoff of backoff_ms * attempt.
// Otherwise it dead-letters with the failure reason retained.
func (b *PostgresBroker) Nack(ctx context.Context, jobID string, retry bool, reason string) error {
	if retry {
		query := `
			UPDATE jobs
			SET status = 'pending',
				worker_id = NULL,
				lease_expires_at = NULL,
				last_error = ?,
				scheduled_at = now() + (backoff_ms * attempt || ' milliseconds')::interval,
				updated_at = now()
			WHERE id = ? AND status = 'processing' AND attempt < max_attempts`
		res, err := b.db.ExecContext(ctx, query, truncateError(reason), jobID)
		if err != nil {
			return fmt.Errorf("%w: nack: %v", ErrBrokerUnavailable, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		// Attempts exhausted, fall through to dead-letter
	}

	query := `
		UPDATE jobs
		SET status = 'dead_letter',
			worker_id = NULL,
			lease_expires_at = NULL,
			last_error = ?,
			updated_at = now()
		WHERE id = ? AND status = 'processing'`
	if _, err := b.db.ExecContext(ctx, query, truncateError(reason), jobID); err != nil {
		return fmt.Errorf("%w: nack dead-letter: %v", ErrBrokerUnavailable, err)
	}

	b.log.Warn("job dead-lettered",
		slog.String("job_id", jobID),
		slog.String("error", reason))
	return nil
}

// DeadLetters returns the retained dead-letter rows for a queue
func (b *PostgresBroker) DeadLetters(ctx context.Context, queue string) ([]*Job, error) {
	var dead []*Job
	err := b.db.NewSelect().
		Model(&dead).
		Where("queue = ?", queue).
		Where("status = ?", StatusDeadLetter).
		Order("updated_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: dead letters: %v", ErrBrokerUnavailable, err)
	}
	return dead, nil
}

// Stats returns per-queue counts
func (b *PostgresBroker) Stats(ctx context.Context, queue string) (*Stats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') as pending,
			COUNT(*) FILTER (WHERE status = 'processing') as processing,
			COUNT(*) FILTER (WHERE status = 'completed') as completed,
			COUNT(*) FILTER (WHERE status = 'dead_letter') as dead_letter
		FROM jobs WHERE queue = ?`

	stats := &Stats{}
	err := b.db.NewRaw(query, queue).Scan(ctx, &stats.Pending, &stats.Processing, &stats.Completed, &stats.DeadLetter)
	if err != nil {
		return nil, fmt.Errorf("%w: stats: %v", ErrBrokerUnavailable, err)
	}
	return stats, nil
}

// RecoverExpiredLeases sweeps processing rows whose lease has expired.
// Jobs with attempts remaining return to pending; jobs already at the
// delivery cap dead-letter. Returns the number of rows touched.
//
// Lease itself already reclaims expired rows opportunistically; the sweep
// exists so exhausted jobs dead-letter promptly instead of lingering.
func (b *PostgresBroker) RecoverExpiredLeases(ctx context.Context) (int, error) {
	requeue := `
		UPDATE jobs
		SET status = 'pending', worker_id = NULL, lease_expires_at = NULL, updated_at = now()
		WHERE status = 'processing' AND lease_expires_at < now() AND attempt < max_attempts`
	res, err := b.db.ExecContext(ctx, requeue)
	if err != nil {
		return 0, fmt.Errorf("recover expired leases: %w", err)
	}
	requeued, _ := res.RowsAffected()

	bury := `
		UPDATE jobs
		SET status = 'dead_letter', worker_id = NULL, lease_expires_at = NULL,
			last_error = COALESCE(last_error, 'lease expired with no attempts remaining'),
			updated_at = now()
		WHERE status = 'processing' AND lease_expires_at < now() AND attempt >= max_attempts`
	res, err = b.db.ExecContext(ctx, bury)
	if err != nil {
		return int(requeued), fmt.Errorf("recover expired leases: %w", err)
	}
	buried, _ := res.RowsAffected()

	if requeued+buried > 0 {
		b.log.Warn("recovered expired leases",
			slog.Int64("requeued", requeued),
			slog.Int64("dead_lettered", buried))
	}
	return int(requeued + buried), nil
}
