// Package jobs provides the durable job queue and the worker runtime that
// drains it. Producers enqueue serialized envelopes through a Broker;
// consumers register handlers with the Runtime, which leases jobs, dispatches
// them, and translates handler results into ack, retry, or dead-letter.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/bun"
)

// ErrBrokerUnavailable indicates the broker could not durably accept or
// return a job. Callers treat their operation as not performed.
var ErrBrokerUnavailable = errors.New("broker unavailable")

// Queue names shared by producers and the worker runtime
const (
	QueueEarnings      = "earnings"
	QueueVideos        = "videos"
	QueueConversations = "conversations"
	QueueEmail         = "email"
)

// JobStatus represents the state of a job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusDeadLetter JobStatus = "dead_letter"
)

// Job is a single unit of queued work. Payload holds the encoded envelope.
type Job struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID             string     `bun:"id,pk" json:"id"`
	Queue          string     `bun:"queue,notnull" json:"queue"`
	Payload        []byte     `bun:"payload,notnull" json:"payload"`
	Status         JobStatus  `bun:"status,notnull" json:"status"`
	Attempt        int        `bun:"attempt,notnull" json:"attempt"`
	MaxAttempts    int        `bun:"max_attempts,notnull" json:"maxAttempts"`
	BackoffMs      int        `bun:"backoff_ms,notnull" json:"backoffMs"`
	DedupeKey      string     `bun:"dedupe_key,nullzero" json:"dedupeKey,omitempty"`
	WorkerID       string     `bun:"worker_id,nullzero" json:"workerId,omitempty"`
	LastError      string     `bun:"last_error,nullzero" json:"lastError,omitempty"`
	ScheduledAt    time.Time  `bun:"scheduled_at,notnull" json:"scheduledAt"`
	LeaseExpiresAt *time.Time `bun:"lease_expires_at,nullzero" json:"leaseExpiresAt,omitempty"`
	CreatedAt      time.Time  `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// Options controls retry behavior for an enqueued job
type Options struct {
	// MaxAttempts is the delivery cap before the job dead-letters (default 5)
	MaxAttempts int
	// BackoffMs is the linear backoff unit: redelivery n waits n*BackoffMs
	BackoffMs int
	// DedupeKey suppresses the enqueue when an active job with the same key
	// already exists on the queue
	DedupeKey string
}

// Stats represents per-queue counts
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	DeadLetter int64 `json:"deadLetter"`
}

// Broker is the durable queue the pipeline runs on. Enqueue returning nil
// means the job is durable and will be delivered at least once. Lease hands
// out at most one job, exclusively, until its lease expires; a crashed
// worker's job becomes leasable again without operator action.
type Broker interface {
	Enqueue(ctx context.Context, queue string, payload []byte, opts Options) (string, error)
	Lease(ctx context.Context, queue, workerID string, leaseDuration time.Duration) (*Job, error)
	Ack(ctx context.Context, jobID string) error
	Nack(ctx context.Context, jobID string, retry bool, reason string) error
	DeadLetters(ctx context.Context, queue string) ([]*Job, error)
	Stats(ctx context.Context, queue string) (*Stats, error)
}

// Retry policy applied when neither the enqueue options nor the broker's
// configured defaults set one
const (
	fallbackMaxAttempts = 5
	fallbackBackoffMs   = 5000
)

// withDefaults fills unset option fields from the broker's configured
// defaults, falling back to the package constants
func (o Options) withDefaults(d Options) Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = fallbackMaxAttempts
	}
	if o.BackoffMs <= 0 {
		o.BackoffMs = d.BackoffMs
	}
	if o.BackoffMs <= 0 {
		o.BackoffMs = fallbackBackoffMs
	}
	return o
}

// truncateError truncates an error message to 500 characters
func truncateError(msg string) string {
	if len(msg) > 500 {
		return msg[:500]
	}
	return msg
}
