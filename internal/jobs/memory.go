package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBroker is an in-process Broker with the same delivery semantics as
// the Postgres implementation: exclusive leases with expiry, linear backoff,
// attempt caps, dedupe keys, dead-letter retention. It backs tests and dev
// mode; nothing survives a restart.
type MemoryBroker struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	defaults Options

	// now is swappable so tests can drive lease expiry and backoff
	now func() time.Time
}

// NewMemoryBroker creates an empty in-memory broker
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

// SetClock replaces the broker's time source. Test helper.
func (b *MemoryBroker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// SetDefaults replaces the retry policy applied to enqueues with unset
// options, matching the Postgres broker's configured defaults
func (b *MemoryBroker) SetDefaults(defaults Options) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.defaults = defaults
}

func (b *MemoryBroker) Enqueue(ctx context.Context, queue string, payload []byte, opts Options) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	opts = opts.withDefaults(b.defaults)

	if opts.DedupeKey != "" {
		for _, j := range b.jobs {
			if j.Queue == queue && j.DedupeKey == opts.DedupeKey &&
				(j.Status == StatusPending || j.Status == StatusProcessing) {
				return j.ID, nil
			}
		}
	}

	now := b.now()
	job := &Job{
		ID:          uuid.NewString(),
		Queue:       queue,
		Payload:     append([]byte(nil), payload...),
		Status:      StatusPending,
		MaxAttempts: opts.MaxAttempts,
		BackoffMs:   opts.BackoffMs,
		DedupeKey:   opts.DedupeKey,
		ScheduledAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	b.jobs[job.ID] = job
	return job.ID, nil
}

func (b *MemoryBroker) Lease(ctx context.Context, queue, workerID string, leaseDuration time.Duration) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	var eligible []*Job
	for _, j := range b.jobs {
		if j.Queue != queue {
			continue
		}
		switch j.Status {
		case StatusPending:
			if !j.ScheduledAt.After(now) {
				eligible = append(eligible, j)
			}
		case StatusProcessing:
			// Expired leases are claimable again without operator action.
			// An expired job with no attempts remaining buries on sight,
			// matching the Postgres broker's recovery sweep.
			if j.LeaseExpiresAt == nil || !j.LeaseExpiresAt.Before(now) {
				continue
			}
			if j.Attempt < j.MaxAttempts {
				eligible = append(eligible, j)
				continue
			}
			j.Status = StatusDeadLetter
			j.WorkerID = ""
			j.LeaseExpiresAt = nil
			if j.LastError == "" {
				j.LastError = "lease expired with no attempts remaining"
			}
			j.UpdatedAt = now
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	sort.Slice(eligible, func(i, k int) bool {
		return eligible[i].ScheduledAt.Before(eligible[k].ScheduledAt)
	})

	job := eligible[0]
	expires := now.Add(leaseDuration)
	job.Status = StatusProcessing
	job.Attempt++
	job.WorkerID = workerID
	job.LeaseExpiresAt = &expires
	job.UpdatedAt = now

	snapshot := *job
	return &snapshot, nil
}

func (b *MemoryBroker) Ack(ctx context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[jobID]
	if !ok || job.Status != StatusProcessing {
		return nil
	}
	job.Status = StatusCompleted
	job.WorkerID = ""
	job.LeaseExpiresAt = nil
	job.UpdatedAt = b.now()
	return nil
}

func (b *MemoryBroker) Nack(ctx context.Context, jobID string, retry bool, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[jobID]
	if !ok || job.Status != StatusProcessing {
		return nil
	}

	now := b.now()
	job.WorkerID = ""
	job.LeaseExpiresAt = nil
	job.LastError = truncateError(reason)
	job.UpdatedAt = now

	if retry && job.Attempt < job.MaxAttempts {
		job.Status = StatusPending
		job.ScheduledAt = now.Add(time.Duration(job.BackoffMs*job.Attempt) * time.Millisecond)
		return nil
	}
	job.Status = StatusDeadLetter
	return nil
}

func (b *MemoryBroker) DeadLetters(ctx context.Context, queue string) ([]*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var dead []*Job
	for _, j := range b.jobs {
		if j.Queue == queue && j.Status == StatusDeadLetter {
			snapshot := *j
			dead = append(dead, &snapshot)
		}
	}
	sort.Slice(dead, func(i, k int) bool {
		return dead[i].UpdatedAt.After(dead[k].UpdatedAt)
	})
	return dead, nil
}

func (b *MemoryBroker) Stats(ctx context.Context, queue string) (*Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := &Stats{}
	for _, j := range b.jobs {
		if j.Queue != queue {
			continue
		}
		switch j.Status {
		case StatusPending:
			stats.Pending++
		case StatusProcessing:
			stats.Processing++
		case StatusCompleted:
			stats.Completed++
		case StatusDeadLetter:
			stats.DeadLetter++
		}
	}
	return stats, nil
}

// Job returns a snapshot of a job by ID. Test helper.
func (b *MemoryBroker) Job(jobID string) (*Job, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[jobID]
	if !ok {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}
