package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coursekit/coursekit/pkg/logger"
)

// Handler processes one decoded job delivery. The payload is the envelope's
// inner JSON, already validated for its kind.
type Handler func(ctx context.Context, kind Kind, payload json.RawMessage) Result

// Compensate runs once when a job dead-letters, to undo any partial state
// the failed deliveries left behind. It is fire-and-forget: failures are
// logged, never retried.
type Compensate func(ctx context.Context, payload []byte, cause error)

// HandlerOptions configures a queue registration
type HandlerOptions struct {
	// Concurrency is the number of lease loops for this queue (default 1)
	Concurrency int
	// Compensate, when set, runs after a delivery dead-letters
	Compensate Compensate
}

// RuntimeConfig holds the runtime's polling and lease settings
type RuntimeConfig struct {
	// PollInterval is how long an idle lease loop waits between polls
	PollInterval time.Duration
	// LeaseDuration is the visibility window stamped on each claim
	LeaseDuration time.Duration
}

// Runtime drains registered queues against a Broker. Each queue gets a
// fixed pool of lease loops; each loop leases one job at a time, decodes it,
// dispatches the handler, and translates the result into Ack or Nack.
// A recovered panic counts as a transient failure.
type Runtime struct {
	broker Broker
	config RuntimeConfig
	log    *slog.Logger

	mu      sync.Mutex
	queues  map[string]*queueRuntime
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
}

// queueRuntime is one queue's registration plus its delivery counters
type queueRuntime struct {
	queue   string
	handler Handler
	opts    HandlerOptions

	metricsMu      sync.RWMutex
	processedCount int64
	successCount   int64
	failureCount   int64
}

// WorkerMetrics contains per-queue delivery counters
type WorkerMetrics struct {
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// NewRuntime creates a worker runtime over the given broker
func NewRuntime(broker Broker, config RuntimeConfig, log *slog.Logger) *Runtime {
	if config.PollInterval == 0 {
		config.PollInterval = time.Second
	}
	if config.LeaseDuration == 0 {
		config.LeaseDuration = time.Minute
	}
	return &Runtime{
		broker: broker,
		config: config,
		log:    log.With(logger.Scope("runtime")),
		queues: make(map[string]*queueRuntime),
	}
}

// Register binds a handler to a queue. Must be called before Start.
func (r *Runtime) Register(queue string, handler Handler, opts HandlerOptions) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		panic(fmt.Sprintf("jobs: Register(%q) after Start", queue))
	}
	if _, exists := r.queues[queue]; exists {
		panic(fmt.Sprintf("jobs: queue %q registered twice", queue))
	}
	r.queues[queue] = &queueRuntime{queue: queue, handler: handler, opts: opts}
}

// Start launches the lease loops for every registered queue
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	r.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.group, runCtx = errgroup.WithContext(runCtx)

	for _, q := range r.queues {
		for i := 0; i < q.opts.Concurrency; i++ {
			q := q
			workerID := fmt.Sprintf("%s/%d", q.queue, i)
			r.group.Go(func() error {
				r.leaseLoop(runCtx, q, workerID)
				return nil
			})
		}
		r.log.Info("queue registered",
			slog.String("queue", q.queue),
			slog.Int("concurrency", q.opts.Concurrency))
	}
	return nil
}

// Stop cancels the lease loops and waits for in-flight deliveries
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	cancel, group := r.cancel, r.group
	r.started = false
	r.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		group.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("runtime stopped gracefully")
	case <-ctx.Done():
		r.log.Warn("runtime stop timeout, abandoning in-flight jobs")
	}
	return nil
}

// Metrics returns delivery counters per queue
func (r *Runtime) Metrics() map[string]WorkerMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]WorkerMetrics, len(r.queues))
	for name, q := range r.queues {
		q.metricsMu.RLock()
		out[name] = WorkerMetrics{
			Processed: q.processedCount,
			Succeeded: q.successCount,
			Failed:    q.failureCount,
		}
		q.metricsMu.RUnlock()
	}
	return out
}

// leaseLoop polls for work until the runtime stops. After a delivery it
// immediately tries to lease again so a backlog drains at full speed; the
// poll interval only gates the idle case.
func (r *Runtime) leaseLoop(ctx context.Context, q *queueRuntime, workerID string) {
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for {
			job, err := r.broker.Lease(ctx, q.queue, workerID, r.config.LeaseDuration)
			if err != nil {
				r.log.Warn("lease failed",
					slog.String("queue", q.queue),
					logger.Error(err))
				break
			}
			if job == nil {
				break
			}
			r.deliver(ctx, q, job)

			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}
}

// deliver runs one leased job through decode, dispatch, and settlement
func (r *Runtime) deliver(ctx context.Context, q *queueRuntime, job *Job) {
	log := r.log.With(
		slog.String("queue", q.queue),
		slog.String("job_id", job.ID),
		slog.Int("attempt", job.Attempt))

	kind, payload, err := Decode(job.Payload)
	if err != nil {
		// Retrying can never fix a malformed payload
		log.Error("malformed job, dead-lettering", logger.Error(err))
		q.recordFailure()
		r.settle(ctx, q, job, Fatal(err), log)
		return
	}

	result := r.dispatch(ctx, q.handler, kind, payload)

	switch result.outcome {
	case outcomeOk:
		q.recordSuccess()
	default:
		q.recordFailure()
		log.Warn("delivery failed",
			slog.String("kind", string(kind)),
			slog.Bool("retryable", result.outcome == outcomeRetry),
			logger.Error(result.err))
	}
	r.settle(ctx, q, job, result, log)
}

// dispatch invokes the handler, converting a panic into a transient failure
func (r *Runtime) dispatch(ctx context.Context, handler Handler, kind Kind, payload json.RawMessage) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			result = Retry(fmt.Errorf("handler panic: %v", rec))
		}
	}()
	return handler(ctx, kind, payload)
}

// settle translates a result into broker calls and runs compensation when
// the delivery dead-letters
func (r *Runtime) settle(ctx context.Context, q *queueRuntime, job *Job, result Result, log *slog.Logger) {
	if result.outcome == outcomeOk {
		if err := r.broker.Ack(ctx, job.ID); err != nil {
			// The lease will expire and the job redelivers; the handler
			// must tolerate the duplicate
			log.Error("ack failed", logger.Error(err))
		}
		return
	}

	retry := result.outcome == outcomeRetry
	reason := ""
	if result.err != nil {
		reason = result.err.Error()
	}

	// The final lease carries attempt == maxAttempts, so a retryable
	// failure there dead-letters too
	willDeadLetter := !retry || job.Attempt >= job.MaxAttempts

	if err := r.broker.Nack(ctx, job.ID, retry, reason); err != nil {
		log.Error("nack failed", logger.Error(err))
		return
	}

	if willDeadLetter && q.opts.Compensate != nil {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("compensation panicked", slog.Any("panic", rec))
				}
			}()
			q.opts.Compensate(ctx, job.Payload, result.err)
		}()
	}
}

func (q *queueRuntime) recordSuccess() {
	q.metricsMu.Lock()
	q.processedCount++
	q.successCount++
	q.metricsMu.Unlock()
}

func (q *queueRuntime) recordFailure() {
	q.metricsMu.Lock()
	q.processedCount++
	q.failureCount++
	q.metricsMu.Unlock()
}
