package jobs

// Result is the outcome a handler reports for one delivery. The runtime
// owns the translation to broker calls; handlers never touch the broker.
type Result struct {
	outcome outcome
	err     error
}

type outcome int

const (
	outcomeOk outcome = iota
	outcomeRetry
	outcomeFatal
)

// Ok reports a successful delivery. The job is acked.
func Ok() Result {
	return Result{outcome: outcomeOk}
}

// Retry reports a transient failure. The job is redelivered after backoff
// while attempts remain, then dead-lettered.
func Retry(err error) Result {
	return Result{outcome: outcomeRetry, err: err}
}

// Fatal reports a permanent failure. The job dead-letters immediately
// regardless of attempts remaining.
func Fatal(err error) Result {
	return Result{outcome: outcomeFatal, err: err}
}

// Err returns the failure carried by a Retry or Fatal result
func (r Result) Err() error {
	return r.err
}
