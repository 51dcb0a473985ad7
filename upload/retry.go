package upload

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// maxBackoffShift caps the exponential term so long retry chains cannot
// overflow the delay arithmetic.
const maxBackoffShift = 16

// retriesExhaustedError wraps the last transient failure after every allowed
// retry was spent.
type retriesExhaustedError struct {
	attempts int
	err      error
}

func (e *retriesExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.attempts, e.err)
}

func (e *retriesExhaustedError) Unwrap() error {
	return e.err
}

// retrier reruns one chunk attempt on transient failure with exponential
// backoff and jitter. Successes and permanent failures short-circuit.
type retrier struct {
	maxRetries int
	baseDelay  time.Duration

	// sleep is a seam for tests; the default honors context cancellation
	// mid-backoff.
	sleep func(context.Context, time.Duration) error
	// jitter is a seam for tests; the default draws from [0, d).
	jitter func(d time.Duration) time.Duration
}

func newRetrier(maxRetries int, baseDelay time.Duration) *retrier {
	return &retrier{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		sleep:      sleepContext,
		jitter: func(d time.Duration) time.Duration {
			if d <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(d)))
		},
	}
}

// do invokes attempt up to maxRetries+1 times. onRetry is called before each
// backoff sleep with the zero-based retry index, the delay and the failure.
func (r *retrier) do(ctx context.Context, attempt func() (Outcome, error), onRetry func(retry int, delay time.Duration, err error)) (Outcome, error) {
	var lastErr error

	for i := 0; i <= r.maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		outcome, err := attempt()
		if err == nil {
			return outcome, nil
		}
		if !IsTransient(err) {
			return Outcome{}, err
		}

		lastErr = err
		if i == r.maxRetries {
			break
		}

		delay := r.backoffDelay(i)
		if onRetry != nil {
			onRetry(i, delay, err)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return Outcome{}, err
		}
	}

	return Outcome{}, &retriesExhaustedError{attempts: r.maxRetries + 1, err: lastErr}
}

// backoffDelay returns baseDelay * 2^retry plus jitter of up to half the
// resulting delay, to keep parallel sessions from retrying in lockstep.
func (r *retrier) backoffDelay(retry int) time.Duration {
	if retry > maxBackoffShift {
		retry = maxBackoffShift
	}
	delay := r.baseDelay << uint(retry)
	return delay + r.jitter(delay/2)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
