// ABOUTME: Bounded retry envelope that races each attempt against a per-attempt timeout
// ABOUTME: Exhaustion yields a caller-chosen fallback value instead of an error

package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrTimeout marks an attempt that lost the race against its timer.
var ErrTimeout = errors.New("attempt timed out")

// Operation is a unit of work the envelope may invoke more than once.
// It must be safe to re-invoke: the envelope does not deduplicate.
type Operation[T any] func(ctx context.Context) (T, error)

// Policy bounds how many times and for how long an operation is tried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Timeout limits each individual attempt. Zero means no limit.
	Timeout time.Duration
	// Interval is the constant pause between attempts.
	Interval time.Duration
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Timeout < 0 {
		p.Timeout = 0
	}
	if p.Interval < 0 {
		p.Interval = 0
	}
	return p
}

// Outcome is the tagged result of racing an operation against a timer.
type Outcome[T any] struct {
	Value    T
	Err      error
	TimedOut bool
}

// OK reports whether the operation completed in time without error.
func (o Outcome[T]) OK() bool {
	return !o.TimedOut && o.Err == nil
}

// Race runs op and returns whichever comes first: its completion or the timer.
//
// When the timer wins, the attempt's context is cancelled and its result is
// discarded. Cancellation is best-effort only: an operation that ignores its
// context keeps running and its side effects may still land.
func Race[T any](ctx context.Context, timeout time.Duration, op Operation[T]) Outcome[T] {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so an abandoned attempt can always deliver and exit.
	done := make(chan Outcome[T], 1)
	go func() {
		v, err := op(attemptCtx)
		done <- Outcome[T]{Value: v, Err: err}
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case out := <-done:
		return out
	case <-expired:
		return Outcome[T]{TimedOut: true}
	case <-ctx.Done():
		return Outcome[T]{Err: ctx.Err()}
	}
}

// Permanent wraps err so that Try stops retrying immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Try runs op until it succeeds or p.MaxAttempts attempts have failed.
// A timed-out attempt counts as a failure. The last error is returned on exhaustion.
func Try[T any](ctx context.Context, p Policy, op Operation[T]) (T, error) {
	p = p.normalized()

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		out := Race(ctx, p.Timeout, op)
		if out.TimedOut {
			var zero T
			return zero, fmt.Errorf("attempt %d: %w", attempt, ErrTimeout)
		}
		return out.Value, out.Err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Interval)),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
}

// Do is Try with the error folded into fallback. Because a failure is only
// visible as fallback, callers must pick a fallback that no successful
// attempt can ever return.
func Do[T any](ctx context.Context, p Policy, fallback T, op Operation[T]) T {
	v, err := Try(ctx, p, op)
	if err != nil {
		return fallback
	}
	return v
}
