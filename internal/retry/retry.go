// Package retry holds the two backoff shapes used by the workers: a linear
// local retry around single gateway calls and the exponential delay the
// queue applies between job attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ExhaustedError is returned once every attempt has failed. It unwraps to
// the last error so callers can still match on it.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Permanent stops retrying immediately and returns err unchanged.
func Permanent(err error) error { return backoff.Permanent(err) }

// Policy retries on any error, waiting BaseDelay*n after the n-th failure.
// MaxAttempts counts total tries, including the first.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	OnRetry     func(err error, wait time.Duration)
}

// Gateway is the policy wrapped around each shipping gateway call.
var Gateway = Policy{MaxAttempts: 2, BaseDelay: time.Second}

// Do runs fn until it succeeds, returns a permanent error, the context is
// done, or MaxAttempts is reached.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}
	attempts, permanent := 0, false
	op := func() error {
		attempts++
		err := fn(ctx)
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(&linear{base: p.BaseDelay}, uint64(max-1)), ctx)

	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = p.OnRetry
	}
	err := backoff.RetryNotify(op, b, notify)
	if err == nil {
		return nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	if !permanent && attempts >= max && ctx.Err() == nil {
		return &ExhaustedError{Attempts: attempts, Err: err}
	}
	return err
}

// Do is Policy{maxAttempts, baseDelay}.Do(ctx, fn).
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func(context.Context) error) error {
	return Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay}.Do(ctx, fn)
}

// DoValue is Do for calls that produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

type linear struct {
	base time.Duration
	n    int
}

func (l *linear) NextBackOff() time.Duration {
	l.n++
	return l.base * time.Duration(l.n)
}

func (l *linear) Reset() { l.n = 0 }

// Exponential is the queue delay before the next attempt of a job that has
// already failed attemptsMade times: delay * 2^(attemptsMade-1).
func Exponential(delay time.Duration, attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	if attemptsMade > 30 {
		attemptsMade = 30
	}
	return delay * time.Duration(1<<(attemptsMade-1))
}
