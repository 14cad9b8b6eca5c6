package util

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryPolicy describes how a fallible call is retried: how many attempts
// are made and how the delay between them grows. The delay doubles after
// each failed attempt, capped at MaxDelay, with up to Jitter added on top.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
}

// DefaultRetryPolicy is suitable for calls against rate-limited services.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    10 * time.Second,
	Jitter:      250 * time.Millisecond,
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	if d <= 0 {
		return 0
	}
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Int64N(int64(p.Jitter) + 1))
	}
	return d
}

// Permanent wraps an error that retrying cannot fix, such as an empty input
// or a failed precondition. RetryDo and RetryValue stop on it immediately.
type Permanent struct {
	Err error
}

func (p Permanent) Error() string { return p.Err.Error() }
func (p Permanent) Unwrap() error { return p.Err }

// IsPermanent reports whether err is marked permanent anywhere in its chain.
func IsPermanent(err error) bool {
	var p Permanent
	return errors.As(err, &p)
}

// RetryDo calls fn until it returns nil, the policy's attempts are exhausted,
// or ctx is done. Cancellation of ctx and permanent errors abort immediately;
// a deadline fn set on its own attempt is an ordinary transient failure and
// is retried. Returns the last error if all attempts fail.
func RetryDo(ctx context.Context, p RetryPolicy, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.attempts(); attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt > 0 {
			if err := sleepCtx(ctx, p.delay(attempt-1)); err != nil {
				return err
			}
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if IsPermanent(err) || ctx.Err() != nil {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// RetryValue calls fn until it returns a result and nil error, following the
// same abort rules as RetryDo.
func RetryValue[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < p.attempts(); attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt > 0 {
			if err := sleepCtx(ctx, p.delay(attempt-1)); err != nil {
				return zero, err
			}
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if IsPermanent(err) || ctx.Err() != nil {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
