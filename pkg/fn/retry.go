package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts configures Retry. Setting MaxWait equal to InitialWait with
// Jitter off gives a fixed delay between attempts.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
	// OnRetry is called after a failed attempt that will be retried.
	// attempt is 1-based.
	OnRetry func(attempt int, err error, wait time.Duration)
	// ShouldRetry, when set, stops retrying as soon as it returns false.
	ShouldRetry func(err error) bool
}

// DefaultRetry is exponential backoff starting at one second.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: time.Second,
	MaxWait:     30 * time.Second,
	Jitter:      true,
}

// FixedRetry returns options for attempts tries spaced delay apart.
func FixedRetry(attempts int, delay time.Duration) RetryOpts {
	return RetryOpts{MaxAttempts: attempts, InitialWait: delay, MaxWait: delay}
}

// Retry calls f until it succeeds, MaxAttempts is reached, or ctx is done.
// The last failure is returned when attempts run out.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	var result Result[T]
	wait := opts.InitialWait

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		result = f(ctx)
		if result.IsOk() || attempt == opts.MaxAttempts {
			return result
		}
		if opts.ShouldRetry != nil && !opts.ShouldRetry(result.err) {
			return result
		}
		if ctx.Err() != nil {
			return Err[T](ctx.Err())
		}

		sleep := wait
		if opts.Jitter {
			sleep = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if opts.MaxWait > 0 && sleep > opts.MaxWait {
			sleep = opts.MaxWait
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, result.err, sleep)
		}

		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return Err[T](ctx.Err())
		case <-t.C:
		}

		wait *= 2
		if opts.MaxWait > 0 && wait > opts.MaxWait {
			wait = opts.MaxWait
		}
	}
	return result
}

// RetryStage wraps a Stage with Retry.
func RetryStage[In, Out any](opts RetryOpts, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		return Retry(ctx, opts, func(ctx context.Context) Result[Out] {
			return stage(ctx, in)
		})
	}
}
