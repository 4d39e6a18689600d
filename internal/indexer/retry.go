package indexer

import (
	"context"
	"time"
)

// Backoff computes a linear retry delay: Base scaled by the attempt number,
// capped at Max when Max is positive.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base * time.Duration(attempt)
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

type waitFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// withRetry calls fn until it succeeds, fails with a non-transient error, or
// maxRetries retries have been spent. It returns the number of attempts made.
func withRetry(
	ctx context.Context,
	maxRetries int,
	backoff Backoff,
	wait waitFunc,
	onRetry func(attempt int, delay time.Duration, err error),
	fn func(context.Context) error,
) (int, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if wait == nil {
		wait = sleepContext
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, ctxErr
		}
		if !IsTransient(err) || attempt > maxRetries {
			return attempt, err
		}

		delay := backoff.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		if err := wait(ctx, delay); err != nil {
			return attempt, err
		}
	}
}
