package limiter

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Do runs fn behind the rate limiter and retries errors the classify
// callback marks as transient. classify returns the backoff to wait before
// the next attempt, or zero when the error is permanent. Slack's HTTP 429
// responses carry a Retry-After value that callers surface through classify,
// which keeps this package free of slack-go types.
//
// maxRetries bounds the retries, not the attempts: maxRetries of 3 means up
// to four calls to fn.
func Do[T any](
	ctx context.Context,
	rl *rate.Limiter,
	maxRetries int,
	classify func(error) time.Duration,
	fn func() (T, error),
) (T, error) {
	var zero T

	for attempt := 0; ; attempt++ {
		if err := rl.Wait(ctx); err != nil {
			return zero, fmt.Errorf("waiting for rate limiter: %w", err)
		}

		v, err := fn()
		if err == nil {
			return v, nil
		}

		backoff := classify(err)
		if backoff <= 0 || attempt >= maxRetries {
			return zero, err
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
	}
}
