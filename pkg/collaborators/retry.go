package collaborators

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WithRetry wraps a transient-external call (platform API 5xx/timeouts, git
// transient failures) with bounded exponential backoff, per spec §7's
// "Transient external" policy. op should return a permanent error via
// backoff.Permanent to stop retrying immediately.
func WithRetry(ctx context.Context, maxElapsed time.Duration, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxElapsedTime(backoff.NewExponentialBackOff(), maxElapsed), ctx)
	return backoff.Retry(op, b)
}
