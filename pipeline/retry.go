package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/gamma-omg/rag-search/apperr"
)

// Backoff returns the delay after the given failed attempt, counted from 1.
type Backoff func(attempt int) time.Duration

func LinearBackoff(base time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return base * time.Duration(attempt)
	}
}

type RetryConfig struct {
	Attempts  int           `yaml:"attempts" validate:"gte=1"`
	BaseDelay time.Duration `yaml:"base_delay" validate:"gte=0"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, BaseDelay: time.Second}
}

// WithRetry runs op until it succeeds, fails with a non-retryable error, or
// has been attempted attempts times. The last error is returned unchanged. A
// context cancelled while waiting ends the loop early.
func WithRetry(ctx context.Context, attempts int, backoff Backoff, op func(ctx context.Context, attempt int) error) error {
	attempts = max(attempts, 1)

	for attempt := 1; ; attempt++ {
		err := op(ctx, attempt)
		if err == nil || attempt >= attempts || !apperr.Retryable(err) {
			return err
		}

		t := time.NewTimer(backoff(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w (retry aborted after attempt %d: %w)", err, attempt, ctx.Err())
		case <-t.C:
		}
	}
}
