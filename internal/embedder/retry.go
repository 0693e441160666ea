package embedder

import (
	"context"
	"time"
)

// RetryConfig configures exponential backoff retry behavior
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryConfig returns sensible defaults for provider API calls
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
	}
}

// retryWithBackoff executes fn with exponential backoff. Only errors
// the classifier reports as transient are retried; fatal errors and
// context cancellation return immediately.
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, transient func(error) bool, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	backoff := config.BaseDelay

	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if transient != nil && !transient(err) {
			return zero, err
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * config.Multiplier)
		if backoff > config.MaxDelay {
			backoff = config.MaxDelay
		}
	}

	return zero, lastErr
}
