package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mizutome/ragbench/model"
)

// RetryConfig controls the shared retry loop of the remote backends.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the backoff used by the hosted API backends.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    5,
		InitialDelay:  2 * time.Second,
		BackoffFactor: 2.0,
	}
}

// withRetry runs fn with exponential backoff. Only rate limits and
// transient backend failures are retried, every other error fails the call
// immediately. A server supplied retry hint extends the current delay.
func withRetry(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error

	delay := config.InitialDelay
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == config.MaxRetries {
			break
		}

		wait := delay
		var rateLimited *model.RateLimitError
		if errors.As(lastErr, &rateLimited) && rateLimited.RetryAfter > wait {
			wait = rateLimited.RetryAfter
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * config.BackoffFactor)
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func retryable(err error) bool {
	var rateLimited *model.RateLimitError
	var unavailable *model.BackendUnavailableError
	return errors.As(err, &rateLimited) || errors.As(err, &unavailable)
}
