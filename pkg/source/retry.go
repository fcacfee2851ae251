package source

import (
	"context"
	"errors"
	"time"
)

const (
	maxRetryAttempts    = 3
	initialRetryBackoff = 1 * time.Second
	maxRetryBackoff     = 30 * time.Second
)

type retryConfig struct {
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	sleep          func(context.Context, time.Duration) error
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		maxAttempts:    maxRetryAttempts,
		initialBackoff: initialRetryBackoff,
		maxBackoff:     maxRetryBackoff,
		sleep:          sleepWithContext,
	}
}

// executeWithRetry runs fn with exponential backoff on retryable errors.
// Rate-limit responses that advertise a Retry-After delay use that delay
// (capped); everything else doubles from initialBackoff up to maxBackoff.
// Auth rejections and validation errors return immediately.
func executeWithRetry(ctx context.Context, cfg retryConfig, fn func() error) error {
	backoff := cfg.initialBackoff

	var lastErr error
	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) || attempt == cfg.maxAttempts {
			return err
		}

		delay := backoff
		var rle *RateLimitError
		if errors.As(err, &rle) && rle.RetryAfter > 0 {
			delay = rle.RetryAfter
		}
		if delay > cfg.maxBackoff {
			delay = cfg.maxBackoff
		}

		if err := cfg.sleep(ctx, delay); err != nil {
			return err
		}

		backoff *= 2
		if backoff > cfg.maxBackoff {
			backoff = cfg.maxBackoff
		}
	}

	return lastErr
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
