package fault

import (
	"context"
	"time"
)

// RetryConfig configures the retry helper.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int
	// BaseBackoff is the delay before the second attempt. Subsequent
	// delays double: base * 2^(attempt-1), capped at MaxBackoff.
	BaseBackoff time.Duration
	// MaxBackoff caps the backoff delay.
	MaxBackoff time.Duration
	// OnRetry is called before each retry.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  10 * time.Second,
	}
}

// Retry runs fn up to cfg.MaxAttempts times with exponential backoff.
// Between attempts the failure is checked for retryability without
// recording it; a non-retryable failure stops the loop immediately.
// When attempts are exhausted (or the loop stops early) the last
// failure is fully classified, so exactly one record lands in history
// per failed call.
func Retry[T any](ctx context.Context, c *Classifier, cfg RetryConfig, fctx Context, fn func() (T, error)) (T, *Record, error) {
	var zero T
	var lastErr error

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			rec := c.Classify(ctx.Err(), fctx)
			return zero, rec, ctx.Err()
		default:
		}

		result, err := fn()
		if err == nil {
			return result, nil, nil
		}
		lastErr = err

		if !c.Retryable(err) {
			break
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		backoff := cfg.BaseBackoff << (attempt - 1)
		if backoff > cfg.MaxBackoff || backoff <= 0 {
			backoff = cfg.MaxBackoff
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			rec := c.Classify(ctx.Err(), fctx)
			return zero, rec, ctx.Err()
		case <-timer.C:
		}
	}

	rec := c.Classify(lastErr, fctx)
	return zero, rec, lastErr
}

// RetryFunc runs an error-only operation through Retry.
func RetryFunc(ctx context.Context, c *Classifier, cfg RetryConfig, fctx Context, fn func() error) (*Record, error) {
	_, rec, err := Retry(ctx, c, cfg, fctx, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return rec, err
}
