package ratelimit

import "context"

// WithRateLimit wraps an operation so every invocation first passes the
// limiter check for key. The wrapped callable returns ErrRateLimited
// (wrapped in nothing) when a window is exhausted.
func WithRateLimit[T any](l *Limiter, key string, fn func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		if res := l.Check(key); !res.Allowed {
			var zero T
			return zero, ErrRateLimited
		}
		return fn(ctx)
	}
}

// WithRateLimitFunc wraps an error-only operation.
func WithRateLimitFunc(l *Limiter, key string, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if res := l.Check(key); !res.Allowed {
			return ErrRateLimited
		}
		return fn(ctx)
	}
}
