// Package ratelimit provides fixed-window request rate limiting keyed
// by caller identity.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// Common rate limiter errors.
var (
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Config configures a rate limiter.
type Config struct {
	// Name identifies this limiter for metrics/logging.
	Name string
	// MaxRequests is the number of requests allowed per window.
	MaxRequests int
	// Window is the fixed window length.
	Window time.Duration
	// OnLimit is called when a request is denied.
	OnLimit func(name, key string)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:        name,
		MaxRequests: 60,
		Window:      time.Minute,
	}
}

// Result describes the outcome of a limit check.
type Result struct {
	// Allowed reports whether the request may proceed.
	Allowed bool
	// Limit is the configured per-window maximum.
	Limit int
	// Remaining is how many requests are left in the current window.
	Remaining int
	// ResetAt is when the current window ends.
	ResetAt time.Time
	// RetryAfter is how long to wait before the window resets.
	// Zero when the request is allowed.
	RetryAfter time.Duration
}

// window is one fixed counting interval for a key. It is replaced, not
// rolled, once its reset time passes.
type window struct {
	count   int
	resetAt time.Time
}

// Limiter implements fixed-window rate limiting with independent
// windows per key. Windows are created lazily on first check.
type Limiter struct {
	config Config

	mu      sync.Mutex
	windows map[string]*window
}

// New creates a new fixed-window limiter.
func New(config Config) *Limiter {
	if config.MaxRequests <= 0 {
		config.MaxRequests = 60
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}

	return &Limiter{
		config:  config,
		windows: make(map[string]*window),
	}
}

// Check consumes one request slot for key if the window allows it.
// A denied request does not increment the counter.
func (l *Limiter) Check(key string) Result {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.freshWindow(key, now)

	if w.count >= l.config.MaxRequests {
		if l.config.OnLimit != nil {
			l.config.OnLimit(l.config.Name, key)
		}
		return Result{
			Allowed:    false,
			Limit:      l.config.MaxRequests,
			Remaining:  0,
			ResetAt:    w.resetAt,
			RetryAfter: w.resetAt.Sub(now),
		}
	}

	w.count++
	return Result{
		Allowed:   true,
		Limit:     l.config.MaxRequests,
		Remaining: l.config.MaxRequests - w.count,
		ResetAt:   w.resetAt,
	}
}

// Info reports the current window state for key without consuming a
// slot, for UI display.
func (l *Limiter) Info(key string) Result {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		// No live window: the next check would start fresh.
		return Result{
			Allowed:   true,
			Limit:     l.config.MaxRequests,
			Remaining: l.config.MaxRequests,
			ResetAt:   now.Add(l.config.Window),
		}
	}

	remaining := l.config.MaxRequests - w.count
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:   remaining > 0,
		Limit:     l.config.MaxRequests,
		Remaining: remaining,
		ResetAt:   w.resetAt,
	}
	if !res.Allowed {
		res.RetryAfter = w.resetAt.Sub(now)
	}
	return res
}

// Execute runs fn if the limit allows, consuming one slot for key.
func (l *Limiter) Execute(key string, fn func() error) error {
	if res := l.Check(key); !res.Allowed {
		return ErrRateLimited
	}
	return fn()
}

// Sweep removes expired windows and returns how many were dropped.
// Call periodically to bound memory for high-cardinality keys.
func (l *Limiter) Sweep() int {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := 0
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
			dropped++
		}
	}
	return dropped
}

// Keys returns the number of live windows.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Name returns the limiter name.
func (l *Limiter) Name() string {
	return l.config.Name
}

// freshWindow returns the live window for key, replacing any expired
// one. Caller holds the mutex.
func (l *Limiter) freshWindow(key string, now time.Time) *window {
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.config.Window)}
		l.windows[key] = w
	}
	return w
}
