// Package breaker implements per-target circuit breaking so unhealthy
// remote targets fail fast instead of piling on.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/skillsenselab/resilio/logger"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows requests to pass through.
	StateClosed State = iota
	// StateOpen blocks all requests.
	StateOpen
	// StateHalfOpen allows requests through to probe recovery.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Common errors.
var (
	// ErrOpen is returned when the breaker rejects a call without
	// invoking the operation.
	ErrOpen = errors.New("circuit breaker is open")
	// ErrTimeout is returned when the wrapped operation exceeds the
	// configured timeout. The operation itself may still be running;
	// cancellation through its context is advisory.
	ErrTimeout = errors.New("circuit breaker: operation timed out")
)

// Listener receives state transitions with a statistics snapshot.
type Listener func(name string, from, to State, stats Stats)

// Config configures a circuit breaker.
type Config struct {
	// Name identifies the protected target.
	Name string
	// FailureThreshold is the number of consecutive failures in CLOSED
	// before the breaker opens.
	FailureThreshold int
	// RecoveryTimeout is how long after the last failure an OPEN
	// breaker waits before letting a probe call through.
	RecoveryTimeout time.Duration
	// SuccessThreshold is the number of consecutive successes in
	// HALF_OPEN required to close the breaker.
	SuccessThreshold int
	// Timeout bounds each wrapped operation. A timeout counts as a
	// failure.
	Timeout time.Duration
	// OnStateChange is called on every transition.
	OnStateChange Listener
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
		Timeout:          30 * time.Second,
	}
}

// Stats is a point-in-time snapshot of breaker statistics.
type Stats struct {
	State          State     `json:"state"`
	Failures       int       `json:"failures"`
	Successes      int       `json:"successes"`
	LastFailure    time.Time `json:"last_failure"`
	LastSuccess    time.Time `json:"last_success"`
	TotalRequests  uint64    `json:"total_requests"`
	TotalSuccesses uint64    `json:"total_successes"`
	TotalFailures  uint64    `json:"total_failures"`
	// Uptime is how long the breaker has existed.
	Uptime time.Duration `json:"uptime"`
}

// Breaker is a per-target circuit breaker. A breaker is never in two
// states at once; all transitions happen under its mutex.
type Breaker struct {
	config Config
	log    *logger.Logger

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	lastSuccess time.Time

	totalRequests  uint64
	totalSuccesses uint64
	totalFailures  uint64
	createdAt      time.Time

	listeners []Listener
}

// New creates a new circuit breaker.
func New(config Config, log *logger.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 3
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("resilio")
	}

	return &Breaker{
		config:    config,
		log:       log.WithComponent("breaker").WithTarget(config.Name),
		state:     StateClosed,
		createdAt: time.Now(),
	}
}

// Execute runs fn through the breaker with a hard timeout. It returns
// ErrOpen without invoking fn when the circuit is open, and ErrTimeout
// when fn outlives the configured timeout (counted as a failure).
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allowRequest() {
		return ErrOpen
	}

	tctx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(tctx)
	}()

	select {
	case err := <-done:
		b.recordResult(err)
		return err
	case <-tctx.Done():
		// The operation keeps whatever it was doing; we stop waiting.
		b.recordResult(tctx.Err())
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return tctx.Err()
	}
}

// State returns the current state, applying the open-to-half-open
// timeout transition if due.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// Stats returns a snapshot of breaker statistics.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot()
}

// Subscribe registers a listener for state transitions.
func (b *Breaker) Subscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Reset forces the breaker back to CLOSED with counters cleared.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toState(StateClosed)
	b.failures = 0
	b.successes = 0
}

// allowRequest checks if a request should be allowed, counting it when
// it is.
func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateClosed, StateHalfOpen:
		b.totalRequests++
		return true
	default:
		return false
	}
}

// recordResult records the outcome of an executed request.
func (b *Breaker) recordResult(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.onFailure()
	} else {
		b.onSuccess()
	}
}

func (b *Breaker) onSuccess() {
	b.totalSuccesses++
	b.lastSuccess = time.Now()

	switch b.currentState() {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.toState(StateClosed)
		}
	}
}

func (b *Breaker) onFailure() {
	b.totalFailures++
	b.lastFailure = time.Now()

	switch b.currentState() {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.toState(StateOpen)
		}
	case StateHalfOpen:
		// One failure is enough while probing.
		b.toState(StateOpen)
	}
}

// currentState returns the state, handling the recovery-timeout
// transition. Caller holds the mutex.
func (b *Breaker) currentState() State {
	if b.state == StateOpen {
		if time.Since(b.lastFailure) >= b.config.RecoveryTimeout {
			b.toState(StateHalfOpen)
		}
	}
	return b.state
}

// toState transitions to a new state and notifies listeners. Caller
// holds the mutex; listeners must not call back into the breaker.
func (b *Breaker) toState(to State) {
	if b.state == to {
		return
	}

	from := b.state
	b.state = to

	switch to {
	case StateClosed:
		b.failures = 0
		b.successes = 0
	case StateHalfOpen:
		b.successes = 0
	case StateOpen:
		b.successes = 0
	}

	stats := b.snapshot()

	b.log.Info("state changed", logger.Fields(
		"from", from.String(),
		logger.FieldState, to.String(),
		"failures", stats.Failures,
	))

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.config.Name, from, to, stats)
	}
	for _, l := range b.listeners {
		l(b.config.Name, from, to, stats)
	}
}

// snapshot builds a Stats copy. Caller holds the mutex.
func (b *Breaker) snapshot() Stats {
	return Stats{
		State:          b.state,
		Failures:       b.failures,
		Successes:      b.successes,
		LastFailure:    b.lastFailure,
		LastSuccess:    b.lastSuccess,
		TotalRequests:  b.totalRequests,
		TotalSuccesses: b.totalSuccesses,
		TotalFailures:  b.totalFailures,
		Uptime:         time.Since(b.createdAt),
	}
}
