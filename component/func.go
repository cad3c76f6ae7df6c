package component

import "context"

// Func adapts plain start/stop/health functions into a Component. It
// wraps services that manage their own goroutines but do not carry a
// name or health probe of their own.
type Func struct {
	name    string
	start   func(ctx context.Context) error
	stop    func(ctx context.Context) error
	healthy func(ctx context.Context) error
	health  func(ctx context.Context) Health
}

// NewFunc creates a component from start and stop functions.
func NewFunc(name string, start, stop func(ctx context.Context) error) *Func {
	return &Func{name: name, start: start, stop: stop}
}

// WithHealthCheck sets a custom health probe. Without one, the
// component reports healthy once registered.
func (f *Func) WithHealthCheck(fn func(ctx context.Context) error) *Func {
	f.healthy = fn
	return f
}

// WithHealth sets a full health probe for components that report
// degraded states. It takes precedence over WithHealthCheck.
func (f *Func) WithHealth(fn func(ctx context.Context) Health) *Func {
	f.health = fn
	return f
}

// Name returns the component name.
func (f *Func) Name() string { return f.name }

// Start runs the start function.
func (f *Func) Start(ctx context.Context) error {
	if f.start == nil {
		return nil
	}
	return f.start(ctx)
}

// Stop runs the stop function.
func (f *Func) Stop(ctx context.Context) error {
	if f.stop == nil {
		return nil
	}
	return f.stop(ctx)
}

// Health runs the health probe.
func (f *Func) Health(ctx context.Context) Health {
	if f.health != nil {
		return f.health(ctx)
	}
	if f.healthy == nil {
		return Health{Name: f.name, Status: StatusHealthy}
	}
	if err := f.healthy(ctx); err != nil {
		return Health{Name: f.name, Status: StatusUnhealthy, Message: err.Error()}
	}
	return Health{Name: f.name, Status: StatusHealthy}
}
