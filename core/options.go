package core

import (
	"context"

	"github.com/skillsenselab/resilio/fault"
	"github.com/skillsenselab/resilio/logger"
	"github.com/skillsenselab/resilio/store"
)

// options holds optional collaborator overrides for New.
type options struct {
	logger   *logger.Logger
	store    store.Store
	notifier fault.Notifier
	reporter fault.Reporter
	probe    func(ctx context.Context) error
}

// Option customizes a Core.
type Option func(*options)

// WithLogger uses the given logger instead of initializing one from
// the config.
func WithLogger(log *logger.Logger) Option {
	return func(o *options) { o.logger = log }
}

// WithStore uses the given store, ignoring the configured backend.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithNotifier routes user-visible fault notifications to n.
func WithNotifier(n fault.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithReporter routes best-effort fault reports to r.
func WithReporter(r fault.Reporter) Option {
	return func(o *options) { o.reporter = r }
}

// WithProbe replaces the HTTP liveness probe derived from the
// configured probe URL.
func WithProbe(probe func(ctx context.Context) error) Option {
	return func(o *options) { o.probe = probe }
}

func resolveOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
