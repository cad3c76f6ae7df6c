package ratelimit

import (
	"sync"
	"time"

	"github.com/skillsenselab/resilio/logger"
)

// Well-known limiter names, one per concern.
const (
	ConcernQuery  = "query"
	ConcernAuth   = "auth"
	ConcernUpload = "upload"
	ConcernAPI    = "api"
)

// ManagerConfig configures the limiter registry.
type ManagerConfig struct {
	// Defaults is the configuration applied to limiters created without
	// an explicit config. Name is overwritten per limiter.
	Defaults Config
	// Overrides maps limiter names to per-concern configurations.
	Overrides map[string]Config
}

// DefaultManagerConfig registers the conventional per-concern limits.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Defaults: Config{MaxRequests: 60, Window: time.Minute},
		Overrides: map[string]Config{
			ConcernQuery:  {MaxRequests: 30, Window: time.Minute},
			ConcernAuth:   {MaxRequests: 5, Window: 5 * time.Minute},
			ConcernUpload: {MaxRequests: 10, Window: time.Minute},
			ConcernAPI:    {MaxRequests: 120, Window: time.Minute},
		},
	}
}

// Manager is a create-or-return registry of limiters by name. One
// limiter exists per concern for the process lifetime.
type Manager struct {
	cfg ManagerConfig
	log *logger.Logger

	mu       sync.Mutex
	limiters map[string]*Limiter
}

// NewManager creates a limiter registry.
func NewManager(cfg ManagerConfig, log *logger.Logger) *Manager {
	if cfg.Defaults.MaxRequests <= 0 {
		cfg.Defaults.MaxRequests = 60
	}
	if cfg.Defaults.Window <= 0 {
		cfg.Defaults.Window = time.Minute
	}
	if log == nil {
		log = logger.NewDefault("resilio")
	}

	return &Manager{
		cfg:      cfg,
		log:      log.WithComponent("ratelimit"),
		limiters: make(map[string]*Limiter),
	}
}

// Get returns the limiter for name, creating it lazily from the
// override for that name or the manager defaults.
func (m *Manager) Get(name string) *Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.limiters[name]; ok {
		return l
	}

	cfg, ok := m.cfg.Overrides[name]
	if !ok {
		cfg = m.cfg.Defaults
	}
	cfg.Name = name

	l := New(cfg)
	m.limiters[name] = l

	m.log.Debug("limiter created", logger.Fields(
		"name", name,
		"max_requests", cfg.MaxRequests,
		"window", cfg.Window.String(),
	))
	return l
}

// Names returns the names of all created limiters.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.limiters))
	for name := range m.limiters {
		names = append(names, name)
	}
	return names
}

// SweepAll drops expired windows across every limiter and returns the
// total number removed.
func (m *Manager) SweepAll() int {
	m.mu.Lock()
	limiters := make([]*Limiter, 0, len(m.limiters))
	for _, l := range m.limiters {
		limiters = append(limiters, l)
	}
	m.mu.Unlock()

	total := 0
	for _, l := range limiters {
		total += l.Sweep()
	}
	if total > 0 {
		m.log.Debug("expired rate windows swept", logger.Fields("count", total))
	}
	return total
}
