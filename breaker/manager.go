package breaker

import (
	"sync"

	"github.com/skillsenselab/resilio/logger"
)

// ManagerConfig configures a breaker manager.
type ManagerConfig struct {
	// Defaults is applied to every breaker the manager creates. The
	// Name field is overwritten with the target name.
	Defaults Config
	// Overrides customizes individual targets by name.
	Overrides map[string]Config
}

// DefaultManagerConfig returns a manager config with default breaker
// settings and no overrides.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{Defaults: DefaultConfig("")}
}

// Manager maintains one circuit breaker per target, created lazily on
// first use.
type Manager struct {
	config ManagerConfig
	log    *logger.Logger

	mu        sync.Mutex
	breakers  map[string]*Breaker
	listeners []Listener
}

// NewManager creates a breaker manager.
func NewManager(config ManagerConfig, log *logger.Logger) *Manager {
	if config.Defaults.FailureThreshold <= 0 {
		config.Defaults = DefaultConfig("")
	}
	if log == nil {
		log = logger.NewDefault("resilio")
	}

	return &Manager{
		config:   config,
		log:      log,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for target, creating it on first use.
func (m *Manager) Get(target string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[target]; ok {
		return b
	}

	cfg, ok := m.config.Overrides[target]
	if !ok {
		cfg = m.config.Defaults
	}
	cfg.Name = target

	b := New(cfg, m.log)
	for _, l := range m.listeners {
		b.Subscribe(l)
	}
	m.breakers[target] = b
	return b
}

// Subscribe registers a listener on every existing breaker and every
// breaker created afterwards.
func (m *Manager) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, l)
	for _, b := range m.breakers {
		b.Subscribe(l)
	}
}

// Targets returns the names of all known breakers.
func (m *Manager) Targets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.breakers))
	for name := range m.breakers {
		names = append(names, name)
	}
	return names
}

// Stats returns a snapshot per target.
func (m *Manager) Stats() map[string]Stats {
	m.mu.Lock()
	breakers := make(map[string]*Breaker, len(m.breakers))
	for name, b := range m.breakers {
		breakers[name] = b
	}
	m.mu.Unlock()

	stats := make(map[string]Stats, len(breakers))
	for name, b := range breakers {
		stats[name] = b.Stats()
	}
	return stats
}

// Health returns the fraction of breakers currently CLOSED, in
// [0.0, 1.0]. An empty registry is healthy.
func (m *Manager) Health() float64 {
	m.mu.Lock()
	breakers := make([]*Breaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.Unlock()

	if len(breakers) == 0 {
		return 1.0
	}

	closed := 0
	for _, b := range breakers {
		if b.State() == StateClosed {
			closed++
		}
	}
	return float64(closed) / float64(len(breakers))
}

// ResetAll forces every breaker back to CLOSED.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	breakers := make([]*Breaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.Unlock()

	for _, b := range breakers {
		b.Reset()
	}
}
