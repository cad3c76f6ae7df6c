package logger

import (
	"sync"
)

// registry holds named component loggers seeded at startup so code
// that is not handed a logger can still resolve one by component name.
var registry = &loggerRegistry{
	loggers: make(map[string]*Logger),
}

type loggerRegistry struct {
	mu      sync.RWMutex
	loggers map[string]*Logger
}

// Register stores a named logger in the registry.
func Register(name string, l *Logger) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.loggers[name] = l
}

// Get retrieves a named logger. If the name is not registered it
// returns the global logger tagged with the requested component name.
func Get(name string) *Logger {
	registry.mu.RLock()
	l, ok := registry.loggers[name]
	registry.mu.RUnlock()
	if ok {
		return l
	}
	return GetGlobalLogger().WithComponent(name)
}

// RegisterComponents seeds the registry with component loggers derived
// from base, one per name. Call it once the root logger is built so
// every later Get(name) resolves to the same tagged instance.
func RegisterComponents(base *Logger, names ...string) {
	for _, name := range names {
		Register(name, base.WithComponent(name))
	}
}
