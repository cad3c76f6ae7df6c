package core

import (
	"time"

	"github.com/skillsenselab/resilio/config"
	"github.com/skillsenselab/resilio/store"
	"github.com/skillsenselab/resilio/validation"
)

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is one of "memory", "file" or "redis".
	Backend string `yaml:"backend" mapstructure:"backend"`
	// Dir is the directory for the file backend.
	Dir   string            `yaml:"dir" mapstructure:"dir"`
	Redis store.RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// FaultConfig tunes the fault classifier.
type FaultConfig struct {
	HistorySize   int           `yaml:"history_size" mapstructure:"history_size"`
	PersistSize   int           `yaml:"persist_size" mapstructure:"persist_size"`
	ReportTimeout time.Duration `yaml:"report_timeout" mapstructure:"report_timeout"`
}

// LimitConfig tunes one rate-limit concern.
type LimitConfig struct {
	MaxRequests int           `yaml:"max_requests" mapstructure:"max_requests"`
	Window      time.Duration `yaml:"window" mapstructure:"window"`
}

// BreakerConfig tunes the default circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" mapstructure:"recovery_timeout"`
	SuccessThreshold int           `yaml:"success_threshold" mapstructure:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// QueueConfig tunes the offline queue.
type QueueConfig struct {
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries"`
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`
}

// CacheConfig tunes the response cache.
type CacheConfig struct {
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
	MaxBytes int           `yaml:"max_bytes" mapstructure:"max_bytes"`
}

// ConnectivityConfig tunes the liveness probe.
type ConnectivityConfig struct {
	// ProbeURL is the health endpoint hit by the periodic probe.
	// Empty disables probing; connectivity then follows external
	// signals only.
	ProbeURL      string        `yaml:"probe_url" mapstructure:"probe_url"`
	ProbeInterval time.Duration `yaml:"probe_interval" mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`
}

// OfflineConfig tunes the background drain and sweep loops.
type OfflineConfig struct {
	DrainInterval time.Duration `yaml:"drain_interval" mapstructure:"drain_interval"`
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	Concern       string        `yaml:"concern" mapstructure:"concern"`
}

// MetricsConfig tunes OTLP metric export.
type MetricsConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Endpoint string        `yaml:"endpoint" mapstructure:"endpoint"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

// Config is the full configuration for a Core.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Store        StoreConfig            `yaml:"store" mapstructure:"store"`
	Fault        FaultConfig            `yaml:"fault" mapstructure:"fault"`
	Limits       map[string]LimitConfig `yaml:"limits" mapstructure:"limits"`
	Breaker      BreakerConfig          `yaml:"breaker" mapstructure:"breaker"`
	Queue        QueueConfig            `yaml:"queue" mapstructure:"queue"`
	Cache        CacheConfig            `yaml:"cache" mapstructure:"cache"`
	Connectivity ConnectivityConfig     `yaml:"connectivity" mapstructure:"connectivity"`
	Offline      OfflineConfig          `yaml:"offline" mapstructure:"offline"`
	Metrics      MetricsConfig          `yaml:"metrics" mapstructure:"metrics"`
}

// DefaultConfig returns a fully defaulted config for the given service
// name, using the in-memory store backend.
func DefaultConfig(name string) Config {
	cfg := Config{}
	cfg.Name = name
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields with defaults.
func (c *Config) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()

	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Fault.HistorySize <= 0 {
		c.Fault.HistorySize = 100
	}
	if c.Fault.PersistSize <= 0 {
		c.Fault.PersistSize = 50
	}
	if c.Fault.ReportTimeout <= 0 {
		c.Fault.ReportTimeout = 10 * time.Second
	}
	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.RecoveryTimeout <= 0 {
		c.Breaker.RecoveryTimeout = 60 * time.Second
	}
	if c.Breaker.SuccessThreshold <= 0 {
		c.Breaker.SuccessThreshold = 3
	}
	if c.Breaker.Timeout <= 0 {
		c.Breaker.Timeout = 30 * time.Second
	}
	if c.Queue.MaxEntries <= 0 {
		c.Queue.MaxEntries = 100
	}
	if c.Queue.MaxRetries <= 0 {
		c.Queue.MaxRetries = 3
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 24 * time.Hour
	}
	if c.Cache.MaxBytes <= 0 {
		c.Cache.MaxBytes = 10 << 20
	}
	if c.Connectivity.ProbeInterval <= 0 {
		c.Connectivity.ProbeInterval = 30 * time.Second
	}
	if c.Connectivity.ProbeTimeout <= 0 {
		c.Connectivity.ProbeTimeout = 5 * time.Second
	}
	if c.Offline.DrainInterval <= 0 {
		c.Offline.DrainInterval = 2 * time.Minute
	}
	if c.Offline.SweepInterval <= 0 {
		c.Offline.SweepInterval = 10 * time.Minute
	}
	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = "localhost:4318"
	}
	if c.Metrics.Interval <= 0 {
		c.Metrics.Interval = 15 * time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}

	v := validation.New()
	v.Required("store.backend", c.Store.Backend)
	v.OneOf("store.backend", c.Store.Backend, []string{"memory", "file", "redis"})
	v.Custom(c.Store.Backend != "file" || c.Store.Dir != "",
		"store.dir", "is required for the file backend")

	for concern, limit := range c.Limits {
		v.Custom(limit.MaxRequests > 0, "limits."+concern+".max_requests", "must be positive")
		v.Custom(limit.Window > 0, "limits."+concern+".window", "must be positive")
	}

	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}
