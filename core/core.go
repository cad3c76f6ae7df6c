package core

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/skillsenselab/resilio/breaker"
	"github.com/skillsenselab/resilio/component"
	"github.com/skillsenselab/resilio/fault"
	"github.com/skillsenselab/resilio/logger"
	"github.com/skillsenselab/resilio/observability"
	"github.com/skillsenselab/resilio/offline"
	"github.com/skillsenselab/resilio/ratelimit"
	"github.com/skillsenselab/resilio/store"
)

// Core assembles the resilience stack: fault classifier, rate
// limiters, circuit breakers and the offline queue/cache, with one
// instance of each registry for the process lifetime.
type Core struct {
	Faults   *fault.Classifier
	Limits   *ratelimit.Manager
	Breakers *breaker.Manager
	Tracker  *offline.Tracker
	Offline  *offline.Manager

	cfg        Config
	log        *logger.Logger
	store      store.Store
	components *component.Registry
	metrics    *observability.Metrics
	meter      *sdkmetric.MeterProvider
}

// New builds a Core from config. Collaborators not overridden via
// options are constructed from the config: the store from its backend
// setting, the liveness probe from the probe URL, the logger from the
// logging section.
func New(cfg Config, opts ...Option) (*Core, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	o := resolveOptions(opts)

	log := o.logger
	if log == nil {
		logger.Init(cfg.Logging)
		log = logger.GetGlobalLogger()
	}
	logger.RegisterComponents(log,
		"core", "fault", "breaker", "ratelimit",
		"offline", "queue", "cache", "connectivity",
	)

	s := o.store
	if s == nil {
		var err error
		s, err = newStore(cfg.Store)
		if err != nil {
			return nil, err
		}
	}

	// Instruments bind to the global provider; InitMeter upgrades them
	// from no-op when metrics are enabled.
	metrics, err := observability.NewMetrics(observability.Meter("resilio"))
	if err != nil {
		return nil, fmt.Errorf("creating metrics: %w", err)
	}

	probe := o.probe
	if probe == nil && cfg.Connectivity.ProbeURL != "" {
		probe = httpProbe(cfg.Connectivity.ProbeURL)
	}
	tracker := offline.NewTracker(offline.TrackerConfig{
		Probe:         probe,
		ProbeInterval: cfg.Connectivity.ProbeInterval,
		ProbeTimeout:  cfg.Connectivity.ProbeTimeout,
		AssumeOnline:  true,
	}, log)

	faults := fault.NewClassifier(fault.Config{
		HistorySize:   cfg.Fault.HistorySize,
		PersistSize:   cfg.Fault.PersistSize,
		ReportTimeout: cfg.Fault.ReportTimeout,
		Notifier:      o.notifier,
		Reporter:      o.reporter,
		Online:        tracker.Online,
		OnRecord: func(rec *fault.Record) {
			metrics.RecordFault(context.Background(), string(rec.Kind), rec.Severity.String())
		},
	}, s, log)

	limits := ratelimit.NewManager(limiterConfig(cfg.Limits, metrics), log)

	breakers := breaker.NewManager(breaker.ManagerConfig{
		Defaults: breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
			Timeout:          cfg.Breaker.Timeout,
		},
	}, log)
	breakers.Subscribe(func(name string, from, to breaker.State, stats breaker.Stats) {
		metrics.RecordBreakerTransition(context.Background(), name, from.String(), to.String())
	})

	mgr := offline.NewManager(offline.ManagerConfig{
		Queue: offline.QueueConfig{
			MaxEntries: cfg.Queue.MaxEntries,
			MaxRetries: cfg.Queue.MaxRetries,
		},
		Cache: offline.CacheConfig{
			TTL:      cfg.Cache.TTL,
			MaxBytes: cfg.Cache.MaxBytes,
			OnHit:    func() { metrics.RecordCacheHit(context.Background()) },
			OnMiss:   func() { metrics.RecordCacheMiss(context.Background()) },
			OnEvict: func(evicted int) {
				metrics.RecordCacheEviction(context.Background(), int64(evicted))
			},
		},
		DrainInterval: cfg.Offline.DrainInterval,
		SweepInterval: cfg.Offline.SweepInterval,
		Concern:       cfg.Offline.Concern,
		OnDrain: func(drained int, elapsed time.Duration) {
			metrics.RecordDrain(context.Background(), int64(drained), elapsed)
		},
	}, s, tracker, breakers, limits, faults, log)

	c := &Core{
		Faults:     faults,
		Limits:     limits,
		Breakers:   breakers,
		Tracker:    tracker,
		Offline:    mgr,
		cfg:        cfg,
		log:        logger.Get("core"),
		store:      s,
		components: component.NewRegistry(),
		metrics:    metrics,
	}

	connectivity := component.NewFunc("connectivity", tracker.Start, tracker.Stop).
		WithHealth(func(ctx context.Context) component.Health {
			h := component.Health{Name: "connectivity", Status: component.StatusHealthy}
			if !tracker.Online() {
				h.Status = component.StatusDegraded
				h.Message = "offline, deferring requests"
			}
			return h
		})
	if err := c.components.Register(connectivity); err != nil {
		return nil, err
	}
	if err := c.components.Register(component.NewFunc("offline", mgr.Start, mgr.Stop)); err != nil {
		return nil, err
	}

	return c, nil
}

// Start rehydrates persisted state and launches the background loops.
func (c *Core) Start(ctx context.Context) error {
	if c.cfg.Metrics.Enabled {
		mc := observability.DefaultMeterConfig(c.cfg.Name)
		mc.ServiceVersion = c.cfg.Version
		mc.Environment = c.cfg.Environment
		mc.Endpoint = c.cfg.Metrics.Endpoint
		mc.Interval = c.cfg.Metrics.Interval

		mp, err := observability.InitMeter(ctx, &mc)
		if err != nil {
			return fmt.Errorf("initializing meter: %w", err)
		}
		c.meter = mp
	}

	if err := c.Faults.Load(ctx); err != nil {
		c.log.Warn("failed to load fault history", logger.ErrorFields("load", err))
	}
	if err := c.Offline.Load(ctx); err != nil {
		c.log.Warn("failed to load offline state", logger.ErrorFields("load", err))
	}

	return c.components.StartAll(ctx)
}

// Stop halts the background loops and flushes metrics.
func (c *Core) Stop(ctx context.Context) error {
	err := c.components.StopAll(ctx)
	if c.meter != nil {
		if merr := c.meter.Shutdown(ctx); merr != nil && err == nil {
			err = merr
		}
		c.meter = nil
	}
	return err
}

// RegisterHandler binds a handler to a request kind.
func (c *Core) RegisterHandler(kind string, h offline.Handler) {
	c.Offline.RegisterHandler(kind, h)
}

// Execute runs op for target through rate limiting and the circuit
// breaker.
func (c *Core) Execute(ctx context.Context, target, key string, op func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	return c.Offline.Execute(ctx, target, key, op)
}

// QueueOrExecute is the offline-aware execution path.
func (c *Core) QueueOrExecute(ctx context.Context, req offline.Request, priority offline.Priority) (*offline.Result, error) {
	res, err := c.Offline.QueueOrExecute(ctx, req, priority)
	if res != nil {
		c.metrics.RecordQueueDepth(ctx, int64(len(c.Offline.QueueSnapshot())))
	}
	return res, err
}

// Drain executes the pending offline queue.
func (c *Core) Drain(ctx context.Context) int {
	return c.Offline.Drain(ctx)
}

// Health returns the aggregate service health: breaker, queue and
// cache summaries plus the lifecycle components. Overall status
// degrades with the worst component.
func (c *Core) Health(ctx context.Context) observability.ServiceHealth {
	sh := observability.NewServiceHealth(c.cfg.Name, c.cfg.Version)
	oh := c.Offline.Health()

	brk := observability.Health{
		Name:   "breakers",
		Status: observability.HealthStatusUp,
		Details: map[string]string{
			"health": strconv.FormatFloat(oh.BreakerHealth, 'f', 2, 64),
		},
	}
	switch {
	case len(oh.Breakers) > 0 && oh.BreakerHealth == 0:
		brk.Status = observability.HealthStatusDown
		brk.Message = "all circuits open"
	case oh.BreakerHealth < 1:
		brk.Status = observability.HealthStatusDegraded
		brk.Message = "open circuits"
	}
	sh.AddComponent(brk)

	sh.AddComponent(observability.Health{
		Name:    "queue",
		Status:  observability.HealthStatusUp,
		Details: map[string]string{"depth": strconv.Itoa(oh.QueueDepth)},
	})
	sh.AddComponent(observability.Health{
		Name:    "cache",
		Status:  observability.HealthStatusUp,
		Details: map[string]string{"entries": strconv.Itoa(oh.CacheEntries)},
	})

	for _, ch := range c.components.HealthAll(ctx) {
		sh.AddComponent(observability.Health{
			Name:    ch.Name,
			Status:  componentStatus(ch.Status),
			Message: ch.Message,
		})
	}
	return *sh
}

// componentStatus maps lifecycle component health onto the service
// health scale.
func componentStatus(s component.HealthStatus) observability.HealthStatus {
	switch s {
	case component.StatusUnhealthy:
		return observability.HealthStatusDown
	case component.StatusDegraded:
		return observability.HealthStatusDegraded
	default:
		return observability.HealthStatusUp
	}
}

// CacheStats returns response cache counters.
func (c *Core) CacheStats() offline.CacheStats {
	return c.Offline.CacheStats()
}

// QueueSnapshot returns the offline queue in priority order.
func (c *Core) QueueSnapshot() []offline.Entry {
	return c.Offline.QueueSnapshot()
}

// History returns the fault history, newest first.
func (c *Core) History() []fault.Record {
	return c.Faults.History()
}

// ClearAll empties the offline queue, the response cache and the fault
// history.
func (c *Core) ClearAll(ctx context.Context) {
	c.Offline.ClearAll(ctx)
	c.Faults.ClearHistory(ctx)
}

// newStore builds the persistence backend from config.
func newStore(cfg StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "memory":
		return store.NewMemory(), nil
	case "file":
		return store.NewFile(cfg.Dir)
	case "redis":
		return store.NewRedis(context.Background(), cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}

// limiterConfig merges configured per-concern limits over the
// conventional defaults and wires the denial metric.
func limiterConfig(limits map[string]LimitConfig, metrics *observability.Metrics) ratelimit.ManagerConfig {
	mc := ratelimit.DefaultManagerConfig()

	onLimit := func(name, key string) {
		metrics.RecordRateLimitDenied(context.Background(), name)
	}
	mc.Defaults.OnLimit = onLimit
	for name, cfg := range mc.Overrides {
		cfg.OnLimit = onLimit
		mc.Overrides[name] = cfg
	}

	for concern, limit := range limits {
		mc.Overrides[concern] = ratelimit.Config{
			MaxRequests: limit.MaxRequests,
			Window:      limit.Window,
			OnLimit:     onLimit,
		}
	}
	return mc
}

// httpProbe builds a liveness probe that issues a GET against the
// health endpoint.
func httpProbe(url string) func(ctx context.Context) error {
	client := &http.Client{}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
		}
		return nil
	}
}
