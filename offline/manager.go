package offline

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skillsenselab/resilio/breaker"
	"github.com/skillsenselab/resilio/errors"
	"github.com/skillsenselab/resilio/fault"
	"github.com/skillsenselab/resilio/logger"
	"github.com/skillsenselab/resilio/ratelimit"
	"github.com/skillsenselab/resilio/store"
)

// ManagerConfig configures the offline manager.
type ManagerConfig struct {
	Queue QueueConfig
	Cache CacheConfig
	// DrainInterval is how often the queue is drained while online.
	DrainInterval time.Duration
	// SweepInterval is how often expired cache entries and stale rate
	// windows are swept.
	SweepInterval time.Duration
	// Concern selects the rate limiter applied to Execute and
	// QueueOrExecute calls.
	Concern string
	// OnDrain observes completed drain passes.
	OnDrain func(drained int, elapsed time.Duration)
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Queue:         DefaultQueueConfig(),
		Cache:         DefaultCacheConfig(),
		DrainInterval: 2 * time.Minute,
		SweepInterval: 10 * time.Minute,
		Concern:       ratelimit.ConcernAPI,
	}
}

// Result is the outcome of QueueOrExecute: either a payload (fresh or
// cached) or a queue entry when the request was deferred.
type Result struct {
	Payload   []byte `json:"payload,omitempty"`
	FromCache bool   `json:"from_cache"`
	Queued    *Entry `json:"queued,omitempty"`
}

// Health is the aggregate health view.
type Health struct {
	Online        bool                     `json:"online"`
	BreakerHealth float64                  `json:"breaker_health"`
	Breakers      map[string]breaker.Stats `json:"breakers"`
	QueueDepth    int                      `json:"queue_depth"`
	CacheEntries  int                      `json:"cache_entries"`
}

// Manager is the offline-aware execution front. It combines the
// connectivity tracker, queue, cache, breaker registry, rate limiters
// and fault classifier behind a small set of entry points.
type Manager struct {
	config   ManagerConfig
	log      *logger.Logger
	tracker  *Tracker
	queue    *Queue
	cache    *Cache
	breakers *breaker.Manager
	limits   *ratelimit.Manager
	faults   *fault.Classifier

	hmu      sync.RWMutex
	handlers map[string]Handler

	draining atomic.Bool

	mu    sync.Mutex
	stop  chan struct{}
	unsub func()
}

// NewManager wires the offline manager from its collaborators. All of
// them are required except the store, which may be nil for
// in-memory-only operation.
func NewManager(
	config ManagerConfig,
	s store.Store,
	tracker *Tracker,
	breakers *breaker.Manager,
	limits *ratelimit.Manager,
	faults *fault.Classifier,
	log *logger.Logger,
) *Manager {
	if config.DrainInterval <= 0 {
		config.DrainInterval = 2 * time.Minute
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 10 * time.Minute
	}
	if config.Concern == "" {
		config.Concern = ratelimit.ConcernAPI
	}
	if log == nil {
		log = logger.NewDefault("resilio")
	}

	return &Manager{
		config:   config,
		log:      log.WithComponent("offline"),
		tracker:  tracker,
		queue:    NewQueue(config.Queue, s, log),
		cache:    NewCache(config.Cache, s, log),
		breakers: breakers,
		limits:   limits,
		faults:   faults,
		handlers: make(map[string]Handler),
	}
}

// RegisterHandler binds a handler to a request kind. Rehydrated queue
// entries of that kind execute through it on drain.
func (m *Manager) RegisterHandler(kind string, h Handler) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	m.handlers[kind] = h
}

// Load rehydrates queue and cache from persistence.
func (m *Manager) Load(ctx context.Context) error {
	if err := m.queue.Load(ctx); err != nil {
		return err
	}
	return m.cache.Load(ctx)
}

// Execute runs op for target through the rate limiter and circuit
// breaker. Failures are classified, which records, notifies and
// reports them per severity.
func (m *Manager) Execute(ctx context.Context, target, key string, op func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if res := m.limits.Get(m.config.Concern).Check(key); !res.Allowed {
		return nil, errors.RateLimited().WithDetail("retry_after_ms", res.RetryAfter.Milliseconds())
	}

	var payload []byte
	err := m.breakers.Get(target).Execute(ctx, func(ctx context.Context) error {
		p, opErr := op(ctx)
		if opErr != nil {
			return opErr
		}
		payload = p
		return nil
	})
	if err != nil {
		err = m.translateBreakerErr(err, target)
		m.faults.Classify(err, fault.Context{
			Action: "execute",
			Origin: target,
		})
		return nil, err
	}
	return payload, nil
}

// QueueOrExecute is the offline-aware execution path: validate, rate
// limit, consult the cache, then execute through the breaker when
// online or queue for later when not. A failed online execution whose
// fault is connectivity-shaped is queued rather than surfaced.
func (m *Manager) QueueOrExecute(ctx context.Context, req Request, priority Priority) (*Result, error) {
	if err := req.Validate(); err != nil {
		m.faults.Classify(err, fault.Context{
			Action: "queue_or_execute",
			Origin: req.Target,
		})
		return nil, err
	}
	if !priority.Valid() {
		priority = PriorityMedium
	}

	if res := m.limits.Get(m.config.Concern).Check(req.Target); !res.Allowed {
		return nil, errors.RateLimited().WithDetail("retry_after_ms", res.RetryAfter.Milliseconds())
	}

	if payload, ok := m.cache.Get(ctx, req); ok {
		return &Result{Payload: payload, FromCache: true}, nil
	}

	handler, ok := m.handler(req.Kind)
	if !ok {
		err := errors.InvalidInput("no handler registered for kind " + req.Kind)
		m.faults.Classify(err, fault.Context{
			Action: "queue_or_execute",
			Origin: req.Target,
		})
		return nil, err
	}

	if !m.tracker.Online() {
		entry, err := m.queue.Enqueue(ctx, req, priority)
		if err != nil {
			return nil, err
		}
		return &Result{Queued: &entry}, nil
	}

	var payload []byte
	err := m.breakers.Get(req.Target).Execute(ctx, func(ctx context.Context) error {
		p, opErr := handler(ctx, req)
		if opErr != nil {
			return opErr
		}
		payload = p
		return nil
	})
	if err != nil {
		err = m.translateBreakerErr(err, req.Target)
		rec := m.faults.Classify(err, fault.Context{
			Action: "queue_or_execute",
			Origin: req.Target,
		})
		if rec.Kind == fault.KindOffline || rec.Kind == fault.KindNetwork {
			entry, qErr := m.queue.Enqueue(ctx, req, priority)
			if qErr != nil {
				return nil, err
			}
			return &Result{Queued: &entry}, nil
		}
		return nil, err
	}

	m.cache.Put(ctx, req, payload)
	return &Result{Payload: payload}, nil
}

// Drain executes the current pending queue snapshot in priority order.
// A second call while one is running is a no-op; drain never runs
// concurrently with itself.
func (m *Manager) Drain(ctx context.Context) int {
	if !m.draining.CompareAndSwap(false, true) {
		return 0
	}
	defer m.draining.Store(false)

	pending := m.queue.Pending()
	if len(pending) == 0 {
		return 0
	}

	m.log.Info("draining queue", logger.Fields("entries", len(pending)))

	start := time.Now()
	drained := 0
	for _, entry := range pending {
		if ctx.Err() != nil {
			break
		}
		if m.drainOne(ctx, entry) {
			drained++
		}
	}

	m.log.Info("drain finished", logger.Fields(
		"drained", drained,
		"remaining", m.queue.Len(),
	))
	if m.config.OnDrain != nil {
		m.config.OnDrain(drained, time.Since(start))
	}
	return drained
}

// drainOne executes a single queued entry and reports whether it
// completed.
func (m *Manager) drainOne(ctx context.Context, entry Entry) bool {
	handler, ok := m.handler(entry.Request.Kind)
	if !ok {
		m.failEntry(ctx, entry, errors.InvalidInput("no handler registered for kind "+entry.Request.Kind))
		return false
	}

	m.queue.SetStatus(ctx, entry.ID, StatusRetrying, "")

	var payload []byte
	err := m.breakers.Get(entry.Request.Target).Execute(ctx, func(ctx context.Context) error {
		p, opErr := handler(ctx, entry.Request)
		if opErr != nil {
			return opErr
		}
		payload = p
		return nil
	})
	if err != nil {
		m.failEntry(ctx, entry, m.translateBreakerErr(err, entry.Request.Target))
		return false
	}

	m.cache.Put(ctx, entry.Request, payload)
	m.queue.Remove(ctx, entry.ID)
	return true
}

// failEntry records a drain failure, classifying the fault when the
// entry exhausts its retries.
func (m *Manager) failEntry(ctx context.Context, entry Entry, cause error) {
	updated, ok := m.queue.RecordFailure(ctx, entry.ID, cause)
	if !ok {
		return
	}
	if updated.Status == StatusFailed {
		m.faults.Classify(cause, fault.Context{
			Action: "drain",
			Origin: entry.Request.Target,
			Meta:   map[string]string{"entry_id": entry.ID},
		})
	}
}

// Start subscribes to connectivity transitions and launches the
// periodic drain and sweep loops.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return nil
	}
	stop := make(chan struct{})
	m.stop = stop
	m.unsub = m.tracker.Subscribe(func(online bool) {
		if online {
			go m.Drain(context.Background())
		}
	})
	m.mu.Unlock()

	go m.run(stop)
	return nil
}

// Stop halts the background loops.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) run(stop chan struct{}) {
	drain := time.NewTicker(m.config.DrainInterval)
	defer drain.Stop()
	sweep := time.NewTicker(m.config.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-drain.C:
			if m.tracker.Online() && len(m.queue.Pending()) > 0 {
				m.Drain(context.Background())
			}
		case <-sweep.C:
			m.cache.Sweep(context.Background())
			m.limits.SweepAll()
		case <-stop:
			return
		}
	}
}

// Health returns the aggregate health view.
func (m *Manager) Health() Health {
	return Health{
		Online:        m.tracker.Online(),
		BreakerHealth: m.breakers.Health(),
		Breakers:      m.breakers.Stats(),
		QueueDepth:    m.queue.Len(),
		CacheEntries:  m.cache.Stats().Entries,
	}
}

// CacheStats returns cache counters.
func (m *Manager) CacheStats() CacheStats {
	return m.cache.Stats()
}

// QueueSnapshot returns all queue entries in priority order, failed
// entries included.
func (m *Manager) QueueSnapshot() []Entry {
	return m.queue.Entries()
}

// ClearAll empties both the queue and the cache.
func (m *Manager) ClearAll(ctx context.Context) {
	m.queue.Clear(ctx)
	m.cache.Clear(ctx)
}

// translateBreakerErr maps breaker sentinel errors onto typed
// application errors so they classify correctly.
func (m *Manager) translateBreakerErr(err error, target string) error {
	switch {
	case stderrors.Is(err, breaker.ErrOpen):
		return errors.CircuitOpen(target).WithCause(err)
	case stderrors.Is(err, breaker.ErrTimeout):
		return errors.Timeout(target).WithCause(err)
	default:
		return err
	}
}

// handler looks up the handler for a request kind.
func (m *Manager) handler(kind string) (Handler, bool) {
	m.hmu.RLock()
	defer m.hmu.RUnlock()
	h, ok := m.handlers[kind]
	return h, ok
}
