package offline

import (
	"context"
	"sync"
	"time"

	"github.com/skillsenselab/resilio/logger"
)

// ProbeFunc checks whether the network is reachable, typically with a
// lightweight request to a health endpoint. A nil error means online.
type ProbeFunc func(ctx context.Context) error

// Status describes the current connectivity state.
type Status struct {
	Online     bool      `json:"online"`
	LinkType   string    `json:"link_type,omitempty"`
	SpeedClass string    `json:"speed_class,omitempty"`
	LastOnline time.Time `json:"last_online,omitempty"`
}

// TrackerConfig configures a connectivity tracker.
type TrackerConfig struct {
	// Probe is invoked periodically to verify liveness. When nil the
	// tracker relies solely on SetOnline signals.
	Probe ProbeFunc
	// ProbeInterval is how often the probe runs.
	ProbeInterval time.Duration
	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration
	// AssumeOnline sets the initial state.
	AssumeOnline bool
}

// DefaultTrackerConfig returns sensible defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		ProbeInterval: 30 * time.Second,
		ProbeTimeout:  5 * time.Second,
		AssumeOnline:  true,
	}
}

// Tracker maintains a boolean connectivity state fed by external
// online/offline signals and a periodic liveness probe. Subscribers
// are notified on every transition.
type Tracker struct {
	config TrackerConfig
	log    *logger.Logger

	mu     sync.Mutex
	status Status
	subs   map[int]func(online bool)
	nextID int
	stop   chan struct{}
}

// NewTracker creates a connectivity tracker.
func NewTracker(config TrackerConfig, log *logger.Logger) *Tracker {
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = 30 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("resilio")
	}

	t := &Tracker{
		config: config,
		log:    log.WithComponent("connectivity"),
		subs:   make(map[int]func(online bool)),
	}
	t.status.Online = config.AssumeOnline
	if config.AssumeOnline {
		t.status.LastOnline = time.Now()
	}
	return t
}

// Online returns the current connectivity state.
func (t *Tracker) Online() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status.Online
}

// Status returns a snapshot of the connectivity state.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetOnline records an external online/offline signal. Subscribers are
// notified only when the state actually changes.
func (t *Tracker) SetOnline(online bool) {
	t.mu.Lock()
	changed := t.status.Online != online
	t.status.Online = online
	if online {
		t.status.LastOnline = time.Now()
	}
	subs := t.subscribers()
	t.mu.Unlock()

	if !changed {
		return
	}

	t.log.Info("connectivity changed", logger.Fields("online", online))
	for _, fn := range subs {
		fn(online)
	}
}

// SetLink updates link metadata without affecting the online state.
func (t *Tracker) SetLink(linkType, speedClass string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.LinkType = linkType
	t.status.SpeedClass = speedClass
}

// Subscribe registers a transition callback and returns an unsubscribe
// function. Callbacks run on the goroutine that observed the change.
func (t *Tracker) Subscribe(fn func(online bool)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Start launches the periodic liveness probe.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.stop != nil {
		t.mu.Unlock()
		return nil
	}
	stop := make(chan struct{})
	t.stop = stop
	t.mu.Unlock()

	go t.probeLoop(stop)
	return nil
}

// Stop halts the probe loop.
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	t.mu.Unlock()
	return nil
}

func (t *Tracker) probeLoop(stop chan struct{}) {
	ticker := time.NewTicker(t.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.probe()
		case <-stop:
			return
		}
	}
}

// probe runs a single liveness check and folds the result into the
// tracked state.
func (t *Tracker) probe() {
	if t.config.Probe == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.config.ProbeTimeout)
	defer cancel()

	err := t.config.Probe(ctx)
	if err != nil {
		t.log.Debug("liveness probe failed", logger.ErrorFields("probe", err))
	}
	t.SetOnline(err == nil)
}

// subscribers returns the current callbacks. Caller holds the mutex.
func (t *Tracker) subscribers() []func(online bool) {
	subs := make([]func(online bool), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	return subs
}
