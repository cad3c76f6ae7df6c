package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/skillsenselab/resilio/observability"
	"github.com/skillsenselab/resilio/offline"
	"github.com/skillsenselab/resilio/store"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()

	c, err := New(DefaultConfig("resilio-test"), WithStore(store.NewMemory()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestNewAppliesDefaults(t *testing.T) {
	c := newTestCore(t)

	sh := c.Health(context.Background())
	if sh.Service != "resilio-test" {
		t.Errorf("expected service name, got %q", sh.Service)
	}
	if sh.Status != observability.HealthStatusUp {
		t.Errorf("expected an up service, got %s", sh.Status)
	}
	if componentByName(t, sh, "connectivity").Status != observability.HealthStatusUp {
		t.Error("expected connectivity up by default")
	}
	if componentByName(t, sh, "breakers").Status != observability.HealthStatusUp {
		t.Error("expected breakers up with no traffic")
	}
}

func componentByName(t *testing.T, sh observability.ServiceHealth, name string) observability.Health {
	t.Helper()

	for _, ch := range sh.Components {
		if ch.Name == name {
			return ch
		}
	}
	t.Fatalf("component %q not found in %+v", name, sh.Components)
	return observability.Health{}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig("resilio-test")
	cfg.Store.Backend = "cassette-tape"

	if _, err := New(cfg); err == nil {
		t.Error("expected unknown store backend to fail validation")
	}
}

func TestNewRejectsUnnamedService(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected missing name to fail validation")
	}
}

func TestValidateCollectsFieldErrors(t *testing.T) {
	cfg := DefaultConfig("resilio-test")
	cfg.Store.Backend = "file"
	cfg.Limits = map[string]LimitConfig{
		"query": {MaxRequests: 0, Window: time.Minute},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation to fail")
	}
	if !strings.Contains(err.Error(), "store.dir") {
		t.Errorf("expected the missing dir to be named, got %q", err)
	}
	if !strings.Contains(err.Error(), "limits.query.max_requests") {
		t.Errorf("expected the bad limit to be named, got %q", err)
	}
}

func TestHealthDegradedWhenOffline(t *testing.T) {
	c := newTestCore(t)
	c.Tracker.SetOnline(false)

	sh := c.Health(context.Background())
	if sh.Status != observability.HealthStatusDegraded {
		t.Errorf("expected a degraded service while offline, got %s", sh.Status)
	}
	if componentByName(t, sh, "connectivity").Status != observability.HealthStatusDegraded {
		t.Error("expected connectivity reported degraded")
	}
}

func TestHealthDownWhenCircuitsOpen(t *testing.T) {
	c := newTestCore(t)

	boom := errors.New("Failed to fetch")
	for i := 0; i < 5; i++ {
		_, _ = c.Execute(context.Background(), "api.example.com", "client-1",
			func(ctx context.Context) ([]byte, error) {
				return nil, boom
			})
	}

	sh := c.Health(context.Background())
	if sh.Status != observability.HealthStatusDown {
		t.Errorf("expected a down service with all circuits open, got %s", sh.Status)
	}
	brk := componentByName(t, sh, "breakers")
	if brk.Status != observability.HealthStatusDown {
		t.Errorf("expected breakers down, got %s", brk.Status)
	}
	if brk.Details["health"] != "0.00" {
		t.Errorf("expected zero breaker health, got %q", brk.Details["health"])
	}
}

func TestExecuteEndToEnd(t *testing.T) {
	c := newTestCore(t)

	payload, err := c.Execute(context.Background(), "api.example.com", "client-1",
		func(ctx context.Context) ([]byte, error) {
			return []byte("ok"), nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != "ok" {
		t.Errorf("expected payload ok, got %q", payload)
	}
}

func TestExecuteRecordsFaultHistory(t *testing.T) {
	c := newTestCore(t)

	_, err := c.Execute(context.Background(), "api.example.com", "client-1",
		func(ctx context.Context) ([]byte, error) {
			return nil, errors.New("connection refused")
		})
	if err == nil {
		t.Fatal("expected an error")
	}

	history := c.History()
	if len(history) != 1 {
		t.Fatalf("expected 1 fault record, got %d", len(history))
	}
	if history[0].Kind != "NETWORK" {
		t.Errorf("expected NETWORK fault, got %s", history[0].Kind)
	}
}

func TestQueueOrExecuteOfflinePath(t *testing.T) {
	c := newTestCore(t)
	c.RegisterHandler("query", func(ctx context.Context, req offline.Request) ([]byte, error) {
		return []byte("deferred"), nil
	})

	c.Tracker.SetOnline(false)

	req := offline.Request{Target: "api.example.com", Kind: "query", Payload: []byte("q")}
	res, err := c.QueueOrExecute(context.Background(), req, offline.PriorityHigh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Queued == nil {
		t.Fatal("expected a queued entry while offline")
	}

	c.Tracker.SetOnline(true)
	if drained := c.Drain(context.Background()); drained != 1 {
		t.Errorf("expected 1 drained entry, got %d", drained)
	}

	// The drained response is cached for the same request
	res, err = c.QueueOrExecute(context.Background(), req, offline.PriorityHigh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.FromCache || string(res.Payload) != "deferred" {
		t.Errorf("expected cached payload, got %+v", res)
	}
}

func TestClearAllWipesEverything(t *testing.T) {
	c := newTestCore(t)
	c.RegisterHandler("query", func(ctx context.Context, req offline.Request) ([]byte, error) {
		return []byte("ok"), nil
	})

	c.Tracker.SetOnline(false)
	req := offline.Request{Target: "api.example.com", Kind: "query"}
	_, _ = c.QueueOrExecute(context.Background(), req, offline.PriorityLow)

	_, _ = c.Execute(context.Background(), "api.example.com", "k",
		func(ctx context.Context) ([]byte, error) {
			return nil, errors.New("boom")
		})

	c.ClearAll(context.Background())

	if len(c.QueueSnapshot()) != 0 {
		t.Error("expected empty queue")
	}
	if c.CacheStats().Entries != 0 {
		t.Error("expected empty cache")
	}
	if len(c.History()) != 0 {
		t.Error("expected empty fault history")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	c := newTestCore(t)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sh := c.Health(context.Background())
	if len(sh.Components) != 5 {
		t.Errorf("expected 5 components, got %d", len(sh.Components))
	}
	componentByName(t, sh, "connectivity")
	componentByName(t, sh, "offline")

	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStartRehydratesPersistedQueue(t *testing.T) {
	s := store.NewMemory()

	c1, err := New(DefaultConfig("resilio-test"), WithStore(s))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c1.Tracker.SetOnline(false)
	c1.RegisterHandler("query", func(ctx context.Context, req offline.Request) ([]byte, error) {
		return []byte("ok"), nil
	})
	req := offline.Request{Target: "api.example.com", Kind: "query"}
	_, _ = c1.QueueOrExecute(context.Background(), req, offline.PriorityMedium)

	c2, err := New(DefaultConfig("resilio-test"), WithStore(s))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c2.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = c2.Stop(context.Background()) }()

	if len(c2.QueueSnapshot()) != 1 {
		t.Errorf("expected rehydrated queue entry, got %d", len(c2.QueueSnapshot()))
	}
}

func TestWithProbeOverride(t *testing.T) {
	cfg := DefaultConfig("resilio-test")
	cfg.Connectivity.ProbeInterval = 20 * time.Millisecond

	probed := make(chan struct{}, 1)
	c, err := New(cfg,
		WithStore(store.NewMemory()),
		WithProbe(func(ctx context.Context) error {
			select {
			case probed <- struct{}{}:
			default:
			}
			return nil
		}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = c.Stop(context.Background()) }()

	select {
	case <-probed:
	case <-time.After(time.Second):
		t.Fatal("expected the injected probe to run")
	}
}
