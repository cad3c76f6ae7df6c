package offline

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/skillsenselab/resilio/breaker"
	"github.com/skillsenselab/resilio/errors"
	"github.com/skillsenselab/resilio/fault"
	"github.com/skillsenselab/resilio/ratelimit"
	"github.com/skillsenselab/resilio/store"
)

func newTestManager(t *testing.T, online bool, cfg ManagerConfig) (*Manager, *Tracker) {
	t.Helper()

	s := store.NewMemory()
	trackerCfg := DefaultTrackerConfig()
	trackerCfg.AssumeOnline = online
	tracker := NewTracker(trackerCfg, nil)

	faultCfg := fault.DefaultConfig()
	faultCfg.Online = tracker.Online
	faults := fault.NewClassifier(faultCfg, s, nil)

	m := NewManager(
		cfg,
		s,
		tracker,
		breaker.NewManager(breaker.DefaultManagerConfig(), nil),
		ratelimit.NewManager(ratelimit.DefaultManagerConfig(), nil),
		faults,
		nil,
	)
	return m, tracker
}

func TestManager_QueueOrExecuteOnline(t *testing.T) {
	m, _ := newTestManager(t, true, DefaultManagerConfig())
	m.RegisterHandler("query", func(ctx context.Context, req Request) ([]byte, error) {
		return []byte("response"), nil
	})

	res, err := m.QueueOrExecute(context.Background(), testRequest("api"), PriorityMedium)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Payload) != "response" {
		t.Errorf("expected fresh payload, got %q", res.Payload)
	}
	if res.FromCache {
		t.Error("expected a fresh execution, not a cache hit")
	}
	if res.Queued != nil {
		t.Error("expected no queue entry")
	}
}

func TestManager_QueueOrExecuteServesCacheOnRepeat(t *testing.T) {
	m, _ := newTestManager(t, true, DefaultManagerConfig())

	var calls int
	m.RegisterHandler("query", func(ctx context.Context, req Request) ([]byte, error) {
		calls++
		return []byte("response"), nil
	})

	req := testRequest("api")
	_, _ = m.QueueOrExecute(context.Background(), req, PriorityMedium)
	res, err := m.QueueOrExecute(context.Background(), req, PriorityMedium)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !res.FromCache {
		t.Error("expected a cache hit on repeat")
	}
	if calls != 1 {
		t.Errorf("expected handler called once, got %d", calls)
	}
}

func TestManager_QueueOrExecuteQueuesWhenOffline(t *testing.T) {
	m, _ := newTestManager(t, false, DefaultManagerConfig())
	m.RegisterHandler("query", func(ctx context.Context, req Request) ([]byte, error) {
		t.Error("handler should not run while offline")
		return nil, nil
	})

	res, err := m.QueueOrExecute(context.Background(), testRequest("api"), PriorityHigh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Queued == nil {
		t.Fatal("expected a queued entry")
	}
	if res.Queued.Priority != PriorityHigh {
		t.Errorf("expected high priority, got %s", res.Queued.Priority)
	}
	if len(m.QueueSnapshot()) != 1 {
		t.Errorf("expected 1 queued entry, got %d", len(m.QueueSnapshot()))
	}
}

func TestManager_QueueOrExecuteRejectsInvalidRequest(t *testing.T) {
	m, _ := newTestManager(t, true, DefaultManagerConfig())

	_, err := m.QueueOrExecute(context.Background(), Request{}, PriorityMedium)
	if err == nil {
		t.Fatal("expected a validation error")
	}

	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) || appErr.Code != errors.ErrCodeInvalidInput {
		t.Errorf("expected invalid input error, got %v", err)
	}
}

func TestManager_QueueOrExecuteRejectsUnknownKind(t *testing.T) {
	m, _ := newTestManager(t, true, DefaultManagerConfig())

	_, err := m.QueueOrExecute(context.Background(), testRequest("api"), PriorityMedium)
	if err == nil {
		t.Fatal("expected an error for an unregistered kind")
	}
}

func TestManager_QueueOrExecuteQueuesOnNetworkFailure(t *testing.T) {
	m, _ := newTestManager(t, true, DefaultManagerConfig())
	m.RegisterHandler("query", func(ctx context.Context, req Request) ([]byte, error) {
		return nil, stderrors.New("connection refused")
	})

	res, err := m.QueueOrExecute(context.Background(), testRequest("api"), PriorityMedium)
	if err != nil {
		t.Fatalf("expected the request to be queued, got %v", err)
	}
	if res.Queued == nil {
		t.Fatal("expected a queued entry after a network-shaped failure")
	}
}

func TestManager_DrainExecutesQueuedEntries(t *testing.T) {
	m, tracker := newTestManager(t, false, DefaultManagerConfig())

	var executed int
	m.RegisterHandler("query", func(ctx context.Context, req Request) ([]byte, error) {
		executed++
		return []byte("late response"), nil
	})

	req := testRequest("api")
	_, _ = m.QueueOrExecute(context.Background(), req, PriorityMedium)

	tracker.SetOnline(true)
	drained := m.Drain(context.Background())

	if drained != 1 {
		t.Errorf("expected 1 drained entry, got %d", drained)
	}
	if executed != 1 {
		t.Errorf("expected handler executed once, got %d", executed)
	}
	if len(m.QueueSnapshot()) != 0 {
		t.Errorf("expected empty queue after drain, got %d", len(m.QueueSnapshot()))
	}

	// Drained responses land in the cache
	res, err := m.QueueOrExecute(context.Background(), req, PriorityMedium)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.FromCache {
		t.Error("expected drained response to be served from cache")
	}
}

func TestManager_DrainReportsToHook(t *testing.T) {
	var drainedSeen int
	var elapsedSeen time.Duration
	cfg := DefaultManagerConfig()
	cfg.OnDrain = func(drained int, elapsed time.Duration) {
		drainedSeen = drained
		elapsedSeen = elapsed
	}
	m, tracker := newTestManager(t, false, cfg)

	m.RegisterHandler("query", func(ctx context.Context, req Request) ([]byte, error) {
		return []byte("ok"), nil
	})

	reqA := testRequest("api")
	reqB := testRequest("api")
	reqB.Payload = []byte(`{"q":"other"}`)
	_, _ = m.QueueOrExecute(context.Background(), reqA, PriorityMedium)
	_, _ = m.QueueOrExecute(context.Background(), reqB, PriorityMedium)

	tracker.SetOnline(true)
	m.Drain(context.Background())

	if drainedSeen != 2 {
		t.Errorf("expected hook to observe 2 drained entries, got %d", drainedSeen)
	}
	if elapsedSeen < 0 {
		t.Errorf("expected non-negative elapsed, got %v", elapsedSeen)
	}
}

func TestManager_DrainMarksFailedAfterMaxRetries(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.Queue.MaxRetries = 2
	m, tracker := newTestManager(t, false, cfg)

	m.RegisterHandler("query", func(ctx context.Context, req Request) ([]byte, error) {
		return nil, stderrors.New("boom")
	})

	_, _ = m.QueueOrExecute(context.Background(), testRequest("api"), PriorityMedium)
	tracker.SetOnline(true)

	m.Drain(context.Background())
	m.Drain(context.Background())

	snapshot := m.QueueSnapshot()
	if len(snapshot) != 1 {
		t.Fatalf("expected failed entry retained, got %d entries", len(snapshot))
	}
	if snapshot[0].Status != StatusFailed {
		t.Errorf("expected failed status, got %s", snapshot[0].Status)
	}
	if snapshot[0].RetryCount != 2 {
		t.Errorf("expected 2 retries, got %d", snapshot[0].RetryCount)
	}
}

func TestManager_DrainIsNotReentrant(t *testing.T) {
	m, tracker := newTestManager(t, false, DefaultManagerConfig())

	release := make(chan struct{})
	started := make(chan struct{})
	m.RegisterHandler("query", func(ctx context.Context, req Request) ([]byte, error) {
		close(started)
		<-release
		return []byte("ok"), nil
	})

	_, _ = m.QueueOrExecute(context.Background(), testRequest("api"), PriorityMedium)
	tracker.SetOnline(true)

	go m.Drain(context.Background())
	<-started

	if drained := m.Drain(context.Background()); drained != 0 {
		t.Errorf("expected concurrent drain to be a no-op, got %d", drained)
	}
	close(release)
}

func TestManager_ExecuteRateLimited(t *testing.T) {
	m, _ := newTestManager(t, true, DefaultManagerConfig())

	limiter := m.limits.Get(ratelimit.ConcernAPI)
	for limiter.Check("client-1").Allowed {
	}

	_, err := m.Execute(context.Background(), "api", "client-1", func(ctx context.Context) ([]byte, error) {
		t.Error("operation should not run when rate limited")
		return nil, nil
	})

	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) || appErr.Code != errors.ErrCodeRateLimited {
		t.Errorf("expected rate limited error, got %v", err)
	}
}

func TestManager_ExecuteTranslatesBreakerOpen(t *testing.T) {
	m, _ := newTestManager(t, true, DefaultManagerConfig())

	fail := func(ctx context.Context) ([]byte, error) {
		return nil, stderrors.New("boom")
	}
	for i := 0; i < 5; i++ {
		_, _ = m.Execute(context.Background(), "api", "k", fail)
	}

	_, err := m.Execute(context.Background(), "api", "k", func(ctx context.Context) ([]byte, error) {
		t.Error("operation should not run while breaker is open")
		return nil, nil
	})

	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) || appErr.Code != errors.ErrCodeCircuitOpen {
		t.Errorf("expected circuit open error, got %v", err)
	}
}

func TestManager_Health(t *testing.T) {
	m, tracker := newTestManager(t, true, DefaultManagerConfig())
	m.RegisterHandler("query", func(ctx context.Context, req Request) ([]byte, error) {
		return []byte("ok"), nil
	})

	_, _ = m.QueueOrExecute(context.Background(), testRequest("api"), PriorityMedium)

	h := m.Health()
	if !h.Online {
		t.Error("expected online")
	}
	if h.BreakerHealth != 1.0 {
		t.Errorf("expected full breaker health, got %f", h.BreakerHealth)
	}
	if h.CacheEntries != 1 {
		t.Errorf("expected 1 cache entry, got %d", h.CacheEntries)
	}

	tracker.SetOnline(false)
	if m.Health().Online {
		t.Error("expected offline after transition")
	}
}

func TestManager_ClearAll(t *testing.T) {
	m, _ := newTestManager(t, false, DefaultManagerConfig())
	m.RegisterHandler("query", func(ctx context.Context, req Request) ([]byte, error) {
		return []byte("ok"), nil
	})

	_, _ = m.QueueOrExecute(context.Background(), testRequest("api"), PriorityMedium)

	m.ClearAll(context.Background())

	if len(m.QueueSnapshot()) != 0 {
		t.Error("expected empty queue")
	}
	if m.CacheStats().Entries != 0 {
		t.Error("expected empty cache")
	}
}

func TestManager_OnlineTransitionTriggersDrain(t *testing.T) {
	m, tracker := newTestManager(t, false, DefaultManagerConfig())

	executed := make(chan struct{})
	m.RegisterHandler("query", func(ctx context.Context, req Request) ([]byte, error) {
		close(executed)
		return []byte("ok"), nil
	})

	_, _ = m.QueueOrExecute(context.Background(), testRequest("api"), PriorityMedium)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = m.Stop(context.Background()) }()

	tracker.SetOnline(true)

	select {
	case <-executed:
	case <-time.After(time.Second):
		t.Fatal("expected the online transition to trigger a drain")
	}
}
