package component

import (
	"context"
	"errors"
	"testing"
)

type fakeComponent struct {
	name     string
	startErr error
	stopErr  error
	started  bool
	stopped  bool
	order    *[]string
}

func (f *fakeComponent) Name() string { return f.name }

func (f *fakeComponent) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	if f.order != nil {
		*f.order = append(*f.order, "start:"+f.name)
	}
	return nil
}

func (f *fakeComponent) Stop(ctx context.Context) error {
	f.stopped = true
	if f.order != nil {
		*f.order = append(*f.order, "stop:"+f.name)
	}
	return f.stopErr
}

func (f *fakeComponent) Health(ctx context.Context) Health {
	return Health{Name: f.name, Status: StatusHealthy}
}

func TestRegistry_RejectsDuplicateNames(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(&fakeComponent{name: "a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Register(&fakeComponent{name: "a"}); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestRegistry_StartOrderAndStopReverse(t *testing.T) {
	r := NewRegistry()
	var order []string

	a := &fakeComponent{name: "a", order: &order}
	b := &fakeComponent{name: "b", order: &order}
	_ = r.Register(a)
	_ = r.Register(b)

	if err := r.StartAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.StopAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"start:a", "start:b", "stop:b", "stop:a"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("expected %v, got %v", want, order)
			break
		}
	}
}

func TestRegistry_StartAllStopsOnFirstFailure(t *testing.T) {
	r := NewRegistry()

	a := &fakeComponent{name: "a"}
	b := &fakeComponent{name: "b", startErr: errors.New("boom")}
	c := &fakeComponent{name: "c"}
	_ = r.Register(a)
	_ = r.Register(b)
	_ = r.Register(c)

	if err := r.StartAll(context.Background()); err == nil {
		t.Fatal("expected start failure")
	}
	if c.started {
		t.Error("expected components after the failure not to start")
	}
}

func TestRegistry_StopAllSkipsUnstarted(t *testing.T) {
	r := NewRegistry()

	a := &fakeComponent{name: "a"}
	_ = r.Register(a)

	if err := r.StopAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.stopped {
		t.Error("expected unstarted component not to be stopped")
	}
}

func TestRegistry_GetAndHealth(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(&fakeComponent{name: "a"})

	if r.Get("a") == nil {
		t.Error("expected to find registered component")
	}
	if r.Get("missing") != nil {
		t.Error("expected nil for unknown component")
	}

	health := r.HealthAll(context.Background())
	if len(health) != 1 || health[0].Status != StatusHealthy {
		t.Errorf("unexpected health: %+v", health)
	}
}

func TestFunc_AdaptsCallbacks(t *testing.T) {
	var started, stopped bool
	f := NewFunc("loop",
		func(ctx context.Context) error { started = true; return nil },
		func(ctx context.Context) error { stopped = true; return nil },
	).WithHealthCheck(func(ctx context.Context) error {
		return errors.New("degraded link")
	})

	_ = f.Start(context.Background())
	_ = f.Stop(context.Background())

	if !started || !stopped {
		t.Error("expected callbacks to run")
	}
	if h := f.Health(context.Background()); h.Status != StatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", h.Status)
	}
}

func TestFunc_WithHealthReportsDegraded(t *testing.T) {
	f := NewFunc("loop", nil, nil).
		WithHealth(func(ctx context.Context) Health {
			return Health{Name: "loop", Status: StatusDegraded, Message: "offline"}
		})

	h := f.Health(context.Background())
	if h.Status != StatusDegraded {
		t.Errorf("expected degraded, got %s", h.Status)
	}
	if h.Message != "offline" {
		t.Errorf("unexpected message: %q", h.Message)
	}
}
