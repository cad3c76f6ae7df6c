package store

import (
	"context"
	"testing"
)

func TestMemory_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, ok, _ := m.Get(ctx, "missing"); ok {
		t.Error("missing key should be absent")
	}

	if err := m.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := m.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(got) != "v" {
		t.Errorf("expected v, got %q", got)
	}

	if err := m.Remove(ctx, "k"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Error("removed key should be absent")
	}
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Set(ctx, "k", []byte("abc"))

	got, _, _ := m.Get(ctx, "k")
	got[0] = 'x'

	again, _, _ := m.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("mutating a returned value must not affect the store, got %q", again)
	}
}

func TestFile_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := f.Set(ctx, "offline:queue", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := f.Get(ctx, "offline:queue")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(got) != `{"a":1}` {
		t.Errorf("unexpected value: %q", got)
	}

	if _, ok, _ := f.Get(ctx, "offline:other"); ok {
		t.Error("different key should be absent")
	}

	if err := f.Remove(ctx, "offline:queue"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := f.Remove(ctx, "offline:queue"); err != nil {
		t.Errorf("removing absent key should not error, got %v", err)
	}
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct{ in, want string }{
		{"fault:history", "fault__history"},
		{"a/b", "a_b"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := sanitizeKey(tt.in); got != tt.want {
			t.Errorf("sanitizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTyped_RoundTrip(t *testing.T) {
	type snapshot struct {
		Count int      `json:"count"`
		Names []string `json:"names"`
	}

	ctx := context.Background()
	ts := NewTyped[snapshot](NewMemory())

	got, err := ts.Load(ctx, "snap")
	if err != nil {
		t.Fatalf("load absent: %v", err)
	}
	if got != nil {
		t.Fatal("absent key should load as nil")
	}

	want := &snapshot{Count: 2, Names: []string{"a", "b"}}
	if err := ts.Save(ctx, "snap", want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err = ts.Load(ctx, "snap")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Count != 2 || len(got.Names) != 2 {
		t.Errorf("unexpected snapshot: %+v", got)
	}
}
