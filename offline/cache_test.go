package offline

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/skillsenselab/resilio/store"
)

func TestCache_RoundTrip(t *testing.T) {
	c := NewCache(DefaultCacheConfig(), nil, nil)
	req := testRequest("api")
	payload := []byte(`{"answer":42}`)

	c.Put(context.Background(), req, payload)

	got, ok := c.Get(context.Background(), req)
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("expected byte-identical payload, got %q", got)
	}
}

func TestCache_MissForDifferentRequest(t *testing.T) {
	c := NewCache(DefaultCacheConfig(), nil, nil)

	c.Put(context.Background(), testRequest("api"), []byte("a"))

	other := testRequest("api")
	other.Payload = []byte(`{"q":"different"}`)
	if _, ok := c.Get(context.Background(), other); ok {
		t.Error("expected a miss for a request with a different payload")
	}
}

func TestCache_ExpiredEntryEvictedOnRead(t *testing.T) {
	cfg := DefaultCacheConfig()
	cfg.TTL = 10 * time.Millisecond
	c := NewCache(cfg, nil, nil)
	req := testRequest("api")

	c.Put(context.Background(), req, []byte("x"))
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get(context.Background(), req); ok {
		t.Error("expected expired entry to be absent")
	}
	if c.Stats().Entries != 0 {
		t.Errorf("expected expired entry evicted on read, got %d entries", c.Stats().Entries)
	}
}

func TestCache_EvictsToEightyPercentOfCeiling(t *testing.T) {
	cfg := DefaultCacheConfig()
	cfg.MaxBytes = 1000
	c := NewCache(cfg, nil, nil)

	// A hot entry that should survive eviction
	hot := testRequest("hot")
	c.Put(context.Background(), hot, bytes.Repeat([]byte("h"), 100))
	for i := 0; i < 10; i++ {
		_, _ = c.Get(context.Background(), hot)
	}

	// The 10th cold entry pushes the total past the ceiling
	for i := 0; i < 10; i++ {
		req := testRequest("api")
		req.Payload = []byte(fmt.Sprintf(`{"q":%d}`, i))
		c.Put(context.Background(), req, bytes.Repeat([]byte("x"), 100))
	}

	stats := c.Stats()
	if stats.TotalBytes > 800 {
		t.Errorf("expected eviction down to 80%% of ceiling, got %d bytes", stats.TotalBytes)
	}
	if stats.Evictions == 0 {
		t.Error("expected evictions to be counted")
	}
	if _, ok := c.Get(context.Background(), hot); !ok {
		t.Error("expected the frequently accessed entry to survive eviction")
	}
}

func TestCache_ColdFillEvictsOldestFirst(t *testing.T) {
	cfg := DefaultCacheConfig()
	cfg.MaxBytes = 1000
	c := NewCache(cfg, nil, nil)

	// Eleven never-read entries all score zero; the 11th pushes the
	// total past the ceiling and the three oldest must go.
	reqs := make([]Request, 11)
	for i := range reqs {
		reqs[i] = testRequest("api")
		reqs[i].Payload = []byte(fmt.Sprintf(`{"q":%d}`, i))
		c.Put(context.Background(), reqs[i], bytes.Repeat([]byte("x"), 100))
		time.Sleep(time.Millisecond)
	}

	for i := 0; i < 3; i++ {
		if _, ok := c.Get(context.Background(), reqs[i]); ok {
			t.Errorf("expected entry %d (oldest) to be evicted", i)
		}
	}
	for i := 3; i < 11; i++ {
		if _, ok := c.Get(context.Background(), reqs[i]); !ok {
			t.Errorf("expected entry %d (newer) to survive", i)
		}
	}
}

func TestCache_HooksObserveOutcomes(t *testing.T) {
	var hits, misses, evicted int
	cfg := DefaultCacheConfig()
	cfg.MaxBytes = 1000
	cfg.OnHit = func() { hits++ }
	cfg.OnMiss = func() { misses++ }
	cfg.OnEvict = func(n int) { evicted += n }
	c := NewCache(cfg, nil, nil)

	req := testRequest("api")
	_, _ = c.Get(context.Background(), req)
	c.Put(context.Background(), req, []byte("x"))
	_, _ = c.Get(context.Background(), req)

	for i := 0; i < 11; i++ {
		cold := testRequest("cold")
		cold.Payload = []byte(fmt.Sprintf(`{"q":%d}`, i))
		c.Put(context.Background(), cold, bytes.Repeat([]byte("x"), 100))
	}

	if hits != 1 {
		t.Errorf("expected 1 hit observed, got %d", hits)
	}
	if misses != 1 {
		t.Errorf("expected 1 miss observed, got %d", misses)
	}
	if evicted == 0 {
		t.Error("expected evictions observed")
	}
}

func TestCache_SweepRemovesExpired(t *testing.T) {
	cfg := DefaultCacheConfig()
	cfg.TTL = 10 * time.Millisecond
	c := NewCache(cfg, nil, nil)

	c.Put(context.Background(), testRequest("a"), []byte("x"))
	c.Put(context.Background(), testRequest("b"), []byte("y"))
	time.Sleep(20 * time.Millisecond)

	if swept := c.Sweep(context.Background()); swept != 2 {
		t.Errorf("expected 2 swept entries, got %d", swept)
	}
}

func TestCache_StatsCounters(t *testing.T) {
	c := NewCache(DefaultCacheConfig(), nil, nil)
	req := testRequest("api")

	_, _ = c.Get(context.Background(), req)
	c.Put(context.Background(), req, []byte("x"))
	_, _ = c.Get(context.Background(), req)

	stats := c.Stats()
	if stats.Hits != 1 {
		t.Errorf("expected 1 hit, got %d", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}
	if stats.Entries != 1 {
		t.Errorf("expected 1 entry, got %d", stats.Entries)
	}
}

func TestCache_PersistsAndRehydrates(t *testing.T) {
	s := store.NewMemory()
	req := testRequest("api")

	c1 := NewCache(DefaultCacheConfig(), s, nil)
	c1.Put(context.Background(), req, []byte("persisted"))

	c2 := NewCache(DefaultCacheConfig(), s, nil)
	if err := c2.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := c2.Get(context.Background(), req)
	if !ok {
		t.Fatal("expected rehydrated entry")
	}
	if string(got) != "persisted" {
		t.Errorf("expected persisted payload, got %q", got)
	}
}

func TestCache_LoadSweepsExpired(t *testing.T) {
	s := store.NewMemory()
	cfg := DefaultCacheConfig()
	cfg.TTL = 10 * time.Millisecond

	c1 := NewCache(cfg, s, nil)
	c1.Put(context.Background(), testRequest("api"), []byte("x"))
	time.Sleep(20 * time.Millisecond)

	c2 := NewCache(cfg, s, nil)
	if err := c2.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c2.Stats().Entries != 0 {
		t.Errorf("expected expired entries swept at load, got %d", c2.Stats().Entries)
	}
}

func TestCache_Clear(t *testing.T) {
	c := NewCache(DefaultCacheConfig(), nil, nil)
	c.Put(context.Background(), testRequest("api"), []byte("x"))

	c.Clear(context.Background())

	if c.Stats().Entries != 0 {
		t.Errorf("expected empty cache, got %d entries", c.Stats().Entries)
	}
}
