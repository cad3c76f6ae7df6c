package offline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/skillsenselab/resilio/logger"
	"github.com/skillsenselab/resilio/store"
)

// CacheEntry is a cached response with access bookkeeping.
type CacheEntry struct {
	Key         string    `json:"key"`
	Payload     []byte    `json:"payload"`
	Size        int       `json:"size"`
	StoredAt    time.Time `json:"stored_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	AccessCount int       `json:"access_count"`
	LastAccess  time.Time `json:"last_access"`
}

// score ranks the entry for eviction: access frequency weighted by
// recency. Lower scores are evicted first.
func (e CacheEntry) score(now time.Time) float64 {
	hours := now.Sub(e.LastAccess).Hours()
	if hours < 1.0/60 {
		hours = 1.0 / 60
	}
	return float64(e.AccessCount) / hours
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	// TTL is how long a cached response stays valid.
	TTL time.Duration
	// MaxBytes is the byte ceiling. Exceeding it triggers eviction
	// down to 80% of the ceiling.
	MaxBytes int
	// StorageKey is the persistence key for the serialized cache.
	StorageKey string
	// OnHit, OnMiss and OnEvict observe cache outcomes. They are
	// called under the cache mutex and must not call back into the
	// cache.
	OnHit   func()
	OnMiss  func()
	OnEvict func(evicted int)
}

// DefaultCacheConfig returns sensible defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:        24 * time.Hour,
		MaxBytes:   10 << 20,
		StorageKey: "offline:cache",
	}
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Entries    int    `json:"entries"`
	TotalBytes int    `json:"total_bytes"`
	MaxBytes   int    `json:"max_bytes"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Evictions  uint64 `json:"evictions"`
}

// Cache stores responses by request key with a fixed TTL and a
// score-based eviction policy. Every mutation is persisted.
type Cache struct {
	config CacheConfig
	log    *logger.Logger

	mu        sync.Mutex
	entries   map[string]*CacheEntry
	hits      uint64
	misses    uint64
	evictions uint64
	typed     *store.Typed[map[string]*CacheEntry]
}

// NewCache creates a response cache backed by s. A nil store degrades
// to in-memory-only operation.
func NewCache(config CacheConfig, s store.Store, log *logger.Logger) *Cache {
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = 10 << 20
	}
	if config.StorageKey == "" {
		config.StorageKey = "offline:cache"
	}
	if log == nil {
		log = logger.NewDefault("resilio")
	}

	c := &Cache{
		config:  config,
		log:     log.WithComponent("cache"),
		entries: make(map[string]*CacheEntry),
	}
	if s != nil {
		c.typed = store.NewTyped[map[string]*CacheEntry](s)
	}
	return c
}

// Load rehydrates the cache from persistence and sweeps entries that
// expired while the process was down.
func (c *Cache) Load(ctx context.Context) error {
	if c.typed == nil {
		return nil
	}

	entries, err := c.typed.Load(ctx, c.config.StorageKey)
	if err != nil {
		return err
	}
	if entries == nil {
		return nil
	}

	c.mu.Lock()
	c.entries = *entries
	c.mu.Unlock()

	swept := c.Sweep(ctx)
	c.log.Info("cache rehydrated", logger.Fields(
		"entries", len(*entries),
		"expired", swept,
	))
	return nil
}

// Put caches a response for the request, trims the cache, and
// persists.
func (c *Cache) Put(ctx context.Context, req Request, payload []byte) {
	key := req.CacheKey()
	now := time.Now()

	body := make([]byte, len(payload))
	copy(body, payload)

	c.mu.Lock()
	c.entries[key] = &CacheEntry{
		Key:        key,
		Payload:    body,
		Size:       len(body),
		StoredAt:   now,
		ExpiresAt:  now.Add(c.config.TTL),
		LastAccess: now,
	}
	c.evict(now)
	c.mu.Unlock()

	c.persist(ctx)
}

// Get returns the cached payload for the request if present and
// unexpired. Expired entries are evicted on read. Access bookkeeping
// counts toward the eviction score.
func (c *Cache) Get(ctx context.Context, req Request) ([]byte, bool) {
	key := req.CacheKey()
	now := time.Now()

	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		c.miss()
		c.mu.Unlock()
		return nil, false
	}
	if now.After(entry.ExpiresAt) {
		delete(c.entries, key)
		c.miss()
		c.mu.Unlock()
		c.persist(ctx)
		return nil, false
	}

	entry.AccessCount++
	entry.LastAccess = now
	c.hits++
	if c.config.OnHit != nil {
		c.config.OnHit()
	}
	payload := make([]byte, len(entry.Payload))
	copy(payload, entry.Payload)
	c.mu.Unlock()

	c.persist(ctx)
	return payload, true
}

// Sweep removes expired entries and returns how many were dropped.
func (c *Cache) Sweep(ctx context.Context) int {
	now := time.Now()

	c.mu.Lock()
	swept := 0
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			swept++
		}
	}
	c.mu.Unlock()

	if swept > 0 {
		c.persist(ctx)
	}
	return swept
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, entry := range c.entries {
		total += entry.Size
	}
	return CacheStats{
		Entries:    len(c.entries),
		TotalBytes: total,
		MaxBytes:   c.config.MaxBytes,
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
	}
}

// Clear empties the cache.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]*CacheEntry)
	c.mu.Unlock()

	c.persist(ctx)
}

// evict removes lowest-scoring entries until total size falls to 80%
// of the byte ceiling, breaking score ties on least-recent access so a
// cold fill evicts oldest first. The 20% slack keeps a single insert
// from triggering eviction on every subsequent write. Caller holds the
// mutex.
func (c *Cache) evict(now time.Time) {
	total := 0
	for _, entry := range c.entries {
		total += entry.Size
	}
	if total <= c.config.MaxBytes {
		return
	}

	target := c.config.MaxBytes * 8 / 10

	ranked := make([]*CacheEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		ranked = append(ranked, entry)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := ranked[i].score(now), ranked[j].score(now)
		if si != sj {
			return si < sj
		}
		return ranked[i].LastAccess.Before(ranked[j].LastAccess)
	})

	evicted := 0
	for _, entry := range ranked {
		if total <= target {
			break
		}
		delete(c.entries, entry.Key)
		total -= entry.Size
		c.evictions++
		evicted++
	}
	if evicted > 0 && c.config.OnEvict != nil {
		c.config.OnEvict(evicted)
	}

	c.log.Debug("cache evicted", logger.Fields(
		"total_bytes", total,
		"max_bytes", c.config.MaxBytes,
	))
}

// miss bumps the miss counter and fires the hook. Caller holds the
// mutex.
func (c *Cache) miss() {
	c.misses++
	if c.config.OnMiss != nil {
		c.config.OnMiss()
	}
}

// persist writes the cache to storage, best effort.
func (c *Cache) persist(ctx context.Context) {
	if c.typed == nil {
		return
	}

	c.mu.Lock()
	entries := make(map[string]*CacheEntry, len(c.entries))
	for key, entry := range c.entries {
		copied := *entry
		entries[key] = &copied
	}
	c.mu.Unlock()

	if err := c.typed.Save(ctx, c.config.StorageKey, &entries); err != nil {
		c.log.Warn("failed to persist cache", logger.ErrorFields("persist", err))
	}
}
