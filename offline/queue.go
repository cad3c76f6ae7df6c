package offline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skillsenselab/resilio/logger"
	"github.com/skillsenselab/resilio/store"
)

// EntryStatus tracks a queued request through its lifecycle.
type EntryStatus string

const (
	// StatusPending means the entry is waiting for the next drain.
	StatusPending EntryStatus = "pending"
	// StatusRetrying means a drain is currently executing the entry.
	StatusRetrying EntryStatus = "retrying"
	// StatusFailed means the entry exhausted its retries. Failed
	// entries stay in the queue until cleared.
	StatusFailed EntryStatus = "failed"
)

// Entry is a queued request plus its bookkeeping.
type Entry struct {
	ID         string      `json:"id"`
	Request    Request     `json:"request"`
	Priority   Priority    `json:"priority"`
	Status     EntryStatus `json:"status"`
	RetryCount int         `json:"retry_count"`
	MaxRetries int         `json:"max_retries"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	LastError  string      `json:"last_error,omitempty"`
}

// QueueConfig configures the offline queue.
type QueueConfig struct {
	// MaxEntries caps queue length. When exceeded, the lowest-priority
	// oldest entries are dropped.
	MaxEntries int
	// MaxRetries is how many drain attempts an entry gets before it is
	// marked failed.
	MaxRetries int
	// StorageKey is the persistence key for the serialized queue.
	StorageKey string
}

// DefaultQueueConfig returns sensible defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxEntries: 100,
		MaxRetries: 3,
		StorageKey: "offline:queue",
	}
}

// Queue holds requests waiting for connectivity, ordered by priority
// then enqueue time. Every mutation is persisted so the queue survives
// restarts.
type Queue struct {
	config QueueConfig
	log    *logger.Logger

	mu      sync.Mutex
	entries []Entry
	typed   *store.Typed[[]Entry]
}

// NewQueue creates an offline queue backed by s. A nil store degrades
// to in-memory-only operation.
func NewQueue(config QueueConfig, s store.Store, log *logger.Logger) *Queue {
	if config.MaxEntries <= 0 {
		config.MaxEntries = 100
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.StorageKey == "" {
		config.StorageKey = "offline:queue"
	}
	if log == nil {
		log = logger.NewDefault("resilio")
	}

	q := &Queue{
		config: config,
		log:    log.WithComponent("queue"),
	}
	if s != nil {
		q.typed = store.NewTyped[[]Entry](s)
	}
	return q
}

// Load rehydrates the queue from persistence. Entries stuck in
// retrying status from a crashed drain are reset to pending.
func (q *Queue) Load(ctx context.Context) error {
	if q.typed == nil {
		return nil
	}

	entries, err := q.typed.Load(ctx, q.config.StorageKey)
	if err != nil {
		return err
	}
	if entries == nil {
		return nil
	}

	for i := range *entries {
		if (*entries)[i].Status == StatusRetrying {
			(*entries)[i].Status = StatusPending
		}
	}

	q.mu.Lock()
	q.entries = *entries
	q.mu.Unlock()

	q.log.Info("queue rehydrated", logger.Fields("entries", len(*entries)))
	return nil
}

// Enqueue adds a request with the given priority and returns the new
// entry. The queue is trimmed and persisted before returning.
func (q *Queue) Enqueue(ctx context.Context, req Request, priority Priority) (Entry, error) {
	entry := Entry{
		ID:         uuid.NewString(),
		Request:    req,
		Priority:   priority,
		Status:     StatusPending,
		MaxRetries: q.config.MaxRetries,
		EnqueuedAt: time.Now(),
	}

	q.mu.Lock()
	q.entries = append(q.entries, entry)
	q.trim()
	q.mu.Unlock()

	q.persist(ctx)

	q.log.Debug("request queued", logger.Fields(
		"id", entry.ID,
		logger.FieldTarget, req.Target,
		logger.FieldPriority, string(priority),
	))
	return entry, nil
}

// Entries returns all entries sorted by priority (high first) then by
// enqueue time (earliest first).
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	sortEntries(out)
	return out
}

// Pending returns entries eligible for the next drain, in drain order.
func (q *Queue) Pending() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, 0, len(q.entries))
	for _, e := range q.entries {
		if e.Status == StatusPending {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

// SetStatus updates an entry's status and persists. Unknown ids are
// ignored (the entry may have been cleared mid-drain).
func (q *Queue) SetStatus(ctx context.Context, id string, status EntryStatus, lastError string) {
	q.mu.Lock()
	for i := range q.entries {
		if q.entries[i].ID == id {
			q.entries[i].Status = status
			q.entries[i].LastError = lastError
			break
		}
	}
	q.mu.Unlock()

	q.persist(ctx)
}

// RecordFailure increments an entry's retry count and returns the
// updated entry. When retries are exhausted the entry is marked
// failed, otherwise it returns to pending for the next drain.
func (q *Queue) RecordFailure(ctx context.Context, id string, cause error) (Entry, bool) {
	var out Entry
	var found bool

	q.mu.Lock()
	for i := range q.entries {
		if q.entries[i].ID != id {
			continue
		}
		q.entries[i].RetryCount++
		if cause != nil {
			q.entries[i].LastError = cause.Error()
		}
		if q.entries[i].RetryCount >= q.entries[i].MaxRetries {
			q.entries[i].Status = StatusFailed
		} else {
			q.entries[i].Status = StatusPending
		}
		out = q.entries[i]
		found = true
		break
	}
	q.mu.Unlock()

	q.persist(ctx)
	return out, found
}

// Remove deletes an entry by id and persists.
func (q *Queue) Remove(ctx context.Context, id string) bool {
	var removed bool

	q.mu.Lock()
	for i := range q.entries {
		if q.entries[i].ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			removed = true
			break
		}
	}
	q.mu.Unlock()

	q.persist(ctx)
	return removed
}

// Clear empties the queue, including failed entries.
func (q *Queue) Clear(ctx context.Context) {
	q.mu.Lock()
	q.entries = nil
	q.mu.Unlock()

	q.persist(ctx)
}

// Len returns the number of entries, failed included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// trim drops lowest-priority oldest entries until the queue is at or
// under its cap. Caller holds the mutex.
func (q *Queue) trim() {
	for len(q.entries) > q.config.MaxEntries {
		victim := 0
		for i := 1; i < len(q.entries); i++ {
			v, c := q.entries[victim], q.entries[i]
			if c.Priority.rank() < v.Priority.rank() ||
				(c.Priority.rank() == v.Priority.rank() && c.EnqueuedAt.Before(v.EnqueuedAt)) {
				victim = i
			}
		}
		dropped := q.entries[victim]
		q.entries = append(q.entries[:victim], q.entries[victim+1:]...)
		q.log.Warn("queue over capacity, dropping entry", logger.Fields(
			"id", dropped.ID,
			logger.FieldPriority, string(dropped.Priority),
		))
	}
}

// persist writes the queue to storage, best effort.
func (q *Queue) persist(ctx context.Context) {
	if q.typed == nil {
		return
	}

	q.mu.Lock()
	entries := make([]Entry, len(q.entries))
	copy(entries, q.entries)
	q.mu.Unlock()

	if err := q.typed.Save(ctx, q.config.StorageKey, &entries); err != nil {
		q.log.Warn("failed to persist queue", logger.ErrorFields("persist", err))
	}
}

// sortEntries orders by priority (high first) then enqueue time
// (earliest first).
func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Priority.rank() != entries[j].Priority.rank() {
			return entries[i].Priority.rank() > entries[j].Priority.rank()
		}
		return entries[i].EnqueuedAt.Before(entries[j].EnqueuedAt)
	})
}
