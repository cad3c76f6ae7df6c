package store

import "context"

// Store is the persistence contract the core consumes. Implementations
// must be safe for concurrent use. Absence of durable storage degrades
// the core to in-memory-only operation (use Memory).
type Store interface {
	// Get returns the value for key. The boolean reports presence.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key, replacing any existing value.
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}
