// Package store defines the persistence contract the resilio core uses
// to survive process restarts, plus three implementations: an in-memory
// store for tests and degraded operation, a file-per-key JSON store,
// and a Redis-backed store with key prefixing.
//
// The contract is deliberately small — Get, Set, Remove on byte slices
// — so queue, cache and fault-history persistence work unchanged across
// backends. Typed adds JSON serialization on top for callers that want
// structured values.
package store
