package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Typed provides JSON-serialized load/save of one value type on top of
// a Store.
type Typed[T any] struct {
	s Store
}

// NewTyped wraps a Store with typed JSON access.
func NewTyped[T any](s Store) *Typed[T] {
	return &Typed[T]{s: s}
}

// Load deserializes the value under key. Returns (nil, nil) when absent.
func (t *Typed[T]) Load(ctx context.Context, key string) (*T, error) {
	raw, ok, err := t.s.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("typed store load %q: %w", key, err)
	}
	if !ok {
		return nil, nil
	}

	var val T
	if err := json.Unmarshal(raw, &val); err != nil {
		return nil, fmt.Errorf("typed store unmarshal %q: %w", key, err)
	}
	return &val, nil
}

// Save serializes val to JSON and stores it under key.
func (t *Typed[T]) Save(ctx context.Context, key string, val *T) error {
	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("typed store marshal %q: %w", key, err)
	}
	if err := t.s.Set(ctx, key, data); err != nil {
		return fmt.Errorf("typed store save %q: %w", key, err)
	}
	return nil
}

// Delete removes the key.
func (t *Typed[T]) Delete(ctx context.Context, key string) error {
	if err := t.s.Remove(ctx, key); err != nil {
		return fmt.Errorf("typed store delete %q: %w", key, err)
	}
	return nil
}
