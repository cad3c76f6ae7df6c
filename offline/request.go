package offline

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/skillsenselab/resilio/validation"
)

// Priority orders queued requests. Higher priorities drain first.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// rank maps a priority to a sortable weight.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Request describes an operation that can be executed now, served from
// cache, or queued for later. Requests are persisted as part of queue
// entries, so everything here must survive a JSON round trip; the code
// that actually performs the work is looked up by Kind at drain time.
type Request struct {
	// Target is the remote endpoint the request is bound for. It
	// selects the circuit breaker.
	Target string `json:"target" validate:"required"`
	// Kind names the registered handler that executes this request.
	Kind string `json:"kind" validate:"required"`
	// Payload is the opaque request body.
	Payload []byte `json:"payload,omitempty"`
	// Meta carries additional key/value context. Meta does not
	// participate in cache-key derivation.
	Meta map[string]string `json:"meta,omitempty"`
}

// Validate checks the request's required fields.
func (r Request) Validate() error {
	return validation.Validate(r)
}

// CacheKey derives a deterministic cache key from the semantically
// relevant request fields. Two requests with the same target, kind and
// payload share a key.
func (r Request) CacheKey() string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(r.Kind))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(r.Target))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(r.Payload)
	return fmt.Sprintf("resp:%016x", h.Sum64())
}

// Handler executes a request of a given Kind and returns the response
// payload. Handlers are registered on the Manager so rehydrated queue
// entries can be executed after a restart.
type Handler func(ctx context.Context, req Request) ([]byte, error)
