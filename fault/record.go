package fault

import (
	"time"
)

// Context carries the circumstances a failure occurred under.
type Context struct {
	// Action names the operation that failed ("send_message", "upload").
	Action string `json:"action,omitempty"`
	// Origin is the URL or endpoint the operation targeted.
	Origin string `json:"origin,omitempty"`
	// Timestamp is when the failure was handled. Filled by Classify when zero.
	Timestamp time.Time `json:"timestamp"`
	// Meta is a free-form key/value bag.
	Meta map[string]string `json:"meta,omitempty"`
}

// Record is the immutable result of classifying one failure.
type Record struct {
	ID          string   `json:"id"`
	Kind        Kind     `json:"kind"`
	Severity    Severity `json:"severity"`
	Message     string   `json:"message"`
	Detail      string   `json:"detail,omitempty"`
	Recoverable bool     `json:"recoverable"`
	Retryable   bool     `json:"retryable"`
	// Sticky marks a notification that must stay visible until dismissed.
	Sticky  bool     `json:"sticky"`
	Actions []string `json:"actions,omitempty"`
	Context Context  `json:"context"`
}
