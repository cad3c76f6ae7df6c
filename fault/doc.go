// Package fault classifies raw failures into typed, severity-ranked
// records with user-facing messages and remediation hints.
//
// Classification works through a fixed rule chain: known message
// phrases first, then transport status codes, then connectivity, and
// finally a safe UNKNOWN default. Every classified fault is appended
// to a bounded history (mirrored to durable storage when available),
// surfaced to the user above LOW severity, and reported upstream at
// MEDIUM and above. Notification and reporting failures never reach
// the caller.
//
//	rec := classifier.Classify(err, fault.Context{Action: "send_message"})
//	if rec.Retryable { ... }
//
// The Retry helper wraps an operation with exponential backoff and
// stops as soon as a failure classifies as non-retryable.
package fault
