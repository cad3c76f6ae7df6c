// Package errors provides the structured error type the resilio core
// produces and consumes.
//
// AppError carries a machine-readable code, a user-facing message, a
// retryable flag, and an optional transport status code. The fault
// classifier reads the status code through the StatusCode method for
// status-range classification; executors are encouraged to return
// AppError values so failures classify precisely.
//
//	err := errors.External("chat-api", 503).WithCause(rawErr)
package errors
