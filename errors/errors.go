// Package errors provides unified error handling for the resilio core.
// It implements structured error types with error codes, HTTP status mapping,
// and retryable detection.
package errors

import (
	"fmt"
	"net/http"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the transport status code associated with this error,
	// 0 when the error did not originate from a transport response.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// StatusCode returns the transport status code, 0 when unset.
// The fault classifier uses this for status-range classification.
func (e *AppError) StatusCode() int { return e.HTTPStatus }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// --- Common Error Constructors ---

// ServiceUnavailable creates a new AppError for a service that is temporarily unavailable.
func ServiceUnavailable(service string) *AppError {
	return &AppError{
		Code: ErrCodeServiceUnavailable, Message: fmt.Sprintf("The %s is temporarily unavailable. Please try again.", service),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"service": service},
	}
}

// ConnectionFailed creates a new AppError for a failed connection to a service.
func ConnectionFailed(service string) *AppError {
	return &AppError{
		Code: ErrCodeConnectionFailed, Message: fmt.Sprintf("Unable to connect to %s. Please verify the service is running.", service),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"service": service},
	}
}

// Timeout creates a new AppError for a request that timed out.
func Timeout(operation string) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: "The request took too long. Please try again.",
		HTTPStatus: http.StatusGatewayTimeout, Retryable: true,
		Details: map[string]any{"operation": operation},
	}
}

// RateLimited creates a new AppError for too many requests.
func RateLimited() *AppError {
	return &AppError{
		Code: ErrCodeRateLimited, Message: "Too many requests. Please wait a moment and try again.",
		HTTPStatus: http.StatusTooManyRequests, Retryable: true,
	}
}

// CircuitOpen creates a new AppError for a call rejected by an open breaker.
func CircuitOpen(target string) *AppError {
	return &AppError{
		Code: ErrCodeCircuitOpen, Message: fmt.Sprintf("The %s service is recovering. Please try again shortly.", target),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"target": target},
	}
}

// Offline creates a new AppError for missing connectivity.
func Offline() *AppError {
	return &AppError{
		Code: ErrCodeOffline, Message: "You appear to be offline. Your request has been saved and will be sent when connectivity returns.",
		Retryable: false,
	}
}

// QueueFull creates a new AppError for a full offline queue.
func QueueFull(max int) *AppError {
	return &AppError{
		Code: ErrCodeQueueFull, Message: "Too many pending requests. Please try again later.",
		Retryable: false,
		Details:   map[string]any{"max": max},
	}
}

// Unauthorized creates a new AppError for an unauthenticated request.
func Unauthorized() *AppError {
	return &AppError{
		Code: ErrCodeUnauthorized, Message: "Your session has expired. Please sign in again.",
		HTTPStatus: http.StatusUnauthorized, Retryable: false,
	}
}

// Forbidden creates a new AppError for a forbidden request.
func Forbidden() *AppError {
	return &AppError{
		Code: ErrCodeForbidden, Message: "You don't have permission to perform this action.",
		HTTPStatus: http.StatusForbidden, Retryable: false,
	}
}

// InvalidInput creates a new AppError for invalid input.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidInput, Message: message,
		HTTPStatus: http.StatusBadRequest, Retryable: false,
	}
}

// Internal creates a new AppError for an internal failure.
func Internal(message string) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: message,
		HTTPStatus: http.StatusInternalServerError, Retryable: false,
	}
}

// External creates a new AppError for an upstream service failure.
func External(service string, status int) *AppError {
	return &AppError{
		Code: ErrCodeExternalService, Message: fmt.Sprintf("The %s service returned an error.", service),
		HTTPStatus: status, Retryable: true,
		Details: map[string]any{"service": service},
	}
}
