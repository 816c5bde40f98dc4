package errors

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrorCode represents a specific error type for better error handling
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigLoad     ErrorCode = "CONFIG_LOAD_FAILED"
	ErrCodeInvalidMaximum ErrorCode = "INVALID_MAXIMUM_CONCURRENT_REQUESTS"
	ErrCodeNilNextHandler ErrorCode = "NIL_NEXT_HANDLER"
	ErrCodeInvalidConfig  ErrorCode = "INVALID_CONFIGURATION"

	// Request processing errors
	ErrCodeUnitPermanentlyUnavailable ErrorCode = "UNIT_PERMANENTLY_UNAVAILABLE"
	ErrCodeUnitTemporarilyUnavailable ErrorCode = "UNIT_TEMPORARILY_UNAVAILABLE"
	ErrCodeRateLimitExceeded          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeResponseCommitted          ErrorCode = "RESPONSE_ALREADY_COMMITTED"
	ErrCodeInstanceAcquire            ErrorCode = "INSTANCE_ACQUIRE_FAILED"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// CoreError represents a structured error with context
type CoreError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Cause     error                  `json:"-"` // Original error
}

// Error implements the error interface
func (e *CoreError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Component, e.Message)
}

// Unwrap returns the underlying error
func (e *CoreError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error code
func (e *CoreError) Is(target error) bool {
	if t, ok := target.(*CoreError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithMetadata adds metadata to the error
func (e *CoreError) WithMetadata(key string, value interface{}) *CoreError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsConfiguration returns true if the error was raised by invalid
// construction or mutation arguments
func (e *CoreError) IsConfiguration() bool {
	switch e.Code {
	case ErrCodeInvalidMaximum, ErrCodeNilNextHandler, ErrCodeInvalidConfig, ErrCodeConfigLoad:
		return true
	default:
		return false
	}
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *CoreError) HTTPStatusCode() int {
	switch e.Code {
	case ErrCodeUnitPermanentlyUnavailable:
		return 404
	case ErrCodeRateLimitExceeded:
		return 429
	case ErrCodeUnitTemporarilyUnavailable:
		return 503
	default:
		return 500
	}
}

// NewError creates a new CoreError
func NewError(code ErrorCode, component, message string) *CoreError {
	return &CoreError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WrapError wraps an existing error with CoreError structure
func WrapError(err error, code ErrorCode, component, message string) *CoreError {
	if err == nil {
		return nil
	}

	return &CoreError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Details:   err.Error(),
	}
}

// Common error constructors for frequently used errors

// NewInvalidMaximumError creates a configuration error for a concurrency
// ceiling outside the representable range
func NewInvalidMaximumError(max int) *CoreError {
	return NewError(
		ErrCodeInvalidMaximum,
		"admission",
		fmt.Sprintf("maximum concurrent requests must be between 1 and %d, got %d", math.MaxInt32, max),
	).WithMetadata("maximum", max)
}

// NewNilNextHandlerError creates a configuration error for an absent
// downstream handler
func NewNilNextHandlerError(component string) *CoreError {
	return NewError(
		ErrCodeNilNextHandler,
		component,
		"next handler must not be nil",
	)
}

// NewRateLimitError creates an error for rate limiting
func NewRateLimitError(clientIP string) *CoreError {
	return NewError(
		ErrCodeRateLimitExceeded,
		"throttle",
		fmt.Sprintf("rate limit exceeded for client %s", clientIP),
	).WithMetadata("client_ip", clientIP)
}

// UnavailableError is the classified result of invoking a managed unit
// that declined the request. Permanent unavailability retires the unit
// forever; temporary unavailability opens a timed backoff window.
type UnavailableError struct {
	Unit       string
	Permanent  bool
	RetryAfter time.Duration
	Reason     string
}

// Error implements the error interface
func (e *UnavailableError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("unit %s permanently unavailable: %s", e.Unit, e.Reason)
	}
	return fmt.Sprintf("unit %s unavailable for %s: %s", e.Unit, e.RetryAfter, e.Reason)
}

// NewPermanentUnavailableError signals that the unit must never be
// invoked again
func NewPermanentUnavailableError(unit, reason string) *UnavailableError {
	return &UnavailableError{Unit: unit, Permanent: true, Reason: reason}
}

// NewTemporaryUnavailableError signals that the unit should not be
// invoked again until retryAfter has elapsed
func NewTemporaryUnavailableError(unit string, retryAfter time.Duration, reason string) *UnavailableError {
	return &UnavailableError{Unit: unit, RetryAfter: retryAfter, Reason: reason}
}

// AsUnavailable extracts an UnavailableError from an error chain
func AsUnavailable(err error) (*UnavailableError, bool) {
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.IsConfiguration()
	}
	return false
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeInternalError
}

// GetHTTPStatusCode gets the appropriate HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.HTTPStatusCode()
	}
	return 500
}
