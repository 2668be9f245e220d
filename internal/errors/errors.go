package errors

import (
	"fmt"
	"time"
)

// LoomError is the structured error type for Loom.
// It carries the taxonomy kind plus enough context for logging,
// callback dispatch, and user presentation.
type LoomError struct {
	// Code is the unique error code (e.g., "ERR_202_TIMEOUT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Kind is the taxonomy classification (Network, Validation, ...).
	Kind Kind

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *LoomError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *LoomError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with LoomError.
func (e *LoomError) Is(target error) bool {
	if t, ok := target.(*LoomError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *LoomError) WithDetail(key, value string) *LoomError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Detail returns the value for a detail key, or empty string.
func (e *LoomError) Detail(key string) string {
	return e.Details[key]
}

// New creates a new LoomError with the given code and message.
// Kind, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *LoomError {
	return &LoomError{
		Code:      code,
		Message:   message,
		Kind:      kindFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a LoomError from an existing error.
// The error's message becomes the LoomError message.
func Wrap(code string, err error) *LoomError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Detail keys used by the typed constructors.
const (
	DetailField      = "field"
	DetailStatusCode = "status_code"
	DetailResource   = "resource_type"
	DetailResourceID = "resource_id"
	DetailDuration   = "duration"
	DetailProvider   = "provider"
)

// NetworkError creates a network-related error. A zero statusCode is omitted.
func NetworkError(message string, statusCode int, cause error) *LoomError {
	e := New(ErrCodeNetwork, message, cause)
	if statusCode != 0 {
		e.WithDetail(DetailStatusCode, fmt.Sprintf("%d", statusCode))
	}
	return e
}

// AuthenticationError creates an authentication error.
func AuthenticationError(message string, cause error) *LoomError {
	return New(ErrCodeAuthentication, message, cause)
}

// PermissionError creates a permission error.
func PermissionError(message string, cause error) *LoomError {
	return New(ErrCodePermission, message, cause)
}

// ValidationError creates a validation error. An empty field is omitted.
func ValidationError(message string, field string) *LoomError {
	e := New(ErrCodeInvalidInput, message, nil)
	if field != "" {
		e.WithDetail(DetailField, field)
	}
	return e
}

// NotFoundError creates a resource-not-found error.
func NotFoundError(resourceType, id string) *LoomError {
	e := New(ErrCodeNotFound, fmt.Sprintf("%s not found: %s", resourceType, id), nil)
	e.WithDetail(DetailResource, resourceType)
	e.WithDetail(DetailResourceID, id)
	return e
}

// TimeoutError creates a timeout error carrying the elapsed duration.
func TimeoutError(message string, d time.Duration) *LoomError {
	e := New(ErrCodeTimeout, message, nil)
	if d > 0 {
		e.WithDetail(DetailDuration, d.String())
	}
	return e
}

// ProviderError creates an error attributed to a named LLM provider.
func ProviderError(provider, message string, cause error) *LoomError {
	e := New(ErrCodeProvider, message, cause)
	e.WithDetail(DetailProvider, provider)
	return e
}

// StateError creates an invalid-state error.
func StateError(message string) *LoomError {
	return New(ErrCodeInvalidState, message, nil)
}

// CapacityError creates an error for a full store or pool.
func CapacityError(message string) *LoomError {
	return New(ErrCodeCapacityFull, message, nil)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *LoomError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a LoomError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if le, ok := err.(*LoomError); ok {
		return le.Retryable
	}
	return false
}

// IsTimeout reports whether the error is classified as a timeout.
func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}

// IsNotFound reports whether the error is classified as not-found.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsValidation reports whether the error is classified as validation.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// KindOf extracts the taxonomy kind from an error.
// Returns KindUnknown for non-Loom errors.
func KindOf(err error) Kind {
	if le, ok := err.(*LoomError); ok {
		return le.Kind
	}
	return KindUnknown
}

// GetCode extracts the error code from a LoomError.
// Returns empty string if not a LoomError.
func GetCode(err error) string {
	if le, ok := err.(*LoomError); ok {
		return le.Code
	}
	return ""
}
