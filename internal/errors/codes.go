// Package errors provides structured error handling for Loom.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Validation errors
//   - 2XX: Network and transport errors
//   - 3XX: Authentication and permission errors
//   - 4XX: Resource errors
//   - 5XX: Provider and internal errors
package errors

// Kind classifies an error into the Loom taxonomy.
type Kind string

const (
	// KindNetwork indicates a network or transport failure.
	KindNetwork Kind = "NETWORK"
	// KindAuthentication indicates missing or invalid credentials.
	KindAuthentication Kind = "AUTHENTICATION"
	// KindPermission indicates insufficient privileges for an operation.
	KindPermission Kind = "PERMISSION"
	// KindValidation indicates invalid input.
	KindValidation Kind = "VALIDATION"
	// KindNotFound indicates a missing resource.
	KindNotFound Kind = "NOT_FOUND"
	// KindTimeout indicates an operation exceeded its deadline.
	KindTimeout Kind = "TIMEOUT"
	// KindProvider indicates a failure attributed to an LLM provider.
	KindProvider Kind = "PROVIDER"
	// KindClient indicates a client-side failure.
	KindClient Kind = "CLIENT"
	// KindServer indicates a server-side failure.
	KindServer Kind = "SERVER"
	// KindState indicates an operation attempted in an invalid state.
	KindState Kind = "STATE"
	// KindUnknown indicates an unclassified failure.
	KindUnknown Kind = "UNKNOWN"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by kind.
const (
	// Validation errors (100-199)
	ErrCodeInvalidInput      = "ERR_101_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_102_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_103_QUERY_EMPTY"
	ErrCodeInvalidConfig     = "ERR_104_INVALID_CONFIG"

	// Network errors (200-299)
	ErrCodeNetwork        = "ERR_201_NETWORK"
	ErrCodeTimeout        = "ERR_202_TIMEOUT"
	ErrCodeCircuitOpen    = "ERR_203_CIRCUIT_OPEN"
	ErrCodeRateLimited    = "ERR_204_RATE_LIMITED"
	ErrCodeTransport      = "ERR_205_TRANSPORT"

	// Auth errors (300-399)
	ErrCodeAuthentication = "ERR_301_AUTHENTICATION"
	ErrCodePermission     = "ERR_302_PERMISSION"
	ErrCodeTokenExpired   = "ERR_303_TOKEN_EXPIRED"

	// Resource errors (400-499)
	ErrCodeNotFound     = "ERR_401_NOT_FOUND"
	ErrCodeCapacityFull = "ERR_402_CAPACITY_FULL"
	ErrCodeInvalidState = "ERR_403_INVALID_STATE"

	// Provider and internal errors (500-599)
	ErrCodeProvider  = "ERR_501_PROVIDER"
	ErrCodeInternal  = "ERR_502_INTERNAL"
	ErrCodeCancelled = "ERR_503_CANCELLED"
)

// kindFromCode derives the taxonomy kind from an error code.
func kindFromCode(code string) Kind {
	switch code {
	case ErrCodeTimeout:
		return KindTimeout
	case ErrCodeAuthentication, ErrCodeTokenExpired:
		return KindAuthentication
	case ErrCodePermission:
		return KindPermission
	case ErrCodeNotFound:
		return KindNotFound
	case ErrCodeProvider, ErrCodeRateLimited:
		return KindProvider
	case ErrCodeInvalidState, ErrCodeCapacityFull:
		return KindState
	}

	if len(code) < 7 {
		return KindUnknown
	}
	switch code[4] {
	case '1':
		return KindValidation
	case '2':
		return KindNetwork
	case '3':
		return KindAuthentication
	case '4':
		return KindNotFound
	default:
		return KindUnknown
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetwork, ErrCodeTimeout, ErrCodeRateLimited, ErrCodeTransport:
		return true
	default:
		return false
	}
}
