package dto

import "net/http"

// Error codes use the format ERR_<CATEGORY>_<DESCRIPTION>.

// General error codes
const (
	ErrCodeUnknown  = "ERR_UNKNOWN"
	ErrCodeInternal = "ERR_INTERNAL"
)

// Validation error codes
const (
	ErrCodeValidation         = "ERR_VALIDATION"
	ErrCodeValidationRequired = "ERR_VALIDATION_REQUIRED"
	ErrCodeValidationRange    = "ERR_VALIDATION_RANGE"
)

// Authentication error codes
const (
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	ErrCodeForbidden    = "ERR_FORBIDDEN"
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"
	ErrCodeTokenRevoked = "ERR_TOKEN_REVOKED"
)

// Resource error codes
const (
	ErrCodeNotFound     = "ERR_NOT_FOUND"
	ErrCodeConflict     = "ERR_CONFLICT"
	ErrCodeInvalidState = "ERR_INVALID_STATE"
)

// Input error codes
const (
	ErrCodeBadRequest   = "ERR_BAD_REQUEST"
	ErrCodeInvalidJSON  = "ERR_INVALID_JSON"
	ErrCodeBodyTooLarge = "ERR_REQUEST_TOO_LARGE"
)

// Rate limiting error codes
const (
	ErrCodeRateLimited = "ERR_RATE_LIMITED"
)

// Sync error codes
const (
	ErrCodeSyncAlreadyActive      = "ERR_SYNC_ALREADY_ACTIVE"
	ErrCodeDuplicateIdempotency   = "ERR_DUPLICATE_IDEMPOTENCY_KEY"
	ErrCodeQueueNotFound          = "ERR_QUEUE_NOT_FOUND"
	ErrCodeConnectorNotConfigured = "ERR_CONNECTOR_NOT_CONFIGURED"
	ErrCodePreviewNotFound        = "ERR_PREVIEW_NOT_FOUND"
	ErrCodePlatformAuth           = "ERR_PLATFORM_AUTH_FAILED"
	ErrCodePlatformUnavailable    = "ERR_PLATFORM_UNAVAILABLE"
	ErrCodePlatformRateLimited    = "ERR_PLATFORM_RATE_LIMITED"
	ErrCodeCircuitOpen            = "ERR_CIRCUIT_OPEN"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeValidationRequired: http.StatusBadRequest,
	ErrCodeValidationRange:    http.StatusBadRequest,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,
	ErrCodeTokenRevoked: http.StatusUnauthorized,

	ErrCodeNotFound:     http.StatusNotFound,
	ErrCodeConflict:     http.StatusConflict,
	ErrCodeInvalidState: http.StatusUnprocessableEntity,

	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidJSON:  http.StatusBadRequest,
	ErrCodeBodyTooLarge: http.StatusRequestEntityTooLarge,

	ErrCodeRateLimited: http.StatusTooManyRequests,

	ErrCodeSyncAlreadyActive:      http.StatusConflict,
	ErrCodeDuplicateIdempotency:   http.StatusConflict,
	ErrCodeQueueNotFound:          http.StatusNotFound,
	ErrCodeConnectorNotConfigured: http.StatusNotFound,
	ErrCodePreviewNotFound:        http.StatusNotFound,
	// the platform rejected our credentials; the caller's own auth is fine
	ErrCodePlatformAuth:        http.StatusBadGateway,
	ErrCodePlatformUnavailable: http.StatusBadGateway,
	ErrCodePlatformRateLimited: http.StatusTooManyRequests,
	ErrCodeCircuitOpen:         http.StatusServiceUnavailable,
}

// GetHTTPStatus returns the HTTP status code for an error code.
// Unknown codes map to 500.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// domainCodeMapping maps DomainError codes to API error codes
var domainCodeMapping = map[string]string{
	"NOT_FOUND":                 ErrCodeNotFound,
	"INVALID_INPUT":             ErrCodeValidation,
	"INVALID_STATE":             ErrCodeInvalidState,
	"UNAUTHORIZED":              ErrCodeUnauthorized,
	"FORBIDDEN":                 ErrCodeForbidden,
	"VALIDATION_ERROR":          ErrCodeValidation,
	"BAD_REQUEST":               ErrCodeBadRequest,
	"INTERNAL_ERROR":            ErrCodeInternal,
	"SYNC_ALREADY_ACTIVE":       ErrCodeSyncAlreadyActive,
	"DUPLICATE_IDEMPOTENCY_KEY": ErrCodeDuplicateIdempotency,
	"QUEUE_NOT_FOUND":           ErrCodeQueueNotFound,
	"CONNECTOR_NOT_CONFIGURED":  ErrCodeConnectorNotConfigured,
	"PREVIEW_NOT_FOUND":         ErrCodePreviewNotFound,
	"PLATFORM_AUTH_FAILED":      ErrCodePlatformAuth,
	"PLATFORM_UNAVAILABLE":      ErrCodePlatformUnavailable,
	"PLATFORM_RATE_LIMITED":     ErrCodePlatformRateLimited,
	"CIRCUIT_OPEN":              ErrCodeCircuitOpen,
}

// NormalizeErrorCode converts a domain error code to its ERR_ form.
// Codes already in that form, and unknown codes, are returned as-is.
func NormalizeErrorCode(code string) string {
	if newCode, ok := domainCodeMapping[code]; ok {
		return newCode
	}
	return code
}
