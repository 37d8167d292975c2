package platform

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
)

// APIError is a non-2xx platform response. It unwraps to the matching
// integration.ErrPlatform* sentinel.
type APIError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
	kind       error
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (HTTP %d %s): %s", e.kind, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s (HTTP %d): %s", e.kind, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.kind
}

// StatusCode returns the HTTP status
func (e *APIError) StatusCode() int {
	return e.Status
}

// RetryAfterHint returns the wait the platform asked for in Retry-After, or 0
func (e *APIError) RetryAfterHint() time.Duration {
	return e.RetryAfter
}

// ErrorCode returns the platform's error code
func (e *APIError) ErrorCode() string {
	return e.Code
}

// newAPIError classifies an HTTP status
func newAPIError(status int, body wooError, retryAfter string) *APIError {
	msg := body.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	e := &APIError{Status: status, Code: body.Code, Message: integration.TruncateError(msg)}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.kind = integration.ErrPlatformAuthFailed
	case status == http.StatusNotFound:
		e.kind = integration.ErrPlatformEntityNotFound
	case status == http.StatusTooManyRequests:
		e.kind = integration.ErrPlatformRateLimited
		e.RetryAfter = parseRetryAfter(retryAfter)
	case status == http.StatusRequestTimeout || status >= 500:
		e.kind = integration.ErrPlatformUnavailable
	default:
		e.kind = integration.ErrPlatformInvalidRequest
	}
	return e
}

// parseRetryAfter accepts delta-seconds only
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
