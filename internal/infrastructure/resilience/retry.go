package resilience

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"
)

// RateLimitCode is the error code platforms use to signal throttling
const RateLimitCode = "rate_limit_exceeded"

// ErrRateLimited marks an error as a rate-limit rejection
var ErrRateLimited = errors.New("resilience: rate limited")

// permanentError stops Retry immediately
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Retry does not retry it
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// IsRateLimitError classifies err as a rate-limit rejection: an explicit 429
// status, the rate-limit error code, or a "too many requests" message.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) && sc.StatusCode() == http.StatusTooManyRequests {
		return true
	}
	var cc interface{ ErrorCode() string }
	if errors.As(err, &cc) && strings.EqualFold(cc.ErrorCode(), RateLimitCode) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit")
}

// RetryPolicy configures Retry
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Multiplier defaults to 2
	Multiplier float64
	// IsRateLimited overrides IsRateLimitError
	IsRateLimited func(error) bool
	// OnRetry runs after a failed attempt and before the sleep. Returning an
	// error aborts the retry loop with that error.
	OnRetry func(ctx context.Context, attempt int, err error, delay time.Duration) error
	Clock   Clock
}

// Delay returns the backoff before retry number attempt (0-based).
// Standard errors wait base*m^attempt capped at MaxDelay; rate-limit errors
// wait base*m^(attempt+2) capped at 2*MaxDelay. A longer wait requested by
// the error itself (Retry-After) wins, within the same cap.
func (p RetryPolicy) Delay(attempt int, err error) time.Duration {
	m := p.Multiplier
	if m <= 0 {
		m = 2
	}
	exp := float64(attempt)
	limit := p.MaxDelay
	if p.rateLimited(err) {
		exp += 2
		limit = 2 * p.MaxDelay
	}
	d := float64(p.BaseDelay) * math.Pow(m, exp)
	if hint := RetryAfterHint(err); float64(hint) > d {
		d = float64(hint)
	}
	if limit > 0 && d > float64(limit) {
		return limit
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// RetryAfterHint returns the wait an error asks for through a
// RetryAfterHint() method, such as a platform's Retry-After header, or 0
func RetryAfterHint(err error) time.Duration {
	var h interface{ RetryAfterHint() time.Duration }
	if err != nil && errors.As(err, &h) {
		return max(h.RetryAfterHint(), 0)
	}
	return 0
}

func (p RetryPolicy) rateLimited(err error) bool {
	if p.IsRateLimited != nil {
		return p.IsRateLimited(err)
	}
	return IsRateLimitError(err)
}

// Retry calls fn until it succeeds, returns a permanent error, ctx ends or
// MaxRetries retries were spent. The last error is returned on exhaustion,
// unwrapped from Permanent.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context, attempt int) error) error {
	clock := p.Clock
	if clock == nil {
		clock = SystemClock()
	}
	var err error
	for attempt := 0; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err != nil {
				return err
			}
			return cerr
		}
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			return pe.err
		}
		if errors.Is(err, ErrCircuitOpen) || attempt >= p.MaxRetries {
			return err
		}
		delay := p.Delay(attempt, err)
		if p.OnRetry != nil {
			if herr := p.OnRetry(ctx, attempt, err, delay); herr != nil {
				return herr
			}
		}
		if serr := clock.Sleep(ctx, delay); serr != nil {
			return err
		}
	}
}
