package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr struct{ code int }

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) StatusCode() int { return e.code }

type codeErr struct{ code string }

func (e codeErr) Error() string     { return "platform error" }
func (e codeErr) ErrorCode() string { return e.code }

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", fmt.Errorf("fetch: %w", ErrRateLimited), true},
		{"429 status", statusErr{429}, true},
		{"503 status", statusErr{503}, false},
		{"rate limit code", codeErr{RateLimitCode}, true},
		{"other code", codeErr{"invalid"}, false},
		{"message", errors.New("HTTP: Too Many Requests"), true},
		{"plain", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimitError(tt.err))
		})
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, p.Delay(0, errUpstream))
	assert.Equal(t, 4*time.Second, p.Delay(2, errUpstream))
	assert.Equal(t, 30*time.Second, p.Delay(10, errUpstream))

	assert.Equal(t, 4000*time.Millisecond, p.Delay(0, statusErr{429}))
	assert.Equal(t, 60*time.Second, p.Delay(5, statusErr{429}), "capped at twice the max delay")

	p.MaxDelay = time.Second
	assert.Equal(t, 2*time.Second, p.Delay(0, statusErr{429}))
}

type hintErr struct {
	statusErr
	wait time.Duration
}

func (e hintErr) RetryAfterHint() time.Duration { return e.wait }

func TestRetryPolicy_DelayHonoursRetryAfter(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}

	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"hint longer than backoff", hintErr{statusErr{429}, 10 * time.Second}, 10 * time.Second},
		{"hint shorter than backoff", hintErr{statusErr{429}, time.Second}, 4 * time.Second},
		{"hint capped at twice the max", hintErr{statusErr{429}, 5 * time.Minute}, 60 * time.Second},
		{"wrapped hint", fmt.Errorf("list: %w", hintErr{statusErr{429}, 12 * time.Second}), 12 * time.Second},
		{"no hint", statusErr{429}, 4 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Delay(0, tt.err))
		})
	}
	assert.Zero(t, RetryAfterHint(nil))
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("Succeeds after failures", func(t *testing.T) {
		clock := NewManualClock(time.Now())
		calls := 0
		err := Retry(ctx, RetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Clock: clock},
			func(ctx context.Context, attempt int) error {
				calls++
				if attempt < 2 {
					return errUpstream
				}
				return nil
			})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, clock.Slept())
	})

	t.Run("Exhaustion returns last error", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, Clock: NewManualClock(time.Now())},
			func(ctx context.Context, attempt int) error {
				calls++
				return fmt.Errorf("attempt %d: %w", attempt, errUpstream)
			})
		assert.ErrorIs(t, err, errUpstream)
		assert.EqualError(t, err, "attempt 3: upstream 503")
		assert.Equal(t, 4, calls, "max_retries + 1 attempts")
	})

	t.Run("Permanent stops immediately", func(t *testing.T) {
		calls := 0
		errBad := errors.New("bad payload")
		err := Retry(ctx, RetryPolicy{MaxRetries: 3, Clock: NewManualClock(time.Now())},
			func(ctx context.Context, attempt int) error {
				calls++
				return Permanent(errBad)
			})
		assert.Same(t, errBad, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("Circuit open is not retried", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, RetryPolicy{MaxRetries: 3, Clock: NewManualClock(time.Now())},
			func(ctx context.Context, attempt int) error {
				calls++
				return &OpenError{Name: "x", RetryAfter: time.Second}
			})
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.Equal(t, 1, calls)
	})

	t.Run("OnRetry sees delays and can abort", func(t *testing.T) {
		errAbort := errors.New("abort")
		var seen []time.Duration
		err := Retry(ctx, RetryPolicy{
			MaxRetries: 5,
			BaseDelay:  time.Second,
			MaxDelay:   time.Minute,
			Clock:      NewManualClock(time.Now()),
			OnRetry: func(ctx context.Context, attempt int, err error, delay time.Duration) error {
				seen = append(seen, delay)
				if attempt == 1 {
					return errAbort
				}
				return nil
			},
		}, func(ctx context.Context, attempt int) error { return statusErr{429} })
		assert.ErrorIs(t, err, errAbort)
		assert.Equal(t, []time.Duration{4 * time.Second, 8 * time.Second}, seen)
	})

	t.Run("Cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := Retry(cctx, RetryPolicy{MaxRetries: 3}, func(ctx context.Context, attempt int) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}
