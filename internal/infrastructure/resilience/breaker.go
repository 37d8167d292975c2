package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned, wrapped in *OpenError, while a breaker rejects calls
var ErrCircuitOpen = errors.New("resilience: circuit open")

// OpenError is returned without invoking the wrapped function
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit %s open, retry after %s", e.Name, e.RetryAfter)
}

func (e *OpenError) Unwrap() error {
	return ErrCircuitOpen
}

// RetryAfterFrom returns the retry hint of an open-circuit error
func RetryAfterFrom(err error) (time.Duration, bool) {
	var oe *OpenError
	if errors.As(err, &oe) {
		return oe.RetryAfter, true
	}
	return 0, false
}

// BreakerState is the state of a CircuitBreaker
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// halfOpenRetryAfter is the hint given to callers rejected while a trial call is in flight
const halfOpenRetryAfter = time.Second

// BreakerConfig configures a CircuitBreaker
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int
	// Cooldown is how long the circuit stays open after the last failure
	Cooldown time.Duration
	// IsFailure decides whether an error counts against the circuit.
	// Errors it rejects are treated like successes. Nil counts every error.
	IsFailure func(error) bool
	// OnStateChange is called after every transition, outside the lock
	OnStateChange func(name string, from, to BreakerState)
}

// DefaultBreakerConfig returns threshold 5 and a 60s cooldown
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
	}
}

// BreakerSnapshot is a point-in-time view of a breaker
type BreakerSnapshot struct {
	Name          string
	State         BreakerState
	FailureCount  int
	LastFailureAt time.Time
}

// CircuitBreaker stops calling a failing dependency for a cooldown period.
// open -> half_open is evaluated lazily on the next call; half_open admits
// exactly one trial call.
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	clock  Clock

	mu            sync.Mutex
	state         BreakerState
	failureCount  int
	lastFailureAt time.Time
	trialInFlight bool
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(name string, config BreakerConfig, clock Clock) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		clock:  clock,
		state:  StateClosed,
	}
}

// Execute runs fn through the breaker. fn's error is returned as is after
// being recorded; while open an *OpenError is returned and fn is not called.
// A panic in fn is recorded as a failure and re-raised.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err := b.before(); err != nil {
		return err
	}
	completed := false
	defer func() {
		if completed {
			b.record(b.outcomeOf(err))
		} else {
			b.record(outcomeFailure)
		}
	}()
	err = fn(ctx)
	completed = true
	return err
}

func (b *CircuitBreaker) before() error {
	b.mu.Lock()
	from := b.state
	now := b.clock.Now()

	switch b.state {
	case StateOpen:
		elapsed := now.Sub(b.lastFailureAt)
		if elapsed < b.config.Cooldown {
			b.mu.Unlock()
			return &OpenError{Name: b.name, RetryAfter: b.config.Cooldown - elapsed}
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
	case StateHalfOpen:
		if b.trialInFlight {
			b.mu.Unlock()
			return &OpenError{Name: b.name, RetryAfter: halfOpenRetryAfter}
		}
		b.trialInFlight = true
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return nil
}

// callOutcome is how a finished call affects the breaker
type callOutcome int

const (
	outcomeSuccess callOutcome = iota
	outcomeFailure
	// outcomeAbandoned is a call cut short by its caller; it proves nothing
	// about the dependency and leaves state and counters unchanged
	outcomeAbandoned
)

func (b *CircuitBreaker) outcomeOf(err error) callOutcome {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, context.Canceled):
		return outcomeAbandoned
	case b.config.IsFailure == nil || b.config.IsFailure(err):
		return outcomeFailure
	default:
		return outcomeSuccess
	}
}

func (b *CircuitBreaker) record(outcome callOutcome) {
	b.mu.Lock()
	from := b.state
	wasTrial := b.state == StateHalfOpen

	switch outcome {
	case outcomeFailure:
		b.failureCount++
		b.lastFailureAt = b.clock.Now()
		if wasTrial || b.failureCount >= b.config.FailureThreshold {
			b.state = StateOpen
		}
	case outcomeSuccess:
		b.failureCount = 0
		b.state = StateClosed
	}
	if wasTrial {
		b.trialInFlight = false
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

func (b *CircuitBreaker) notify(from, to BreakerState) {
	if from != to && b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, from, to)
	}
}

// State returns the current state without evaluating the cooldown
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the breaker state for status reporting
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		Name:          b.name,
		State:         b.state,
		FailureCount:  b.failureCount,
		LastFailureAt: b.lastFailureAt,
	}
}

// Reset forces the breaker closed
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.trialInFlight = false
	b.mu.Unlock()
	b.notify(from, StateClosed)
}
