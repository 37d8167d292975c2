package resilience

import (
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

// LimiterBackend selects where token bucket state lives
type LimiterBackend string

const (
	// LimiterBackendMemory keeps buckets in process; correct while one worker
	// process talks to a given connector at a time.
	LimiterBackendMemory LimiterBackend = "memory"
	// LimiterBackendRedis shares buckets between worker processes
	LimiterBackendRedis LimiterBackend = "redis"
)

// Policy is the limiter and breaker settings of one connector
type Policy struct {
	MaxTokens  int
	RefillRate float64
	Breaker    BreakerConfig
}

// DefaultPolicy returns 10 tokens refilled at 1/s and the default breaker
func DefaultPolicy() Policy {
	return Policy{
		MaxTokens:  10,
		RefillRate: 1,
		Breaker:    DefaultBreakerConfig(),
	}
}

// Registry owns one limiter and one breaker per connector. It is created at
// startup and passed explicitly to the services that call platforms.
type Registry struct {
	backend     LimiterBackend
	defaults    Policy
	redis       redis.Scripter
	redisPrefix string
	clock       Clock
	isFailure   func(error) bool
	onChange    func(name string, from, to BreakerState)

	mu       sync.RWMutex
	policies map[string]Policy
	limiters map[string]Limiter
	breakers map[string]*CircuitBreaker
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithClock sets the clock used by in-memory limiters and breakers
func WithClock(c Clock) RegistryOption {
	return func(r *Registry) {
		r.clock = c
	}
}

// WithRedis enables the redis backend
func WithRedis(client redis.Scripter, keyPrefix string) RegistryOption {
	return func(r *Registry) {
		r.redis = client
		r.redisPrefix = keyPrefix
	}
}

// WithFailureClassifier sets which errors count against breakers
func WithFailureClassifier(fn func(error) bool) RegistryOption {
	return func(r *Registry) {
		r.isFailure = fn
	}
}

// WithStateObserver is notified of every breaker transition
func WithStateObserver(fn func(name string, from, to BreakerState)) RegistryOption {
	return func(r *Registry) {
		r.onChange = fn
	}
}

// NewRegistry creates an empty registry. Connectors without an explicit
// policy use defaults.
func NewRegistry(backend LimiterBackend, defaults Policy, opts ...RegistryOption) *Registry {
	r := &Registry{
		backend:  backend,
		defaults: defaults,
		clock:    SystemClock(),
		policies: make(map[string]Policy),
		limiters: make(map[string]Limiter),
		breakers: make(map[string]*CircuitBreaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.backend == LimiterBackendRedis && r.redis == nil {
		r.backend = LimiterBackendMemory
	}
	return r
}

// Configure sets the policy of a connector and drops any existing state for it
func (r *Registry) Configure(connectorID string, p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[connectorID] = p
	delete(r.limiters, connectorID)
	delete(r.breakers, connectorID)
}

// Remove forgets a connector
func (r *Registry) Remove(connectorID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.policies, connectorID)
	delete(r.limiters, connectorID)
	delete(r.breakers, connectorID)
}

// Limiter returns the connector's limiter, creating it on first use
func (r *Registry) Limiter(connectorID string) Limiter {
	r.mu.RLock()
	l, ok := r.limiters[connectorID]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[connectorID]; ok {
		return l
	}
	p := r.policyLocked(connectorID)
	if r.backend == LimiterBackendRedis {
		l = NewRedisTokenBucket(r.redis, r.redisPrefix, connectorID, p.MaxTokens, p.RefillRate)
	} else {
		l = NewTokenBucket(p.MaxTokens, p.RefillRate, r.clock)
	}
	r.limiters[connectorID] = l
	return l
}

// Breaker returns the connector's breaker, creating it on first use
func (r *Registry) Breaker(connectorID string) *CircuitBreaker {
	r.mu.RLock()
	b, ok := r.breakers[connectorID]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[connectorID]; ok {
		return b
	}
	cfg := r.policyLocked(connectorID).Breaker
	if cfg.IsFailure == nil {
		cfg.IsFailure = r.isFailure
	}
	if cfg.OnStateChange == nil {
		cfg.OnStateChange = r.onChange
	}
	b = NewCircuitBreaker(connectorID, cfg, r.clock)
	r.breakers[connectorID] = b
	return b
}

// Snapshots returns the state of every breaker created so far, sorted by name
func (r *Registry) Snapshots() []BreakerSnapshot {
	r.mu.RLock()
	out := make([]BreakerSnapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) policyLocked(connectorID string) Policy {
	if p, ok := r.policies[connectorID]; ok {
		return p
	}
	return r.defaults
}
