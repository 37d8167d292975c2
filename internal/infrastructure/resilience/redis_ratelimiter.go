package resilience

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and deducts in one atomic step on the Redis
// server, using the server clock so every process sees the same time.
// State is only written when tokens are taken.
var tokenBucketScript = redis.NewScript(`
local max = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = max
  ts = now
end
if now > ts then
  tokens = math.min(max, tokens + (now - ts) / 1000 * rate)
  ts = now
end
local allowed = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
  redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', ts)
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return {allowed, tostring(tokens)}
`)

// RedisTokenBucket is a token bucket whose state lives in Redis, shared by
// every worker process calling the same connector.
type RedisTokenBucket struct {
	client     redis.Scripter
	key        string
	maxTokens  int
	refillRate float64
	ttl        time.Duration
	clock      Clock
}

// NewRedisTokenBucket creates a shared bucket stored under keyPrefix+name
func NewRedisTokenBucket(client redis.Scripter, keyPrefix, name string, maxTokens int, refillRate float64) *RedisTokenBucket {
	if keyPrefix == "" {
		keyPrefix = "sync:ratelimit:"
	}
	if maxTokens <= 0 {
		maxTokens = 1
	}
	if refillRate <= 0 {
		refillRate = 1
	}
	// Keep the key until a full refill would have happened anyway
	ttl := time.Duration(float64(maxTokens)/refillRate*float64(time.Second)) + time.Minute
	return &RedisTokenBucket{
		client:     client,
		key:        keyPrefix + name,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		ttl:        ttl,
		clock:      SystemClock(),
	}
}

// TryConsume takes cost tokens if available
func (b *RedisTokenBucket) TryConsume(ctx context.Context, cost int) (bool, float64, error) {
	res, err := tokenBucketScript.Run(ctx, b.client, []string{b.key},
		b.maxTokens, b.refillRate, cost, b.ttl.Milliseconds()).Slice()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, 0, ctxErr
		}
		return false, 0, fmt.Errorf("%w: redis token bucket %s: %w", ErrLimiterUnavailable, b.key, err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("%w: redis token bucket %s: unexpected reply %v", ErrLimiterUnavailable, b.key, res)
	}
	allowed, _ := res[0].(int64)
	tokens, _ := strconv.ParseFloat(fmt.Sprint(res[1]), 64)
	return allowed == 1, tokens, nil
}

// Consume blocks until cost tokens were taken
func (b *RedisTokenBucket) Consume(ctx context.Context, cost int) error {
	if cost > b.maxTokens {
		return fmt.Errorf("%w: %d > %d", ErrCostExceedsCapacity, cost, b.maxTokens)
	}
	for {
		ok, tokens, err := b.TryConsume(ctx, cost)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := b.clock.Sleep(ctx, deficitWait(float64(cost)-tokens, b.refillRate)); err != nil {
			return err
		}
	}
}

var _ Limiter = (*RedisTokenBucket)(nil)
