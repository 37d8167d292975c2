package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// minConsumePoll is the floor of the Consume polling interval
const minConsumePoll = 10 * time.Millisecond

// ErrLimiterUnavailable is returned when a shared limiter's state cannot be
// read or written. No tokens were taken.
var ErrLimiterUnavailable = errors.New("resilience: limiter unavailable")

// ErrCostExceedsCapacity is returned when a single request asks for more tokens than the bucket holds
var ErrCostExceedsCapacity = errors.New("resilience: cost exceeds bucket capacity")

// Limiter is what the sync engine needs from a rate limiter
type Limiter interface {
	// Consume blocks until cost tokens were taken or ctx is done
	Consume(ctx context.Context, cost int) error
}

// LimiterStats contains counters about limiter usage
type LimiterStats struct {
	TotalAcquired int64
	TotalRejected int64
	TotalWaits    int64
}

// TokenBucket is an in-process token bucket. It refills continuously at
// refillRate tokens per second up to maxTokens. Refill and deduction run
// under the mutex of the underlying rate.Limiter.
type TokenBucket struct {
	limiter    *rate.Limiter
	maxTokens  int
	refillRate float64
	clock      Clock

	totalAcquired atomic.Int64
	totalRejected atomic.Int64
	totalWaits    atomic.Int64
}

// NewTokenBucket creates a full bucket
func NewTokenBucket(maxTokens int, refillRate float64, clock Clock) *TokenBucket {
	if maxTokens <= 0 {
		maxTokens = 1
	}
	if refillRate <= 0 {
		refillRate = 1
	}
	if clock == nil {
		clock = SystemClock()
	}
	l := rate.NewLimiter(rate.Limit(refillRate), maxTokens)
	// rate.Limiter starts full but stamps its refill time lazily; anchor it
	// to the injected clock so elapsed time is measured from construction.
	l.SetBurstAt(clock.Now(), maxTokens)
	return &TokenBucket{
		limiter:    l,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		clock:      clock,
	}
}

// TryConsume takes cost tokens if available. It never blocks and leaves the
// bucket untouched when it returns false.
func (b *TokenBucket) TryConsume(cost int) bool {
	if cost <= 0 {
		return true
	}
	if b.limiter.AllowN(b.clock.Now(), cost) {
		b.totalAcquired.Add(1)
		return true
	}
	b.totalRejected.Add(1)
	return false
}

// Consume blocks until cost tokens were taken. It polls with a sleep
// proportional to the token deficit, never shorter than 10ms.
func (b *TokenBucket) Consume(ctx context.Context, cost int) error {
	if cost > b.maxTokens {
		return fmt.Errorf("%w: %d > %d", ErrCostExceedsCapacity, cost, b.maxTokens)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if b.TryConsume(cost) {
			return nil
		}
		b.totalWaits.Add(1)
		wait := deficitWait(float64(cost)-b.Tokens(), b.refillRate)
		if err := b.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Tokens returns the tokens available now
func (b *TokenBucket) Tokens() float64 {
	return b.limiter.TokensAt(b.clock.Now())
}

// MaxTokens returns the bucket capacity
func (b *TokenBucket) MaxTokens() int {
	return b.maxTokens
}

// RefillRate returns tokens added per second
func (b *TokenBucket) RefillRate() float64 {
	return b.refillRate
}

// Stats returns usage counters
func (b *TokenBucket) Stats() LimiterStats {
	return LimiterStats{
		TotalAcquired: b.totalAcquired.Load(),
		TotalRejected: b.totalRejected.Load(),
		TotalWaits:    b.totalWaits.Load(),
	}
}

// deficitWait converts a token deficit into the time needed to refill it
func deficitWait(deficit, refillRate float64) time.Duration {
	if deficit <= 0 || refillRate <= 0 {
		return minConsumePoll
	}
	wait := time.Duration(math.Ceil(deficit / refillRate * float64(time.Second)))
	if wait < minConsumePoll {
		return minConsumePoll
	}
	return wait
}

var _ Limiter = (*TokenBucket)(nil)
