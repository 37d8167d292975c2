package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubScripter answers the token bucket script with a fixed reply or error
type stubScripter struct {
	redis.Scripter
	reply []any
	err   error
	keys  []string
}

func (s *stubScripter) EvalSha(ctx context.Context, _ string, keys []string, _ ...any) *redis.Cmd {
	s.keys = keys
	cmd := redis.NewCmd(ctx)
	if s.err != nil {
		cmd.SetErr(s.err)
	} else {
		cmd.SetVal(s.reply)
	}
	return cmd
}

func TestRedisTokenBucket_TryConsume(t *testing.T) {
	ctx := context.Background()

	t.Run("granted", func(t *testing.T) {
		stub := &stubScripter{reply: []any{int64(1), "9"}}
		b := NewRedisTokenBucket(stub, "", "woo-main", 10, 1)

		ok, tokens, err := b.TryConsume(ctx, 1)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 9.0, tokens)
		assert.Equal(t, []string{"sync:ratelimit:woo-main"}, stub.keys)
	})

	t.Run("rejected", func(t *testing.T) {
		b := NewRedisTokenBucket(&stubScripter{reply: []any{int64(0), "0.5"}}, "p:", "woo-main", 10, 1)
		ok, tokens, err := b.TryConsume(ctx, 1)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 0.5, tokens)
	})

	t.Run("unreachable server", func(t *testing.T) {
		b := NewRedisTokenBucket(&stubScripter{err: errors.New("dial tcp 127.0.0.1:1: connect: connection refused")}, "", "woo-main", 10, 1)
		_, _, err := b.TryConsume(ctx, 1)
		assert.ErrorIs(t, err, ErrLimiterUnavailable)
		assert.Contains(t, err.Error(), "connection refused")

		assert.ErrorIs(t, b.Consume(ctx, 1), ErrLimiterUnavailable)
	})

	t.Run("malformed reply", func(t *testing.T) {
		b := NewRedisTokenBucket(&stubScripter{reply: []any{int64(1)}}, "", "woo-main", 10, 1)
		_, _, err := b.TryConsume(ctx, 1)
		assert.ErrorIs(t, err, ErrLimiterUnavailable)
	})

	t.Run("cancellation is not an outage", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		b := NewRedisTokenBucket(&stubScripter{err: context.Canceled}, "", "woo-main", 10, 1)
		_, _, err := b.TryConsume(cctx, 1)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrLimiterUnavailable)
	})

	t.Run("cost above capacity", func(t *testing.T) {
		b := NewRedisTokenBucket(&stubScripter{reply: []any{int64(1), "0"}}, "", "woo-main", 2, 1)
		assert.ErrorIs(t, b.Consume(ctx, 3), ErrCostExceedsCapacity)
	})
}
