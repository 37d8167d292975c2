package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryIdempotencyStore_Claim(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()

	ctx := context.Background()

	t.Run("first claim wins", func(t *testing.T) {
		ok, err := store.Claim(ctx, "start-1", time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.Claim(ctx, "start-1", time.Hour)
		require.NoError(t, err)
		assert.False(t, ok, "held key must not be claimed twice")
	})

	t.Run("expired key can be claimed again", func(t *testing.T) {
		ok, err := store.Claim(ctx, "start-2", 10*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, ok)

		time.Sleep(20 * time.Millisecond)

		ok, err = store.Claim(ctx, "start-2", time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("released key can be claimed again", func(t *testing.T) {
		ok, err := store.Claim(ctx, "start-3", time.Hour)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, store.Release(ctx, "start-3"))

		ok, err = store.Claim(ctx, "start-3", time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestInMemoryIdempotencyStore_Cleanup(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()

	ctx := context.Background()

	_, _ = store.Claim(ctx, "short-lived-1", 10*time.Millisecond)
	_, _ = store.Claim(ctx, "short-lived-2", 10*time.Millisecond)
	_, _ = store.Claim(ctx, "long-lived", time.Hour)
	assert.Equal(t, 3, store.Size())

	time.Sleep(20 * time.Millisecond)
	store.cleanup()

	assert.Equal(t, 1, store.Size())
	ok, err := store.Claim(ctx, "long-lived", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInMemoryIdempotencyStore_ConcurrentClaim(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()

	ctx := context.Background()
	const numGoroutines = 100

	results := make(chan bool, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			ok, err := store.Claim(ctx, "same-key", time.Hour)
			results <- err == nil && ok
		}()
	}

	won := 0
	for i := 0; i < numGoroutines; i++ {
		if <-results {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one goroutine should claim the key")
}

func TestInMemoryIdempotencyStore_Close(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}
