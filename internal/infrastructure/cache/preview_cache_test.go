package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/syncengine/internal/domain/integration"
)

func newSnapshot(t *testing.T, ttl time.Duration) *integration.PreviewSnapshot {
	t.Helper()
	key := integration.PreviewKey{OrgID: uuid.New(), SyncType: "woocommerce", EntityType: integration.EntityTypeProduct}
	snap := integration.NewPreviewSnapshot(key, "woo-main", ttl, time.Now())
	snap.Add(&integration.ExternalRecord{ExternalID: "10", EntityType: integration.EntityTypeProduct, DisplayName: "Mug"}, nil)
	snap.Add(&integration.ExternalRecord{ExternalID: "11", EntityType: integration.EntityTypeProduct, DisplayName: "Cup"},
		&integration.IntegrationMapping{InternalID: uuid.New()})
	return snap
}

func TestInMemoryPreviewCache(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryPreviewCache()
	snap := newSnapshot(t, time.Hour)

	_, err := c.Get(ctx, snap.Key)
	assert.ErrorIs(t, err, integration.ErrPreviewNotFound)

	require.NoError(t, c.Set(ctx, snap))
	got, err := c.Get(ctx, snap.Key)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Total())
	assert.Equal(t, 1, got.NewCount)

	t.Run("expired snapshot is a miss", func(t *testing.T) {
		c.now = func() time.Time { return snap.ExpiresAt.Add(time.Second) }
		_, err := c.Get(ctx, snap.Key)
		assert.ErrorIs(t, err, integration.ErrPreviewNotFound)
	})
}

func TestStoreFactory_FallsBackWithoutRedis(t *testing.T) {
	f := NewStoreFactory(nil)

	store, err := f.IdempotencyStore()
	require.NoError(t, err)
	assert.IsType(t, &InMemoryIdempotencyStore{}, store)
	assert.IsType(t, &InMemoryPreviewCache{}, f.PreviewCache())

	_, err = NewStoreFactory(nil, WithInMemoryFallback(false)).IdempotencyStore()
	assert.Error(t, err)
}

// redisClientForTest connects to SYNC_TEST_REDIS_ADDR, skipping when it is unset.
func redisClientForTest(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("SYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SYNC_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return client
}

func TestRedisStores(t *testing.T) {
	client := redisClientForTest(t)
	ctx := context.Background()
	prefix := "test:" + uuid.NewString() + ":"

	t.Run("idempotency", func(t *testing.T) {
		store := NewRedisIdempotencyStoreWithClient(client, prefix)
		ok, err := store.Claim(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.Claim(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, store.Release(ctx, "k"))
		ok, err = store.Claim(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("preview", func(t *testing.T) {
		c := NewRedisPreviewCache(client, prefix)
		snap := newSnapshot(t, time.Minute)

		_, err := c.Get(ctx, snap.Key)
		assert.ErrorIs(t, err, integration.ErrPreviewNotFound)

		require.NoError(t, c.Set(ctx, snap))
		got, err := c.Get(ctx, snap.Key)
		require.NoError(t, err)
		assert.Equal(t, snap.ID, got.ID)
		assert.Equal(t, integration.PreviewStatusUpdated, got.Records["11"].Status)

		ttl, err := client.TTL(ctx, previewKey(prefix, snap.Key)).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
	})
}
