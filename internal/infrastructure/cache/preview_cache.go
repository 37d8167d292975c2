package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/erp/syncengine/internal/domain/integration"
)

const defaultPreviewPrefix = "sync:preview:"

// previewDocument is the cached wire form of a PreviewSnapshot
type previewDocument struct {
	ID           uuid.UUID                            `json:"id"`
	OrgID        uuid.UUID                            `json:"org_id"`
	SyncType     string                               `json:"sync_type"`
	EntityType   integration.EntityType               `json:"entity_type"`
	ConnectorID  string                               `json:"connector_id"`
	Records      map[string]integration.PreviewRecord `json:"records"`
	NewCount     int                                  `json:"new_count"`
	UpdatedCount int                                  `json:"updated_count"`
	ComputedAt   time.Time                            `json:"computed_at"`
	ExpiresAt    time.Time                            `json:"expires_at"`
}

func toPreviewDocument(s *integration.PreviewSnapshot) previewDocument {
	return previewDocument{
		ID:           s.ID,
		OrgID:        s.Key.OrgID,
		SyncType:     s.Key.SyncType,
		EntityType:   s.Key.EntityType,
		ConnectorID:  s.ConnectorID,
		Records:      s.Records,
		NewCount:     s.NewCount,
		UpdatedCount: s.UpdatedCount,
		ComputedAt:   s.ComputedAt,
		ExpiresAt:    s.ExpiresAt,
	}
}

func (d previewDocument) toDomain() *integration.PreviewSnapshot {
	records := d.Records
	if records == nil {
		records = make(map[string]integration.PreviewRecord)
	}
	return &integration.PreviewSnapshot{
		ID:           d.ID,
		Key:          integration.PreviewKey{OrgID: d.OrgID, SyncType: d.SyncType, EntityType: d.EntityType},
		ConnectorID:  d.ConnectorID,
		Records:      records,
		NewCount:     d.NewCount,
		UpdatedCount: d.UpdatedCount,
		ComputedAt:   d.ComputedAt,
		ExpiresAt:    d.ExpiresAt,
	}
}

func previewKey(prefix string, key integration.PreviewKey) string {
	return fmt.Sprintf("%s%s:%s:%s", prefix, key.OrgID, key.SyncType, key.EntityType)
}

// ---------------------------------------------------------------------------
// Redis
// ---------------------------------------------------------------------------

// RedisPreviewCache stores preview snapshots in Redis until they expire
type RedisPreviewCache struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisPreviewCache creates a Redis-backed preview cache
func NewRedisPreviewCache(client redis.Cmdable, keyPrefix string) *RedisPreviewCache {
	if keyPrefix == "" {
		keyPrefix = defaultPreviewPrefix
	}
	return &RedisPreviewCache{client: client, keyPrefix: keyPrefix}
}

// Get returns the cached snapshot or integration.ErrPreviewNotFound
func (c *RedisPreviewCache) Get(ctx context.Context, key integration.PreviewKey) (*integration.PreviewSnapshot, error) {
	data, err := c.client.Get(ctx, previewKey(c.keyPrefix, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, integration.ErrPreviewNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read preview cache: %w", err)
	}
	var doc previewDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode preview cache entry: %w", err)
	}
	return doc.toDomain(), nil
}

// Set stores snapshot with a TTL ending at its expiry. Expired snapshots are not stored.
func (c *RedisPreviewCache) Set(ctx context.Context, snapshot *integration.PreviewSnapshot) error {
	ttl := time.Until(snapshot.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(toPreviewDocument(snapshot))
	if err != nil {
		return fmt.Errorf("failed to encode preview snapshot: %w", err)
	}
	if err := c.client.Set(ctx, previewKey(c.keyPrefix, snapshot.Key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write preview cache: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// In-memory
// ---------------------------------------------------------------------------

// InMemoryPreviewCache keeps snapshots in process memory
type InMemoryPreviewCache struct {
	mu        sync.RWMutex
	snapshots map[integration.PreviewKey]*integration.PreviewSnapshot
	now       func() time.Time
}

// NewInMemoryPreviewCache creates an empty in-memory preview cache
func NewInMemoryPreviewCache() *InMemoryPreviewCache {
	return &InMemoryPreviewCache{
		snapshots: make(map[integration.PreviewKey]*integration.PreviewSnapshot),
		now:       time.Now,
	}
}

// Get returns the snapshot if present and unexpired
func (c *InMemoryPreviewCache) Get(ctx context.Context, key integration.PreviewKey) (*integration.PreviewSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.snapshots[key]
	if !ok || !s.IsFresh(c.now()) {
		return nil, integration.ErrPreviewNotFound
	}
	return s, nil
}

// Set stores snapshot, replacing any previous one for its key
func (c *InMemoryPreviewCache) Set(ctx context.Context, snapshot *integration.PreviewSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[snapshot.Key] = snapshot
	return nil
}

var (
	_ integration.PreviewCache = (*RedisPreviewCache)(nil)
	_ integration.PreviewCache = (*InMemoryPreviewCache)(nil)
)
