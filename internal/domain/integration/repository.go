package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// QueueListFilter filters ListQueues
type QueueListFilter struct {
	OrgID       uuid.UUID
	ConnectorID string
	EntityType  EntityType
	Status      QueueStatus
	Page        int
	PageSize    int
}

// SyncQueueRepository persists SyncQueue aggregates together with their items
type SyncQueueRepository interface {
	// Create stores a new queue and its items atomically. It returns
	// ErrSyncAlreadyActive if another active queue holds the same
	// (org, connector, entity type) slot, and ErrDuplicateIdempotency if the
	// idempotency key was used before.
	Create(ctx context.Context, queue *SyncQueue, items []*SyncQueueItem) error
	FindByID(ctx context.Context, id uuid.UUID) (*SyncQueue, error)
	FindByIdempotencyKey(ctx context.Context, orgID uuid.UUID, key string) (*SyncQueue, error)
	FindActive(ctx context.Context, orgID uuid.UUID, connectorID string, entityType EntityType) (*SyncQueue, error)
	List(ctx context.Context, filter QueueListFilter) ([]*SyncQueue, int64, error)
	// Save persists status, error and force-completion fields if the stored
	// status still equals from; ErrQueueStatusChanged otherwise
	Save(ctx context.Context, queue *SyncQueue, from QueueStatus) error
	// RefreshCounts recomputes the queue counters from its items and stores them
	RefreshCounts(ctx context.Context, queueID uuid.UUID) (QueueCounts, error)

	// ClaimRunnable leases up to limit runnable queues whose lease is free or expired
	ClaimRunnable(ctx context.Context, owner string, ttl time.Duration, limit int) ([]*SyncQueue, error)
	// RenewLease extends a held lease; ErrQueueLeaseLost if owner no longer holds it
	RenewLease(ctx context.Context, queueID uuid.UUID, owner string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, queueID uuid.UUID, owner string) error
}

// SyncQueueItemRepository persists SyncQueueItem rows
type SyncQueueItemRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*SyncQueueItem, error)
	ListByQueue(ctx context.Context, queueID uuid.UUID, status ItemStatus, limit int) ([]*SyncQueueItem, error)
	// ClaimBatch moves up to limit due pending items to processing and returns them
	ClaimBatch(ctx context.Context, queueID uuid.UUID, limit int, now time.Time) ([]*SyncQueueItem, error)
	Save(ctx context.Context, item *SyncQueueItem) error
	// RecoverProcessing returns items abandoned in processing to pending
	RecoverProcessing(ctx context.Context, queueID uuid.UUID) (int64, error)
	// RequeueFailed moves retryable failed items back to pending
	RequeueFailed(ctx context.Context, queueID uuid.UUID, maxRetries int, includeDeadLettered bool) (int64, error)
	CountDeadLettered(ctx context.Context, queueID uuid.UUID, maxRetries int) (int64, error)
	// NextDueAt returns the earliest next_retry_at among pending items, nil if none wait
	NextDueAt(ctx context.Context, queueID uuid.UUID) (*time.Time, error)
}

// IntegrationMappingRepository reads mappings. Writes go through RecordUpserter.
type IntegrationMappingRepository interface {
	FindByKey(ctx context.Context, key MappingKey) (*IntegrationMapping, error)
	FindByExternalIDs(ctx context.Context, connectorID string, entityType EntityType, externalIDs []string) (map[string]*IntegrationMapping, error)
	CountByConnector(ctx context.Context, connectorID string, entityType EntityType) (int64, error)
}

// RecordUpserter writes a synced record and its mapping atomically
type RecordUpserter interface {
	Upsert(ctx context.Context, connectorID string, record *SyncedRecord) (*UpsertResult, error)
}

// ActivityLogRepository appends and reads activity entries
type ActivityLogRepository interface {
	Append(ctx context.Context, entries ...*ActivityLogEntry) error
	ListByQueue(ctx context.Context, queueID uuid.UUID, limit int) ([]*ActivityLogEntry, error)
}

// PreviewRepository stores one snapshot per PreviewKey
type PreviewRepository interface {
	Save(ctx context.Context, snapshot *PreviewSnapshot) error
	Find(ctx context.Context, key PreviewKey) (*PreviewSnapshot, error)
}

// PreviewCache is a fast read-through layer in front of PreviewRepository
type PreviewCache interface {
	Get(ctx context.Context, key PreviewKey) (*PreviewSnapshot, error)
	Set(ctx context.Context, snapshot *PreviewSnapshot) error
}

// IdempotencyStore remembers start-sync idempotency keys for a bounded time
type IdempotencyStore interface {
	// Claim records key and returns true if it was not held yet
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release forgets key so a failed start can be retried with it
	Release(ctx context.Context, key string) error
}
