package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/persistence/models"
)

// itemInsertBatchSize bounds the number of rows per INSERT when enqueuing items
const itemInsertBatchSize = 500

// GormSyncQueueRepository implements integration.SyncQueueRepository using GORM
type GormSyncQueueRepository struct {
	db *gorm.DB
}

// NewGormSyncQueueRepository creates a new GORM-based sync queue repository
func NewGormSyncQueueRepository(db *gorm.DB) *GormSyncQueueRepository {
	return &GormSyncQueueRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormSyncQueueRepository) WithTx(tx *gorm.DB) *GormSyncQueueRepository {
	return &GormSyncQueueRepository{db: tx}
}

// Create stores the queue and its items in one transaction
func (r *GormSyncQueueRepository) Create(ctx context.Context, queue *integration.SyncQueue, items []*integration.SyncQueueItem) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if queue.IdempotencyKey != "" {
			var n int64
			if err := tx.Model(&models.SyncQueueModel{}).
				Where("org_id = ? AND idempotency_key = ?", queue.OrgID, queue.IdempotencyKey).
				Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return integration.ErrDuplicateIdempotency
			}
		}

		var active int64
		if err := tx.Model(&models.SyncQueueModel{}).
			Where("org_id = ? AND connector_id = ? AND entity_type = ? AND status IN ?",
				queue.OrgID, queue.ConnectorID, queue.EntityType, integration.ActiveQueueStatuses()).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return integration.ErrSyncAlreadyActive
		}

		if err := tx.Create(models.SyncQueueModelFromDomain(queue)).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		rows := make([]*models.SyncQueueItemModel, len(items))
		for i, item := range items {
			rows[i] = models.SyncQueueItemModelFromDomain(item)
		}
		return tx.CreateInBatches(rows, itemInsertBatchSize).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost a race against a concurrent start; the partial unique index on
		// active slots or the idempotency index rejected the insert.
		if queue.IdempotencyKey != "" {
			if _, ferr := r.FindByIdempotencyKey(ctx, queue.OrgID, queue.IdempotencyKey); ferr == nil {
				return integration.ErrDuplicateIdempotency
			}
		}
		return integration.ErrSyncAlreadyActive
	}
	return err
}

// FindByID loads a queue
func (r *GormSyncQueueRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.SyncQueue, error) {
	var m models.SyncQueueModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, translateNotFound(err, integration.ErrQueueNotFound)
	}
	return m.ToDomain(), nil
}

// FindByIdempotencyKey loads the queue created with key
func (r *GormSyncQueueRepository) FindByIdempotencyKey(ctx context.Context, orgID uuid.UUID, key string) (*integration.SyncQueue, error) {
	var m models.SyncQueueModel
	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND idempotency_key = ?", orgID, key).
		First(&m).Error; err != nil {
		return nil, translateNotFound(err, integration.ErrQueueNotFound)
	}
	return m.ToDomain(), nil
}

// FindActive returns the active queue holding the (org, connector, entity type) slot
func (r *GormSyncQueueRepository) FindActive(ctx context.Context, orgID uuid.UUID, connectorID string, entityType integration.EntityType) (*integration.SyncQueue, error) {
	var m models.SyncQueueModel
	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND connector_id = ? AND entity_type = ? AND status IN ?",
			orgID, connectorID, entityType, integration.ActiveQueueStatuses()).
		Order("created_at DESC").
		First(&m).Error; err != nil {
		return nil, translateNotFound(err, integration.ErrQueueNotFound)
	}
	return m.ToDomain(), nil
}

// List returns queues matching filter, newest first, with the total count
func (r *GormSyncQueueRepository) List(ctx context.Context, filter integration.QueueListFilter) ([]*integration.SyncQueue, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.SyncQueueModel{}).Where("org_id = ?", filter.OrgID)
	if filter.ConnectorID != "" {
		query = query.Where("connector_id = ?", filter.ConnectorID)
	}
	if filter.EntityType != "" {
		query = query.Where("entity_type = ?", filter.EntityType)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := normalizePage(filter.Page, filter.PageSize)
	var rows []models.SyncQueueModel
	if err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	queues := make([]*integration.SyncQueue, len(rows))
	for i := range rows {
		queues[i] = rows[i].ToDomain()
	}
	return queues, total, nil
}

// Save persists the mutable lifecycle fields, guarded by the expected current status
func (r *GormSyncQueueRepository) Save(ctx context.Context, queue *integration.SyncQueue, from integration.QueueStatus) error {
	queue.UpdatedAt = time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.SyncQueueModel{}).
		Where("id = ? AND status = ?", queue.ID, from).
		Updates(map[string]any{
			"status":                 queue.Status,
			"last_error":             queue.LastError,
			"action_required":        queue.ActionRequired,
			"action_required_reason": queue.ActionRequiredReason,
			"force_completed":        queue.ForceCompleted,
			"force_completed_by":     queue.ForceCompletedBy,
			"force_completed_at":     queue.ForceCompletedAt,
			"started_at":             queue.StartedAt,
			"completed_at":           queue.CompletedAt,
			"updated_at":             queue.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, queue.ID); err != nil {
			return err
		}
		return integration.ErrQueueStatusChanged
	}
	return nil
}

type itemStatusCount struct {
	Status integration.ItemStatus
	Count  int
}

// RefreshCounts recomputes the counters from item rows and stores them
func (r *GormSyncQueueRepository) RefreshCounts(ctx context.Context, queueID uuid.UUID) (integration.QueueCounts, error) {
	var results []itemStatusCount
	if err := r.db.WithContext(ctx).
		Model(&models.SyncQueueItemModel{}).
		Select("status, count(*) as count").
		Where("queue_id = ?", queueID).
		Group("status").
		Scan(&results).Error; err != nil {
		return integration.QueueCounts{}, err
	}

	byStatus := make(map[integration.ItemStatus]int, len(results))
	for _, res := range results {
		byStatus[res.Status] = res.Count
	}
	counts := integration.NewQueueCounts(
		byStatus[integration.ItemStatusPending],
		byStatus[integration.ItemStatusProcessing],
		byStatus[integration.ItemStatusSucceeded],
		byStatus[integration.ItemStatusFailed],
	)

	if err := r.db.WithContext(ctx).
		Model(&models.SyncQueueModel{}).
		Where("id = ?", queueID).
		Updates(map[string]any{
			"total_items":     counts.Total,
			"processed_items": counts.Processed,
			"succeeded_items": counts.Succeeded,
			"failed_items":    counts.Failed,
			"updated_at":      time.Now(),
		}).Error; err != nil {
		return integration.QueueCounts{}, err
	}
	return counts, nil
}

// ClaimRunnable leases runnable queues whose lease is free or expired.
// Rows locked by another claimer are skipped.
func (r *GormSyncQueueRepository) ClaimRunnable(ctx context.Context, owner string, ttl time.Duration, limit int) ([]*integration.SyncQueue, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []models.SyncQueueModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if err := tx.
			Clauses(clause.Locking{
				Strength: "UPDATE",
				Options:  "SKIP LOCKED",
			}).
			Where("status IN ? AND (lease_expires_at IS NULL OR lease_expires_at < ?)",
				[]integration.QueueStatus{integration.QueueStatusCreated, integration.QueueStatusRunning}, now).
			Order("created_at ASC").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
		}
		expires := now.Add(ttl)
		if err := tx.Model(&models.SyncQueueModel{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"lease_owner":      owner,
				"lease_expires_at": expires,
				"updated_at":       now,
			}).Error; err != nil {
			return err
		}
		for i := range rows {
			rows[i].LeaseOwner = owner
			rows[i].LeaseExpiresAt = &expires
			rows[i].UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim runnable sync queues: %w", err)
	}

	queues := make([]*integration.SyncQueue, len(rows))
	for i := range rows {
		queues[i] = rows[i].ToDomain()
	}
	return queues, nil
}

// RenewLease extends the lease held by owner
func (r *GormSyncQueueRepository) RenewLease(ctx context.Context, queueID uuid.UUID, owner string, ttl time.Duration) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.SyncQueueModel{}).
		Where("id = ? AND lease_owner = ?", queueID, owner).
		Updates(map[string]any{
			"lease_expires_at": now.Add(ttl),
			"updated_at":       now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrQueueLeaseLost
	}
	return nil
}

// ReleaseLease clears the lease if owner still holds it
func (r *GormSyncQueueRepository) ReleaseLease(ctx context.Context, queueID uuid.UUID, owner string) error {
	return r.db.WithContext(ctx).
		Model(&models.SyncQueueModel{}).
		Where("id = ? AND lease_owner = ?", queueID, owner).
		Updates(map[string]any{
			"lease_owner":      "",
			"lease_expires_at": nil,
		}).Error
}

// translateNotFound maps gorm.ErrRecordNotFound to a domain sentinel
func translateNotFound(err, notFound error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return err
}

// normalizePage applies paging defaults
func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

// Ensure GormSyncQueueRepository implements SyncQueueRepository
var _ integration.SyncQueueRepository = (*GormSyncQueueRepository)(nil)
