package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/persistence/models"
)

// GormSyncQueueItemRepository implements integration.SyncQueueItemRepository using GORM
type GormSyncQueueItemRepository struct {
	db *gorm.DB
}

// NewGormSyncQueueItemRepository creates a new GORM-based sync queue item repository
func NewGormSyncQueueItemRepository(db *gorm.DB) *GormSyncQueueItemRepository {
	return &GormSyncQueueItemRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormSyncQueueItemRepository) WithTx(tx *gorm.DB) *GormSyncQueueItemRepository {
	return &GormSyncQueueItemRepository{db: tx}
}

// FindByID loads an item
func (r *GormSyncQueueItemRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.SyncQueueItem, error) {
	var m models.SyncQueueItemModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, translateNotFound(err, integration.ErrItemNotFound)
	}
	return m.ToDomain(), nil
}

// ListByQueue returns the items of a queue in enqueue order. An empty status lists all.
func (r *GormSyncQueueItemRepository) ListByQueue(ctx context.Context, queueID uuid.UUID, status integration.ItemStatus, limit int) ([]*integration.SyncQueueItem, error) {
	query := r.db.WithContext(ctx).Where("queue_id = ?", queueID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.SyncQueueItemModel
	if err := query.Order("position ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	items := make([]*integration.SyncQueueItem, len(rows))
	for i := range rows {
		items[i] = rows[i].ToDomain()
	}
	return items, nil
}

// ClaimBatch moves up to limit due pending items to processing.
// Rows locked by a concurrent claimer are skipped.
func (r *GormSyncQueueItemRepository) ClaimBatch(ctx context.Context, queueID uuid.UUID, limit int, now time.Time) ([]*integration.SyncQueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []models.SyncQueueItemModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Clauses(clause.Locking{
				Strength: "UPDATE",
				Options:  "SKIP LOCKED",
			}).
			Where("queue_id = ? AND status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)",
				queueID, integration.ItemStatusPending, now).
			Order("position ASC").
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
		if err := tx.Model(&models.SyncQueueItemModel{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":     integration.ItemStatusProcessing,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}
		for i := range rows {
			rows[i].Status = integration.ItemStatusProcessing
			rows[i].UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim sync item batch: %w", err)
	}

	items := make([]*integration.SyncQueueItem, len(rows))
	for i := range rows {
		items[i] = rows[i].ToDomain()
	}
	return items, nil
}

// Save persists the mutable fields of an item. Succeeded rows are never rewritten.
func (r *GormSyncQueueItemRepository) Save(ctx context.Context, item *integration.SyncQueueItem) error {
	result := r.db.WithContext(ctx).
		Model(&models.SyncQueueItemModel{}).
		Where("id = ? AND status <> ?", item.ID, integration.ItemStatusSucceeded).
		Updates(map[string]any{
			"status":          item.Status,
			"attempt_count":   item.AttemptCount,
			"last_error":      item.LastError,
			"next_retry_at":   item.NextRetryAt,
			"internal_id":     item.InternalID,
			"sync_action":     item.Action,
			"last_attempt_at": item.LastAttemptAt,
			"updated_at":      item.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, item.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: item already succeeded", integration.ErrItemInvalidTransition)
	}
	return nil
}

// RecoverProcessing returns items left in processing by a dead worker to pending
func (r *GormSyncQueueItemRepository) RecoverProcessing(ctx context.Context, queueID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.SyncQueueItemModel{}).
		Where("queue_id = ? AND status = ?", queueID, integration.ItemStatusProcessing).
		Updates(map[string]any{
			"status":     integration.ItemStatusPending,
			"updated_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}

// RequeueFailed moves failed items with budget left back to pending.
// includeDeadLettered requeues every failed item with a fresh budget.
func (r *GormSyncQueueItemRepository) RequeueFailed(ctx context.Context, queueID uuid.UUID, maxRetries int, includeDeadLettered bool) (int64, error) {
	updates := map[string]any{
		"status":        integration.ItemStatusPending,
		"next_retry_at": nil,
		"updated_at":    time.Now(),
	}
	query := r.db.WithContext(ctx).
		Model(&models.SyncQueueItemModel{}).
		Where("queue_id = ? AND status = ?", queueID, integration.ItemStatusFailed)
	if includeDeadLettered {
		updates["attempt_count"] = 0
	} else {
		query = query.Where("attempt_count < ?", maxRetries)
	}

	result := query.Updates(updates)
	return result.RowsAffected, result.Error
}

// CountDeadLettered counts failed items that used their whole attempt budget
func (r *GormSyncQueueItemRepository) CountDeadLettered(ctx context.Context, queueID uuid.UUID, maxRetries int) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.SyncQueueItemModel{}).
		Where("queue_id = ? AND status = ? AND attempt_count >= ?",
			queueID, integration.ItemStatusFailed, maxRetries+1).
		Count(&n).Error
	return n, err
}

// NextDueAt returns the earliest scheduled retry among pending items
func (r *GormSyncQueueItemRepository) NextDueAt(ctx context.Context, queueID uuid.UUID) (*time.Time, error) {
	var rows []models.SyncQueueItemModel
	if err := r.db.WithContext(ctx).
		Select("id", "next_retry_at").
		Where("queue_id = ? AND status = ? AND next_retry_at IS NOT NULL",
			queueID, integration.ItemStatusPending).
		Order("next_retry_at ASC").
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].NextRetryAt, nil
}

// Ensure GormSyncQueueItemRepository implements SyncQueueItemRepository
var _ integration.SyncQueueItemRepository = (*GormSyncQueueItemRepository)(nil)
