package persistence

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/persistence/models"
)

// GormActivityLogRepository implements integration.ActivityLogRepository using GORM
type GormActivityLogRepository struct {
	db *gorm.DB
}

// NewGormActivityLogRepository creates a new GORM-based activity log repository
func NewGormActivityLogRepository(db *gorm.DB) *GormActivityLogRepository {
	return &GormActivityLogRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormActivityLogRepository) WithTx(tx *gorm.DB) *GormActivityLogRepository {
	return &GormActivityLogRepository{db: tx}
}

// Append stores entries. The log is append-only.
func (r *GormActivityLogRepository) Append(ctx context.Context, entries ...*integration.ActivityLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]*models.SyncActivityLogModel, len(entries))
	for i, e := range entries {
		rows[i] = models.SyncActivityLogModelFromDomain(e)
	}
	return r.db.WithContext(ctx).Create(rows).Error
}

// ListByQueue returns the newest entries of a queue first
func (r *GormActivityLogRepository) ListByQueue(ctx context.Context, queueID uuid.UUID, limit int) ([]*integration.ActivityLogEntry, error) {
	if limit <= 0 {
		limit = integration.DefaultActivityLogLimit
	}
	var rows []models.SyncActivityLogModel
	if err := r.db.WithContext(ctx).
		Where("queue_id = ?", queueID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]*integration.ActivityLogEntry, len(rows))
	for i := range rows {
		entries[i] = rows[i].ToDomain()
	}
	return entries, nil
}

// Ensure GormActivityLogRepository implements ActivityLogRepository
var _ integration.ActivityLogRepository = (*GormActivityLogRepository)(nil)
