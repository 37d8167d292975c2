package persistence

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/persistence/models"
)

// GormPreviewRepository implements integration.PreviewRepository using GORM
type GormPreviewRepository struct {
	db *gorm.DB
}

// NewGormPreviewRepository creates a new GORM-based preview repository
func NewGormPreviewRepository(db *gorm.DB) *GormPreviewRepository {
	return &GormPreviewRepository{db: db}
}

// Save replaces the snapshot stored under the snapshot's key
func (r *GormPreviewRepository) Save(ctx context.Context, snapshot *integration.PreviewSnapshot) error {
	m, err := models.SyncPreviewCacheModelFromDomain(snapshot)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "org_id"}, {Name: "sync_type"}, {Name: "entity_type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"connector_id", "records", "new_count", "updated_count", "total_count", "computed_at", "expires_at",
		}),
	}).Create(m).Error
}

// Find loads the snapshot for key, ErrPreviewNotFound if none was stored
func (r *GormPreviewRepository) Find(ctx context.Context, key integration.PreviewKey) (*integration.PreviewSnapshot, error) {
	var m models.SyncPreviewCacheModel
	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND sync_type = ? AND entity_type = ?", key.OrgID, key.SyncType, key.EntityType).
		First(&m).Error; err != nil {
		return nil, translateNotFound(err, integration.ErrPreviewNotFound)
	}
	return m.ToDomain(), nil
}

// Ensure GormPreviewRepository implements PreviewRepository
var _ integration.PreviewRepository = (*GormPreviewRepository)(nil)
