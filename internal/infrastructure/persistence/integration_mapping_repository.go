package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/persistence/models"
)

// GormIntegrationMappingRepository implements integration.IntegrationMappingRepository
// and integration.RecordUpserter using GORM
type GormIntegrationMappingRepository struct {
	db *gorm.DB
}

// NewGormIntegrationMappingRepository creates a new GORM-based mapping repository
func NewGormIntegrationMappingRepository(db *gorm.DB) *GormIntegrationMappingRepository {
	return &GormIntegrationMappingRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormIntegrationMappingRepository) WithTx(tx *gorm.DB) *GormIntegrationMappingRepository {
	return &GormIntegrationMappingRepository{db: tx}
}

// FindByKey loads a mapping by its natural key, nil if none exists
func (r *GormIntegrationMappingRepository) FindByKey(ctx context.Context, key integration.MappingKey) (*integration.IntegrationMapping, error) {
	var rows []models.IntegrationMappingModel
	if err := r.db.WithContext(ctx).
		Where("connector_id = ? AND entity_type = ? AND external_id = ?",
			key.ConnectorID, key.EntityType, key.ExternalID).
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].ToDomain(), nil
}

// FindByExternalIDs loads the mappings for a set of external ids, keyed by external id
func (r *GormIntegrationMappingRepository) FindByExternalIDs(ctx context.Context, connectorID string, entityType integration.EntityType, externalIDs []string) (map[string]*integration.IntegrationMapping, error) {
	out := make(map[string]*integration.IntegrationMapping, len(externalIDs))
	if len(externalIDs) == 0 {
		return out, nil
	}
	var rows []models.IntegrationMappingModel
	if err := r.db.WithContext(ctx).
		Where("connector_id = ? AND entity_type = ? AND external_id IN ?",
			connectorID, entityType, externalIDs).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		out[rows[i].ExternalID] = rows[i].ToDomain()
	}
	return out, nil
}

// CountByConnector counts the mappings of one connector and entity type
func (r *GormIntegrationMappingRepository) CountByConnector(ctx context.Context, connectorID string, entityType integration.EntityType) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.IntegrationMappingModel{}).
		Where("connector_id = ? AND entity_type = ?", connectorID, entityType).
		Count(&n).Error
	return n, err
}

// Upsert writes record and its mapping in one transaction. The mapping row is
// inserted first with ON CONFLICT DO NOTHING so that of two concurrent writers
// for the same key exactly one creates the internal record.
func (r *GormIntegrationMappingRepository) Upsert(ctx context.Context, connectorID string, record *integration.SyncedRecord) (*integration.UpsertResult, error) {
	var result *integration.UpsertResult

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		mapping := &models.IntegrationMappingModel{
			ID:           uuid.New(),
			ConnectorID:  connectorID,
			EntityType:   record.EntityType,
			ExternalID:   record.ExternalID,
			InternalID:   record.ID,
			LastSyncedAt: now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		ins := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "connector_id"}, {Name: "entity_type"}, {Name: "external_id"}},
			DoNothing: true,
		}).Create(mapping)
		if ins.Error != nil {
			return ins.Error
		}

		if ins.RowsAffected == 1 {
			entity := &models.SyncedEntityModel{}
			entity.FromDomain(record)
			entity.CreatedAt, entity.UpdatedAt = now, now
			if err := tx.Create(entity).Error; err != nil {
				return err
			}
			result = &integration.UpsertResult{InternalID: record.ID, Action: integration.SyncActionCreated}
			return nil
		}

		var existing models.IntegrationMappingModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("connector_id = ? AND entity_type = ? AND external_id = ?",
				connectorID, record.EntityType, record.ExternalID).
			First(&existing).Error; err != nil {
			return err
		}

		unchanged, err := r.updateEntity(tx, existing.InternalID, record, now)
		if err != nil {
			return err
		}
		if err := tx.Model(&models.IntegrationMappingModel{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{"last_synced_at": now, "updated_at": now}).Error; err != nil {
			return err
		}
		result = &integration.UpsertResult{
			InternalID: existing.InternalID,
			Action:     integration.SyncActionUpdated,
			Unchanged:  unchanged,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// updateEntity rewrites the internal record behind an existing mapping. A missing
// record is recreated under the mapped id.
func (r *GormIntegrationMappingRepository) updateEntity(tx *gorm.DB, internalID uuid.UUID, record *integration.SyncedRecord, now time.Time) (bool, error) {
	var rows []models.SyncedEntityModel
	if err := tx.Where("id = ?", internalID).Limit(1).Find(&rows).Error; err != nil {
		return false, err
	}

	entity := &models.SyncedEntityModel{}
	entity.FromDomain(record)
	entity.ID = internalID
	entity.UpdatedAt = now

	if len(rows) == 0 {
		entity.CreatedAt = now
		return false, tx.Create(entity).Error
	}
	if rows[0].ContentHash == record.ContentHash {
		return true, nil
	}
	return false, tx.Model(&models.SyncedEntityModel{}).
		Where("id = ?", internalID).
		Updates(map[string]any{
			"display_name":  entity.DisplayName,
			"email":         entity.Email,
			"sku":           entity.SKU,
			"amount":        entity.Amount,
			"currency":      entity.Currency,
			"remote_status": entity.RemoteStatus,
			"attributes":    entity.AttributesJSON,
			"content_hash":  entity.ContentHash,
			"updated_at":    now,
		}).Error
}

// FindSyncedRecord loads an internal record by id
func (r *GormIntegrationMappingRepository) FindSyncedRecord(ctx context.Context, id uuid.UUID) (*integration.SyncedRecord, error) {
	var m models.SyncedEntityModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, translateNotFound(err, integration.ErrItemNotFound)
	}
	return m.ToDomain(), nil
}

// Ensure GormIntegrationMappingRepository implements the mapping interfaces
var (
	_ integration.IntegrationMappingRepository = (*GormIntegrationMappingRepository)(nil)
	_ integration.RecordUpserter               = (*GormIntegrationMappingRepository)(nil)
)
