package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/erp/syncengine/internal/domain/integration"
)

// logger for model conversion errors (silent failures are logged for debugging)
var modelLogger = zap.L().Named("integration.models")

// ---------------------------------------------------------------------------
// SyncQueueModel
// ---------------------------------------------------------------------------

// SyncQueueModel is the persistence model for the SyncQueue aggregate
type SyncQueueModel struct {
	ID          uuid.UUID               `gorm:"type:uuid;primary_key"`
	OrgID       uuid.UUID               `gorm:"type:uuid;not null;index:idx_sync_queue_slot,priority:1;uniqueIndex:idx_sync_queue_idempotency,priority:1"`
	ConnectorID string                  `gorm:"type:varchar(64);not null;index:idx_sync_queue_slot,priority:2"`
	EntityType  integration.EntityType  `gorm:"type:varchar(20);not null;index:idx_sync_queue_slot,priority:3"`
	Status      integration.QueueStatus `gorm:"type:varchar(20);not null;index:idx_sync_queue_status_lease,priority:1"`

	BatchSize         int     `gorm:"not null"`
	BatchDelayMs      int64   `gorm:"not null"`
	MaxRetries        int     `gorm:"not null"`
	InitialBackoffMs  int64   `gorm:"not null"`
	BackoffMultiplier float64 `gorm:"not null"`
	MaxBackoffMs      int64   `gorm:"not null"`
	FilterJSON        string  `gorm:"type:jsonb;column:filter;not null;default:'{}'"`

	TotalItems     int `gorm:"not null;default:0"`
	ProcessedItems int `gorm:"not null;default:0"`
	SucceededItems int `gorm:"not null;default:0"`
	FailedItems    int `gorm:"not null;default:0"`

	// NULL keys are not unique-constrained, so queues without a key never collide
	IdempotencyKey *string    `gorm:"type:varchar(128);uniqueIndex:idx_sync_queue_idempotency,priority:2"`
	CreatedBy      *uuid.UUID `gorm:"type:uuid"`
	LastError      string     `gorm:"type:text"`

	ActionRequired       bool   `gorm:"not null;default:false"`
	ActionRequiredReason string `gorm:"type:text"`

	ForceCompleted   bool       `gorm:"not null;default:false"`
	ForceCompletedBy *uuid.UUID `gorm:"type:uuid"`
	ForceCompletedAt *time.Time

	LeaseOwner     string     `gorm:"type:varchar(128)"`
	LeaseExpiresAt *time.Time `gorm:"index:idx_sync_queue_status_lease,priority:2"`

	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time `gorm:"not null;index"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncQueueModel) TableName() string {
	return "sync_queues"
}

// ToDomain converts the persistence model to a domain SyncQueue
func (m *SyncQueueModel) ToDomain() *integration.SyncQueue {
	q := &integration.SyncQueue{
		ID:          m.ID,
		OrgID:       m.OrgID,
		ConnectorID: m.ConnectorID,
		EntityType:  m.EntityType,
		Status:      m.Status,
		Config: integration.SyncConfig{
			BatchSize:         m.BatchSize,
			BatchDelay:        time.Duration(m.BatchDelayMs) * time.Millisecond,
			MaxRetries:        m.MaxRetries,
			InitialBackoff:    time.Duration(m.InitialBackoffMs) * time.Millisecond,
			BackoffMultiplier: m.BackoffMultiplier,
			MaxBackoff:        time.Duration(m.MaxBackoffMs) * time.Millisecond,
		},
		Counts: integration.QueueCounts{
			Total:     m.TotalItems,
			Processed: m.ProcessedItems,
			Succeeded: m.SucceededItems,
			Failed:    m.FailedItems,
			Pending:   m.TotalItems - m.ProcessedItems,
		},
		CreatedBy:            m.CreatedBy,
		LastError:            m.LastError,
		ActionRequired:       m.ActionRequired,
		ActionRequiredReason: m.ActionRequiredReason,
		ForceCompleted:       m.ForceCompleted,
		ForceCompletedBy:     m.ForceCompletedBy,
		ForceCompletedAt:     m.ForceCompletedAt,
		LeaseOwner:           m.LeaseOwner,
		LeaseExpiresAt:       m.LeaseExpiresAt,
		StartedAt:            m.StartedAt,
		CompletedAt:          m.CompletedAt,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
	if m.IdempotencyKey != nil {
		q.IdempotencyKey = *m.IdempotencyKey
	}
	if m.FilterJSON != "" && m.FilterJSON != "{}" {
		if err := json.Unmarshal([]byte(m.FilterJSON), &q.Filter); err != nil {
			modelLogger.Warn("failed to parse sync queue filter JSON",
				zap.String("queue_id", m.ID.String()),
				zap.Error(err))
		}
	}
	return q
}

// FromDomain populates the persistence model from a domain SyncQueue
func (m *SyncQueueModel) FromDomain(q *integration.SyncQueue) {
	m.ID = q.ID
	m.OrgID = q.OrgID
	m.ConnectorID = q.ConnectorID
	m.EntityType = q.EntityType
	m.Status = q.Status
	m.BatchSize = q.Config.BatchSize
	m.BatchDelayMs = q.Config.BatchDelay.Milliseconds()
	m.MaxRetries = q.Config.MaxRetries
	m.InitialBackoffMs = q.Config.InitialBackoff.Milliseconds()
	m.BackoffMultiplier = q.Config.BackoffMultiplier
	m.MaxBackoffMs = q.Config.MaxBackoff.Milliseconds()
	m.FilterJSON = "{}"
	if !q.Filter.IsEmpty() {
		if b, err := json.Marshal(q.Filter); err == nil {
			m.FilterJSON = string(b)
		}
	}
	m.TotalItems = q.Counts.Total
	m.ProcessedItems = q.Counts.Processed
	m.SucceededItems = q.Counts.Succeeded
	m.FailedItems = q.Counts.Failed
	m.IdempotencyKey = nil
	if q.IdempotencyKey != "" {
		key := q.IdempotencyKey
		m.IdempotencyKey = &key
	}
	m.CreatedBy = q.CreatedBy
	m.LastError = q.LastError
	m.ActionRequired = q.ActionRequired
	m.ActionRequiredReason = q.ActionRequiredReason
	m.ForceCompleted = q.ForceCompleted
	m.ForceCompletedBy = q.ForceCompletedBy
	m.ForceCompletedAt = q.ForceCompletedAt
	m.LeaseOwner = q.LeaseOwner
	m.LeaseExpiresAt = q.LeaseExpiresAt
	m.StartedAt = q.StartedAt
	m.CompletedAt = q.CompletedAt
	m.CreatedAt = q.CreatedAt
	m.UpdatedAt = q.UpdatedAt
}

// SyncQueueModelFromDomain creates a new persistence model from a domain SyncQueue
func SyncQueueModelFromDomain(q *integration.SyncQueue) *SyncQueueModel {
	m := &SyncQueueModel{}
	m.FromDomain(q)
	return m
}

// ---------------------------------------------------------------------------
// SyncQueueItemModel
// ---------------------------------------------------------------------------

// SyncQueueItemModel is the persistence model for SyncQueueItem
type SyncQueueItemModel struct {
	ID            uuid.UUID              `gorm:"type:uuid;primary_key"`
	QueueID       uuid.UUID              `gorm:"type:uuid;not null;uniqueIndex:idx_sync_item_queue_external,priority:1;index:idx_sync_item_claim,priority:1"`
	ExternalID    string                 `gorm:"type:varchar(128);not null;uniqueIndex:idx_sync_item_queue_external,priority:2"`
	Position      int                    `gorm:"not null;default:0"`
	PayloadJSON   string                 `gorm:"type:jsonb;column:payload;not null;default:'{}'"`
	Status        integration.ItemStatus `gorm:"type:varchar(20);not null;index:idx_sync_item_claim,priority:2"`
	AttemptCount  int                    `gorm:"not null;default:0"`
	LastError     string                 `gorm:"type:text"`
	NextRetryAt   *time.Time             `gorm:"index:idx_sync_item_claim,priority:3"`
	InternalID    *uuid.UUID             `gorm:"type:uuid"`
	SyncAction    integration.SyncAction `gorm:"type:varchar(20)"`
	LastAttemptAt *time.Time
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncQueueItemModel) TableName() string {
	return "sync_queue_items"
}

// ToDomain converts the persistence model to a domain SyncQueueItem
func (m *SyncQueueItemModel) ToDomain() *integration.SyncQueueItem {
	item := &integration.SyncQueueItem{
		ID:            m.ID,
		QueueID:       m.QueueID,
		ExternalID:    m.ExternalID,
		Position:      m.Position,
		Status:        m.Status,
		AttemptCount:  m.AttemptCount,
		LastError:     m.LastError,
		NextRetryAt:   m.NextRetryAt,
		InternalID:    m.InternalID,
		Action:        m.SyncAction,
		LastAttemptAt: m.LastAttemptAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.PayloadJSON != "" {
		item.Payload = json.RawMessage(m.PayloadJSON)
	}
	return item
}

// FromDomain populates the persistence model from a domain SyncQueueItem
func (m *SyncQueueItemModel) FromDomain(i *integration.SyncQueueItem) {
	m.ID = i.ID
	m.QueueID = i.QueueID
	m.ExternalID = i.ExternalID
	m.Position = i.Position
	m.PayloadJSON = "{}"
	if len(i.Payload) > 0 && json.Valid(i.Payload) {
		m.PayloadJSON = string(i.Payload)
	}
	m.Status = i.Status
	m.AttemptCount = i.AttemptCount
	m.LastError = i.LastError
	m.NextRetryAt = i.NextRetryAt
	m.InternalID = i.InternalID
	m.SyncAction = i.Action
	m.LastAttemptAt = i.LastAttemptAt
	m.CreatedAt = i.CreatedAt
	m.UpdatedAt = i.UpdatedAt
}

// SyncQueueItemModelFromDomain creates a new persistence model from a domain SyncQueueItem
func SyncQueueItemModelFromDomain(i *integration.SyncQueueItem) *SyncQueueItemModel {
	m := &SyncQueueItemModel{}
	m.FromDomain(i)
	return m
}

// ---------------------------------------------------------------------------
// IntegrationMappingModel
// ---------------------------------------------------------------------------

// IntegrationMappingModel is the persistence model for IntegrationMapping
type IntegrationMappingModel struct {
	ID           uuid.UUID              `gorm:"type:uuid;primary_key"`
	ConnectorID  string                 `gorm:"type:varchar(64);not null;uniqueIndex:idx_integration_mapping_key,priority:1"`
	EntityType   integration.EntityType `gorm:"type:varchar(20);not null;uniqueIndex:idx_integration_mapping_key,priority:2"`
	ExternalID   string                 `gorm:"type:varchar(128);not null;uniqueIndex:idx_integration_mapping_key,priority:3"`
	InternalID   uuid.UUID              `gorm:"type:uuid;not null;index"`
	LastSyncedAt time.Time              `gorm:"not null"`
	CreatedAt    time.Time              `gorm:"not null"`
	UpdatedAt    time.Time              `gorm:"not null"`
}

// TableName returns the table name for GORM
func (IntegrationMappingModel) TableName() string {
	return "integration_mappings"
}

// ToDomain converts the persistence model to a domain IntegrationMapping
func (m *IntegrationMappingModel) ToDomain() *integration.IntegrationMapping {
	return &integration.IntegrationMapping{
		ID:           m.ID,
		ConnectorID:  m.ConnectorID,
		EntityType:   m.EntityType,
		ExternalID:   m.ExternalID,
		InternalID:   m.InternalID,
		LastSyncedAt: m.LastSyncedAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// ---------------------------------------------------------------------------
// SyncedEntityModel
// ---------------------------------------------------------------------------

// SyncedEntityModel is the internal record a synced external record is written to
type SyncedEntityModel struct {
	ID             uuid.UUID              `gorm:"type:uuid;primary_key"`
	OrgID          uuid.UUID              `gorm:"type:uuid;not null;index:idx_synced_entity_org_type,priority:1"`
	EntityType     integration.EntityType `gorm:"type:varchar(20);not null;index:idx_synced_entity_org_type,priority:2"`
	ExternalID     string                 `gorm:"type:varchar(128);not null"`
	DisplayName    string                 `gorm:"type:varchar(255)"`
	Email          string                 `gorm:"type:varchar(255);index"`
	SKU            string                 `gorm:"type:varchar(100)"`
	Amount         decimal.Decimal        `gorm:"type:decimal(18,4);not null;default:0"`
	Currency       string                 `gorm:"type:varchar(8)"`
	RemoteStatus   string                 `gorm:"type:varchar(50)"`
	AttributesJSON string                 `gorm:"type:jsonb;column:attributes;not null;default:'{}'"`
	ContentHash    string                 `gorm:"type:varchar(32)"`
	CreatedAt      time.Time              `gorm:"not null"`
	UpdatedAt      time.Time              `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncedEntityModel) TableName() string {
	return "synced_entities"
}

// FromDomain populates the persistence model from a domain SyncedRecord
func (m *SyncedEntityModel) FromDomain(r *integration.SyncedRecord) {
	m.ID = r.ID
	m.OrgID = r.OrgID
	m.EntityType = r.EntityType
	m.ExternalID = r.ExternalID
	m.DisplayName = r.DisplayName
	m.Email = r.Email
	m.SKU = r.SKU
	m.Amount = r.Amount
	m.Currency = r.Currency
	m.RemoteStatus = r.RemoteStatus
	m.AttributesJSON = "{}"
	if len(r.Attributes) > 0 {
		if b, err := json.Marshal(r.Attributes); err == nil {
			m.AttributesJSON = string(b)
		}
	}
	m.ContentHash = r.ContentHash
	m.CreatedAt = r.CreatedAt
	m.UpdatedAt = r.UpdatedAt
}

// ToDomain converts the persistence model to a domain SyncedRecord
func (m *SyncedEntityModel) ToDomain() *integration.SyncedRecord {
	r := &integration.SyncedRecord{
		ID:           m.ID,
		OrgID:        m.OrgID,
		EntityType:   m.EntityType,
		ExternalID:   m.ExternalID,
		DisplayName:  m.DisplayName,
		Email:        m.Email,
		SKU:          m.SKU,
		Amount:       m.Amount,
		Currency:     m.Currency,
		RemoteStatus: m.RemoteStatus,
		ContentHash:  m.ContentHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.AttributesJSON != "" && m.AttributesJSON != "{}" {
		_ = json.Unmarshal([]byte(m.AttributesJSON), &r.Attributes)
	}
	return r
}

// ---------------------------------------------------------------------------
// SyncActivityLogModel
// ---------------------------------------------------------------------------

// SyncActivityLogModel is the persistence model for ActivityLogEntry
type SyncActivityLogModel struct {
	ID           uuid.UUID                  `gorm:"type:uuid;primary_key"`
	QueueID      uuid.UUID                  `gorm:"type:uuid;not null;index:idx_sync_activity_queue,priority:1"`
	ItemID       *uuid.UUID                 `gorm:"type:uuid"`
	OrgID        uuid.UUID                  `gorm:"type:uuid;not null;index"`
	UserID       *uuid.UUID                 `gorm:"type:uuid"`
	Action       integration.ActivityAction `gorm:"type:varchar(40);not null"`
	ResultStatus integration.ActivityResult `gorm:"type:varchar(20);not null"`
	Message      string                     `gorm:"type:text"`
	MetadataJSON string                     `gorm:"type:jsonb;column:metadata;not null;default:'{}'"`
	CreatedAt    time.Time                  `gorm:"not null;index:idx_sync_activity_queue,priority:2"`
}

// TableName returns the table name for GORM
func (SyncActivityLogModel) TableName() string {
	return "sync_activity_log"
}

// ToDomain converts the persistence model to a domain ActivityLogEntry
func (m *SyncActivityLogModel) ToDomain() *integration.ActivityLogEntry {
	e := &integration.ActivityLogEntry{
		ID:           m.ID,
		QueueID:      m.QueueID,
		ItemID:       m.ItemID,
		OrgID:        m.OrgID,
		UserID:       m.UserID,
		Action:       m.Action,
		ResultStatus: m.ResultStatus,
		Message:      m.Message,
		Metadata:     map[string]any{},
		CreatedAt:    m.CreatedAt,
	}
	if m.MetadataJSON != "" && m.MetadataJSON != "{}" {
		if err := json.Unmarshal([]byte(m.MetadataJSON), &e.Metadata); err != nil {
			modelLogger.Warn("failed to parse activity metadata JSON",
				zap.String("entry_id", m.ID.String()),
				zap.Error(err))
		}
	}
	return e
}

// SyncActivityLogModelFromDomain creates a new persistence model from a domain ActivityLogEntry
func SyncActivityLogModelFromDomain(e *integration.ActivityLogEntry) *SyncActivityLogModel {
	m := &SyncActivityLogModel{
		ID:           e.ID,
		QueueID:      e.QueueID,
		ItemID:       e.ItemID,
		OrgID:        e.OrgID,
		UserID:       e.UserID,
		Action:       e.Action,
		ResultStatus: e.ResultStatus,
		Message:      e.Message,
		MetadataJSON: "{}",
		CreatedAt:    e.CreatedAt,
	}
	if len(e.Metadata) > 0 {
		if b, err := json.Marshal(e.Metadata); err == nil {
			m.MetadataJSON = string(b)
		}
	}
	return m
}

// ---------------------------------------------------------------------------
// SyncPreviewCacheModel
// ---------------------------------------------------------------------------

// SyncPreviewCacheModel holds the latest preview snapshot per (org, sync type, entity type)
type SyncPreviewCacheModel struct {
	ID           uuid.UUID              `gorm:"type:uuid;primary_key"`
	OrgID        uuid.UUID              `gorm:"type:uuid;not null;uniqueIndex:idx_sync_preview_key,priority:1"`
	SyncType     string                 `gorm:"type:varchar(32);not null;uniqueIndex:idx_sync_preview_key,priority:2"`
	EntityType   integration.EntityType `gorm:"type:varchar(20);not null;uniqueIndex:idx_sync_preview_key,priority:3"`
	ConnectorID  string                 `gorm:"type:varchar(64);not null"`
	RecordsJSON  string                 `gorm:"type:jsonb;column:records;not null;default:'{}'"`
	NewCount     int                    `gorm:"not null;default:0"`
	UpdatedCount int                    `gorm:"not null;default:0"`
	TotalCount   int                    `gorm:"not null;default:0"`
	ComputedAt   time.Time              `gorm:"not null"`
	ExpiresAt    time.Time              `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncPreviewCacheModel) TableName() string {
	return "sync_preview_cache"
}

// ToDomain converts the persistence model to a domain PreviewSnapshot
func (m *SyncPreviewCacheModel) ToDomain() *integration.PreviewSnapshot {
	s := &integration.PreviewSnapshot{
		ID: m.ID,
		Key: integration.PreviewKey{
			OrgID:      m.OrgID,
			SyncType:   m.SyncType,
			EntityType: m.EntityType,
		},
		ConnectorID:  m.ConnectorID,
		Records:      make(map[string]integration.PreviewRecord),
		NewCount:     m.NewCount,
		UpdatedCount: m.UpdatedCount,
		ComputedAt:   m.ComputedAt,
		ExpiresAt:    m.ExpiresAt,
	}
	if m.RecordsJSON != "" && m.RecordsJSON != "{}" {
		if err := json.Unmarshal([]byte(m.RecordsJSON), &s.Records); err != nil {
			modelLogger.Warn("failed to parse preview records JSON",
				zap.String("preview_id", m.ID.String()),
				zap.Error(err))
		}
	}
	return s
}

// SyncPreviewCacheModelFromDomain creates a new persistence model from a domain PreviewSnapshot
func SyncPreviewCacheModelFromDomain(s *integration.PreviewSnapshot) (*SyncPreviewCacheModel, error) {
	records, err := json.Marshal(s.Records)
	if err != nil {
		return nil, err
	}
	return &SyncPreviewCacheModel{
		ID:           s.ID,
		OrgID:        s.Key.OrgID,
		SyncType:     s.Key.SyncType,
		EntityType:   s.Key.EntityType,
		ConnectorID:  s.ConnectorID,
		RecordsJSON:  string(records),
		NewCount:     s.NewCount,
		UpdatedCount: s.UpdatedCount,
		TotalCount:   s.Total(),
		ComputedAt:   s.ComputedAt,
		ExpiresAt:    s.ExpiresAt,
	}, nil
}

// AllModels lists every model owned by the sync engine, for AutoMigrate in tests and dev
func AllModels() []any {
	return []any{
		&SyncQueueModel{},
		&SyncQueueItemModel{},
		&IntegrationMappingModel{},
		&SyncedEntityModel{},
		&SyncActivityLogModel{},
		&SyncPreviewCacheModel{},
	}
}
