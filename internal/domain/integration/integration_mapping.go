package integration

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// IntegrationMapping Entity
// ---------------------------------------------------------------------------

// IntegrationMapping links an external identifier to the internal record it was
// synced into. (ConnectorID, EntityType, ExternalID) is unique.
type IntegrationMapping struct {
	ID           uuid.UUID
	ConnectorID  string
	EntityType   EntityType
	ExternalID   string
	InternalID   uuid.UUID
	LastSyncedAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MappingKey is the natural key of an IntegrationMapping
type MappingKey struct {
	ConnectorID string
	EntityType  EntityType
	ExternalID  string
}

// ---------------------------------------------------------------------------
// SyncedRecord
// ---------------------------------------------------------------------------

// SyncedRecord is the internal representation of a synced external record
type SyncedRecord struct {
	ID           uuid.UUID
	OrgID        uuid.UUID
	EntityType   EntityType
	ExternalID   string
	DisplayName  string
	Email        string
	SKU          string
	Amount       decimal.Decimal
	Currency     string
	RemoteStatus string
	Attributes   map[string]any
	ContentHash  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewSyncedRecord transforms a validated external record into an internal record
func NewSyncedRecord(orgID uuid.UUID, ext *ExternalRecord) (*SyncedRecord, error) {
	if err := ext.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	rec := &SyncedRecord{
		ID:           uuid.New(),
		OrgID:        orgID,
		EntityType:   ext.EntityType,
		ExternalID:   ext.ExternalID,
		DisplayName:  ext.DisplayName,
		Email:        ext.Email,
		SKU:          ext.SKU,
		Amount:       ext.Amount,
		Currency:     ext.Currency,
		RemoteStatus: ext.RemoteStatus,
		Attributes:   ext.Attributes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	rec.ContentHash = rec.computeHash()
	return rec, nil
}

// computeHash fingerprints the comparable fields so unchanged records can be detected
func (r *SyncedRecord) computeHash() string {
	attrs, _ := json.Marshal(r.Attributes)
	h := md5.New()
	for _, part := range []string{
		r.DisplayName, r.Email, r.SKU, r.Amount.String(), r.Currency, r.RemoteStatus, string(attrs),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// UpsertResult reports what an upsert did
type UpsertResult struct {
	InternalID uuid.UUID
	Action     SyncAction
	// Unchanged is true when an update found an identical content hash
	Unchanged bool
}
