package integration

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DefaultPreviewTTL is how long a preview snapshot is served before it is recomputed
const DefaultPreviewTTL = time.Hour

// PreviewKey identifies a preview snapshot. SyncType is the connector's platform.
type PreviewKey struct {
	OrgID      uuid.UUID
	SyncType   string
	EntityType EntityType
}

// PreviewRecord is one classified record in a snapshot
type PreviewRecord struct {
	Status     PreviewStatus   `json:"status"`
	InternalID *uuid.UUID      `json:"internal_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// PreviewSnapshot is the full classified result set of a preview run, keyed by external id
type PreviewSnapshot struct {
	ID           uuid.UUID
	Key          PreviewKey
	ConnectorID  string
	Records      map[string]PreviewRecord
	NewCount     int
	UpdatedCount int
	ComputedAt   time.Time
	ExpiresAt    time.Time
}

// NewPreviewSnapshot creates an empty snapshot valid for ttl
func NewPreviewSnapshot(key PreviewKey, connectorID string, ttl time.Duration, now time.Time) *PreviewSnapshot {
	return &PreviewSnapshot{
		ID:          uuid.New(),
		Key:         key,
		ConnectorID: connectorID,
		Records:     make(map[string]PreviewRecord),
		ComputedAt:  now,
		ExpiresAt:   now.Add(ttl),
	}
}

// Add classifies one record. A record seen twice keeps its latest payload.
func (s *PreviewSnapshot) Add(ext *ExternalRecord, mapping *IntegrationMapping) {
	rec := PreviewRecord{Status: PreviewStatusNew, Payload: ext.Raw}
	if mapping != nil {
		id := mapping.InternalID
		rec.Status = PreviewStatusUpdated
		rec.InternalID = &id
	}
	if prev, ok := s.Records[ext.ExternalID]; ok {
		s.decrement(prev.Status)
	}
	s.Records[ext.ExternalID] = rec
	if rec.Status == PreviewStatusNew {
		s.NewCount++
	} else {
		s.UpdatedCount++
	}
}

func (s *PreviewSnapshot) decrement(status PreviewStatus) {
	if status == PreviewStatusNew {
		s.NewCount--
	} else {
		s.UpdatedCount--
	}
}

// Total is the number of distinct records in the snapshot
func (s *PreviewSnapshot) Total() int {
	return len(s.Records)
}

// IsFresh returns true while the snapshot has not expired
func (s *PreviewSnapshot) IsFresh(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}
