package integration

import (
	"time"

	"github.com/google/uuid"

	"github.com/erp/syncengine/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// Inputs
// ---------------------------------------------------------------------------

// StartSyncInput starts a sync of one entity type for one connector
type StartSyncInput struct {
	OrgID uuid.UUID
	// ConnectorID may be empty to use the org's default connector
	ConnectorID    string
	EntityType     integration.EntityType
	Config         *integration.SyncConfigOverrides
	Filter         integration.SyncFilter
	IdempotencyKey string
	UserID         *uuid.UUID
}

// RetryFailedInput requeues failed items of a queue
type RetryFailedInput struct {
	OrgID   uuid.UUID
	QueueID uuid.UUID
	// IncludeDeadLettered also revives items that used their whole budget,
	// giving them a fresh one
	IncludeDeadLettered bool
	UserID              *uuid.UUID
}

// ForceDoneInput completes a queue regardless of item state
type ForceDoneInput struct {
	OrgID   uuid.UUID
	QueueID uuid.UUID
	UserID  *uuid.UUID
}

// QueueActionInput addresses one queue for pause and resume
type QueueActionInput struct {
	OrgID   uuid.UUID
	QueueID uuid.UUID
	UserID  *uuid.UUID
}

// PreviewInput requests the delta preview of one entity type
type PreviewInput struct {
	OrgID        uuid.UUID
	ConnectorID  string
	EntityType   integration.EntityType
	ForceRefresh bool
}

// BulkStartInput starts or previews several entity types at once
type BulkStartInput struct {
	OrgID       uuid.UUID
	ConnectorID string
	EntityTypes []integration.EntityType
	Config      *integration.SyncConfigOverrides
	UserID      *uuid.UUID
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// StartSyncResult is returned by StartSync
type StartSyncResult struct {
	QueueID    uuid.UUID               `json:"queue_id"`
	Status     integration.QueueStatus `json:"status"`
	TotalItems int                     `json:"total_items"`
	// Replayed is true when the idempotency key matched an earlier start
	Replayed bool `json:"replayed,omitempty"`
}

// QueueStatusResponse is the status snapshot of a queue
type QueueStatusResponse struct {
	QueueID              uuid.UUID               `json:"queue_id"`
	ConnectorID          string                  `json:"connector_id"`
	EntityType           integration.EntityType  `json:"entity_type"`
	Status               integration.QueueStatus `json:"status"`
	Total                int                     `json:"total"`
	Processed            int                     `json:"processed"`
	Succeeded            int                     `json:"succeeded"`
	Failed               int                     `json:"failed"`
	Pending              int                     `json:"pending"`
	Processing           int                     `json:"processing"`
	PercentComplete      int                     `json:"percent_complete"`
	LastError            string                  `json:"last_error,omitempty"`
	ActionRequired       bool                    `json:"action_required"`
	ActionRequiredReason string                  `json:"action_required_reason,omitempty"`
	ForceCompleted       bool                    `json:"force_completed"`
	ForceCompletedBy     *uuid.UUID              `json:"force_completed_by,omitempty"`
	Config               SyncConfigResponse      `json:"config"`
	StartedAt            *time.Time              `json:"started_at,omitempty"`
	CompletedAt          *time.Time              `json:"completed_at,omitempty"`
	CreatedAt            time.Time               `json:"created_at"`
	UpdatedAt            time.Time               `json:"updated_at"`
}

// SyncConfigResponse is the effective config of a queue in milliseconds
type SyncConfigResponse struct {
	BatchSize         int     `json:"batch_size"`
	BatchDelayMs      int64   `json:"batch_delay_ms"`
	MaxRetries        int     `json:"max_retries"`
	InitialBackoffMs  int64   `json:"initial_backoff_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

// ToQueueStatusResponse converts a queue to its status snapshot
func ToQueueStatusResponse(q *integration.SyncQueue) QueueStatusResponse {
	return QueueStatusResponse{
		QueueID:              q.ID,
		ConnectorID:          q.ConnectorID,
		EntityType:           q.EntityType,
		Status:               q.Status,
		Total:                q.Counts.Total,
		Processed:            q.Counts.Processed,
		Succeeded:            q.Counts.Succeeded,
		Failed:               q.Counts.Failed,
		Pending:              q.Counts.Pending,
		Processing:           q.Counts.Processing,
		PercentComplete:      q.Counts.PercentComplete(),
		LastError:            q.LastError,
		ActionRequired:       q.ActionRequired,
		ActionRequiredReason: q.ActionRequiredReason,
		ForceCompleted:       q.ForceCompleted,
		ForceCompletedBy:     q.ForceCompletedBy,
		Config: SyncConfigResponse{
			BatchSize:         q.Config.BatchSize,
			BatchDelayMs:      q.Config.BatchDelay.Milliseconds(),
			MaxRetries:        q.Config.MaxRetries,
			InitialBackoffMs:  q.Config.InitialBackoff.Milliseconds(),
			BackoffMultiplier: q.Config.BackoffMultiplier,
		},
		StartedAt:   q.StartedAt,
		CompletedAt: q.CompletedAt,
		CreatedAt:   q.CreatedAt,
		UpdatedAt:   q.UpdatedAt,
	}
}

// ActivityEntryResponse is one activity log row
type ActivityEntryResponse struct {
	ID           uuid.UUID                  `json:"id"`
	QueueID      uuid.UUID                  `json:"queue_id"`
	ItemID       *uuid.UUID                 `json:"item_id,omitempty"`
	UserID       *uuid.UUID                 `json:"user_id,omitempty"`
	Action       integration.ActivityAction `json:"action"`
	ResultStatus integration.ActivityResult `json:"result_status"`
	Message      string                     `json:"message"`
	Metadata     map[string]any             `json:"metadata,omitempty"`
	CreatedAt    time.Time                  `json:"created_at"`
}

// ToActivityEntryResponses converts activity entries
func ToActivityEntryResponses(entries []*integration.ActivityLogEntry) []ActivityEntryResponse {
	out := make([]ActivityEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ActivityEntryResponse{
			ID:           e.ID,
			QueueID:      e.QueueID,
			ItemID:       e.ItemID,
			UserID:       e.UserID,
			Action:       e.Action,
			ResultStatus: e.ResultStatus,
			Message:      e.Message,
			Metadata:     e.Metadata,
			CreatedAt:    e.CreatedAt,
		})
	}
	return out
}

// PreviewResult is the delta preview of one entity type
type PreviewResult struct {
	ConnectorID  string                               `json:"connector_id"`
	EntityType   integration.EntityType               `json:"entity_type"`
	NewCount     int                                  `json:"new_count"`
	UpdatedCount int                                  `json:"updated_count"`
	TotalCount   int                                  `json:"total_count"`
	Records      map[string]integration.PreviewRecord `json:"records,omitempty"`
	ComputedAt   time.Time                            `json:"computed_at"`
	ExpiresAt    time.Time                            `json:"expires_at"`
	// Source is "cache", "database" or "platform"
	Source string `json:"source"`
}

// Preview sources
const (
	PreviewSourceCache    = "cache"
	PreviewSourceDatabase = "database"
	PreviewSourcePlatform = "platform"
)

func toPreviewResult(s *integration.PreviewSnapshot, source string) *PreviewResult {
	return &PreviewResult{
		ConnectorID:  s.ConnectorID,
		EntityType:   s.Key.EntityType,
		NewCount:     s.NewCount,
		UpdatedCount: s.UpdatedCount,
		TotalCount:   s.Total(),
		Records:      s.Records,
		ComputedAt:   s.ComputedAt,
		ExpiresAt:    s.ExpiresAt,
		Source:       source,
	}
}

// BulkEntityResult is the outcome of one entity type in a bulk start
type BulkEntityResult struct {
	EntityType  integration.EntityType `json:"entity_type"`
	QueueID     *uuid.UUID             `json:"queue_id,omitempty"`
	Status      string                 `json:"status"`
	CachedCount *int                   `json:"cached_count,omitempty"`
	Error       *BulkEntityError       `json:"error,omitempty"`
}

// BulkEntityError reports why one entity type could not be started
type BulkEntityError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Bulk result statuses besides queue statuses
const (
	BulkStatusCached = "cached"
	BulkStatusError  = "error"
)

// BulkStartResult lists the outcome per entity type in request order
type BulkStartResult struct {
	ConnectorID string             `json:"connector_id"`
	Results     []BulkEntityResult `json:"results"`
}
