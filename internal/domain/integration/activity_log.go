package integration

import (
	"time"

	"github.com/google/uuid"
)

// ActivityAction names an event in the sync activity log
type ActivityAction string

const (
	ActivityQueueCreated        ActivityAction = "queue_created"
	ActivityQueueStarted        ActivityAction = "queue_started"
	ActivityQueueCompleted      ActivityAction = "queue_completed"
	ActivityQueueFailed         ActivityAction = "queue_failed"
	ActivityQueuePaused         ActivityAction = "queue_paused"
	ActivityQueueResumed        ActivityAction = "queue_resumed"
	ActivityQueueForceDone      ActivityAction = "queue_force_done"
	ActivityQueueActionRequired ActivityAction = "queue_action_required"
	ActivityItemsEnqueued       ActivityAction = "items_enqueued"
	ActivityItemSynced          ActivityAction = "item_synced"
	ActivityItemAttemptFailed   ActivityAction = "item_attempt_failed"
	ActivityItemFailed          ActivityAction = "item_failed"
	ActivityItemDeferred        ActivityAction = "item_deferred"
	ActivityItemsRequeued       ActivityAction = "items_requeued"
)

// ActivityResult is the outcome recorded with an activity entry
type ActivityResult string

const (
	ActivityResultSuccess ActivityResult = "success"
	ActivityResultFailed  ActivityResult = "failed"
	ActivityResultWarning ActivityResult = "warning"
	ActivityResultInfo    ActivityResult = "info"
)

// DefaultActivityLogLimit is the page size used when a caller does not give one
const DefaultActivityLogLimit = 100

// ActivityLogEntry is an append-only audit row
type ActivityLogEntry struct {
	ID           uuid.UUID
	QueueID      uuid.UUID
	ItemID       *uuid.UUID
	OrgID        uuid.UUID
	UserID       *uuid.UUID
	Action       ActivityAction
	ResultStatus ActivityResult
	Message      string
	Metadata     map[string]any
	CreatedAt    time.Time
}

// NewQueueActivity creates a queue-level entry
func NewQueueActivity(q *SyncQueue, action ActivityAction, result ActivityResult, message string) *ActivityLogEntry {
	return &ActivityLogEntry{
		ID:           uuid.New(),
		QueueID:      q.ID,
		OrgID:        q.OrgID,
		Action:       action,
		ResultStatus: result,
		Message:      TruncateError(message),
		Metadata:     map[string]any{},
		CreatedAt:    time.Now(),
	}
}

// NewItemActivity creates an item-level entry carrying the external id and attempt number
func NewItemActivity(q *SyncQueue, item *SyncQueueItem, action ActivityAction, result ActivityResult, message string) *ActivityLogEntry {
	itemID := item.ID
	e := NewQueueActivity(q, action, result, message)
	e.ItemID = &itemID
	e.Metadata["external_id"] = item.ExternalID
	e.Metadata["attempt"] = item.AttemptCount
	return e
}

// WithUser sets the acting user
func (e *ActivityLogEntry) WithUser(userID *uuid.UUID) *ActivityLogEntry {
	e.UserID = userID
	return e
}

// With adds a metadata field
func (e *ActivityLogEntry) With(key string, value any) *ActivityLogEntry {
	e.Metadata[key] = value
	return e
}
