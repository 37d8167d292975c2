package integration

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// SyncQueueItem Entity
// ---------------------------------------------------------------------------

// SyncQueueItem is one external record within a queue
type SyncQueueItem struct {
	ID         uuid.UUID
	QueueID    uuid.UUID
	ExternalID string
	// Position is the enqueue order; batches are claimed in this order
	Position int
	// Payload is the listing representation captured at enqueue time
	Payload      json.RawMessage
	Status       ItemStatus
	AttemptCount int
	LastError    string
	NextRetryAt  *time.Time

	InternalID    *uuid.UUID
	Action        SyncAction
	LastAttemptAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSyncQueueItem creates a pending item
func NewSyncQueueItem(queueID uuid.UUID, externalID string, payload json.RawMessage) (*SyncQueueItem, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, ErrInvalidExternalID
	}
	now := time.Now()
	return &SyncQueueItem{
		ID:         uuid.New(),
		QueueID:    queueID,
		ExternalID: externalID,
		Payload:    payload,
		Status:     ItemStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// IsDue returns true if the item may be claimed at now
func (i *SyncQueueItem) IsDue(now time.Time) bool {
	return i.Status == ItemStatusPending && (i.NextRetryAt == nil || !i.NextRetryAt.After(now))
}

// MarkProcessing moves pending -> processing
func (i *SyncQueueItem) MarkProcessing(now time.Time) error {
	if i.Status != ItemStatusPending {
		return i.transitionError(ItemStatusProcessing)
	}
	i.Status = ItemStatusProcessing
	i.UpdatedAt = now
	return nil
}

// RecordAttempt counts one execution attempt against the budget of maxAttempts
func (i *SyncQueueItem) RecordAttempt(maxAttempts int, now time.Time) error {
	if i.Status != ItemStatusProcessing {
		return i.transitionError(ItemStatusProcessing)
	}
	if i.AttemptCount >= maxAttempts {
		return ErrItemRetryExhausted
	}
	i.AttemptCount++
	i.LastAttemptAt = &now
	i.UpdatedAt = now
	return nil
}

// ScheduleRetry records the error of a failed attempt and the time of the next one
func (i *SyncQueueItem) ScheduleRetry(errMsg string, at time.Time) {
	i.LastError = TruncateError(errMsg)
	i.NextRetryAt = &at
	i.UpdatedAt = time.Now()
}

// MarkSucceeded moves processing -> succeeded
func (i *SyncQueueItem) MarkSucceeded(internalID uuid.UUID, action SyncAction, now time.Time) error {
	if i.Status != ItemStatusProcessing {
		return i.transitionError(ItemStatusSucceeded)
	}
	i.Status = ItemStatusSucceeded
	i.InternalID = &internalID
	i.Action = action
	i.LastError = ""
	i.NextRetryAt = nil
	i.UpdatedAt = now
	return nil
}

// MarkFailed moves processing -> failed
func (i *SyncQueueItem) MarkFailed(errMsg string, now time.Time) error {
	if i.Status != ItemStatusProcessing {
		return i.transitionError(ItemStatusFailed)
	}
	i.Status = ItemStatusFailed
	i.LastError = TruncateError(errMsg)
	i.NextRetryAt = nil
	i.UpdatedAt = now
	return nil
}

// Defer returns a processing item to pending without consuming an attempt
func (i *SyncQueueItem) Defer(until time.Time, reason string, now time.Time) error {
	if i.Status != ItemStatusProcessing {
		return i.transitionError(ItemStatusPending)
	}
	i.Status = ItemStatusPending
	i.NextRetryAt = &until
	if reason != "" {
		i.LastError = TruncateError(reason)
	}
	i.UpdatedAt = now
	return nil
}

// IsDeadLettered returns true if the item failed after using its whole budget
func (i *SyncQueueItem) IsDeadLettered(maxRetries int) bool {
	return i.Status == ItemStatusFailed && i.AttemptCount >= maxRetries+1
}

// CanRetry reports whether retry_failed may revive the item
func (i *SyncQueueItem) CanRetry(maxRetries int, includeDeadLettered bool) bool {
	if i.Status != ItemStatusFailed {
		return false
	}
	return includeDeadLettered || i.AttemptCount < maxRetries
}

// Requeue moves failed -> pending. resetAttempts restores the full budget.
func (i *SyncQueueItem) Requeue(resetAttempts bool, now time.Time) error {
	if i.Status != ItemStatusFailed {
		return i.transitionError(ItemStatusPending)
	}
	i.Status = ItemStatusPending
	i.NextRetryAt = nil
	if resetAttempts {
		i.AttemptCount = 0
	}
	i.UpdatedAt = now
	return nil
}

func (i *SyncQueueItem) transitionError(to ItemStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrItemInvalidTransition, i.Status, to)
}
