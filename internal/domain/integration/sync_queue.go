package integration

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// maxErrorLength bounds error strings stored on queues, items and log entries
const maxErrorLength = 500

// TruncateError trims an error message to the stored length. The result is
// always valid UTF-8 and never ends inside a multi-byte rune.
func TruncateError(msg string) string {
	msg = strings.ToValidUTF8(strings.TrimSpace(msg), "\uFFFD")
	if len(msg) <= maxErrorLength {
		return msg
	}
	cut := maxErrorLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

// ---------------------------------------------------------------------------
// SyncQueue Aggregate
// ---------------------------------------------------------------------------

// SyncQueue is one logical sync run of one entity type for one connector.
// Rows are never deleted.
type SyncQueue struct {
	ID          uuid.UUID
	OrgID       uuid.UUID
	ConnectorID string
	EntityType  EntityType
	Status      QueueStatus
	Config      SyncConfig
	Filter      SyncFilter

	Counts QueueCounts

	IdempotencyKey string
	CreatedBy      *uuid.UUID
	LastError      string

	// ActionRequired is raised when the run ended with dead-lettered items
	ActionRequired       bool
	ActionRequiredReason string

	ForceCompleted   bool
	ForceCompletedBy *uuid.UUID
	ForceCompletedAt *time.Time

	// Lease held by the worker currently processing the queue
	LeaseOwner     string
	LeaseExpiresAt *time.Time

	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// QueueCounts are the progress counters of a queue. They are recomputed from
// item rows so Processed always equals Succeeded + Failed.
type QueueCounts struct {
	Total      int
	Processed  int
	Succeeded  int
	Failed     int
	Pending    int
	Processing int
}

// NewQueueCounts builds counters from per-status item counts
func NewQueueCounts(pending, processing, succeeded, failed int) QueueCounts {
	return QueueCounts{
		Total:      pending + processing + succeeded + failed,
		Processed:  succeeded + failed,
		Succeeded:  succeeded,
		Failed:     failed,
		Pending:    pending,
		Processing: processing,
	}
}

// PercentComplete returns processed/total as a percentage rounded down
func (c QueueCounts) PercentComplete() int {
	if c.Total == 0 {
		return 0
	}
	return c.Processed * 100 / c.Total
}

// Outstanding is the number of items that still need work
func (c QueueCounts) Outstanding() int {
	return c.Pending + c.Processing
}

// NewSyncQueue creates a queue in created status
func NewSyncQueue(orgID uuid.UUID, connectorID string, entityType EntityType, cfg SyncConfig, filter SyncFilter) (*SyncQueue, error) {
	if orgID == uuid.Nil {
		return nil, ErrInvalidOrgID
	}
	if strings.TrimSpace(connectorID) == "" {
		return nil, ErrInvalidConnectorID
	}
	if !entityType.IsValid() {
		return nil, ErrInvalidEntityType
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	return &SyncQueue{
		ID:          uuid.New(),
		OrgID:       orgID,
		ConnectorID: connectorID,
		EntityType:  entityType,
		Status:      QueueStatusCreated,
		Config:      cfg,
		Filter:      filter,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Start moves created -> running
func (q *SyncQueue) Start(now time.Time) error {
	if q.Status == QueueStatusRunning {
		return nil
	}
	if q.Status != QueueStatusCreated {
		return q.transitionError(QueueStatusRunning)
	}
	q.Status = QueueStatusRunning
	q.StartedAt = &now
	q.UpdatedAt = now
	return nil
}

// Complete marks the queue completed. deadLettered is the number of items
// that exhausted their retry budget, which raises ActionRequired.
func (q *SyncQueue) Complete(deadLettered int, now time.Time) error {
	if q.Status != QueueStatusRunning {
		return q.transitionError(QueueStatusCompleted)
	}
	q.Status = QueueStatusCompleted
	q.CompletedAt = &now
	q.UpdatedAt = now
	if deadLettered > 0 {
		q.ActionRequired = true
		q.ActionRequiredReason = fmt.Sprintf("%d item(s) exhausted retries; manual intervention required", deadLettered)
	}
	return nil
}

// Fail marks the queue failed after a fatal, queue-level error
func (q *SyncQueue) Fail(reason string, now time.Time) error {
	if q.Status.IsTerminal() {
		return q.transitionError(QueueStatusFailed)
	}
	q.Status = QueueStatusFailed
	q.LastError = TruncateError(reason)
	q.CompletedAt = &now
	q.UpdatedAt = now
	return nil
}

// Pause stops further batches until Resume
func (q *SyncQueue) Pause(now time.Time) error {
	if q.Status != QueueStatusRunning && q.Status != QueueStatusCreated {
		return q.transitionError(QueueStatusPaused)
	}
	q.Status = QueueStatusPaused
	q.UpdatedAt = now
	return nil
}

// Resume moves paused -> running
func (q *SyncQueue) Resume(now time.Time) error {
	if q.Status != QueueStatusPaused {
		return q.transitionError(QueueStatusRunning)
	}
	q.Status = QueueStatusRunning
	if q.StartedAt == nil {
		q.StartedAt = &now
	}
	q.UpdatedAt = now
	return nil
}

// ForceDone completes the queue regardless of item state. Item rows and
// counters are left as they are. Calling it on a completed queue is a no-op.
func (q *SyncQueue) ForceDone(userID *uuid.UUID, now time.Time) {
	if q.Status == QueueStatusCompleted {
		return
	}
	q.Status = QueueStatusCompleted
	q.ForceCompleted = true
	q.ForceCompletedBy = userID
	q.ForceCompletedAt = &now
	q.CompletedAt = &now
	q.UpdatedAt = now
}

// Reopen moves a finished queue back to running so retried items get processed
func (q *SyncQueue) Reopen(now time.Time) error {
	if q.ForceCompleted {
		return ErrQueueForceCompleted
	}
	switch q.Status {
	case QueueStatusCompleted, QueueStatusFailed:
	case QueueStatusRunning, QueueStatusCreated, QueueStatusPaused:
		// still active; requeued items are picked up by the current run
		return nil
	default:
		return q.transitionError(QueueStatusRunning)
	}
	q.Status = QueueStatusRunning
	q.CompletedAt = nil
	q.LastError = ""
	q.ActionRequired = false
	q.ActionRequiredReason = ""
	q.UpdatedAt = now
	return nil
}

// ApplyCounts replaces the progress counters
func (q *SyncQueue) ApplyCounts(c QueueCounts) {
	q.Counts = c
}

// IsRunnable returns true if a worker should process the queue
func (q *SyncQueue) IsRunnable() bool {
	return q.Status == QueueStatusCreated || q.Status == QueueStatusRunning
}

// HoldsLease reports whether owner holds an unexpired lease at now
func (q *SyncQueue) HoldsLease(owner string, now time.Time) bool {
	return q.LeaseOwner == owner && q.LeaseExpiresAt != nil && q.LeaseExpiresAt.After(now)
}

func (q *SyncQueue) transitionError(to QueueStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrQueueInvalidTransition, q.Status, to)
}
