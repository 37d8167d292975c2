package integration

// ---------------------------------------------------------------------------
// EntityType
// ---------------------------------------------------------------------------

// EntityType is the kind of collection synchronized from a platform
type EntityType string

const (
	EntityTypeCustomer EntityType = "customer"
	EntityTypeProduct  EntityType = "product"
	EntityTypeOrder    EntityType = "order"
	EntityTypeCategory EntityType = "category"
)

// AllEntityTypes lists every supported entity type
func AllEntityTypes() []EntityType {
	return []EntityType{EntityTypeCustomer, EntityTypeProduct, EntityTypeOrder, EntityTypeCategory}
}

// IsValid returns true if the entity type is known
func (e EntityType) IsValid() bool {
	switch e {
	case EntityTypeCustomer, EntityTypeProduct, EntityTypeOrder, EntityTypeCategory:
		return true
	default:
		return false
	}
}

// String returns the string representation of EntityType
func (e EntityType) String() string {
	return string(e)
}

// UsesQueue reports whether bulk starts run this entity type through a durable
// queue. The other entity types are previewed through the delta cache.
func (e EntityType) UsesQueue() bool {
	return e == EntityTypeCustomer
}

// ---------------------------------------------------------------------------
// QueueStatus
// ---------------------------------------------------------------------------

// QueueStatus is the lifecycle status of a SyncQueue
type QueueStatus string

const (
	QueueStatusCreated   QueueStatus = "created"
	QueueStatusRunning   QueueStatus = "running"
	QueueStatusPaused    QueueStatus = "paused"
	QueueStatusCompleted QueueStatus = "completed"
	QueueStatusFailed    QueueStatus = "failed"
)

// IsValid returns true if the status is known
func (s QueueStatus) IsValid() bool {
	switch s {
	case QueueStatusCreated, QueueStatusRunning, QueueStatusPaused, QueueStatusCompleted, QueueStatusFailed:
		return true
	default:
		return false
	}
}

// String returns the string representation of QueueStatus
func (s QueueStatus) String() string {
	return string(s)
}

// IsTerminal returns true for completed and failed
func (s QueueStatus) IsTerminal() bool {
	return s == QueueStatusCompleted || s == QueueStatusFailed
}

// IsActive returns true while the queue still owns its connector/entity slot
func (s QueueStatus) IsActive() bool {
	return s == QueueStatusCreated || s == QueueStatusRunning || s == QueueStatusPaused
}

// ActiveQueueStatuses returns the statuses considered active for single-flight checks
func ActiveQueueStatuses() []QueueStatus {
	return []QueueStatus{QueueStatusCreated, QueueStatusRunning, QueueStatusPaused}
}

// ---------------------------------------------------------------------------
// ItemStatus
// ---------------------------------------------------------------------------

// ItemStatus is the lifecycle status of a SyncQueueItem
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusSucceeded  ItemStatus = "succeeded"
	ItemStatusFailed     ItemStatus = "failed"
)

// IsValid returns true if the status is known
func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemStatusPending, ItemStatusProcessing, ItemStatusSucceeded, ItemStatusFailed:
		return true
	default:
		return false
	}
}

// String returns the string representation of ItemStatus
func (s ItemStatus) String() string {
	return string(s)
}

// IsTerminal returns true for succeeded and failed
func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusSucceeded || s == ItemStatusFailed
}

// ---------------------------------------------------------------------------
// SyncAction
// ---------------------------------------------------------------------------

// SyncAction records whether an upsert created or updated the internal record
type SyncAction string

const (
	SyncActionCreated SyncAction = "created"
	SyncActionUpdated SyncAction = "updated"
)

// String returns the string representation of SyncAction
func (a SyncAction) String() string {
	return string(a)
}

// PreviewStatus is the classification of a record in a preview snapshot
type PreviewStatus string

const (
	PreviewStatusNew     PreviewStatus = "new"
	PreviewStatusUpdated PreviewStatus = "updated"
)
