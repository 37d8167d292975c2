package integration

import "errors"

// ---------------------------------------------------------------------------
// Platform errors
// ---------------------------------------------------------------------------

var (
	ErrPlatformUnavailable     = errors.New("integration: platform temporarily unavailable")
	ErrPlatformRateLimited     = errors.New("integration: platform rate limited")
	ErrPlatformAuthFailed      = errors.New("integration: platform authentication failed")
	ErrPlatformEntityNotFound  = errors.New("integration: entity not found on platform")
	ErrPlatformInvalidRequest  = errors.New("integration: platform rejected request")
	ErrPlatformInvalidResponse = errors.New("integration: invalid platform response")
	ErrConnectorNotConfigured  = errors.New("integration: connector not configured")
	ErrUnsupportedEntityType   = errors.New("integration: entity type not supported by platform")
)

// ---------------------------------------------------------------------------
// Sync queue errors
// ---------------------------------------------------------------------------

var (
	ErrQueueNotFound          = errors.New("integration: sync queue not found")
	ErrQueueInvalidTransition = errors.New("integration: invalid sync queue status transition")
	ErrQueueForceCompleted    = errors.New("integration: sync queue was force completed")
	ErrQueueLeaseLost         = errors.New("integration: sync queue lease lost")
	ErrQueueStatusChanged     = errors.New("integration: sync queue status changed concurrently")
	ErrSyncAlreadyActive      = errors.New("integration: a sync is already active for this connector and entity type")
	ErrDuplicateIdempotency   = errors.New("integration: idempotency key already used")

	ErrItemNotFound          = errors.New("integration: sync queue item not found")
	ErrItemInvalidTransition = errors.New("integration: invalid sync item status transition")
	ErrItemRetryExhausted    = errors.New("integration: sync item retry budget exhausted")
)

// ---------------------------------------------------------------------------
// Validation errors
// ---------------------------------------------------------------------------

var (
	ErrInvalidOrgID       = errors.New("integration: invalid org ID")
	ErrInvalidConnectorID = errors.New("integration: invalid connector ID")
	ErrInvalidEntityType  = errors.New("integration: invalid entity type")
	ErrInvalidExternalID  = errors.New("integration: invalid external ID")
	ErrInvalidSyncConfig  = errors.New("integration: invalid sync config")
	ErrInvalidPayload     = errors.New("integration: invalid record payload")
	ErrMappingConflict    = errors.New("integration: mapping points to a different internal record")
	ErrPreviewNotFound    = errors.New("integration: preview snapshot not found")
)
