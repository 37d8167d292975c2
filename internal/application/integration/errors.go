package integration

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/infrastructure/resilience"
)

// Error codes returned to API callers for sync failures
const (
	CodeSyncAlreadyActive      = "SYNC_ALREADY_ACTIVE"
	CodeDuplicateIdempotency   = "DUPLICATE_IDEMPOTENCY_KEY"
	CodeQueueNotFound          = "QUEUE_NOT_FOUND"
	CodeConnectorNotConfigured = "CONNECTOR_NOT_CONFIGURED"
	CodeInvalidTransition      = "INVALID_STATE"
	CodeValidation             = "VALIDATION_ERROR"
	CodePlatformAuth           = "PLATFORM_AUTH_FAILED"
	CodePlatformUnavailable    = "PLATFORM_UNAVAILABLE"
	CodePlatformRateLimited    = "PLATFORM_RATE_LIMITED"
	CodeCircuitOpen            = "CIRCUIT_OPEN"
	CodePreviewNotFound        = "PREVIEW_NOT_FOUND"
	CodeInternal               = "INTERNAL_ERROR"
)

// ActiveSyncError is returned by StartSync when another queue holds the
// (org, connector, entity type) slot
type ActiveSyncError struct {
	QueueID uuid.UUID
}

func (e *ActiveSyncError) Error() string {
	return fmt.Sprintf("%s (queue %s)", integration.ErrSyncAlreadyActive, e.QueueID)
}

func (e *ActiveSyncError) Unwrap() error {
	return integration.ErrSyncAlreadyActive
}

// DomainErrorFor converts a service error into the user-facing DomainError.
// Errors that are already DomainErrors are returned unchanged.
func DomainErrorFor(err error) *shared.DomainError {
	if err == nil {
		return nil
	}
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de
	}

	var active *ActiveSyncError
	switch {
	case errors.As(err, &active):
		return shared.NewDomainError(CodeSyncAlreadyActive,
			fmt.Sprintf("A sync is already active for this connector and entity type (queue %s)", active.QueueID))
	case errors.Is(err, integration.ErrSyncAlreadyActive):
		return shared.NewDomainError(CodeSyncAlreadyActive, "A sync is already active for this connector and entity type")
	case errors.Is(err, integration.ErrDuplicateIdempotency):
		return shared.NewDomainError(CodeDuplicateIdempotency, "Idempotency key is already in use")
	case errors.Is(err, integration.ErrQueueNotFound), errors.Is(err, integration.ErrItemNotFound):
		return shared.NewDomainError(CodeQueueNotFound, "Sync queue not found")
	case errors.Is(err, integration.ErrConnectorNotConfigured):
		return shared.NewDomainError(CodeConnectorNotConfigured, "Connector is not configured for this organization")
	case errors.Is(err, integration.ErrQueueInvalidTransition),
		errors.Is(err, integration.ErrQueueForceCompleted),
		errors.Is(err, integration.ErrQueueStatusChanged):
		return shared.NewDomainError(CodeInvalidTransition, err.Error())
	case errors.Is(err, integration.ErrInvalidSyncConfig),
		errors.Is(err, integration.ErrInvalidEntityType),
		errors.Is(err, integration.ErrInvalidConnectorID),
		errors.Is(err, integration.ErrInvalidOrgID),
		errors.Is(err, integration.ErrInvalidExternalID),
		errors.Is(err, integration.ErrUnsupportedEntityType),
		errors.Is(err, ErrUnknownCommand),
		errors.Is(err, ErrInvalidCommand):
		return shared.NewDomainError(CodeValidation, err.Error())
	case errors.Is(err, integration.ErrPlatformAuthFailed):
		return shared.NewDomainError(CodePlatformAuth, "Platform rejected the connector credentials")
	case errors.Is(err, integration.ErrPlatformRateLimited):
		return shared.NewDomainError(CodePlatformRateLimited, "Platform rate limit exceeded, try again later")
	case errors.Is(err, resilience.ErrCircuitOpen):
		return shared.NewDomainError(CodeCircuitOpen, "Platform calls are suspended after repeated failures, try again later")
	case errors.Is(err, resilience.ErrLimiterUnavailable):
		return shared.NewDomainError(CodePlatformUnavailable, "Connector rate limiter is unavailable, try again later")
	case errors.Is(err, integration.ErrPlatformUnavailable),
		errors.Is(err, integration.ErrPlatformInvalidResponse),
		errors.Is(err, integration.ErrPlatformInvalidRequest):
		return shared.NewDomainError(CodePlatformUnavailable, integration.TruncateError(err.Error()))
	case errors.Is(err, integration.ErrPreviewNotFound):
		return shared.NewDomainError(CodePreviewNotFound, "Preview not found")
	default:
		return shared.NewDomainError(CodeInternal, "An unexpected error occurred")
	}
}
