package integration

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/syncengine/internal/domain/integration"
)

// Actor is the caller a command runs on behalf of
type Actor struct {
	OrgID  uuid.UUID
	UserID *uuid.UUID
}

// Dispatcher routes each command variant to the service operation handling it
type Dispatcher struct {
	syncs    *SyncService
	previews *PreviewService
	bulk     *BulkService
	logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(syncs *SyncService, previews *PreviewService, bulk *BulkService, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{syncs: syncs, previews: previews, bulk: bulk, logger: logger}
}

// Dispatch runs cmd for actor and returns the operation's result
func (d *Dispatcher) Dispatch(ctx context.Context, actor Actor, cmd Command) (any, error) {
	if actor.OrgID == uuid.Nil {
		return nil, integration.ErrInvalidOrgID
	}
	if cmd == nil {
		return nil, fmt.Errorf("%w: nil command", ErrInvalidCommand)
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	d.logger.Debug("dispatching command",
		zap.String("type", string(cmd.Type())),
		zap.String("org_id", actor.OrgID.String()),
	)

	switch c := cmd.(type) {
	case StartSyncCommand:
		return d.syncs.StartSync(ctx, StartSyncInput{
			OrgID:          actor.OrgID,
			ConnectorID:    c.ConnectorID,
			EntityType:     c.EntityType,
			Config:         c.Config.Overrides(),
			Filter:         c.Filter,
			IdempotencyKey: c.IdempotencyKey,
			UserID:         actor.UserID,
		})
	case GetStatusCommand:
		return d.syncs.GetStatus(ctx, actor.OrgID, c.QueueID)
	case RetryFailedCommand:
		return d.syncs.RetryFailed(ctx, RetryFailedInput{
			OrgID:               actor.OrgID,
			QueueID:             c.QueueID,
			IncludeDeadLettered: c.IncludeDeadLettered,
			UserID:              actor.UserID,
		})
	case ForceDoneCommand:
		return d.syncs.ForceDone(ctx, ForceDoneInput{OrgID: actor.OrgID, QueueID: c.QueueID, UserID: actor.UserID})
	case PauseCommand:
		return d.syncs.Pause(ctx, QueueActionInput{OrgID: actor.OrgID, QueueID: c.QueueID, UserID: actor.UserID})
	case ResumeCommand:
		return d.syncs.Resume(ctx, QueueActionInput{OrgID: actor.OrgID, QueueID: c.QueueID, UserID: actor.UserID})
	case BulkStartCommand:
		return d.bulk.BulkStart(ctx, BulkStartInput{
			OrgID:       actor.OrgID,
			ConnectorID: c.ConnectorID,
			EntityTypes: c.EntityTypes,
			Config:      c.Config.Overrides(),
			UserID:      actor.UserID,
		})
	case PreviewCommand:
		return d.previews.Preview(ctx, PreviewInput{
			OrgID:        actor.OrgID,
			ConnectorID:  c.ConnectorID,
			EntityType:   c.EntityType,
			ForceRefresh: c.ForceRefresh,
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Type())
	}
}
