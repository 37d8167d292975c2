package integration

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/erp/syncengine/internal/domain/integration"
)

var (
	ErrUnknownCommand = errors.New("integration: unknown command type")
	ErrInvalidCommand = errors.New("integration: invalid command")
)

// CommandType is the discriminator of a Command on the wire
type CommandType string

const (
	CommandStartSync   CommandType = "sync.start"
	CommandGetStatus   CommandType = "sync.status"
	CommandRetryFailed CommandType = "sync.retry_failed"
	CommandForceDone   CommandType = "sync.force_done"
	CommandPause       CommandType = "sync.pause"
	CommandResume      CommandType = "sync.resume"
	CommandBulkStart   CommandType = "sync.bulk_start"
	CommandPreview     CommandType = "sync.preview"
)

// Command is one sync operation request. The set of variants is closed:
// only the types in this package implement it.
type Command interface {
	Type() CommandType
	Validate() error
	isCommand()
}

// SyncConfigRequest is the wire form of per-queue config overrides
type SyncConfigRequest struct {
	BatchSize         *int     `json:"batch_size,omitempty" binding:"omitempty,min=1,max=1000"`
	BatchDelayMs      *int64   `json:"batch_delay_ms,omitempty" binding:"omitempty,min=0,max=60000"`
	MaxRetries        *int     `json:"max_retries,omitempty" binding:"omitempty,min=0,max=10"`
	InitialBackoffMs  *int64   `json:"initial_backoff_ms,omitempty" binding:"omitempty,min=0"`
	BackoffMultiplier *float64 `json:"backoff_multiplier,omitempty" binding:"omitempty,min=1"`
}

// Overrides converts the request into domain overrides. A nil request yields nil.
func (r *SyncConfigRequest) Overrides() *integration.SyncConfigOverrides {
	if r == nil {
		return nil
	}
	return &integration.SyncConfigOverrides{
		BatchSize:         r.BatchSize,
		BatchDelayMs:      r.BatchDelayMs,
		MaxRetries:        r.MaxRetries,
		InitialBackoffMs:  r.InitialBackoffMs,
		BackoffMultiplier: r.BackoffMultiplier,
	}
}

// ---------------------------------------------------------------------------
// Variants
// ---------------------------------------------------------------------------

// StartSyncCommand starts a sync of one entity type
type StartSyncCommand struct {
	ConnectorID    string                 `json:"connector_id,omitempty"`
	EntityType     integration.EntityType `json:"entity_type"`
	Config         *SyncConfigRequest     `json:"config,omitempty"`
	Filter         integration.SyncFilter `json:"filter"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
}

// GetStatusCommand reads the status of a queue
type GetStatusCommand struct {
	QueueID uuid.UUID `json:"queue_id"`
}

// RetryFailedCommand requeues the failed items of a queue
type RetryFailedCommand struct {
	QueueID             uuid.UUID `json:"queue_id"`
	IncludeDeadLettered bool      `json:"include_dead_lettered,omitempty"`
}

// ForceDoneCommand completes a queue regardless of item state
type ForceDoneCommand struct {
	QueueID uuid.UUID `json:"queue_id"`
}

// PauseCommand pauses a queue
type PauseCommand struct {
	QueueID uuid.UUID `json:"queue_id"`
}

// ResumeCommand resumes a paused queue
type ResumeCommand struct {
	QueueID uuid.UUID `json:"queue_id"`
}

// BulkStartCommand starts or previews several entity types
type BulkStartCommand struct {
	ConnectorID string                   `json:"connector_id,omitempty"`
	EntityTypes []integration.EntityType `json:"entity_types"`
	Config      *SyncConfigRequest       `json:"config,omitempty"`
}

// PreviewCommand requests the delta preview of one entity type
type PreviewCommand struct {
	ConnectorID  string                 `json:"connector_id,omitempty"`
	EntityType   integration.EntityType `json:"entity_type"`
	ForceRefresh bool                   `json:"force_refresh,omitempty"`
}

func (StartSyncCommand) Type() CommandType   { return CommandStartSync }
func (GetStatusCommand) Type() CommandType   { return CommandGetStatus }
func (RetryFailedCommand) Type() CommandType { return CommandRetryFailed }
func (ForceDoneCommand) Type() CommandType   { return CommandForceDone }
func (PauseCommand) Type() CommandType       { return CommandPause }
func (ResumeCommand) Type() CommandType      { return CommandResume }
func (BulkStartCommand) Type() CommandType   { return CommandBulkStart }
func (PreviewCommand) Type() CommandType     { return CommandPreview }

func (StartSyncCommand) isCommand()   {}
func (GetStatusCommand) isCommand()   {}
func (RetryFailedCommand) isCommand() {}
func (ForceDoneCommand) isCommand()   {}
func (PauseCommand) isCommand()       {}
func (ResumeCommand) isCommand()      {}
func (BulkStartCommand) isCommand()   {}
func (PreviewCommand) isCommand()     {}

func (c StartSyncCommand) Validate() error {
	if !c.EntityType.IsValid() {
		return invalidCommand(c, "entity_type %q is not supported", c.EntityType)
	}
	return nil
}

func (c GetStatusCommand) Validate() error   { return requireQueueID(c, c.QueueID) }
func (c RetryFailedCommand) Validate() error { return requireQueueID(c, c.QueueID) }
func (c ForceDoneCommand) Validate() error   { return requireQueueID(c, c.QueueID) }
func (c PauseCommand) Validate() error       { return requireQueueID(c, c.QueueID) }
func (c ResumeCommand) Validate() error      { return requireQueueID(c, c.QueueID) }

func (c BulkStartCommand) Validate() error {
	if len(c.EntityTypes) == 0 {
		return invalidCommand(c, "entity_types must not be empty")
	}
	for _, et := range c.EntityTypes {
		if !et.IsValid() {
			return invalidCommand(c, "entity_type %q is not supported", et)
		}
	}
	return nil
}

func (c PreviewCommand) Validate() error {
	if !c.EntityType.IsValid() {
		return invalidCommand(c, "entity_type %q is not supported", c.EntityType)
	}
	return nil
}

func requireQueueID(c Command, id uuid.UUID) error {
	if id == uuid.Nil {
		return invalidCommand(c, "queue_id is required")
	}
	return nil
}

func invalidCommand(c Command, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidCommand, c.Type(), fmt.Sprintf(format, args...))
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

type commandEnvelope struct {
	Type CommandType `json:"type"`
}

// DecodeCommand reads a JSON command of the form {"type": "...", ...fields}
// into its typed variant and validates it
func DecodeCommand(data []byte) (Command, error) {
	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	var cmd Command
	var err error
	switch env.Type {
	case CommandStartSync:
		cmd, err = decodeAs[StartSyncCommand](data)
	case CommandGetStatus:
		cmd, err = decodeAs[GetStatusCommand](data)
	case CommandRetryFailed:
		cmd, err = decodeAs[RetryFailedCommand](data)
	case CommandForceDone:
		cmd, err = decodeAs[ForceDoneCommand](data)
	case CommandPause:
		cmd, err = decodeAs[PauseCommand](data)
	case CommandResume:
		cmd, err = decodeAs[ResumeCommand](data)
	case CommandBulkStart:
		cmd, err = decodeAs[BulkStartCommand](data)
	case CommandPreview:
		cmd, err = decodeAs[PreviewCommand](data)
	case "":
		return nil, fmt.Errorf("%w: type is required", ErrInvalidCommand)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Type)
	}
	if err != nil {
		return nil, err
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func decodeAs[T Command](data []byte) (Command, error) {
	var cmd T
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCommand, cmd.Type(), err)
	}
	return cmd, nil
}
