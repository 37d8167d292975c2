package dto

import (
	"github.com/erp/syncengine/internal/application/integration"
	domain "github.com/erp/syncengine/internal/domain/integration"
)

// StartSyncRequest is the body of POST /start
type StartSyncRequest struct {
	ConnectorID    string                         `json:"connector_id" binding:"omitempty,max=64"`
	EntityType     string                         `json:"entity_type" binding:"required,entity_type"`
	Config         *integration.SyncConfigRequest `json:"config"`
	Filter         SyncFilterRequest              `json:"filter"`
	IdempotencyKey string                         `json:"idempotency_key" binding:"omitempty,max=128"`
}

// SyncFilterRequest narrows a start to some external records
type SyncFilterRequest struct {
	ExternalID  string   `json:"external_id" binding:"omitempty,max=64"`
	Email       string   `json:"email" binding:"omitempty,email"`
	SelectedIDs []string `json:"selected_ids" binding:"omitempty,max=1000,dive,required"`
}

// ToCommand converts the request to its command variant
func (r StartSyncRequest) ToCommand() integration.StartSyncCommand {
	return integration.StartSyncCommand{
		ConnectorID: r.ConnectorID,
		EntityType:  domain.EntityType(r.EntityType),
		Config:      r.Config,
		Filter: domain.SyncFilter{
			ExternalID:  r.Filter.ExternalID,
			Email:       r.Filter.Email,
			SelectedIDs: r.Filter.SelectedIDs,
		},
		IdempotencyKey: r.IdempotencyKey,
	}
}

// RetryFailedRequest is the optional body of POST /queues/:id/retry-failed
type RetryFailedRequest struct {
	IncludeDeadLettered bool `json:"include_dead_lettered"`
}

// BulkStartRequest is the body of POST /bulk-start
type BulkStartRequest struct {
	ConnectorID string                         `json:"connector_id" binding:"omitempty,max=64"`
	EntityTypes []string                       `json:"entity_types" binding:"required,min=1,max=4,dive,entity_type"`
	Config      *integration.SyncConfigRequest `json:"config"`
}

// ToCommand converts the request to its command variant
func (r BulkStartRequest) ToCommand() integration.BulkStartCommand {
	types := make([]domain.EntityType, 0, len(r.EntityTypes))
	for _, et := range r.EntityTypes {
		types = append(types, domain.EntityType(et))
	}
	return integration.BulkStartCommand{
		ConnectorID: r.ConnectorID,
		EntityTypes: types,
		Config:      r.Config,
	}
}

// QueueURI binds the :id path parameter
type QueueURI struct {
	ID string `uri:"id" binding:"required,uuid"`
}

// ListQueuesQuery filters GET /queues
type ListQueuesQuery struct {
	ConnectorID string `form:"connector_id" binding:"omitempty,max=64"`
	EntityType  string `form:"entity_type" binding:"omitempty,entity_type"`
	Status      string `form:"status" binding:"omitempty,queue_status"`
	Page        int    `form:"page" binding:"omitempty,min=1"`
	PageSize    int    `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// ActivityQuery limits GET /queues/:id/activity
type ActivityQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// PreviewQuery selects the preview of GET /preview
type PreviewQuery struct {
	ConnectorID string `form:"connector_id" binding:"omitempty,max=64"`
	EntityType  string `form:"entity_type" binding:"required,entity_type"`
	Refresh     bool   `form:"refresh"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
