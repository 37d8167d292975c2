package integration

import (
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
)

// Item outcomes reported to a SyncObserver
const (
	OutcomeCreated   = "created"
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeFailed    = "failed"
	OutcomeDeferred  = "deferred"
)

// SyncObserver receives sync engine events for metrics
type SyncObserver interface {
	QueueStarted(connectorID string, entityType integration.EntityType, items int)
	QueueFinished(connectorID string, entityType integration.EntityType, status integration.QueueStatus)
	ItemProcessed(connectorID string, entityType integration.EntityType, outcome string, d time.Duration)
	ItemRetried(connectorID string, entityType integration.EntityType, rateLimited bool)
	BatchProcessed(connectorID string, entityType integration.EntityType, size int, d time.Duration)
	PreviewComputed(connectorID string, entityType integration.EntityType, records int, d time.Duration)
}

type noopObserver struct{}

func (noopObserver) QueueStarted(string, integration.EntityType, int)                      {}
func (noopObserver) QueueFinished(string, integration.EntityType, integration.QueueStatus) {}
func (noopObserver) ItemProcessed(string, integration.EntityType, string, time.Duration)   {}
func (noopObserver) ItemRetried(string, integration.EntityType, bool)                      {}
func (noopObserver) BatchProcessed(string, integration.EntityType, int, time.Duration)     {}
func (noopObserver) PreviewComputed(string, integration.EntityType, int, time.Duration)    {}
