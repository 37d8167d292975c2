// Package integration contains the Integration bounded context: inbound
// synchronization of paginated collections from external commerce platforms.
//
// Key concepts:
//   - SyncQueue: aggregate for one sync run of one entity type on one connector
//   - SyncQueueItem: one external record inside a queue, with its retry budget
//   - IntegrationMapping: external id -> internal id, the idempotency anchor
//   - ActivityLogEntry: append-only audit trail of a run
//   - PreviewSnapshot: classified new/updated result set for non-queued entity types
//   - ExternalPlatform: port implemented by platform adapters
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
