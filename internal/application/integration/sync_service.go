package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/logger"
	"github.com/erp/syncengine/internal/infrastructure/resilience"
)

const tracerName = "github.com/erp/syncengine/internal/application/integration"

// defaultListPageSize is the page size used to enumerate a collection at start
const defaultListPageSize = 100

// SyncServiceDeps are the collaborators SyncService cannot work without
type SyncServiceDeps struct {
	Queues     integration.SyncQueueRepository
	Items      integration.SyncQueueItemRepository
	Upserter   integration.RecordUpserter
	Activity   integration.ActivityLogRepository
	Platforms  integration.PlatformProvider
	Resilience *resilience.Registry
}

// SyncService is the batch orchestrator. It creates queues, processes them
// batch by batch and exposes the operator actions on them.
type SyncService struct {
	queues     integration.SyncQueueRepository
	items      integration.SyncQueueItemRepository
	upserter   integration.RecordUpserter
	activity   integration.ActivityLogRepository
	platforms  integration.PlatformProvider
	resilience *resilience.Registry

	idempotency    integration.IdempotencyStore
	idempotencyTTL time.Duration
	defaults       integration.SyncConfig
	listPageSize   int
	idleWait       time.Duration
	clock          resilience.Clock
	observer       SyncObserver
	notify         func(queueID uuid.UUID)
	logger         *zap.Logger
	tracer         trace.Tracer
}

// SyncServiceOption configures a SyncService
type SyncServiceOption func(*SyncService)

// WithSyncDefaults sets the config applied when a start request has no overrides
func WithSyncDefaults(cfg integration.SyncConfig) SyncServiceOption {
	return func(s *SyncService) {
		s.defaults = cfg
	}
}

// WithIdempotencyStore enables fast start-request deduplication
func WithIdempotencyStore(store integration.IdempotencyStore, ttl time.Duration) SyncServiceOption {
	return func(s *SyncService) {
		s.idempotency = store
		s.idempotencyTTL = ttl
	}
}

// WithClock sets the clock used for timestamps and sleeps
func WithClock(c resilience.Clock) SyncServiceOption {
	return func(s *SyncService) {
		s.clock = c
	}
}

// WithObserver sets the metrics observer
func WithObserver(o SyncObserver) SyncServiceOption {
	return func(s *SyncService) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithEnqueueNotifier is called after a queue becomes runnable so a worker can pick it up early
func WithEnqueueNotifier(fn func(queueID uuid.UUID)) SyncServiceOption {
	return func(s *SyncService) {
		s.notify = fn
	}
}

// WithListPageSize sets the page size used when enumerating a collection
func WithListPageSize(n int) SyncServiceOption {
	return func(s *SyncService) {
		if n > 0 {
			s.listPageSize = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) SyncServiceOption {
	return func(s *SyncService) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSyncService creates a SyncService
func NewSyncService(deps SyncServiceDeps, opts ...SyncServiceOption) *SyncService {
	s := &SyncService{
		queues:         deps.Queues,
		items:          deps.Items,
		upserter:       deps.Upserter,
		activity:       deps.Activity,
		platforms:      deps.Platforms,
		resilience:     deps.Resilience,
		idempotencyTTL: 24 * time.Hour,
		defaults:       integration.DefaultSyncConfig(),
		listPageSize:   defaultListPageSize,
		idleWait:       time.Second,
		clock:          resilience.SystemClock(),
		observer:       noopObserver{},
		notify:         func(uuid.UUID) {},
		logger:         zap.NewNop(),
		tracer:         otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ---------------------------------------------------------------------------
// start_sync
// ---------------------------------------------------------------------------

// StartSync validates the request, enumerates the records to sync and stores
// them as a new queue. Processing happens asynchronously on a worker.
func (s *SyncService) StartSync(ctx context.Context, in StartSyncInput) (result *StartSyncResult, err error) {
	ctx, span := s.tracer.Start(ctx, "sync.start", trace.WithAttributes(
		attribute.String("org_id", in.OrgID.String()),
		attribute.String("entity_type", in.EntityType.String()),
	))
	defer func() { endSpan(span, err) }()

	if in.OrgID == uuid.Nil {
		return nil, integration.ErrInvalidOrgID
	}
	if !in.EntityType.IsValid() {
		return nil, fmt.Errorf("%w: %q", integration.ErrInvalidEntityType, in.EntityType)
	}
	conn, err := s.resolveConnector(in.OrgID, in.ConnectorID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("connector_id", conn.ID))

	cfg := s.defaults.Merge(in.Config)
	queue, err := integration.NewSyncQueue(in.OrgID, conn.ID, in.EntityType, cfg, in.Filter)
	if err != nil {
		return nil, err
	}
	queue.IdempotencyKey = in.IdempotencyKey
	queue.CreatedBy = in.UserID

	log := logger.WithLogger(ctx, s.logger).With(
		zap.String("org_id", in.OrgID.String()),
		zap.String("connector_id", conn.ID),
		zap.String("entity_type", in.EntityType.String()),
	)

	if in.IdempotencyKey != "" {
		replay, claimed, cerr := s.claimIdempotencyKey(ctx, in.OrgID, in.IdempotencyKey)
		if cerr != nil {
			return nil, cerr
		}
		if replay != nil {
			log.Info("start replayed from idempotency key", zap.String("queue_id", replay.QueueID.String()))
			return replay, nil
		}
		if claimed {
			defer func() {
				if err != nil {
					s.releaseIdempotencyKey(in.OrgID, in.IdempotencyKey)
				}
			}()
		}
	}

	if active, err := s.queues.FindActive(ctx, in.OrgID, conn.ID, in.EntityType); err == nil {
		return nil, &ActiveSyncError{QueueID: active.ID}
	} else if !errors.Is(err, integration.ErrQueueNotFound) {
		return nil, err
	}

	platform, err := s.platforms.Platform(conn.ID)
	if err != nil {
		return nil, err
	}
	records, err := s.collect(ctx, conn.ID, platform, in.EntityType, in.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s records: %w", in.EntityType, err)
	}

	items := make([]*integration.SyncQueueItem, 0, len(records))
	for i, rec := range records {
		item, err := integration.NewSyncQueueItem(queue.ID, rec.ExternalID, rec.Raw)
		if err != nil {
			return nil, err
		}
		item.Position = i
		items = append(items, item)
	}

	if err := s.queues.Create(ctx, queue, items); err != nil {
		switch {
		case errors.Is(err, integration.ErrSyncAlreadyActive):
			if active, ferr := s.queues.FindActive(ctx, in.OrgID, conn.ID, in.EntityType); ferr == nil {
				return nil, &ActiveSyncError{QueueID: active.ID}
			}
		case errors.Is(err, integration.ErrDuplicateIdempotency):
			if prev, ferr := s.queues.FindByIdempotencyKey(ctx, in.OrgID, in.IdempotencyKey); ferr == nil {
				return &StartSyncResult{QueueID: prev.ID, Status: prev.Status, TotalItems: prev.Counts.Total, Replayed: true}, nil
			}
		}
		return nil, err
	}

	counts, err := s.queues.RefreshCounts(ctx, queue.ID)
	if err != nil {
		log.Warn("failed to refresh counters of new queue", zap.Error(err))
	}
	queue.ApplyCounts(counts)

	s.appendActivity(ctx,
		integration.NewQueueActivity(queue, integration.ActivityQueueCreated, integration.ActivityResultInfo,
			fmt.Sprintf("%s sync created for connector %s", in.EntityType, conn.ID)).
			WithUser(in.UserID).
			With("batch_size", cfg.BatchSize).
			With("max_retries", cfg.MaxRetries).
			With("filtered", !in.Filter.IsEmpty()),
		integration.NewQueueActivity(queue, integration.ActivityItemsEnqueued, integration.ActivityResultInfo,
			fmt.Sprintf("%d item(s) enqueued", len(items))).
			With("count", len(items)),
	)

	s.observer.QueueStarted(conn.ID, in.EntityType, len(items))
	log.Info("sync queue created",
		zap.String("queue_id", queue.ID.String()),
		zap.Int("items", len(items)),
	)
	s.notify(queue.ID)

	return &StartSyncResult{QueueID: queue.ID, Status: queue.Status, TotalItems: len(items)}, nil
}

// claimIdempotencyKey returns a replay result when the key belongs to an existing queue.
// claimed reports whether the key was newly claimed in the store.
func (s *SyncService) claimIdempotencyKey(ctx context.Context, orgID uuid.UUID, key string) (replay *StartSyncResult, claimed bool, err error) {
	held := false
	if s.idempotency != nil {
		ok, err := s.idempotency.Claim(ctx, idempotencyStoreKey(orgID, key), s.idempotencyTTL)
		switch {
		case err != nil:
			// the unique index on (org_id, idempotency_key) still protects us
			s.logger.Warn("idempotency store unavailable", zap.Error(err))
		case ok:
			return nil, true, nil
		default:
			held = true
		}
	}

	prev, err := s.queues.FindByIdempotencyKey(ctx, orgID, key)
	switch {
	case err == nil:
		return &StartSyncResult{QueueID: prev.ID, Status: prev.Status, TotalItems: prev.Counts.Total, Replayed: true}, false, nil
	case errors.Is(err, integration.ErrQueueNotFound):
		if !held {
			return nil, false, nil
		}
		// held by a start that is still enumerating
		return nil, false, integration.ErrDuplicateIdempotency
	default:
		return nil, false, err
	}
}

func (s *SyncService) releaseIdempotencyKey(orgID uuid.UUID, key string) {
	if s.idempotency == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.idempotency.Release(ctx, idempotencyStoreKey(orgID, key)); err != nil {
		s.logger.Warn("failed to release idempotency key", zap.Error(err))
	}
}

func idempotencyStoreKey(orgID uuid.UUID, key string) string {
	return orgID.String() + ":" + key
}

// resolveConnector returns the named connector, or the org's default one
func (s *SyncService) resolveConnector(orgID uuid.UUID, connectorID string) (*integration.Connector, error) {
	return resolveConnector(s.platforms, orgID, connectorID)
}

func resolveConnector(p integration.PlatformProvider, orgID uuid.UUID, connectorID string) (*integration.Connector, error) {
	if connectorID == "" {
		return p.DefaultConnector(orgID)
	}
	conn, err := p.Connector(connectorID)
	if err != nil {
		return nil, err
	}
	if conn.OrgID != orgID {
		return nil, fmt.Errorf("%w: %s", integration.ErrConnectorNotConfigured, connectorID)
	}
	return conn, nil
}

// collect enumerates the records selected by filter. Explicit ids are
// fetched one by one, an email is searched, otherwise every page is listed.
// Records are deduplicated by external id in first-seen order.
func (s *SyncService) collect(ctx context.Context, connectorID string, platform integration.ExternalPlatform, entityType integration.EntityType, filter integration.SyncFilter) ([]*integration.ExternalRecord, error) {
	caller := newPlatformCaller(s.resilience, connectorID, s.listRetryPolicy())
	seen := make(map[string]struct{})
	var out []*integration.ExternalRecord
	add := func(rec *integration.ExternalRecord) {
		if rec == nil || rec.ExternalID == "" {
			return
		}
		if _, dup := seen[rec.ExternalID]; dup {
			return
		}
		seen[rec.ExternalID] = struct{}{}
		out = append(out, rec)
	}

	if ids := filter.ExplicitIDs(); len(ids) > 0 {
		for _, id := range ids {
			var rec *integration.ExternalRecord
			err := caller.Do(ctx, func(ctx context.Context) error {
				var err error
				rec, err = platform.Fetch(ctx, entityType, id)
				return err
			})
			if errors.Is(err, integration.ErrPlatformEntityNotFound) || errors.Is(err, integration.ErrInvalidExternalID) {
				s.logger.Warn("selected record not found on platform",
					zap.String("connector_id", connectorID),
					zap.String("external_id", id),
				)
				continue
			}
			if err != nil {
				return nil, err
			}
			add(rec)
		}
		return out, nil
	}

	err := listAll(ctx, caller, platform, integration.PageQuery{
		EntityType: entityType,
		PageSize:   s.listPageSize,
		Search:     filter.Email,
	}, func(page *integration.Page) error {
		for _, rec := range page.Items {
			add(rec)
		}
		return nil
	})
	return out, err
}

func (s *SyncService) listRetryPolicy() resilience.RetryPolicy {
	return resilience.RetryPolicy{
		MaxRetries: s.defaults.MaxRetries,
		BaseDelay:  s.defaults.InitialBackoff,
		MaxDelay:   s.defaults.MaxBackoff,
		Multiplier: s.defaults.BackoffMultiplier,
		Clock:      s.clock,
	}
}

// ---------------------------------------------------------------------------
// get_status, activity log, list
// ---------------------------------------------------------------------------

// GetStatus returns the status snapshot of a queue
func (s *SyncService) GetStatus(ctx context.Context, orgID, queueID uuid.UUID) (*QueueStatusResponse, error) {
	q, err := s.loadQueue(ctx, orgID, queueID)
	if err != nil {
		return nil, err
	}
	resp := ToQueueStatusResponse(q)
	return &resp, nil
}

// ActivityLog returns the newest activity entries of a queue
func (s *SyncService) ActivityLog(ctx context.Context, orgID, queueID uuid.UUID, limit int) ([]ActivityEntryResponse, error) {
	if _, err := s.loadQueue(ctx, orgID, queueID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = integration.DefaultActivityLogLimit
	}
	entries, err := s.activity.ListByQueue(ctx, queueID, limit)
	if err != nil {
		return nil, err
	}
	return ToActivityEntryResponses(entries), nil
}

// ListQueues lists the org's queues, newest first
func (s *SyncService) ListQueues(ctx context.Context, filter integration.QueueListFilter) ([]QueueStatusResponse, int64, error) {
	if filter.OrgID == uuid.Nil {
		return nil, 0, integration.ErrInvalidOrgID
	}
	queues, total, err := s.queues.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	out := make([]QueueStatusResponse, 0, len(queues))
	for _, q := range queues {
		out = append(out, ToQueueStatusResponse(q))
	}
	return out, total, nil
}

// loadQueue finds a queue and hides queues of other orgs
func (s *SyncService) loadQueue(ctx context.Context, orgID, queueID uuid.UUID) (*integration.SyncQueue, error) {
	q, err := s.queues.FindByID(ctx, queueID)
	if err != nil {
		return nil, err
	}
	if orgID != uuid.Nil && q.OrgID != orgID {
		return nil, integration.ErrQueueNotFound
	}
	return q, nil
}

// ---------------------------------------------------------------------------
// force_done, pause, resume
// ---------------------------------------------------------------------------

// ForceDone marks a queue completed without touching its items. A running
// worker stops before its next batch.
func (s *SyncService) ForceDone(ctx context.Context, in ForceDoneInput) (*QueueStatusResponse, error) {
	q, err := s.loadQueue(ctx, in.OrgID, in.QueueID)
	if err != nil {
		return nil, err
	}
	if q.Status == integration.QueueStatusCompleted {
		resp := ToQueueStatusResponse(q)
		return &resp, nil
	}

	err = s.mutateQueue(ctx, q, func(q *integration.SyncQueue) error {
		q.ForceDone(in.UserID, s.clock.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.appendActivity(ctx, integration.NewQueueActivity(q, integration.ActivityQueueForceDone, integration.ActivityResultWarning,
		fmt.Sprintf("queue force completed with %d of %d item(s) processed", q.Counts.Processed, q.Counts.Total)).
		WithUser(in.UserID))
	s.observer.QueueFinished(q.ConnectorID, q.EntityType, q.Status)

	s.logger.Info("sync queue force completed",
		zap.String("queue_id", q.ID.String()),
		zap.Int("processed", q.Counts.Processed),
		zap.Int("total", q.Counts.Total),
	)
	resp := ToQueueStatusResponse(q)
	return &resp, nil
}

// Pause stops a queue before its next batch
func (s *SyncService) Pause(ctx context.Context, in QueueActionInput) (*QueueStatusResponse, error) {
	q, err := s.loadQueue(ctx, in.OrgID, in.QueueID)
	if err != nil {
		return nil, err
	}
	if err := s.mutateQueue(ctx, q, func(q *integration.SyncQueue) error {
		return q.Pause(s.clock.Now())
	}); err != nil {
		return nil, err
	}
	s.appendActivity(ctx, integration.NewQueueActivity(q, integration.ActivityQueuePaused, integration.ActivityResultInfo, "queue paused").
		WithUser(in.UserID))
	resp := ToQueueStatusResponse(q)
	return &resp, nil
}

// Resume makes a paused queue runnable again
func (s *SyncService) Resume(ctx context.Context, in QueueActionInput) (*QueueStatusResponse, error) {
	q, err := s.loadQueue(ctx, in.OrgID, in.QueueID)
	if err != nil {
		return nil, err
	}
	if err := s.mutateQueue(ctx, q, func(q *integration.SyncQueue) error {
		return q.Resume(s.clock.Now())
	}); err != nil {
		return nil, err
	}
	s.appendActivity(ctx, integration.NewQueueActivity(q, integration.ActivityQueueResumed, integration.ActivityResultInfo, "queue resumed").
		WithUser(in.UserID))
	s.notify(q.ID)
	resp := ToQueueStatusResponse(q)
	return &resp, nil
}

// mutateQueue applies fn and saves the queue conditionally on its previous
// status. A concurrent status change is retried once against fresh state.
func (s *SyncService) mutateQueue(ctx context.Context, q *integration.SyncQueue, fn func(q *integration.SyncQueue) error) error {
	for attempt := 0; ; attempt++ {
		from := q.Status
		if err := fn(q); err != nil {
			return err
		}
		err := s.queues.Save(ctx, q, from)
		if err == nil || !errors.Is(err, integration.ErrQueueStatusChanged) || attempt > 0 {
			return err
		}
		fresh, ferr := s.queues.FindByID(ctx, q.ID)
		if ferr != nil {
			return ferr
		}
		*q = *fresh
	}
}

// ---------------------------------------------------------------------------
// retry_failed
// ---------------------------------------------------------------------------

// RetryFailed requeues failed items that still have budget, or every failed
// item with a fresh budget when IncludeDeadLettered is set, and reopens the queue.
// With nothing eligible the queue is left as is and its status returned.
func (s *SyncService) RetryFailed(ctx context.Context, in RetryFailedInput) (*QueueStatusResponse, error) {
	q, err := s.loadQueue(ctx, in.OrgID, in.QueueID)
	if err != nil {
		return nil, err
	}
	if q.ForceCompleted {
		return nil, integration.ErrQueueForceCompleted
	}

	requeued, err := s.items.RequeueFailed(ctx, q.ID, q.Config.MaxRetries, in.IncludeDeadLettered)
	if err != nil {
		return nil, err
	}
	if requeued == 0 {
		resp := ToQueueStatusResponse(q)
		return &resp, nil
	}

	if err := s.mutateQueue(ctx, q, func(q *integration.SyncQueue) error {
		return q.Reopen(s.clock.Now())
	}); err != nil {
		return nil, err
	}

	counts, err := s.queues.RefreshCounts(ctx, q.ID)
	if err != nil {
		return nil, err
	}
	q.ApplyCounts(counts)

	s.appendActivity(ctx, integration.NewQueueActivity(q, integration.ActivityItemsRequeued, integration.ActivityResultInfo,
		fmt.Sprintf("%d failed item(s) requeued", requeued)).
		WithUser(in.UserID).
		With("count", requeued).
		With("include_dead_lettered", in.IncludeDeadLettered))

	s.logger.Info("failed items requeued",
		zap.String("queue_id", q.ID.String()),
		zap.Int64("requeued", requeued),
		zap.Bool("include_dead_lettered", in.IncludeDeadLettered),
	)
	s.notify(q.ID)

	resp := ToQueueStatusResponse(q)
	return &resp, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// appendActivity writes audit rows. Failures are logged, never returned.
func (s *SyncService) appendActivity(ctx context.Context, entries ...*integration.ActivityLogEntry) {
	for _, e := range entries {
		e.CreatedAt = s.clock.Now()
	}
	if err := s.activity.Append(context.WithoutCancel(ctx), entries...); err != nil {
		s.logger.Warn("failed to write activity log", zap.Error(err), zap.Int("entries", len(entries)))
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
