package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/resilience"
)

// defaultPreviewComputeTimeout bounds a preview computation shared by collapsed callers
const defaultPreviewComputeTimeout = 5 * time.Minute

// PreviewServiceDeps are the collaborators of PreviewService. Cache is optional.
type PreviewServiceDeps struct {
	Mappings   integration.IntegrationMappingRepository
	Previews   integration.PreviewRepository
	Cache      integration.PreviewCache
	Platforms  integration.PlatformProvider
	Resilience *resilience.Registry
}

// PreviewService computes and caches delta previews: which remote records
// would be created and which would update an existing internal record.
type PreviewService struct {
	mappings   integration.IntegrationMappingRepository
	previews   integration.PreviewRepository
	cache      integration.PreviewCache
	platforms  integration.PlatformProvider
	resilience *resilience.Registry

	ttl            time.Duration
	pageSize       int
	computeTimeout time.Duration
	retry          integration.SyncConfig
	clock          resilience.Clock
	observer       SyncObserver
	logger         *zap.Logger
	tracer         trace.Tracer
	flight         singleflight.Group
}

// PreviewOption configures a PreviewService
type PreviewOption func(*PreviewService)

// WithPreviewTTL sets how long a computed snapshot is served
func WithPreviewTTL(ttl time.Duration) PreviewOption {
	return func(s *PreviewService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithPreviewComputeTimeout bounds one computation from the platform. The
// computation is shared by every concurrent caller of the same key, so it
// does not end when the caller that started it goes away.
func WithPreviewComputeTimeout(d time.Duration) PreviewOption {
	return func(s *PreviewService) {
		if d > 0 {
			s.computeTimeout = d
		}
	}
}

// WithPreviewPageSize sets the page size used to list the remote collection
func WithPreviewPageSize(n int) PreviewOption {
	return func(s *PreviewService) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithPreviewRetry sets the retry budget and backoff of listing calls
func WithPreviewRetry(cfg integration.SyncConfig) PreviewOption {
	return func(s *PreviewService) {
		s.retry = cfg
	}
}

// WithPreviewClock sets the clock
func WithPreviewClock(c resilience.Clock) PreviewOption {
	return func(s *PreviewService) {
		s.clock = c
	}
}

// WithPreviewObserver sets the metrics observer
func WithPreviewObserver(o SyncObserver) PreviewOption {
	return func(s *PreviewService) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithPreviewLogger sets the logger
func WithPreviewLogger(l *zap.Logger) PreviewOption {
	return func(s *PreviewService) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewPreviewService creates a PreviewService
func NewPreviewService(deps PreviewServiceDeps, opts ...PreviewOption) *PreviewService {
	s := &PreviewService{
		mappings:       deps.Mappings,
		previews:       deps.Previews,
		cache:          deps.Cache,
		platforms:      deps.Platforms,
		resilience:     deps.Resilience,
		ttl:            integration.DefaultPreviewTTL,
		pageSize:       defaultListPageSize,
		computeTimeout: defaultPreviewComputeTimeout,
		retry:          integration.DefaultSyncConfig(),
		clock:          resilience.SystemClock(),
		observer:       noopObserver{},
		logger:         zap.NewNop(),
		tracer:         otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Preview returns the delta preview of one entity type. A fresh snapshot is
// served from the cache, then from the database; otherwise it is computed
// from the platform. Concurrent computations of the same key are collapsed.
func (s *PreviewService) Preview(ctx context.Context, in PreviewInput) (result *PreviewResult, err error) {
	ctx, span := s.tracer.Start(ctx, "sync.preview", trace.WithAttributes(
		attribute.String("org_id", in.OrgID.String()),
		attribute.String("entity_type", in.EntityType.String()),
		attribute.Bool("force_refresh", in.ForceRefresh),
	))
	defer func() { endSpan(span, err) }()

	if in.OrgID == uuid.Nil {
		return nil, integration.ErrInvalidOrgID
	}
	if !in.EntityType.IsValid() {
		return nil, fmt.Errorf("%w: %q", integration.ErrInvalidEntityType, in.EntityType)
	}
	conn, err := resolveConnector(s.platforms, in.OrgID, in.ConnectorID)
	if err != nil {
		return nil, err
	}
	key := integration.PreviewKey{OrgID: in.OrgID, SyncType: conn.Platform.String(), EntityType: in.EntityType}

	if !in.ForceRefresh {
		if snap, source := s.lookup(ctx, key); snap != nil {
			span.SetAttributes(attribute.String("source", source))
			return toPreviewResult(snap, source), nil
		}
	}

	ch := s.flight.DoChan(flightKey(conn.ID, key), func() (any, error) {
		computeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.computeTimeout)
		defer cancel()
		return s.compute(computeCtx, conn, key)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		span.SetAttributes(attribute.Bool("shared", res.Shared))
		return toPreviewResult(res.Val.(*integration.PreviewSnapshot), PreviewSourcePlatform), nil
	}
}

// lookup returns a fresh stored snapshot and where it came from
func (s *PreviewService) lookup(ctx context.Context, key integration.PreviewKey) (*integration.PreviewSnapshot, string) {
	now := s.clock.Now()
	if s.cache != nil {
		snap, err := s.cache.Get(ctx, key)
		switch {
		case err == nil && snap.IsFresh(now):
			return snap, PreviewSourceCache
		case err != nil && !errors.Is(err, integration.ErrPreviewNotFound):
			s.logger.Warn("preview cache read failed", zap.Error(err))
		}
	}

	snap, err := s.previews.Find(ctx, key)
	if err != nil {
		if !errors.Is(err, integration.ErrPreviewNotFound) {
			s.logger.Warn("preview lookup failed", zap.Error(err))
		}
		return nil, ""
	}
	if !snap.IsFresh(now) {
		return nil, ""
	}
	s.warmCache(ctx, snap)
	return snap, PreviewSourceDatabase
}

// compute lists the whole remote collection and classifies it against the
// existing mappings page by page
func (s *PreviewService) compute(ctx context.Context, conn *integration.Connector, key integration.PreviewKey) (*integration.PreviewSnapshot, error) {
	start := s.clock.Now()
	platform, err := s.platforms.Platform(conn.ID)
	if err != nil {
		return nil, err
	}

	caller := newPlatformCaller(s.resilience, conn.ID, resilience.RetryPolicy{
		MaxRetries: s.retry.MaxRetries,
		BaseDelay:  s.retry.InitialBackoff,
		MaxDelay:   s.retry.MaxBackoff,
		Multiplier: s.retry.BackoffMultiplier,
		Clock:      s.clock,
	})
	snap := integration.NewPreviewSnapshot(key, conn.ID, s.ttl, start)

	err = listAll(ctx, caller, platform, integration.PageQuery{
		EntityType: key.EntityType,
		PageSize:   s.pageSize,
	}, func(page *integration.Page) error {
		if len(page.Items) == 0 {
			return nil
		}
		ids := make([]string, 0, len(page.Items))
		for _, rec := range page.Items {
			ids = append(ids, rec.ExternalID)
		}
		mappings, err := s.mappings.FindByExternalIDs(ctx, conn.ID, key.EntityType, ids)
		if err != nil {
			return fmt.Errorf("failed to look up mappings: %w", err)
		}
		for _, rec := range page.Items {
			snap.Add(rec, mappings[rec.ExternalID])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.previews.Save(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to store preview: %w", err)
	}
	s.warmCache(ctx, snap)

	elapsed := s.clock.Now().Sub(start)
	s.observer.PreviewComputed(conn.ID, key.EntityType, snap.Total(), elapsed)
	s.logger.Info("preview computed",
		zap.String("connector_id", conn.ID),
		zap.String("entity_type", key.EntityType.String()),
		zap.Int("new", snap.NewCount),
		zap.Int("updated", snap.UpdatedCount),
		zap.Duration("elapsed", elapsed),
	)
	return snap, nil
}

func (s *PreviewService) warmCache(ctx context.Context, snap *integration.PreviewSnapshot) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, snap); err != nil {
		s.logger.Warn("preview cache write failed", zap.Error(err))
	}
}

func flightKey(connectorID string, key integration.PreviewKey) string {
	return fmt.Sprintf("%s|%s|%s|%s", key.OrgID, key.SyncType, connectorID, key.EntityType)
}
