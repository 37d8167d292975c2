package integration

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/erp/syncengine/internal/domain/integration"
)

// defaultBulkConcurrency bounds how many entity types a bulk start handles at once
const defaultBulkConcurrency = 4

// BulkService fans a bulk start out over several entity types. Queue-based
// types start a sync, the others refresh their delta preview.
type BulkService struct {
	syncs       *SyncService
	previews    *PreviewService
	concurrency int
	logger      *zap.Logger
}

// BulkOption configures a BulkService
type BulkOption func(*BulkService)

// WithBulkConcurrency sets how many entity types run in parallel
func WithBulkConcurrency(n int) BulkOption {
	return func(s *BulkService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithBulkLogger sets the logger
func WithBulkLogger(l *zap.Logger) BulkOption {
	return func(s *BulkService) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewBulkService creates a BulkService
func NewBulkService(syncs *SyncService, previews *PreviewService, opts ...BulkOption) *BulkService {
	s := &BulkService{
		syncs:       syncs,
		previews:    previews,
		concurrency: defaultBulkConcurrency,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BulkStart handles every requested entity type and reports the outcome of
// each in request order. A failing entity type does not stop the others.
func (s *BulkService) BulkStart(ctx context.Context, in BulkStartInput) (*BulkStartResult, error) {
	if len(in.EntityTypes) == 0 {
		return nil, fmt.Errorf("%w: no entity types", integration.ErrInvalidEntityType)
	}
	conn, err := resolveConnector(s.syncs.platforms, in.OrgID, in.ConnectorID)
	if err != nil {
		return nil, err
	}

	results := make([]BulkEntityResult, len(in.EntityTypes))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, et := range in.EntityTypes {
		g.Go(func() error {
			results[i] = s.startOne(ctx, conn.ID, et, in)
			return nil
		})
	}
	_ = g.Wait()

	return &BulkStartResult{ConnectorID: conn.ID, Results: results}, nil
}

func (s *BulkService) startOne(ctx context.Context, connectorID string, et integration.EntityType, in BulkStartInput) BulkEntityResult {
	res := BulkEntityResult{EntityType: et}
	fail := func(err error) BulkEntityResult {
		de := DomainErrorFor(err)
		res.Status = BulkStatusError
		res.Error = &BulkEntityError{Code: de.Code, Message: de.Message}
		s.logger.Warn("bulk start entity failed",
			zap.String("connector_id", connectorID),
			zap.String("entity_type", et.String()),
			zap.Error(err),
		)
		return res
	}

	if !et.IsValid() {
		return fail(fmt.Errorf("%w: %q", integration.ErrInvalidEntityType, et))
	}

	if et.UsesQueue() {
		started, err := s.syncs.StartSync(ctx, StartSyncInput{
			OrgID:       in.OrgID,
			ConnectorID: connectorID,
			EntityType:  et,
			Config:      in.Config,
			UserID:      in.UserID,
		})
		if err != nil {
			return fail(err)
		}
		res.QueueID = &started.QueueID
		res.Status = started.Status.String()
		return res
	}

	preview, err := s.previews.Preview(ctx, PreviewInput{
		OrgID:       in.OrgID,
		ConnectorID: connectorID,
		EntityType:  et,
	})
	if err != nil {
		return fail(err)
	}
	count := preview.TotalCount
	res.CachedCount = &count
	res.Status = BulkStatusCached
	return res
}
