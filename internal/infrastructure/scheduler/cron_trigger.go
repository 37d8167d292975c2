package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	appintegration "github.com/erp/syncengine/internal/application/integration"
	"github.com/erp/syncengine/internal/domain/integration"
)

// SyncStarter starts a sync queue
type SyncStarter interface {
	StartSync(ctx context.Context, in appintegration.StartSyncInput) (*appintegration.StartSyncResult, error)
}

// ConnectorLister lists the configured connectors
type ConnectorLister interface {
	Connectors() []*integration.Connector
}

// CronTriggerConfig holds configuration for the cron trigger
type CronTriggerConfig struct {
	// Entries maps an entity type to a cron spec (standard five fields or a
	// descriptor such as "@every 6h")
	Entries map[integration.EntityType]string

	// JobTimeout bounds one scheduled start across all connectors
	JobTimeout time.Duration

	// Location is the time zone specs are evaluated in; UTC when nil
	Location *time.Location
}

// DefaultCronTriggerConfig returns default cron trigger configuration
func DefaultCronTriggerConfig() CronTriggerConfig {
	return CronTriggerConfig{
		Entries:    map[integration.EntityType]string{},
		JobTimeout: 5 * time.Minute,
	}
}

// CronTrigger starts syncs on a schedule for every configured connector.
// Each firing uses an idempotency key derived from the connector, entity
// type and scheduled minute, so replicas firing the same entry start one queue.
type CronTrigger struct {
	config     CronTriggerConfig
	starter    SyncStarter
	connectors ConnectorLister
	logger     *zap.Logger

	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	isRunning bool
}

// NewCronTrigger creates a new cron trigger and registers its entries
func NewCronTrigger(
	config CronTriggerConfig,
	starter SyncStarter,
	connectors ConnectorLister,
	logger *zap.Logger,
) (*CronTrigger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = DefaultCronTriggerConfig().JobTimeout
	}
	loc := config.Location
	if loc == nil {
		loc = time.UTC
	}

	c := &CronTrigger{
		config:     config,
		starter:    starter,
		connectors: connectors,
		logger:     logger,
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	c.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	// register in a stable order so entry ids are deterministic
	entityTypes := make([]integration.EntityType, 0, len(config.Entries))
	for et := range config.Entries {
		entityTypes = append(entityTypes, et)
	}
	sort.Slice(entityTypes, func(i, j int) bool { return entityTypes[i] < entityTypes[j] })

	for _, et := range entityTypes {
		spec := config.Entries[et]
		if !et.IsValid() {
			return nil, fmt.Errorf("%w: %q", integration.ErrInvalidEntityType, et)
		}
		if _, err := c.cron.AddFunc(spec, func() { c.fire(et) }); err != nil {
			return nil, fmt.Errorf("%w: %s %q: %v", ErrInvalidCronSpec, et, spec, err)
		}
	}
	return c, nil
}

// Start starts the cron trigger
func (c *CronTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isRunning {
		return nil
	}
	c.isRunning = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.cron.Start()

	c.logger.Info("Cron trigger started", zap.Int("entries", len(c.cron.Entries())))
	return nil
}

// Stop stops the cron trigger and waits for running starts
func (c *CronTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	done := c.cron.Stop().Done()

	select {
	case <-done:
		c.logger.Info("Cron trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextRuns returns the next scheduled time per entity type
func (c *CronTrigger) NextRuns() map[integration.EntityType]time.Time {
	out := make(map[integration.EntityType]time.Time, len(c.config.Entries))
	now := time.Now().In(c.cron.Location())
	for et, spec := range c.config.Entries {
		s, err := cron.ParseStandard(spec)
		if err != nil {
			continue
		}
		out[et] = s.Next(now)
	}
	return out
}

func (c *CronTrigger) fire(et integration.EntityType) {
	c.mu.Lock()
	parent := c.ctx
	c.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	c.TriggerNow(parent, et, time.Now())
}

// TriggerNow starts a sync of et on every connector as if the schedule fired at scheduledAt
func (c *CronTrigger) TriggerNow(ctx context.Context, et integration.EntityType, scheduledAt time.Time) {
	ctx, cancel := context.WithTimeout(ctx, c.config.JobTimeout)
	defer cancel()

	slot := scheduledAt.UTC().Truncate(time.Minute).Unix()
	for _, conn := range c.connectors.Connectors() {
		logger := c.logger.With(
			zap.String("org_id", conn.OrgID.String()),
			zap.String("connector_id", conn.ID),
			zap.String("entity_type", et.String()),
		)
		res, err := c.starter.StartSync(ctx, appintegration.StartSyncInput{
			OrgID:          conn.OrgID,
			ConnectorID:    conn.ID,
			EntityType:     et,
			IdempotencyKey: fmt.Sprintf("cron:%s:%s:%d", conn.ID, et, slot),
		})
		switch {
		case err == nil && res.Replayed:
			logger.Debug("Scheduled sync already started", zap.String("queue_id", res.QueueID.String()))
		case err == nil:
			logger.Info("Scheduled sync started",
				zap.String("queue_id", res.QueueID.String()),
				zap.Int("total_items", res.TotalItems),
			)
		case errors.Is(err, integration.ErrSyncAlreadyActive):
			logger.Info("Scheduled sync skipped, a sync is already active", zap.Error(err))
		default:
			logger.Error("Failed to start scheduled sync", zap.Error(err))
		}
	}
}
