package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/syncengine/internal/domain/integration"
)

// QueueProcessor drives one sync queue until it drains, stops or fails
type QueueProcessor interface {
	ProcessQueue(ctx context.Context, queueID uuid.UUID) error
}

// LeaseStore claims runnable queues and maintains their leases
type LeaseStore interface {
	ClaimRunnable(ctx context.Context, owner string, ttl time.Duration, limit int) ([]*integration.SyncQueue, error)
	RenewLease(ctx context.Context, queueID uuid.UUID, owner string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, queueID uuid.UUID, owner string) error
}

// ItemRecoverer returns items abandoned in processing to pending
type ItemRecoverer interface {
	RecoverProcessing(ctx context.Context, queueID uuid.UUID) (int64, error)
}

// WorkerConfig holds SyncWorker configuration
type WorkerConfig struct {
	// WorkerID identifies this process as lease owner
	WorkerID string
	// PollInterval is how often the worker looks for runnable queues when not triggered
	PollInterval time.Duration
	// LeaseTTL is how long a claim stays valid without a heartbeat
	LeaseTTL time.Duration
	// MaxConcurrentQueues bounds how many queues this process drives at once
	MaxConcurrentQueues int
}

// DefaultWorkerConfig returns default worker configuration
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		WorkerID:            "worker-" + uuid.NewString()[:8],
		PollInterval:        5 * time.Second,
		LeaseTTL:            2 * time.Minute,
		MaxConcurrentQueues: 4,
	}
}

// Validate checks the configuration
func (c WorkerConfig) Validate() error {
	if c.WorkerID == "" {
		return fmt.Errorf("%w: worker id is required", ErrInvalidConfig)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	}
	if c.LeaseTTL <= c.PollInterval {
		return fmt.Errorf("%w: lease ttl must exceed poll interval", ErrInvalidConfig)
	}
	if c.MaxConcurrentQueues < 1 {
		return fmt.Errorf("%w: max concurrent queues must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// SyncWorker claims runnable sync queues through a persisted lease and
// processes them. A crashed worker's queues become claimable again once
// their lease expires; items it left in processing are recovered on claim.
type SyncWorker struct {
	config    WorkerConfig
	leases    LeaseStore
	items     ItemRecoverer
	processor QueueProcessor
	logger    *zap.Logger

	wake      chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	active    map[uuid.UUID]struct{}
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(
	config WorkerConfig,
	leases LeaseStore,
	items ItemRecoverer,
	processor QueueProcessor,
	logger *zap.Logger,
) (*SyncWorker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncWorker{
		config:    config,
		leases:    leases,
		items:     items,
		processor: processor,
		logger:    logger.With(zap.String("worker_id", config.WorkerID)),
		wake:      make(chan struct{}, 1),
		active:    make(map[uuid.UUID]struct{}),
	}, nil
}

// Start starts the poll loop
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = true
	w.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.pollLoop(ctx)

	w.logger.Info("Sync worker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Duration("lease_ttl", w.config.LeaseTTL),
		zap.Int("max_concurrent_queues", w.config.MaxConcurrentQueues),
	)
	return nil
}

// Stop cancels in-flight processing and waits for leases to be released
func (w *SyncWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Sync worker stopped gracefully")
		return nil
	case <-ctx.Done():
		w.logger.Warn("Sync worker stop timed out")
		return ctx.Err()
	}
}

// Trigger asks the worker to look for runnable queues now instead of
// waiting for the next poll. It never blocks.
func (w *SyncWorker) Trigger() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// NotifyEnqueued is an enqueue notifier for the sync service
func (w *SyncWorker) NotifyEnqueued(queueID uuid.UUID) {
	w.logger.Debug("Queue enqueued", zap.String("queue_id", queueID.String()))
	w.Trigger()
}

// ActiveQueues returns the ids of the queues this worker is processing
func (w *SyncWorker) ActiveQueues() []uuid.UUID {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(w.active))
	for id := range w.active {
		ids = append(ids, id)
	}
	return ids
}

func (w *SyncWorker) pollLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.claimAndRun(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}
		w.claimAndRun(ctx)
	}
}

// claimAndRun leases as many runnable queues as there are free slots and
// starts a goroutine for each
func (w *SyncWorker) claimAndRun(ctx context.Context) {
	w.mu.Lock()
	free := w.config.MaxConcurrentQueues - len(w.active)
	w.mu.Unlock()
	if free <= 0 {
		return
	}

	queues, err := w.leases.ClaimRunnable(ctx, w.config.WorkerID, w.config.LeaseTTL, free)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("Failed to claim runnable queues", zap.Error(err))
		}
		return
	}

	for _, q := range queues {
		w.mu.Lock()
		if _, running := w.active[q.ID]; running {
			w.mu.Unlock()
			continue
		}
		w.active[q.ID] = struct{}{}
		w.mu.Unlock()

		w.wg.Add(1)
		go w.runQueue(ctx, q)
	}
}

// runQueue processes one leased queue while a heartbeat keeps the lease alive.
// Losing the lease cancels processing.
func (w *SyncWorker) runQueue(ctx context.Context, q *integration.SyncQueue) {
	defer w.wg.Done()
	defer func() {
		w.mu.Lock()
		delete(w.active, q.ID)
		w.mu.Unlock()
		// a queue that still has work may be claimable right away
		w.Trigger()
	}()

	logger := w.logger.With(
		zap.String("queue_id", q.ID.String()),
		zap.String("org_id", q.OrgID.String()),
		zap.String("entity_type", q.EntityType.String()),
	)

	procCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	recovered, err := w.items.RecoverProcessing(procCtx, q.ID)
	if err != nil {
		logger.Error("Failed to recover abandoned items", zap.Error(err))
	} else if recovered > 0 {
		logger.Info("Recovered abandoned items", zap.Int64("count", recovered))
	}

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		w.heartbeat(procCtx, cancel, q.ID, logger)
	}()

	start := time.Now()
	logger.Info("Processing queue")
	if err := w.processor.ProcessQueue(procCtx, q.ID); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Queue processing failed", zap.Error(err))
	} else {
		logger.Info("Queue processing stopped", zap.Duration("elapsed", time.Since(start)))
	}

	cancel()
	<-heartbeatDone

	releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer releaseCancel()
	if err := w.leases.ReleaseLease(releaseCtx, q.ID, w.config.WorkerID); err != nil {
		logger.Warn("Failed to release lease", zap.Error(err))
	}
}

func (w *SyncWorker) heartbeat(ctx context.Context, cancel context.CancelFunc, queueID uuid.UUID, logger *zap.Logger) {
	interval := w.config.LeaseTTL / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.leases.RenewLease(ctx, queueID, w.config.WorkerID, w.config.LeaseTTL)
			switch {
			case err == nil:
			case errors.Is(err, integration.ErrQueueLeaseLost):
				logger.Warn("Lease lost, abandoning queue")
				cancel()
				return
			case ctx.Err() != nil:
				return
			default:
				// transient; the lease is still valid until it expires
				logger.Warn("Failed to renew lease", zap.Error(err))
			}
		}
	}
}
