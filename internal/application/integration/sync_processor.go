package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/resilience"
)

// minLimiterRetry is the shortest deferral after the shared limiter was unreachable
const minLimiterRetry = time.Second

// ProcessQueue runs the batches of a queue until no item is left, the queue
// stops being running (pause, force-done) or ctx ends. A created queue is
// started first. Fatal platform errors fail the queue.
func (s *SyncService) ProcessQueue(ctx context.Context, queueID uuid.UUID) (err error) {
	ctx, span := s.tracer.Start(ctx, "sync.process_queue", trace.WithAttributes(
		attribute.String("queue_id", queueID.String()),
	))
	defer func() { endSpan(span, err) }()

	q, err := s.queues.FindByID(ctx, queueID)
	if err != nil {
		return err
	}
	if !q.IsRunnable() {
		return nil
	}
	log := s.logger.With(
		zap.String("queue_id", q.ID.String()),
		zap.String("connector_id", q.ConnectorID),
		zap.String("entity_type", q.EntityType.String()),
	)

	if q.Status == integration.QueueStatusCreated {
		err := s.mutateQueue(ctx, q, func(q *integration.SyncQueue) error {
			return q.Start(s.clock.Now())
		})
		if errors.Is(err, integration.ErrQueueInvalidTransition) {
			return nil
		}
		if err != nil {
			return err
		}
		s.appendActivity(ctx, integration.NewQueueActivity(q, integration.ActivityQueueStarted, integration.ActivityResultInfo, "queue processing started"))
		log.Info("sync queue started", zap.Int("items", q.Counts.Total))
	}

	platform, err := s.platforms.Platform(q.ConnectorID)
	if err != nil {
		return s.failQueue(ctx, q, err)
	}

	delay := false
	for batch := 1; ; {
		if err := ctx.Err(); err != nil {
			return err
		}
		if delay && q.Config.BatchDelay > 0 {
			if err := s.clock.Sleep(ctx, q.Config.BatchDelay); err != nil {
				return err
			}
		}
		delay = false

		q, err = s.queues.FindByID(ctx, queueID)
		if err != nil {
			return err
		}
		if q.Status != integration.QueueStatusRunning {
			log.Info("sync queue stopped", zap.String("status", q.Status.String()))
			return nil
		}

		items, err := s.items.ClaimBatch(ctx, q.ID, q.Config.BatchSize, s.clock.Now())
		if err != nil {
			return err
		}
		if len(items) == 0 {
			done, err := s.finishIfDrained(ctx, q)
			if err != nil || done {
				return err
			}
			if err := s.waitForDueItems(ctx, q.ID); err != nil {
				return err
			}
			continue
		}

		log.Debug("processing batch", zap.Int("batch", batch), zap.Int("size", len(items)))
		fatal := s.processBatch(ctx, q, platform, items)
		delay = true
		batch++

		if counts, err := s.queues.RefreshCounts(context.WithoutCancel(ctx), q.ID); err == nil {
			q.ApplyCounts(counts)
			delay = counts.Outstanding() > 0
		} else {
			log.Warn("failed to refresh counters", zap.Error(err))
		}
		if fatal != nil {
			return s.failQueue(ctx, q, fatal)
		}
	}
}

// processBatch runs every claimed item concurrently and returns the first fatal error
func (s *SyncService) processBatch(ctx context.Context, q *integration.SyncQueue, platform integration.ExternalPlatform, items []*integration.SyncQueueItem) error {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, "sync.batch", trace.WithAttributes(
		attribute.String("queue_id", q.ID.String()),
		attribute.Int("size", len(items)),
	))
	defer span.End()

	var (
		mu    sync.Mutex
		fatal error
	)
	// items fail independently, so the group carries no shared cancellation
	var g errgroup.Group
	g.SetLimit(q.Config.BatchSize)
	for _, item := range items {
		g.Go(func() error {
			if err := s.processItem(ctx, q, platform, item); err != nil {
				mu.Lock()
				if fatal == nil {
					fatal = err
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	s.observer.BatchProcessed(q.ConnectorID, q.EntityType, len(items), s.clock.Now().Sub(start))
	return fatal
}

// processItem takes one claimed item through limiter, breaker and retry
// helper, then records the outcome. Only fatal errors are returned.
func (s *SyncService) processItem(ctx context.Context, q *integration.SyncQueue, platform integration.ExternalPlatform, item *integration.SyncQueueItem) error {
	start := s.clock.Now()
	maxAttempts := q.Config.MaxAttempts()
	limiter := s.resilience.Limiter(q.ConnectorID)
	breaker := s.resilience.Breaker(q.ConnectorID)

	var result *integration.UpsertResult
	policy := resilience.RetryPolicy{
		MaxRetries: maxAttempts - item.AttemptCount - 1,
		BaseDelay:  q.Config.InitialBackoff,
		MaxDelay:   q.Config.MaxBackoff,
		Multiplier: q.Config.BackoffMultiplier,
		Clock:      s.clock,
		OnRetry: func(ctx context.Context, _ int, err error, delay time.Duration) error {
			if ctx.Err() != nil {
				return err
			}
			rateLimited := resilience.IsRateLimitError(err)
			item.ScheduleRetry(err.Error(), s.clock.Now().Add(delay))
			s.saveItem(ctx, item)
			s.appendActivity(ctx, integration.NewItemActivity(q, item, integration.ActivityItemAttemptFailed, integration.ActivityResultWarning, err.Error()).
				With("retry_in_ms", delay.Milliseconds()).
				With("rate_limited", rateLimited))
			s.observer.ItemRetried(q.ConnectorID, q.EntityType, rateLimited)
			return nil
		},
	}

	var err error
	if policy.MaxRetries < 0 {
		err = integration.ErrItemRetryExhausted
	} else {
		err = resilience.Retry(ctx, policy, func(ctx context.Context, _ int) error {
			// an unreachable shared limiter ends the attempt here and defers the item below
			if err := limiter.Consume(ctx, 1); err != nil {
				return resilience.Permanent(err)
			}
			var ext *integration.ExternalRecord
			err := breaker.Execute(ctx, func(ctx context.Context) error {
				if err := item.RecordAttempt(maxAttempts, s.clock.Now()); err != nil {
					return resilience.Permanent(err)
				}
				var err error
				ext, err = platform.Fetch(ctx, q.EntityType, item.ExternalID)
				return err
			})
			if err != nil {
				return classify(err)
			}
			rec, err := integration.NewSyncedRecord(q.OrgID, ext)
			if err != nil {
				return resilience.Permanent(err)
			}
			result, err = s.upserter.Upsert(ctx, q.ConnectorID, rec)
			return classify(err)
		})
	}

	now := s.clock.Now()
	switch {
	case err == nil:
		if merr := item.MarkSucceeded(result.InternalID, result.Action, now); merr != nil {
			return nil
		}
		s.saveItem(ctx, item)
		outcome := string(result.Action)
		if result.Unchanged {
			outcome = OutcomeUnchanged
		}
		s.appendActivity(ctx, integration.NewItemActivity(q, item, integration.ActivityItemSynced, integration.ActivityResultSuccess,
			fmt.Sprintf("%s %s", q.EntityType, result.Action)).
			With("internal_id", result.InternalID.String()).
			With("sync_action", result.Action).
			With("unchanged", result.Unchanged))
		s.observer.ItemProcessed(q.ConnectorID, q.EntityType, outcome, now.Sub(start))

	case ctx.Err() != nil:
		// interrupted: hand the item back so the next run picks it up
		if merr := item.Defer(now, "", now); merr == nil {
			s.saveItem(ctx, item)
		}

	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrLimiterUnavailable):
		// the platform was never called for this attempt: no attempt is used
		retryAfter, ok := resilience.RetryAfterFrom(err)
		if !ok {
			retryAfter = max(q.Config.InitialBackoff, minLimiterRetry)
		}
		if merr := item.Defer(now.Add(retryAfter), err.Error(), now); merr != nil {
			return nil
		}
		s.saveItem(ctx, item)
		s.appendActivity(ctx, integration.NewItemActivity(q, item, integration.ActivityItemDeferred, integration.ActivityResultWarning, err.Error()).
			With("retry_in_ms", retryAfter.Milliseconds()).
			With("limiter_unavailable", errors.Is(err, resilience.ErrLimiterUnavailable)))
		s.observer.ItemProcessed(q.ConnectorID, q.EntityType, OutcomeDeferred, now.Sub(start))

	default:
		if merr := item.MarkFailed(err.Error(), now); merr != nil {
			return nil
		}
		s.saveItem(ctx, item)
		deadLettered := item.IsDeadLettered(q.Config.MaxRetries)
		s.appendActivity(ctx, integration.NewItemActivity(q, item, integration.ActivityItemFailed, integration.ActivityResultFailed, err.Error()).
			With("dead_lettered", deadLettered).
			With("permanent", isPermanentError(err)))
		s.observer.ItemProcessed(q.ConnectorID, q.EntityType, OutcomeFailed, now.Sub(start))
		s.logger.Warn("sync item failed",
			zap.String("queue_id", q.ID.String()),
			zap.String("external_id", item.ExternalID),
			zap.Int("attempts", item.AttemptCount),
			zap.Bool("dead_lettered", deadLettered),
			zap.Error(err),
		)
		if isFatalError(err) {
			return err
		}
	}
	return nil
}

// saveItem persists item state even when ctx was cancelled
func (s *SyncService) saveItem(ctx context.Context, item *integration.SyncQueueItem) {
	if err := s.items.Save(context.WithoutCancel(ctx), item); err != nil {
		s.logger.Error("failed to save sync item",
			zap.String("item_id", item.ID.String()),
			zap.String("status", item.Status.String()),
			zap.Error(err),
		)
	}
}

// finishIfDrained completes the queue when nothing is pending or processing
func (s *SyncService) finishIfDrained(ctx context.Context, q *integration.SyncQueue) (bool, error) {
	counts, err := s.queues.RefreshCounts(ctx, q.ID)
	if err != nil {
		return false, err
	}
	q.ApplyCounts(counts)
	if counts.Outstanding() > 0 {
		return false, nil
	}

	deadLettered, err := s.items.CountDeadLettered(ctx, q.ID, q.Config.MaxRetries)
	if err != nil {
		return false, err
	}
	err = s.mutateQueue(ctx, q, func(q *integration.SyncQueue) error {
		return q.Complete(int(deadLettered), s.clock.Now())
	})
	if errors.Is(err, integration.ErrQueueInvalidTransition) {
		// paused or force completed meanwhile
		return true, nil
	}
	if err != nil {
		return false, err
	}

	result := integration.ActivityResultSuccess
	if counts.Failed > 0 {
		result = integration.ActivityResultWarning
	}
	entries := []*integration.ActivityLogEntry{
		integration.NewQueueActivity(q, integration.ActivityQueueCompleted, result,
			fmt.Sprintf("%d succeeded, %d failed of %d", counts.Succeeded, counts.Failed, counts.Total)).
			With("succeeded", counts.Succeeded).
			With("failed", counts.Failed),
	}
	if q.ActionRequired {
		entries = append(entries, integration.NewQueueActivity(q, integration.ActivityQueueActionRequired, integration.ActivityResultWarning, q.ActionRequiredReason).
			With("dead_lettered", deadLettered))
	}
	s.appendActivity(ctx, entries...)
	s.observer.QueueFinished(q.ConnectorID, q.EntityType, q.Status)

	s.logger.Info("sync queue completed",
		zap.String("queue_id", q.ID.String()),
		zap.Int("succeeded", counts.Succeeded),
		zap.Int("failed", counts.Failed),
		zap.Int64("dead_lettered", deadLettered),
	)
	return true, nil
}

// waitForDueItems sleeps until the earliest deferred item is due. Items left
// in processing by an earlier run are handed back first.
func (s *SyncService) waitForDueItems(ctx context.Context, queueID uuid.UUID) error {
	next, err := s.items.NextDueAt(ctx, queueID)
	if err != nil {
		return err
	}
	if next == nil {
		recovered, err := s.items.RecoverProcessing(ctx, queueID)
		if err != nil {
			return err
		}
		if recovered > 0 {
			return nil
		}
		return s.clock.Sleep(ctx, s.idleWait)
	}
	return s.clock.Sleep(ctx, next.Sub(s.clock.Now()))
}

// failQueue marks the queue failed after a fatal error
func (s *SyncService) failQueue(ctx context.Context, q *integration.SyncQueue, cause error) error {
	persistCtx := context.WithoutCancel(ctx)
	err := s.mutateQueue(persistCtx, q, func(q *integration.SyncQueue) error {
		return q.Fail(cause.Error(), s.clock.Now())
	})
	if errors.Is(err, integration.ErrQueueInvalidTransition) {
		return nil
	}
	if err != nil {
		return err
	}
	if counts, err := s.queues.RefreshCounts(persistCtx, q.ID); err == nil {
		q.ApplyCounts(counts)
	}

	s.appendActivity(ctx, integration.NewQueueActivity(q, integration.ActivityQueueFailed, integration.ActivityResultFailed, cause.Error()))
	s.observer.QueueFinished(q.ConnectorID, q.EntityType, q.Status)
	s.logger.Error("sync queue failed",
		zap.String("queue_id", q.ID.String()),
		zap.String("connector_id", q.ConnectorID),
		zap.Error(cause),
	)
	return nil
}
