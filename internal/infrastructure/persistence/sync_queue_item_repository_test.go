package persistence

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/tests/testutil"
)

type itemRepoFixture struct {
	queues *GormSyncQueueRepository
	items  *GormSyncQueueItemRepository
	queue  *integration.SyncQueue
}

func newItemRepoFixture(t *testing.T, n int) *itemRepoFixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	f := &itemRepoFixture{
		queues: NewGormSyncQueueRepository(db),
		items:  NewGormSyncQueueItemRepository(db),
		queue:  newTestQueue(t, testutil.TestOrgID(), integration.EntityTypeCustomer),
	}
	require.NoError(t, f.queues.Create(context.Background(), f.queue, newTestItems(t, f.queue, n)))
	return f
}

// fail drives a claimed item through attempts attempts and marks it failed
func (f *itemRepoFixture) fail(t *testing.T, item *integration.SyncQueueItem, attempts int) {
	t.Helper()
	now := time.Now()
	for i := 0; i < attempts; i++ {
		require.NoError(t, item.RecordAttempt(f.queue.Config.MaxAttempts(), now))
	}
	require.NoError(t, item.MarkFailed("remote error", now))
	require.NoError(t, f.items.Save(context.Background(), item))
}

func TestGormSyncQueueItemRepository_ClaimBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("claims in position order and marks processing", func(t *testing.T) {
		f := newItemRepoFixture(t, 5)

		first, err := f.items.ClaimBatch(ctx, f.queue.ID, 2, time.Now())
		require.NoError(t, err)
		require.Len(t, first, 2)
		assert.Equal(t, "ext-000", first[0].ExternalID)
		assert.Equal(t, "ext-001", first[1].ExternalID)
		assert.Equal(t, integration.ItemStatusProcessing, first[0].Status)

		second, err := f.items.ClaimBatch(ctx, f.queue.ID, 10, time.Now())
		require.NoError(t, err)
		require.Len(t, second, 3)
		assert.Equal(t, "ext-002", second[0].ExternalID)

		empty, err := f.items.ClaimBatch(ctx, f.queue.ID, 10, time.Now())
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("skips items not yet due", func(t *testing.T) {
		f := newItemRepoFixture(t, 2)
		now := time.Now()

		claimed, err := f.items.ClaimBatch(ctx, f.queue.ID, 1, now)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		require.NoError(t, claimed[0].Defer(now.Add(time.Minute), "circuit open", now))
		require.NoError(t, f.items.Save(ctx, claimed[0]))

		due, err := f.items.ClaimBatch(ctx, f.queue.ID, 10, now)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "ext-001", due[0].ExternalID)

		next, err := f.items.NextDueAt(ctx, f.queue.ID)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.WithinDuration(t, now.Add(time.Minute), *next, time.Second)

		later, err := f.items.ClaimBatch(ctx, f.queue.ID, 10, now.Add(2*time.Minute))
		require.NoError(t, err)
		require.Len(t, later, 1)
		assert.Equal(t, "ext-000", later[0].ExternalID)
	})

	t.Run("uses SKIP LOCKED on postgres", func(t *testing.T) {
		mockDB := testutil.NewMockDB(t)
		repo := NewGormSyncQueueItemRepository(mockDB.DB)
		queueID := uuid.New()
		itemID := uuid.New()

		mockDB.Mock.ExpectBegin()
		mockDB.Mock.ExpectQuery(regexp.QuoteMeta(
			`SELECT * FROM "sync_queue_items" WHERE queue_id = $1 AND status = $2 AND (next_retry_at IS NULL OR next_retry_at <= $3) ORDER BY position ASC LIMIT $4 FOR UPDATE SKIP LOCKED`)).
			WithArgs(queueID, integration.ItemStatusPending, sqlmock.AnyArg(), 50).
			WillReturnRows(sqlmock.NewRows([]string{"id", "queue_id", "external_id", "status"}).
				AddRow(itemID, queueID, "42", integration.ItemStatusPending))
		mockDB.Mock.ExpectExec(regexp.QuoteMeta(`UPDATE "sync_queue_items" SET`)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mockDB.Mock.ExpectCommit()

		items, err := repo.ClaimBatch(ctx, queueID, 50, time.Now())
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, integration.ItemStatusProcessing, items[0].Status)
		mockDB.ExpectationsWereMet(t)
	})
}

func TestGormSyncQueueItemRepository_Save(t *testing.T) {
	ctx := context.Background()
	f := newItemRepoFixture(t, 1)

	claimed, err := f.items.ClaimBatch(ctx, f.queue.ID, 1, time.Now())
	require.NoError(t, err)
	item := claimed[0]

	now := time.Now()
	internalID := uuid.New()
	require.NoError(t, item.RecordAttempt(4, now))
	require.NoError(t, item.MarkSucceeded(internalID, integration.SyncActionCreated, now))
	require.NoError(t, f.items.Save(ctx, item))

	loaded, err := f.items.FindByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, integration.ItemStatusSucceeded, loaded.Status)
	assert.Equal(t, 1, loaded.AttemptCount)
	require.NotNil(t, loaded.InternalID)
	assert.Equal(t, internalID, *loaded.InternalID)
	assert.Equal(t, integration.SyncActionCreated, loaded.Action)

	t.Run("succeeded rows are immutable", func(t *testing.T) {
		stale := *item
		stale.Status = integration.ItemStatusFailed
		err := f.items.Save(ctx, &stale)
		assert.ErrorIs(t, err, integration.ErrItemInvalidTransition)

		again, err := f.items.FindByID(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, integration.ItemStatusSucceeded, again.Status)
	})

	t.Run("unknown item", func(t *testing.T) {
		ghost, err := integration.NewSyncQueueItem(f.queue.ID, "ghost", nil)
		require.NoError(t, err)
		assert.ErrorIs(t, f.items.Save(ctx, ghost), integration.ErrItemNotFound)
	})
}

func TestGormSyncQueueItemRepository_RequeueFailed(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) *itemRepoFixture {
		f := newItemRepoFixture(t, 3)
		claimed, err := f.items.ClaimBatch(ctx, f.queue.ID, 3, time.Now())
		require.NoError(t, err)
		f.fail(t, claimed[0], 1) // budget left
		f.fail(t, claimed[1], 4) // dead-lettered with max_retries=3
		require.NoError(t, claimed[2].RecordAttempt(4, time.Now()))
		require.NoError(t, claimed[2].MarkSucceeded(uuid.New(), integration.SyncActionUpdated, time.Now()))
		require.NoError(t, f.items.Save(ctx, claimed[2]))
		return f
	}

	t.Run("revives only items with budget left", func(t *testing.T) {
		f := setup(t)

		dead, err := f.items.CountDeadLettered(ctx, f.queue.ID, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(1), dead)

		n, err := f.items.RequeueFailed(ctx, f.queue.ID, 3, false)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		pending, err := f.items.ListByQueue(ctx, f.queue.ID, integration.ItemStatusPending, 0)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "ext-000", pending[0].ExternalID)
		assert.Equal(t, 1, pending[0].AttemptCount)
	})

	t.Run("including dead letters resets attempts", func(t *testing.T) {
		f := setup(t)

		n, err := f.items.RequeueFailed(ctx, f.queue.ID, 3, true)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		pending, err := f.items.ListByQueue(ctx, f.queue.ID, integration.ItemStatusPending, 0)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		for _, item := range pending {
			assert.Zero(t, item.AttemptCount)
		}

		succeeded, err := f.items.ListByQueue(ctx, f.queue.ID, integration.ItemStatusSucceeded, 0)
		require.NoError(t, err)
		assert.Len(t, succeeded, 1)
	})
}

func TestGormSyncQueueItemRepository_RecoverProcessing(t *testing.T) {
	ctx := context.Background()
	f := newItemRepoFixture(t, 4)

	_, err := f.items.ClaimBatch(ctx, f.queue.ID, 3, time.Now())
	require.NoError(t, err)

	n, err := f.items.RecoverProcessing(ctx, f.queue.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	pending, err := f.items.ListByQueue(ctx, f.queue.ID, integration.ItemStatusPending, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 4)

	next, err := f.items.NextDueAt(ctx, f.queue.ID)
	require.NoError(t, err)
	assert.Nil(t, next)
}
