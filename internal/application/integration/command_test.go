package integration

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/tests/testutil"
)

func TestDecodeCommand(t *testing.T) {
	queueID := uuid.MustParse("7d0b5b8e-3c1a-4a7e-9d43-5d2f1c0e9a11")

	tests := []struct {
		name    string
		input   string
		want    Command
		wantErr error
	}{
		{
			name:  "start with config",
			input: `{"type":"sync.start","entity_type":"customer","config":{"batch_size":25},"idempotency_key":"k1"}`,
			want: StartSyncCommand{
				EntityType:     integration.EntityTypeCustomer,
				Config:         &SyncConfigRequest{BatchSize: intPtr(25)},
				IdempotencyKey: "k1",
			},
		},
		{
			name:  "status",
			input: `{"type":"sync.status","queue_id":"7d0b5b8e-3c1a-4a7e-9d43-5d2f1c0e9a11"}`,
			want:  GetStatusCommand{QueueID: queueID},
		},
		{
			name:  "retry including dead letters",
			input: `{"type":"sync.retry_failed","queue_id":"7d0b5b8e-3c1a-4a7e-9d43-5d2f1c0e9a11","include_dead_lettered":true}`,
			want:  RetryFailedCommand{QueueID: queueID, IncludeDeadLettered: true},
		},
		{
			name:  "bulk start",
			input: `{"type":"sync.bulk_start","entity_types":["customer","product"]}`,
			want:  BulkStartCommand{EntityTypes: []integration.EntityType{integration.EntityTypeCustomer, integration.EntityTypeProduct}},
		},
		{
			name:  "preview",
			input: `{"type":"sync.preview","connector_id":"woo-main","entity_type":"order","force_refresh":true}`,
			want:  PreviewCommand{ConnectorID: "woo-main", EntityType: integration.EntityTypeOrder, ForceRefresh: true},
		},
		{name: "missing type", input: `{"queue_id":"7d0b5b8e-3c1a-4a7e-9d43-5d2f1c0e9a11"}`, wantErr: ErrInvalidCommand},
		{name: "unknown type", input: `{"type":"sync.delete"}`, wantErr: ErrUnknownCommand},
		{name: "malformed json", input: `{"type":`, wantErr: ErrInvalidCommand},
		{name: "wrong field type", input: `{"type":"sync.pause","queue_id":42}`, wantErr: ErrInvalidCommand},
		{name: "missing queue id", input: `{"type":"sync.force_done"}`, wantErr: ErrInvalidCommand},
		{name: "empty bulk", input: `{"type":"sync.bulk_start","entity_types":[]}`, wantErr: ErrInvalidCommand},
		{name: "unsupported entity type", input: `{"type":"sync.start","entity_type":"widget"}`, wantErr: ErrInvalidCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := DecodeCommand([]byte(tt.input))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, cmd)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd)
		})
	}
}

func TestSyncConfigRequest_Overrides(t *testing.T) {
	var nilReq *SyncConfigRequest
	assert.Nil(t, nilReq.Overrides())

	req := &SyncConfigRequest{MaxRetries: intPtr(2), BatchDelayMs: int64Ptr(0)}
	o := req.Overrides()
	require.NotNil(t, o)
	assert.Equal(t, 2, *o.MaxRetries)
	assert.Equal(t, int64(0), *o.BatchDelayMs)
	assert.Nil(t, o.BatchSize)
}

func TestDispatcher_Dispatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.platform.seed(integration.EntityTypeCustomer, 3)
	h.platform.seed(integration.EntityTypeProduct, 2)
	d := NewDispatcher(h.syncs, h.previews, h.bulk, testutil.NewTestLogger(t))
	userID := testutil.TestUserID()
	actor := Actor{OrgID: h.orgID, UserID: &userID}

	out, err := d.Dispatch(ctx, actor, StartSyncCommand{EntityType: integration.EntityTypeCustomer})
	require.NoError(t, err)
	started, ok := out.(*StartSyncResult)
	require.True(t, ok)
	assert.Equal(t, 3, started.TotalItems)

	out, err = d.Dispatch(ctx, actor, GetStatusCommand{QueueID: started.QueueID})
	require.NoError(t, err)
	st, ok := out.(*QueueStatusResponse)
	require.True(t, ok)
	assert.Equal(t, integration.QueueStatusCreated, st.Status)

	out, err = d.Dispatch(ctx, actor, ForceDoneCommand{QueueID: started.QueueID})
	require.NoError(t, err)
	require.NotNil(t, out)
	st = h.status(t, started.QueueID)
	assert.True(t, st.ForceCompleted)
	require.NotNil(t, st.ForceCompletedBy)
	assert.Equal(t, userID, *st.ForceCompletedBy)

	out, err = d.Dispatch(ctx, actor, PreviewCommand{EntityType: integration.EntityTypeProduct})
	require.NoError(t, err)
	preview, ok := out.(*PreviewResult)
	require.True(t, ok)
	assert.Equal(t, 2, preview.NewCount)

	t.Run("rejects before touching services", func(t *testing.T) {
		_, err := d.Dispatch(ctx, Actor{}, GetStatusCommand{QueueID: started.QueueID})
		assert.ErrorIs(t, err, integration.ErrInvalidOrgID)

		_, err = d.Dispatch(ctx, actor, nil)
		assert.ErrorIs(t, err, ErrInvalidCommand)

		_, err = d.Dispatch(ctx, actor, PauseCommand{})
		assert.ErrorIs(t, err, ErrInvalidCommand)
	})

	t.Run("other org cannot read the queue", func(t *testing.T) {
		_, err := d.Dispatch(ctx, Actor{OrgID: uuid.New()}, GetStatusCommand{QueueID: started.QueueID})
		assert.ErrorIs(t, err, integration.ErrQueueNotFound)
	})
}
