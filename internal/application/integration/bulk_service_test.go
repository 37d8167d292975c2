package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/syncengine/internal/domain/integration"
)

func TestBulkService_BulkStart(t *testing.T) {
	ctx := context.Background()

	t.Run("reports each entity type in request order", func(t *testing.T) {
		h := newHarness(t)
		h.platform.seed(integration.EntityTypeCustomer, 4)
		h.platform.seed(integration.EntityTypeProduct, 6)

		res, err := h.bulk.BulkStart(ctx, BulkStartInput{
			OrgID:       h.orgID,
			EntityTypes: []integration.EntityType{integration.EntityTypeCustomer, integration.EntityTypeProduct, "widget"},
		})
		require.NoError(t, err)
		assert.Equal(t, testConnectorID, res.ConnectorID)
		require.Len(t, res.Results, 3)

		customer := res.Results[0]
		assert.Equal(t, integration.EntityTypeCustomer, customer.EntityType)
		require.NotNil(t, customer.QueueID)
		assert.Equal(t, integration.QueueStatusCreated.String(), customer.Status)
		assert.Nil(t, customer.Error)

		product := res.Results[1]
		assert.Equal(t, BulkStatusCached, product.Status)
		require.NotNil(t, product.CachedCount)
		assert.Equal(t, 6, *product.CachedCount)
		assert.Nil(t, product.QueueID)

		widget := res.Results[2]
		assert.Equal(t, BulkStatusError, widget.Status)
		require.NotNil(t, widget.Error)
		assert.Equal(t, CodeValidation, widget.Error.Code)

		st := h.status(t, *customer.QueueID)
		assert.Equal(t, 4, st.Total)
	})

	t.Run("active sync is reported in place", func(t *testing.T) {
		h := newHarness(t)
		h.platform.seed(integration.EntityTypeCustomer, 2)
		h.platform.seed(integration.EntityTypeOrder, 2)
		first := h.start(t, StartSyncInput{})

		res, err := h.bulk.BulkStart(ctx, BulkStartInput{
			OrgID:       h.orgID,
			EntityTypes: []integration.EntityType{integration.EntityTypeCustomer, integration.EntityTypeOrder},
		})
		require.NoError(t, err)
		require.Len(t, res.Results, 2)

		assert.Equal(t, BulkStatusError, res.Results[0].Status)
		require.NotNil(t, res.Results[0].Error)
		assert.Equal(t, CodeSyncAlreadyActive, res.Results[0].Error.Code)
		assert.Contains(t, res.Results[0].Error.Message, first.QueueID.String())

		assert.Equal(t, BulkStatusCached, res.Results[1].Status)
		assert.Equal(t, 2, *res.Results[1].CachedCount)
	})

	t.Run("rejects empty and unresolvable requests", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.bulk.BulkStart(ctx, BulkStartInput{OrgID: h.orgID})
		assert.ErrorIs(t, err, integration.ErrInvalidEntityType)

		_, err = h.bulk.BulkStart(ctx, BulkStartInput{
			OrgID:       h.orgID,
			ConnectorID: "missing",
			EntityTypes: []integration.EntityType{integration.EntityTypeProduct},
		})
		assert.ErrorIs(t, err, integration.ErrConnectorNotConfigured)
	})
}
