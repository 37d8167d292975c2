package testutil

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/syncengine/internal/infrastructure/persistence/models"
)

func TestNewMockDB(t *testing.T) {
	mockDB := NewMockDB(t)

	assert.NotNil(t, mockDB.DB)
	assert.NotNil(t, mockDB.Mock)
	mockDB.ExpectationsWereMet(t)
}

func TestNewSQLiteDB(t *testing.T) {
	t.Run("migrates sync tables", func(t *testing.T) {
		db := NewSQLiteDB(t)
		assert.True(t, db.Migrator().HasTable(&models.SyncQueueModel{}))
		assert.True(t, db.Migrator().HasTable(&models.SyncQueueItemModel{}))
		assert.True(t, db.Migrator().HasTable(&models.IntegrationMappingModel{}))
	})

	t.Run("databases are isolated", func(t *testing.T) {
		a := NewSQLiteDB(t)
		b := NewSQLiteDB(t)

		require.NoError(t, a.Create(&models.IntegrationMappingModel{
			ID: NewTestUUID("m1"), ConnectorID: "c", EntityType: "customer", ExternalID: "1",
			InternalID: NewTestUUID("i1"), LastSyncedAt: time.Now(), CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}).Error)

		var n int64
		require.NoError(t, b.Model(&models.IntegrationMappingModel{}).Count(&n).Error)
		assert.Zero(t, n)
	})
}

func TestNewTestUUID(t *testing.T) {
	assert.Equal(t, NewTestUUID("seed"), NewTestUUID("seed"))
	assert.NotEqual(t, NewTestUUID("seed"), NewTestUUID("other"))
	assert.NotEqual(t, TestOrgID(), TestUserID())
}

func TestRequireEventually(t *testing.T) {
	calls := 0
	RequireEventually(t, func() bool {
		calls++
		return calls >= 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, 3, calls)
}

func TestPerformJSON(t *testing.T) {
	engine := gin.New()
	engine.POST("/echo", func(c *gin.Context) {
		var body map[string]any
		_ = c.ShouldBindJSON(&body)
		c.JSON(http.StatusOK, gin.H{"got": body["name"], "header": c.GetHeader("X-Org-ID")})
	})

	w := PerformJSON(t, engine, http.MethodPost, "/echo", map[string]string{"name": "sync"}, map[string]string{"X-Org-ID": "org"})
	require.Equal(t, http.StatusOK, w.Code)

	resp := DecodeJSON[map[string]string](t, w)
	assert.Equal(t, "sync", resp["got"])
	assert.Equal(t, "org", resp["header"])
}
