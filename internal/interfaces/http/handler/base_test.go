package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appintegration "github.com/erp/syncengine/internal/application/integration"
	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/erp/syncengine/internal/infrastructure/resilience"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/erp/syncengine/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestContext() (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestGetRequestID(t *testing.T) {
	t.Run("from context", func(t *testing.T) {
		c, _ := newTestContext()
		c.Set(middleware.RequestIDKey, "ctx-id")
		c.Request.Header.Set(middleware.RequestIDHeader, "header-id")
		assert.Equal(t, "ctx-id", getRequestID(c))
	})
	t.Run("from header", func(t *testing.T) {
		c, _ := newTestContext()
		c.Request.Header.Set(middleware.RequestIDHeader, "header-id")
		assert.Equal(t, "header-id", getRequestID(c))
	})
	t.Run("empty", func(t *testing.T) {
		c, _ := newTestContext()
		assert.Empty(t, getRequestID(c))
	})
}

func TestActor(t *testing.T) {
	c, _ := newTestContext()
	_, err := actor(c)
	assert.ErrorIs(t, err, errNoOrg)

	orgID, userID := uuid.New(), uuid.New()
	c.Set(middleware.OrgIDKey, orgID)
	c.Set(middleware.UserIDKey, userID)
	a, err := actor(c)
	require.NoError(t, err)
	assert.Equal(t, orgID, a.OrgID)
	require.NotNil(t, a.UserID)
	assert.Equal(t, userID, *a.UserID)
}

func TestBaseHandlerSuccessResponses(t *testing.T) {
	h := &BaseHandler{}

	c, w := newTestContext()
	h.Success(c, map[string]string{"key": "value"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeResponse(t, w).Success)

	c, w = newTestContext()
	h.Created(c, map[string]string{"id": "123"})
	assert.Equal(t, http.StatusCreated, w.Code)

	c, w = newTestContext()
	h.Accepted(c, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	c, w = newTestContext()
	h.SuccessWithMeta(c, []string{"a", "b"}, 100, 1, 10)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(100), resp.Meta.Total)
}

func TestBaseHandlerErrorWithRequestID(t *testing.T) {
	h := &BaseHandler{}
	c, w := newTestContext()
	c.Set(middleware.RequestIDKey, "test-request-123")

	h.BadRequest(c, "Invalid request")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeResponse(t, w)
	assert.Equal(t, dto.ErrCodeBadRequest, resp.Error.Code)
	assert.Equal(t, "test-request-123", resp.Error.RequestID)
}

func TestBaseHandlerHandleError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedCode int
		expectedErr  string
	}{
		{"shared not found", shared.ErrNotFound, http.StatusNotFound, dto.ErrCodeNotFound},
		{"shared invalid state", shared.ErrInvalidState, http.StatusUnprocessableEntity, dto.ErrCodeInvalidState},
		{"active sync", &appintegration.ActiveSyncError{QueueID: uuid.New()}, http.StatusConflict, dto.ErrCodeSyncAlreadyActive},
		{"duplicate idempotency", integration.ErrDuplicateIdempotency, http.StatusConflict, dto.ErrCodeDuplicateIdempotency},
		{"wrapped queue not found", fmt.Errorf("load: %w", integration.ErrQueueNotFound), http.StatusNotFound, dto.ErrCodeQueueNotFound},
		{"connector", integration.ErrConnectorNotConfigured, http.StatusNotFound, dto.ErrCodeConnectorNotConfigured},
		{"force completed", integration.ErrQueueForceCompleted, http.StatusUnprocessableEntity, dto.ErrCodeInvalidState},
		{"bad config", integration.ErrInvalidSyncConfig, http.StatusBadRequest, dto.ErrCodeValidation},
		{"platform auth", integration.ErrPlatformAuthFailed, http.StatusBadGateway, dto.ErrCodePlatformAuth},
		{"circuit open", resilience.ErrCircuitOpen, http.StatusServiceUnavailable, dto.ErrCodeCircuitOpen},
		{"missing org", errNoOrg, http.StatusUnauthorized, dto.ErrCodeUnauthorized},
		{"unknown", assert.AnError, http.StatusInternalServerError, dto.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &BaseHandler{}
			c, w := newTestContext()

			h.HandleError(c, tt.err)

			assert.Equal(t, tt.expectedCode, w.Code)
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.expectedErr, resp.Error.Code)
		})
	}
}

func TestBaseHandlerHandleErrorHidesInternalMessage(t *testing.T) {
	h := &BaseHandler{}
	c, w := newTestContext()

	h.HandleError(c, fmt.Errorf("pq: password authentication failed for user sync"))

	resp := decodeResponse(t, w)
	assert.Equal(t, "An unexpected error occurred", resp.Error.Message)
}

func TestBaseHandlerHandleErrorNil(t *testing.T) {
	h := &BaseHandler{}
	c, w := newTestContext()
	h.HandleError(c, nil)
	assert.Empty(t, w.Body.Bytes())
}
