package handler

import (
	"context"
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appintegration "github.com/erp/syncengine/internal/application/integration"
	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/erp/syncengine/internal/interfaces/http/middleware"
)

// CommandDispatcher runs sync commands on behalf of an actor
type CommandDispatcher interface {
	Dispatch(ctx context.Context, actor appintegration.Actor, cmd appintegration.Command) (any, error)
}

// QueueQueries reads queue listings and activity logs
type QueueQueries interface {
	ListQueues(ctx context.Context, filter integration.QueueListFilter) ([]appintegration.QueueStatusResponse, int64, error)
	ActivityLog(ctx context.Context, orgID, queueID uuid.UUID, limit int) ([]appintegration.ActivityEntryResponse, error)
}

var (
	_ CommandDispatcher = (*appintegration.Dispatcher)(nil)
	_ QueueQueries      = (*appintegration.SyncService)(nil)
)

const defaultPageSize = 20

// SyncHandler serves the sync API. Every state-changing route is
// translated into a command and run through the dispatcher, so REST calls
// and POST /commands share one code path.
type SyncHandler struct {
	BaseHandler
	dispatcher CommandDispatcher
	queries    QueueQueries
}

// NewSyncHandler creates a SyncHandler
func NewSyncHandler(dispatcher CommandDispatcher, queries QueueQueries) *SyncHandler {
	return &SyncHandler{dispatcher: dispatcher, queries: queries}
}

// RegisterRoutes mounts the sync routes on rg. write guards the routes that
// change state.
func (h *SyncHandler) RegisterRoutes(rg *gin.RouterGroup, read, write gin.HandlerFunc) {
	rg.POST("/start", write, h.StartSync)
	rg.POST("/bulk-start", write, h.BulkStart)
	rg.GET("/preview", read, h.Preview)
	rg.POST("/commands", write, h.Execute)

	queues := rg.Group("/queues")
	queues.GET("", read, h.ListQueues)
	queues.GET("/:id", read, h.GetStatus)
	queues.GET("/:id/activity", read, h.ActivityLog)
	queues.POST("/:id/retry-failed", write, h.RetryFailed)
	queues.POST("/:id/force-done", write, h.ForceDone)
	queues.POST("/:id/pause", write, h.Pause)
	queues.POST("/:id/resume", write, h.Resume)
}

// StartSync godoc
// @Summary      Start a sync
// @Description  Snapshots the external records of one entity type into a new queue
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        request body dto.StartSyncRequest true "Start request"
// @Success      202 {object} dto.Response
// @Failure      409 {object} dto.Response
// @Router       /integrations/sync/start [post]
func (h *SyncHandler) StartSync(c *gin.Context) {
	var req dto.StartSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	h.respond(c, req.ToCommand())
}

// BulkStart godoc
// @Summary      Start or preview several entity types
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        request body dto.BulkStartRequest true "Bulk request"
// @Success      200 {object} dto.Response
// @Router       /integrations/sync/bulk-start [post]
func (h *SyncHandler) BulkStart(c *gin.Context) {
	var req dto.BulkStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	h.respond(c, req.ToCommand())
}

// Preview godoc
// @Summary      Delta preview
// @Description  Counts the external records that would be created or updated
// @Tags         sync
// @Produce      json
// @Param        entity_type query string true "customer, product, order or category"
// @Param        connector_id query string false "Connector, default when empty"
// @Param        refresh query bool false "Bypass the cache"
// @Success      200 {object} dto.Response
// @Router       /integrations/sync/preview [get]
func (h *SyncHandler) Preview(c *gin.Context) {
	var q dto.PreviewQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	h.respond(c, appintegration.PreviewCommand{
		ConnectorID:  q.ConnectorID,
		EntityType:   integration.EntityType(q.EntityType),
		ForceRefresh: q.Refresh,
	})
}

// Execute godoc
// @Summary      Run a typed command
// @Description  Accepts {"type": "sync.start", ...} and runs it like the matching route
// @Tags         sync
// @Accept       json
// @Produce      json
// @Success      200 {object} dto.Response
// @Router       /integrations/sync/commands [post]
func (h *SyncHandler) Execute(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.BadRequest(c, "Unable to read request body")
		return
	}
	cmd, err := appintegration.DecodeCommand(body)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.respond(c, cmd)
}

// GetStatus godoc
// @Summary      Queue status
// @Tags         sync
// @Produce      json
// @Param        id path string true "Queue ID"
// @Success      200 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Router       /integrations/sync/queues/{id} [get]
func (h *SyncHandler) GetStatus(c *gin.Context) {
	id, ok := h.queueID(c)
	if !ok {
		return
	}
	h.respond(c, appintegration.GetStatusCommand{QueueID: id})
}

// RetryFailed godoc
// @Summary      Retry failed items
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        id path string true "Queue ID"
// @Param        request body dto.RetryFailedRequest false "Options"
// @Success      200 {object} dto.Response
// @Failure      422 {object} dto.Response
// @Router       /integrations/sync/queues/{id}/retry-failed [post]
func (h *SyncHandler) RetryFailed(c *gin.Context) {
	id, ok := h.queueID(c)
	if !ok {
		return
	}
	var req dto.RetryFailedRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			middleware.HandleValidationError(c, err)
			return
		}
	}
	h.respond(c, appintegration.RetryFailedCommand{QueueID: id, IncludeDeadLettered: req.IncludeDeadLettered})
}

// ForceDone godoc
// @Summary      Force complete a queue
// @Tags         sync
// @Produce      json
// @Param        id path string true "Queue ID"
// @Success      200 {object} dto.Response
// @Router       /integrations/sync/queues/{id}/force-done [post]
func (h *SyncHandler) ForceDone(c *gin.Context) {
	if id, ok := h.queueID(c); ok {
		h.respond(c, appintegration.ForceDoneCommand{QueueID: id})
	}
}

// Pause pauses a running queue
func (h *SyncHandler) Pause(c *gin.Context) {
	if id, ok := h.queueID(c); ok {
		h.respond(c, appintegration.PauseCommand{QueueID: id})
	}
}

// Resume resumes a paused queue
func (h *SyncHandler) Resume(c *gin.Context) {
	if id, ok := h.queueID(c); ok {
		h.respond(c, appintegration.ResumeCommand{QueueID: id})
	}
}

// ActivityLog godoc
// @Summary      Queue activity log
// @Tags         sync
// @Produce      json
// @Param        id path string true "Queue ID"
// @Param        limit query int false "Entries to return, newest first"
// @Success      200 {object} dto.Response
// @Router       /integrations/sync/queues/{id}/activity [get]
func (h *SyncHandler) ActivityLog(c *gin.Context) {
	id, ok := h.queueID(c)
	if !ok {
		return
	}
	var q dto.ActivityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	a, err := actor(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	entries, err := h.queries.ActivityLog(c.Request.Context(), a.OrgID, id, q.Limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, entries)
}

// ListQueues godoc
// @Summary      List queues
// @Tags         sync
// @Produce      json
// @Param        connector_id query string false "Connector"
// @Param        entity_type query string false "Entity type"
// @Param        status query string false "Queue status"
// @Param        page query int false "Page, from 1"
// @Param        page_size query int false "Page size, at most 100"
// @Success      200 {object} dto.Response
// @Router       /integrations/sync/queues [get]
func (h *SyncHandler) ListQueues(c *gin.Context) {
	var q dto.ListQueuesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	a, err := actor(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = defaultPageSize
	}
	queues, total, err := h.queries.ListQueues(c.Request.Context(), integration.QueueListFilter{
		OrgID:       a.OrgID,
		ConnectorID: q.ConnectorID,
		EntityType:  integration.EntityType(q.EntityType),
		Status:      integration.QueueStatus(q.Status),
		Page:        q.Page,
		PageSize:    q.PageSize,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, queues, total, q.Page, q.PageSize)
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func (h *SyncHandler) dispatch(c *gin.Context, cmd appintegration.Command) (any, error) {
	a, err := actor(c)
	if err != nil {
		return nil, err
	}
	return h.dispatcher.Dispatch(c.Request.Context(), a, cmd)
}

// respond dispatches cmd and writes its result. A start that created a new
// queue answers 202 since processing continues in the worker.
func (h *SyncHandler) respond(c *gin.Context, cmd appintegration.Command) {
	result, err := h.dispatch(c, cmd)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if _, ok := cmd.(appintegration.StartSyncCommand); ok {
		if r, ok := result.(*appintegration.StartSyncResult); ok && !r.Replayed {
			h.Accepted(c, result)
			return
		}
	}
	h.Success(c, result)
}

func (h *SyncHandler) queueID(c *gin.Context) (uuid.UUID, bool) {
	var uri dto.QueueURI
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleValidationError(c, err)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(uri.ID)
	if err != nil {
		h.BadRequest(c, "Queue id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
