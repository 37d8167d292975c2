// Package router assembles the gin engine of the sync API.
package router

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/erp/syncengine/internal/infrastructure/auth"
	"github.com/erp/syncengine/internal/infrastructure/logger"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/erp/syncengine/internal/interfaces/http/handler"
	"github.com/erp/syncengine/internal/interfaces/http/middleware"
)

// RouteRegistrar mounts a set of routes on an API group
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes under /api/<version>
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

var errNoAuth = errors.New("router: sync routes need a JWT service or http.allow_org_header")

// Options configures the engine. Zero values disable the optional parts.
type Options struct {
	ServiceName    string
	TracingEnabled bool
	MaxBodyBytes   int64
	CORS           middleware.CORSConfig
	TrustedProxies []string

	// RateLimiter throttles the API per organization when set
	RateLimiter *middleware.RateLimiter
	// HTTPMetrics records request metrics when set
	HTTPMetrics *middleware.HTTPMetrics
	// MetricsHandler is served on MetricsPath when set
	MetricsHandler http.Handler
	MetricsPath    string

	JWTService     *auth.JWTService
	Revocations    auth.RevocationList
	AuthOptional   bool
	AllowOrgHeader bool
}

// Handlers are the route owners mounted by New
type Handlers struct {
	System *handler.SystemHandler
	Sync   *handler.SyncHandler
}

// New builds the gin engine with global middleware, the system routes and
// the authenticated sync API under /api/v1/integrations/sync.
func New(opts Options, handlers Handlers, log *zap.Logger) (*gin.Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, err
	}

	engine.Use(
		logger.Recovery(log),
		middleware.RequestID(),
		middleware.Tracing(opts.ServiceName, opts.TracingEnabled),
		logger.GinMiddleware(log),
		middleware.Secure(),
		middleware.CORSWithConfig(opts.CORS),
	)
	if opts.MaxBodyBytes > 0 {
		engine.Use(middleware.BodyLimit(opts.MaxBodyBytes))
	}
	if opts.HTTPMetrics != nil {
		engine.Use(opts.HTTPMetrics.Middleware())
	}

	if handlers.System != nil {
		engine.GET("/health", handlers.System.Health)
		engine.GET("/ping", handlers.System.Ping)
	}
	if opts.MetricsHandler != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		engine.GET(path, gin.WrapH(opts.MetricsHandler))
	}

	r := NewRouter(engine)
	if handlers.System != nil {
		r.Register(systemRoutes{h: handlers.System})
	}
	if handlers.Sync != nil {
		if opts.JWTService == nil && !opts.AllowOrgHeader {
			return nil, errNoAuth
		}
		r.Register(&syncRoutes{h: handlers.Sync, opts: opts, log: log})
	}
	r.Setup()

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, dto.NewErrorResponseWithRequestID(
			dto.ErrCodeNotFound, "Route not found", middleware.GetRequestID(c)))
	})
	return engine, nil
}

type systemRoutes struct {
	h *handler.SystemHandler
}

func (s systemRoutes) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/system/info", s.h.GetSystemInfo)
}

type syncRoutes struct {
	h    *handler.SyncHandler
	opts Options
	log  *zap.Logger
}

func (s *syncRoutes) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/integrations/sync")
	if s.opts.JWTService != nil {
		group.Use(middleware.JWTAuth(middleware.JWTMiddlewareConfig{
			JWTService:  s.opts.JWTService,
			Revocations: s.opts.Revocations,
			Optional:    s.opts.AuthOptional,
			Logger:      s.log,
		}))
	}
	group.Use(
		middleware.OrgContext(middleware.OrgContextConfig{AllowHeader: s.opts.AllowOrgHeader}),
		middleware.SpanAttributes(),
	)
	if s.opts.RateLimiter != nil {
		group.Use(middleware.RateLimit(s.opts.RateLimiter))
	}
	s.h.RegisterRoutes(group,
		middleware.RequireScope(auth.ScopeSyncRead),
		middleware.RequireScope(auth.ScopeSyncWrite),
	)
}
