package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/syncengine/internal/infrastructure/auth"
	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/erp/syncengine/internal/interfaces/http/handler"
	"github.com/erp/syncengine/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type pingRoutes struct{}

func (pingRoutes) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/test/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
}

func TestRouterSetup(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine, WithAPIVersion("v2"))
	assert.Equal(t, "v2", r.apiVersion)

	r.Register(pingRoutes{}).Setup()

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v2/test/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

type engineFixture struct {
	engine *gin.Engine
	jwt    *auth.JWTService
	revoke *auth.InMemoryRevocationList
}

func newEngineFixture(t *testing.T, mutate func(*Options)) *engineFixture {
	t.Helper()
	jwtService := auth.NewJWTService(config.JWTConfig{
		Secret:                "router-test-secret-with-enough-length",
		AccessTokenExpiration: time.Hour,
		Issuer:                "syncengine-test",
	})
	revocations := auth.NewInMemoryRevocationList()

	reg := prometheus.NewRegistry()
	httpMetrics, err := middleware.NewHTTPMetrics(reg)
	require.NoError(t, err)

	opts := Options{
		ServiceName:    "syncengine-test",
		MaxBodyBytes:   1 << 10,
		CORS:           middleware.DefaultCORSConfig(),
		HTTPMetrics:    httpMetrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		JWTService:     jwtService,
		Revocations:    revocations,
	}
	if mutate != nil {
		mutate(&opts)
	}

	// nil collaborators are fine: every request below stops in middleware
	// or validation before reaching them
	engine, err := New(opts, Handlers{
		System: handler.NewSystemHandler("syncengine", "test"),
		Sync:   handler.NewSyncHandler(nil, nil),
	}, nil)
	require.NoError(t, err)
	return &engineFixture{engine: engine, jwt: jwtService, revoke: revocations}
}

func (f *engineFixture) token(t *testing.T, scopes ...string) string {
	t.Helper()
	issued, err := f.jwt.IssueAccessToken(auth.IssueTokenInput{
		OrgID:  uuid.New(),
		UserID: uuid.New(),
		Scopes: scopes,
	})
	require.NoError(t, err)
	return issued.Token
}

func (f *engineFixture) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

func TestNew_SystemRoutes(t *testing.T) {
	f := newEngineFixture(t, nil)

	w := f.serve(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	w = f.serve(httptest.NewRequest(http.MethodGet, "/api/v1/system/info", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.serve(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_server_request_total")

	w = f.serve(httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, dto.ErrCodeNotFound, errorCode(t, w))
}

func TestNew_SyncRoutesRequireAuth(t *testing.T) {
	f := newEngineFixture(t, nil)

	w := f.serve(httptest.NewRequest(http.MethodGet, "/api/v1/integrations/sync/queues", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/integrations/sync/queues", nil)
	req.Header.Set(middleware.OrgIDHeader, uuid.NewString())
	w = f.serve(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "header fallback is off by default")
}

func TestNew_ScopeEnforcement(t *testing.T) {
	f := newEngineFixture(t, nil)

	// read-only token cannot start; the request is otherwise invalid so a
	// 400 would prove the scope check passed
	req := httptest.NewRequest(http.MethodPost, "/api/v1/integrations/sync/start", nil)
	req.Header.Set(middleware.AuthHeaderKey, middleware.BearerPrefix+f.token(t, auth.ScopeSyncRead))
	w := f.serve(req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, dto.ErrCodeForbidden, errorCode(t, w))

	req = httptest.NewRequest(http.MethodPost, "/api/v1/integrations/sync/start", nil)
	req.Header.Set(middleware.AuthHeaderKey, middleware.BearerPrefix+f.token(t, auth.ScopeSyncWrite))
	w = f.serve(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNew_HeaderFallback(t *testing.T) {
	f := newEngineFixture(t, func(o *Options) {
		o.AuthOptional = true
		o.AllowOrgHeader = true
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/integrations/sync/queues/not-a-uuid", nil)
	req.Header.Set(middleware.OrgIDHeader, uuid.NewString())
	w := f.serve(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.ErrCodeValidation, errorCode(t, w))
}

func TestNew_RateLimit(t *testing.T) {
	limiter := middleware.NewRateLimiter(1, time.Minute)
	t.Cleanup(limiter.Stop)
	f := newEngineFixture(t, func(o *Options) { o.RateLimiter = limiter })
	token := f.token(t)

	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/integrations/sync/queues/bad", nil)
		req.Header.Set(middleware.AuthHeaderKey, middleware.BearerPrefix+token)
		return f.serve(req).Code
	}
	assert.Equal(t, http.StatusBadRequest, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}

func TestNew_RequiresAuthSource(t *testing.T) {
	_, err := New(Options{}, Handlers{Sync: handler.NewSyncHandler(nil, nil)}, nil)
	assert.ErrorIs(t, err, errNoAuth)
}
