package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/univ-portal-api/internal/handler"
	"github.com/noah-isme/univ-portal-api/internal/service"
	"github.com/noah-isme/univ-portal-api/pkg/config"
)

func testEngine(env string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	return New(Options{
		Env:      env,
		Auth:     service.NewAuthService(service.AuthConfig{AccessTokenSecret: "secret"}),
		Observer: metrics,
	}, Handlers{
		Requests:      handler.NewRequestHandler(nil, nil),
		Workflow:      handler.NewWorkflowHandler(nil),
		Visits:        handler.NewVisitHandler(nil),
		Relationships: handler.NewRelationshipHandler(nil),
		Attachments:   handler.NewAttachmentHandler(nil),
		Metrics:       handler.NewMetricsHandler(metrics, nil),
	})
}

func TestRoutesRegistered(t *testing.T) {
	r := testEngine(config.EnvDevelopment)
	registered := map[string]bool{}
	for _, route := range r.Routes() {
		registered[route.Method+" "+route.Path] = true
	}

	for _, want := range []string{
		"POST /api/v1/requests",
		"GET /api/v1/requests",
		"GET /api/v1/requests/export",
		"GET /api/v1/requests/:id",
		"DELETE /api/v1/requests/:id",
		"GET /api/v1/requests/:id/actions",
		"GET /api/v1/requests/:id/history",
		"PUT /api/v1/requests/:id/status",
		"PUT /api/v1/requests/:id/department",
		"POST /api/v1/requests/:id/assign-to-me",
		"PUT /api/v1/requests/:id/leadership",
		"POST /api/v1/requests/:id/resolution",
		"POST /api/v1/requests/:id/rating",
		"GET /api/v1/requests/:id/rating",
		"POST /api/v1/requests/:id/visit",
		"POST /api/v1/requests/:id/visit/accept",
		"POST /api/v1/requests/:id/visit/reschedule",
		"POST /api/v1/requests/:id/visit/complete",
		"PUT /api/v1/visits/:visitId/status",
		"POST /api/v1/requests/:id/convert",
		"PUT /api/v1/requests/:id/related",
		"POST /api/v1/requests/:id/reactivate",
		"GET /api/v1/requests/:id/relations",
		"POST /api/v1/requests/:id/attachments",
		"GET /api/v1/requests/:id/attachments",
		"GET /api/v1/attachments/download",
		"DELETE /api/v1/attachments/:attachmentId",
		"GET /health",
		"GET /ready",
		"GET /metrics",
		"GET /docs/*any",
	} {
		assert.True(t, registered[want], want)
	}
}

func TestDocsHiddenInProduction(t *testing.T) {
	r := testEngine(config.EnvProduction)
	for _, route := range r.Routes() {
		assert.NotEqual(t, "/docs/*any", route.Path)
	}
}

func TestSecuredRoutesRequireToken(t *testing.T) {
	r := testEngine(config.EnvDevelopment)

	for _, target := range []string{"/api/v1/requests", "/api/v1/requests/r1", "/api/v1/requests/export"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, target)
	}
}

func TestPublicRoutes(t *testing.T) {
	r := testEngine(config.EnvDevelopment)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/attachments/download", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
