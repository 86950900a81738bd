package router

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/univ-portal-api/internal/handler"
	"github.com/noah-isme/univ-portal-api/internal/middleware"
	"github.com/noah-isme/univ-portal-api/internal/models"
	"github.com/noah-isme/univ-portal-api/pkg/config"
	appErrors "github.com/noah-isme/univ-portal-api/pkg/errors"
	"github.com/noah-isme/univ-portal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/univ-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/univ-portal-api/pkg/middleware/requestid"
	"github.com/noah-isme/univ-portal-api/pkg/response"
)

// ExportAuditAction is recorded whenever a request export is downloaded.
const ExportAuditAction = "REQUESTS_EXPORTED"

type tokenValidator interface {
	ValidateToken(tokenString string) (*models.JWTClaims, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type httpObserver interface {
	ObserveHTTPRequest(method, path string, status int, duration time.Duration)
}

// Handlers groups the HTTP handlers mounted by the router.
type Handlers struct {
	Requests      *handler.RequestHandler
	Workflow      *handler.WorkflowHandler
	Visits        *handler.VisitHandler
	Relationships *handler.RelationshipHandler
	Attachments   *handler.AttachmentHandler
	Metrics       *handler.MetricsHandler
}

// Options carries the cross-cutting dependencies of the router.
type Options struct {
	Env            string
	APIPrefix      string
	AllowedOrigins []string
	Logger         *zap.Logger
	Auth           tokenValidator
	Audit          auditWriter
	Observer       httpObserver
}

// New builds the gin engine with every portal route registered.
func New(opts Options, h Handlers) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.APIPrefix == "" {
		opts.APIPrefix = "/api/v1"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(opts.Logger))
	r.Use(corsmiddleware.New(opts.AllowedOrigins))
	if opts.Observer != nil {
		r.Use(middleware.Metrics(opts.Observer))
	}

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	if opts.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(opts.APIPrefix)
	api.Use(middleware.WithResponseMeta())

	// signed links authenticate themselves
	api.GET("/attachments/download", middleware.OptionalJWT(opts.Auth), h.Attachments.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(opts.Auth))

	requests := secured.Group("/requests")
	requests.POST("", h.Requests.Submit)
	requests.GET("", h.Requests.List)
	requests.GET("/export",
		middleware.RequireStaff(),
		middleware.Audit(opts.Audit, ExportAuditAction, models.AuditResourceRequest, opts.Logger),
		h.Requests.Export,
	)
	requests.GET("/:id", h.Requests.Get)
	requests.DELETE("/:id", h.Requests.Delete)
	requests.GET("/:id/actions", h.Requests.AllowedActions)
	requests.GET("/:id/history", h.Requests.History)

	requests.PUT("/:id/status", h.Workflow.UpdateStatus)
	requests.PUT("/:id/department", h.Workflow.AssignDepartment)
	requests.POST("/:id/assign-to-me", h.Workflow.AssignToMe)
	requests.PUT("/:id/leadership", h.Workflow.AssignLeadership)
	requests.POST("/:id/resolution", h.Workflow.SubmitResolution)
	requests.POST("/:id/rating", h.Workflow.SubmitRating)
	requests.GET("/:id/rating", h.Workflow.GetRating)

	requests.POST("/:id/visit", h.Visits.Schedule)
	requests.POST("/:id/visit/accept", h.Visits.Accept)
	requests.POST("/:id/visit/reschedule", h.Visits.Reschedule)
	requests.POST("/:id/visit/complete", h.Visits.Complete)
	secured.PUT("/visits/:visitId/status", h.Visits.UpdateStatus)

	requests.POST("/:id/convert", h.Relationships.Convert)
	requests.PUT("/:id/related", h.Relationships.AssignRelated)
	requests.POST("/:id/reactivate", h.Relationships.Reactivate)
	requests.GET("/:id/relations", h.Relationships.Relations)

	requests.POST("/:id/attachments", h.Attachments.Upload)
	requests.GET("/:id/attachments", h.Attachments.List)
	secured.DELETE("/attachments/:attachmentId", h.Attachments.Delete)

	r.NoRoute(func(c *gin.Context) {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "route not found"))
	})

	return r
}
