package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/univ-portal-api/api/swagger"
	"github.com/noah-isme/univ-portal-api/internal/handler"
	"github.com/noah-isme/univ-portal-api/internal/notifications"
	"github.com/noah-isme/univ-portal-api/internal/policy"
	"github.com/noah-isme/univ-portal-api/internal/repository"
	"github.com/noah-isme/univ-portal-api/internal/router"
	"github.com/noah-isme/univ-portal-api/internal/service"
	"github.com/noah-isme/univ-portal-api/pkg/cache"
	"github.com/noah-isme/univ-portal-api/pkg/config"
	"github.com/noah-isme/univ-portal-api/pkg/database"
	"github.com/noah-isme/univ-portal-api/pkg/export"
	"github.com/noah-isme/univ-portal-api/pkg/logger"
	"github.com/noah-isme/univ-portal-api/pkg/storage"
)

// @title University Service Portal API
// @version 1.0.0
// @description Complaints, inquiries and leadership visits with their review workflow.
// @BasePath /
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	if cfg.Migrations.AutoRun {
		if err := database.RunMigrations(db.DB, logr); err != nil {
			logr.Sugar().Fatalw("failed to run migrations", "error", err)
		}
	}

	var rdb *redis.Client
	if cfg.Cache.Enabled || cfg.Notifications.Enabled {
		rdb, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, cache and live notifications disabled", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close() //nolint:errcheck
		}
	}

	metrics := service.NewMetricsService()

	requestRepo := repository.NewRequestRepository(db)
	visitRepo := repository.NewVisitRepository(db)
	ratingRepo := repository.NewRatingRepository(db)
	edgeRepo := repository.NewEdgeRepository(db)
	attachmentRepo := repository.NewAttachmentRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	var cacheRepo service.CacheRepository
	if rdb != nil {
		cacheRepo = repository.NewCacheRepository(rdb, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled && rdb != nil)

	var publisher *notifications.Publisher
	if cfg.Notifications.Enabled && rdb != nil {
		publisher = notifications.NewPublisher(rdb, cfg.Notifications.ChannelPrefix)
	}
	dispatcher := newDispatcher(auditRepo, publisher, metrics, cfg.Notifications, logr)
	dispatcherCtx, stopDispatcher := context.WithCancel(context.Background())
	dispatcher.Start(dispatcherCtx)

	workflow := service.NewWorkflow(requestRepo, visitRepo, ratingRepo, edgeRepo, policy.NewRoleGate(),
		service.WithCache(cacheSvc),
		service.WithEvents(dispatcher),
		service.WithMetrics(metrics),
		service.WithLogger(logr),
	)

	blobs, err := storage.NewLocalStorage(cfg.Attachments.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init attachment storage", "error", err)
	}
	signer := storage.NewSigner(cfg.Attachments.SignedURLSecret, cfg.Attachments.SignedURLTTL)

	attachmentSvc := service.NewAttachmentService(workflow, attachmentRepo, blobs, signer, service.AttachmentConfig{
		MaxFileSize:  cfg.Attachments.MaxFileSizeBytes,
		AllowedMIMEs: cfg.Attachments.AllowedMIMEs,
		DownloadPath: cfg.APIPrefix + "/attachments/download",
	})
	requestSvc := service.NewRequestService(workflow, auditRepo, blobs)
	engine := service.NewTransitionEngine(workflow, attachmentSvc)
	visitSvc := service.NewVisitWorkflow(workflow)
	relationshipSvc := service.NewRelationshipService(workflow)
	exportSvc := service.NewExportService(requestRepo, export.NewCSVExporter(), export.NewPDFExporter(), logr)
	authSvc := service.NewAuthService(service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
	})

	checks := map[string]handler.Pinger{"postgres": db.PingContext}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	r := router.New(router.Options{
		Env:            cfg.Env,
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Logger:         logr,
		Auth:           authSvc,
		Audit:          auditRepo,
		Observer:       metrics,
	}, router.Handlers{
		Requests:      handler.NewRequestHandler(requestSvc, exportSvc),
		Workflow:      handler.NewWorkflowHandler(engine),
		Visits:        handler.NewVisitHandler(visitSvc),
		Relationships: handler.NewRelationshipHandler(relationshipSvc),
		Attachments:   handler.NewAttachmentHandler(attachmentSvc),
		Metrics:       handler.NewMetricsHandler(metrics, checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logr.Info("shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("server shutdown failed", zap.Error(err))
	}
	dispatcher.Stop()
	stopDispatcher()
}

// newDispatcher keeps a disabled publisher out of the interface so the dispatcher sees nil.
func newDispatcher(audit *repository.AuditRepository, publisher *notifications.Publisher, metrics *service.MetricsService, cfg config.NotificationsConfig, logr *zap.Logger) *notifications.Dispatcher {
	dcfg := notifications.DispatcherConfig{
		Workers:    cfg.Workers,
		BufferSize: 256,
		MaxRetries: cfg.Retries,
		RetryDelay: cfg.RetryDelay,
	}
	if publisher == nil {
		return notifications.NewDispatcher(audit, nil, metrics, dcfg, logr)
	}
	return notifications.NewDispatcher(audit, publisher, metrics, dcfg, logr)
}
