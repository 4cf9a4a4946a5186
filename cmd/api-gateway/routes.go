package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/noah-isme/candidate-sync/internal/handler"
	"github.com/noah-isme/candidate-sync/internal/middleware"
	"github.com/noah-isme/candidate-sync/internal/models"
	"github.com/noah-isme/candidate-sync/internal/service"
	"github.com/noah-isme/candidate-sync/pkg/config"
)

type routeDeps struct {
	logger     *zap.Logger
	metrics    *service.MetricsService
	registry   *service.SessionRegistry
	auth       *service.AuthService
	candidates *service.CandidateService
	config     *service.ConfigurationService
	origins    []string
}

func registerRoutes(r *gin.Engine, cfg *config.Config, deps routeDeps) {
	streamPath := cfg.APIPrefix + "/stream"
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Metrics(deps.metrics, streamPath))

	metricsHandler := handler.NewMetricsHandler(deps.metrics, deps.registry, cfg.Store.Driver)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	sessionHandler := handler.NewSessionHandler(deps.registry)
	candidateHandler := handler.NewCandidateHandler(deps.candidates)
	configurationHandler := handler.NewConfigurationHandler(deps.config)
	quotaHandler := handler.NewQuotaHandler(language.English)
	presenceHandler := handler.NewPresenceHandler()
	auditHandler := handler.NewAuditHandler()
	streamHandler := handler.NewStreamHandler(deps.origins, deps.logger.Named("stream"))

	api := r.Group(cfg.APIPrefix)
	api.DELETE("/session", middleware.JWT(deps.auth), sessionHandler.End)

	engine := api.Group("")
	engine.Use(middleware.JWT(deps.auth), middleware.Session(deps.registry))
	{
		engine.POST("/session", sessionHandler.Start)
		engine.GET("/session", sessionHandler.Get)

		engine.GET("/candidates", candidateHandler.List)
		engine.GET("/candidates/export", candidateHandler.Export)
		engine.GET("/candidates/:id", candidateHandler.Get)
		engine.GET("/candidates/:id/summary", candidateHandler.Summary)
		engine.POST("/candidates", middleware.RequireRole(models.RoleTrainer), candidateHandler.Create)
		engine.PUT("/candidates", middleware.RequireRole(models.RoleTrainer), candidateHandler.Update)
		engine.PUT("/candidates/:id", middleware.RequireRole(models.RoleTrainer), candidateHandler.Update)
		engine.DELETE("/candidates/:id", middleware.RequireRole(models.RoleAdmin), candidateHandler.Delete)

		engine.GET("/config", configurationHandler.Get)
		engine.PATCH("/config", middleware.RequireRole(models.RoleAdmin), configurationHandler.Patch)

		engine.GET("/quota", quotaHandler.Get)
		engine.POST("/quota/reload", quotaHandler.Reload)

		engine.GET("/audit", auditHandler.List)
		engine.GET("/stream", streamHandler.Stream)
	}

	admin := engine.Group("")
	admin.Use(middleware.RequireRole(models.RoleAdmin))
	{
		admin.GET("/presence", presenceHandler.Presence)
		admin.GET("/profiles", presenceHandler.Profiles)
	}
}
