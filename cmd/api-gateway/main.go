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
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/candidate-sync/api/swagger"
	"github.com/noah-isme/candidate-sync/internal/repository"
	"github.com/noah-isme/candidate-sync/internal/service"
	"github.com/noah-isme/candidate-sync/pkg/config"
	"github.com/noah-isme/candidate-sync/pkg/logger"
	corsmiddleware "github.com/noah-isme/candidate-sync/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/candidate-sync/pkg/middleware/requestid"
	"github.com/noah-isme/candidate-sync/pkg/tasks"
)

// @title Candidate Sync API
// @version 1.0.0
// @description Live candidate tracking with quota-governed synchronization.
// @BasePath /api/v1
// @schemes http https
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := service.NewMetricsService()
	retry := repository.RetryPolicy{
		Initial:    cfg.Realtime.ReconnectInitial,
		Max:        cfg.Realtime.ReconnectMax,
		MaxElapsed: cfg.Realtime.ReconnectMaxTotal,
	}
	store, closeStore, err := repository.Open(ctx, cfg, repository.Options{
		Logger:   logr.Named("store"),
		Observer: metrics,
		Retry:    retry,
	})
	if err != nil {
		logr.Fatal("failed to open document store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}

	runner := tasks.NewRunner("best-effort", tasks.Config{
		Workers:    cfg.Tasks.Workers,
		BufferSize: cfg.Tasks.BufferSize,
		Timeout:    cfg.Tasks.Timeout,
		Logger:     logr.Named("tasks"),
	})
	runner.Start(ctx)

	validate := validator.New()
	configService := service.NewConfigurationService(store, validate, logr.Named("config"), cfg.Summary.DefaultMention)
	candidateService := service.NewCandidateService(store, validate, logr.Named("candidates"))
	authService := service.NewAuthService(validate, logr.Named("auth"), service.AuthConfig{
		Secret: cfg.JWT.Secret,
		Issuer: cfg.JWT.Issuer,
		Expiry: cfg.JWT.Expiration,
	})
	registry := service.NewSessionRegistry(sessionConfig(cfg), service.SessionDeps{
		Store:   store,
		Tasks:   runner,
		Metrics: metrics,
		Seeder:  configService,
		Logger:  logr.Named("session"),
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, cfg.APIPrefix+"/stream"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	registerRoutes(r, cfg, routeDeps{
		logger:     logr,
		metrics:    metrics,
		registry:   registry,
		auth:       authService,
		candidates: candidateService,
		config:     configService,
		origins:    corsmiddleware.NewMatcher(cfg.CORS.AllowedOrigins).HostPatterns(),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown", zap.Error(err))
	}
	registry.StopAll()
	runner.Stop()
	if err := closeStore(); err != nil {
		logr.Warn("close document store", zap.Error(err))
	}
	if dropped := runner.Dropped(); dropped > 0 {
		logr.Info("best-effort tasks dropped during run", zap.Uint64("count", dropped))
	}
}

func sessionConfig(cfg *config.Config) service.SessionConfig {
	return service.SessionConfig{
		Quota: service.QuotaGovernorConfig{
			ReadsMax:        cfg.Quota.ReadsMax,
			WritesMax:       cfg.Quota.WritesMax,
			WarnRatio:       cfg.Quota.WarnRatio,
			PublishInterval: cfg.Quota.PublishInterval,
			Location:        config.Location(cfg.Quota.ResetTimezone),
			ResetOffset:     cfg.Quota.ResetOffset,
		},
		Subscriptions: service.SubscriptionConfig{
			ReconnectInitial:  cfg.Realtime.ReconnectInitial,
			ReconnectMax:      cfg.Realtime.ReconnectMax,
			ReconnectMaxTotal: cfg.Realtime.ReconnectMaxTotal,
		},
		HeartbeatInterval:  cfg.Presence.HeartbeatInterval,
		OnlineWindow:       cfg.Presence.OnlineWindow,
		AuditCapacity:      cfg.Audit.LocalCapacity,
		AuditFeedLimit:     cfg.Audit.FeedLimit,
		CandidatesLimit:    cfg.Realtime.CandidatesLimit,
		PresenceLimit:      cfg.Realtime.PresenceLimit,
		ProfilesLimit:      cfg.Realtime.ProfilesLimit,
		SuperAdminEmail:    cfg.SuperAdmin.Email,
		SuperAdminUsername: cfg.SuperAdmin.Username,
		DefaultMention:     cfg.Summary.DefaultMention,
		Location:           config.Location(cfg.Summary.Timezone),
		StreamBuffer:       cfg.Realtime.StreamBuffer,
	}
}
