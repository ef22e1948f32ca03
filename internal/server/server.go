package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/leaguetracker/internal/audit/domain"
	"github.com/smallbiznis/leaguetracker/internal/config"
	"github.com/smallbiznis/leaguetracker/internal/observability"
	obsmiddleware "github.com/smallbiznis/leaguetracker/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/leaguetracker/internal/observability/metrics"
	obstracing "github.com/smallbiznis/leaguetracker/internal/observability/tracing"
	"github.com/smallbiznis/leaguetracker/internal/ratelimit"
	registrationdomain "github.com/smallbiznis/leaguetracker/internal/registration/domain"
	trackerdomain "github.com/smallbiznis/leaguetracker/internal/tracker/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module serves the HTTP API. Domain modules are supplied by the binary.
var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine            *gin.Engine
	cfg               config.Config
	registrationSvc   registrationdomain.Service
	trackerSvc        trackerdomain.Service
	auditSvc          auditdomain.Service
	submissionLimiter *ratelimit.SubmissionLimiter
	obsMetrics        *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin               *gin.Engine
	Cfg               config.Config
	RegistrationSvc   registrationdomain.Service
	TrackerSvc        trackerdomain.Service
	AuditSvc          auditdomain.Service
	SubmissionLimiter *ratelimit.SubmissionLimiter `optional:"true"`
	ObsMetrics        *obsmetrics.Metrics          `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:            p.Gin,
		cfg:               p.Cfg,
		registrationSvc:   p.RegistrationSvc,
		trackerSvc:        p.TrackerSvc,
		auditSvc:          p.AuditSvc,
		submissionLimiter: p.SubmissionLimiter,
		obsMetrics:        p.ObsMetrics,
	}
	svc.registerAPIRoutes()
	svc.registerFallback()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.BearerAuth())

	// -------- Registrations --------
	guild := api.Group("/guilds/:guildID", s.GuildContext())
	guild.POST("/registrations", s.SubmissionRateLimit(), s.RegisterTracker)
	guild.POST("/registrations/batch", s.SubmissionRateLimit(), s.RegisterTrackers)
	guild.GET("/registrations", s.ListRegistrations)
	guild.GET("/registrations/next", s.GetNextRegistration)
	guild.GET("/registrations/stats", s.GetQueueStats)
	guild.GET("/registrations/by-user/:username", s.GetRegistrationByUser)
	guild.GET("/registrations/:id", s.GetRegistrationByID)
	guild.POST("/registrations/:id/approve", s.ApproveRegistration)
	guild.POST("/registrations/:id/reject", s.RejectRegistration)

	// -------- Audit --------
	guild.GET("/audit-logs", s.ListAuditLogs)

	// -------- Trackers --------
	api.GET("/trackers/users/:userID", s.ListTrackersByUser)
	api.GET("/trackers/:id", s.GetTracker)
	api.DELETE("/trackers/:id", s.DeleteTracker)
	api.PUT("/trackers/:id/scraping-status", s.UpdateScrapingStatus)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
