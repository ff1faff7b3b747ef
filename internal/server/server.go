package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/lingora/internal/config"
	"github.com/smallbiznis/lingora/internal/protocol/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log.Named("http")))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
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
	engine           *gin.Engine
	cfg              config.Config
	generatorSvc     domain.GeneratorService
	workflowSvc      domain.WorkflowService
	timelineSvc      domain.TimelineService
	consolidationSvc domain.ConsolidationService
}

type ServerParams struct {
	fx.In

	Gin              *gin.Engine
	Cfg              config.Config
	GeneratorSvc     domain.GeneratorService
	WorkflowSvc      domain.WorkflowService
	TimelineSvc      domain.TimelineService
	ConsolidationSvc domain.ConsolidationService
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:           p.Gin,
		cfg:              p.Cfg,
		generatorSvc:     p.GeneratorSvc,
		workflowSvc:      p.WorkflowSvc,
		timelineSvc:      p.TimelineSvc,
		consolidationSvc: p.ConsolidationSvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Protocols --------
	api.POST("/protocols/generate", s.GenerateProtocols)
	api.GET("/protocols", s.ListProtocols)
	api.GET("/protocols/:id", s.GetProtocolByID)
	api.GET("/protocols/:id/timeline", s.GetProtocolTimeline)
	api.POST("/protocols/:id/transitions", s.TransitionProtocol)
	api.DELETE("/protocols/:id", s.DeleteProtocol)

	// -------- Consolidations --------
	api.GET("/consolidations", s.ListConsolidations)
	api.GET("/consolidations/:id", s.GetConsolidationByID)
	api.GET("/consolidations/readiness", s.GetConsolidationReadiness)
	api.POST("/consolidations/attempt", s.AttemptConsolidation)
	api.POST("/consolidations/:id/approve", s.ApproveConsolidation)
	api.POST("/consolidations/:id/pay", s.PayConsolidation)
	api.POST("/consolidations/:id/supersede", s.SupersedeConsolidation)
}
