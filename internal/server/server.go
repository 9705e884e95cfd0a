package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"eventflow/internal/config"
	"eventflow/internal/handler"
	"eventflow/internal/middleware"
	"eventflow/internal/transport/httpdto"
	"eventflow/pkg/database"
	"eventflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
	pool       *pgxpool.Pool
}

type Handlers struct {
	Events *handler.EventHandler
	Rules  *handler.RuleHandler
}

func New(cfg *config.Config, l *logger.Logger, pool *pgxpool.Pool) *Server {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.Server.Environment == "test" {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
			Handler: engine,
		},
		engine: engine,
		config: cfg,
		logger: l,
		pool:   pool,
	}
}

func (s *Server) SetupRoutes(handlers *Handlers, hub *Hub) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.CORSMiddleware(s.config.Server.CORSOrigins))
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger, s.config.Server.Environment))

	s.engine.GET("/health", func(c *gin.Context) {
		if err := database.HealthCheck(c.Request.Context(), s.pool); err != nil {
			c.JSON(http.StatusServiceUnavailable, httpdto.HealthResponse{
				Status:    "unhealthy",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			return
		}
		c.JSON(http.StatusOK, httpdto.HealthResponse{
			Status:    "ok",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	})

	eventsGroup := s.engine.Group("/events")
	{
		eventsGroup.POST("", handlers.Events.Ingest)
		eventsGroup.GET("", handlers.Events.List)
		eventsGroup.GET("/stats", handlers.Events.Stats)
		eventsGroup.POST("/replay-batch", handlers.Events.ReplayBatch)
		eventsGroup.POST("/requeue-stuck", handlers.Events.RequeueStuck)
		eventsGroup.GET("/:id", handlers.Events.GetByID)
		eventsGroup.GET("/:id/attempts", handlers.Events.GetAttempts)
		eventsGroup.POST("/:id/replay", handlers.Events.Replay)
	}

	rulesGroup := s.engine.Group("/rules")
	{
		rulesGroup.POST("", handlers.Rules.Create)
		rulesGroup.GET("", handlers.Rules.List)
		rulesGroup.GET("/:id", handlers.Rules.GetByID)
		rulesGroup.PUT("/:id", handlers.Rules.Update)
		rulesGroup.DELETE("/:id", handlers.Rules.Delete)
		rulesGroup.GET("/:id/versions", handlers.Rules.Versions)
	}

	s.engine.GET("/ws", WebSocketHandler(hub))
}

// Start runs ListenAndServe in the background; Shutdown stops it.
func (s *Server) Start() {
	go func() {
		s.logger.Infof("Starting the server on port %s...", s.config.Server.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Error in starting the server: %s", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
