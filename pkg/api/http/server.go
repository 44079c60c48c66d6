package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/musterd/muster/internal/application/fleet"
	"github.com/musterd/muster/internal/application/orchestrator"
	"github.com/musterd/muster/internal/application/planner"
	"github.com/musterd/muster/internal/application/triggers"
)

// Server is the administrative HTTP surface: read-mostly queries over the
// work graph and fleet, graph submission, and trigger management.
type Server struct {
	router    *gin.Engine
	server    *http.Server
	store     *orchestrator.Store
	resolver  *orchestrator.Resolver
	lifecycle *orchestrator.Lifecycle
	hub       *fleet.Hub
	builder   *planner.Builder
	scheduler *triggers.Scheduler
	logger    *zap.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Port      int
	Store     *orchestrator.Store
	Resolver  *orchestrator.Resolver
	Lifecycle *orchestrator.Lifecycle
	Hub       *fleet.Hub
	Builder   *planner.Builder
	Scheduler *triggers.Scheduler
	Logger    *zap.Logger
}

// NewServer creates the admin HTTP server.
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:    router,
		store:     cfg.Store,
		resolver:  cfg.Resolver,
		lifecycle: cfg.Lifecycle,
		hub:       cfg.Hub,
		builder:   cfg.Builder,
		scheduler: cfg.Scheduler,
		logger:    cfg.Logger,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	return s
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		// Graph submission
		v1.POST("/graphs", s.handleSubmitGraph)

		// Work items
		v1.POST("/items", s.handleCreateItem)
		v1.GET("/items", s.handleListItems)
		v1.GET("/items/:id", s.handleGetItem)
		v1.POST("/items/:id/cancel", s.handleCancelItem)
		v1.DELETE("/items/:id", s.handleClearItem)
		v1.POST("/items/:id/dependencies", s.handleAddDependency)
		v1.DELETE("/items/:id/dependencies/:dep", s.handleRemoveDependency)
		v1.GET("/edges", s.handleListEdges)

		// Fleet
		v1.GET("/workers", s.handleListWorkers)
		v1.POST("/fleet/config", s.handleBroadcastConfig)
		v1.POST("/fleet/update", s.handleBroadcastUpdate)

		// Triggers
		v1.POST("/triggers", s.handleCreateTrigger)
		v1.GET("/triggers", s.handleListTriggers)
		v1.GET("/triggers/:id", s.handleGetTrigger)
		v1.POST("/triggers/:id/enable", s.handleEnableTrigger(true))
		v1.POST("/triggers/:id/disable", s.handleEnableTrigger(false))
		v1.DELETE("/triggers/:id", s.handleDeleteTrigger)
	}
}

// SetupWorkerGateway mounts the fleet websocket endpoint workers connect to.
func (s *Server) SetupWorkerGateway(handler gin.HandlerFunc) {
	s.router.GET("/api/v1/fleet/ws", handler)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger is a middleware for request logging.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}
