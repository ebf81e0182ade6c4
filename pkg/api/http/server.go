package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/garymjr/beadworks/internal/application/orchestrator"
	"github.com/garymjr/beadworks/internal/application/workers"
	"github.com/garymjr/beadworks/internal/domain"
	"github.com/garymjr/beadworks/pkg/api/stream"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// WorkService is the orchestration surface the API drives
type WorkService interface {
	StartWork(ctx context.Context, subjectID string, opts orchestrator.StartOptions) (string, error)
	CancelWork(subjectID string) error
	GetWorkStatus(subjectID string) *domain.WorkSession
	GetSession(workID string) (*domain.WorkSession, error)
	GetAllActiveWork() []*domain.WorkSession
	PoolStats() domain.PoolStats
	Workers() []domain.WorkerInfo
}

// HealthReporter reports pool health
type HealthReporter interface {
	GetStatus() *workers.HealthStatus
}

// Server represents the HTTP API server
type Server struct {
	router  *gin.Engine
	server  *http.Server
	work    WorkService
	watcher stream.Watcher
	health  HealthReporter
	stream  stream.Options
	logger  *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port    int
	Work    WorkService
	Watcher stream.Watcher
	Health  HealthReporter
	// Metrics serves /metrics; promhttp.Handler() when nil
	Metrics http.Handler
	Stream  stream.Options
	Logger  *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())

	streamOpts := cfg.Stream
	if streamOpts.Logger == nil {
		streamOpts.Logger = logger
	}

	s := &Server{
		router:  router,
		work:    cfg.Work,
		watcher: cfg.Watcher,
		health:  cfg.Health,
		stream:  streamOpts,
		logger:  logger,
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	s.setupRoutes(metrics)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(metrics http.Handler) {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(metrics))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/issues/:id/work", s.handleStartWork)
		v1.GET("/issues/:id/work", s.handleGetWork)
		v1.DELETE("/issues/:id/work", s.handleCancelWork)
		v1.GET("/issues/:id/events", s.handleEvents)

		v1.GET("/sessions", s.handleListSessions)
		v1.GET("/sessions/:workId", s.handleGetSession)

		v1.GET("/workers", s.handleListWorkers)
		v1.GET("/workers/stats", s.handleWorkerStats)
	}
}

// SetupWebSocket adds the WebSocket stream handler to the server
func (s *Server) SetupWebSocket(handler interface {
	HandleIssueStream(*gin.Context)
}) {
	s.router.GET("/api/v1/issues/:id/ws", handler.HandleIssueStream)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}
