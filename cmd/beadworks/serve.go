package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/garymjr/beadworks/internal/application/orchestrator"
	"github.com/garymjr/beadworks/internal/application/sessions"
	"github.com/garymjr/beadworks/internal/application/workers"
	"github.com/garymjr/beadworks/internal/config"
	"github.com/garymjr/beadworks/internal/ports"
	eventsmemory "github.com/garymjr/beadworks/pkg/adapters/events/memory"
	eventsredis "github.com/garymjr/beadworks/pkg/adapters/events/redis"
	"github.com/garymjr/beadworks/pkg/adapters/llm"
	metricsprom "github.com/garymjr/beadworks/pkg/adapters/metrics/prometheus"
	"github.com/garymjr/beadworks/pkg/adapters/prompt"
	filestorage "github.com/garymjr/beadworks/pkg/adapters/storage/file"
	redisstorage "github.com/garymjr/beadworks/pkg/adapters/storage/redis"
	"github.com/garymjr/beadworks/pkg/adapters/tracker/beads"
	"github.com/garymjr/beadworks/pkg/api/grpc"
	"github.com/garymjr/beadworks/pkg/api/http"
	"github.com/garymjr/beadworks/pkg/api/stream"
	"github.com/garymjr/beadworks/pkg/api/websocket"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the worker pool and the HTTP, WebSocket and gRPC servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			logger, err := initLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting beadworks",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	var redisClient *goredis.Client
	if cfg.UsesRedis() {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error("Redis close error", zap.Error(err))
			}
		}()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	// Initialize adapters
	metricsCollector := metricsprom.NewCollector(prometheus.DefaultRegisterer)
	eventBus := eventsmemory.NewInMemoryEventBus(logger)
	defer func() { _ = eventBus.Close() }()

	if cfg.Events.RedisMirror {
		mirror := eventsredis.NewStreamsMirror(redisClient, cfg.Events.StreamMaxLen, logger)
		mirror.Attach(eventBus)
		defer func() { _ = mirror.Close() }()
	}

	var snapshots ports.SnapshotStore
	switch cfg.Sessions.Backend {
	case config.BackendRedis:
		snapshots = redisstorage.NewSnapshotStore(redisClient, redisstorage.DefaultKey, cfg.Sessions.Retention*2, logger)
	default:
		snapshots = filestorage.NewSnapshotStore(cfg.Sessions.StatePath, logger)
	}

	agents, err := llm.NewAgentFactory(&llm.Config{
		Provider:          cfg.LLM.Provider,
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		MaxTokens:         cfg.LLM.MaxTokens,
		MaxToolIterations: cfg.LLM.MaxToolIterations,
		Metrics:           metricsCollector,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent factory: %w", err)
	}

	tracker := beads.NewClient(cfg.Tracker.Binary, cfg.Tracker.WorkDir, logger)

	// Initialize application components
	store := sessions.NewStore(eventBus, snapshots, metricsCollector, logger, sessions.StoreOptions{
		Retention:       cfg.Sessions.Retention,
		FlushInterval:   cfg.Sessions.FlushInterval,
		CleanupInterval: cfg.Sessions.CleanupInterval,
	})
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session store: %w", err)
	}

	pool := workers.NewPool(agents, metricsCollector, logger, workers.PoolOptions{Effort: cfg.Efforts()})
	if err := pool.Initialize(ctx, cfg.PoolSizes()); err != nil {
		return fmt.Errorf("failed to initialize worker pool: %w", err)
	}

	healthMonitor := workers.NewHealthMonitor(pool, cfg.Pool.HealthCheckInterval, logger)
	healthMonitor.Start()

	manager := orchestrator.NewManager(
		store,
		pool,
		tracker,
		prompt.NewBuilder(),
		orchestrator.NewValidator(),
		metricsCollector,
		logger,
		orchestrator.Options{
			AcquireTimeout: cfg.Timeouts.AcquireTimeout,
			TurnTimeout:    cfg.Timeouts.TurnTimeout,
		},
	)

	// Initialize API servers
	streamOpts := stream.Options{
		ReplayLimit: cfg.Stream.ReplayLimit,
		KeepAlive:   cfg.Stream.KeepAlive,
		MaxLifetime: cfg.Stream.MaxLifetime,
		Logger:      logger,
	}
	httpServer := http.NewServer(&http.Config{
		Port:    cfg.HTTPPort,
		Work:    manager,
		Watcher: store,
		Health:  healthMonitor,
		Stream:  streamOpts,
		Logger:  logger,
	})
	httpServer.SetupWebSocket(websocket.NewHandler(store, streamOpts, logger))

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:     cfg.GRPCPort,
		Checker:  healthMonitor,
		Interval: cfg.Pool.HealthCheckInterval,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}

	serverErrs := make(chan error, 2)
	go func() { serverErrs <- httpServer.Start() }()
	go func() { serverErrs <- grpcServer.Start() }()

	logger.Info("beadworks started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("planning_workers", cfg.Pool.PlanningSize),
		zap.Int("execution_workers", cfg.Pool.ExecutionSize))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case runErr = <-serverErrs:
		logger.Error("server failed", zap.Error(runErr))
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	healthMonitor.Stop()

	if err := pool.Dispose(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	if err := store.Stop(shutdownCtx); err != nil {
		logger.Error("session store shutdown error", zap.Error(err))
	}

	logger.Info("beadworks shut down complete")
	return runErr
}
