package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/musterd/muster/internal/application/fleet"
	"github.com/musterd/muster/internal/application/orchestrator"
	"github.com/musterd/muster/internal/application/planner"
	"github.com/musterd/muster/internal/application/triggers"
	"github.com/musterd/muster/internal/config"
	redisevents "github.com/musterd/muster/pkg/adapters/events/redis"
	"github.com/musterd/muster/pkg/adapters/llm"
	"github.com/musterd/muster/pkg/adapters/metrics/prometheus"
	redisstorage "github.com/musterd/muster/pkg/adapters/storage/redis"
	"github.com/musterd/muster/pkg/adapters/workflow"
	"github.com/musterd/muster/pkg/api/grpc"
	"github.com/musterd/muster/pkg/api/http"
	"github.com/musterd/muster/pkg/api/ws"
	"github.com/musterd/muster/pkg/ports"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting muster",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	// Initialize Redis client
	redisClient := goredis.NewClient(&goredis.Options{
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

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

	// Initialize adapters
	eventBus, err := redisevents.NewStreamsEventBus(
		redisClient,
		"musterd",
		fmt.Sprintf("musterd-%d", os.Getpid()),
		logger,
	)
	if err != nil {
		logger.Fatal("failed to create event bus", zap.Error(err))
	}

	repo := redisstorage.NewRepository(
		redisClient,
		logger,
		redisstorage.WithTerminalTTL(cfg.Redis.TerminalItemTTL),
	)

	llmClient, err := llm.NewClient(&llm.Config{
		Provider:      cfg.LLM.Provider,
		APIKey:        cfg.LLM.APIKey,
		FastModel:     cfg.LLM.FastModel,
		BalancedModel: cfg.LLM.BalancedModel,
		DeepModel:     cfg.LLM.DeepModel,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("failed to create LLM client", zap.Error(err))
	}

	metricsCollector := prometheus.NewCollector()

	runtime := workflow.NewRuntime(logger,
		workflow.WithWorkflow(ports.WorkflowSummary{
			ID:          "wf-research",
			Description: "Investigate a topic and summarize findings",
			Stages:      []string{"gather", "analyze", "summarize"},
			Affinity:    "research",
		}),
		workflow.WithWorkflow(ports.WorkflowSummary{
			ID:          "wf-build",
			Description: "Produce an artifact from a work description",
			Stages:      []string{"plan", "build", "verify"},
			Affinity:    "build",
		}),
		workflow.WithWorkflow(ports.WorkflowSummary{
			ID:          "wf-review",
			Description: "Review and approve produced artifacts",
			Stages:      []string{"review"},
			Affinity:    "",
		}),
	)

	// Initialize application components
	store := orchestrator.NewStore(repo, eventBus, metricsCollector, logger)
	resolver := orchestrator.NewResolver(store, logger)
	lifecycle := orchestrator.NewLifecycle(store, logger, cfg.Dispatcher.AckTimeout, cfg.Dispatcher.MaxRetries)

	hub := fleet.NewHub(
		lifecycle,
		cfg.Fleet.LivenessTimeout,
		cfg.Fleet.SweepInterval,
		eventBus,
		metricsCollector,
		logger,
	)

	dispatcher := orchestrator.NewDispatcher(
		lifecycle,
		resolver,
		hub,
		cfg.Dispatcher.Interval,
		metricsCollector,
		logger,
	)

	// Graph changes and fleet capacity both wake the dispatch loop.
	store.OnChange(dispatcher.Poke)
	hub.OnCapacity(dispatcher.Poke)

	builder := planner.NewBuilder(llmClient, runtime, store, cfg.LLM.MaxTokens, cfg.LLM.RequestTimeout, metricsCollector, logger)

	scheduler := triggers.NewScheduler(repo, builder, cfg.Triggers.TickInterval, eventBus, metricsCollector, logger)

	// Reload persisted state before accepting traffic. In-flight items come
	// back as ready so the dispatcher hands them out again.
	if err := store.Restore(ctx); err != nil {
		logger.Fatal("failed to restore state", zap.Error(err))
	}

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:      cfg.HTTPPort,
		Store:     store,
		Resolver:  resolver,
		Lifecycle: lifecycle,
		Hub:       hub,
		Builder:   builder,
		Scheduler: scheduler,
		Logger:    logger,
	})

	// Mount the worker gateway on the HTTP server
	wsHandler := ws.NewHandler(hub, logger)
	httpServer.SetupWorkerGateway(wsHandler.HandleWorker)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start background loops
	loopCtx, stopLoops := context.WithCancel(context.Background())
	go hub.Run(loopCtx)
	go dispatcher.Start(loopCtx)
	go scheduler.Run(loopCtx)

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("muster started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	// Stop accepting work before stopping the loops that drain it.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	stopLoops()

	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Error("fleet hub shutdown error", zap.Error(err))
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if err := redisClient.Close(); err != nil {
		logger.Error("Redis close error", zap.Error(err))
	}

	logger.Info("muster shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
