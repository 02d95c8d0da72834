package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arborflow/arborflow/internal/config"
	"github.com/arborflow/arborflow/internal/execpool"
	"github.com/arborflow/arborflow/internal/gateway"
	"github.com/arborflow/arborflow/internal/registry"
	"github.com/arborflow/arborflow/pkg/adapters/events"
	memevents "github.com/arborflow/arborflow/pkg/adapters/events/memory"
	natsevents "github.com/arborflow/arborflow/pkg/adapters/events/nats"
	redisevents "github.com/arborflow/arborflow/pkg/adapters/events/redis"
	"github.com/arborflow/arborflow/pkg/adapters/metrics/prometheus"
	"github.com/arborflow/arborflow/pkg/adapters/storage"
	memstorage "github.com/arborflow/arborflow/pkg/adapters/storage/memory"
	redisstorage "github.com/arborflow/arborflow/pkg/adapters/storage/redis"
	"github.com/arborflow/arborflow/pkg/api/grpc"
	"github.com/arborflow/arborflow/pkg/api/http"
	"github.com/arborflow/arborflow/pkg/api/websocket"
)

var (
	// Version is set by build flags.
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting arborflow", zap.String("version", Version), zap.String("buildTime", BuildTime))

	metricsCollector := prometheus.NewCollector()

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.HandshakeTimeout+5*time.Second)
	gw, err := gateway.NewClient(connectCtx, gateway.Config{
		URL:              cfg.Gateway.URL,
		Token:            cfg.Gateway.Token,
		ClientID:         cfg.Gateway.ClientID,
		ClientMode:       cfg.Gateway.ClientMode,
		Role:             cfg.Gateway.Role,
		Scopes:           cfg.Gateway.ScopesList(),
		IdentityPath:     cfg.Gateway.IdentityPath,
		HandshakeTimeout: cfg.Timeouts.HandshakeTimeout,
		RequestTimeout:   cfg.Timeouts.RequestTimeout,
		Logger:           logger,
		Metrics:          metricsCollector,
	})
	cancel()
	if err != nil {
		logger.Fatal("failed to connect to gateway", zap.Error(err))
	}
	defer gw.Close()
	logger.Info("connected to gateway", zap.String("url", cfg.Gateway.URL), zap.String("state", gw.State().String()))

	pool := execpool.New(cfg.Workers.PoolSize, logger).WithMetrics(metricsCollector)
	stopHealth := pool.AttachHealthMonitor(cfg.Workers.HealthCheckInterval, func() bool {
		return gw.State() == gateway.StateReady
	})
	defer stopHealth()

	var redisClient *goredis.Client
	if cfg.Redis.Addr != "" {
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
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		pingErr := redisClient.Ping(pingCtx).Err()
		pingCancel()
		if pingErr != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(pingErr))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
		defer redisClient.Close()
	}

	eventBus, err := buildEventBus(cfg, redisClient, logger)
	if err != nil {
		logger.Fatal("failed to construct event bus", zap.Error(err))
	}
	defer eventBus.Close()

	runStore := buildRunStore(redisClient, logger)

	reg := registry.New(gw, logger, pool).
		WithTimeouts(cfg.Timeouts.GraphExecutionTimeout, cfg.Timeouts.NodeExecutionTimeout).
		WithMetrics(metricsCollector).
		WithRunStore(runStore).
		WithEventBus(eventBus)

	httpServer := http.NewServer(&http.Config{
		Port:     cfg.HTTPPort,
		Registry: reg,
		Gateway:  gw,
		Logger:   logger,
	})

	wsHandler := websocket.NewHandler(reg, logger)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:    cfg.GRPCPort,
		Gateway: gw,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

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

	logger.Info("arborflow started",
		zap.Int("httpPort", cfg.HTTPPort),
		zap.Int("grpcPort", cfg.GRPCPort),
		zap.Int("execPoolSize", cfg.Workers.PoolSize),
		zap.String("eventsBackend", cfg.Events.Backend))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	logger.Info("arborflow shut down complete")
}

// buildEventBus selects an EventBus implementation per cfg.Events.Backend.
// It exists alongside the registry's own in-memory subscription bus:
// this one is for mirroring a run's events to subscribers outside this
// process, the horizontally-scaled deployment case.
func buildEventBus(cfg *config.Config, redisClient *goredis.Client, logger *zap.Logger) (events.EventBus, error) {
	switch cfg.Events.Backend {
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("events backend %q requires ARBORFLOW redis configuration", cfg.Events.Backend)
		}
		return redisevents.New(redisClient, "arborflow-subscribers", fmt.Sprintf("arborflow-%d", os.Getpid()), logger), nil
	case "nats":
		conn, err := nats.Connect(cfg.Events.NatsURL)
		if err != nil {
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		return natsevents.New(conn, cfg.Events.Subject, logger), nil
	case "memory", "":
		return memevents.New(), nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Events.Backend)
	}
}

// buildRunStore picks Redis-backed run persistence when Redis is
// configured, else an in-process memory store.
func buildRunStore(redisClient *goredis.Client, logger *zap.Logger) storage.RunStore {
	if redisClient != nil {
		return redisstorage.New(redisClient, 24*time.Hour, logger)
	}
	return memstorage.New()
}

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

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	return logger
}
