// Command gatewaysim is a minimal reference implementation of the
// remote gateway's wire protocol (spec.md §4.2): the server side of
// the handshake, the chat RPC surface, and the chat delta/final event
// stream. It exists for local development against internal/gateway's
// Client, not for production use; the repository's own tests use the
// in-process fake in internal/gatewaytest instead.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is read from the environment, mirroring internal/config's
// caarlos0/env usage for the main orchestrator binary.
type Config struct {
	Addr            string        `env:"GATEWAYSIM_ADDR" envDefault:":9090"`
	Token           string        `env:"GATEWAYSIM_TOKEN"`
	AnthropicAPIKey string        `env:"ANTHROPIC_API_KEY"`
	AnthropicModel  string        `env:"GATEWAYSIM_MODEL" envDefault:"claude-3-5-haiku-20241022"`
	ChallengeEvery  bool          `env:"GATEWAYSIM_CHALLENGE" envDefault:"true"`
	LogLevel        string        `env:"GATEWAYSIM_LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"GATEWAYSIM_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	responder := newChatResponder(cfg.AnthropicAPIKey, cfg.AnthropicModel, logger)

	mux := http.NewServeMux()
	srv := &gatewaySim{cfg: cfg, logger: logger, responder: responder}
	mux.HandleFunc("/ws", srv.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		logger.Info("gatewaysim listening", zap.String("addr", cfg.Addr), zap.Bool("usingAnthropic", cfg.AnthropicAPIKey != ""))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("gatewaysim server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("gatewaysim shutdown error", zap.Error(err))
	}
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	return logger
}
