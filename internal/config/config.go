package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the arborflow orchestrator.
type Config struct {
	HTTPPort int    `env:"ARBORFLOW_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"ARBORFLOW_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Gateway GatewayConfig
	Redis   RedisConfig
	Events  EventsConfig
	Workers WorkerConfig
	Timeouts TimeoutConfig
}

// GatewayConfig configures the connection to the remote session
// gateway (spec.md §4.1, §4.2).
type GatewayConfig struct {
	URL          string `env:"GATEWAY_URL" envDefault:"ws://localhost:4000/ws"`
	Token        string `env:"GATEWAY_TOKEN"`
	ClientID     string `env:"GATEWAY_CLIENT_ID" envDefault:"arborflow"`
	ClientMode   string `env:"GATEWAY_CLIENT_MODE" envDefault:"orchestrator"`
	Role         string `env:"GATEWAY_ROLE" envDefault:"operator"`
	Scopes       string `env:"GATEWAY_SCOPES" envDefault:"chat,sessions"`
	IdentityPath string `env:"GATEWAY_IDENTITY_PATH" envDefault:"./data/device-identity.json"`
}

// ScopesList splits the comma-separated Scopes field.
func (g GatewayConfig) ScopesList() []string {
	if g.Scopes == "" {
		return nil
	}
	parts := strings.Split(g.Scopes, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// RedisConfig holds Redis connection configuration, used by the
// pluggable event bus and storage adapters.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// EventsConfig selects and configures the event bus backend that
// mirrors run events (memory, redis, or nats).
type EventsConfig struct {
	Backend  string `env:"EVENTS_BACKEND" envDefault:"memory"`
	NatsURL  string `env:"EVENTS_NATS_URL" envDefault:"nats://localhost:4222"`
	Subject  string `env:"EVENTS_NATS_SUBJECT" envDefault:"arborflow.runs"`
}

// WorkerConfig sizes the bounded concurrent execution pool that
// dispatches node executors within a level.
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"16"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds the timeouts named in spec.md §5, plus the two
// wall-clock ceilings (graph and node) that bound a run regardless of
// how the gateway itself behaves.
type TimeoutConfig struct {
	HandshakeTimeout time.Duration `env:"TIMEOUT_HANDSHAKE" envDefault:"10s"`
	RequestTimeout   time.Duration `env:"TIMEOUT_RPC" envDefault:"30s"`
	ChatTimeout      time.Duration `env:"TIMEOUT_CHAT" envDefault:"120s"`
	ShutdownTimeout  time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`

	GraphExecutionTimeout time.Duration `env:"TIMEOUT_GRAPH_EXECUTION" envDefault:"3600s"`
	NodeExecutionTimeout  time.Duration `env:"TIMEOUT_NODE_EXECUTION" envDefault:"300s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway URL is required")
	}
	if c.Gateway.IdentityPath == "" {
		return fmt.Errorf("gateway identity path is required")
	}
	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}

	validBackends := map[string]bool{"memory": true, "redis": true, "nats": true}
	if !validBackends[c.Events.Backend] {
		return fmt.Errorf("invalid events backend: %s (must be memory, redis, or nats)", c.Events.Backend)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address.
func (c *Config) GetHTTPAddr() string { return fmt.Sprintf(":%d", c.HTTPPort) }

// GetGRPCAddr returns the gRPC server address.
func (c *Config) GetGRPCAddr() string { return fmt.Sprintf(":%d", c.GRPCPort) }
