package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/arborflow/arborflow/internal/gateway"
)

const healthServiceName = "arborflow"
const healthPollInterval = 5 * time.Second

// Server is a minimal gRPC surface: just the standard health-checking
// protocol, reporting SERVING/NOT_SERVING keyed to gateway-connection
// readiness (spec.md doesn't mandate a gRPC API; this is the smallest
// real thing a gRPC listener in this tree can usefully do).
type Server struct {
	server   *grpc.Server
	listener net.Listener
	health   *health.Server
	gw       *gateway.Client
	logger   *zap.Logger
	stopCh   chan struct{}
}

// Config holds gRPC server configuration.
type Config struct {
	Port    int
	Gateway *gateway.Client
	Logger  *zap.Logger
}

// NewServer creates a new gRPC server.
func NewServer(cfg *Config) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(healthServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{
		server:   grpcServer,
		listener: listener,
		health:   healthServer,
		gw:       cfg.Gateway,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start starts the gRPC server and its background health poller.
func (s *Server) Start() error {
	go s.pollHealth()

	s.logger.Info("starting gRPC server", zap.String("addr", s.listener.Addr().String()))
	if err := s.server.Serve(s.listener); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")
	close(s.stopCh)
	s.health.Shutdown()
	s.server.GracefulStop()
	return nil
}

func (s *Server) pollHealth() {
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			status := healthpb.HealthCheckResponse_NOT_SERVING
			if s.gw != nil && s.gw.State() == gateway.StateReady {
				status = healthpb.HealthCheckResponse_SERVING
			}
			s.health.SetServingStatus(healthServiceName, status)
		}
	}
}
