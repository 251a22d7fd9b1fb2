package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/skypro1111/speech-orchestrator/internal/orchestrator"
)

// ServiceName is the health service name reported for the orchestrator
const ServiceName = "speech.Orchestrator"

// StatusSource reports the orchestrator session status
type StatusSource interface {
	Status() orchestrator.Status
}

// Server exposes the standard gRPC health protocol for the orchestrator
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	source     StatusSource
	logger     *slog.Logger
	interval   time.Duration

	stopTimeout time.Duration
}

// NewServer creates a health server. interval controls how often the
// orchestrator status is sampled by Watch.
func NewServer(source StatusSource, interval time.Duration, logger *slog.Logger) *Server {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthgrpc.RegisterHealthServer(grpcServer, healthServer)

	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, healthgrpc.HealthCheckResponse_NOT_SERVING)

	return &Server{
		grpcServer:  grpcServer,
		health:      healthServer,
		source:      source,
		logger:      logger.With("component", "health"),
		interval:    interval,
		stopTimeout: 5 * time.Second,
	}
}

// Serve accepts connections on lis until Stop is called
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("Starting gRPC health server", slog.String("address", lis.Addr().String()))
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("health server terminated: %w", err)
	}
	return nil
}

// ListenAndServe binds addr and serves on it
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind health listener on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Watch mirrors the orchestrator status into the health service until ctx is
// cancelled. The service is SERVING while the session is not errored.
func (s *Server) Watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh()
		}
	}
}

// Refresh samples the orchestrator once and updates the serving status
func (s *Server) Refresh() healthgrpc.HealthCheckResponse_ServingStatus {
	status := healthgrpc.HealthCheckResponse_SERVING
	if s.source == nil || s.source.Status().Errored {
		status = healthgrpc.HealthCheckResponse_NOT_SERVING
	}

	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Stop marks the service as not serving and stops gracefully, forcing the
// stop after a timeout
func (s *Server) Stop() {
	s.logger.Info("Stopping gRPC health server...")
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(s.stopTimeout):
		s.logger.Warn("Graceful stop timed out, forcing stop")
		s.grpcServer.Stop()
	}
}
