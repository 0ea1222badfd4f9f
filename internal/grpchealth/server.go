// Package grpchealth serves the standard grpc.health.v1.Health service so
// orchestrators that health-check over gRPC can watch a running gateway.
package grpchealth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the named service reported alongside the overall ("") status.
const ServiceName = "clirelay"

// Server wraps a gRPC server exposing only health and reflection.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// New builds a server that reports NOT_SERVING until Serve is called.
func New(logger *slog.Logger) *Server {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	s := &Server{grpc: gs, health: hs, logger: logger}
	s.SetServing(false)
	return s
}

// SetServing flips the overall and named service status.
func (s *Server) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Start listens on addr and serves until ctx is canceled (blocking).
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve reports SERVING on ln until ctx is canceled, then NOT_SERVING while
// in-flight RPCs drain.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("gRPC health server starting", "listen", ln.Addr().String())
	s.SetServing(true)

	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(ln) }()

	select {
	case <-ctx.Done():
		s.logger.Info("gRPC health server shutting down")
		s.health.Shutdown()
		s.grpc.GracefulStop()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		s.health.Shutdown()
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	}
}
