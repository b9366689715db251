// Package grpc exposes the standard gRPC health service of the userdir
// server. Besides the overall server status it reports the state of the
// upstream user source as the "userdir.upstream" service.
package grpc

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dmitrijs2005/userdir/internal/logging"
	"github.com/dmitrijs2005/userdir/internal/server/resilience"
)

// UpstreamService is the health service name tracking the circuit breaker.
const UpstreamService = "userdir.upstream"

type GRPCServer struct {
	address string
	health  *health.Server
	logger  logging.Logger
}

func NewGRPCServer(address string, l logging.Logger) *GRPCServer {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(UpstreamService, healthpb.HealthCheckResponse_SERVING)

	return &GRPCServer{
		address: address,
		health:  hs,
		logger:  l.With("module", "grpc_server"),
	}
}

// SetUpstreamState maps a breaker state to the upstream health status:
// NOT_SERVING while open, SERVING otherwise.
func (s *GRPCServer) SetUpstreamState(state resilience.State) {
	status := healthpb.HealthCheckResponse_SERVING
	if state == resilience.StateOpen {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(UpstreamService, status)
}

// BreakerListener returns a breaker state listener that keeps the upstream
// health status in sync.
func (s *GRPCServer) BreakerListener() func(from, to resilience.State) {
	return func(from, to resilience.State) {
		s.logger.Info(context.Background(), "upstream circuit changed", "from", from.String(), "to", to.String())
		s.SetUpstreamState(to)
	}
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	healthpb.RegisterHealthServer(srv, s.health)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
