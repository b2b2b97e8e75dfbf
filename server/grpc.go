package server

import (
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is reported by the gRPC health service next to the overall status
const ServiceName = "tracesdl.Downloader"

// GRPCServer exposes grpc.health.v1 for process supervisors
type GRPCServer struct {
	Logger *log.Logger

	server *grpc.Server
	health *health.Server
}

// NewGRPCServer creates a server reporting SERVING until Shutdown
func NewGRPCServer(logger *log.Logger) *GRPCServer {
	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &GRPCServer{Logger: logger, server: s, health: hs}
}

// Serve blocks until the server stops
func (s *GRPCServer) Serve(lis net.Listener) error {
	s.Logger.Printf("gRPC health server listening on %s", lis.Addr())
	if err := s.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Shutdown flips every service to NOT_SERVING and stops gracefully
func (s *GRPCServer) Shutdown() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
