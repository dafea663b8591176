package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"edgauth.org/internal/obs"
)

// GRPCServer serves the standard gRPC health protocol backed by the readiness probe.
// Watch and List come from the embedded health.Server, which Check keeps current.
type GRPCServer struct {
	*health.Server

	readiness readinessChecker
	version   string
}

func NewGRPCServer(r readinessChecker, version string) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	return &GRPCServer{
		Server:    health.NewServer(),
		readiness: r,
		version:   version,
	}
}

// Register attaches the health service to gs.
func (s *GRPCServer) Register(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, s)
}

// Check probes dependencies for the overall ("") and edg-auth services; other names
// fall through to the embedded server.
func (s *GRPCServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if name := req.GetService(); name != "" && name != serviceName {
		return s.Server.Check(ctx, req)
	}
	status := s.Probe(ctx)
	return &healthpb.HealthCheckResponse{Status: status}, nil
}

// Probe runs the readiness check once and publishes the result.
func (s *GRPCServer) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := s.readiness.Check(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		obs.Logger().Warn().Err(err).Str("version", s.version).Msg("grpc health: not serving")
	}
	obs.SetReady(status == healthpb.HealthCheckResponse_SERVING)
	s.SetServingStatus("", status)
	s.SetServingStatus(serviceName, status)
	return status
}
