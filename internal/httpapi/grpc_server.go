package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"authority.dev/internal/obs"
)

const (
	// GRPCAccessService is reported SERVING while the store is reachable.
	GRPCAccessService = "authority.v1.Access"
	// GRPCAttestationService is reported SERVING while a signing key is usable.
	GRPCAttestationService = "authority.v1.Attestation"
)

type attestCapability interface {
	CanAttest() bool
}

// GRPCServer exposes the standard gRPC health protocol for the service.
type GRPCServer struct {
	health    *health.Server
	readiness readinessChecker
	signer    attestCapability
}

// NewGRPCServer creates the gRPC health wrapper.
func NewGRPCServer(r readinessChecker, signer attestCapability) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	return &GRPCServer{
		health:    health.NewServer(),
		readiness: r,
		signer:    signer,
	}
}

// Register attaches the health service to s.
func (s *GRPCServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// Refresh re-evaluates readiness and signing capability.
func (s *GRPCServer) Refresh(ctx context.Context) {
	ready := s.readiness.Check(ctx) == nil
	obs.SetReady(ready)

	status := healthpb.HealthCheckResponse_SERVING
	if !ready {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(GRPCAccessService, status)

	signing := healthpb.HealthCheckResponse_NOT_SERVING
	if s.signer != nil && s.signer.CanAttest() {
		signing = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(GRPCAttestationService, signing)
}

// Run refreshes the health state every interval until ctx is done.
func (s *GRPCServer) Run(ctx context.Context, interval time.Duration) {
	s.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}
