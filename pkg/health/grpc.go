package health

import (
	"context"
	"fmt"
	"net"

	"streamkit/backend/pkg/logger"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServer exposes the checker through the standard grpc.health.v1 service
// so orchestrators can probe the process without going through HTTP.
type GRPCServer struct {
	server *grpc.Server
	health *grpchealth.Server
	log    *logger.Logger
}

// NewGRPCServer creates a gRPC health server mirroring the checker state
func NewGRPCServer(checker *Checker, log *logger.Logger) *GRPCServer {
	hs := grpchealth.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	g := &GRPCServer{server: srv, health: hs, log: log}
	g.setServing(checker.IsSystemHealthy())
	checker.OnChange(g.setServing)

	return g
}

func (g *GRPCServer) setServing(healthy bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
}

// HealthServer returns the underlying health service, mainly for tests
func (g *GRPCServer) HealthServer() healthpb.HealthServer {
	return g.health
}

// Serve listens on addr until ctx is done
func (g *GRPCServer) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	go func() {
		<-ctx.Done()
		g.health.Shutdown()
		g.server.GracefulStop()
	}()

	g.log.Info("gRPC health server listening", "addr", addr)
	if err := g.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}
