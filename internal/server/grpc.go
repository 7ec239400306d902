package server

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// StorageHealthService is the grpc.health.v1 service name that tracks the blob chain.
const StorageHealthService = "nfe.storage"

// GRPCHealth serves the standard gRPC health protocol. The empty service name is
// SERVING while the process runs; StorageHealthService follows local-tier writability.
type GRPCHealth struct {
	srv     *grpc.Server
	hs      *health.Server
	storage StorageInspector
	logger  *slog.Logger
}

func NewGRPCHealth(storage StorageInspector, logger *slog.Logger) *GRPCHealth {
	if logger == nil {
		logger = slog.Default()
	}
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	g := &GRPCHealth{srv: srv, hs: hs, storage: storage, logger: logger}
	g.refresh(context.Background())
	return g
}

func (g *GRPCHealth) refresh(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	h := g.storage.Health(ctx)
	if !h.Local.Writable {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.hs.SetServingStatus(StorageHealthService, st)
}

// Watch re-probes storage every interval until ctx ends.
func (g *GRPCHealth) Watch(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			g.refresh(ctx)
		}
	}
}

func (g *GRPCHealth) Serve(lis net.Listener) error {
	g.logger.Info("grpc.health.serving", "addr", lis.Addr().String())
	return g.srv.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (g *GRPCHealth) Stop() {
	g.hs.Shutdown()
	g.srv.GracefulStop()
}
