package httpapi

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"qazna.org/authcore/internal/obs"
)

// HealthServer publishes the readiness probe through grpc.health.v1.Health,
// both for the whole server ("") and for serviceName.
type HealthServer struct {
	srv       *health.Server
	readiness ReadinessChecker
	log       *slog.Logger
}

// NewHealthServer starts in NOT_SERVING until the first probe succeeds.
func NewHealthServer(r ReadinessChecker, logger *slog.Logger) *HealthServer {
	if r == nil {
		r = ReadyProbe{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	hs := &HealthServer{srv: health.NewServer(), readiness: r, log: logger}
	hs.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return hs
}

// Probe runs the readiness check once and publishes the result.
func (h *HealthServer) Probe(ctx context.Context) bool {
	if err := h.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		obs.LogError(h.log, "grpc readiness probe failed", err)
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	obs.SetReady(true)
	h.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Run probes every interval until ctx is done.
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	h.Probe(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Probe(ctx)
		}
	}
}

// Shutdown marks every service NOT_SERVING and ends active watches.
func (h *HealthServer) Shutdown() {
	h.srv.Shutdown()
}

func (h *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(serviceName, status)
}

// NewGRPCServer returns a gRPC server exposing hs.
func NewGRPCServer(hs *HealthServer, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s, hs.srv)
	return s
}
