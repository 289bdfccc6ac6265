package server

import (
	"context"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the service name reported by the health endpoint next to
// the overall "" status.
const HealthService = "sealdb.Store"

// Health exposes the standard gRPC health protocol.
type Health struct {
	hs  *health.Server
	gs  *grpc.Server
	log *zap.Logger
}

// NewHealth returns a health endpoint reporting NOT_SERVING until SetServing.
func NewHealth(log *zap.Logger) *Health {
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	h := &Health{hs: hs, gs: gs, log: log}
	h.SetServing(false)
	return h
}

// SetServing flips the reported status of both service names.
func (h *Health) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.hs.SetServingStatus("", st)
	h.hs.SetServingStatus(HealthService, st)
}

// Serve blocks until ctx is canceled, then stops gracefully.
func (h *Health) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		h.hs.Shutdown()
		h.gs.GracefulStop()
	})
	defer stop()

	h.log.Info("health endpoint listening", zap.String("addr", ln.Addr().String()))
	err := h.gs.Serve(ln)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
