package api

import (
	"context"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// SchedulerService is the health service name reported for the run scheduler.
const SchedulerService = "tradex.Scheduler"

// HealthServer exposes grpc.health.v1 for orchestrators.
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server
	log    zerolog.Logger
}

func NewHealthServer(log zerolog.Logger) *HealthServer {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)
	hs.SetServingStatus(SchedulerService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{grpc: gs, health: hs, log: log}
}

// SetServing flips the overall and scheduler status.
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(SchedulerService, status)
}

// Serve blocks until the listener fails or Stop is called.
func (h *HealthServer) Serve(lis net.Listener) error {
	h.log.Info().Str("addr", lis.Addr().String()).Msg("grpc health listening")
	return h.grpc.Serve(lis)
}

// Stop marks everything not serving and drains connections until ctx ends.
func (h *HealthServer) Stop(ctx context.Context) {
	h.health.Shutdown()
	done := make(chan struct{})
	go func() {
		h.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		h.grpc.Stop()
	}
}
