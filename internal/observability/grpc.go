package observability

import (
	"context"
	"net"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer exposes grpc.health.v1 for load balancers and orchestrators.
type HealthServer struct {
	addr   string
	server *grpc.Server
	health *health.Server
	log    zerolog.Logger
}

// NewHealthServer builds an instrumented gRPC server carrying only the health
// service.
func NewHealthServer(addr string, log zerolog.Logger) *HealthServer {
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	return &HealthServer{
		addr:   addr,
		server: server,
		health: hs,
		log:    log.With().Str("component", "grpc-health").Logger(),
	}
}

// SetServing flips the overall serving status.
func (s *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
}

// Run listens on the configured address and serves until ctx is done.
func (s *HealthServer) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Serve reports SERVING on lis until ctx is done, then flips to NOT_SERVING
// and drains in-flight checks.
func (s *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	s.SetServing(true)
	s.log.Info().Str("addr", lis.Addr().String()).Msg("grpc health server listening")

	go func() {
		<-ctx.Done()
		s.SetServing(false)
		s.server.GracefulStop()
	}()
	return s.server.Serve(lis)
}
