package grpc

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/turtacn/sharedauth/pkg/logger"
)

// healthPrefix is the method prefix of the standard health service, always public.
const healthPrefix = "/grpc.health.v1.Health/"

// Server is the gRPC listener of the auth node. Embedding services register on Registrar()
// before Serve and inherit the authentication interceptors.
type Server struct {
	server *grpc.Server
	health *health.Server
	ready  func(ctx context.Context) error
	log    logger.Logger
}

// NewServer creates the server. ready decides the health status reported for the empty service
// name and is re-evaluated by Watch.
func NewServer(chain *InterceptorChain, ready func(ctx context.Context) error, debug bool, log logger.Logger) *Server {
	chain.WithPublicPrefix(healthPrefix)

	s := &Server{
		server: grpc.NewServer(chain.ChainUnaryInterceptors()),
		health: health.NewServer(),
		ready:  ready,
		log:    log.WithComponent("grpc_server"),
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	if debug {
		reflection.Register(s.server)
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Registrar is where embedding services register their implementations.
func (s *Server) Registrar() grpc.ServiceRegistrar {
	return s.server
}

// UpdateHealth evaluates ready once and publishes the result.
func (s *Server) UpdateHealth(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	if err := s.ready(ctx); err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
}

// Watch re-evaluates health every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.UpdateHealth(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Serve accepts connections on lis until Stop. Stopping, even before Serve ran, is not an error.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info(context.Background(), "Starting gRPC server", logger.String("address", lis.Addr().String()))
	if err := s.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Stop drains in-flight calls, forcing the stop when ctx expires first.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.server.Stop()
		<-done
	}
}
