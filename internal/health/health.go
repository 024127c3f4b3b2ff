// Package health publishes session health over the standard gRPC health
// protocol.
package health

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/planeplopper/internal/monitoring"
	"github.com/banshee-data/planeplopper/internal/poller"
	"github.com/banshee-data/planeplopper/internal/timeutil"
)

// ServiceName is the service reported alongside the overall ("") status.
const ServiceName = "planeplopper"

// Reporter is the part of the session adapter health is derived from.
type Reporter interface {
	Running() bool
	CanEnterImmersiveSpace() bool
	ProvidersStoppedWithError() bool
}

// Status maps adapter state to a serving status.
func Status(r Reporter) healthpb.HealthCheckResponse_ServingStatus {
	if r.Running() && r.CanEnterImmersiveSpace() && !r.ProvidersStoppedWithError() {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Server is a gRPC server exposing only the health service.
type Server struct {
	addr   string
	health *health.Server

	server   *grpc.Server
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup

	mu   sync.Mutex
	last healthpb.HealthCheckResponse_ServingStatus
}

// NewServer creates a health server for addr. It reports NOT_SERVING
// until the first Update.
func NewServer(addr string) *Server {
	s := &Server{addr: addr, health: health.NewServer(), last: healthpb.HealthCheckResponse_UNKNOWN}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

func (s *Server) set(st healthpb.HealthCheckResponse_ServingStatus) {
	s.mu.Lock()
	changed := st != s.last
	s.last = st
	s.mu.Unlock()
	if !changed {
		return
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
	monitoring.Logf("[gRPC] health is now %s", st)
}

// Update recomputes the status from r.
func (s *Server) Update(r Reporter) {
	s.set(Status(r))
}

// Check answers a health query without going through the network.
func (s *Server) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.Status, nil
}

// Watch calls Update once a second until ctx is cancelled.
func (s *Server) Watch(ctx context.Context, clock timeutil.Clock, r Reporter) error {
	s.Update(r)
	return poller.Run(ctx, clock, 1, func(context.Context) { s.Update(r) })
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("health server already running")
	}
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis
	s.server = grpc.NewServer()
	healthpb.RegisterHealthServer(s.server, s.health)
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		monitoring.Logf("[gRPC] health server listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			monitoring.Logf("[gRPC] health server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop marks every service NOT_SERVING and stops the server.
func (s *Server) Stop() {
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	s.health.Shutdown()
	s.server.GracefulStop()
	s.wg.Wait()
	monitoring.Logf("[gRPC] health server stopped")
}
