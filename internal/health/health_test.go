package health

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/planeplopper/internal/timeutil"
)

type fakeReporter struct {
	running, immersive, stopped atomic.Bool
}

func (f *fakeReporter) Running() bool                   { return f.running.Load() }
func (f *fakeReporter) CanEnterImmersiveSpace() bool    { return f.immersive.Load() }
func (f *fakeReporter) ProvidersStoppedWithError() bool { return f.stopped.Load() }

func healthy() *fakeReporter {
	r := &fakeReporter{}
	r.running.Store(true)
	r.immersive.Store(true)
	return r
}

func TestStatus(t *testing.T) {
	r := healthy()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, Status(r))

	r.stopped.Store(true)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, Status(r))

	r = healthy()
	r.immersive.Store(false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, Status(r))

	r = healthy()
	r.running.Store(false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, Status(r))
}

func TestUpdate(t *testing.T) {
	s := NewServer("127.0.0.1:0")
	ctx := context.Background()

	st, err := s.Check(ctx, ServiceName)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)

	s.Update(healthy())
	for _, service := range []string{"", ServiceName} {
		st, err := s.Check(ctx, service)
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st, service)
	}
}

func TestWatch(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	s := NewServer("127.0.0.1:0")
	r := healthy()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, clock, r) }()

	require.True(t, clock.BlockUntil(1, time.Second))
	st, _ := s.Check(ctx, ServiceName)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	r.stopped.Store(true)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		st, _ := s.Check(context.Background(), ServiceName)
		return st == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 5*time.Millisecond)

	cancel()
	clock.Advance(time.Second)
	require.NoError(t, <-done)
}

func TestServeOverGRPC(t *testing.T) {
	s := NewServer("127.0.0.1:0")
	require.NoError(t, s.Start())
	defer s.Stop()
	assert.Error(t, s.Start())
	s.Update(healthy())

	conn, err := grpc.NewClient(s.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}
