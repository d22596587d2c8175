package health

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/testing/protocmp"

	"github.com/banshee-data/facestream/internal/tracking"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func transition(c tracking.Category, to tracking.State) tracking.Transition {
	from := tracking.Active
	if to == tracking.Active {
		from = tracking.Stale
	}
	return tracking.Transition{Category: c, From: from, To: to, At: t0}
}

func TestNew_InitialStatus(t *testing.T) {
	s := New()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, s.Status(""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, s.Status(EyeService))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, s.Status(FaceService))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVICE_UNKNOWN, s.Status("facestream.other"))
}

func TestObserve_FollowsTransitions(t *testing.T) {
	s := New()
	s.Observe(transition(tracking.CategoryEye, tracking.Active))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, s.Status(EyeService))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, s.Status(FaceService))

	s.Observe(transition(tracking.CategoryMouth, tracking.Active))
	s.Observe(transition(tracking.CategoryEye, tracking.Stale))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, s.Status(EyeService))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, s.Status(FaceService))

	// Ungated categories have no service.
	s.Observe(transition(tracking.CategoryOther, tracking.Active))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVICE_UNKNOWN, s.Status("facestream.other"))
}

func TestServer_CheckOverGRPC(t *testing.T) {
	s := New()
	require.NoError(t, s.Start("127.0.0.1:0"))
	defer s.Stop()
	require.Error(t, s.Start("127.0.0.1:0"), "second start rejected")

	conn, err := grpc.NewClient(s.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	resp, err := client.Check(t.Context(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	want := &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}
	if diff := cmp.Diff(want, resp, protocmp.Transform()); diff != "" {
		t.Errorf("overall check mismatch (-want +got):\n%s", diff)
	}

	s.Observe(transition(tracking.CategoryEye, tracking.Active))
	resp, err = client.Check(t.Context(), &healthpb.HealthCheckRequest{Service: EyeService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestServer_StopEndsWatch(t *testing.T) {
	s := New()
	require.NoError(t, s.Start("127.0.0.1:0"))

	conn, err := grpc.NewClient(s.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	stream, err := healthpb.NewHealthClient(conn).Watch(t.Context(), &healthpb.HealthCheckRequest{Service: FaceService})
	require.NoError(t, err)
	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, first.GetStatus())

	s.Observe(transition(tracking.CategoryMouth, tracking.Active))
	next, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, next.GetStatus())

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(StopGrace + 2*time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, s.Status(""))
}

func TestStop_BeforeStart(t *testing.T) {
	s := New()
	s.Stop()
	assert.Nil(t, s.Addr())
}
