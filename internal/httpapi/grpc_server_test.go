package httpapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

func startBufGRPC(t *testing.T, hs *HealthServer) *grpc.ClientConn {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	server := NewGRPCServer(hs)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
		_ = listener.Close()
	})
	return conn
}

type toggleReadiness struct{ err error }

func (r *toggleReadiness) Check(context.Context) error { return r.err }

func TestHealthServerFollowsReadiness(t *testing.T) {
	probe := &toggleReadiness{}
	hs := NewHealthServer(probe, nil)
	client := healthpb.NewHealthClient(startBufGRPC(t, hs))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%q): %v", service, err)
		}
		return resp.GetStatus()
	}

	if got := check(""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("initial status = %v", got)
	}
	if !hs.Probe(ctx) {
		t.Fatalf("probe reported failure")
	}
	for _, svc := range []string{"", serviceName} {
		if got := check(svc); got != healthpb.HealthCheckResponse_SERVING {
			t.Fatalf("status(%q) = %v", svc, got)
		}
	}

	probe.err = errors.New("db down")
	if hs.Probe(ctx) {
		t.Fatalf("probe reported success")
	}
	if got := check(serviceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status after failure = %v", got)
	}
}

func TestHealthServerRunStopsWithContext(t *testing.T) {
	hs := NewHealthServer(ReadyProbe{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hs.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	hs.Shutdown()
}
