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

func startBufGRPC(t *testing.T, srv *GRPCServer) (*grpc.ClientConn, func()) {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	srv.Register(server)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.Dial()
	}
	conn, err := grpc.DialContext(
		context.Background(),
		"bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}

	cleanup := func() {
		server.GracefulStop()
		_ = conn.Close()
		_ = listener.Close()
	}
	return conn, cleanup
}

type staticSigner bool

func (s staticSigner) CanAttest() bool { return bool(s) }

type failingReadiness struct{}

func (failingReadiness) Check(context.Context) error { return errors.New("boom") }

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q) error: %v", service, err)
	}
	return resp.GetStatus()
}

func TestGRPCHealth_Serving(t *testing.T) {
	srv := NewGRPCServer(ReadyProbe{}, staticSigner(true))
	srv.Refresh(context.Background())
	conn, cleanup := startBufGRPC(t, srv)
	defer cleanup()

	client := healthpb.NewHealthClient(conn)
	for _, svc := range []string{"", GRPCAccessService, GRPCAttestationService} {
		if got := check(t, client, svc); got != healthpb.HealthCheckResponse_SERVING {
			t.Fatalf("%q: unexpected status %s", svc, got)
		}
	}
}

func TestGRPCHealth_Degraded(t *testing.T) {
	srv := NewGRPCServer(failingReadiness{}, staticSigner(false))
	srv.Refresh(context.Background())
	conn, cleanup := startBufGRPC(t, srv)
	defer cleanup()

	client := healthpb.NewHealthClient(conn)
	if got := check(t, client, GRPCAccessService); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("access: unexpected status %s", got)
	}
	if got := check(t, client, GRPCAttestationService); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("attestation: unexpected status %s", got)
	}
}
