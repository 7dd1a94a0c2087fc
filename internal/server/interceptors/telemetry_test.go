package interceptors

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"phone-verification-server/internal/telemetry/domain"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []*domain.Event
	got    chan struct{}
}

func newCaptureEmitter() *captureEmitter {
	return &captureEmitter{got: make(chan struct{}, 10)}
}

func (c *captureEmitter) Emit(ctx context.Context, e *domain.Event) error {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	c.got <- struct{}{}
	return nil
}

func (c *captureEmitter) wait(t *testing.T) *domain.Event {
	t.Helper()
	select {
	case <-c.got:
	case <-time.After(2 * time.Second):
		t.Fatal("no event emitted")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[len(c.events)-1]
}

func (c *captureEmitter) none(t *testing.T) {
	t.Helper()
	select {
	case <-c.got:
		t.Fatal("unexpected event emitted")
	case <-time.After(50 * time.Millisecond):
	}
}

const healthCheck = "/grpc.health.v1.Health/Check"

func okHandler(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }

func TestTelemetryUnary_EmitsEvent(t *testing.T) {
	em := newCaptureEmitter()
	interceptor := TelemetryUnary(em, nil)
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-real-ip", "198.51.100.3"))
	resp, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: healthCheck}, okHandler)
	if err != nil || resp != "ok" {
		t.Fatalf("interceptor = %v, %v", resp, err)
	}
	e := em.wait(t)
	if e.Type != domain.EventGRPCRequest || e.Source != "grpc_interceptor" {
		t.Errorf("event = %s/%s", e.Type, e.Source)
	}
	if e.Metadata["full_method"] != healthCheck || e.Metadata["status_code"] != "OK" {
		t.Errorf("metadata = %v", e.Metadata)
	}
	if e.Metadata["client_ip"] != "198.51.100.3" {
		t.Errorf("client_ip = %q", e.Metadata["client_ip"])
	}
}

func TestTelemetryUnary_QuietMethodOnlyOnFailure(t *testing.T) {
	em := newCaptureEmitter()
	interceptor := TelemetryUnary(em, map[string]bool{healthCheck: true})
	info := &grpc.UnaryServerInfo{FullMethod: healthCheck}

	if _, err := interceptor(context.Background(), nil, info, okHandler); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	em.none(t)

	failing := func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	}
	_, err := interceptor(context.Background(), nil, info, failing)
	if status.Code(err) != codes.NotFound {
		t.Fatalf("err = %v, want NotFound passed through", err)
	}
	if e := em.wait(t); e.Metadata["status_code"] != "NotFound" {
		t.Errorf("status_code = %q, want NotFound", e.Metadata["status_code"])
	}
}

func TestTelemetryUnary_NilEmitter(t *testing.T) {
	interceptor := TelemetryUnary(nil, nil)
	resp, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: healthCheck}, okHandler)
	if err != nil || resp != "ok" {
		t.Errorf("interceptor = %v, %v", resp, err)
	}
}

func TestClientIP(t *testing.T) {
	tcp := &net.TCPAddr{IP: net.ParseIP("192.0.2.10"), Port: 4242}
	cases := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"forwarded for", metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-forwarded-for", "203.0.113.1, 10.0.0.1")), "203.0.113.1"},
		{"real ip", metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-real-ip", " 198.51.100.7 ")), "198.51.100.7"},
		{"peer", peer.NewContext(context.Background(), &peer.Peer{Addr: tcp}), "192.0.2.10"},
		{"none", context.Background(), "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClientIP(tc.ctx); got != tc.want {
				t.Errorf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}
