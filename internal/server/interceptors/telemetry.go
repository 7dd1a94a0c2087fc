// Package interceptors holds the gRPC server interceptors.
package interceptors

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"phone-verification-server/internal/telemetry"
	"phone-verification-server/internal/telemetry/domain"
)

const source = "grpc_interceptor"

// TelemetryUnary returns a unary server interceptor that emits a grpc_request event after each RPC.
// Methods in quietMethods (e.g. the health Check polled by load balancers) only emit when the RPC
// fails. Best-effort: emits are async and never fail the RPC. A nil emitter disables the interceptor.
func TelemetryUnary(events telemetry.EventEmitter, quietMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if events == nil {
			return resp, err
		}
		code := status.Code(err)
		if code == codes.OK && quietMethods[info.FullMethod] {
			return resp, err
		}
		event := domain.NewEvent(domain.EventGRPCRequest, "", map[string]string{
			"full_method": info.FullMethod,
			"status_code": code.String(),
			"duration_ms": strconv.FormatInt(time.Since(start).Milliseconds(), 10),
			"client_ip":   ClientIP(ctx),
		})
		event.Source = source
		telemetry.EmitAsync(events, ctx, event)
		return resp, err
	}
}

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for, x-real-ip) or peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-forwarded-for"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				first, _, _ := strings.Cut(s, ",")
				return strings.TrimSpace(first)
			}
		}
		if vals := md.Get("x-real-ip"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				return s
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}
