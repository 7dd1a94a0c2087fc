// Package server builds the gRPC server that exposes grpc.health.v1 next to the HTTP API.
package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	healthhandler "phone-verification-server/internal/health/handler"
	"phone-verification-server/internal/server/interceptors"
	"phone-verification-server/internal/telemetry"
)

// quietMethods emit telemetry only on failure; load balancers poll them.
var quietMethods = map[string]bool{
	"/grpc.health.v1.Health/Check": true,
}

// Deps holds the gRPC services and their ambient dependencies.
type Deps struct {
	// Health backs grpc.health.v1. If nil, no service is registered.
	Health *healthhandler.Server
	// Events receives one grpc_request event per RPC. May be nil.
	Events telemetry.EventEmitter
}

// NewGRPCServer returns a server with the OTel stats handler, the telemetry interceptor and every
// service in deps registered.
func NewGRPCServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors.TelemetryUnary(deps.Events, quietMethods)),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers the gRPC services in deps with s.
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	if deps.Health != nil {
		deps.Health.Register(s)
	}
}
