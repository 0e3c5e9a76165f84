package grpcserver

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	pb "github.com/and161185/sync-keeper/internal/syncpb"
)

// Options configures NewGRPCServer.
type Options struct {
	Log            *zap.Logger
	Reflection     bool                             // register the reflection service (development)
	MaxRecvMsgSize int                              // bytes; 0 keeps the grpc default
	Creds          credentials.TransportCredentials // nil serves plaintext
}

// NewGRPCServer builds a grpc.Server with the sync service, the standard
// health service and the interceptor chain. The caller flips health status
// on shutdown.
func NewGRPCServer(srv *Server, tokens TokenVerifier, opts Options) (*grpc.Server, *health.Server) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	sopts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			RecoverUnary(log),
			RequestIDUnary(),
			LoggingUnary(log),
			AuthUnary(tokens),
		),
	}
	if opts.Creds != nil {
		sopts = append(sopts, grpc.Creds(opts.Creds))
	}
	if opts.MaxRecvMsgSize > 0 {
		sopts = append(sopts, grpc.MaxRecvMsgSize(opts.MaxRecvMsgSize))
	}
	gs := grpc.NewServer(sopts...)
	pb.RegisterSyncServiceServer(gs, srv)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(pb.ServiceName, healthpb.HealthCheckResponse_SERVING)

	if opts.Reflection {
		reflection.Register(gs)
	}
	return gs, hs
}
