package grpcserver

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	pb "github.com/and161185/sync-keeper/internal/syncpb"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "x-request-id"

// RequestIDUnary assigns every call a request id: the caller's if it sent
// one, a fresh ULID otherwise. The id is echoed in the response header.
func RequestIDUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		var id string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vs := md.Get(RequestIDHeader); len(vs) > 0 {
				id = strings.TrimSpace(vs[0])
			}
		}
		if id == "" || len(id) > 64 {
			id = ulid.Make().String()
		}
		// no transport stream in direct handler calls
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, id))
		return next(WithRequestID(ctx, id), req)
	}
}

// AuthUnary verifies the bearer token of sync calls and stores the account
// id in context. Other services (health, reflection) pass through.
func AuthUnary(tokens TokenVerifier) grpc.UnaryServerInterceptor {
	prefix := "/" + pb.ServiceName + "/"
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, prefix) {
			return next(ctx, req)
		}
		tok, err := bearerTokenFromMD(ctx)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "no auth")
		}
		id, err := tokens.Verify(tok)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "no auth")
		}
		return next(WithAccountID(ctx, id), req)
	}
}

// LoggingUnary returns a unary server interceptor for structured logging.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		var remote string
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}

		// metadata only, never payloads
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remote),
		}
		if id := RequestIDFromCtx(ctx); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}
		switch code {
		case codes.OK, codes.InvalidArgument, codes.Unauthenticated, codes.NotFound, codes.Canceled:
			log.Info("grpc", fields...)
		default:
			log.Warn("grpc", append(fields, zap.Error(err))...)
		}
		return resp, err
	}
}

// RecoverUnary returns a unary server interceptor that recovers from panics.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}
