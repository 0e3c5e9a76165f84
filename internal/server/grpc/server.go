// Package grpcserver exposes the sync gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"
	"strings"

	"github.com/gofrs/uuid/v5"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/and161185/sync-keeper/internal/convert"
	"github.com/and161185/sync-keeper/internal/errs"
	"github.com/and161185/sync-keeper/internal/service"
	pb "github.com/and161185/sync-keeper/internal/syncpb"
)

// TokenVerifier resolves a bearer token to an account ID.
type TokenVerifier interface {
	Verify(token string) (uuid.UUID, error)
}

// Server wires the sync service into gRPC handlers.
type Server struct {
	pb.UnimplementedSyncServiceServer
	sync   service.SyncService
	tokens TokenVerifier
}

var _ pb.SyncServiceServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(sync service.SyncService, tokens TokenVerifier) *Server {
	return &Server{sync: sync, tokens: tokens}
}

// GetUpdates returns one page of the caller's change feed.
func (s *Server) GetUpdates(ctx context.Context, req *pb.GetUpdatesRequest) (*pb.GetUpdatesResponse, error) {
	accountID, err := s.accountIDFromCtx(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	if req.FromTimestamp < 0 {
		return nil, status.Error(codes.InvalidArgument, "negative from_timestamp")
	}
	types, err := convert.FromProtoDataTypes(req.RequestedTypes)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad requested types: %v", err)
	}
	changes, err := s.sync.GetUpdates(ctx, accountID, types, req.FromTimestamp)
	if err != nil {
		return nil, toStatus("get updates", err)
	}
	return convert.ToProtoGetUpdatesResponse(changes), nil
}

// Commit reconciles a batch of client entries. Rejected entries are reported
// per entry; the call itself only fails for request-level problems.
func (s *Server) Commit(ctx context.Context, req *pb.CommitRequest) (*pb.CommitResponse, error) {
	accountID, err := s.accountIDFromCtx(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	batch, guid, err := convert.FromProtoCommit(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad entries: %v", err)
	}
	results, err := s.sync.Commit(ctx, accountID, guid, batch)
	if err != nil {
		return nil, toStatus("commit", err)
	}
	return convert.ToProtoCommitResponse(results), nil
}

func toStatus(op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "no auth")
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrResourceExhausted):
		return status.Errorf(codes.ResourceExhausted, "%s: %v", op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}

// accountIDFromCtx prefers the id set by AuthUnary and falls back to
// verifying the bearer token itself.
func (s *Server) accountIDFromCtx(ctx context.Context) (uuid.UUID, error) {
	if id, ok := AccountIDFromCtx(ctx); ok {
		return id, nil
	}
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	return s.tokens.Verify(tok)
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}
