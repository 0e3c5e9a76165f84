package syncpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ServiceName          = "sync.v1.SyncService"
	GetUpdatesFullMethod = "/sync.v1.SyncService/GetUpdates"
	CommitFullMethod     = "/sync.v1.SyncService/Commit"
)

// SyncServiceServer is the server API for sync.v1.SyncService.
type SyncServiceServer interface {
	GetUpdates(context.Context, *GetUpdatesRequest) (*GetUpdatesResponse, error)
	Commit(context.Context, *CommitRequest) (*CommitResponse, error)
}

// UnimplementedSyncServiceServer can be embedded to get Unimplemented errors
// for methods a server does not provide.
type UnimplementedSyncServiceServer struct{}

func (UnimplementedSyncServiceServer) GetUpdates(context.Context, *GetUpdatesRequest) (*GetUpdatesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetUpdates not implemented")
}

func (UnimplementedSyncServiceServer) Commit(context.Context, *CommitRequest) (*CommitResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Commit not implemented")
}

// RegisterSyncServiceServer registers srv on s.
func RegisterSyncServiceServer(s grpc.ServiceRegistrar, srv SyncServiceServer) {
	s.RegisterService(&SyncServiceDesc, srv)
}

func getUpdatesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetUpdatesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServiceServer).GetUpdates(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetUpdatesFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncServiceServer).GetUpdates(ctx, req.(*GetUpdatesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func commitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CommitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServiceServer).Commit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CommitFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncServiceServer).Commit(ctx, req.(*CommitRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// SyncServiceDesc describes sync.v1.SyncService for grpc.Server.RegisterService.
var SyncServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetUpdates", Handler: getUpdatesHandler},
		{MethodName: "Commit", Handler: commitHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sync/v1/sync.proto",
}

// SyncServiceClient is the client API for sync.v1.SyncService.
type SyncServiceClient interface {
	GetUpdates(ctx context.Context, in *GetUpdatesRequest, opts ...grpc.CallOption) (*GetUpdatesResponse, error)
	Commit(ctx context.Context, in *CommitRequest, opts ...grpc.CallOption) (*CommitResponse, error)
}

type syncServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSyncServiceClient returns a client that always selects the syncwire codec.
func NewSyncServiceClient(cc grpc.ClientConnInterface) SyncServiceClient {
	return &syncServiceClient{cc: cc}
}

func (c *syncServiceClient) GetUpdates(ctx context.Context, in *GetUpdatesRequest, opts ...grpc.CallOption) (*GetUpdatesResponse, error) {
	out := new(GetUpdatesResponse)
	if err := c.cc.Invoke(ctx, GetUpdatesFullMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *syncServiceClient) Commit(ctx context.Context, in *CommitRequest, opts ...grpc.CallOption) (*CommitResponse, error) {
	out := new(CommitResponse)
	if err := c.cc.Invoke(ctx, CommitFullMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
