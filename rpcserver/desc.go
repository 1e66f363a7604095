package rpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name the admin control
// plane registers under. There is no .proto file behind it: the method set
// below is wired up by hand against the well-known Struct/Empty wrapper
// types instead of a protoc-generated ServiceDesc.
const ServiceName = "deviceclient.admin.v1.AdminService"

func listClientsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(emptypb.Empty)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*AdminServer)
	if interceptor == nil {
		return s.ListClients(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ListClients"}
	handler := func(ctx context.Context, req any) (any, error) {
		return s.ListClients(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, req, info, handler)
}

func getClientStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(structpb.Struct)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*AdminServer)
	if interceptor == nil {
		return s.GetClientStatus(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetClientStatus"}
	handler := func(ctx context.Context, req any) (any, error) {
		return s.GetClientStatus(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, req, info, handler)
}

func listDetachedTasksHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(structpb.Struct)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*AdminServer)
	if interceptor == nil {
		return s.ListDetachedTasks(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ListDetachedTasks"}
	handler := func(ctx context.Context, req any) (any, error) {
		return s.ListDetachedTasks(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, req, info, handler)
}

func setClientOptionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(structpb.Struct)
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*AdminServer)
	if interceptor == nil {
		return s.SetClientOption(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/SetClientOption"}
	handler := func(ctx context.Context, req any) (any, error) {
		return s.SetClientOption(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, req, info, handler)
}

// ServiceDesc is the hand-built grpc.ServiceDesc for the admin control
// plane, registered with RegisterAdminServer instead of a protoc-generated
// pb.RegisterAdminServiceServer.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListClients", Handler: listClientsHandler},
		{MethodName: "GetClientStatus", Handler: getClientStatusHandler},
		{MethodName: "ListDetachedTasks", Handler: listDetachedTasksHandler},
		{MethodName: "SetClientOption", Handler: setClientOptionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rpcserver/desc.go",
}

// RegisterAdminServer registers s against gs, the way a protoc-generated
// pb.RegisterAdminServiceServer would.
func RegisterAdminServer(gs *grpc.Server, s *AdminServer) {
	gs.RegisterService(&ServiceDesc, s)
}
