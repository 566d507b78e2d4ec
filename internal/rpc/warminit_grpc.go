package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// WarmInitServiceName is the fully-qualified gRPC service name.
const WarmInitServiceName = "warminit.v1.WarmInitService"

const (
	WarmInitService_Begin_FullMethodName  = "/warminit.v1.WarmInitService/Begin"
	WarmInitService_Upsert_FullMethodName = "/warminit.v1.WarmInitService/Upsert"
	WarmInitService_Remove_FullMethodName = "/warminit.v1.WarmInitService/Remove"
	WarmInitService_End_FullMethodName    = "/warminit.v1.WarmInitService/End"
	WarmInitService_Abort_FullMethodName  = "/warminit.v1.WarmInitService/Abort"
	WarmInitService_Status_FullMethodName = "/warminit.v1.WarmInitService/Status"
)

// WarmInitServer is the server API for the warm-init service. Requests and
// replies travel as google.protobuf.Struct; codec.go defines their fields.
type WarmInitServer interface {
	Begin(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Upsert(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Remove(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	End(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Abort(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterWarmInitServer registers srv with s.
func RegisterWarmInitServer(s grpc.ServiceRegistrar, srv WarmInitServer) {
	s.RegisterService(&WarmInitService_ServiceDesc, srv)
}

func _WarmInitService_Begin_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WarmInitServer).Begin(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WarmInitService_Begin_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WarmInitServer).Begin(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _WarmInitService_Upsert_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WarmInitServer).Upsert(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WarmInitService_Upsert_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WarmInitServer).Upsert(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _WarmInitService_Remove_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WarmInitServer).Remove(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WarmInitService_Remove_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WarmInitServer).Remove(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _WarmInitService_End_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WarmInitServer).End(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WarmInitService_End_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WarmInitServer).End(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _WarmInitService_Abort_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WarmInitServer).Abort(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WarmInitService_Abort_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WarmInitServer).Abort(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _WarmInitService_Status_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WarmInitServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WarmInitService_Status_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(WarmInitServer).Status(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// WarmInitService_ServiceDesc is the grpc.ServiceDesc for the warm-init
// service. It is written in the shape protoc-gen-go-grpc emits so the
// service needs no generated stubs.
var WarmInitService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: WarmInitServiceName,
	HandlerType: (*WarmInitServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Begin", Handler: _WarmInitService_Begin_Handler},
		{MethodName: "Upsert", Handler: _WarmInitService_Upsert_Handler},
		{MethodName: "Remove", Handler: _WarmInitService_Remove_Handler},
		{MethodName: "End", Handler: _WarmInitService_End_Handler},
		{MethodName: "Abort", Handler: _WarmInitService_Abort_Handler},
		{MethodName: "Status", Handler: _WarmInitService_Status_Handler},
	},
	Streams: []grpc.StreamDesc{},
}
