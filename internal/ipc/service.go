// Package ipc serves the bridge over gRPC on a Unix domain socket.
//
// The service has no .proto-generated stubs: requests and replies are
// google.protobuf.Struct / Value / ListValue, described by a hand-written
// ServiceDesc.
//
//	service Bridge {
//	  rpc Invoke(google.protobuf.Struct) returns (google.protobuf.Value);       // {"method": ..., "args": {...}}
//	  rpc Subscribe(google.protobuf.Empty) returns (stream google.protobuf.ListValue); // snapshot tuples
//	}
package ipc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"v2ray-session/internal/core"
)

const (
	ServiceName = "v2raysession.Bridge"

	invokeMethod    = "/" + ServiceName + "/Invoke"
	subscribeMethod = "/" + ServiceName + "/Subscribe"

	// errorCodeKey is the trailer carrying the core.ErrorCode of a failed Invoke.
	errorCodeKey = "x-error-code"
)

// BridgeServer is implemented by Server.
type BridgeServer interface {
	Invoke(ctx context.Context, req *structpb.Struct) (*structpb.Value, error)
	Subscribe(req *emptypb.Empty, stream grpc.ServerStream) error
}

var bridgeServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BridgeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: invokeHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "v2raysession/bridge.proto",
}

func invokeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BridgeServer).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: invokeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BridgeServer).Invoke(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BridgeServer).Subscribe(in, stream)
}

// grpcCode maps an error code onto the closest gRPC status code.
func grpcCode(code core.ErrorCode) codes.Code {
	switch code {
	case core.CodeInvalidArguments, core.CodeConfigParse:
		return codes.InvalidArgument
	case core.CodeUnknownCommand:
		return codes.Unimplemented
	case core.CodeInvalidState:
		return codes.FailedPrecondition
	case core.CodeValidationTimeout:
		return codes.DeadlineExceeded
	case core.CodeEngineStart:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
