package ipc

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"v2ray-session/internal/bridge"
	"v2ray-session/internal/core"
)

// Server exposes a dispatcher and a snapshot broadcaster over gRPC.
type Server struct {
	dispatcher  *bridge.Dispatcher
	broadcaster *bridge.Broadcaster
	grpc        *grpc.Server
}

// NewServer creates a server. tracker may be nil.
func NewServer(d *bridge.Dispatcher, b *bridge.Broadcaster, tracker *ConnTracker) *Server {
	var opts []grpc.ServerOption
	if tracker != nil {
		opts = append(opts,
			grpc.ChainUnaryInterceptor(tracker.UnaryInterceptor()),
			grpc.ChainStreamInterceptor(tracker.StreamInterceptor()),
		)
	}
	s := &Server{dispatcher: d, broadcaster: b, grpc: grpc.NewServer(opts...)}
	s.grpc.RegisterService(&bridgeServiceDesc, s)
	return s
}

// Serve blocks serving ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	core.Log.Infof("IPC", "Serving %s on %s", ServiceName, ln.Addr())
	if err := s.grpc.Serve(ln); err != nil {
		return fmt.Errorf("[IPC] serve: %w", err)
	}
	return nil
}

// Stop ends open streams and waits for in-flight calls.
func (s *Server) Stop() {
	s.broadcaster.Close()
	s.grpc.GracefulStop()
}

func (s *Server) Invoke(ctx context.Context, req *structpb.Struct) (*structpb.Value, error) {
	fields := req.AsMap()
	method, _ := fields["method"].(string)
	args, _ := fields["args"].(map[string]any)

	result, err := s.dispatcher.Invoke(ctx, method, args)
	if err != nil {
		code := core.CodeOf(err)
		_ = grpc.SetTrailer(ctx, metadata.Pairs(errorCodeKey, string(code)))
		return nil, status.Error(grpcCode(code), core.MessageOf(err))
	}
	v, err := structpb.NewValue(result)
	if err != nil {
		return nil, status.Errorf(grpcCode(core.CodeInternal), "encode %s result: %v", method, err)
	}
	return v, nil
}

func (s *Server) Subscribe(_ *emptypb.Empty, stream grpc.ServerStream) error {
	sub := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(sub)

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case snap, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(tupleValue(snap)); err != nil {
				return err
			}
		}
	}
}

func tupleValue(snap core.TrafficSnapshot) *structpb.ListValue {
	tuple := snap.Tuple()
	values := make([]*structpb.Value, len(tuple))
	for i, f := range tuple {
		values[i] = structpb.NewStringValue(f)
	}
	return &structpb.ListValue{Values: values}
}
