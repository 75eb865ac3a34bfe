package ipc

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"v2ray-session/internal/core"
)

// Client talks to a daemon's bridge.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon listening on socket. The connection is lazy:
// errors surface on the first call.
func Dial(socket string) (*Client, error) {
	conn, err := grpc.NewClient(
		"passthrough:///"+socket,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socket)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("[IPC] dial %s: %w", socket, err)
	}
	return &Client{conn: conn}, nil
}

// Invoke calls method on the daemon. Daemon-side failures come back as
// *core.Error carrying the daemon-side code.
func (c *Client) Invoke(ctx context.Context, method string, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	req, err := structpb.NewStruct(map[string]any{"method": method, "args": args})
	if err != nil {
		return nil, core.WrapError(err, core.CodeInvalidArguments, "encode arguments of %s", method)
	}

	var trailer metadata.MD
	resp := new(structpb.Value)
	if err := c.conn.Invoke(ctx, invokeMethod, req, resp, grpc.Trailer(&trailer)); err != nil {
		return nil, fromStatus(err, trailer)
	}
	return resp.AsInterface(), nil
}

func fromStatus(err error, trailer metadata.MD) error {
	st := status.Convert(err)
	if codes := trailer.Get(errorCodeKey); len(codes) > 0 {
		return core.NewError(core.ErrorCode(codes[0]), "%s", st.Message())
	}
	return core.WrapError(err, core.CodeInternal, "bridge call failed")
}

// SnapshotStream yields snapshot tuples.
type SnapshotStream struct {
	stream grpc.ClientStream
}

// Subscribe opens the snapshot stream. The first tuple is the daemon's
// current snapshot.
func (c *Client) Subscribe(ctx context.Context) (*SnapshotStream, error) {
	stream, err := c.conn.NewStream(ctx, &bridgeServiceDesc.Streams[0], subscribeMethod)
	if err != nil {
		return nil, fmt.Errorf("[IPC] subscribe: %w", err)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, fmt.Errorf("[IPC] subscribe: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("[IPC] subscribe: %w", err)
	}
	return &SnapshotStream{stream: stream}, nil
}

// Recv blocks for the next tuple: duration, upload rate, download rate,
// total upload, total download, state.
func (s *SnapshotStream) Recv() ([]string, error) {
	msg := new(structpb.ListValue)
	if err := s.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	out := make([]string, len(msg.GetValues()))
	for i, v := range msg.GetValues() {
		out[i] = v.GetStringValue()
	}
	return out, nil
}

// Close shuts the connection down.
func (c *Client) Close() error {
	return c.conn.Close()
}
