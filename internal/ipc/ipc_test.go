package ipc

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"v2ray-session/internal/bridge"
	"v2ray-session/internal/core"
	"v2ray-session/internal/session"
)

type stubSession struct {
	started atomic.Value
}

func (s *stubSession) Start(_ context.Context, req session.StartRequest) error {
	if req.Config == "bad" {
		return core.NewError(core.CodeConfigParse, "proxy config is not a JSON object")
	}
	s.started.Store(req)
	return nil
}
func (s *stubSession) Stop(context.Context) error       { return nil }
func (s *stubSession) Initialize(context.Context) error { return nil }
func (s *stubSession) CoreVersion() string              { return "v1.8.24" }

func (s *stubSession) CheckState(context.Context) (bool, error) {
	return true, nil
}

func (s *stubSession) RequestPermission(context.Context) (bool, error) {
	return true, nil
}

func (s *stubSession) ServerDelay(context.Context, string, string) (int64, error) {
	return 87, nil
}
func (s *stubSession) ConnectedServerDelay(context.Context, string) (int64, error) {
	return -1, nil
}

func serve(t *testing.T, tracker *ConnTracker) (*Client, *bridge.Broadcaster, *stubSession) {
	t.Helper()
	dir, err := os.MkdirTemp("", "ipc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	socket := filepath.Join(dir, "s.sock")

	sess := &stubSession{}
	b := bridge.NewBroadcaster()
	srv := NewServer(bridge.NewDispatcher(sess), b, tracker)
	ln, err := Listen(socket)
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(srv.Stop)

	c, err := Dial(socket)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, b, sess
}

func TestInvokeRoundTrip(t *testing.T) {
	c, _, sess := serve(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	v, err := c.Invoke(ctx, bridge.MethodCoreVersion, nil)
	require.NoError(t, err)
	assert.Equal(t, "v1.8.24", v)

	v, err = c.Invoke(ctx, bridge.MethodServerDelay, map[string]any{"config": "{}", "url": "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, float64(87), v, "numbers travel as JSON numbers")

	v, err = c.Invoke(ctx, bridge.MethodCheckState, nil)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	_, err = c.Invoke(ctx, bridge.MethodStart, map[string]any{
		"remark": "tokyo", "config": "{}", "blocked_apps": []any{"com.bank"},
	})
	require.NoError(t, err)
	req := sess.started.Load().(session.StartRequest)
	assert.Equal(t, []string{"com.bank"}, req.BlockedApps)
}

func TestInvokeErrorsKeepTheirCode(t *testing.T) {
	c, _, _ := serve(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Invoke(ctx, "selfDestruct", nil)
	require.Error(t, err)
	assert.Equal(t, core.CodeUnknownCommand, core.CodeOf(err))

	_, err = c.Invoke(ctx, bridge.MethodStart, map[string]any{"remark": "x", "config": "bad"})
	require.Error(t, err)
	assert.Equal(t, core.CodeConfigParse, core.CodeOf(err))
	assert.Contains(t, core.MessageOf(err), "not a JSON object")
}

func TestSubscribeStreamsTuples(t *testing.T) {
	c, b, _ := serve(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := c.Subscribe(ctx)
	require.NoError(t, err)

	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, []string{"00:00:00", "0", "0", "0", "0", "DISCONNECTED"}, first)

	b.Publish(core.TrafficSnapshot{
		Elapsed: 61 * time.Second, UploadRate: 5, DownloadRate: 6,
		TotalUpload: 50, TotalDownload: 60, State: core.StateConnected,
	})
	next, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, []string{"00:01:01", "5", "6", "50", "60", "CONNECTED"}, next)
}

func TestConnTrackerIdleAfterGrace(t *testing.T) {
	var idle atomic.Int32
	tracker := NewConnTracker(50*time.Millisecond, func() { idle.Add(1) })
	c, _, _ := serve(t, tracker)

	_, err := c.Invoke(context.Background(), bridge.MethodCoreVersion, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return idle.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, tracker.ActiveCount())
}

func TestConnTrackerReconnectCancelsGrace(t *testing.T) {
	var idle atomic.Int32
	tracker := NewConnTracker(100*time.Millisecond, func() { idle.Add(1) })

	tracker.inc()
	tracker.dec()
	tracker.inc()
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, idle.Load())

	tracker.dec()
	tracker.CancelGrace()
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, idle.Load())
}
