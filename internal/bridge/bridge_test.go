package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"v2ray-session/internal/core"
	"v2ray-session/internal/session"
)

type fakeSession struct {
	started session.StartRequest
	stops   int
	url     string
}

func (f *fakeSession) Start(_ context.Context, req session.StartRequest) error {
	f.started = req
	return nil
}
func (f *fakeSession) Stop(context.Context) error       { f.stops++; return nil }
func (f *fakeSession) Initialize(context.Context) error { return nil }
func (f *fakeSession) CheckState(context.Context) (bool, error) {
	return false, core.NewError(core.CodeValidationTimeout, "slow store")
}
func (f *fakeSession) ServerDelay(_ context.Context, _, url string) (int64, error) {
	f.url = url
	return 42, nil
}
func (f *fakeSession) ConnectedServerDelay(context.Context, string) (int64, error) { return -1, nil }
func (f *fakeSession) CoreVersion() string                                         { return "v1.8.24" }
func (f *fakeSession) RequestPermission(context.Context) (bool, error) {
	panic("host prompt crashed")
}

func TestDispatcherStartArguments(t *testing.T) {
	s := &fakeSession{}
	d := NewDispatcher(s)

	_, err := d.Invoke(context.Background(), MethodStart, map[string]any{
		"remark":         "tokyo",
		"config":         "{}",
		"blocked_apps":   []any{"com.bank"},
		"bypass_subnets": []string{"10.0.0.0/8"},
		"proxyOnly":      true,
	})
	require.NoError(t, err)
	assert.Equal(t, session.StartRequest{
		Remark:        "tokyo",
		Config:        "{}",
		BlockedApps:   []string{"com.bank"},
		BypassSubnets: []string{"10.0.0.0/8"},
		ProxyOnly:     true,
	}, s.started)
}

func TestDispatcherErrors(t *testing.T) {
	d := NewDispatcher(&fakeSession{})
	ctx := context.Background()

	tests := []struct {
		name   string
		method string
		args   map[string]any
		code   core.ErrorCode
	}{
		{"unknown method", "reboot", nil, core.CodeUnknownCommand},
		{"start without config", MethodStart, map[string]any{"remark": "x"}, core.CodeInvalidArguments},
		{"start with numeric remark", MethodStart, map[string]any{"remark": 1, "config": "{}"}, core.CodeInvalidArguments},
		{"bad blocked app", MethodStart, map[string]any{"remark": "x", "config": "{}", "blocked_apps": []any{1}}, core.CodeInvalidArguments},
		{"blocked apps not a list", MethodStart, map[string]any{"remark": "x", "config": "{}", "blocked_apps": "a"}, core.CodeInvalidArguments},
		{"delay without url", MethodServerDelay, map[string]any{"config": "{}"}, core.CodeInvalidArguments},
		{"connected delay without url", MethodConnectedServerDelay, map[string]any{}, core.CodeInvalidArguments},
		{"session error passes through", MethodCheckState, nil, core.CodeValidationTimeout},
		{"panic becomes internal", MethodRequestPermission, nil, core.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Invoke(ctx, tt.method, tt.args)
			require.Error(t, err)
			assert.Equal(t, tt.code, core.CodeOf(err))
		})
	}
}

func TestDispatcherResults(t *testing.T) {
	s := &fakeSession{}
	d := NewDispatcher(s)
	ctx := context.Background()

	v, err := d.Invoke(ctx, MethodCoreVersion, nil)
	require.NoError(t, err)
	assert.Equal(t, "v1.8.24", v)

	v, err = d.Invoke(ctx, MethodServerDelay, map[string]any{"config": "{}", "url": "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
	assert.Equal(t, "https://example.com", s.url)

	v, err = d.Invoke(ctx, MethodConnectedServerDelay, map[string]any{"url": ""})
	require.NoError(t, err)
	assert.Equal(t, int64(-1), v)

	_, err = d.Invoke(ctx, MethodStop, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.stops)
}

func TestAsyncSinkDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []int64
	sink := NewAsyncSink(func(s core.TrafficSnapshot) {
		mu.Lock()
		got = append(got, s.TotalUpload)
		mu.Unlock()
	}, 8)

	for i := range 5 {
		sink.Send(core.TrafficSnapshot{TotalUpload: int64(i)})
	}
	sink.Close()
	sink.Send(core.TrafficSnapshot{TotalUpload: 99})

	assert.Equal(t, []int64{0, 1, 2, 3, 4}, got)
}

func TestAsyncSinkNeverBlocks(t *testing.T) {
	release := make(chan struct{})
	sink := NewAsyncSink(func(core.TrafficSnapshot) { <-release }, 2)

	done := make(chan struct{})
	go func() {
		for range 10 {
			sink.Send(core.ZeroSnapshot())
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a stalled receiver")
	}
	assert.Positive(t, sink.Dropped())
	close(release)
	sink.Close()
}

func TestAsyncSinkSurvivesPanic(t *testing.T) {
	var calls int
	sink := NewAsyncSink(func(core.TrafficSnapshot) {
		calls++
		if calls == 1 {
			panic("listener gone")
		}
	}, 4)
	sink.Send(core.ZeroSnapshot())
	sink.Send(core.ZeroSnapshot())
	sink.Close()
	assert.Equal(t, 2, calls)
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	first := b.Subscribe()
	assert.Equal(t, core.ZeroSnapshot(), <-first.C, "new subscribers get the latest snapshot")

	snap := core.TrafficSnapshot{TotalUpload: 10, State: core.StateConnected}
	b.Publish(snap)
	assert.Equal(t, snap, <-first.C)

	second := b.Subscribe()
	assert.Equal(t, snap, <-second.C)

	b.Unsubscribe(first)
	_, open := <-first.C
	assert.False(t, open)

	for range subscriberBuffer * 2 {
		b.Publish(snap)
	}
	assert.Len(t, second.C, subscriberBuffer, "slow subscriber drops instead of blocking")

	b.Close()
	b.Publish(core.ZeroSnapshot())
	assert.Equal(t, snap, b.Last())
	closed := b.Subscribe()
	_, open = <-closed.C
	assert.False(t, open)
}
