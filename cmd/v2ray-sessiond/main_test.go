package main

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"v2ray-session/internal/bridge"
	"v2ray-session/internal/core"
	"v2ray-session/internal/ipc"
	"v2ray-session/internal/platform"
)

type shownNotifier struct {
	mu    sync.Mutex
	shown []string
}

func (n *shownNotifier) Show(title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, title+": "+message)
	return nil
}

func (n *shownNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.shown...)
}

func TestNotifyOnUnrequestedStops(t *testing.T) {
	bus := core.NewEventBus()
	n := &shownNotifier{}
	notifyOn(bus, n)

	bus.Publish(core.Event{Type: core.EventNetworkSwitched, Payload: core.NetworkSwitchPayload{From: "wifi", To: "cellular"}})
	bus.Publish(core.Event{Type: core.EventSessionRevoked})

	require.Eventually(t, func() bool { return len(n.all()) == 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{
		"Network changed: Reconnecting over cellular",
		"VPN disconnected: The tunnel was turned off by the system",
	}, n.all())
}

func TestListenFallsBackToSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "sessiond")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	socket := filepath.Join(dir, "d.sock")

	p := &platform.Platform{
		InheritListener: func() (net.Listener, error) { return nil, errors.New("not activated") },
	}
	ln, err := listen(p, socket)
	require.NoError(t, err)
	defer ln.Close()
	assert.Equal(t, socket, ln.Addr().String())
}

func TestResolveRelativeToExe(t *testing.T) {
	assert.Equal(t, "/etc/v2ray-session/config.yaml", resolveRelativeToExe("/etc/v2ray-session/config.yaml"))

	exe, err := os.Executable()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(exe), "profiles.yaml"), resolveRelativeToExe("profiles.yaml"))
}

func TestStopServingDeliversFinalSnapshot(t *testing.T) {
	broadcaster := bridge.NewBroadcaster()
	sink := bridge.NewAsyncSink(broadcaster.Publish, bridge.DefaultQueueSize)
	srv := ipc.NewServer(nil, broadcaster, nil)
	sub := broadcaster.Subscribe()
	<-sub.C // idle snapshot on subscribe

	ctrlDone := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		stopServing(ctrlDone, sink, srv)
		close(stopped)
	}()

	final := core.ZeroSnapshot()
	final.TotalUpload = 4096
	sink.Send(final)
	close(ctrlDone)

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("stopServing did not return")
	}
	var got []core.TrafficSnapshot
	for snap := range sub.C {
		got = append(got, snap)
	}
	require.Len(t, got, 1)
	assert.Equal(t, core.StateDisconnected, got[0].State)
	assert.EqualValues(t, 4096, got[0].TotalUpload)
}
