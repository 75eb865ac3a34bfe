package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"v2ray-session/internal/bridge"
	"v2ray-session/internal/core"
	"v2ray-session/internal/ipc"
	"v2ray-session/internal/session"
)

type recordingSession struct {
	mu  sync.Mutex
	req session.StartRequest
}

func (s *recordingSession) Start(_ context.Context, req session.StartRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.req = req
	return nil
}

func (s *recordingSession) Stop(context.Context) error { return nil }

func (s *recordingSession) Initialize(context.Context) error { return nil }

func (s *recordingSession) CheckState(context.Context) (bool, error) { return true, nil }

func (s *recordingSession) ServerDelay(context.Context, string, string) (int64, error) {
	return 142, nil
}

func (s *recordingSession) ConnectedServerDelay(context.Context, string) (int64, error) {
	return 0, core.NewError(core.CodeInvalidState, "no connected session")
}

func (s *recordingSession) CoreVersion() string { return "v1.8.24" }

func (s *recordingSession) RequestPermission(context.Context) (bool, error) { return true, nil }

func serveStub(t *testing.T) (string, *recordingSession) {
	t.Helper()
	dir, err := os.MkdirTemp("", "ctl")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	sess := &recordingSession{}
	socket := filepath.Join(dir, "d.sock")
	ln, err := ipc.Listen(socket)
	require.NoError(t, err)
	srv := ipc.NewServer(bridge.NewDispatcher(sess), bridge.NewBroadcaster(), nil)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(srv.Stop)
	return socket, sess
}

func execute(t *testing.T, socket string, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(append([]string{"--socket", socket}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionAndCheck(t *testing.T) {
	socket, _ := serveStub(t)

	out, err := execute(t, socket, "version")
	require.NoError(t, err)
	assert.Equal(t, "v1.8.24\n", out)

	out, err = execute(t, socket, "check")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)
}

func TestStartSendsConfigAndLists(t *testing.T) {
	socket, sess := serveStub(t)
	cfgFile := filepath.Join(t.TempDir(), "tokyo.json")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`{"inbounds":[]}`), 0o600))

	_, err := execute(t, socket, "start", "--remark", "tokyo", "--config-file", cfgFile,
		"--blocked-app", "com.bank", "--bypass-subnet", "10.0.0.0/8,192.168.0.0/16")
	require.NoError(t, err)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	assert.Equal(t, "tokyo", sess.req.Remark)
	assert.Equal(t, `{"inbounds":[]}`, sess.req.Config)
	assert.Equal(t, []string{"com.bank"}, sess.req.BlockedApps)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.0.0/16"}, sess.req.BypassSubnets)
}

func TestDelayReportsCodedErrors(t *testing.T) {
	socket, _ := serveStub(t)
	cfgFile := filepath.Join(t.TempDir(), "probe.json")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`{}`), 0o600))

	out, err := execute(t, socket, "delay", "--config-file", cfgFile)
	require.NoError(t, err)
	assert.Equal(t, "142\n", out)

	_, err = execute(t, socket, "delay", "--config-file", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_STATE")
}
