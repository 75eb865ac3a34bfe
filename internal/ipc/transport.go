package ipc

import (
	"fmt"
	"net"
	"os"
)

// Listen opens the daemon socket at path, replacing a stale socket file
// left by a previous run.
func Listen(path string) (net.Listener, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("[IPC] listen %s: %w", path, err)
	}
	// Clients run as the desktop user.
	if err := os.Chmod(path, 0o666); err != nil {
		ln.Close()
		return nil, fmt.Errorf("[IPC] chmod %s: %w", path, err)
	}
	return ln, nil
}
