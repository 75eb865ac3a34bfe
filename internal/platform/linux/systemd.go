//go:build linux

package linux

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// ErrNoSystemdSocket is returned when the daemon was not socket-activated.
var ErrNoSystemdSocket = errors.New("no systemd socket")

// listenFDsStart is SD_LISTEN_FDS_START.
const listenFDsStart = 3

// InheritSystemdSocket returns the first socket passed through the
// LISTEN_PID / LISTEN_FDS protocol.
func InheritSystemdSocket() (net.Listener, error) {
	pid, err := strconv.Atoi(os.Getenv("LISTEN_PID"))
	if err != nil || pid != os.Getpid() {
		return nil, ErrNoSystemdSocket
	}
	n, err := strconv.Atoi(os.Getenv("LISTEN_FDS"))
	if err != nil || n < 1 {
		return nil, ErrNoSystemdSocket
	}
	os.Unsetenv("LISTEN_PID")
	os.Unsetenv("LISTEN_FDS")
	os.Unsetenv("LISTEN_FDNAMES")

	unix.CloseOnExec(listenFDsStart)
	f := os.NewFile(uintptr(listenFDsStart), "systemd-socket")
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("fd %d listener: %w", listenFDsStart, err)
	}
	return ln, nil
}
