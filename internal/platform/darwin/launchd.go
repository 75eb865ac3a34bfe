//go:build darwin

package darwin

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrNoLaunchdSocket is returned when the daemon was not socket-activated.
var ErrNoLaunchdSocket = errors.New("no launchd socket")

// launchdFD is where launchd places the single socket of a Sockets entry.
const launchdFD = 3

// InheritLaunchdSocket returns the IPC listener launchd opened for the
// daemon. LAUNCHD_SOCKET_FDS, when set by a wrapper, names the fd;
// otherwise fd 3 is used if it is a socket.
func InheritLaunchdSocket() (net.Listener, error) {
	if fds := os.Getenv("LAUNCHD_SOCKET_FDS"); fds != "" {
		first, _, _ := strings.Cut(fds, ":")
		fd, err := strconv.Atoi(first)
		if err != nil {
			return nil, fmt.Errorf("LAUNCHD_SOCKET_FDS %q: %w", fds, err)
		}
		return listenerFromFD(fd)
	}
	if !isSocket(launchdFD) {
		return nil, ErrNoLaunchdSocket
	}
	return listenerFromFD(launchdFD)
}

func isSocket(fd int) bool {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return false
	}
	return st.Mode&unix.S_IFMT == unix.S_IFSOCK
}

func listenerFromFD(fd int) (net.Listener, error) {
	unix.CloseOnExec(fd)
	f := os.NewFile(uintptr(fd), "launchd-socket")
	if f == nil {
		return nil, fmt.Errorf("invalid fd %d", fd)
	}
	// FileListener dups the descriptor.
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("fd %d listener: %w", fd, err)
	}
	return ln, nil
}
