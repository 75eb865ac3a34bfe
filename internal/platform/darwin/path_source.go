//go:build darwin

package darwin

import (
	"net"
	"sync"
	"time"

	"golang.org/x/net/route"
	"golang.org/x/sys/unix"

	"v2ray-session/internal/core"
	"v2ray-session/internal/netmon"
)

// Route message types that can move the default path (from <net/route.h>).
const (
	rtmAdd     = 0x1
	rtmDelete  = 0x2
	rtmChange  = 0x3
	rtmNewAddr = 0xC
	rtmDelAddr = 0xD
	rtmIfInfo  = 0xE
)

// Only msglen, version and type of the header are read.
const rtMsghdrMinSize = 4

// settle collapses a burst of route messages into one path lookup.
const settle = 300 * time.Millisecond

// PathSource reports the default route's interface by listening on a
// PF_ROUTE socket.
type PathSource struct {
	mu      sync.Mutex
	fd      int
	handler func(netmon.Path)
	timer   *time.Timer
	done    chan struct{}
	stopped chan struct{}
}

// NewPathSource creates an idle path source.
func NewPathSource() *PathSource {
	return &PathSource{fd: -1}
}

// Start opens the routing socket, reports the current path and then
// reports again after every relevant change.
func (ps *PathSource) Start(handler func(netmon.Path)) error {
	fd, err := unix.Socket(unix.AF_ROUTE, unix.SOCK_RAW, unix.AF_UNSPEC)
	if err != nil {
		return err
	}

	ps.mu.Lock()
	ps.fd = fd
	ps.handler = handler
	ps.done = make(chan struct{})
	ps.stopped = make(chan struct{})
	ps.mu.Unlock()

	go ps.loop(fd, ps.done, ps.stopped)
	core.Log.Infof("NetMon", "Path source started (PF_ROUTE socket)")
	ps.report()
	return nil
}

// Stop closes the routing socket and waits for the reader to exit.
func (ps *PathSource) Stop() error {
	ps.mu.Lock()
	if ps.fd < 0 {
		ps.mu.Unlock()
		return nil
	}
	close(ps.done)
	if ps.timer != nil {
		ps.timer.Stop()
		ps.timer = nil
	}
	fd, stopped := ps.fd, ps.stopped
	ps.fd = -1
	ps.handler = nil
	ps.mu.Unlock()

	// Closing the fd unblocks the Read in loop.
	err := unix.Close(fd)
	<-stopped
	core.Log.Infof("NetMon", "Path source stopped")
	return err
}

func (ps *PathSource) loop(fd int, done, stopped chan struct{}) {
	defer close(stopped)

	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(fd, buf)
		if err != nil {
			select {
			case <-done:
			default:
				core.Log.Warnf("NetMon", "Route socket read error: %v", err)
			}
			return
		}
		if n >= rtMsghdrMinSize && isRelevant(buf[3]) {
			ps.schedule(done)
		}
	}
}

func isRelevant(msgType byte) bool {
	switch msgType {
	case rtmAdd, rtmDelete, rtmChange, rtmNewAddr, rtmDelAddr, rtmIfInfo:
		return true
	default:
		return false
	}
}

func (ps *PathSource) schedule(done chan struct{}) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.timer != nil {
		ps.timer.Reset(settle)
		return
	}
	ps.timer = time.AfterFunc(settle, func() {
		select {
		case <-done:
		default:
			ps.report()
		}
	})
}

func (ps *PathSource) report() {
	ps.mu.Lock()
	h := ps.handler
	ps.mu.Unlock()
	if h == nil {
		return
	}

	p, err := currentPath()
	if err != nil {
		core.Log.Warnf("NetMon", "Default route lookup failed: %v", err)
	}
	h(p)
}

// currentPath reads the routing table and classifies the interface of
// the IPv4 default route. No default route is an unsatisfied path.
func currentPath() (netmon.Path, error) {
	rib, err := route.FetchRIB(unix.AF_INET, route.RIBTypeRoute, 0)
	if err != nil {
		return netmon.Path{}, err
	}
	msgs, err := route.ParseRIB(route.RIBTypeRoute, rib)
	if err != nil {
		return netmon.Path{}, err
	}

	for _, m := range msgs {
		rm, ok := m.(*route.RouteMessage)
		if !ok || !isDefaultRoute(rm) {
			continue
		}
		ifi, err := net.InterfaceByIndex(rm.Index)
		if err != nil {
			continue
		}
		return netmon.Path{
			Category:  netmon.ClassifyInterface(ifi.Name),
			Satisfied: ifi.Flags&net.FlagUp != 0,
		}, nil
	}
	return netmon.Path{}, nil
}

func isDefaultRoute(rm *route.RouteMessage) bool {
	if rm.Flags&unix.RTF_UP == 0 || rm.Flags&unix.RTF_GATEWAY == 0 {
		return false
	}
	if len(rm.Addrs) <= unix.RTAX_NETMASK {
		return false
	}
	dst, ok := rm.Addrs[unix.RTAX_DST].(*route.Inet4Addr)
	if !ok || dst.IP != [4]byte{} {
		return false
	}
	// A missing netmask is a zero mask.
	if mask, ok := rm.Addrs[unix.RTAX_NETMASK].(*route.Inet4Addr); ok && mask.IP != [4]byte{} {
		return false
	}
	return true
}
