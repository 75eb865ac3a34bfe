//go:build linux

package linux

import (
	"net"
	"sync"
	"time"

	"github.com/vishvananda/netlink"

	"v2ray-session/internal/core"
	"v2ray-session/internal/netmon"
)

const settle = 300 * time.Millisecond

// PathSource reports the default route's interface from rtnetlink route
// and link notifications.
type PathSource struct {
	mu      sync.Mutex
	handler func(netmon.Path)
	done    chan struct{}
	stopped chan struct{}
}

// NewPathSource creates an idle path source.
func NewPathSource() *PathSource {
	return &PathSource{}
}

// Start subscribes to route and link updates, reports the current path
// and reports again once a burst of updates settles.
func (ps *PathSource) Start(handler func(netmon.Path)) error {
	done := make(chan struct{})
	routes := make(chan netlink.RouteUpdate, 16)
	links := make(chan netlink.LinkUpdate, 16)
	if err := netlink.RouteSubscribe(routes, done); err != nil {
		close(done)
		return err
	}
	if err := netlink.LinkSubscribe(links, done); err != nil {
		close(done)
		return err
	}

	ps.mu.Lock()
	ps.handler = handler
	ps.done = done
	ps.stopped = make(chan struct{})
	ps.mu.Unlock()

	go ps.loop(routes, links, done, ps.stopped)
	core.Log.Infof("NetMon", "Path source started (netlink)")
	ps.report()
	return nil
}

// Stop cancels the subscriptions and waits for the reader to exit.
func (ps *PathSource) Stop() error {
	ps.mu.Lock()
	if ps.done == nil {
		ps.mu.Unlock()
		return nil
	}
	close(ps.done)
	stopped := ps.stopped
	ps.done = nil
	ps.handler = nil
	ps.mu.Unlock()

	<-stopped
	core.Log.Infof("NetMon", "Path source stopped")
	return nil
}

func (ps *PathSource) loop(routes <-chan netlink.RouteUpdate, links <-chan netlink.LinkUpdate, done, stopped chan struct{}) {
	defer close(stopped)

	timer := time.NewTimer(settle)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-done:
			return
		case _, ok := <-routes:
			if !ok {
				routes = nil
				continue
			}
			timer.Reset(settle)
		case _, ok := <-links:
			if !ok {
				links = nil
				continue
			}
			timer.Reset(settle)
		case <-timer.C:
			ps.report()
		}
	}
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

func currentPath() (netmon.Path, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return netmon.Path{}, err
	}
	r, ok := pickDefault(routes)
	if !ok {
		return netmon.Path{}, nil
	}
	link, err := netlink.LinkByIndex(r.LinkIndex)
	if err != nil {
		return netmon.Path{}, err
	}
	return pathOf(link.Attrs()), nil
}

// pickDefault returns the IPv4 default route with the lowest metric.
func pickDefault(routes []netlink.Route) (netlink.Route, bool) {
	var best netlink.Route
	found := false
	for _, r := range routes {
		if !isDefault(r.Dst) {
			continue
		}
		if !found || r.Priority < best.Priority {
			best, found = r, true
		}
	}
	return best, found
}

func isDefault(dst *net.IPNet) bool {
	if dst == nil {
		return true
	}
	ones, _ := dst.Mask.Size()
	return ones == 0 && dst.IP.IsUnspecified()
}

func pathOf(attrs *netlink.LinkAttrs) netmon.Path {
	up := attrs.Flags&net.FlagUp != 0 &&
		(attrs.OperState == netlink.OperUp || attrs.OperState == netlink.OperUnknown)
	return netmon.Path{
		Category:  netmon.ClassifyInterface(attrs.Name),
		Satisfied: up,
	}
}
