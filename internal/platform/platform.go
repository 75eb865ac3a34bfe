// Package platform describes what the daemon needs from the host OS.
package platform

import (
	"net"

	"v2ray-session/internal/netmon"
)

// Platform aggregates the OS-specific pieces of the daemon.
// Populated by a platform factory (NewPlatform) in platform/darwin/ or platform/linux/.
type Platform struct {
	// NewPathSource opens the OS network path observer.
	NewPathSource func() (netmon.PathSource, error)

	Notifier Notifier

	// InheritListener returns the IPC socket handed over by the service
	// manager (launchd, systemd). Nil when the OS has no such mechanism.
	InheritListener func() (net.Listener, error)
}
