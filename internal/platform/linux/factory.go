//go:build linux

// Package linux provides the Linux platform: netlink path observation,
// notify-send notifications and systemd socket activation.
package linux

import (
	"v2ray-session/internal/netmon"
	"v2ray-session/internal/platform"
)

// NewPlatform creates a Platform configured for Linux.
func NewPlatform() *platform.Platform {
	return &platform.Platform{
		NewPathSource: func() (netmon.PathSource, error) {
			return NewPathSource(), nil
		},
		Notifier:        &Notifier{},
		InheritListener: InheritSystemdSocket,
	}
}
