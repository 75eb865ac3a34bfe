//go:build darwin

// Package darwin provides the macOS platform: PF_ROUTE path observation,
// osascript notifications and launchd socket activation.
package darwin

import (
	"v2ray-session/internal/netmon"
	"v2ray-session/internal/platform"
)

// NewPlatform creates a Platform configured for macOS.
func NewPlatform() *platform.Platform {
	return &platform.Platform{
		NewPathSource: func() (netmon.PathSource, error) {
			return NewPathSource(), nil
		},
		Notifier:        &Notifier{},
		InheritListener: InheritLaunchdSocket,
	}
}
