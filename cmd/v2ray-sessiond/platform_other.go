//go:build !darwin && !linux

package main

import (
	"errors"
	"os"

	"v2ray-session/internal/netmon"
	"v2ray-session/internal/platform"
)

func newPlatform() *platform.Platform {
	return &platform.Platform{
		NewPathSource: func() (netmon.PathSource, error) { return nil, errNoPathSource },
		Notifier:      platform.LogNotifier{},
	}
}

var revokeSignals []os.Signal

var errNoPathSource = errors.New("no network path source on this platform")
