//go:build darwin

package main

import (
	"os"
	"syscall"

	"v2ray-session/internal/platform"
	"v2ray-session/internal/platform/darwin"
)

func newPlatform() *platform.Platform {
	return darwin.NewPlatform()
}

var revokeSignals = []os.Signal{syscall.SIGUSR1}
