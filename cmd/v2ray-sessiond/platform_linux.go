//go:build linux

package main

import (
	"os"
	"syscall"

	"v2ray-session/internal/platform"
	"v2ray-session/internal/platform/linux"
)

func newPlatform() *platform.Platform {
	return linux.NewPlatform()
}

var revokeSignals = []os.Signal{syscall.SIGUSR1}
