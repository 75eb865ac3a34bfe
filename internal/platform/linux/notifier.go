//go:build linux

package linux

import (
	"os/exec"

	"v2ray-session/internal/core"
)

// Notifier implements platform.Notifier with notify-send.
type Notifier struct{}

func (n *Notifier) Show(title, message string) error {
	if err := exec.Command("notify-send", "--app-name=v2ray-session", title, message).Run(); err != nil {
		core.Log.Warnf("Notifier", "notify-send failed: %v", err)
		return err
	}
	return nil
}
