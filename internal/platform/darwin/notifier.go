//go:build darwin

package darwin

import (
	"fmt"
	"os/exec"

	"v2ray-session/internal/core"
)

// Notifier implements platform.Notifier using macOS osascript.
type Notifier struct{}

// Show displays a macOS system notification using osascript.
func (n *Notifier) Show(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	if err := exec.Command("osascript", "-e", script).Run(); err != nil {
		core.Log.Warnf("Notifier", "osascript notification failed: %v", err)
		return err
	}
	return nil
}
