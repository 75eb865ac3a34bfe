package platform

import "v2ray-session/internal/core"

// Notifier sends system notifications.
type Notifier interface {
	// Show displays a system notification.
	Show(title, message string) error
}

// LogNotifier writes notifications to the log, for hosts without a
// notification service.
type LogNotifier struct{}

func (LogNotifier) Show(title, message string) error {
	core.Log.Infof("Notify", "%s: %s", title, message)
	return nil
}
