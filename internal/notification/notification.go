// Package notification sends desktop notifications when queued items finish.
// It uses the beeep library, which picks the platform mechanism (D-Bus or
// notify-send on Linux, AppleScript on macOS).
package notification

import (
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/zhubert/nbq/internal/logger"
)

// Title is the title of every nbq notification.
const Title = "nbq"

var (
	mu       sync.Mutex
	notifier = beeep.Notify
)

// SetNotifier replaces the delivery function. Tests use it to avoid real
// notifications.
func SetNotifier(fn func(title, message string, icon any) error) {
	mu.Lock()
	defer mu.Unlock()
	notifier = fn
}

// ResetNotifier restores beeep delivery.
func ResetNotifier() {
	SetNotifier(beeep.Notify)
}

// Send sends a desktop notification with the given title and message.
func Send(title, message string) error {
	mu.Lock()
	notify := notifier
	mu.Unlock()

	log := logger.WithComponent("notification")
	log.Debug("sending notification", "title", title, "message", message)
	err := notify(title, message, "")
	if err != nil {
		log.Warn("failed to send notification", "error", err)
	}
	return err
}

// ItemFinished announces the outcome of a queued item, e.g. "train.py: done".
func ItemFinished(name, status string) error {
	return Send(Title, name+": "+status)
}
