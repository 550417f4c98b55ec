package notify

import (
	"fmt"
	"os/exec"
	"runtime"
)

// DesktopNotifier shows batch results through the OS notification daemon
type DesktopNotifier struct {
	enabled bool
	run     func(name string, args ...string) error
}

// NewDesktopNotifier creates a new desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled, run: runCommand}
}

func runCommand(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// Send sends a desktop notification
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}

	switch runtime.GOOS {
	case "darwin":
		return d.sendMacOS(n)
	case "linux":
		return d.sendLinux(n)
	default:
		return nil // Unsupported
	}
}

func (d *DesktopNotifier) sendMacOS(n Notification) error {
	script := fmt.Sprintf("display notification %q with title %q", n.Message, n.Title)
	return d.run("osascript", "-e", script)
}

func (d *DesktopNotifier) sendLinux(n Notification) error {
	return d.run("notify-send", "--app-name=porkchop", "--icon="+IconForLevel(n.Level), n.Title, n.Message)
}

// IconForLevel returns a freedesktop icon name
func IconForLevel(l Level) string {
	switch l {
	case LevelSuccess:
		return "dialog-positive"
	case LevelWarning:
		return "dialog-warning"
	case LevelError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
