package notify

import (
	"context"
	"runtime"
	"strings"
	"time"

	"github.com/hochfrequenz/auto-claude/internal/runner"
)

// DesktopNotifier sends desktop notifications
type DesktopNotifier struct {
	enabled bool
	runner  runner.Runner
	goos    string
}

// NewDesktopNotifier creates a new desktop notifier
func NewDesktopNotifier(enabled bool, r runner.Runner) *DesktopNotifier {
	if r == nil {
		r = runner.New(5 * time.Second)
	}
	return &DesktopNotifier{enabled: enabled, runner: r, goos: runtime.GOOS}
}

// Send sends a desktop notification
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}

	ctx := context.Background()
	switch d.goos {
	case "darwin":
		script := `display notification "` + appleScriptQuote(n.Message) + `" with title "` + appleScriptQuote(n.Title) + `"`
		_, err := d.runner.Run(ctx, runner.Command{Name: "osascript", Args: []string{"-e", script}})
		return err
	case "linux":
		_, err := d.runner.Run(ctx, runner.Command{Name: "notify-send", Args: []string{"--icon", IconForType(n.Type), n.Title, n.Message}})
		return err
	default:
		return nil // Unsupported
	}
}

func appleScriptQuote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// IconForType returns an icon name for the notification type
func IconForType(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "dialog-positive"
	case NotifyWarning:
		return "dialog-warning"
	case NotifyError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
