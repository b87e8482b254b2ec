package ui

import (
	"fmt"
	"os/exec"
	"runtime"

	"coursedump/pkg/crawl"
)

// NotificationSender interface for platform-specific notification implementations
type NotificationSender interface {
	Send(title, message string) error
}

// LinuxNotificationSender sends notifications on Linux using notify-send
type LinuxNotificationSender struct{}

func (l *LinuxNotificationSender) Send(title, message string) error {
	return exec.Command("notify-send", "--app-name=coursedump", title, message).Run()
}

// MacOSNotificationSender sends notifications on macOS using osascript
type MacOSNotificationSender struct{}

func (m *MacOSNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}

// WindowsNotificationSender sends notifications on Windows using PowerShell
type WindowsNotificationSender struct{}

func (w *WindowsNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`
		[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
		[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] | Out-Null
		$xml = @"
<toast>
	<visual>
		<binding template="ToastText02">
			<text id="1">%s</text>
			<text id="2">%s</text>
		</binding>
	</visual>
</toast>
"@
		$doc = [Windows.Data.Xml.Dom.XmlDocument]::new()
		$doc.LoadXml($xml)
		$toast = [Windows.UI.Notifications.ToastNotification]::new($doc)
		[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("coursedump").Show($toast)
	`, title, message)

	return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script).Run()
}

// Notifier sends desktop notifications when a run ends
type Notifier struct {
	sender     NotificationSender
	onComplete bool
	onAbort    bool
}

// NewNotifier creates a Notifier for the current platform. onComplete and
// onAbort select which run outcomes produce a notification.
func NewNotifier(onComplete, onAbort bool) *Notifier {
	var sender NotificationSender

	switch runtime.GOOS {
	case "linux":
		sender = &LinuxNotificationSender{}
	case "darwin":
		sender = &MacOSNotificationSender{}
	case "windows":
		sender = &WindowsNotificationSender{}
	}

	return NewNotifierWithSender(sender, onComplete, onAbort)
}

// NewNotifierWithSender creates a Notifier over an explicit sender
func NewNotifierWithSender(sender NotificationSender, onComplete, onAbort bool) *Notifier {
	return &Notifier{sender: sender, onComplete: onComplete, onAbort: onAbort}
}

// NotifyRun reports the outcome of a traversal. It returns the title sent,
// or "" when the outcome is not selected.
func (n *Notifier) NotifyRun(result *crawl.Result, err error) string {
	var title, message string
	switch {
	case result != nil && result.Aborted:
		if !n.onAbort {
			return ""
		}
		title = "Archive stopped"
		message = fmt.Sprintf("%d files written, resume from %s", result.Files, result.LastPosition)
	case err != nil:
		if !n.onAbort {
			return ""
		}
		title = "Archive failed"
		message = err.Error()
	case result != nil:
		if !n.onComplete {
			return ""
		}
		title = "Archive complete"
		message = fmt.Sprintf("%d files written, %d failures", result.Files, result.Failures)
	default:
		return ""
	}

	if n.sender != nil {
		// desktop notifications are best effort
		_ = n.sender.Send(title, message)
	}
	return title
}
