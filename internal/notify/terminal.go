package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// TerminalNotifier prints notifications to a terminal. It is used by the
// watch command so executed trades show up next to the log output.
type TerminalNotifier struct {
	out          io.Writer
	mu           sync.Mutex
	enabled      bool
	bellEnabled  bool
	colorEnabled bool
}

// NewTerminalNotifier creates a TerminalNotifier writing to out.
func NewTerminalNotifier(out io.Writer, colorEnabled bool) *TerminalNotifier {
	return &TerminalNotifier{
		out:          out,
		enabled:      true,
		colorEnabled: colorEnabled,
	}
}

// SetBellEnabled enables or disables the terminal bell on trades.
func (tn *TerminalNotifier) SetBellEnabled(enabled bool) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.bellEnabled = enabled
}

// Name returns the name of the notifier.
func (tn *TerminalNotifier) Name() string {
	return "terminal"
}

// IsEnabled returns whether the notifier is enabled.
func (tn *TerminalNotifier) IsEnabled() bool {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	return tn.enabled
}

// Send writes the notification.
func (tn *TerminalNotifier) Send(_ context.Context, n Notification) error {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	if !tn.enabled {
		return nil
	}
	if tn.bellEnabled && n.Type == NotificationTrade {
		fmt.Fprint(tn.out, "\a")
	}
	_, err := fmt.Fprintln(tn.out, FormatNotification(n, tn.colorEnabled))
	return err
}

// FormatNotification renders n on one header line followed by an indented
// body.
func FormatNotification(n Notification, colorEnabled bool) string {
	var typeIndicator string
	var c *color.Color
	switch n.Type {
	case NotificationTrade:
		typeIndicator = "💹 TRADE"
		c = color.New(color.FgMagenta, color.Bold)
	case NotificationError:
		typeIndicator = "❌ ERROR"
		c = color.New(color.FgRed, color.Bold)
	default:
		typeIndicator = "ℹ️  INFO"
		c = color.New(color.FgWhite)
	}
	if colorEnabled {
		c.EnableColor()
	} else {
		c.DisableColor()
	}

	var sb strings.Builder
	header := fmt.Sprintf("[%s] %s", n.Timestamp.Format("15:04:05"), typeIndicator)
	sb.WriteString(c.Sprint(header))
	if n.Title != "" {
		sb.WriteString(" | " + n.Title)
	}
	for _, line := range strings.Split(n.Message, "\n") {
		if line == "" {
			continue
		}
		sb.WriteString("\n    " + line)
	}
	return sb.String()
}
