// Package notify delivers alerts and reports to Slack and the desktop
package notify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hochfrequenz/auto-claude/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	// Channel overrides the notifier's default channel
	Channel string
	// ThreadTS posts the notification as a reply in a thread
	ThreadTS string
	RunID    string
	Repo     string
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers and joins their errors
func (m *MultiNotifier) Send(n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// TypeForSeverity maps the worst anomaly severity to a notification type
func TypeForSeverity(s domain.Severity) NotificationType {
	switch s {
	case domain.SeverityHigh:
		return NotifyError
	case domain.SeverityMedium:
		return NotifyWarning
	default:
		return NotifyInfo
	}
}

// AlertFor builds the alert for a run's escalated anomalies
func AlertFor(run *domain.RunRecord, anomalies []domain.Anomaly) Notification {
	var b strings.Builder
	for i, a := range anomalies {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%s *%s*\n%s", severityMarker(a.Severity), titleCase(a.Type), a.Message)
		if a.Suggestion != "" {
			fmt.Fprintf(&b, "\n_Suggestion: %s_", a.Suggestion)
		}
	}
	fmt.Fprintf(&b, "\n\nTokens: %s | Work units: %d | Duration: %dmin",
		domain.FormatNumber(run.TotalTokens()), run.WorkUnits(), run.DurationSec/60)

	return Notification{
		Title:   fmt.Sprintf("Anomaly detected in %s (run %s)", run.Repo, run.RunID),
		Message: b.String(),
		Type:    TypeForSeverity(domain.HighestSeverity(anomalies)),
		RunID:   run.RunID,
		Repo:    run.Repo,
	}
}

func severityMarker(s domain.Severity) string {
	switch s {
	case domain.SeverityHigh:
		return ":red_circle:"
	case domain.SeverityMedium:
		return ":large_orange_circle:"
	case domain.SeverityLow:
		return ":large_yellow_circle:"
	default:
		return ":white_circle:"
	}
}

// titleCase turns high_tokens_no_output into "High Tokens No Output"
func titleCase(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
