// Package notify announces finished batches on the desktop and in Slack.
package notify

import (
	"fmt"

	"github.com/hochfrequenz/porkchop/internal/domain"
)

// Level is the tone of a notification
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

// Notification is one message to deliver
type Notification struct {
	Title   string
	Message string
	Level   Level
	BatchID string // Optional batch reference
	// Counts is set for finished batches
	Counts *Counts
	// FailedPrompts lists category::name of failed tasks
	FailedPrompts []string
}

// Counts tallies task outcomes of a batch
type Counts struct {
	Total     int
	Succeeded int
	Failed    int
	Issues    int
}

// Notifier delivers notifications
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

// Send sends the notification to all notifiers, returning the last error
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing
type NoopNotifier struct{}

func (NoopNotifier) Send(Notification) error { return nil }

// ForBatch summarizes a finished batch. A batch where every task failed is
// an error, some failures a warning.
func ForBatch(b *domain.Batch) Notification {
	failed := b.FailedTasks()
	total := b.TotalTasks()

	n := Notification{
		BatchID: b.ID,
		Message: fmt.Sprintf("%d/%d prompts succeeded, %d failed", total-failed, total, failed),
		Counts:  &Counts{Total: total, Succeeded: total - failed, Failed: failed},
	}
	for _, t := range b.Tasks {
		switch t.Status {
		case domain.StatusCompleted:
			n.Counts.Issues += len(t.Result)
		case domain.StatusFailed:
			n.FailedPrompts = append(n.FailedPrompts, t.Prompt.Key().String())
		}
	}

	switch {
	case b.Status == domain.StatusFailed:
		n.Title = fmt.Sprintf("Batch %q could not be scheduled", b.Name)
		n.Level = LevelError
		n.Message = "no prompt was run"
	case failed == 0:
		n.Title = fmt.Sprintf("Batch %q validated", b.Name)
		n.Level = LevelSuccess
	case failed == total:
		n.Title = fmt.Sprintf("Batch %q: every prompt failed", b.Name)
		n.Level = LevelError
	default:
		n.Title = fmt.Sprintf("Batch %q finished with failures", b.Name)
		n.Level = LevelWarning
	}
	return n
}
