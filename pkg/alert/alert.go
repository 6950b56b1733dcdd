package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/pricescout/pricescout/internal/train"
)

// Notification summarizes a completed training pass for alert destinations.
type Notification struct {
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Skipped    int      `json:"skipped"`
	Errors     []string `json:"errors,omitempty"`
}

// FromBatchReport builds a notification from a train-all report.
func FromBatchReport(r *train.BatchReport) *Notification {
	title := "Training pass complete"
	if r.Failed > 0 {
		title = fmt.Sprintf("Training pass finished with %d failures", r.Failed)
	}
	return &Notification{
		Title:      title,
		Body:       fmt.Sprintf("%d trained, %d failed, %d skipped of %d eligible items", r.Successful, r.Failed, r.Skipped, r.Total),
		Total:      r.Total,
		Successful: r.Successful,
		Failed:     r.Failed,
		Skipped:    r.Skipped,
		Errors:     r.Errors,
	}
}

// Notifier delivers notifications to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}
