package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/elonfeng/popradar/pkg/source"
)

// Notification summarizes one aggregation pass.
type Notification struct {
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	RunID       string          `json:"run_id"`
	Records     int             `json:"records"`
	ByPlatform  map[string]int  `json:"by_platform"`
	RateLimited []string        `json:"rate_limited,omitempty"`
	Failures    []string        `json:"failures,omitempty"`
	Top         []source.Record `json:"top"`
}

// Notifier delivers alerts to a specific destination.
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
	return m != nil && len(m.notifiers) > 0
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
