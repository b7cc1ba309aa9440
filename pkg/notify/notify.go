// Package notify delivers operator notifications for events the session
// cannot resolve on its own: escalated conflicts, failed workers, and context
// budget pressure. Delivery is best effort; a failed notification is logged
// by the caller and never affects the session outcome.
package notify

import (
	"context"
	"time"
)

// Level indicates notification urgency.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Event is one operator notification.
type Event struct {
	// Title is a short summary
	Title string `json:"title"`

	// Body is the detailed message
	Body string `json:"body"`

	// Level is the urgency
	Level Level `json:"level"`

	// SessionID identifies the originating session (optional)
	SessionID string `json:"session_id,omitempty"`

	// Details carries additional context
	Details map[string]any `json:"details,omitempty"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`
}

// Notifier delivers events to one channel.
type Notifier interface {
	// Name returns the channel name.
	Name() string

	// Notify delivers the event.
	Notify(ctx context.Context, event Event) error
}

// Noop discards all events.
type Noop struct{}

func (Noop) Name() string { return "noop" }

func (Noop) Notify(context.Context, Event) error { return nil }

// Multi fans an event out to several channels. Every channel is attempted;
// the first error is returned.
type Multi struct {
	notifiers []Notifier
}

// NewMulti creates a fan-out notifier.
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Notify(ctx context.Context, event Event) error {
	var firstErr error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
