package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix is where operator notifications are published on the bus.
// The urgency level is appended, e.g. "convoy.notify.critical".
const SubjectPrefix = "convoy.notify"

// NATSNotifier publishes notifications to the message bus so external
// listeners (dashboards, paging bridges) can consume them.
type NATSNotifier struct {
	conn *nats.Conn
}

// NewNATSNotifier creates a bus-backed notifier over an existing connection.
func NewNATSNotifier(conn *nats.Conn) (*NATSNotifier, error) {
	if conn == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	return &NATSNotifier{conn: conn}, nil
}

// Name returns the channel name.
func (n *NATSNotifier) Name() string {
	return "nats"
}

// Notify publishes the event as JSON.
func (n *NATSNotifier) Notify(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	level := event.Level
	if level == "" {
		level = LevelInfo
	}
	subject := SubjectPrefix + "." + string(level)
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return n.conn.FlushWithContext(ctx)
}
