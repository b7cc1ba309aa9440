// Package coordinator runs the workers of one convoy session concurrently,
// enforcing dependency order, arbitrating exclusive resources, and resolving
// conflicts. Every coordination event is appended to the session's shared
// context log.
package coordinator

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	apperrors "github.com/stackmesh/convoy/pkg/errors"
)

// MessageType identifies the coordination intent of a message.
type MessageType string

const (
	MsgRequestHelp     MessageType = "REQUEST_HELP"
	MsgOfferHelp       MessageType = "OFFER_HELP"
	MsgShareInsight    MessageType = "SHARE_INSIGHT"
	MsgReportProgress  MessageType = "REPORT_PROGRESS"
	MsgRequestResource MessageType = "REQUEST_RESOURCE"
	MsgReleaseResource MessageType = "RELEASE_RESOURCE"
	MsgCoordinateTask  MessageType = "COORDINATE_TASK"
	MsgResolveConflict MessageType = "RESOLVE_CONFLICT"
)

var validMessageTypes = map[MessageType]struct{}{
	MsgRequestHelp:     {},
	MsgOfferHelp:       {},
	MsgShareInsight:    {},
	MsgReportProgress:  {},
	MsgRequestResource: {},
	MsgReleaseResource: {},
	MsgCoordinateTask:  {},
	MsgResolveConflict: {},
}

// Message is one inter-worker communication. Delivery is at-most-once to the
// named recipient's inbox; broadcast only happens through the coordinator's
// explicit fan-out helper.
type Message struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Type      MessageType    `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewMessage builds a validated message with a fresh ulid.
func NewMessage(from, to string, msgType MessageType, payload map[string]any) (Message, error) {
	if strings.TrimSpace(to) == "" {
		return Message{}, apperrors.New(apperrors.ErrCodeValidation, "message recipient is required")
	}
	if _, ok := validMessageTypes[msgType]; !ok {
		return Message{}, apperrors.Newf(apperrors.ErrCodeValidation, "unknown message type %q", msgType)
	}

	return Message{
		ID:        ulid.Make().String(),
		From:      from,
		To:        to,
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Encode serializes the message for the bus.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a message off the bus.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, apperrors.Wrap(err, apperrors.ErrCodeValidation, "malformed message")
	}
	if _, ok := validMessageTypes[m.Type]; !ok {
		return Message{}, apperrors.Newf(apperrors.ErrCodeValidation, "unknown message type %q", m.Type)
	}
	return m, nil
}

// Inbox is a bounded, ordered message queue. When full, new messages are
// dropped: delivery is at-most-once, never blocking.
type Inbox struct {
	mu       sync.Mutex
	messages []Message
	capacity int
	dropped  int
}

// DefaultInboxCapacity bounds per-worker inbox growth.
const DefaultInboxCapacity = 256

// NewInbox creates an inbox with the given capacity (default when <= 0).
func NewInbox(capacity int) *Inbox {
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}
	return &Inbox{capacity: capacity}
}

// Put enqueues a message, reporting whether it was accepted.
func (i *Inbox) Put(msg Message) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(i.messages) >= i.capacity {
		i.dropped++
		return false
	}
	i.messages = append(i.messages, msg)
	return true
}

// Drain removes and returns all pending messages in arrival order.
func (i *Inbox) Drain() []Message {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := i.messages
	i.messages = nil
	return out
}

// Len returns the number of pending messages.
func (i *Inbox) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.messages)
}

// Dropped returns how many messages were discarded due to a full inbox.
func (i *Inbox) Dropped() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dropped
}
