package contextlog

import (
	"sync"
	"time"
)

// EventLog is an append-only ordered sequence of events scoped to one
// context. Sequence ids are strictly increasing and never reused, even
// across compaction: the internal counter only moves forward.
type EventLog struct {
	mu        sync.Mutex
	contextID string
	events    []Event
	nextSeq   uint64
}

// NewEventLog creates an empty log for the given context id.
func NewEventLog(contextID string) *EventLog {
	return &EventLog{
		contextID: contextID,
		nextSeq:   1,
	}
}

// ContextID returns the owning context id.
func (l *EventLog) ContextID() string {
	return l.contextID
}

// Append stores a new event and returns it with its assigned sequence id.
// Importance below zero takes the default; above the scale it is clamped.
func (l *EventLog) Append(eventType string, payload map[string]any, importance int) (Event, error) {
	return l.append(eventType, payload, importance, false)
}

// AppendPinned stores a new event that the compactor must always retain.
func (l *EventLog) AppendPinned(eventType string, payload map[string]any, importance int) (Event, error) {
	return l.append(eventType, payload, importance, true)
}

func (l *EventLog) append(eventType string, payload map[string]any, importance int, pinned bool) (Event, error) {
	if err := validateEventType(eventType); err != nil {
		return Event{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	event := Event{
		Seq:        l.nextSeq,
		Type:       eventType,
		Payload:    clonePayload(payload),
		Timestamp:  time.Now().UTC(),
		Importance: clampImportance(importance),
		Pinned:     pinned,
	}
	l.nextSeq++
	l.events = append(l.events, event)
	return event, nil
}

// Events returns a copy of the current events in sequence order.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of events currently in the log.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// LastSeq returns the sequence id of the most recent event, or zero for an
// empty log.
func (l *EventLog) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.events) == 0 {
		return 0
	}
	return l.events[len(l.events)-1].Seq
}

// Render produces the deterministic textual serialization of the log.
func (l *EventLog) Render() string {
	return RenderEvents(l.Events())
}

// replace swaps the log contents with a compacted version. The sequence
// counter is untouched, so future appends never reuse an id.
func (l *EventLog) replace(events []Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = make([]Event, len(events))
	copy(l.events, events)
}

func clonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}
