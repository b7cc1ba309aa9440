// Package contextlog maintains the shared, bounded record of everything a
// convoy session has done. It combines an append-only event log with token
// budget accounting and threshold-triggered compaction so that the rendered
// log always fits a fixed downstream capacity without silently losing
// information.
package contextlog

import (
	"strings"
	"time"

	apperrors "github.com/stackmesh/convoy/pkg/errors"
)

const (
	// DefaultImportance is assigned when a caller does not specify one.
	DefaultImportance = 5

	// MaxImportance is the top of the importance scale.
	MaxImportance = 10

	// ImportantThreshold marks events the compactor must never drop.
	ImportantThreshold = 8

	// TypeCompactedSummary tags synthetic events that stand in for a
	// compacted run. They render like ordinary events.
	TypeCompactedSummary = "compacted_summary"
)

// Event is one immutable record in the context log. Seq is the sole ordering
// key; Timestamp is advisory and never used for ordering decisions.
type Event struct {
	Seq        uint64         `json:"seq"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Importance int            `json:"importance"`
	Pinned     bool           `json:"pinned,omitempty"`
}

// Important reports whether the compactor must retain this event.
func (e Event) Important() bool {
	return e.Pinned || e.Importance >= ImportantThreshold
}

func validateEventType(eventType string) error {
	if strings.TrimSpace(eventType) == "" {
		return apperrors.New(apperrors.ErrCodeValidation, "event type is required")
	}
	return nil
}

func clampImportance(importance int) int {
	if importance < 0 {
		return DefaultImportance
	}
	if importance > MaxImportance {
		return MaxImportance
	}
	return importance
}
