package contextlog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// RenderEvents serializes events into the block format consumed both for
// budget accounting and by external readers. One block per event, strict
// sequence order, payload keys sorted, so identical log contents always
// yield identical output.
//
//	=== seq=12 type=worker_state importance=5 time=2026-03-01T10:00:00Z
//	  progress: 50
//	  worker: "code-review"
//
// Summary events produced by compaction render through the same path, so
// the format is stable across compaction.
func RenderEvents(events []Event) string {
	var b strings.Builder

	for _, event := range events {
		renderBlock(&b, event)
	}
	return b.String()
}

func renderBlock(b *strings.Builder, event Event) {
	fmt.Fprintf(b, "=== seq=%d type=%s importance=%d time=%s",
		event.Seq, event.Type, event.Importance,
		event.Timestamp.UTC().Format(time.RFC3339))
	if event.Pinned {
		b.WriteString(" pinned=true")
	}
	b.WriteString("\n")

	keys := make([]string, 0, len(event.Payload))
	for k := range event.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(b, "  %s: %s\n", k, renderValue(event.Payload[k]))
	}
}

// renderValue encodes a payload value as JSON. encoding/json sorts map keys,
// which keeps nested structures deterministic.
func renderValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%q", fmt.Sprintf("%v", v))
	}
	return string(data)
}
