package contextlog

// Compactor shrinks an event sequence while disclosing what it dropped.
// Every contiguous run of dropped events is replaced by one synthetic
// compacted_summary event, so information loss is bounded and visible to
// every downstream reader of the rendered log.
type Compactor struct {
	emergencyKeep int
}

// DefaultEmergencyKeep is how many trailing events an emergency compaction
// retains alongside the single summary.
const DefaultEmergencyKeep = 5

// NewCompactor creates a compactor with the default emergency retention.
func NewCompactor() *Compactor {
	return &Compactor{emergencyKeep: DefaultEmergencyKeep}
}

// NewCompactorKeep creates a compactor retaining keep trailing events during
// emergency compaction.
func NewCompactorKeep(keep int) *Compactor {
	if keep <= 0 {
		keep = DefaultEmergencyKeep
	}
	return &Compactor{emergencyKeep: keep}
}

// Compact returns a smaller event sequence. Important events (importance >=
// 8 or pinned) are always retained regardless of ratio. Of the ordinary
// events, the most recent (1 - targetRatio) fraction survives in original
// order; the rest collapse into per-run summary events.
func (c *Compactor) Compact(events []Event, targetRatio float64) []Event {
	if len(events) == 0 {
		return nil
	}
	if targetRatio <= 0 || targetRatio >= 1 {
		out := make([]Event, len(events))
		copy(out, events)
		return out
	}

	ordinary := 0
	for _, e := range events {
		if !e.Important() {
			ordinary++
		}
	}

	keep := int(float64(ordinary) * (1 - targetRatio))
	dropCount := ordinary - keep
	if dropCount <= 0 {
		out := make([]Event, len(events))
		copy(out, events)
		return out
	}

	// The first dropCount ordinary events, in order, are the drop set;
	// everything after survives. Important events always survive.
	out := make([]Event, 0, len(events)-dropCount+1)
	var run []Event
	dropped := 0

	flush := func() {
		if len(run) > 0 {
			out = append(out, summarizeRun(run))
			run = nil
		}
	}

	for _, e := range events {
		if !e.Important() && dropped < dropCount {
			run = append(run, e)
			dropped++
			continue
		}
		flush()
		out = append(out, e)
	}
	flush()

	return out
}

// EmergencyCompact collapses the log to one summary plus the most recent
// events. It is the last resort before capacity would be exceeded and, unlike
// Compact, does not exempt important events from the summary.
func (c *Compactor) EmergencyCompact(events []Event) []Event {
	if len(events) <= c.emergencyKeep {
		out := make([]Event, len(events))
		copy(out, events)
		return out
	}

	cut := len(events) - c.emergencyKeep
	out := make([]Event, 0, c.emergencyKeep+1)
	out = append(out, summarizeRun(events[:cut]))
	out = append(out, events[cut:]...)
	return out
}

// summarizeRun builds the synthetic summary standing in for a dropped run.
// It takes the sequence id of the first dropped event so relative order is
// preserved, and is pinned so later passes never drop the disclosure itself.
func summarizeRun(run []Event) Event {
	types := make(map[string]int, len(run))
	for _, e := range run {
		types[e.Type]++
	}

	// JSON round-trips turn map[string]int into map[string]any; store the
	// counts as any so rendered payloads stay consistent either way.
	counts := make(map[string]any, len(types))
	for k, v := range types {
		counts[k] = v
	}

	return Event{
		Seq:  run[0].Seq,
		Type: TypeCompactedSummary,
		Payload: map[string]any{
			"summarized_events": len(run),
			"first_seq":         run[0].Seq,
			"last_seq":          run[len(run)-1].Seq,
			"event_types":       counts,
		},
		Timestamp:  run[len(run)-1].Timestamp,
		Importance: ImportantThreshold,
		Pinned:     true,
	}
}
