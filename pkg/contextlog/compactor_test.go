package contextlog

import (
	"testing"
)

func makeEvents(n int, importance int) []Event {
	events := make([]Event, n)
	for i := range events {
		events[i] = Event{
			Seq:        uint64(i + 1),
			Type:       "status",
			Importance: importance,
		}
	}
	return events
}

func TestCompactKeepsRecentOrdinary(t *testing.T) {
	c := NewCompactor()
	events := makeEvents(100, DefaultImportance)

	out := c.Compact(events, 0.7)

	// 70% of 100 ordinary events dropped into one leading summary
	if len(out) != 31 {
		t.Fatalf("len = %d, want 31 (1 summary + 30 kept)", len(out))
	}
	if out[0].Type != TypeCompactedSummary {
		t.Errorf("first event type = %q, want %q", out[0].Type, TypeCompactedSummary)
	}
	if out[1].Seq != 71 {
		t.Errorf("first surviving seq = %d, want 71", out[1].Seq)
	}
	if out[len(out)-1].Seq != 100 {
		t.Errorf("last seq = %d, want 100", out[len(out)-1].Seq)
	}
}

func TestCompactNeverDropsImportant(t *testing.T) {
	c := NewCompactor()

	for _, ratio := range []float64{0.1, 0.5, 0.7, 0.9, 0.99} {
		events := makeEvents(50, DefaultImportance)
		// Sprinkle important events through the drop zone
		events[0].Importance = 9
		events[3].Importance = ImportantThreshold
		events[10].Pinned = true

		out := c.Compact(events, ratio)

		for _, seq := range []uint64{1, 4, 11} {
			ok := false
			for _, e := range out {
				if e.Seq == seq && e.Type == "status" {
					ok = true
				}
			}
			if !ok {
				t.Errorf("ratio %v: important event seq=%d was dropped", ratio, seq)
			}
		}
	}
}

func TestCompactSummarizesEachRun(t *testing.T) {
	c := NewCompactor()
	events := makeEvents(10, DefaultImportance)
	// An important event in the middle of the drop zone splits it into two runs
	events[4].Importance = 9

	out := c.Compact(events, 0.9) // drop all 9 ordinary

	summaries := 0
	for _, e := range out {
		if e.Type == TypeCompactedSummary {
			summaries++
			if !e.Pinned {
				t.Error("summary events must be pinned")
			}
		}
	}
	if summaries != 2 {
		t.Errorf("summaries = %d, want 2 (run split by important event)", summaries)
	}
}

func TestCompactSummaryDisclosesRun(t *testing.T) {
	c := NewCompactor()
	events := makeEvents(10, DefaultImportance)

	out := c.Compact(events, 0.5)

	if out[0].Type != TypeCompactedSummary {
		t.Fatalf("first event = %q, want summary", out[0].Type)
	}
	payload := out[0].Payload
	if payload["summarized_events"] != 5 {
		t.Errorf("summarized_events = %v, want 5", payload["summarized_events"])
	}
	if payload["first_seq"] != uint64(1) || payload["last_seq"] != uint64(5) {
		t.Errorf("run bounds = %v..%v, want 1..5", payload["first_seq"], payload["last_seq"])
	}
}

func TestCompactPreservesRelativeOrder(t *testing.T) {
	c := NewCompactor()
	events := makeEvents(40, DefaultImportance)
	events[2].Importance = 9
	events[20].Pinned = true

	out := c.Compact(events, 0.6)

	for i := 1; i < len(out); i++ {
		if out[i].Seq <= out[i-1].Seq {
			t.Fatalf("order violated at %d: %d then %d", i, out[i-1].Seq, out[i].Seq)
		}
	}
}

func TestCompactNoopRatios(t *testing.T) {
	c := NewCompactor()
	events := makeEvents(10, DefaultImportance)

	for _, ratio := range []float64{0, -1, 1, 1.5} {
		out := c.Compact(events, ratio)
		if len(out) != len(events) {
			t.Errorf("ratio %v: len = %d, want %d (out-of-range ratio is a no-op)", ratio, len(out), len(events))
		}
	}
}

func TestEmergencyCompactThousandEvents(t *testing.T) {
	c := NewCompactor()
	events := makeEvents(1000, DefaultImportance)

	out := c.EmergencyCompact(events)

	if len(out) != 6 {
		t.Fatalf("len = %d, want exactly 6 (1 summary + 5 recent)", len(out))
	}
	if out[0].Type != TypeCompactedSummary {
		t.Errorf("first event = %q, want %q", out[0].Type, TypeCompactedSummary)
	}
	if out[0].Payload["summarized_events"] != 995 {
		t.Errorf("summarized_events = %v, want 995", out[0].Payload["summarized_events"])
	}
	for i, want := range []uint64{996, 997, 998, 999, 1000} {
		if out[i+1].Seq != want {
			t.Errorf("out[%d].Seq = %d, want %d", i+1, out[i+1].Seq, want)
		}
	}
}

func TestEmergencyCompactSmallLogIsNoop(t *testing.T) {
	c := NewCompactor()
	events := makeEvents(4, DefaultImportance)

	out := c.EmergencyCompact(events)
	if len(out) != 4 {
		t.Errorf("len = %d, want 4 (log already under keep count)", len(out))
	}
}
