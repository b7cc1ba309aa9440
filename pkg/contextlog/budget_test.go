package contextlog

import (
	"errors"
	"strings"
	"testing"

	apperrors "github.com/stackmesh/convoy/pkg/errors"
)

// charCounter counts one token per character, which makes percentages easy
// to control in tests.
type charCounter struct{}

func (charCounter) Count(text string) (int, error) { return len(text), nil }

// failingCounter simulates an unavailable measurement backend.
type failingCounter struct{}

func (failingCounter) Count(string) (int, error) { return 0, errors.New("backend unavailable") }

func TestMeasureExact(t *testing.T) {
	tracker := NewBudgetTracker(charCounter{}, 100)

	m := tracker.Measure(strings.Repeat("x", 50))
	if m.Source != SourceExact {
		t.Errorf("Source = %q, want exact", m.Source)
	}
	if m.Tokens != 50 {
		t.Errorf("Tokens = %d, want 50", m.Tokens)
	}
	if m.PercentUsed != 50 {
		t.Errorf("PercentUsed = %v, want 50", m.PercentUsed)
	}
	if m.PercentRemaining != 50 {
		t.Errorf("PercentRemaining = %v, want 50", m.PercentRemaining)
	}
}

func TestMeasureFallsBackToEstimate(t *testing.T) {
	tracker := NewBudgetTracker(failingCounter{}, 100)

	m := tracker.Measure(strings.Repeat("x", 40))
	if m.Source != SourceEstimate {
		t.Errorf("Source = %q, want estimate", m.Source)
	}
	if m.Tokens != 10 {
		t.Errorf("Tokens = %d, want 10 (40 chars / 4)", m.Tokens)
	}
}

func TestLevels(t *testing.T) {
	tracker := NewBudgetTracker(charCounter{}, 100)

	cases := []struct {
		chars int
		want  Level
	}{
		{10, LevelNone},
		{39, LevelNone},
		{40, LevelWarning},
		{69, LevelWarning},
		{70, LevelCritical},
		{84, LevelCritical},
		{85, LevelEmergency},
		{99, LevelEmergency},
	}
	for _, tc := range cases {
		m := tracker.Measure(strings.Repeat("x", tc.chars))
		if got := tracker.LevelFor(m); got != tc.want {
			t.Errorf("LevelFor(%d%%) = %v, want %v", tc.chars, got, tc.want)
		}
	}
}

func TestThresholdNotificationIsOneShot(t *testing.T) {
	tracker := NewBudgetTracker(charCounter{}, 100)

	var fired []Level
	tracker.OnThreshold(func(level Level, _ Measurement) {
		fired = append(fired, level)
	})

	// 41% crosses warning: exactly one notification
	tracker.Observe(strings.Repeat("x", 41))
	if len(fired) != 1 || fired[0] != LevelWarning {
		t.Fatalf("fired = %v, want single warning", fired)
	}

	// Still above 40%: no re-fire
	tracker.Observe(strings.Repeat("x", 45))
	if len(fired) != 1 {
		t.Fatalf("fired = %v, want no repeat while level held", fired)
	}

	// Drop below, then re-cross: fires again
	tracker.Observe(strings.Repeat("x", 10))
	tracker.Observe(strings.Repeat("x", 42))
	if len(fired) != 2 {
		t.Fatalf("fired = %v, want re-fire after level dropped", fired)
	}
}

func TestThresholdEscalationFires(t *testing.T) {
	tracker := NewBudgetTracker(charCounter{}, 100)

	var fired []Level
	tracker.OnThreshold(func(level Level, _ Measurement) {
		fired = append(fired, level)
	})

	tracker.Observe(strings.Repeat("x", 41)) // warning
	tracker.Observe(strings.Repeat("x", 71)) // critical
	tracker.Observe(strings.Repeat("x", 86)) // emergency

	want := []Level{LevelWarning, LevelCritical, LevelEmergency}
	if len(fired) != len(want) {
		t.Fatalf("fired = %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Errorf("fired[%d] = %v, want %v", i, fired[i], want[i])
		}
	}
}

func TestSetThresholdsRejectsInvalid(t *testing.T) {
	tracker := NewBudgetTracker(charCounter{}, 100)
	tracker.SetThresholds(80, 70, 60) // not increasing, ignored

	m := tracker.Measure(strings.Repeat("x", 41))
	if got := tracker.LevelFor(m); got != LevelWarning {
		t.Errorf("LevelFor = %v, want defaults retained (warning)", got)
	}
}

func TestTiktokenCounterOrEstimate(t *testing.T) {
	// The tiktoken encoder may need a network fetch for its BPE ranks; the
	// tracker must degrade to an estimate rather than fail either way.
	tracker := NewBudgetTracker(nil, 1000)
	m := tracker.Measure("hello coordinated workers")
	if m.Tokens <= 0 {
		t.Errorf("Tokens = %d, want positive count from exact or estimate path", m.Tokens)
	}
	if m.Source != SourceExact && m.Source != SourceEstimate {
		t.Errorf("Source = %q, want exact or estimate", m.Source)
	}

	// When the encoder cannot be initialized the counter reports the
	// failure as a measurement error, so callers can branch on the code.
	if _, err := (TiktokenCounter{}).Count("hello"); err != nil {
		if !apperrors.IsCode(err, apperrors.ErrCodeMeasurement) {
			t.Errorf("Count error = %v, want MEASUREMENT_UNAVAILABLE", err)
		}
	}
}
