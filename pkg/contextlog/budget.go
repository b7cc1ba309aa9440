package contextlog

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	apperrors "github.com/stackmesh/convoy/pkg/errors"
)

// Source indicates how a measurement was obtained.
type Source string

const (
	// SourceExact means the tokenizer counted real tokens.
	SourceExact Source = "exact"

	// SourceEstimate means the character heuristic was used. Callers should
	// treat these as lower-confidence signals, not exact counts.
	SourceEstimate Source = "estimate"
)

// Measurement is the result of sizing a rendered log against capacity.
type Measurement struct {
	Tokens           int
	PercentUsed      float64
	PercentRemaining float64
	Source           Source
}

// Level classifies budget pressure.
type Level int

const (
	LevelNone Level = iota
	LevelWarning
	LevelCritical
	LevelEmergency
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "none"
	}
}

// Default threshold percentages.
const (
	DefaultWarningPct   = 40.0
	DefaultCriticalPct  = 70.0
	DefaultEmergencyPct = 85.0
)

// TokenCounter counts tokens in text. Implementations may fail; the tracker
// degrades to estimation rather than surfacing the error.
type TokenCounter interface {
	Count(text string) (int, error)
}

var (
	tokenEncoder *tiktoken.Tiktoken
	encoderOnce  sync.Once
	encoderErr   error
)

func initTokenEncoder() error {
	encoderOnce.Do(func() {
		// cl100k_base covers the model families convoy renders for
		tokenEncoder, encoderErr = tiktoken.GetEncoding("cl100k_base")
	})
	return encoderErr
}

// TiktokenCounter counts tokens with a lazily-initialized tiktoken encoder.
type TiktokenCounter struct{}

// Count implements TokenCounter.
func (TiktokenCounter) Count(text string) (int, error) {
	if err := initTokenEncoder(); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeMeasurement, "token encoder unavailable").
			WithRetryable(true)
	}
	return len(tokenEncoder.Encode(text, nil, nil)), nil
}

// estimateTokens is the fallback heuristic: roughly 4 characters per token.
func estimateTokens(text string) int {
	return len(text) / 4
}

// BudgetTracker measures a rendered log against a hard token capacity and
// reports one-shot threshold crossings.
type BudgetTracker struct {
	mu           sync.Mutex
	counter      TokenCounter
	capacity     int
	warningPct   float64
	criticalPct  float64
	emergencyPct float64
	lastLevel    Level
	onThreshold  func(Level, Measurement)
}

// NewBudgetTracker creates a tracker with the given capacity in tokens.
// A nil counter defaults to the tiktoken counter.
func NewBudgetTracker(counter TokenCounter, capacity int) *BudgetTracker {
	if counter == nil {
		counter = TiktokenCounter{}
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &BudgetTracker{
		counter:      counter,
		capacity:     capacity,
		warningPct:   DefaultWarningPct,
		criticalPct:  DefaultCriticalPct,
		emergencyPct: DefaultEmergencyPct,
	}
}

// SetThresholds overrides the default severity percentages. Values must be
// strictly increasing; invalid combinations are ignored.
func (b *BudgetTracker) SetThresholds(warning, critical, emergency float64) {
	if warning <= 0 || warning >= critical || critical >= emergency || emergency > 100 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.warningPct = warning
	b.criticalPct = critical
	b.emergencyPct = emergency
}

// OnThreshold registers a callback fired once per upward level crossing.
func (b *BudgetTracker) OnThreshold(fn func(Level, Measurement)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onThreshold = fn
}

// Capacity returns the hard token capacity.
func (b *BudgetTracker) Capacity() int {
	return b.capacity
}

// Measure sizes the rendered log. On counter failure it falls back to the
// character estimate and flags the source; it never returns an error.
func (b *BudgetTracker) Measure(rendered string) Measurement {
	tokens, err := b.counter.Count(rendered)
	source := SourceExact
	if err != nil {
		tokens = estimateTokens(rendered)
		source = SourceEstimate
	}

	pct := float64(tokens) / float64(b.capacity) * 100
	return Measurement{
		Tokens:           tokens,
		PercentUsed:      pct,
		PercentRemaining: 100 - pct,
		Source:           source,
	}
}

// Observe measures the rendered log and applies the one-shot notification
// rule: a callback fires only when the level rises above the previously
// observed level, and re-arms once the level drops.
func (b *BudgetTracker) Observe(rendered string) (Measurement, Level) {
	m := b.Measure(rendered)
	level := b.LevelFor(m)

	b.mu.Lock()
	fire := level > b.lastLevel
	b.lastLevel = level
	fn := b.onThreshold
	b.mu.Unlock()

	if fire {
		thresholdCrossings.WithLabelValues(level.String()).Inc()
		if fn != nil {
			fn(level, m)
		}
	}
	return m, level
}

// LevelFor classifies a measurement against the configured thresholds.
func (b *BudgetTracker) LevelFor(m Measurement) Level {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case m.PercentUsed >= b.emergencyPct:
		return LevelEmergency
	case m.PercentUsed >= b.criticalPct:
		return LevelCritical
	case m.PercentUsed >= b.warningPct:
		return LevelWarning
	default:
		return LevelNone
	}
}
