package contextlog

import (
	"sync"

	apperrors "github.com/stackmesh/convoy/pkg/errors"
)

// Frame is one saved entry on the interruption stack: where the worker was
// when it set its task aside to handle a tangent.
type Frame struct {
	TaskLabel string
	SeqAtPush uint64
	Reason    string
}

// ContextManager owns one log/tracker/compactor triple per context. It
// serializes appends, keeps the log within budget after every AddEvent, and
// tracks the tangent stack and scope upgrades.
type ContextManager struct {
	mu        sync.Mutex
	contextID string
	scope     ScopeConfig
	log       *EventLog
	tracker   *BudgetTracker
	compactor *Compactor

	stack      []Frame
	activeTask string

	compactions int
	emergencies int
}

// NewContextManager creates a manager for contextID with the given scope.
func NewContextManager(contextID string, scope ScopeConfig, tracker *BudgetTracker) *ContextManager {
	if scope.CompressionRatio <= 0 || scope.CompressionRatio >= 1 {
		scope = SessionScope()
	}
	return &ContextManager{
		contextID: contextID,
		scope:     scope,
		log:       NewEventLog(contextID),
		tracker:   tracker,
		compactor: NewCompactor(),
	}
}

// SetCompactor overrides the default compactor (used to tune emergency
// retention from config).
func (m *ContextManager) SetCompactor(c *Compactor) {
	if c == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compactor = c
}

// ContextID returns the owning context id.
func (m *ContextManager) ContextID() string {
	return m.contextID
}

// Scope returns the current scope configuration.
func (m *ContextManager) Scope() ScopeConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scope
}

// AddEvent appends with default importance. See AddEventImportance.
func (m *ContextManager) AddEvent(eventType string, payload map[string]any) (Event, error) {
	return m.AddEventImportance(eventType, payload, DefaultImportance)
}

// AddEventImportance appends an event, re-measures the rendered log, and
// compacts synchronously if the measurement reaches critical. Callers always
// see a log within budget when this returns.
func (m *ContextManager) AddEventImportance(eventType string, payload map[string]any, importance int) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, err := m.log.Append(eventType, payload, importance)
	if err != nil {
		return Event{}, err
	}

	m.enforceBudgetLocked()
	return event, nil
}

// AddPinnedEvent appends an event the compactor must always retain.
func (m *ContextManager) AddPinnedEvent(eventType string, payload map[string]any, importance int) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, err := m.log.AppendPinned(eventType, payload, importance)
	if err != nil {
		return Event{}, err
	}

	m.enforceBudgetLocked()
	return event, nil
}

func (m *ContextManager) enforceBudgetLocked() {
	if m.tracker == nil {
		return
	}

	_, level := m.tracker.Observe(m.log.Render())
	if level < LevelCritical {
		return
	}

	m.log.replace(m.compactor.Compact(m.log.Events(), m.scope.CompressionRatio))
	m.compactions++
	compactionsTotal.Inc()

	// Re-measure: if compaction could not get below emergency (for example
	// a log dominated by important events), fall back to the one-shot
	// emergency collapse.
	if m.tracker.LevelFor(m.tracker.Measure(m.log.Render())) >= LevelEmergency {
		m.log.replace(m.compactor.EmergencyCompact(m.log.Events()))
		m.emergencies++
		emergencyCompactionsTotal.Inc()
	}
}

// Render returns the deterministic serialization of the current log.
func (m *ContextManager) Render() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.log.Render()
}

// Events returns a copy of the current events.
func (m *ContextManager) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.log.Events()
}

// Measure sizes the current rendered log without threshold side effects.
func (m *ContextManager) Measure() Measurement {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tracker == nil {
		return Measurement{Source: SourceEstimate, PercentRemaining: 100}
	}
	return m.tracker.Measure(m.log.Render())
}

// PushContext saves the active task and switches to a tangent.
func (m *ContextManager) PushContext(reason, newTaskLabel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, err := m.log.Append("context_push", map[string]any{
		"reason":     reason,
		"tangent":    newTaskLabel,
		"prior_task": m.activeTask,
	}, DefaultImportance)
	if err != nil {
		return err
	}

	m.stack = append(m.stack, Frame{
		TaskLabel: m.activeTask,
		SeqAtPush: event.Seq,
		Reason:    reason,
	})
	m.activeTask = newTaskLabel

	m.enforceBudgetLocked()
	return nil
}

// PopContext ends the current tangent and restores the previously active
// task label. Popping an empty stack is an error.
func (m *ContextManager) PopContext(result string) (Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.stack) == 0 {
		return Frame{}, apperrors.New(apperrors.ErrCodeStackEmpty, "pop with no matching push").
			WithContext("context_id", m.contextID)
	}

	frame := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]

	tangent := m.activeTask
	m.activeTask = frame.TaskLabel

	if _, err := m.log.Append("context_pop", map[string]any{
		"tangent":       tangent,
		"result":        result,
		"restored_task": frame.TaskLabel,
	}, DefaultImportance); err != nil {
		return frame, err
	}

	m.enforceBudgetLocked()
	return frame, nil
}

// SetActiveTask records the label restored by future pops.
func (m *ContextManager) SetActiveTask(label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeTask = label
}

// ActiveTask returns the label of the task currently in focus.
func (m *ContextManager) ActiveTask() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeTask
}

// StackDepth returns the number of saved frames.
func (m *ContextManager) StackDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stack)
}

// UpgradeToProject re-tags a session scope as a project, preserving all
// existing events. The upgrade is one-directional; a second call fails.
func (m *ContextManager) UpgradeToProject(identity string) error {
	return m.UpgradeToProjectRatio(identity, ProjectCompressionRatio)
}

// UpgradeToProjectRatio upgrades with an explicit compression ratio, for
// callers whose configuration overrides the scope default. Ratios outside
// (0, 1) fall back to the default.
func (m *ContextManager) UpgradeToProjectRatio(identity string, ratio float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.scope.Scope == ScopeProject {
		return apperrors.New(apperrors.ErrCodeAlreadyUpgraded, "context is already a project").
			WithContext("context_id", m.contextID)
	}

	m.scope = ProjectScope(identity)
	if ratio > 0 && ratio < 1 {
		m.scope.CompressionRatio = ratio
	}

	_, err := m.log.AppendPinned("scope_upgraded", map[string]any{
		"scope":    string(ScopeProject),
		"identity": identity,
	}, ImportantThreshold)
	return err
}

// Compactions returns how many ratio compactions have run.
func (m *ContextManager) Compactions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compactions
}

// EmergencyCompactions returns how many emergency collapses have run.
func (m *ContextManager) EmergencyCompactions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emergencies
}
