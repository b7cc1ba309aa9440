package coordinator

import (
	"context"
	"strings"
	"sync"

	apperrors "github.com/stackmesh/convoy/pkg/errors"
)

// State is a worker lifecycle state. COMPLETED and ERROR are terminal.
type State string

const (
	StateIdle         State = "IDLE"
	StateInitializing State = "INITIALIZING"
	StateWorking      State = "WORKING"
	StateWaiting      State = "WAITING"
	StateCoordinating State = "COORDINATING"
	StateBlocked      State = "BLOCKED"
	StateCompleted    State = "COMPLETED"
	StateError        State = "ERROR"
)

// allowedTransitions encodes the worker state machine. Any transition not
// listed here is rejected; ERROR is additionally reachable from every
// non-terminal state.
var allowedTransitions = map[State][]State{
	StateIdle:         {StateInitializing},
	StateInitializing: {StateWorking, StateWaiting, StateCompleted},
	StateWorking:      {StateWaiting, StateCoordinating, StateBlocked, StateCompleted},
	StateWaiting:      {StateWorking, StateCoordinating, StateBlocked, StateCompleted},
	StateCoordinating: {StateWorking, StateWaiting, StateBlocked},
	StateBlocked:      {StateWorking, StateWaiting, StateCoordinating},
	StateCompleted:    {},
	StateError:        {},
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError
}

func transitionAllowed(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateError {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TaskResult carries the outcome of one executed task.
type TaskResult struct {
	Output  string
	Details map[string]any
}

// TaskRunner executes a single task on behalf of a worker. Implementations
// must honor ctx cancellation.
type TaskRunner interface {
	Execute(ctx context.Context, task Task) (*TaskResult, error)
}

// TaskRunnerFunc adapts a function to the TaskRunner interface.
type TaskRunnerFunc func(ctx context.Context, task Task) (*TaskResult, error)

func (f TaskRunnerFunc) Execute(ctx context.Context, task Task) (*TaskResult, error) {
	return f(ctx, task)
}

// Task is one unit of work in a worker's queue. DependsOn names workers that
// must reach COMPLETED before the task becomes eligible; when empty, the
// worker's own declared dependencies apply.
type Task struct {
	ID        string
	Label     string
	DependsOn []string
	Resources []string
	Payload   map[string]any
}

// WorkerSpec declares one worker of a session.
type WorkerSpec struct {
	Name       string
	Role       string
	DependsOn  []string
	Optional   bool
	MaxRetries int
	Tasks      []Task
	Runner     TaskRunner
}

func (s WorkerSpec) validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return apperrors.New(apperrors.ErrCodeConfigInvalid, "worker name is required")
	}
	if s.Runner == nil && len(s.Tasks) > 0 {
		return apperrors.Newf(apperrors.ErrCodeConfigInvalid, "worker %s has tasks but no runner", s.Name)
	}
	return nil
}

// Worker is the runtime state of one session participant. All mutation goes
// through the coordinator's work loop; external readers use the accessor
// methods.
type Worker struct {
	mu sync.RWMutex

	name       string
	role       string
	optional   bool
	maxRetries int
	runner     TaskRunner

	state       State
	stateReason string
	currentTask string
	progress    int
	retries     int

	dependencies  map[string]struct{}
	resourcesHeld map[string]struct{}
	knowledge     map[string]any

	tasks []Task
	done  map[string]bool

	inbox *Inbox
}

func newWorker(spec WorkerSpec) *Worker {
	deps := make(map[string]struct{}, len(spec.DependsOn))
	for _, d := range spec.DependsOn {
		deps[d] = struct{}{}
	}
	maxRetries := spec.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Worker{
		name:          spec.Name,
		role:          spec.Role,
		optional:      spec.Optional,
		maxRetries:    maxRetries,
		runner:        spec.Runner,
		state:         StateIdle,
		dependencies:  deps,
		resourcesHeld: make(map[string]struct{}),
		knowledge:     make(map[string]any),
		tasks:         append([]Task(nil), spec.Tasks...),
		done:          make(map[string]bool),
		inbox:         NewInbox(0),
	}
}

// Name returns the worker's unique name.
func (w *Worker) Name() string { return w.name }

// Role returns the worker's decision domain role.
func (w *Worker) Role() string { return w.role }

// Optional reports whether a failure of this worker leaves the session
// partial instead of failed.
func (w *Worker) Optional() bool { return w.optional }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// StateReason returns the free-form reason recorded with the last transition.
func (w *Worker) StateReason() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stateReason
}

// CurrentTask returns the label of the task being executed, if any.
func (w *Worker) CurrentTask() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.currentTask
}

// Progress returns completion percentage in [0, 100].
func (w *Worker) Progress() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.progress
}

// Retries returns how many task retries this worker has consumed.
func (w *Worker) Retries() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.retries
}

// Knowledge returns a copy of insights accumulated from other workers.
func (w *Worker) Knowledge() map[string]any {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]any, len(w.knowledge))
	for k, v := range w.knowledge {
		out[k] = v
	}
	return out
}

// Dependencies returns the declared upstream worker names.
func (w *Worker) Dependencies() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.dependencies))
	for d := range w.dependencies {
		out = append(out, d)
	}
	return out
}

// Inbox exposes the worker's bounded message queue.
func (w *Worker) Inbox() *Inbox { return w.inbox }

// transition moves the worker to a new state, rejecting moves the state
// machine does not allow.
func (w *Worker) transition(to State, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == to {
		w.stateReason = reason
		return nil
	}
	if !transitionAllowed(w.state, to) {
		return apperrors.Newf(apperrors.ErrCodeValidation,
			"worker %s cannot transition %s -> %s", w.name, w.state, to).
			WithContext("worker", w.name).
			WithContext("from", string(w.state)).
			WithContext("to", string(to))
	}
	w.state = to
	w.stateReason = reason
	if to == StateCompleted {
		w.progress = 100
		w.currentTask = ""
	}
	return nil
}

func (w *Worker) setCurrentTask(label string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.currentTask = label
}

func (w *Worker) absorbInsight(from string, payload map[string]any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k, v := range payload {
		w.knowledge[k] = v
	}
	w.knowledge["last_insight_from"] = from
}

func (w *Worker) holdResource(resource string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resourcesHeld[resource] = struct{}{}
}

func (w *Worker) dropResource(resource string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.resourcesHeld, resource)
}

// ResourcesHeld returns the names of resources currently owned.
func (w *Worker) ResourcesHeld() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.resourcesHeld))
	for r := range w.resourcesHeld {
		out = append(out, r)
	}
	return out
}

// markDone records one task as finished and refreshes progress.
func (w *Worker) markDone(taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.done[taskID] = true
	if len(w.tasks) > 0 {
		w.progress = len(w.done) * 100 / len(w.tasks)
	}
}

func (w *Worker) bumpRetries() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.retries++
	return w.retries
}

func (w *Worker) resetRetries() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.retries = 0
}

// nextEligibleTask returns the first unfinished task whose dependencies are
// all COMPLETED according to stateOf. The second return distinguishes "no
// eligible task yet" from "all tasks done".
func (w *Worker) nextEligibleTask(stateOf func(string) (State, bool)) (Task, bool, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	remaining := false
	for _, task := range w.tasks {
		if w.done[task.ID] {
			continue
		}
		remaining = true
		deps := task.DependsOn
		if len(deps) == 0 {
			deps = make([]string, 0, len(w.dependencies))
			for d := range w.dependencies {
				deps = append(deps, d)
			}
		}
		if depsSatisfied(deps, stateOf) {
			return task, true, true
		}
	}
	return Task{}, false, remaining
}

func depsSatisfied(deps []string, stateOf func(string) (State, bool)) bool {
	for _, dep := range deps {
		state, ok := stateOf(dep)
		if !ok || state != StateCompleted {
			return false
		}
	}
	return true
}

// blockedOnFailedDependency returns the name of a dependency that has reached
// ERROR, making this worker's remaining tasks permanently ineligible.
func (w *Worker) blockedOnFailedDependency(stateOf func(string) (State, bool)) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, task := range w.tasks {
		if w.done[task.ID] {
			continue
		}
		deps := task.DependsOn
		if len(deps) == 0 {
			deps = make([]string, 0, len(w.dependencies))
			for d := range w.dependencies {
				deps = append(deps, d)
			}
		}
		for _, dep := range deps {
			if state, ok := stateOf(dep); ok && state == StateError {
				return dep, true
			}
		}
	}
	return "", false
}
