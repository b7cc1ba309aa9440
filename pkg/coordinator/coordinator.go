package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/stackmesh/convoy/pkg/bus"
	"github.com/stackmesh/convoy/pkg/contextlog"
	apperrors "github.com/stackmesh/convoy/pkg/errors"
	"github.com/stackmesh/convoy/pkg/logging"
	"github.com/stackmesh/convoy/pkg/notify"
)

// Outcome classifies how a session ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomePartial   Outcome = "partial"
)

// Config tunes one coordination session.
type Config struct {
	SessionID string
	Goal      string

	// BackoffBase and BackoffMax bound the exponential wait between
	// dependency re-checks while a worker is WAITING.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// DependencyGrace is how long a worker may wait on an unmet dependency
	// before the block is escalated; at twice the grace the worker errors out.
	DependencyGrace time.Duration

	ResourceWaitTimeout time.Duration

	// PersistRetries and PersistBackoff govern store write retries. A write
	// that still fails marks the session degraded but does not stop it.
	PersistRetries int
	PersistBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.SessionID == "" {
		c.SessionID = ulid.Make().String()
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 50 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 2 * time.Second
	}
	if c.DependencyGrace <= 0 {
		c.DependencyGrace = 30 * time.Second
	}
	if c.ResourceWaitTimeout <= 0 {
		c.ResourceWaitTimeout = DefaultResourceWaitTimeout
	}
	if c.PersistRetries <= 0 {
		c.PersistRetries = 3
	}
	if c.PersistBackoff <= 0 {
		c.PersistBackoff = 100 * time.Millisecond
	}
}

// Coordinator drives one session of cooperating workers.
type Coordinator struct {
	cfg       Config
	ctxMgr    *contextlog.ContextManager
	transport bus.MessageBus
	resources *ResourceTable
	resolver  *Resolver

	store    SessionStore
	logger   *logging.Logger
	notifier notify.Notifier

	mu       sync.RWMutex
	workers  map[string]*Worker
	order    []string
	subs     []bus.Subscription
	degraded bool

	completionMu sync.Mutex
	completionCh chan struct{}
}

// New creates a coordinator for one session. The context manager receives
// every coordination event; the transport carries inter-worker messages.
func New(cfg Config, ctxMgr *contextlog.ContextManager, transport bus.MessageBus) *Coordinator {
	cfg.applyDefaults()

	c := &Coordinator{
		cfg:          cfg,
		ctxMgr:       ctxMgr,
		transport:    transport,
		resources:    NewResourceTable(cfg.ResourceWaitTimeout),
		workers:      make(map[string]*Worker),
		completionCh: make(chan struct{}),
	}
	c.resolver = NewResolver(c.roleOf)
	c.resolver.OnEscalate(c.escalateConflict)
	c.resources.OnConflict(c.recordResourceConflict)
	return c
}

// SetStore installs the persistence backend.
func (c *Coordinator) SetStore(s SessionStore) { c.store = s }

// SetLogger installs the structured logger.
func (c *Coordinator) SetLogger(l *logging.Logger) { c.logger = l }

// SetNotifier installs the operator notification sink.
func (c *Coordinator) SetNotifier(n notify.Notifier) { c.notifier = n }

// SetAuthorityPolicy installs the fallback decision arbiter.
func (c *Coordinator) SetAuthorityPolicy(p AuthorityPolicy) { c.resolver.SetPolicy(p) }

// Resolver exposes conflict arbitration, mainly for authority overrides.
func (c *Coordinator) Resolver() *Resolver { return c.resolver }

// Degraded reports whether a persistence write failed after retries.
func (c *Coordinator) Degraded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.degraded
}

// Session is a handle on a running coordination session.
type Session struct {
	ID      string
	c       *Coordinator
	group   *errgroup.Group
	cancel  context.CancelFunc
	started time.Time

	mu        sync.Mutex
	cancelled bool
}

// Cancel requests cooperative shutdown of all workers.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.cancel()
}

func (s *Session) wasCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// WorkerOutcome is the terminal report for one worker.
type WorkerOutcome struct {
	Name     string
	Role     string
	Optional bool
	State    State
	Reason   string
	Progress int
	Retries  int
}

// SessionReport summarizes a finished session.
type SessionReport struct {
	SessionID string
	Outcome   Outcome
	Degraded  bool
	Duration  time.Duration
	Workers   []WorkerOutcome
}

// Start validates the worker set and dependency graph, persists the session,
// and launches one work loop per worker. It returns immediately; the caller
// awaits the session through the returned handle. A graph cycle or invalid
// spec fails before any worker starts.
func (c *Coordinator) Start(ctx context.Context, specs []WorkerSpec) (*Session, error) {
	if len(specs) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "session requires at least one worker")
	}
	for _, spec := range specs {
		if err := spec.validate(); err != nil {
			return nil, err
		}
	}
	order, err := validateGraph(specs)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for _, spec := range specs {
		c.workers[spec.Name] = newWorker(spec)
	}
	c.order = order
	c.mu.Unlock()

	sessionsStarted.Inc()
	c.recordEvent("session_started", map[string]any{
		"session_id": c.cfg.SessionID,
		"goal":       c.cfg.Goal,
		"workers":    len(specs),
	}, 8)

	c.persistSession(ctx)

	if err := c.subscribeWorkers(ctx); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)

	session := &Session{
		ID:      c.cfg.SessionID,
		c:       c,
		group:   group,
		cancel:  cancel,
		started: time.Now(),
	}

	for _, name := range order {
		worker := c.workers[name]
		group.Go(func() error {
			return c.runWorker(groupCtx, worker)
		})
	}
	return session, nil
}

// Wait blocks until every worker terminates, then computes the session
// outcome: cancelled if shutdown was requested, failed if a required worker
// errored, partial if only optional workers errored, completed otherwise.
func (s *Session) Wait(ctx context.Context) *SessionReport {
	_ = s.group.Wait()
	s.cancel()

	c := s.c
	c.closeSubscriptions()

	report := &SessionReport{
		SessionID: s.ID,
		Degraded:  c.Degraded(),
		Duration:  time.Since(s.started),
	}

	cancelled := s.wasCancelled()
	requiredFailed := false
	optionalFailed := false

	c.mu.RLock()
	names := append([]string(nil), c.order...)
	c.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		w := c.worker(name)
		out := WorkerOutcome{
			Name:     w.Name(),
			Role:     w.Role(),
			Optional: w.Optional(),
			State:    w.State(),
			Reason:   w.StateReason(),
			Progress: w.Progress(),
			Retries:  w.Retries(),
		}
		report.Workers = append(report.Workers, out)
		if out.State == StateError {
			if out.Reason == "cancelled" {
				cancelled = true
			} else if w.Optional() {
				optionalFailed = true
			} else {
				requiredFailed = true
			}
		}
	}

	switch {
	case cancelled:
		report.Outcome = OutcomeCancelled
	case requiredFailed:
		report.Outcome = OutcomeFailed
	case optionalFailed:
		report.Outcome = OutcomePartial
	default:
		report.Outcome = OutcomeCompleted
	}

	sessionOutcomes.WithLabelValues(string(report.Outcome)).Inc()
	c.recordEvent("session_finished", map[string]any{
		"session_id": s.ID,
		"outcome":    string(report.Outcome),
		"degraded":   report.Degraded,
	}, 8)
	c.finishSession(ctx, report.Outcome)
	return report
}

func (c *Coordinator) worker(name string) *Worker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.workers[name]
}

func (c *Coordinator) stateOf(name string) (State, bool) {
	w := c.worker(name)
	if w == nil {
		return "", false
	}
	return w.State(), true
}

// WorkerStates returns a snapshot of every worker's state. This is the only
// sanctioned way to read another worker's state.
func (c *Coordinator) WorkerStates() map[string]State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]State, len(c.workers))
	for name, w := range c.workers {
		out[name] = w.State()
	}
	return out
}

func (c *Coordinator) roleOf(name string) string {
	w := c.worker(name)
	if w == nil {
		return ""
	}
	return w.Role()
}

// subscribeWorkers wires each worker inbox to its bus subject.
func (c *Coordinator) subscribeWorkers(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, w := range c.workers {
		worker := w
		sub, err := c.transport.Subscribe(ctx, bus.AgentSubject(name), func(msg *bus.Message) []byte {
			decoded, derr := DecodeMessage(msg.Data)
			if derr != nil {
				c.logError(logging.CategoryCoordinator, "decode_failed", derr, map[string]any{"subject": msg.Subject})
				return nil
			}
			if !worker.Inbox().Put(decoded) {
				c.logWarn(logging.CategoryCoordinator, "inbox_full", worker.Name(), map[string]any{"dropped_id": decoded.ID})
			}
			return nil
		})
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "subscribe worker inbox").
				WithContext("worker", name)
		}
		c.subs = append(c.subs, sub)
	}
	return nil
}

func (c *Coordinator) closeSubscriptions() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}

// Send routes one message to its recipient's inbox via the bus.
func (c *Coordinator) Send(ctx context.Context, msg Message) error {
	data, err := msg.Encode()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode message")
	}
	if err := c.transport.Publish(ctx, bus.AgentSubject(msg.To), data); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "publish message").
			WithContext("to", msg.To).
			WithContext("type", string(msg.Type))
	}
	messagesRouted.WithLabelValues(string(msg.Type)).Inc()
	c.recordEvent("message_routed", map[string]any{
		"id":   msg.ID,
		"from": msg.From,
		"to":   msg.To,
		"type": string(msg.Type),
	}, 3)
	return nil
}

// Broadcast fans the same message out to several recipients. Delivery to
// each inbox remains at-most-once.
func (c *Coordinator) Broadcast(ctx context.Context, from string, msgType MessageType, payload map[string]any, recipients []string) error {
	base, err := NewMessage(from, "*", msgType, payload)
	if err != nil {
		return err
	}
	var firstErr error
	for _, to := range recipients {
		if to == from {
			continue
		}
		msg := base
		msg.To = to
		if err := c.Send(ctx, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AcquireResource claims exclusive ownership of a resource for a worker,
// queueing FIFO behind the holder when contended.
func (c *Coordinator) AcquireResource(ctx context.Context, workerName, resource string) error {
	w := c.worker(workerName)
	if w == nil {
		return apperrors.Newf(apperrors.ErrCodeValidation, "unknown worker %q", workerName)
	}
	if err := c.resources.Acquire(ctx, workerName, resource); err != nil {
		c.recordEvent("resource_denied", map[string]any{
			"worker":   workerName,
			"resource": resource,
		}, 6)
		return err
	}
	w.holdResource(resource)
	c.recordEvent("resource_granted", map[string]any{
		"worker":   workerName,
		"resource": resource,
	}, 4)
	return nil
}

// ReleaseResource returns a resource, handing it to the longest waiter.
func (c *Coordinator) ReleaseResource(workerName, resource string) error {
	w := c.worker(workerName)
	if w == nil {
		return apperrors.Newf(apperrors.ErrCodeValidation, "unknown worker %q", workerName)
	}
	if err := c.resources.Release(workerName, resource); err != nil {
		return err
	}
	w.dropResource(resource)
	if next := c.resources.CurrentOwner(resource); next != "" {
		if nw := c.worker(next); nw != nil {
			nw.holdResource(resource)
		}
	}
	c.recordEvent("resource_released", map[string]any{
		"worker":   workerName,
		"resource": resource,
	}, 3)
	return nil
}

// completionSignal returns a channel closed the next time any worker reaches
// COMPLETED, letting waiters re-check dependencies without spinning.
func (c *Coordinator) completionSignal() <-chan struct{} {
	c.completionMu.Lock()
	defer c.completionMu.Unlock()
	return c.completionCh
}

func (c *Coordinator) announceCompletion() {
	c.completionMu.Lock()
	close(c.completionCh)
	c.completionCh = make(chan struct{})
	c.completionMu.Unlock()
}

// transition applies a state change and records it everywhere it must be
// visible: context log, structured log, and the store.
func (c *Coordinator) transition(ctx context.Context, w *Worker, to State, reason string) error {
	from := w.State()
	if err := w.transition(to, reason); err != nil {
		return err
	}
	c.recordEvent("state_change", map[string]any{
		"worker": w.Name(),
		"from":   string(from),
		"to":     string(to),
		"reason": reason,
	}, stateImportance(to))
	if c.logger != nil {
		_ = c.logger.Info(logging.CategoryWorker, "state_change",
			fmt.Sprintf("%s: %s -> %s", w.Name(), from, to), map[string]any{
				"worker": w.Name(),
				"reason": reason,
			})
	}
	patch := AgentPatch{State: strPtr(string(to)), Progress: intPtr(w.Progress())}
	if to == StateError {
		patch.Error = strPtr(reason)
	}
	c.persistAgentPatch(ctx, w.Name(), patch)

	if to == StateError {
		workerErrors.Inc()
		c.notifyOperator(ctx, notify.LevelCritical, "worker failed",
			fmt.Sprintf("worker %s entered ERROR: %s", w.Name(), reason), nil)
	}
	if to == StateCompleted {
		c.announceCompletion()
	}
	return nil
}

func stateImportance(s State) int {
	switch s {
	case StateCompleted, StateError:
		return 8
	case StateBlocked:
		return 7
	default:
		return 5
	}
}

// runWorker is the work loop: drain the inbox, pick an eligible task, execute
// with retries, and wait with capped exponential backoff when dependencies
// are unmet. Termination is always through COMPLETED or ERROR.
func (c *Coordinator) runWorker(ctx context.Context, w *Worker) error {
	if err := c.transition(ctx, w, StateInitializing, "starting"); err != nil {
		return err
	}

	backoff := c.cfg.BackoffBase
	var waitingSince time.Time
	graceEscalated := false

	defer func() {
		for _, resource := range c.resources.ReleaseAll(w.Name()) {
			w.dropResource(resource)
			c.recordEvent("resource_released", map[string]any{
				"worker":   w.Name(),
				"resource": resource,
				"reason":   "worker terminated",
			}, 4)
		}
	}()

	for {
		if ctx.Err() != nil {
			_ = c.transition(ctx, w, StateError, "cancelled")
			return nil
		}

		for _, msg := range w.Inbox().Drain() {
			c.handleMessage(ctx, w, msg)
		}
		if w.State().Terminal() {
			return nil
		}

		task, eligible, remaining := w.nextEligibleTask(c.stateOf)
		if !remaining {
			_ = c.transition(ctx, w, StateCompleted, "all tasks done")
			return nil
		}
		if !eligible {
			if dep, failed := w.blockedOnFailedDependency(c.stateOf); failed {
				derr := apperrors.Newf(apperrors.ErrCodeDependencyBlocked,
					"dependency %s failed", dep).WithContext("worker", w.Name())
				_ = c.transition(ctx, w, StateError, derr.Error())
				return nil
			}
			if w.State() != StateWaiting {
				_ = c.transition(ctx, w, StateWaiting, "waiting on dependencies")
				waitingSince = time.Now()
				graceEscalated = false
				backoff = c.cfg.BackoffBase
			}
			if elapsed := time.Since(waitingSince); elapsed >= 2*c.cfg.DependencyGrace {
				derr := apperrors.New(apperrors.ErrCodeDependencyBlocked,
					"dependency wait exceeded grace period").WithContext("worker", w.Name())
				_ = c.transition(ctx, w, StateError, derr.Error())
				return nil
			} else if elapsed >= c.cfg.DependencyGrace && !graceEscalated {
				graceEscalated = true
				c.escalateConflict(Conflict{
					Kind:      ConflictDependency,
					Requester: w.Name(),
					Detail:    "dependency wait exceeded grace",
					Escalated: true,
					Timestamp: time.Now().UTC(),
				})
			}

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
				backoff *= 2
				if backoff > c.cfg.BackoffMax {
					backoff = c.cfg.BackoffMax
				}
			case <-c.completionSignal():
				timer.Stop()
				backoff = c.cfg.BackoffBase
			}
			continue
		}

		backoff = c.cfg.BackoffBase
		if err := c.transition(ctx, w, StateWorking, "executing "+task.Label); err != nil {
			_ = c.transition(ctx, w, StateError, err.Error())
			return nil
		}
		w.setCurrentTask(task.Label)
		c.persistAgentPatch(ctx, w.Name(), AgentPatch{CurrentTask: strPtr(task.Label)})

		if err := c.executeTask(ctx, w, task); err != nil {
			if ctx.Err() != nil {
				_ = c.transition(ctx, w, StateError, "cancelled")
				return nil
			}
			_ = c.transition(ctx, w, StateError, err.Error())
			return nil
		}
		w.markDone(task.ID)
		w.resetRetries()
		c.recordEvent("task_completed", map[string]any{
			"worker":   w.Name(),
			"task":     task.Label,
			"progress": w.Progress(),
		}, 6)
		c.persistAgentPatch(ctx, w.Name(), AgentPatch{Progress: intPtr(w.Progress())})
	}
}

// executeTask runs one task with the worker's retry budget, acquiring any
// declared resources first and releasing them after.
func (c *Coordinator) executeTask(ctx context.Context, w *Worker, task Task) error {
	for _, resource := range task.Resources {
		if owner := c.resources.CurrentOwner(resource); owner != "" && owner != w.Name() {
			_ = c.transition(ctx, w, StateBlocked, "waiting for resource "+resource)
		}
		if err := c.AcquireResource(ctx, w.Name(), resource); err != nil {
			return err
		}
		if w.State() == StateBlocked {
			_ = c.transition(ctx, w, StateWorking, "resource acquired")
		}
	}
	defer func() {
		for _, resource := range task.Resources {
			if c.resources.CurrentOwner(resource) == w.Name() {
				_ = c.ReleaseResource(w.Name(), resource)
			}
		}
	}()

	var lastErr error
	for {
		_, err := w.runner.Execute(ctx, task)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return err
		}
		attempt := w.bumpRetries()
		if attempt > w.maxRetries {
			break
		}
		c.logWarn(logging.CategoryWorker, "task_retry", w.Name(), map[string]any{
			"task":    task.Label,
			"attempt": attempt,
			"error":   err.Error(),
		})
		delay := c.cfg.BackoffBase << uint(attempt-1)
		if delay > c.cfg.BackoffMax {
			delay = c.cfg.BackoffMax
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return apperrors.Wrap(lastErr, apperrors.ErrCodeWorkerFailed, "task failed after retries").
		WithContext("worker", w.Name()).
		WithContext("task", task.Label)
}

// handleMessage applies one inbox message. Coordination messages move the
// worker through COORDINATING so the interaction is visible in its state.
func (c *Coordinator) handleMessage(ctx context.Context, w *Worker, msg Message) {
	c.recordEvent("message_received", map[string]any{
		"worker": w.Name(),
		"from":   msg.From,
		"type":   string(msg.Type),
	}, 3)

	switch msg.Type {
	case MsgRequestHelp:
		// Only idle workers or working ones with spare capacity answer.
		state := w.State()
		if state == StateIdle || (state == StateWorking && w.Progress() < 80) {
			reply, err := NewMessage(w.Name(), msg.From, MsgOfferHelp, map[string]any{
				"request_id": msg.ID,
				"knowledge":  w.Knowledge(),
			})
			if err == nil {
				_ = c.Send(ctx, reply)
			}
		}

	case MsgOfferHelp, MsgShareInsight:
		w.absorbInsight(msg.From, msg.Payload)

	case MsgReportProgress:
		// Already appended to the context log above.

	case MsgRequestResource:
		resource, _ := msg.Payload["resource"].(string)
		if resource == "" {
			return
		}
		// Acquire on behalf of the sender: the requester is the one queued
		// and granted, never the worker that happens to drain the message.
		go func() {
			err := c.AcquireResource(ctx, msg.From, resource)
			payload := map[string]any{"resource": resource, "granted": err == nil}
			if err != nil {
				payload["error"] = err.Error()
			}
			if reply, rerr := NewMessage(w.Name(), msg.From, MsgCoordinateTask, payload); rerr == nil {
				_ = c.Send(ctx, reply)
			}
		}()

	case MsgReleaseResource:
		resource, _ := msg.Payload["resource"].(string)
		if resource != "" {
			_ = c.ReleaseResource(w.Name(), resource)
		}

	case MsgCoordinateTask:
		prev := w.State()
		if err := c.transition(ctx, w, StateCoordinating, "coordinating with "+msg.From); err == nil {
			if prev == StateIdle || prev.Terminal() {
				prev = StateWaiting
			}
			_ = c.transition(ctx, w, prev, "coordination done")
		}

	case MsgResolveConflict:
		domain, _ := msg.Payload["domain"].(string)
		res := c.resolver.Resolve(Conflict{
			Kind:      ConflictDecision,
			Domain:    domain,
			Holder:    w.Name(),
			Requester: msg.From,
			Timestamp: time.Now().UTC(),
		})
		c.recordEvent("conflict_resolved", map[string]any{
			"domain":    domain,
			"winner":    res.Winner,
			"escalated": res.Escalated,
			"rationale": res.Rationale,
		}, 7)
	}
}

// recordResourceConflict feeds table contention into the context log,
// metrics, and the conflict log stream.
func (c *Coordinator) recordResourceConflict(conflict Conflict) {
	conflictsObserved.WithLabelValues(string(conflict.Kind)).Inc()
	payload := map[string]any{
		"kind":      string(conflict.Kind),
		"resource":  conflict.Resource,
		"holder":    conflict.Holder,
		"requester": conflict.Requester,
		"escalated": conflict.Escalated,
	}
	importance := 6
	if conflict.Escalated {
		importance = 8
	}
	c.recordEvent("resource_conflict", payload, importance)
	if c.logger != nil {
		_ = c.logger.Warn(logging.CategoryConflict, "resource_conflict",
			fmt.Sprintf("%s contends with %s for %s", conflict.Requester, conflict.Holder, conflict.Resource), payload)
	}
	if conflict.Escalated {
		conflictsEscalated.Inc()
		c.notifyOperator(context.Background(), notify.LevelWarning, "resource conflict escalated",
			fmt.Sprintf("worker %s timed out waiting for %s held by %s",
				conflict.Requester, conflict.Resource, conflict.Holder), payload)
	}
}

// escalateConflict notifies the operator about conflicts no rule resolved.
func (c *Coordinator) escalateConflict(conflict Conflict) {
	conflictsObserved.WithLabelValues(string(conflict.Kind)).Inc()
	conflictsEscalated.Inc()
	payload := map[string]any{
		"kind":      string(conflict.Kind),
		"domain":    conflict.Domain,
		"holder":    conflict.Holder,
		"requester": conflict.Requester,
		"detail":    conflict.Detail,
	}
	c.recordEvent("conflict_escalated", payload, 8)
	if c.logger != nil {
		_ = c.logger.Warn(logging.CategoryConflict, "conflict_escalated", conflict.Detail, payload)
	}
	c.notifyOperator(context.Background(), notify.LevelWarning, "conflict escalated", conflict.Detail, payload)
}

func (c *Coordinator) notifyOperator(ctx context.Context, level notify.Level, title, body string, details map[string]any) {
	if c.notifier == nil {
		return
	}
	// Fire and forget. Notification failure never affects the session.
	ev := notify.Event{
		Title:     title,
		Body:      body,
		Level:     level,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
	go func() {
		if err := c.notifier.Notify(ctx, ev); err != nil {
			c.logError(logging.CategoryNotify, "notify_failed", err, map[string]any{"title": title})
		}
	}()
}

// recordEvent appends to the session context log, tolerating failures.
func (c *Coordinator) recordEvent(eventType string, payload map[string]any, importance int) {
	if c.ctxMgr == nil {
		return
	}
	if _, err := c.ctxMgr.AddEventImportance(eventType, payload, importance); err != nil {
		c.logError(logging.CategoryContext, "append_failed", err, map[string]any{"event_type": eventType})
	}
}

func (c *Coordinator) logWarn(category logging.Category, eventType, worker string, details map[string]any) {
	if c.logger == nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	details["worker"] = worker
	_ = c.logger.Warn(category, eventType, "worker "+worker, details)
}

func (c *Coordinator) logError(category logging.Category, eventType string, err error, details map[string]any) {
	if c.logger == nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	details["error"] = err.Error()
	_ = c.logger.Error(category, eventType, err.Error(), details)
}

// persistSession writes the session row and one agent row per worker.
func (c *Coordinator) persistSession(ctx context.Context) {
	if c.store == nil {
		return
	}
	c.persist(ctx, "create_session", func(ctx context.Context) error {
		return c.store.CreateSession(ctx, c.cfg.SessionID, c.cfg.Goal, map[string]any{
			"workers": len(c.workers),
		})
	})
	c.mu.RLock()
	names := append([]string(nil), c.order...)
	c.mu.RUnlock()
	for _, name := range names {
		w := c.workers[name]
		c.persist(ctx, "create_agent", func(ctx context.Context) error {
			return c.store.CreateAgent(ctx, agentID(c.cfg.SessionID, w.Name()), c.cfg.SessionID, w.Name(), map[string]any{
				"role":     w.Role(),
				"optional": w.Optional(),
			})
		})
	}
}

func (c *Coordinator) persistAgentPatch(ctx context.Context, worker string, patch AgentPatch) {
	if c.store == nil {
		return
	}
	c.persist(ctx, "update_agent", func(ctx context.Context) error {
		return c.store.UpdateAgent(ctx, agentID(c.cfg.SessionID, worker), patch)
	})
}

func (c *Coordinator) finishSession(ctx context.Context, outcome Outcome) {
	if c.store == nil {
		return
	}
	c.persist(ctx, "finish_session", func(ctx context.Context) error {
		return c.store.FinishSession(ctx, c.cfg.SessionID, string(outcome))
	})
}

// persist runs one store write with bounded exponential backoff. Exhausted
// retries mark the session degraded instead of failing it.
func (c *Coordinator) persist(ctx context.Context, op string, fn func(context.Context) error) {
	var err error
	for attempt := 0; attempt <= c.cfg.PersistRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.PersistBackoff << uint(attempt-1)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		if err = fn(ctx); err == nil {
			return
		}
	}
	persistenceFailures.Inc()
	c.mu.Lock()
	c.degraded = true
	c.mu.Unlock()
	perr := apperrors.Wrap(err, apperrors.ErrCodePersistence, "store write failed after retries").
		WithContext("op", op).
		WithRetryable(true)
	c.logError(logging.CategoryStorage, "persist_failed", perr, nil)
}

func agentID(sessionID, worker string) string {
	return sessionID + ":" + worker
}
