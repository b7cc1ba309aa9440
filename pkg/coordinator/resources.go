package coordinator

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/stackmesh/convoy/pkg/errors"
)

// DefaultResourceWaitTimeout bounds how long a worker waits for a held
// resource before the block is escalated as a conflict.
const DefaultResourceWaitTimeout = 30 * time.Second

// resourceWaiter is one queued acquisition request. The channel is closed by
// Release when ownership is handed over.
type resourceWaiter struct {
	worker   string
	granted  chan struct{}
	enqueued time.Time
}

// ResourceTable is the central registry of exclusive resource ownership.
// The first requester wins; later requesters queue FIFO and receive the
// resource by direct handoff when the owner releases it.
type ResourceTable struct {
	mu      sync.Mutex
	owners  map[string]string
	waiters map[string][]*resourceWaiter

	waitTimeout time.Duration
	onConflict  func(Conflict)
}

// NewResourceTable creates a table with the given wait timeout (default when
// non-positive).
func NewResourceTable(waitTimeout time.Duration) *ResourceTable {
	if waitTimeout <= 0 {
		waitTimeout = DefaultResourceWaitTimeout
	}
	return &ResourceTable{
		owners:      make(map[string]string),
		waiters:     make(map[string][]*resourceWaiter),
		waitTimeout: waitTimeout,
	}
}

// OnConflict registers a callback fired when an acquisition contends with an
// existing owner and again when a wait times out. The callback must not call
// back into the table.
func (t *ResourceTable) OnConflict(fn func(Conflict)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConflict = fn
}

// Acquire grants the resource to worker, waiting FIFO behind the current
// owner if necessary. Re-acquiring an owned resource is a no-op. A wait
// exceeding the table's timeout is escalated and returns a retryable
// RESOURCE_CONFLICT error.
func (t *ResourceTable) Acquire(ctx context.Context, worker, resource string) error {
	t.mu.Lock()
	owner, held := t.owners[resource]
	if !held {
		t.owners[resource] = worker
		t.mu.Unlock()
		return nil
	}
	if owner == worker {
		t.mu.Unlock()
		return nil
	}

	w := &resourceWaiter{
		worker:   worker,
		granted:  make(chan struct{}),
		enqueued: time.Now(),
	}
	t.waiters[resource] = append(t.waiters[resource], w)
	notify := t.onConflict
	t.mu.Unlock()

	if notify != nil {
		notify(Conflict{
			Kind:      ConflictResource,
			Resource:  resource,
			Holder:    owner,
			Requester: worker,
			Timestamp: time.Now().UTC(),
		})
	}

	timer := time.NewTimer(t.waitTimeout)
	defer timer.Stop()

	select {
	case <-w.granted:
		return nil
	case <-timer.C:
		t.abandonWait(resource, w)
		if notify != nil {
			notify(Conflict{
				Kind:      ConflictResource,
				Resource:  resource,
				Holder:    t.CurrentOwner(resource),
				Requester: worker,
				Escalated: true,
				Detail:    "wait timeout",
				Timestamp: time.Now().UTC(),
			})
		}
		return apperrors.Newf(apperrors.ErrCodeResourceConflict,
			"worker %s timed out waiting for resource %s", worker, resource).
			WithContext("resource", resource).
			WithContext("holder", owner).
			WithRetryable(true)
	case <-ctx.Done():
		t.abandonWait(resource, w)
		return apperrors.Wrap(ctx.Err(), apperrors.ErrCodeResourceConflict,
			"acquisition cancelled").WithContext("resource", resource)
	}
}

// abandonWait removes a waiter from the queue. If the handoff raced the
// timeout and already granted ownership, the grant is passed on.
func (t *ResourceTable) abandonWait(resource string, w *resourceWaiter) {
	t.mu.Lock()
	defer t.mu.Unlock()

	queue := t.waiters[resource]
	for i, entry := range queue {
		if entry == w {
			t.waiters[resource] = append(queue[:i], queue[i+1:]...)
			return
		}
	}
	// Not queued anymore: ownership was handed to us concurrently.
	if t.owners[resource] == w.worker {
		t.handoffLocked(resource)
	}
}

// Release returns the resource. Ownership moves immediately to the longest
// waiting worker, preserving request order.
func (t *ResourceTable) Release(worker, resource string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	owner, held := t.owners[resource]
	if !held {
		return apperrors.Newf(apperrors.ErrCodeValidation,
			"resource %s is not held", resource)
	}
	if owner != worker {
		return apperrors.Newf(apperrors.ErrCodeResourceConflict,
			"worker %s cannot release resource %s held by %s", worker, resource, owner).
			WithContext("resource", resource).
			WithContext("holder", owner)
	}

	t.handoffLocked(resource)
	return nil
}

func (t *ResourceTable) handoffLocked(resource string) {
	queue := t.waiters[resource]
	if len(queue) == 0 {
		delete(t.owners, resource)
		return
	}
	next := queue[0]
	t.waiters[resource] = queue[1:]
	t.owners[resource] = next.worker
	close(next.granted)
}

// ReleaseAll releases every resource owned by worker, returning how many were
// released. Called when a worker terminates so holdings never leak.
func (t *ResourceTable) ReleaseAll(worker string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var released []string
	for resource, owner := range t.owners {
		if owner == worker {
			released = append(released, resource)
		}
	}
	for _, resource := range released {
		t.handoffLocked(resource)
	}
	return released
}

// CurrentOwner returns the worker holding the resource, or empty when free.
func (t *ResourceTable) CurrentOwner(resource string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.owners[resource]
}

// QueueDepth returns how many workers are waiting on the resource.
func (t *ResourceTable) QueueDepth(resource string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters[resource])
}
