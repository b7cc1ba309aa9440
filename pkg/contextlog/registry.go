package contextlog

import (
	"sort"
	"sync"

	apperrors "github.com/stackmesh/convoy/pkg/errors"
)

// Registry owns the live context managers for a process. It replaces the
// process-wide map the original design used: the application constructs one
// registry and passes it where lookups are needed, which keeps multi-session
// tests isolated.
type Registry struct {
	mu       sync.RWMutex
	contexts map[string]*ContextManager
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{contexts: make(map[string]*ContextManager)}
}

// Create registers a new context manager. Duplicate ids are rejected.
func (r *Registry) Create(contextID string, scope ScopeConfig, tracker *BudgetTracker) (*ContextManager, error) {
	if contextID == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "context id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.contexts[contextID]; exists {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "context already registered").
			WithContext("context_id", contextID)
	}

	manager := NewContextManager(contextID, scope, tracker)
	r.contexts[contextID] = manager
	return manager, nil
}

// Get returns the manager for a context id.
func (r *Registry) Get(contextID string) (*ContextManager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.contexts[contextID]
	return m, ok
}

// Lookup returns the manager for a context id, or a CONTEXT_NOT_FOUND error
// when no such context is registered.
func (r *Registry) Lookup(contextID string) (*ContextManager, error) {
	m, ok := r.Get(contextID)
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeContextNotFound, "no such context").
			WithContext("context_id", contextID)
	}
	return m, nil
}

// Remove drops a context from the registry. Removing an unknown id is a
// no-op.
func (r *Registry) Remove(contextID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.contexts, contextID)
}

// List returns the registered context ids in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.contexts))
	for id := range r.contexts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of live contexts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contexts)
}
