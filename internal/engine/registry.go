package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// run tracks one in-flight generation so it can be cancelled from outside.
type run struct {
	cancel context.CancelFunc
}

// Registry enforces at most one active generation per session within this
// process. The database job guards protect across processes; the registry is
// the cheap first line that also carries cancellation handles.
type Registry struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*run
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[uuid.UUID]*run)}
}

// acquire reserves the session for a new run. It reports false when a run is
// already active for the session.
func (r *Registry) acquire(sessionID uuid.UUID, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, active := r.runs[sessionID]; active {
		return false
	}
	r.runs[sessionID] = &run{cancel: cancel}
	return true
}

func (r *Registry) release(sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, sessionID)
}

// CancelRun cancels the active run for the session, if any.
func (r *Registry) CancelRun(sessionID uuid.UUID) bool {
	r.mu.Lock()
	active, ok := r.runs[sessionID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	active.cancel()
	return true
}

// ActiveCount reports the number of in-flight generations.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// IsActive reports whether the session has an in-flight generation.
func (r *Registry) IsActive(sessionID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[sessionID]
	return ok
}
