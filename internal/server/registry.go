package server

import (
	"context"
	"sync"
)

// runRegistry tracks in-flight runs so the cancel endpoint can reach them.
// Entries are removed when the run's goroutine exits; canceling a finished
// run is a no-op.
type runRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
}

func newRunRegistry() *runRegistry {
	return &runRegistry{cancels: map[string]context.CancelCauseFunc{}}
}

func (r *runRegistry) add(runID string, cancel context.CancelCauseFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[runID] = cancel
}

func (r *runRegistry) remove(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, runID)
}

// cancel requests cancellation; reports whether the run was still active.
func (r *runRegistry) cancel(runID string, cause error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn, ok := r.cancels[runID]
	if !ok {
		return false
	}
	fn(cause)
	delete(r.cancels, runID)
	return true
}
