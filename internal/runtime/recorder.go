package runtime

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewRunID returns a fresh, sortable run identifier. Every execution gets
// its own — re-running a script never reuses or overwrites a prior run.
func NewRunID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}

type runEntry struct {
	mu      sync.Mutex
	rt      Runtime
	context *Context
}

// Recorder is the append-only per-run trace ledger plus live run snapshots.
type Recorder struct {
	mu   sync.RWMutex
	runs map[string]*runEntry
}

func NewRecorder() *Recorder {
	return &Recorder{runs: map[string]*runEntry{}}
}

// Begin registers a fresh run in the idle state.
func (r *Recorder) Begin(runID, flowID string, mode Mode, ctx *Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[runID] = &runEntry{
		rt: Runtime{
			FlowID:     flowID,
			RunID:      runID,
			Mode:       mode,
			Status:     RunIdle,
			Traces:     []Trace{},
			NodeStates: map[string]NodeState{},
			StartedAt:  time.Now().UTC(),
		},
		context: ctx,
	}
}

func (r *Recorder) entry(runID string) *runEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runs[runID]
}

// Append adds a trace in completion order. Traces are never mutated or
// removed afterward.
func (r *Recorder) Append(runID string, tr Trace) {
	e := r.entry(runID)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rt.Traces = append(e.rt.Traces, tr)
}

func (r *Recorder) SetStatus(runID string, status RunStatus) {
	e := r.entry(runID)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rt.Status = status
	if status == RunCompleted || status == RunFailed {
		now := time.Now().UTC()
		e.rt.FinishedAt = &now
		e.rt.CurrentStep = ""
	}
}

func (r *Recorder) SetCanceled(runID string, reason string) {
	e := r.entry(runID)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rt.Canceled = true
	e.rt.Error = reason
}

func (r *Recorder) SetError(runID string, reason string) {
	e := r.entry(runID)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rt.Error = reason
}

func (r *Recorder) SetCurrentStep(runID, nodeID string) {
	e := r.entry(runID)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rt.CurrentStep = nodeID
}

func (r *Recorder) SetNodeState(runID, nodeID string, state NodeState) {
	e := r.entry(runID)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rt.NodeStates[nodeID] = state
}

// Runtime returns a deep-copied snapshot of the run. Idempotent: calling it
// twice without further execution yields identical results, and callers can
// never mutate ledger state through the returned value.
func (r *Recorder) Runtime(runID string) (Runtime, bool) {
	e := r.entry(runID)
	if e == nil {
		return Runtime{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.rt
	out.Traces = append([]Trace{}, e.rt.Traces...)
	out.NodeStates = make(map[string]NodeState, len(e.rt.NodeStates))
	for k, v := range e.rt.NodeStates {
		out.NodeStates[k] = v
	}
	if e.context != nil {
		out.Context = e.context.Snapshot()
	} else {
		out.Context = map[string]any{}
	}
	return out, true
}

// RunIDs lists all recorded runs.
func (r *Recorder) RunIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	return ids
}
