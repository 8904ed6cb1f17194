package engine

import (
	"context"
	"fmt"

	"github.com/taskloom/flowscript/internal/flow"
	"github.com/taskloom/flowscript/internal/runtime"
)

// ExecuteStep runs a single node in isolation with a freshly seeded context
// bag. The step still produces a real ledger entry under its own run id, so
// stepping through a script leaves the same kind of audit trail as running
// it.
func (e *Engine) ExecuteStep(ctx context.Context, s *flow.Script, stepID string, mode runtime.Mode, seed map[string]any) (runtime.Trace, error) {
	n := s.Node(stepID)
	if n == nil {
		return runtime.Trace{}, fmt.Errorf("unknown step %q in flow %q", stepID, s.ID)
	}
	runID, err := runtime.NewRunID()
	if err != nil {
		return runtime.Trace{}, err
	}
	bag := runtime.NewContext()
	if len(seed) > 0 {
		bag.Seed(seed)
	}
	e.recorder.Begin(runID, s.ID, mode, bag)
	e.recorder.SetNodeState(runID, n.ID, runtime.NodePending)
	e.recorder.SetStatus(runID, runtime.RunRunning)

	state := e.runNode(ctx, runID, s, mode, n, bag)

	status := runtime.RunCompleted
	if state == runtime.NodeError {
		status = runtime.RunFailed
	}
	e.recorder.SetStatus(runID, status)

	rt, _ := e.recorder.Runtime(runID)
	if len(rt.Traces) == 0 {
		// Skipped step: no dispatch happened, synthesize a non-success trace.
		return runtime.Trace{RunID: runID, StepID: stepID, Success: false, Error: "step skipped by precondition"}, nil
	}
	return rt.Traces[len(rt.Traces)-1], nil
}
