// Package engine interprets FlowScript graphs. One code path serves both
// execution modes; only the dispatcher behind it changes, which is what
// keeps simulate and live runs structurally identical.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskloom/flowscript/internal/audit"
	"github.com/taskloom/flowscript/internal/cond"
	"github.com/taskloom/flowscript/internal/dispatch"
	"github.com/taskloom/flowscript/internal/flow"
	"github.com/taskloom/flowscript/internal/runtime"
	"github.com/taskloom/flowscript/internal/validate"
)

// Event is pushed to the progress sink as execution advances. The server
// relays these over SSE.
type Event struct {
	Type    string         `json:"type"`
	RunID   string         `json:"run_id"`
	FlowID  string         `json:"flow_id,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type ProgressFunc func(Event)

type Config struct {
	Live     *dispatch.Dispatcher
	Simulate *dispatch.Dispatcher
	Recorder *runtime.Recorder
	Audit    audit.Logger
	Progress ProgressFunc
	// DefaultTimeout bounds each tool dispatch unless the node sets
	// timeout_ms. Zero means 30s.
	DefaultTimeout time.Duration
}

type Engine struct {
	live           *dispatch.Dispatcher
	simulate       *dispatch.Dispatcher
	recorder       *runtime.Recorder
	audit          audit.Logger
	progress       ProgressFunc
	defaultTimeout time.Duration
}

func New(cfg Config) *Engine {
	e := &Engine{
		live:           cfg.Live,
		simulate:       cfg.Simulate,
		recorder:       cfg.Recorder,
		audit:          cfg.Audit,
		progress:       cfg.Progress,
		defaultTimeout: cfg.DefaultTimeout,
	}
	if e.live == nil {
		e.live = dispatch.NewLive(dispatch.Config{})
	}
	if e.simulate == nil {
		e.simulate = dispatch.NewSimulate(dispatch.Config{})
	}
	if e.recorder == nil {
		e.recorder = runtime.NewRecorder()
	}
	if e.audit == nil {
		e.audit = audit.Nop{}
	}
	if e.progress == nil {
		e.progress = func(Event) {}
	}
	if e.defaultTimeout <= 0 {
		e.defaultTimeout = 30 * time.Second
	}
	return e
}

// Recorder exposes the ledger for runtime queries.
func (e *Engine) Recorder() *runtime.Recorder { return e.recorder }

func (e *Engine) dispatcher(mode runtime.Mode) *dispatch.Dispatcher {
	if mode == runtime.ModeLive {
		return e.live
	}
	return e.simulate
}

// Options tunes a single execution.
type Options struct {
	// Seed pre-populates the context bag, e.g. from a test case's given block.
	Seed map[string]any
	// RunID overrides the generated id. Used by the server so it can expose
	// the id before the run finishes.
	RunID string
}

// nodeDecision is the scheduler's view of a finished node.
type nodeDecision struct {
	state runtime.NodeState
}

// Execute runs the whole script and returns the final run snapshot. The
// returned runtime is a deep copy; querying the recorder again without
// further execution yields the identical result.
func (e *Engine) Execute(ctx context.Context, s *flow.Script, mode runtime.Mode, opts Options) (runtime.Runtime, error) {
	if err := validate.ValidateOrError(s); err != nil {
		return runtime.Runtime{}, err
	}
	order, err := validate.TopologicalOrder(s)
	if err != nil {
		return runtime.Runtime{}, err
	}

	runID := opts.RunID
	if runID == "" {
		runID, err = runtime.NewRunID()
		if err != nil {
			return runtime.Runtime{}, err
		}
	}
	bag := runtime.NewContext()
	if len(opts.Seed) > 0 {
		bag.Seed(opts.Seed)
	}
	e.recorder.Begin(runID, s.ID, mode, bag)
	for _, n := range s.Nodes {
		e.recorder.SetNodeState(runID, n.ID, runtime.NodePending)
	}
	e.recorder.SetStatus(runID, runtime.RunRunning)
	e.audit.RunTransition(runID, s.ID, mode, runtime.RunRunning)
	e.progress(Event{Type: "run_started", RunID: runID, FlowID: s.ID})

	decided := map[string]nodeDecision{}
	bg := &backgroundJoin{states: map[string]runtime.NodeState{}}

	canceled := false
	for len(decided) < len(order) {
		if ctx.Err() != nil {
			canceled = true
			break
		}
		wave := e.nextWave(s, order, decided, bag)
		if len(wave) == 0 {
			// No node is both ready and eligible. Nodes whose sources have all
			// decided without firing an edge sit on dead branches: skip just
			// those and loop again, so a join past a dead branch can still
			// fire on its remaining edges.
			progressed := false
			for _, id := range order {
				if _, done := decided[id]; done {
					continue
				}
				if !e.sourcesDecided(s, id, decided) {
					continue
				}
				decided[id] = nodeDecision{state: runtime.NodeSkipped}
				e.markSkipped(runID, id, "no incoming edge fired")
				progressed = true
			}
			if progressed {
				continue
			}
			// Whatever remains waits on a source that can never decide.
			for _, id := range order {
				if _, done := decided[id]; !done {
					decided[id] = nodeDecision{state: runtime.NodeSkipped}
					e.markSkipped(runID, id, "unreachable: no incoming edge fired")
				}
			}
			break
		}
		e.runWave(ctx, runID, s, mode, wave, decided, bag, bg)
	}

	bg.wg.Wait()
	// Background nodes are decided as completed up front so successors never
	// wait on them; the run verdict still reflects how they actually finished.
	for id, st := range bg.states {
		decided[id] = nodeDecision{state: st}
	}

	if canceled {
		reason := "canceled"
		if cause := context.Cause(ctx); cause != nil {
			reason = cause.Error()
		}
		for _, id := range order {
			if _, done := decided[id]; !done {
				decided[id] = nodeDecision{state: runtime.NodeSkipped}
				e.markSkipped(runID, id, reason)
			}
		}
		e.recorder.SetCanceled(runID, reason)
		e.recorder.SetStatus(runID, runtime.RunFailed)
		e.audit.RunTransition(runID, s.ID, mode, runtime.RunFailed)
		e.progress(Event{Type: "run_finished", RunID: runID, FlowID: s.ID,
			Payload: map[string]any{"status": runtime.RunFailed, "canceled": true}})
		rt, _ := e.recorder.Runtime(runID)
		return rt, nil
	}

	// A run completed when at least one terminal node finished successfully.
	status := runtime.RunFailed
	for _, id := range s.Terminals() {
		if decided[id].state == runtime.NodeCompleted {
			status = runtime.RunCompleted
			break
		}
	}
	if status == runtime.RunFailed {
		e.recorder.SetError(runID, "no terminal node completed")
	}
	e.recorder.SetStatus(runID, status)
	e.audit.RunTransition(runID, s.ID, mode, status)
	e.progress(Event{Type: "run_finished", RunID: runID, FlowID: s.ID,
		Payload: map[string]any{"status": status}})

	rt, _ := e.recorder.Runtime(runID)
	return rt, nil
}

// nextWave collects undecided nodes whose every incoming edge has a decided
// source, keeping topological order. A node is eligible when it has no
// incoming edges or at least one incoming edge fired. Ineligible nodes stay
// undecided until the scheduler skips them as dead branches. Edges leaving
// errored or skipped nodes never fire.
func (e *Engine) nextWave(s *flow.Script, order []string, decided map[string]nodeDecision, bag *runtime.Context) []*flow.Node {
	var wave []*flow.Node
	for _, id := range order {
		if _, done := decided[id]; done {
			continue
		}
		if !e.sourcesDecided(s, id, decided) {
			continue
		}
		incoming := s.Incoming(id)
		if len(incoming) == 0 || e.anyEdgeFired(incoming, decided, bag, s) {
			wave = append(wave, s.Node(id))
		}
	}
	return wave
}

// sourcesDecided reports whether every incoming edge source of id is decided.
// Background sources never gate successors.
func (e *Engine) sourcesDecided(s *flow.Script, id string, decided map[string]nodeDecision) bool {
	for _, edge := range s.Incoming(id) {
		if _, done := decided[edge.From]; !done {
			if src := s.Node(edge.From); src != nil && src.Type == flow.TypeBackground {
				continue
			}
			return false
		}
	}
	return true
}

func (e *Engine) anyEdgeFired(incoming []*flow.Edge, decided map[string]nodeDecision, bag *runtime.Context, s *flow.Script) bool {
	for _, edge := range incoming {
		src, done := decided[edge.From]
		fromBackground := s.Node(edge.From) != nil && s.Node(edge.From).Type == flow.TypeBackground
		if done && src.state != runtime.NodeCompleted {
			continue
		}
		if !done && !fromBackground {
			continue
		}
		if edge.When == "" {
			return true
		}
		ok, err := cond.Evaluate(edge.When, bag.Lookup)
		if err == nil && ok {
			return true
		}
	}
	return false
}

// backgroundJoin tracks in-flight background nodes and the real state each
// one finished in.
type backgroundJoin struct {
	wg     sync.WaitGroup
	mu     sync.Mutex
	states map[string]runtime.NodeState
}

func (b *backgroundJoin) record(id string, st runtime.NodeState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[id] = st
}

// runWave executes one wave. Single-node waves run inline; wider waves fan
// out with goroutines. The context bag and recorder are safe for this since
// the validator rejects concurrent same-variable writers.
func (e *Engine) runWave(ctx context.Context, runID string, s *flow.Script, mode runtime.Mode, wave []*flow.Node, decided map[string]nodeDecision, bag *runtime.Context, bg *backgroundJoin) {
	type finished struct {
		node  *flow.Node
		state runtime.NodeState
	}

	run := func(n *flow.Node) runtime.NodeState {
		return e.runNode(ctx, runID, s, mode, n, bag)
	}

	var foreground []*flow.Node
	for _, n := range wave {
		if n.Type == flow.TypeBackground {
			// Background work does not gate the wave; the run joins it at the
			// end so its trace always lands in the ledger.
			decided[n.ID] = nodeDecision{state: runtime.NodeCompleted}
			bg.wg.Add(1)
			node := n
			go func() {
				defer bg.wg.Done()
				bg.record(node.ID, run(node))
			}()
			continue
		}
		foreground = append(foreground, n)
	}

	switch len(foreground) {
	case 0:
	case 1:
		n := foreground[0]
		decided[n.ID] = nodeDecision{state: run(n)}
	default:
		results := make(chan finished, len(foreground))
		for _, n := range foreground {
			node := n
			go func() { results <- finished{node: node, state: run(node)} }()
		}
		for range foreground {
			f := <-results
			decided[f.node.ID] = nodeDecision{state: f.state}
		}
	}
}

// runNode executes one node end to end: precondition gate, dispatch or
// intrinsic behavior, trace append, context write, postcondition check.
func (e *Engine) runNode(ctx context.Context, runID string, s *flow.Script, mode runtime.Mode, n *flow.Node, bag *runtime.Context) runtime.NodeState {
	// Pre maps each assertion to its expected truth value; the node runs only
	// when every assertion evaluates to what it declares.
	for expr, expect := range n.Pre {
		ok, err := cond.Evaluate(expr, bag.Lookup)
		if err != nil {
			// Fail closed: an unevaluable precondition skips the node.
			e.markSkipped(runID, n.ID, fmt.Sprintf("precondition unevaluable: %s: %v", expr, err))
			return runtime.NodeSkipped
		}
		if ok != expect {
			e.markSkipped(runID, n.ID, fmt.Sprintf("precondition not met: %s (expected %v)", expr, expect))
			return runtime.NodeSkipped
		}
	}

	e.recorder.SetCurrentStep(runID, n.ID)
	e.recorder.SetNodeState(runID, n.ID, runtime.NodeActive)
	e.audit.NodeStarted(runID, n.ID)
	e.progress(Event{Type: "node_started", RunID: runID, NodeID: n.ID})

	inputs := flow.ResolveInputs(n.Inputs, bag.Resolve)
	start := time.Now()
	tr := runtime.Trace{
		RunID:     runID,
		StepID:    n.ID,
		Timestamp: start.UTC(),
		Input:     inputs,
	}

	var output any
	var success bool
	var errMsg string
	var metrics map[string]any

	switch {
	case n.Type == flow.TypeWait:
		output, success, errMsg = e.runWait(ctx, mode, n, inputs)
	case n.Type == flow.TypeDecision && n.Tool == "":
		output, success, errMsg = e.runDecision(n, inputs, bag)
	case n.Tool != "":
		res := e.dispatchTool(ctx, runID, mode, n, inputs)
		output, success, errMsg, metrics = res.Output, res.Success, res.Error, res.Metrics
	default:
		// Intent-only node (ui_action, analysis without a tool): the trace
		// records the resolved inputs as its output.
		output = inputs
		if output == nil {
			output = map[string]any{}
		}
		success = true
	}

	if success {
		bag.RecordOutput(n.ID, n.OutputVar(), output)
		// Post assertions carry an expected truth value just like Pre.
		for expr, expect := range n.Post {
			ok, err := cond.Evaluate(expr, bag.Lookup)
			if err != nil || ok != expect {
				success = false
				errMsg = fmt.Sprintf("PostconditionFailed: %s", expr)
				break
			}
		}
	}

	tr.Output = output
	tr.Success = success
	tr.Error = errMsg
	tr.Metrics = metrics
	tr.LatencyMS = time.Since(start).Milliseconds()
	e.recorder.Append(runID, tr)

	state := runtime.NodeCompleted
	if !success {
		state = runtime.NodeError
	}
	e.recorder.SetNodeState(runID, n.ID, state)
	e.audit.NodeFinished(runID, tr)
	e.progress(Event{Type: "node_finished", RunID: runID, NodeID: n.ID,
		Payload: map[string]any{"success": success, "error": errMsg}})
	return state
}

func (e *Engine) dispatchTool(ctx context.Context, runID string, mode runtime.Mode, n *flow.Node, inputs map[string]any) dispatch.Result {
	timeout := e.defaultTimeout
	if ms, ok := numberInput(inputs, "timeout_ms"); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return e.dispatcher(mode).Dispatch(dctx, dispatch.Request{
		RunID:  runID,
		NodeID: n.ID,
		Tool:   n.Tool,
		Inputs: inputs,
	})
}

// runWait sleeps for duration_ms in live mode; simulation records the
// intended wait without sleeping.
func (e *Engine) runWait(ctx context.Context, mode runtime.Mode, n *flow.Node, inputs map[string]any) (any, bool, string) {
	ms, ok := numberInput(inputs, "duration_ms")
	if !ok || ms < 0 {
		return nil, false, fmt.Sprintf("wait node %s: duration_ms input is required", n.ID)
	}
	if mode == runtime.ModeLive && ms > 0 {
		if err := sleepWithContext(ctx, time.Duration(ms)*time.Millisecond); err != nil {
			return nil, false, fmt.Sprintf("wait interrupted: %v", err)
		}
	}
	return map[string]any{"waited_ms": ms}, true, ""
}

// runDecision evaluates the expression input and exposes the boolean under
// the node's output variable, so downstream `when` clauses can branch on it.
func (e *Engine) runDecision(n *flow.Node, inputs map[string]any, bag *runtime.Context) (any, bool, string) {
	expr, _ := inputs["expression"].(string)
	if expr == "" {
		return nil, false, fmt.Sprintf("decision node %s: expression input is required", n.ID)
	}
	ok, err := cond.Evaluate(expr, bag.Lookup)
	if err != nil {
		return nil, false, fmt.Sprintf("decision: %v", err)
	}
	return ok, true, ""
}

func (e *Engine) markSkipped(runID, nodeID, reason string) {
	e.recorder.SetNodeState(runID, nodeID, runtime.NodeSkipped)
	e.audit.NodeSkipped(runID, nodeID, reason)
	e.progress(Event{Type: "node_skipped", RunID: runID, NodeID: nodeID,
		Payload: map[string]any{"reason": reason}})
}

func numberInput(inputs map[string]any, key string) (int64, bool) {
	switch v := inputs[key].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return ctx.Err()
	}
}
