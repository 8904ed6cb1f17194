// Package runtime holds the live state of FlowScript executions: the shared
// context bag, the immutable trace ledger, and queryable run snapshots.
package runtime

import (
	"time"
)

type Mode string

const (
	ModeSimulate Mode = "simulate"
	ModeLive     Mode = "live"
)

type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

type NodeState string

const (
	NodePending   NodeState = "pending"
	NodeActive    NodeState = "active"
	NodeCompleted NodeState = "completed"
	NodeError     NodeState = "error"
	NodeSkipped   NodeState = "skipped"
)

// Trace is the record of one node execution attempt within one run.
// Immutable once appended to the ledger.
type Trace struct {
	RunID     string         `json:"run_id"`
	StepID    string         `json:"step_id"`
	Timestamp time.Time      `json:"timestamp"`
	Input     map[string]any `json:"input,omitempty"`
	Output    any            `json:"output,omitempty"`
	Success   bool           `json:"success"`
	LatencyMS int64          `json:"latency_ms,omitempty"`
	Error     string         `json:"error,omitempty"`
	Metrics   map[string]any `json:"metrics,omitempty"`
}

// Runtime is the queryable state of one execution. Trace order is completion
// order, not declaration order; consumers needing declaration order must
// sort by node position.
type Runtime struct {
	FlowID      string               `json:"flow_id"`
	RunID       string               `json:"run_id"`
	Mode        Mode                 `json:"mode"`
	Status      RunStatus            `json:"status"`
	Canceled    bool                 `json:"canceled,omitempty"`
	CurrentStep string               `json:"current_step,omitempty"`
	Traces      []Trace              `json:"traces"`
	Context     map[string]any       `json:"context"`
	NodeStates  map[string]NodeState `json:"node_states"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  *time.Time           `json:"finished_at,omitempty"`
	Error       string               `json:"error,omitempty"`
}
