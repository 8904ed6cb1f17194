// Package audit emits the operational log line per engine event. Kept
// behind an interface so the server can fan events into SSE as well.
package audit

import (
	"log"

	"github.com/taskloom/flowscript/internal/runtime"
)

type Logger interface {
	RunTransition(runID, flowID string, mode runtime.Mode, status runtime.RunStatus)
	NodeStarted(runID, nodeID string)
	NodeFinished(runID string, tr runtime.Trace)
	NodeSkipped(runID, nodeID, reason string)
}

// Log writes bracketed-prefix lines to a stdlib logger.
type Log struct {
	L *log.Logger
}

func New(l *log.Logger) *Log {
	if l == nil {
		l = log.Default()
	}
	return &Log{L: l}
}

func (a *Log) RunTransition(runID, flowID string, mode runtime.Mode, status runtime.RunStatus) {
	a.L.Printf("[run] id=%s flow=%s mode=%s status=%s", runID, flowID, mode, status)
}

func (a *Log) NodeStarted(runID, nodeID string) {
	a.L.Printf("[node] run=%s id=%s start", runID, nodeID)
}

func (a *Log) NodeFinished(runID string, tr runtime.Trace) {
	if tr.Success {
		a.L.Printf("[node] run=%s id=%s ok latency=%dms", runID, tr.StepID, tr.LatencyMS)
		return
	}
	a.L.Printf("[node] run=%s id=%s failed latency=%dms err=%s", runID, tr.StepID, tr.LatencyMS, tr.Error)
}

func (a *Log) NodeSkipped(runID, nodeID, reason string) {
	a.L.Printf("[node] run=%s id=%s skipped: %s", runID, nodeID, reason)
}

// Nop discards all events.
type Nop struct{}

func (Nop) RunTransition(string, string, runtime.Mode, runtime.RunStatus) {}
func (Nop) NodeStarted(string, string)                                   {}
func (Nop) NodeFinished(string, runtime.Trace)                           {}
func (Nop) NodeSkipped(string, string, string)                           {}
