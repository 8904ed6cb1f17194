package server

import (
	"github.com/taskloom/flowscript/internal/flow"
	"github.com/taskloom/flowscript/internal/runtime"
	"github.com/taskloom/flowscript/internal/validate"
)

type errorResponse struct {
	Error string `json:"error"`
}

type saveFlowResponse struct {
	FlowID      string                `json:"flow_id"`
	Revision    string                `json:"revision"`
	Diagnostics []validate.Diagnostic `json:"diagnostics"`
}

type getFlowResponse struct {
	Revision string       `json:"revision"`
	Flow     *flow.Script `json:"flow"`
}

type listFlowsResponse struct {
	Flows []string `json:"flows"`
}

type validateResponse struct {
	Valid       bool                  `json:"valid"`
	Diagnostics []validate.Diagnostic `json:"diagnostics"`
}

type executeRequest struct {
	Mode runtime.Mode   `json:"mode"`
	Seed map[string]any `json:"seed,omitempty"`
}

type executeResponse struct {
	RunID string `json:"run_id"`
}

type stepRequest struct {
	StepID string         `json:"step_id"`
	Mode   runtime.Mode   `json:"mode"`
	Seed   map[string]any `json:"seed,omitempty"`
}

type cancelResponse struct {
	RunID    string `json:"run_id"`
	Canceled bool   `json:"canceled"`
}

type generateRequest struct {
	Description string `json:"description"`
}

type refineRequest struct {
	Instruction string `json:"instruction"`
}
