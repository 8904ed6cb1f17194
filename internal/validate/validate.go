// Package validate checks FlowScript structural soundness. Validation never
// mutates the script; callers decide whether to proceed on warnings.
package validate

import (
	"fmt"
	"strings"

	"github.com/taskloom/flowscript/internal/cond"
	"github.com/taskloom/flowscript/internal/flow"
)

type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// Diagnostic is one structural finding. Rule names are stable identifiers
// the web client keys error rendering off.
type Diagnostic struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	NodeID   string   `json:"node_id,omitempty"`
	EdgeFrom string   `json:"edge_from,omitempty"`
	EdgeTo   string   `json:"edge_to,omitempty"`
}

// Validate runs all structural rules against the script.
func Validate(s *flow.Script) []Diagnostic {
	if s == nil {
		return []Diagnostic{{Rule: "script_nil", Severity: SeverityError, Message: "script is nil"}}
	}
	var diags []Diagnostic
	diags = append(diags, lintDuplicateNodeIDs(s)...)
	diags = append(diags, lintEdgeEndpointsExist(s)...)
	diags = append(diags, lintAcyclic(s)...)
	diags = append(diags, lintToolRequired(s)...)
	diags = append(diags, lintConditionSyntax(s)...)
	diags = append(diags, lintOutputVarClash(s)...)
	return diags
}

// ValidateOrError collapses error-severity diagnostics into a single error.
func ValidateOrError(s *flow.Script) error {
	diags := Validate(s)
	var errs []string
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs = append(errs, d.Rule+": "+d.Message)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func lintDuplicateNodeIDs(s *flow.Script) []Diagnostic {
	seen := map[string]bool{}
	var diags []Diagnostic
	for _, n := range s.Nodes {
		if n == nil {
			continue
		}
		if seen[n.ID] {
			diags = append(diags, Diagnostic{
				Rule:     "duplicate_node_id",
				Severity: SeverityError,
				Message:  fmt.Sprintf("node id %q declared more than once", n.ID),
				NodeID:   n.ID,
			})
			continue
		}
		seen[n.ID] = true
	}
	return diags
}

func lintEdgeEndpointsExist(s *flow.Script) []Diagnostic {
	ids := map[string]bool{}
	for _, n := range s.Nodes {
		if n != nil {
			ids[n.ID] = true
		}
	}
	var diags []Diagnostic
	for _, e := range s.Edges {
		if e == nil {
			continue
		}
		if !ids[e.From] {
			diags = append(diags, Diagnostic{
				Rule:     "edge_endpoint_exists",
				Severity: SeverityError,
				Message:  fmt.Sprintf("edge references missing from-node %q", e.From),
				EdgeFrom: e.From,
				EdgeTo:   e.To,
			})
		}
		if !ids[e.To] {
			diags = append(diags, Diagnostic{
				Rule:     "edge_endpoint_exists",
				Severity: SeverityError,
				Message:  fmt.Sprintf("edge references missing to-node %q", e.To),
				EdgeFrom: e.From,
				EdgeTo:   e.To,
			})
		}
	}
	return diags
}

func lintAcyclic(s *flow.Script) []Diagnostic {
	if _, err := TopologicalOrder(s); err != nil {
		return []Diagnostic{{
			Rule:     "cycle",
			Severity: SeverityError,
			Message:  err.Error(),
		}}
	}
	return nil
}

func lintToolRequired(s *flow.Script) []Diagnostic {
	var diags []Diagnostic
	for _, n := range s.Nodes {
		if n == nil {
			continue
		}
		switch n.Type {
		case flow.TypeAPICall:
			_, hasURL := n.Inputs["url"]
			_, hasEndpoint := n.Inputs["endpoint"]
			if n.Tool == "" && !hasURL && !hasEndpoint {
				diags = append(diags, Diagnostic{
					Rule:     "tool_required",
					Severity: SeverityError,
					Message:  "api_call node needs a tool or an url/endpoint input",
					NodeID:   n.ID,
				})
			}
		default:
			if strings.HasPrefix(n.Tool, "file_operation") {
				if _, ok := n.Inputs["path"]; !ok {
					diags = append(diags, Diagnostic{
						Rule:     "tool_required",
						Severity: SeverityError,
						Message:  "file_operation node needs a path input",
						NodeID:   n.ID,
					})
				}
			}
		}
	}
	return diags
}

func lintConditionSyntax(s *flow.Script) []Diagnostic {
	var diags []Diagnostic
	for _, e := range s.Edges {
		if e == nil || strings.TrimSpace(e.When) == "" {
			continue
		}
		if err := cond.Check(e.When); err != nil {
			diags = append(diags, Diagnostic{
				Rule:     "condition_syntax",
				Severity: SeverityError,
				Message:  fmt.Sprintf("edge %s->%s: %v", e.From, e.To, err),
				EdgeFrom: e.From,
				EdgeTo:   e.To,
			})
		}
	}
	for _, n := range s.Nodes {
		if n == nil {
			continue
		}
		for expr := range n.Pre {
			if err := cond.Check(expr); err != nil {
				diags = append(diags, Diagnostic{
					Rule:     "condition_syntax",
					Severity: SeverityError,
					Message:  fmt.Sprintf("precondition: %v", err),
					NodeID:   n.ID,
				})
			}
		}
		for expr := range n.Post {
			if err := cond.Check(expr); err != nil {
				diags = append(diags, Diagnostic{
					Rule:     "condition_syntax",
					Severity: SeverityError,
					Message:  fmt.Sprintf("postcondition: %v", err),
					NodeID:   n.ID,
				})
			}
		}
	}
	return diags
}

// lintOutputVarClash flags scripts where two nodes that could dispatch
// concurrently (no path between them in either direction) share an
// output-variable name. The context bag's last-write-wins would make such a
// run nondeterministic. When both nodes sit behind conditional edges the
// branches are usually mutually exclusive, so the finding is downgraded to
// a warning instead of rejecting the script.
func lintOutputVarClash(s *flow.Script) []Diagnostic {
	reach := reachability(s)
	guarded := func(id string) bool {
		in := s.Incoming(id)
		if len(in) == 0 {
			return false
		}
		for _, e := range in {
			if strings.TrimSpace(e.When) == "" {
				return false
			}
		}
		return true
	}
	var diags []Diagnostic
	for i, a := range s.Nodes {
		for _, b := range s.Nodes[i+1:] {
			if a == nil || b == nil || a.ID == b.ID {
				continue
			}
			if a.OutputVar() != b.OutputVar() {
				continue
			}
			if reach[a.ID][b.ID] || reach[b.ID][a.ID] {
				continue // ordered: later write is deliberate
			}
			sev := SeverityError
			if guarded(a.ID) && guarded(b.ID) {
				sev = SeverityWarning
			}
			diags = append(diags, Diagnostic{
				Rule:     "output_var_clash",
				Severity: sev,
				Message: fmt.Sprintf("nodes %q and %q may run concurrently and both write output variable %q",
					a.ID, b.ID, a.OutputVar()),
				NodeID: a.ID,
			})
		}
	}
	return diags
}

func reachability(s *flow.Script) map[string]map[string]bool {
	adj := map[string][]string{}
	for _, e := range s.Edges {
		if e != nil {
			adj[e.From] = append(adj[e.From], e.To)
		}
	}
	reach := map[string]map[string]bool{}
	for _, n := range s.Nodes {
		if n == nil {
			continue
		}
		seen := map[string]bool{}
		stack := []string{n.ID}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, next := range adj[cur] {
				if !seen[next] {
					seen[next] = true
					stack = append(stack, next)
				}
			}
		}
		reach[n.ID] = seen
	}
	return reach
}

// TopologicalOrder returns node ids in a stable topological order: nodes
// with no ordering constraint between them keep declaration order, so
// repeated runs of an unchanged script visit nodes in the same sequence.
// Returns an error when the graph has a cycle.
func TopologicalOrder(s *flow.Script) ([]string, error) {
	index := map[string]int{}
	for i, n := range s.Nodes {
		if n != nil {
			if _, dup := index[n.ID]; !dup {
				index[n.ID] = i
			}
		}
	}
	indegree := map[string]int{}
	for _, n := range s.Nodes {
		if n != nil {
			indegree[n.ID] = 0
		}
	}
	for _, e := range s.Edges {
		if e == nil {
			continue
		}
		if _, ok := index[e.From]; !ok {
			continue
		}
		if _, ok := index[e.To]; !ok {
			continue
		}
		indegree[e.To]++
	}

	done := map[string]bool{}
	order := make([]string, 0, len(indegree))
	for len(order) < len(indegree) {
		// Pick the ready node with the smallest declaration index.
		next := ""
		for _, n := range s.Nodes {
			if n == nil || done[n.ID] {
				continue
			}
			if indegree[n.ID] == 0 {
				next = n.ID
				break
			}
		}
		if next == "" {
			remaining := []string{}
			for _, n := range s.Nodes {
				if n != nil && !done[n.ID] {
					remaining = append(remaining, n.ID)
				}
			}
			return nil, fmt.Errorf("graph has a cycle involving %v", remaining)
		}
		done[next] = true
		order = append(order, next)
		for _, e := range s.Outgoing(next) {
			if _, ok := indegree[e.To]; ok && !done[e.To] {
				indegree[e.To]--
			}
		}
	}
	return order, nil
}
