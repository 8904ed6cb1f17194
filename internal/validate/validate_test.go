package validate

import (
	"strings"
	"testing"

	"github.com/taskloom/flowscript/internal/flow"
)

func linearScript() *flow.Script {
	return &flow.Script{
		ID:    "f",
		Title: "linear",
		Nodes: []*flow.Node{
			{ID: "a", Actor: flow.ActorUser, Type: flow.TypeUIAction},
			{ID: "b", Actor: flow.ActorApp, Type: flow.TypeAnalysis, Tool: "data_transform",
				Inputs: map[string]any{"operation": "identity", "data": map[string]any{}}},
			{ID: "c", Actor: flow.ActorSystem, Type: flow.TypeAnalysis, Tool: "notification",
				Inputs: map[string]any{"message": "done"}},
		},
		Edges: []*flow.Edge{
			{From: "a", To: "b"},
			{From: "b", To: "c"},
		},
	}
}

func rulesOf(diags []Diagnostic) []string {
	var out []string
	for _, d := range diags {
		out = append(out, d.Rule)
	}
	return out
}

func hasRule(diags []Diagnostic, rule string) bool {
	for _, d := range diags {
		if d.Rule == rule {
			return true
		}
	}
	return false
}

func TestValidateCleanScript(t *testing.T) {
	if diags := Validate(linearScript()); len(diags) != 0 {
		t.Fatalf("expected no diagnostics, got %v", rulesOf(diags))
	}
}

func TestDuplicateNodeIDs(t *testing.T) {
	s := linearScript()
	s.Nodes = append(s.Nodes, &flow.Node{ID: "a", Actor: flow.ActorApp, Type: flow.TypeAnalysis})
	if !hasRule(Validate(s), "duplicate_node_id") {
		t.Fatal("expected duplicate_node_id")
	}
}

func TestEdgeEndpointsMustExist(t *testing.T) {
	s := linearScript()
	s.Edges = append(s.Edges, &flow.Edge{From: "c", To: "ghost"})
	diags := Validate(s)
	if !hasRule(diags, "edge_endpoint_exists") {
		t.Fatalf("expected edge_endpoint_exists, got %v", rulesOf(diags))
	}
}

func TestCycleDetection(t *testing.T) {
	s := linearScript()
	s.Edges = append(s.Edges, &flow.Edge{From: "c", To: "a"})
	diags := Validate(s)
	if !hasRule(diags, "cycle") {
		t.Fatalf("expected cycle, got %v", rulesOf(diags))
	}
	if err := ValidateOrError(s); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("ValidateOrError = %v", err)
	}
}

func TestAPICallNeedsTarget(t *testing.T) {
	s := linearScript()
	s.Nodes = append(s.Nodes, &flow.Node{ID: "d", Actor: flow.ActorApp, Type: flow.TypeAPICall})
	s.Edges = append(s.Edges, &flow.Edge{From: "c", To: "d"})
	if !hasRule(Validate(s), "tool_required") {
		t.Fatal("api_call without tool or url must be rejected")
	}

	// A url input alone satisfies the rule.
	s.Nodes[3].Inputs = map[string]any{"url": "https://example.test"}
	if hasRule(Validate(s), "tool_required") {
		t.Fatal("api_call with url input should pass")
	}
}

func TestFileOperationNeedsPath(t *testing.T) {
	s := linearScript()
	s.Nodes[1].Tool = "file_operation"
	s.Nodes[1].Inputs = map[string]any{"operation": "read"}
	if !hasRule(Validate(s), "tool_required") {
		t.Fatal("file_operation without path must be rejected")
	}
}

func TestConditionSyntax(t *testing.T) {
	s := linearScript()
	s.Edges[0].When = "== broken"
	s.Nodes[1].Pre = map[string]bool{"also ==": true}
	diags := Validate(s)
	count := 0
	for _, d := range diags {
		if d.Rule == "condition_syntax" {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("expected 2 condition_syntax diagnostics, got %v", rulesOf(diags))
	}
}

func TestOutputVarClash(t *testing.T) {
	s := &flow.Script{
		ID:    "f",
		Title: "fan-out",
		Nodes: []*flow.Node{
			{ID: "root", Actor: flow.ActorUser, Type: flow.TypeUIAction},
			{ID: "left", Actor: flow.ActorApp, Type: flow.TypeAnalysis,
				Outputs: map[string]string{"result": ""}},
			{ID: "right", Actor: flow.ActorApp, Type: flow.TypeAnalysis,
				Outputs: map[string]string{"result": ""}},
		},
		Edges: []*flow.Edge{
			{From: "root", To: "left"},
			{From: "root", To: "right"},
		},
	}
	if !hasRule(Validate(s), "output_var_clash") {
		t.Fatal("concurrent nodes sharing an output variable must be rejected")
	}

	// Ordering the writers resolves the clash.
	s.Edges = append(s.Edges, &flow.Edge{From: "left", To: "right"})
	if hasRule(Validate(s), "output_var_clash") {
		t.Fatal("ordered writers should pass")
	}

	// Guarded branches downgrade to a warning.
	s.Edges = []*flow.Edge{
		{From: "root", To: "left", When: "flag == true"},
		{From: "root", To: "right", When: "flag == false"},
	}
	diags := Validate(s)
	if !hasRule(diags, "output_var_clash") {
		t.Fatal("guarded clash should still be reported")
	}
	for _, d := range diags {
		if d.Rule == "output_var_clash" && d.Severity != SeverityWarning {
			t.Fatalf("guarded clash severity = %s", d.Severity)
		}
	}
	if err := ValidateOrError(s); err != nil {
		t.Fatalf("warnings must not block execution: %v", err)
	}
}

func TestTopologicalOrderIsStable(t *testing.T) {
	s := &flow.Script{
		ID:    "f",
		Title: "diamond",
		Nodes: []*flow.Node{
			{ID: "start", Actor: flow.ActorUser, Type: flow.TypeUIAction},
			{ID: "mid2", Actor: flow.ActorApp, Type: flow.TypeAnalysis},
			{ID: "mid1", Actor: flow.ActorApp, Type: flow.TypeAnalysis},
			{ID: "end", Actor: flow.ActorSystem, Type: flow.TypeAnalysis},
		},
		Edges: []*flow.Edge{
			{From: "start", To: "mid2"},
			{From: "start", To: "mid1"},
			{From: "mid2", To: "end"},
			{From: "mid1", To: "end"},
		},
	}
	want := []string{"start", "mid2", "mid1", "end"}
	for i := 0; i < 5; i++ {
		got, err := TopologicalOrder(s)
		if err != nil {
			t.Fatal(err)
		}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("run %d: order = %v, want %v", i, got, want)
			}
		}
	}
}

func TestTopologicalOrderReportsCycle(t *testing.T) {
	s := linearScript()
	s.Edges = append(s.Edges, &flow.Edge{From: "c", To: "b"})
	if _, err := TopologicalOrder(s); err == nil {
		t.Fatal("expected cycle error")
	}
}
