package flow

import (
	"strings"
	"testing"
)

const sampleDoc = `{
  "id": "ticket-triage",
  "title": "Ticket triage",
  "nodes": [
    {"id": "n1", "actor": "user", "type": "ui_action", "label": "Submit ticket"},
    {"id": "n2", "actor": "ai", "type": "analysis", "tool": "ai_prompt",
     "inputs": {"prompt": "classify: @n1.text"},
     "outputs": {"category": "predicted ticket category"}},
    {"id": "n3", "actor": "app", "type": "api_call", "tool": "api_call",
     "inputs": {"url": "https://example.test/assign"}}
  ],
  "edges": [
    {"from": "n1", "to": "n2"},
    {"from": "n2", "to": "n3", "when": "category == \"bug\""}
  ]
}`

func TestDecode(t *testing.T) {
	s, err := Decode([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if s.ID != "ticket-triage" || len(s.Nodes) != 3 || len(s.Edges) != 2 {
		t.Fatalf("unexpected script: %+v", s)
	}
	if s.Nodes[1].Tool != "ai_prompt" {
		t.Fatalf("tool = %q", s.Nodes[1].Tool)
	}
	if s.Edges[1].When != `category == "bug"` {
		t.Fatalf("when = %q", s.Edges[1].When)
	}
}

func TestDecodeRejectsBadDocuments(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"not json", "{"},
		{"missing id", `{"title": "x", "nodes": [], "edges": []}`},
		{"bad actor", `{"id": "f", "title": "x", "edges": [],
			"nodes": [{"id": "n1", "actor": "robot", "type": "ui_action"}]}`},
		{"bad type", `{"id": "f", "title": "x", "edges": [],
			"nodes": [{"id": "n1", "actor": "app", "type": "teleport"}]}`},
		{"edge missing to", `{"id": "f", "title": "x", "nodes": [], "edges": [{"from": "a"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode([]byte(tc.doc)); err == nil {
				t.Fatal("expected decode error")
			}
		})
	}
}

func TestOutputVar(t *testing.T) {
	cases := []struct {
		name string
		node Node
		want string
	}{
		{"single output", Node{ID: "n1", Outputs: map[string]string{"category": ""}}, "category"},
		{"tool fallback", Node{ID: "n1", Tool: "api_call"}, "api_call"},
		{"node id fallback", Node{ID: "n1"}, "n1"},
		{"multiple outputs fall back to id", Node{ID: "n1", Tool: "x",
			Outputs: map[string]string{"a": "", "b": ""}}, "n1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.node.OutputVar(); got != tc.want {
				t.Fatalf("OutputVar() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	s, err := Decode([]byte(sampleDoc))
	if err != nil {
		t.Fatal(err)
	}
	cp := s.Clone()
	cp.Nodes[0].Label = "changed"
	cp.Nodes[1].Inputs["prompt"] = "changed"
	cp.Edges[0].When = "changed"
	if s.Nodes[0].Label == "changed" || s.Nodes[1].Inputs["prompt"] == "changed" || s.Edges[0].When == "changed" {
		t.Fatal("clone shares state with the original")
	}
}

func TestGraphAccessors(t *testing.T) {
	s, err := Decode([]byte(sampleDoc))
	if err != nil {
		t.Fatal(err)
	}
	if n := s.Node("n2"); n == nil || n.ID != "n2" {
		t.Fatalf("Node(n2) = %v", n)
	}
	if s.Node("nope") != nil {
		t.Fatal("expected nil for unknown node")
	}
	if out := s.Outgoing("n1"); len(out) != 1 || out[0].To != "n2" {
		t.Fatalf("Outgoing(n1) = %v", out)
	}
	if in := s.Incoming("n3"); len(in) != 1 || in[0].From != "n2" {
		t.Fatalf("Incoming(n3) = %v", in)
	}
	if term := s.Terminals(); len(term) != 1 || term[0] != "n3" {
		t.Fatalf("Terminals() = %v", term)
	}
}

func TestParseRef(t *testing.T) {
	cases := []struct {
		in     string
		node   string
		field  string
		wantOK bool
	}{
		{"@n1", "n1", "", true},
		{"@n1.text", "n1", "text", true},
		{"@n1.body.items", "n1", "body.items", true},
		{" @n1.text ", "n1", "text", true},
		{"n1.text", "", "", false},
		{"prefix @n1", "", "", false},
		{"@", "", "", false},
	}
	for _, tc := range cases {
		ref, ok := ParseRef(tc.in)
		if ok != tc.wantOK {
			t.Errorf("ParseRef(%q) ok = %v, want %v", tc.in, ok, tc.wantOK)
			continue
		}
		if ok && (ref.NodeID != tc.node || ref.Field != tc.field) {
			t.Errorf("ParseRef(%q) = %+v", tc.in, ref)
		}
	}
}

func TestResolveInputs(t *testing.T) {
	outputs := map[string]any{
		"n1": map[string]any{"text": "hello", "count": float64(2)},
	}
	lookup := func(ref Ref) (any, bool) {
		out, ok := outputs[ref.NodeID]
		if !ok {
			return nil, false
		}
		return FieldPath(out, ref.Field)
	}

	got := ResolveInputs(map[string]any{
		"whole":    "@n1.count",
		"embedded": "say @n1.text twice",
		"missing":  "@nope.value",
		"nested":   map[string]any{"inner": "@n1.text"},
		"list":     []any{"@n1.text", "plain"},
		"plain":    42,
	}, lookup)

	if got["whole"] != float64(2) {
		t.Errorf("whole-string reference should keep its type, got %T %v", got["whole"], got["whole"])
	}
	if got["embedded"] != "say hello twice" {
		t.Errorf("embedded = %v", got["embedded"])
	}
	if got["missing"] != "@nope.value" {
		t.Errorf("unresolved reference should stay verbatim, got %v", got["missing"])
	}
	if got["nested"].(map[string]any)["inner"] != "hello" {
		t.Errorf("nested = %v", got["nested"])
	}
	if got["list"].([]any)[0] != "hello" {
		t.Errorf("list = %v", got["list"])
	}
	if got["plain"] != 42 {
		t.Errorf("plain = %v", got["plain"])
	}
}

func TestRevisionTracksContent(t *testing.T) {
	s, err := Decode([]byte(sampleDoc))
	if err != nil {
		t.Fatal(err)
	}
	r1 := Revision(s)
	if r1 == "" {
		t.Fatal("empty revision")
	}
	if r2 := Revision(s.Clone()); r2 != r1 {
		t.Fatal("identical content must hash identically")
	}
	cp := s.Clone()
	cp.Nodes[0].Label = "different"
	if Revision(cp) == r1 {
		t.Fatal("changed content must change the revision")
	}
}

func TestIdentityHashIgnoresID(t *testing.T) {
	a := &Node{ID: "n1", Actor: ActorAI, Type: TypeAnalysis, Tool: "ai_prompt", Label: "Classify"}
	b := &Node{ID: "renamed", Actor: ActorAI, Type: TypeAnalysis, Tool: "ai_prompt", Label: "Classify"}
	if IdentityHash(a) != IdentityHash(b) {
		t.Fatal("identity hash must ignore node id")
	}
	c := &Node{ID: "n1", Actor: ActorAI, Type: TypeAnalysis, Tool: "ai_prompt", Label: "Summarize"}
	if IdentityHash(a) == IdentityHash(c) {
		t.Fatal("different labels must hash differently")
	}
}

func TestEncodeRoundTrips(t *testing.T) {
	s, err := Decode([]byte(sampleDoc))
	if err != nil {
		t.Fatal(err)
	}
	raw, err := Encode(s)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"when"`) {
		t.Fatal("encoded document must keep wire field names")
	}
	back, err := Decode(raw)
	if err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if Revision(back) != Revision(s) {
		t.Fatal("encode/decode must preserve content")
	}
}
