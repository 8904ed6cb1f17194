// Package flow defines the FlowScript document model: a declarative JSON
// graph describing a multi-actor process. Field names on the wire (`pre`,
// `post`, `when`, `tool`, `outputs`, `latency_ms`) are contractual — the
// graph renderer and the generation service depend on them verbatim.
package flow

import (
	"encoding/json"
	"fmt"
	"sort"
)

type Actor string

const (
	ActorUser   Actor = "user"
	ActorApp    Actor = "app"
	ActorAI     Actor = "ai"
	ActorSystem Actor = "system"
)

type NodeType string

const (
	TypeUIAction   NodeType = "ui_action"
	TypeAPICall    NodeType = "api_call"
	TypeDecision   NodeType = "decision"
	TypeAnalysis   NodeType = "analysis"
	TypeWait       NodeType = "wait"
	TypeBackground NodeType = "background"
)

// Position is an optional layout hint for graph renderers.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeError declares a failure mode a node is expected to be able to produce.
type NodeError struct {
	Code        string `json:"code"`
	Explanation string `json:"explanation,omitempty"`
}

type Node struct {
	ID      string            `json:"id"`
	Label   string            `json:"label,omitempty"`
	Actor   Actor             `json:"actor"`
	Type    NodeType          `json:"type"`
	Tool    string            `json:"tool,omitempty"`
	Inputs  map[string]any    `json:"inputs,omitempty"`
	Outputs map[string]string `json:"outputs,omitempty"`
	Pre     map[string]bool   `json:"pre,omitempty"`
	Post    map[string]bool   `json:"post,omitempty"`
	Errors  []NodeError       `json:"errors,omitempty"`

	Position *Position `json:"position,omitempty"`
}

// OutputVar returns the context-bag key this node's dispatch result is
// written under: the single declared output name when there is exactly one,
// otherwise the tool id, otherwise the node id.
func (n *Node) OutputVar() string {
	if n == nil {
		return ""
	}
	if len(n.Outputs) == 1 {
		for name := range n.Outputs {
			return name
		}
	}
	if n.Tool != "" && len(n.Outputs) == 0 {
		return n.Tool
	}
	return n.ID
}

type Edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	When  string `json:"when,omitempty"`
	Label string `json:"label,omitempty"`
}

// TestCase is an author-declared expectation bundled with a script.
type TestCase struct {
	Name   string         `json:"name"`
	Given  map[string]any `json:"given,omitempty"`
	Expect map[string]any `json:"expect,omitempty"`
}

// Script is one FlowScript document. Nodes and edges keep declaration order;
// traversal tie-breaks depend on it.
type Script struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Assumptions []string   `json:"assumptions,omitempty"`
	Nodes       []*Node    `json:"nodes"`
	Edges       []*Edge    `json:"edges"`
	TestCases   []TestCase `json:"testcases,omitempty"`
}

// Node returns the node with the given id, or nil.
func (s *Script) Node(id string) *Node {
	if s == nil {
		return nil
	}
	for _, n := range s.Nodes {
		if n != nil && n.ID == id {
			return n
		}
	}
	return nil
}

// Outgoing returns edges leaving the given node, in declaration order.
func (s *Script) Outgoing(id string) []*Edge {
	var out []*Edge
	for _, e := range s.Edges {
		if e != nil && e.From == id {
			out = append(out, e)
		}
	}
	return out
}

// Incoming returns edges entering the given node, in declaration order.
func (s *Script) Incoming(id string) []*Edge {
	var in []*Edge
	for _, e := range s.Edges {
		if e != nil && e.To == id {
			in = append(in, e)
		}
	}
	return in
}

// Terminals returns ids of nodes with no outgoing edges, in declaration order.
func (s *Script) Terminals() []string {
	hasOut := map[string]bool{}
	for _, e := range s.Edges {
		if e != nil {
			hasOut[e.From] = true
		}
	}
	var ids []string
	for _, n := range s.Nodes {
		if n != nil && !hasOut[n.ID] {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// Clone returns a deep copy. Stored scripts are always cloned on the way in
// and out so callers never hold a live reference to persisted state.
func (s *Script) Clone() *Script {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		// The model is plain JSON-serializable data; marshal cannot fail on
		// a well-formed script. Fall back to a shallow copy rather than panic.
		cp := *s
		return &cp
	}
	var out Script
	if err := json.Unmarshal(b, &out); err != nil {
		cp := *s
		return &cp
	}
	return &out
}

// Decode parses and schema-checks a FlowScript document.
func Decode(raw []byte) (*Script, error) {
	if err := ValidateDocument(raw); err != nil {
		return nil, err
	}
	var s Script
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode flowscript: %w", err)
	}
	return &s, nil
}

// Encode marshals a script with stable formatting for storage and transport.
func Encode(s *Script) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// SortedNodeIDs returns all node ids sorted, for deterministic diagnostics.
func SortedNodeIDs(s *Script) []string {
	ids := make([]string, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		if n != nil {
			ids = append(ids, n.ID)
		}
	}
	sort.Strings(ids)
	return ids
}
