package runtime

import (
	"encoding/json"
	"sync"

	"github.com/taskloom/flowscript/internal/flow"
)

// Context is the shared variable bag for one run. Entries are written only
// by completed nodes, never retroactively. Concurrent writers always target
// distinct keys (the validator rejects scripts where they would not), so a
// plain RWMutex suffices.
type Context struct {
	mu          sync.RWMutex
	vars        map[string]any
	nodeOutputs map[string]any
	order       []string // node ids in completion order, for bare-key scans
}

func NewContext() *Context {
	return &Context{
		vars:        map[string]any{},
		nodeOutputs: map[string]any{},
	}
}

// Seed copies initial bindings (e.g. a test case's `given`) into the bag.
func (c *Context) Seed(values map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range values {
		c.vars[k] = v
	}
}

// RecordOutput stores a completed node's output both under its declared
// output variable and under the node id for `@nodeId.field` addressing.
func (c *Context) RecordOutput(nodeID, outputVar string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if outputVar != "" {
		c.vars[outputVar] = value
	}
	c.nodeOutputs[nodeID] = value
	c.order = append(c.order, nodeID)
}

// Resolve implements flow.LookupFunc over the bag.
func (c *Context) Resolve(ref flow.Ref) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, ok := c.nodeOutputs[ref.NodeID]
	if !ok {
		return nil, false
	}
	return flow.FieldPath(out, ref.Field)
}

// Lookup resolves a condition-language key: `@nodeId.field` references,
// direct variable names, `nodeId.field` dotted lookups, and finally a scan
// of node outputs for a bare field name (latest completion wins).
func (c *Context) Lookup(key string) (any, bool) {
	if ref, ok := flow.ParseRef(key); ok {
		return c.Resolve(ref)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.vars[key]; ok {
		return v, true
	}
	if node, field, ok := splitDotted(key); ok {
		if out, found := c.nodeOutputs[node]; found {
			if v, ok := flow.FieldPath(out, field); ok {
				return v, true
			}
		}
	}
	for i := len(c.order) - 1; i >= 0; i-- {
		if m, ok := c.nodeOutputs[c.order[i]].(map[string]any); ok {
			if v, found := m[key]; found {
				return v, true
			}
		}
	}
	return nil, false
}

func splitDotted(key string) (node, field string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			return key[:i], key[i+1:], i > 0 && i < len(key)-1
		}
	}
	return "", "", false
}

// Snapshot returns a deep copy of the bag: node outputs under their node
// ids, overlaid with the named output variables. Variables win on collision.
func (c *Context) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	merged := make(map[string]any, len(c.vars)+len(c.nodeOutputs))
	for k, v := range c.nodeOutputs {
		merged[k] = v
	}
	for k, v := range c.vars {
		merged[k] = v
	}
	return deepCopyMap(merged)
}

func deepCopyMap(in map[string]any) map[string]any {
	b, err := json.Marshal(in)
	if err != nil {
		out := make(map[string]any, len(in))
		for k, v := range in {
			out[k] = v
		}
		return out
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]any{}
	}
	return out
}
