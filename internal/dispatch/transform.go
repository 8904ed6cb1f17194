package dispatch

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
)

// TransformHandler backs data_transform nodes: pure JSON in, JSON out.
// Because it has no side effects it is shared verbatim between the live and
// simulate handler sets, which is what makes transform-only graphs produce
// byte-identical ledgers across modes.
type TransformHandler struct{}

func (h *TransformHandler) Execute(_ context.Context, req Request) Result {
	op := stringInput(req.Inputs, "operation")
	if op == "" {
		op = stringInput(req.Inputs, "op")
	}
	if op == "" {
		return failure("data_transform node %s: operation input is required", req.NodeID)
	}

	data, ok := req.Inputs["data"]
	if !ok {
		return failure("data_transform node %s: data input is required", req.NodeID)
	}
	// A string payload is parsed as JSON first; anything unparseable is a
	// ParseError rather than a silent pass-through.
	if s, isStr := data.(string); isStr {
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return failure("ParseError: %v", err)
		}
		data = decoded
	}

	out, err := applyTransform(op, data, req.Inputs)
	if err != "" {
		return failure("%s", err)
	}
	return Result{Success: true, Output: out}
}

func applyTransform(op string, data any, inputs map[string]any) (any, string) {
	switch op {
	case "identity":
		return data, ""
	case "uppercase_keys":
		return mapKeys(data, strings.ToUpper), ""
	case "lowercase_keys":
		return mapKeys(data, strings.ToLower), ""
	case "pick":
		obj, ok := data.(map[string]any)
		if !ok {
			return nil, "ParseError: pick expects an object"
		}
		fields, ok := inputs["fields"].([]any)
		if !ok {
			return nil, "data_transform: pick needs a fields input"
		}
		out := map[string]any{}
		for _, f := range fields {
			if name, ok := f.(string); ok {
				if v, present := obj[name]; present {
					out[name] = v
				}
			}
		}
		return out, ""
	case "rename":
		obj, ok := data.(map[string]any)
		if !ok {
			return nil, "ParseError: rename expects an object"
		}
		mapping, ok := inputs["mapping"].(map[string]any)
		if !ok {
			return nil, "data_transform: rename needs a mapping input"
		}
		out := map[string]any{}
		for k, v := range obj {
			name := k
			if to, renamed := mapping[k].(string); renamed {
				name = to
			}
			out[name] = v
		}
		return out, ""
	case "sort_keys":
		obj, ok := data.(map[string]any)
		if !ok {
			return nil, "ParseError: sort_keys expects an object"
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys, ""
	case "count":
		switch v := data.(type) {
		case map[string]any:
			return len(v), ""
		case []any:
			return len(v), ""
		case string:
			return len(v), ""
		default:
			return nil, "ParseError: count expects an object, array, or string"
		}
	default:
		return nil, "data_transform: unknown operation " + jsonQuote(op)
	}
}

// mapKeys rewrites top-level object keys; non-objects pass through.
func mapKeys(data any, fn func(string) string) any {
	obj, ok := data.(map[string]any)
	if !ok {
		return data
	}
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[fn(k)] = v
	}
	return out
}

func jsonQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
