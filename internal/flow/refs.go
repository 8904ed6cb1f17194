package flow

import (
	"fmt"
	"regexp"
	"strings"
)

// Ref is a parsed `@nodeId.field` reference. Field may be a dotted path into
// the node's output value; an empty field addresses the whole output.
type Ref struct {
	NodeID string
	Field  string
}

var refPattern = regexp.MustCompile(`@([A-Za-z0-9_-]+)((?:\.[A-Za-z0-9_-]+)*)`)

// ParseRef parses s as a single whole-string reference. ok is false when s
// is not exactly one reference.
func ParseRef(s string) (Ref, bool) {
	s = strings.TrimSpace(s)
	m := refPattern.FindStringSubmatch(s)
	if m == nil || m[0] != s {
		return Ref{}, false
	}
	return Ref{NodeID: m[1], Field: strings.TrimPrefix(m[2], ".")}, true
}

// LookupFunc resolves a reference against the run's context bag.
type LookupFunc func(ref Ref) (any, bool)

// ResolveInputs substitutes every `@nodeId.field` reference in inputs from
// context, recursively. A string value that is exactly one reference is
// replaced by the looked-up value with its original type preserved; a
// reference embedded in a longer string is stringified in place. Unresolved
// references are left verbatim so a downstream precondition can fail closed
// on them rather than a half-substituted value slipping through.
func ResolveInputs(inputs map[string]any, lookup LookupFunc) map[string]any {
	if inputs == nil {
		return nil
	}
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		out[k] = resolveValue(v, lookup)
	}
	return out
}

func resolveValue(v any, lookup LookupFunc) any {
	switch t := v.(type) {
	case string:
		if ref, ok := ParseRef(t); ok {
			if got, found := lookup(ref); found {
				return got
			}
			return t
		}
		return refPattern.ReplaceAllStringFunc(t, func(m string) string {
			ref, ok := ParseRef(m)
			if !ok {
				return m
			}
			got, found := lookup(ref)
			if !found {
				return m
			}
			return fmt.Sprint(got)
		})
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = resolveValue(inner, lookup)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = resolveValue(inner, lookup)
		}
		return out
	default:
		return v
	}
}

// FieldPath walks a dotted path into a decoded JSON value.
func FieldPath(v any, path string) (any, bool) {
	if strings.TrimSpace(path) == "" {
		return v, true
	}
	cur := v
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
