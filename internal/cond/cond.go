// Package cond evaluates the minimal boolean expression language used on
// edge guards, node preconditions, and decision nodes.
//
// Grammar:
//
//	Expr    ::= Clause ( '&&' Clause )*
//	Clause  ::= Operand ( '==' | '!=' | '=' ) Operand | Operand
//	Operand ::= '@' NodeRef | DottedKey | Literal
//
// Deliberately not a scripting language: no parentheses, no disjunction, no
// arithmetic. References and context keys are substituted first; when both
// sides of a comparison parse as numbers they compare numerically, otherwise
// as strings. A bare operand is truthy when non-empty and not
// "false"/"0"/"no". Missing keys resolve to empty string, so guards fail
// closed on absent context.
package cond

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/taskloom/flowscript/internal/flow"
)

// Lookup resolves a context key. Keys may be `@nodeId.field` references or
// bare/dotted names resolved against the context bag.
type Lookup func(key string) (any, bool)

// Evaluate evaluates expr against the lookup. An empty expression is true.
func Evaluate(expr string, lookup Lookup) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	for _, clause := range strings.Split(expr, "&&") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		ok, err := evalClause(clause, lookup)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Check parses expr without evaluating it, for validation-time syntax lint.
func Check(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	for _, clause := range strings.Split(expr, "&&") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		op, l, r := splitClause(clause)
		if op != "" && (l == "" || r == "") {
			return fmt.Errorf("invalid clause: %q", clause)
		}
	}
	return nil
}

func evalClause(clause string, lookup Lookup) (bool, error) {
	op, left, right := splitClause(clause)
	if op == "" {
		// Bare operand: truthy check.
		v := resolveOperand(clause, lookup)
		s := strings.ToLower(strings.TrimSpace(stringify(v)))
		switch s {
		case "", "false", "0", "no":
			return false, nil
		default:
			return true, nil
		}
	}
	if left == "" || right == "" {
		return false, fmt.Errorf("invalid clause: %q", clause)
	}
	eq := compareOperands(resolveOperand(left, lookup), resolveOperand(right, lookup))
	if op == "!=" {
		return !eq, nil
	}
	return eq, nil
}

// splitClause returns the operator ("==", "!=", "=", or "" for a bare
// operand) and both trimmed sides. "==" is checked before "=" so the longer
// operator wins.
func splitClause(clause string) (op, left, right string) {
	for _, candidate := range []string{"==", "!=", "="} {
		if i := strings.Index(clause, candidate); i >= 0 {
			return candidate,
				strings.TrimSpace(clause[:i]),
				strings.TrimSpace(clause[i+len(candidate):])
		}
	}
	return "", strings.TrimSpace(clause), ""
}

func resolveOperand(operand string, lookup Lookup) any {
	operand = strings.TrimSpace(operand)
	if operand == "" {
		return ""
	}
	// Quoted string literal.
	if len(operand) >= 2 {
		if (operand[0] == '"' && operand[len(operand)-1] == '"') ||
			(operand[0] == '\'' && operand[len(operand)-1] == '\'') {
			return operand[1 : len(operand)-1]
		}
	}
	switch strings.ToLower(operand) {
	case "true":
		return true
	case "false":
		return false
	case "null", "nil":
		return ""
	}
	if n, err := strconv.ParseFloat(operand, 64); err == nil && !isLookupKey(operand) {
		return n
	}
	if lookup != nil {
		if v, ok := lookup(operand); ok {
			return v
		}
	}
	if isLookupKey(operand) {
		// Missing keys resolve to empty string (fail closed).
		return ""
	}
	return operand
}

// isLookupKey reports whether the operand names context state rather than a
// literal: references always do, and so does anything starting with a letter
// or underscore.
func isLookupKey(operand string) bool {
	if operand == "" {
		return false
	}
	if _, ok := flow.ParseRef(operand); ok {
		return true
	}
	c := operand[0]
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func compareOperands(a, b any) bool {
	an, aok := asNumber(a)
	bn, bok := asNumber(b)
	if aok && bok {
		return an == bn
	}
	return stringify(a) == stringify(b)
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		n, err := t.Float64()
		return n, err == nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
