package flow

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// scriptSchema is the wire contract for FlowScript documents. The generation
// service and the graph renderer produce/consume exactly this shape.
const scriptSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "title", "nodes", "edges"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "title": {"type": "string"},
    "description": {"type": "string"},
    "assumptions": {"type": "array", "items": {"type": "string"}},
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "actor", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "label": {"type": "string"},
          "actor": {"enum": ["user", "app", "ai", "system"]},
          "type": {"enum": ["ui_action", "api_call", "decision", "analysis", "wait", "background"]},
          "tool": {"type": "string"},
          "inputs": {"type": "object"},
          "outputs": {"type": "object", "additionalProperties": {"type": "string"}},
          "pre": {"type": "object", "additionalProperties": {"type": "boolean"}},
          "post": {"type": "object", "additionalProperties": {"type": "boolean"}},
          "errors": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["code"],
              "properties": {
                "code": {"type": "string"},
                "explanation": {"type": "string"}
              }
            }
          },
          "position": {
            "type": "object",
            "required": ["x", "y"],
            "properties": {"x": {"type": "number"}, "y": {"type": "number"}}
          }
        }
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from", "to"],
        "properties": {
          "from": {"type": "string", "minLength": 1},
          "to": {"type": "string", "minLength": 1},
          "when": {"type": "string"},
          "label": {"type": "string"}
        }
      }
    },
    "testcases": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string"},
          "given": {"type": "object"},
          "expect": {"type": "object"}
        }
      }
    }
  }
}`

var compiledScriptSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("flowscript.schema.json", bytes.NewReader([]byte(scriptSchema))); err != nil {
		panic(fmt.Sprintf("flow: add schema resource: %v", err))
	}
	s, err := c.Compile("flowscript.schema.json")
	if err != nil {
		panic(fmt.Sprintf("flow: compile schema: %v", err))
	}
	return s
}

// ValidateDocument checks a raw FlowScript document against the wire schema.
// This is shape validation only; structural soundness (dangling edges,
// cycles) is the validate package's job.
func ValidateDocument(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("flowscript is not valid JSON: %w", err)
	}
	if err := compiledScriptSchema.Validate(doc); err != nil {
		return fmt.Errorf("flowscript schema: %w", err)
	}
	return nil
}
