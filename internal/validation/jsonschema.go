package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/chatflow/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// scenarioSchemaJSON is the JSON Schema for ScenarioDefinition validation.
// Embedded as a constant to avoid filesystem dependencies.
const scenarioSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://chatflow.dev/schemas/scenario.json",
  "type": "object",
  "required": ["id", "startNodeId", "nodes", "edges"],
  "properties": {
    "id": {
      "type": "string",
      "minLength": 1
    },
    "name": { "type": "string" },
    "startNodeId": {
      "type": "string",
      "minLength": 1
    },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    },
    "metadata": {
      "type": "object"
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "type": {
          "type": "string",
          "enum": ["message", "branch", "slotfilling", "form", "setSlot", "delay", "api", "llm", "end"]
        },
        "data": {}
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["id", "source", "target"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "source": {
          "type": "string",
          "minLength": 1
        },
        "target": {
          "type": "string",
          "minLength": 1
        },
        "sourceHandle": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates scenario definitions against the embedded
// JSON Schema Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	scenarioSchema *jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the scenario
// schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(scenarioSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal scenario schema: %w", err)
	}
	if err := c.AddResource("https://chatflow.dev/schemas/scenario.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add scenario schema resource: %w", err)
	}

	compiled, err := c.Compile("https://chatflow.dev/schemas/scenario.json")
	if err != nil {
		return nil, fmt.Errorf("compile scenario schema: %w", err)
	}

	return &JSONSchemaValidator{scenarioSchema: compiled}, nil
}

// ValidateDefinition validates a ScenarioDefinition against the scenario JSON Schema.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.ScenarioDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeDefinition, "scenario definition is nil")
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeDefinition, "failed to serialize scenario definition").WithCause(err)
	}

	if err := v.scenarioSchema.Validate(doc); err != nil {
		return toFlowError(err)
	}

	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFlowError converts a jsonschema.ValidationError into a FlowError with
// instance locations preserved for actionable messages.
func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeDefinition, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeDefinition, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeDefinition, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("scenario schema validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeDefinition, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
