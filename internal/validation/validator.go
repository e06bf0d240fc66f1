package validation

import "github.com/rendis/chatflow/pkg/schema"

// Validator checks scenario definitions for correctness before registration.
// Uses JSON Schema Draft 2020-12 for structural validation.
type Validator interface {
	ValidateDefinition(def *schema.ScenarioDefinition) error
}

// ScenarioValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (node refs, payload decoding, handle checks)
// 3. Graph (reachability from the start node)
type ScenarioValidator struct {
	jsonSchema *JSONSchemaValidator
}

// NewScenarioValidator creates a ScenarioValidator.
func NewScenarioValidator() (*ScenarioValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &ScenarioValidator{jsonSchema: jsv}, nil
}

// Validate runs the full 3-stage pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and graph stages are skipped.
func (sv *ScenarioValidator) Validate(def *schema.ScenarioDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeDefinition, "scenario definition is nil")
		return r
	}

	// Stage 1: Structural (JSON Schema).
	result := validateStructural(sv.jsonSchema, def)
	if !result.Valid() {
		return result
	}

	// Stage 2: Semantic.
	result.Merge(validateSemantic(def))

	// Stage 3: Graph (skip if semantic errors made the graph unsound).
	if result.Valid() {
		result.Merge(validateGraph(def))
	}

	return result
}

// ValidateDefinition satisfies the Validator interface.
func (sv *ScenarioValidator) ValidateDefinition(def *schema.ScenarioDefinition) error {
	return sv.Validate(def).ToError()
}

// validateStructural runs the JSON Schema stage and wraps the outcome.
func validateStructural(jsv *JSONSchemaValidator, def *schema.ScenarioDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err := jsv.ValidateDefinition(def); err != nil {
		if ferr, ok := err.(*schema.FlowError); ok {
			result.AddError("/", ferr.Code, ferr.Message)
		} else {
			result.AddError("/", schema.ErrCodeDefinition, err.Error())
		}
	}
	return result
}
