package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/rendis/chatflow/pkg/schema"
)

// celVariables are the top-level names EXPRESSION branch conditions can
// reference: session slot values, the last user input (text, handle, label)
// and session metadata (sessionId, scenarioId).
var celVariables = []string{"slots", "input", "session"}

// CELEngine evaluates EXPRESSION branch nodes with Google's Common
// Expression Language. The result routes the transition, so expressions
// usually produce a handle string or a boolean.
type CELEngine struct {
	env   *cel.Env
	cache *programCache[cel.Program]
}

// NewCELEngine builds a sandboxed environment exposing each variable in
// celVariables as map(string, dyn).
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)
	opts := make([]cel.EnvOption, 0, len(celVariables))
	for _, name := range celVariables {
		opts = append(opts, cel.Variable(name, mapType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{env: env, cache: newProgramCache[cel.Program]()}, nil
}

func (e *CELEngine) Name() string { return "cel" }

func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeDefinition, "empty CEL expression")
	}
	prg, err := e.cache.load(expression, e.compile)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.Eval(e.activation(data))
	if err != nil {
		return nil, exprError("evaluation", "CEL", expression, err)
	}
	return out.Value(), nil
}

func (e *CELEngine) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, exprError("compile", "CEL", expression, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, exprError("program build", "CEL", expression, err)
	}
	return prg, nil
}

// activation fills absent variables with empty maps so an expression over a
// variable the caller did not supply errors on the lookup, not on a nil map.
func (e *CELEngine) activation(data map[string]any) map[string]any {
	act := make(map[string]any, len(celVariables))
	for _, name := range celVariables {
		if v, ok := data[name]; ok && v != nil {
			act[name] = v
		} else {
			act[name] = map[string]any{}
		}
	}
	return act
}

var _ Engine = (*CELEngine)(nil)
