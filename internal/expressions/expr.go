package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rendis/chatflow/pkg/schema"
)

// ExprEngine runs the custom validation rules of slotfilling and form nodes
// with expr-lang/expr. A rule sees the candidate value and the current slots
// as top-level variables and must produce a boolean.
type ExprEngine struct {
	cache *programCache[*vm.Program]
}

func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: newProgramCache[*vm.Program]()}
}

func (e *ExprEngine) Name() string { return "expr" }

// Evaluate injects the data map as the expression environment, making its
// keys available as top-level variables. Rules are compiled with undefined
// variables allowed so the same rule text serves nodes with different slot
// sets.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeDefinition, "empty expr expression")
	}
	env := data
	if env == nil {
		env = map[string]any{}
	}
	prg, err := e.cache.load(expression, func(source string) (*vm.Program, error) {
		p, err := expr.Compile(source, expr.Env(env), expr.AllowUndefinedVariables())
		if err != nil {
			return nil, exprError("compile", "expr", source, err)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, exprError("evaluation", "expr", expression, err)
	}
	return out, nil
}

var _ Engine = (*ExprEngine)(nil)
