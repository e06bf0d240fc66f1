package expressions

import (
	"context"

	"github.com/itchyny/gojq"
	"github.com/rendis/chatflow/pkg/schema"
)

// GoJQEngine runs jq programs against api response bodies. Response mappings
// whose path starts with "." are full jq programs, for reshaping beyond what
// plain dot paths can express.
type GoJQEngine struct {
	cache *programCache[*gojq.Code]
}

func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{cache: newProgramCache[*gojq.Code]()}
}

func (e *GoJQEngine) Name() string { return "jq" }

// Evaluate runs the program with the data map as input. jq may produce
// several outputs: zero becomes nil, one is returned directly, more are
// collected into []any.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeDefinition, "empty jq expression")
	}
	code, err := e.cache.load(expression, compileJQ)
	if err != nil {
		return nil, err
	}

	var results []any
	iter := code.RunWithContext(ctx, normalizeForJQ(data))
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, exprError("evaluation", "jq", expression, err)
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func compileJQ(expression string) (*gojq.Code, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, exprError("parse", "jq", expression, err)
	}
	// Empty environ blocks $ENV and env from scenario-authored programs.
	code, err := gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, exprError("compile", "jq", expression, err)
	}
	return code, nil
}

// normalizeForJQ converts Go integer and float32 values to float64, the only
// number type jq works with.
func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = normalizeForJQ(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = normalizeForJQ(v)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

var _ Engine = (*GoJQEngine)(nil)
