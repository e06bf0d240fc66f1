package expressions

import (
	"context"
	"sync"

	"github.com/rendis/chatflow/pkg/schema"
)

// Engine evaluates expressions referenced by scenario nodes.
// Three implementations: CEL (EXPRESSION branch routing), GoJQ (response
// mapping extraction), Expr (custom input validation rules).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// programCache memoizes compiled expressions keyed by source text. Scenario
// definitions reuse the same handful of expressions across every session, so
// each engine compiles a given expression once.
type programCache[T any] struct {
	mu sync.RWMutex
	m  map[string]T
}

func newProgramCache[T any]() *programCache[T] {
	return &programCache[T]{m: make(map[string]T)}
}

func (c *programCache[T]) load(source string, compile func(string) (T, error)) (T, error) {
	c.mu.RLock()
	prg, ok := c.m[source]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prg, ok := c.m[source]; ok {
		return prg, nil
	}
	prg, err := compile(source)
	if err != nil {
		var zero T
		return zero, err
	}
	c.m[source] = prg
	return prg, nil
}

func exprError(stage, engine, expression string, cause error) error {
	return schema.NewErrorf(schema.ErrCodeDefinition,
		"%s %s failed for %q: %s", engine, stage, expression, cause.Error()).
		WithCause(cause).
		WithDetails(map[string]any{"expression": expression})
}
