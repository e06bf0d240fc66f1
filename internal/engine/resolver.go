package engine

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/rendis/chatflow/internal/expressions"
	"github.com/rendis/chatflow/internal/graph"
	"github.com/rendis/chatflow/pkg/schema"
)

// handles the executor forces after external calls.
const (
	HandleOnSuccess = "onSuccess"
	HandleOnError   = "onError"
	handleDefault   = "default"
)

// Resolver decides which edge to follow after a node executes. Resolution
// returning a nil node with a nil error means the walk is complete: running
// out of edges is a completion signal, not an error.
type Resolver struct {
	cel    celEvaluator
	logger *slog.Logger
}

type celEvaluator interface {
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// NewResolver creates a Resolver. cel evaluates EXPRESSION branches.
func NewResolver(cel celEvaluator, logger *slog.Logger) *Resolver {
	return &Resolver{cel: cel, logger: logger}
}

// ResolveInput carries what the last turn produced, for routing decisions.
type ResolveInput struct {
	// Handle is an explicit edge handle: a button index, onSuccess/onError,
	// or whatever the executor forced.
	Handle string
	// LLMReply is the model text of an llm node, matched against keyword
	// conditions.
	LLMReply string
	// UserText is the raw user input of the turn, exposed to EXPRESSION
	// branches.
	UserText string
}

// Next resolves the node that follows the given one. The resolution order:
// llm keyword conditions, branch conditions in array order, a single edge
// followed unconditionally, an explicit handle with first-edge fallback,
// and finally the first edge.
func (r *Resolver) Next(ctx context.Context, sc *graph.Scenario, state *schema.SessionState, node *schema.Node, in ResolveInput) (*schema.Node, error) {
	edges := sc.OutgoingEdges(node.ID)
	if len(edges) == 0 {
		return nil, nil
	}

	// 1. llm nodes with keyword conditions route on the model reply.
	if node.Type == schema.NodeTypeLLM {
		data, err := node.LLMData()
		if err != nil {
			return nil, err
		}
		if len(data.Conditions) > 0 {
			reply := in.LLMReply
			if data.OutputVar != "" {
				if v, ok := state.Slots[data.OutputVar]; ok {
					reply = expressions.Stringify(v)
				}
			}
			if edge := matchKeywords(data.Conditions, reply, edges); edge != nil {
				return r.target(sc, node, edge)
			}
			if edge := edgeByHandle(edges, handleDefault); edge != nil {
				return r.target(sc, node, edge)
			}
		}
	}

	// 2. Condition branches evaluate their rows in array order.
	if node.Type == schema.NodeTypeBranch {
		data, err := node.BranchData()
		if err != nil {
			return nil, err
		}
		switch data.Kind {
		case schema.BranchConditionKind, schema.BranchSlotCondition:
			if edge := r.matchConditions(data.Conditions, state.Slots, edges); edge != nil {
				return r.target(sc, node, edge)
			}
			if edge := edgeByHandle(edges, handleDefault); edge != nil {
				return r.target(sc, node, edge)
			}
		case schema.BranchExpression:
			edge, err := r.matchExpression(ctx, data.Expression, state, in, edges)
			if err != nil {
				return nil, err
			}
			if edge != nil {
				return r.target(sc, node, edge)
			}
			if edge := edgeByHandle(edges, handleDefault); edge != nil {
				return r.target(sc, node, edge)
			}
		}
	}

	// 3. A single edge is followed unconditionally.
	if len(edges) == 1 {
		return r.target(sc, node, &edges[0])
	}

	// 4. Explicit handle; the first edge is the fallback when nothing matches.
	if in.Handle != "" {
		if edge := edgeByHandle(edges, in.Handle); edge != nil {
			return r.target(sc, node, edge)
		}
		r.logger.WarnContext(ctx, "no edge matches handle, falling back to first edge",
			"node_id", node.ID, "handle", in.Handle)
	}

	// 5. First edge.
	return r.target(sc, node, &edges[0])
}

func (r *Resolver) target(sc *graph.Scenario, from *schema.Node, edge *schema.Edge) (*schema.Node, error) {
	next, ok := sc.NodeByID(edge.Target)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeDefinition,
			"edge %q targets unknown node %q", edge.ID, edge.Target).WithNode(from.ID)
	}
	return next, nil
}

// matchConditions returns the edge of the first condition that holds.
// A condition without an explicit handle uses its array index.
func (r *Resolver) matchConditions(conditions []schema.BranchCondition, slots map[string]any, edges []schema.Edge) *schema.Edge {
	for i, cond := range conditions {
		if !expressions.EvaluateCondition(slots[cond.Slot], cond.Operator, cond.Value) {
			continue
		}
		handle := cond.Handle
		if handle == "" {
			handle = strconv.Itoa(i)
		}
		if edge := edgeByHandle(edges, handle); edge != nil {
			return edge
		}
	}
	return nil
}

// matchExpression evaluates a CEL expression and routes on its result:
// booleans use the "true"/"false" handles, strings name a handle directly.
func (r *Resolver) matchExpression(ctx context.Context, expression string, state *schema.SessionState, in ResolveInput, edges []schema.Edge) (*schema.Edge, error) {
	out, err := r.cel.Evaluate(ctx, expression, map[string]any{
		"slots": state.Slots,
		"input": map[string]any{"text": in.UserText, "handle": in.Handle},
		"session": map[string]any{
			"sessionId":  state.SessionID,
			"scenarioId": state.ScenarioID,
		},
	})
	if err != nil {
		return nil, err
	}

	switch v := out.(type) {
	case bool:
		return edgeByHandle(edges, strconv.FormatBool(v)), nil
	case string:
		return edgeByHandle(edges, v), nil
	default:
		r.logger.WarnContext(ctx, "expression branch produced non-routable value",
			"expression", expression)
		return nil, nil
	}
}

// matchKeywords returns the edge of the first keyword condition whose
// keywords appear in the reply. Matching is case-insensitive.
func matchKeywords(conditions []schema.KeywordCondition, reply string, edges []schema.Edge) *schema.Edge {
	lower := strings.ToLower(reply)
	for _, cond := range conditions {
		for _, kw := range cond.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(kw)) {
				if edge := edgeByHandle(edges, cond.Handle); edge != nil {
					return edge
				}
			}
		}
	}
	return nil
}

func edgeByHandle(edges []schema.Edge, handle string) *schema.Edge {
	for i := range edges {
		if edges[i].SourceHandle == handle {
			return &edges[i]
		}
	}
	return nil
}
