package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/chatflow/internal/expressions"
	"github.com/rendis/chatflow/internal/graph"
	"github.com/rendis/chatflow/internal/llm"
	"github.com/rendis/chatflow/pkg/schema"
)

// NodeClass partitions nodes by how the walk treats them.
type NodeClass int

const (
	// NodeAuto executes and advances without user involvement.
	NodeAuto NodeClass = iota
	// NodeInteractive pauses the walk and awaits user input.
	NodeInteractive
	// NodeTerminal completes the session.
	NodeTerminal
)

// Classify determines how a node participates in the walk. An end node or
// any node with no outgoing edges is terminal; messages with replies, button
// branches, slotfilling and form nodes are interactive; everything else
// executes automatically.
func Classify(sc *graph.Scenario, node *schema.Node) (NodeClass, error) {
	if node.Type == schema.NodeTypeEnd || len(sc.OutgoingEdges(node.ID)) == 0 {
		return NodeTerminal, nil
	}

	switch node.Type {
	case schema.NodeTypeMessage:
		data, err := node.MessageData()
		if err != nil {
			return NodeAuto, err
		}
		if len(data.Replies) > 0 {
			return NodeInteractive, nil
		}
		return NodeAuto, nil

	case schema.NodeTypeBranch:
		data, err := node.BranchData()
		if err != nil {
			return NodeAuto, err
		}
		if data.Kind == schema.BranchButton || data.Kind == schema.BranchButtonClick {
			return NodeInteractive, nil
		}
		return NodeAuto, nil

	case schema.NodeTypeSlotFilling, schema.NodeTypeForm:
		return NodeInteractive, nil

	default:
		return NodeAuto, nil
	}
}

// ExecResult reports what executing a node produced. The executor mutates
// the in-memory state (slots, transcript); the manager persists it.
type ExecResult struct {
	// NeedsInput marks the session as awaiting user input.
	NeedsInput bool
	// Handle forces the transition handle (onSuccess/onError after
	// external calls).
	Handle string
	// LLMReply is the model text, matched against keyword conditions.
	LLMReply string
	// Sleep asks the manager to wait before resolving the transition. The
	// loading flag is already set on the state so the patch that precedes
	// the wait makes it visible.
	Sleep time.Duration
	// CallErr is the external-call failure that was absorbed by an onError
	// edge. Recorded for diagnostics; the session stays alive.
	CallErr error
}

// Executor runs a single node against the session state.
type Executor struct {
	interp     *expressions.Interpolator
	api        *APICaller
	collab     llm.Collaborator
	clock      Clock
	llmTimeout time.Duration
	logger     *slog.Logger
}

// NewExecutor creates an Executor. llmTimeout bounds each collaborator call.
func NewExecutor(interp *expressions.Interpolator, api *APICaller, collab llm.Collaborator, clock Clock, llmTimeout time.Duration, logger *slog.Logger) *Executor {
	if llmTimeout <= 0 {
		llmTimeout = 30 * time.Second
	}
	return &Executor{
		interp:     interp,
		api:        api,
		collab:     collab,
		clock:      clock,
		llmTimeout: llmTimeout,
		logger:     logger,
	}
}

// Execute runs one node. External-call failures return an error unless an
// onError edge absorbs them; everything else mutates state in memory.
func (e *Executor) Execute(ctx context.Context, sc *graph.Scenario, state *schema.SessionState, node *schema.Node) (*ExecResult, error) {
	switch node.Type {
	case schema.NodeTypeMessage:
		return e.execMessage(state, node)
	case schema.NodeTypeBranch:
		return e.execBranch(state, node)
	case schema.NodeTypeSlotFilling:
		return e.execSlotFilling(state, node)
	case schema.NodeTypeForm:
		return e.execForm(state, node)
	case schema.NodeTypeSetSlot:
		return e.execSetSlot(state, node)
	case schema.NodeTypeDelay:
		return e.execDelay(state, node)
	case schema.NodeTypeAPI:
		return e.execAPI(ctx, sc, state, node)
	case schema.NodeTypeLLM:
		return e.execLLM(ctx, sc, state, node)
	case schema.NodeTypeEnd:
		return e.execEnd(state, node)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeDefinition, "unknown node type %q", node.Type).WithNode(node.ID)
	}
}

func (e *Executor) execMessage(state *schema.SessionState, node *schema.Node) (*ExecResult, error) {
	data, err := node.MessageData()
	if err != nil {
		return nil, err
	}
	e.appendBot(state, node.ID, e.interp.Interpolate(data.Text, state.Slots), data.Replies)
	return &ExecResult{NeedsInput: len(data.Replies) > 0}, nil
}

func (e *Executor) execBranch(state *schema.SessionState, node *schema.Node) (*ExecResult, error) {
	data, err := node.BranchData()
	if err != nil {
		return nil, err
	}
	if data.Kind == schema.BranchButton || data.Kind == schema.BranchButtonClick {
		text := e.interp.Interpolate(data.Prompt, state.Slots)
		e.appendBot(state, node.ID, text, data.Buttons)
		return &ExecResult{NeedsInput: true}, nil
	}
	// Condition branches have no execution effect; routing happens at
	// resolution time.
	return &ExecResult{}, nil
}

func (e *Executor) execSlotFilling(state *schema.SessionState, node *schema.Node) (*ExecResult, error) {
	data, err := node.SlotFillingData()
	if err != nil {
		return nil, err
	}
	e.appendBot(state, node.ID, e.interp.Interpolate(data.Prompt, state.Slots), nil)
	return &ExecResult{NeedsInput: true}, nil
}

func (e *Executor) execForm(state *schema.SessionState, node *schema.Node) (*ExecResult, error) {
	data, err := node.FormData()
	if err != nil {
		return nil, err
	}
	prompt := data.Prompt
	if prompt == "" && len(data.Fields) > 0 {
		labels := make([]string, 0, len(data.Fields))
		for _, f := range data.Fields {
			labels = append(labels, f.Label)
		}
		prompt = strings.Join(labels, ", ")
	}
	e.appendBot(state, node.ID, e.interp.Interpolate(prompt, state.Slots), nil)
	return &ExecResult{NeedsInput: true}, nil
}

// execSetSlot applies the assignments against a copy of the slots map and
// swaps it in. A value written as "{{other}}" reads slot "other" from the
// state before this node's writes; indirection is single-level. setSlot
// nodes never append transcript messages.
func (e *Executor) execSetSlot(state *schema.SessionState, node *schema.Node) (*ExecResult, error) {
	data, err := node.SetSlotData()
	if err != nil {
		return nil, err
	}

	next := make(map[string]any, len(state.Slots)+len(data.Values))
	for k, v := range state.Slots {
		next[k] = v
	}
	for name, value := range data.Values {
		next[name] = resolveIndirection(value, state.Slots)
	}
	state.Slots = next
	return &ExecResult{}, nil
}

func resolveIndirection(value any, slots map[string]any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	if !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") {
		return value
	}
	name := strings.TrimSpace(s[2 : len(s)-2])
	if name == "" {
		return value
	}
	if v, ok := slots[name]; ok {
		return v
	}
	return value
}

func (e *Executor) execDelay(state *schema.SessionState, node *schema.Node) (*ExecResult, error) {
	data, err := node.DelayData()
	if err != nil {
		return nil, err
	}
	if data.Duration <= 0 {
		return &ExecResult{}, nil
	}
	state.Loading = true
	return &ExecResult{Sleep: time.Duration(data.Duration) * time.Millisecond}, nil
}

func (e *Executor) execAPI(ctx context.Context, sc *graph.Scenario, state *schema.SessionState, node *schema.Node) (*ExecResult, error) {
	data, err := node.APIData()
	if err != nil {
		return nil, err
	}

	updates, callErr := e.api.Call(ctx, data, state.Slots)
	mergeSlots(state, updates)

	if callErr != nil {
		return e.absorbCallFailure(ctx, sc, state, node, callErr)
	}
	return &ExecResult{Handle: HandleOnSuccess}, nil
}

func (e *Executor) execLLM(ctx context.Context, sc *graph.Scenario, state *schema.SessionState, node *schema.Node) (*ExecResult, error) {
	data, err := node.LLMData()
	if err != nil {
		return nil, err
	}
	if e.collab == nil {
		return e.absorbCallFailure(ctx, sc, state, node,
			schema.NewError(schema.ErrCodeExternalCall, "no llm collaborator configured"))
	}

	callCtx, cancel := context.WithTimeout(ctx, e.llmTimeout)
	defer cancel()

	reply, callErr := e.collab.Complete(callCtx, llm.Request{
		SystemPrompt: data.SystemPrompt,
		Prompt:       e.interp.Interpolate(data.Prompt, state.Slots),
		Transcript:   state.Messages,
		Slots:        state.Slots,
	})
	if callErr != nil {
		return e.absorbCallFailure(ctx, sc, state, node, callErr)
	}

	mergeSlots(state, reply.Slots)
	if data.OutputVar != "" {
		mergeSlots(state, map[string]any{data.OutputVar: reply.Text})
	}
	if reply.Text != "" {
		e.appendBot(state, node.ID, reply.Text, nil)
	}
	return &ExecResult{Handle: HandleOnSuccess, LLMReply: reply.Text}, nil
}

func (e *Executor) execEnd(state *schema.SessionState, node *schema.Node) (*ExecResult, error) {
	data, err := node.EndData()
	if err != nil {
		return nil, err
	}
	if data.Message != "" {
		e.appendBot(state, node.ID, e.interp.Interpolate(data.Message, state.Slots), nil)
	}
	return &ExecResult{}, nil
}

// absorbCallFailure records the failure in the slots and routes through the
// onError edge when the node has one. Without it the error propagates and
// the manager fails the session.
func (e *Executor) absorbCallFailure(ctx context.Context, sc *graph.Scenario, state *schema.SessionState, node *schema.Node, callErr error) (*ExecResult, error) {
	mergeSlots(state, map[string]any{
		"apiError":  callErr.Error(),
		"apiFailed": true,
	})

	e.logger.ErrorContext(ctx, "external call failed", "node_id", node.ID, "error", callErr)

	if edgeByHandle(sc.OutgoingEdges(node.ID), HandleOnError) != nil {
		return &ExecResult{Handle: HandleOnError, CallErr: callErr}, nil
	}
	if ferr, ok := callErr.(*schema.FlowError); ok {
		return nil, ferr.WithNode(node.ID)
	}
	return nil, schema.NewErrorf(schema.ErrCodeExternalCall, "%s", callErr.Error()).WithNode(node.ID).WithCause(callErr)
}

// mergeSlots writes updates into a fresh copy of the slots map.
func mergeSlots(state *schema.SessionState, updates map[string]any) {
	if len(updates) == 0 {
		return
	}
	next := make(map[string]any, len(state.Slots)+len(updates))
	for k, v := range state.Slots {
		next[k] = v
	}
	for k, v := range updates {
		next[k] = v
	}
	state.Slots = next
}

func (e *Executor) appendBot(state *schema.SessionState, nodeID, text string, replies []schema.Reply) {
	state.Messages = append(state.Messages, schema.Message{
		ID:        uuid.NewString(),
		Role:      schema.RoleBot,
		Text:      text,
		NodeID:    nodeID,
		Replies:   replies,
		CreatedAt: e.clock.Now(),
	})
}
