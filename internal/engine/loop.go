package engine

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/rendis/chatflow/internal/expressions"
	"github.com/rendis/chatflow/internal/graph"
	"github.com/rendis/chatflow/internal/logging"
	"github.com/rendis/chatflow/pkg/schema"
)

// maxLoopIterations bounds consecutive automatic transitions between pauses.
// A graph cycle with no interactive node in it hits this guard.
const maxLoopIterations = 100

const loopGuardMessage = "Scenario loop limit exceeded"

// runFrom executes nodes starting at node until the walk pauses for input or
// terminates. Each iteration is one transition and persists one patch. Hard
// failures mark the session failed before returning the error.
func (m *SessionManager) runFrom(ctx context.Context, sc *graph.Scenario, state *schema.SessionState, node *schema.Node) error {
	for i := 0; ; i++ {
		if i >= m.maxIterations {
			m.executor.appendBot(state, node.ID, loopGuardMessage, nil)
			m.emit(ctx, state.SessionID, node.ID, schema.EventLoopGuardHit, nil)
			err := schema.NewError(schema.ErrCodeLoopGuard, loopGuardMessage).WithNode(node.ID)
			return m.fail(ctx, state, err)
		}

		state.CurrentNodeID = node.ID
		nodeCtx := logging.WithNodeID(ctx, node.ID)
		m.emit(nodeCtx, state.SessionID, node.ID, schema.EventNodeEntered, nil)

		class, err := Classify(sc, node)
		if err != nil {
			return m.fail(nodeCtx, state, err)
		}

		res, err := m.executor.Execute(nodeCtx, sc, state, node)
		if err != nil {
			m.emit(nodeCtx, state.SessionID, node.ID, schema.EventNodeFailed, nil)
			return m.fail(nodeCtx, state, err)
		}
		m.emit(nodeCtx, state.SessionID, node.ID, schema.EventNodeExecuted, nil)
		switch node.Type {
		case schema.NodeTypeAPI:
			m.emit(nodeCtx, state.SessionID, node.ID, schema.EventAPICalled, nil)
			if res.CallErr != nil {
				m.emit(nodeCtx, state.SessionID, node.ID, schema.EventAPIFailed, errPayload(res.CallErr))
			}
		case schema.NodeTypeLLM:
			m.emit(nodeCtx, state.SessionID, node.ID, schema.EventLLMCalled, nil)
			if res.CallErr != nil {
				m.emit(nodeCtx, state.SessionID, node.ID, schema.EventLLMFailed, errPayload(res.CallErr))
			}
		}

		switch class {
		case NodeTerminal:
			return m.finish(nodeCtx, state)

		case NodeInteractive:
			state.AwaitingInput = true
			state.Status = schema.SessionStatusActive
			if err := m.fsm.Transition(nodeCtx, state.SessionID, schema.SessionStatusGenerating, schema.SessionStatusActive); err != nil {
				return err
			}
			return m.persist(nodeCtx, state)
		}

		// Automatic node: persist the transition, then wait if asked. The
		// loading flag rides this patch so the wait is observable; it is
		// cleared in memory and lands false in the next patch.
		if err := m.persist(nodeCtx, state); err != nil {
			return err
		}
		if res.Sleep > 0 {
			if err := m.clock.Sleep(nodeCtx, res.Sleep); err != nil {
				return m.fail(nodeCtx, state, schema.NewErrorf(schema.ErrCodeCancelled, "%s", err.Error()).WithNode(node.ID).WithCause(err))
			}
			state.Loading = false
		}

		next, err := m.resolver.Next(nodeCtx, sc, state, node, ResolveInput{Handle: res.Handle, LLMReply: res.LLMReply})
		if err != nil {
			return m.fail(nodeCtx, state, err)
		}
		if next == nil {
			return m.finish(nodeCtx, state)
		}
		m.emit(nodeCtx, state.SessionID, node.ID, schema.EventTransitionResolved, nil)
		node = next
	}
}

// finish terminates the walk. A taint left by an absorbed external-call
// failure turns the completion into a failure.
func (m *SessionManager) finish(ctx context.Context, state *schema.SessionState) error {
	status := schema.SessionStatusCompleted
	if truthySlot(state.Slots["apiFailed"]) {
		status = schema.SessionStatusFailed
	}
	return m.terminate(ctx, state, status)
}

// fail marks the session failed (best effort) and returns the original error.
func (m *SessionManager) fail(ctx context.Context, state *schema.SessionState, cause error) error {
	if err := m.terminate(ctx, state, schema.SessionStatusFailed); err != nil {
		m.logger.ErrorContext(ctx, "session failure could not be persisted", "error", err)
	}
	return cause
}

// terminate moves the session into a terminal status, clearing the walk
// position per the state invariant.
func (m *SessionManager) terminate(ctx context.Context, state *schema.SessionState, status schema.SessionStatus) error {
	if schema.TerminalStatuses[state.Status] {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"session %s already terminal (status=%s)", state.SessionID, state.Status)
	}
	if err := m.fsm.Transition(ctx, state.SessionID, state.Status, status); err != nil {
		return err
	}
	state.Status = status
	state.CurrentNodeID = ""
	state.AwaitingInput = false
	state.Loading = false
	return m.persist(ctx, state)
}

func truthySlot(v any) bool {
	return expressions.Truthy(v)
}

func errPayload(err error) []byte {
	p, _ := json.Marshal(map[string]string{"error": err.Error()})
	return p
}

func positionalHandle(i int) string {
	return strconv.Itoa(i)
}
