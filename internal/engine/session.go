package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/rendis/chatflow/internal/expressions"
	"github.com/rendis/chatflow/internal/graph"
	"github.com/rendis/chatflow/internal/logging"
	"github.com/rendis/chatflow/internal/store"
	"github.com/rendis/chatflow/internal/streaming"
	"github.com/rendis/chatflow/pkg/schema"
)

// SessionManager owns session lifecycles: it starts walks, feeds user input
// back into them, and drives the auto-advance loop between pauses. Each
// transition persists exactly one patch.
type SessionManager struct {
	graphs   *graph.Store
	store    store.Store
	fsm      *SessionFSM
	resolver *Resolver
	executor *Executor
	inputs   *expressions.InputValidator
	clock    Clock
	logger   *slog.Logger
	hub      streaming.EventHub

	maxIterations int
}

// SessionManagerOption customizes a SessionManager.
type SessionManagerOption func(*SessionManager)

// WithMaxIterations overrides the auto-advance loop guard threshold.
func WithMaxIterations(n int) SessionManagerOption {
	return func(m *SessionManager) {
		if n > 0 {
			m.maxIterations = n
		}
	}
}

// WithEventHub streams engine events to live subscribers in addition to the
// persisted log.
func WithEventHub(hub streaming.EventHub) SessionManagerOption {
	return func(m *SessionManager) {
		m.hub = hub
	}
}

// NewSessionManager wires the engine together.
func NewSessionManager(graphs *graph.Store, st store.Store, fsm *SessionFSM, resolver *Resolver, executor *Executor, inputs *expressions.InputValidator, clock Clock, logger *slog.Logger, opts ...SessionManagerOption) *SessionManager {
	m := &SessionManager{
		graphs:        graphs,
		store:         st,
		fsm:           fsm,
		resolver:      resolver,
		executor:      executor,
		inputs:        inputs,
		clock:         clock,
		logger:        logger,
		maxIterations: maxLoopIterations,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartSession creates a session on a registered scenario, seeds the slots,
// and walks from the start node until the first pause or terminal state. A
// failure before the first pause deletes the half-created session.
func (m *SessionManager) StartSession(ctx context.Context, scenarioID string, initialSlots map[string]any) (*schema.SessionState, error) {
	sc, err := m.graphs.Get(scenarioID)
	if err != nil {
		return nil, err
	}
	start := sc.StartNode()
	if start == nil {
		return nil, schema.NewErrorf(schema.ErrCodeDefinition,
			"scenario %q start node %q not found", scenarioID, sc.Definition.StartNodeID)
	}

	slots := make(map[string]any, len(initialSlots))
	for k, v := range initialSlots {
		slots[k] = v
	}

	now := m.clock.Now()
	state := &schema.SessionState{
		SessionID:     uuid.NewString(),
		ScenarioID:    scenarioID,
		CurrentNodeID: start.ID,
		Slots:         slots,
		Status:        schema.SessionStatusGenerating,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	ctx = logging.WithIDs(ctx, state.SessionID, scenarioID, "")

	if err := m.store.CreateSession(ctx, store.FromState(state)); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create session: %s", err.Error()).WithCause(err)
	}
	m.emit(ctx, state.SessionID, start.ID, schema.EventSessionCreated, nil)

	if err := m.runFrom(ctx, sc, state, start); err != nil {
		if delErr := m.store.DeleteSession(ctx, state.SessionID); delErr != nil {
			m.logger.ErrorContext(ctx, "cleanup of failed session creation", "error", delErr)
		}
		return nil, err
	}
	return state, nil
}

// GetSession returns the persisted state of a session.
func (m *SessionManager) GetSession(ctx context.Context, sessionID string) (*schema.SessionState, error) {
	rec, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return rec.ToState(), nil
}

// Respond feeds user input into an awaiting session and resumes the walk.
// A validation rejection re-prompts: the rejection message is transcribed,
// the session stays active and awaiting, and no advancement happens.
func (m *SessionManager) Respond(ctx context.Context, sessionID string, input schema.UserInput) (*schema.SessionState, error) {
	rec, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	state := rec.ToState()
	ctx = logging.WithIDs(ctx, state.SessionID, state.ScenarioID, "")

	if state.Status != schema.SessionStatusActive || !state.AwaitingInput {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"session %s is not awaiting input (status=%s)", sessionID, state.Status)
	}

	sc, err := m.graphs.Get(state.ScenarioID)
	if err != nil {
		return nil, err
	}
	node, ok := sc.NodeByID(state.CurrentNodeID)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeDefinition,
			"session %s references unknown node %q", sessionID, state.CurrentNodeID)
	}
	ctx = logging.WithNodeID(ctx, node.ID)

	m.attachSelection(state, input)
	m.appendUser(state, node.ID, input)
	m.emit(ctx, state.SessionID, node.ID, schema.EventInputReceived, nil)

	if err := m.applyInput(ctx, sc, state, node, input); err != nil {
		var ferr *schema.FlowError
		if errors.As(err, &ferr) && ferr.Code == schema.ErrCodeValidation {
			// Re-prompt: transcribe the rejection and keep waiting.
			m.executor.appendBot(state, node.ID, ferr.Message, nil)
			m.emit(ctx, state.SessionID, node.ID, schema.EventInputRejected, nil)
			if perr := m.persist(ctx, state); perr != nil {
				return nil, perr
			}
			return state, nil
		}
		return nil, err
	}

	// The input transition: user message, filled slots, and the switch to
	// generating land in a single patch.
	if err := m.fsm.Transition(ctx, state.SessionID, state.Status, schema.SessionStatusGenerating); err != nil {
		return nil, err
	}
	state.Status = schema.SessionStatusGenerating
	state.AwaitingInput = false
	if err := m.persist(ctx, state); err != nil {
		return nil, err
	}

	next, err := m.resolver.Next(ctx, sc, state, node, ResolveInput{Handle: input.Handle, UserText: input.Text})
	if err != nil {
		return state, m.fail(ctx, state, err)
	}
	if next == nil {
		return state, m.finish(ctx, state)
	}
	if err := m.runFrom(ctx, sc, state, next); err != nil {
		return state, err
	}
	return state, nil
}

// CancelSession moves a non-terminal session to canceled.
func (m *SessionManager) CancelSession(ctx context.Context, sessionID string) (*schema.SessionState, error) {
	rec, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	state := rec.ToState()
	ctx = logging.WithIDs(ctx, state.SessionID, state.ScenarioID, "")

	if err := m.terminate(ctx, state, schema.SessionStatusCanceled); err != nil {
		return nil, err
	}
	return state, nil
}

// DeleteSession removes a session and its event log.
func (m *SessionManager) DeleteSession(ctx context.Context, sessionID string) error {
	m.emit(ctx, sessionID, "", schema.EventSessionDeleted, nil)
	return m.store.DeleteSession(ctx, sessionID)
}

// applyInput validates the user's answer against the awaiting node and fills
// the corresponding slots. Validation failures return ErrCodeValidation.
func (m *SessionManager) applyInput(ctx context.Context, sc *graph.Scenario, state *schema.SessionState, node *schema.Node, input schema.UserInput) error {
	switch node.Type {
	case schema.NodeTypeSlotFilling:
		data, err := node.SlotFillingData()
		if err != nil {
			return err
		}
		if err := m.inputs.Validate(ctx, input.Text, data.Required, data.Validation, state.Slots); err != nil {
			return err
		}
		mergeSlots(state, map[string]any{data.Slot: input.Text})
		m.emit(ctx, state.SessionID, node.ID, schema.EventSlotSet, nil)
		return nil

	case schema.NodeTypeForm:
		data, err := node.FormData()
		if err != nil {
			return err
		}
		updates := make(map[string]any, len(data.Fields))
		for _, field := range data.Fields {
			value := input.Values[field.Slot]
			if err := m.inputs.Validate(ctx, value, field.Required, field.Validation, state.Slots); err != nil {
				return err
			}
			updates[field.Slot] = value
		}
		mergeSlots(state, updates)
		m.emit(ctx, state.SessionID, node.ID, schema.EventSlotSet, nil)
		return nil

	default:
		// Button choices carry no slot writes; the handle routes the edge.
		return nil
	}
}

// attachSelection marks the chosen button on the bot message that offered it.
func (m *SessionManager) attachSelection(state *schema.SessionState, input schema.UserInput) {
	if input.Handle == "" {
		return
	}
	for i := len(state.Messages) - 1; i >= 0; i-- {
		msg := &state.Messages[i]
		if msg.Role != schema.RoleBot || len(msg.Replies) == 0 {
			continue
		}
		label := input.Label
		if label == "" {
			label = replyLabel(msg.Replies, input.Handle)
		}
		msg.SelectedOption = label
		return
	}
}

func replyLabel(replies []schema.Reply, handle string) string {
	for i, r := range replies {
		if r.Value == handle || positionalHandle(i) == handle {
			return r.Label
		}
	}
	return handle
}

func (m *SessionManager) appendUser(state *schema.SessionState, nodeID string, input schema.UserInput) {
	text := input.Text
	if text == "" {
		text = input.Label
	}
	if text == "" && len(input.Values) > 0 {
		parts := make([]string, 0, len(input.Values))
		for _, v := range input.Values {
			parts = append(parts, v)
		}
		sort.Strings(parts)
		text = strings.Join(parts, ", ")
	}
	state.Messages = append(state.Messages, schema.Message{
		ID:        uuid.NewString(),
		Role:      schema.RoleUser,
		Text:      text,
		NodeID:    nodeID,
		CreatedAt: m.clock.Now(),
	})
}

// persist writes the session state as a single patch. One call per
// transition.
func (m *SessionManager) persist(ctx context.Context, state *schema.SessionState) error {
	nodeID := state.CurrentNodeID
	status := state.Status
	awaiting := state.AwaitingInput
	loading := state.Loading
	err := m.store.PatchSession(ctx, state.SessionID, store.SessionPatch{
		CurrentNodeID: &nodeID,
		Status:        &status,
		AwaitingInput: &awaiting,
		Loading:       &loading,
		Slots:         state.Slots,
		Messages:      state.Messages,
	})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "patch session: %s", err.Error()).WithCause(err)
	}
	return nil
}

func (m *SessionManager) emit(ctx context.Context, sessionID, nodeID, eventType string, payload []byte) {
	event := &store.Event{
		SessionID: sessionID,
		NodeID:    nodeID,
		Type:      eventType,
		Payload:   payload,
	}
	if err := m.store.AppendEvent(ctx, event); err != nil {
		m.logger.WarnContext(ctx, "event append failed", "event_type", eventType, "error", err)
	}
	if m.hub != nil {
		_ = m.hub.Publish(ctx, streaming.StreamEvent{
			SessionID: sessionID,
			NodeID:    nodeID,
			EventType: eventType,
		})
	}
}
