package engine

import (
	"context"
	"sync"

	"github.com/rendis/chatflow/internal/store"
	"github.com/rendis/chatflow/pkg/schema"
)

// TransitionHook is called before or after a status transition.
type TransitionHook func(from, to string) error

// EventAppender is satisfied by the Store; used by the FSM to emit events on
// transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

type hookKey struct {
	from, to schema.SessionStatus
}

// SessionFSM manages session lifecycle status transitions. Active and
// generating alternate while the walk proceeds; completed, failed and
// canceled are terminal.
type SessionFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[hookKey][]TransitionHook
	after    map[hookKey][]TransitionHook
}

// NewSessionFSM creates a SessionFSM that emits events via the given appender.
func NewSessionFSM(appender EventAppender) *SessionFSM {
	return &SessionFSM{
		appender: appender,
		before:   make(map[hookKey][]TransitionHook),
		after:    make(map[hookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a session transition.
func (f *SessionFSM) OnBefore(from, to schema.SessionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a session transition.
func (f *SessionFSM) OnAfter(from, to schema.SessionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a session status transition, emitting
// the corresponding event. The caller persists the new status to the store.
func (f *SessionFSM) Transition(ctx context.Context, sessionID string, from, to schema.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidSessionTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid session transition: %s -> %s", from, to).
			WithDetails(map[string]any{"session_id": sessionID, "from": string(from), "to": string(to)})
	}

	key := hookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	eventType := sessionEventType(to)
	if eventType != "" {
		event := &store.Event{
			SessionID: sessionID,
			Type:      eventType,
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit session event: %s", err.Error()).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	return nil
}

func isValidSessionTransition(from, to schema.SessionStatus) bool {
	allowed, ok := ValidSessionTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func sessionEventType(to schema.SessionStatus) string {
	switch to {
	case schema.SessionStatusGenerating, schema.SessionStatusActive:
		return schema.EventStatusChanged
	case schema.SessionStatusCompleted:
		return schema.EventSessionCompleted
	case schema.SessionStatusFailed:
		return schema.EventSessionFailed
	case schema.SessionStatusCanceled:
		return schema.EventSessionCanceled
	default:
		return ""
	}
}

// ValidSessionTransitions defines the allowed status transitions for sessions.
var ValidSessionTransitions = map[schema.SessionStatus][]schema.SessionStatus{
	schema.SessionStatusActive:     {schema.SessionStatusGenerating, schema.SessionStatusCompleted, schema.SessionStatusFailed, schema.SessionStatusCanceled},
	schema.SessionStatusGenerating: {schema.SessionStatusActive, schema.SessionStatusCompleted, schema.SessionStatusFailed, schema.SessionStatusCanceled},
	schema.SessionStatusCompleted:  {},
	schema.SessionStatusFailed:     {},
	schema.SessionStatusCanceled:   {},
}
