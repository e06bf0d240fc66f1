package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/chatflow/pkg/schema"
)

// SessionRecord is the persisted representation of a session.
type SessionRecord struct {
	ID            string               `json:"id"`
	ScenarioID    string               `json:"scenario_id"`
	CurrentNodeID string               `json:"current_node_id"`
	Status        schema.SessionStatus `json:"status"`
	AwaitingInput bool                 `json:"awaiting_input"`
	Loading       bool                 `json:"loading"`
	Slots         map[string]any       `json:"slots"`
	Messages      []schema.Message     `json:"messages"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// SessionPatch specifies mutable fields of a session. nil pointers leave the
// column untouched; Slots and Messages replace the whole value when set.
type SessionPatch struct {
	CurrentNodeID *string               `json:"current_node_id,omitempty"`
	Status        *schema.SessionStatus `json:"status,omitempty"`
	AwaitingInput *bool                 `json:"awaiting_input,omitempty"`
	Loading       *bool                 `json:"loading,omitempty"`
	Slots         map[string]any        `json:"slots,omitempty"`
	Messages      []schema.Message      `json:"messages,omitempty"`
}

// SessionFilter specifies criteria for listing sessions.
type SessionFilter struct {
	ScenarioID string                `json:"scenario_id,omitempty"`
	Status     *schema.SessionStatus `json:"status,omitempty"`
	Since      *time.Time            `json:"since,omitempty"`
	Limit      int                   `json:"limit,omitempty"`
	Offset     int                   `json:"offset,omitempty"`
}

// Event is an immutable entry in the session event log.
type Event struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	NodeID    string          `json:"node_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// ScenarioRecord is the persisted representation of a scenario definition.
type ScenarioRecord struct {
	ID         string                     `json:"id"`
	Name       string                     `json:"name,omitempty"`
	Definition *schema.ScenarioDefinition `json:"definition"`
	CreatedAt  time.Time                  `json:"created_at"`
	UpdatedAt  time.Time                  `json:"updated_at"`
}

// FromState converts engine session state into the persisted record shape.
func FromState(st *schema.SessionState) *SessionRecord {
	return &SessionRecord{
		ID:            st.SessionID,
		ScenarioID:    st.ScenarioID,
		CurrentNodeID: st.CurrentNodeID,
		Status:        st.Status,
		AwaitingInput: st.AwaitingInput,
		Loading:       st.Loading,
		Slots:         st.Slots,
		Messages:      st.Messages,
		CreatedAt:     st.CreatedAt,
		UpdatedAt:     st.UpdatedAt,
	}
}

// ToState converts a persisted record back into engine session state.
func (r *SessionRecord) ToState() *schema.SessionState {
	return &schema.SessionState{
		SessionID:     r.ID,
		ScenarioID:    r.ScenarioID,
		CurrentNodeID: r.CurrentNodeID,
		Status:        r.Status,
		AwaitingInput: r.AwaitingInput,
		Loading:       r.Loading,
		Slots:         r.Slots,
		Messages:      r.Messages,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}
