package schema

import "time"

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "active"
	SessionStatusGenerating SessionStatus = "generating"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
	SessionStatusCanceled   SessionStatus = "canceled"
)

// TerminalStatuses are the states a session can never leave.
var TerminalStatuses = map[SessionStatus]bool{
	SessionStatusCompleted: true,
	SessionStatusFailed:    true,
	SessionStatusCanceled:  true,
}

// SessionState is the full state of one conversation walk through a scenario.
type SessionState struct {
	SessionID     string         `json:"sessionId"`
	ScenarioID    string         `json:"scenarioId"`
	CurrentNodeID string         `json:"currentNodeId"`
	Slots         map[string]any `json:"slots"`
	Status        SessionStatus  `json:"status"`
	Messages      []Message      `json:"messages"`
	AwaitingInput bool           `json:"awaitingInput"`
	Loading       bool           `json:"loading,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// MessageRole distinguishes transcript entries.
type MessageRole string

const (
	RoleBot  MessageRole = "bot"
	RoleUser MessageRole = "user"
)

// Message is one transcript entry. SelectedOption records the button label
// the user chose on a reply message, attached after the fact.
type Message struct {
	ID             string      `json:"id"`
	Role           MessageRole `json:"role"`
	Text           string      `json:"text"`
	NodeID         string      `json:"nodeId,omitempty"`
	Replies        []Reply     `json:"replies,omitempty"`
	SelectedOption string      `json:"selectedOption,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// UserInput is what the user sends to an awaiting session. Exactly one of
// Text, Handle, or Values is meaningful depending on the awaiting node:
// free text for slotfilling, a button handle for reply/branch choices,
// field values for forms. Label carries the chosen button's display text.
type UserInput struct {
	Text   string            `json:"text,omitempty"`
	Handle string            `json:"handle,omitempty"`
	Label  string            `json:"label,omitempty"`
	Values map[string]string `json:"values,omitempty"`
}
