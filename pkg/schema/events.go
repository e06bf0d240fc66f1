package schema

// Event type constants for the session event log.
const (
	EventSessionCreated   = "session_created"
	EventSessionCompleted = "session_completed"
	EventSessionFailed    = "session_failed"
	EventSessionCanceled  = "session_canceled"
	EventSessionDeleted   = "session_deleted"
	EventStatusChanged    = "status_changed"

	EventNodeEntered  = "node_entered"
	EventNodeExecuted = "node_executed"
	EventNodeFailed   = "node_failed"

	EventTransitionResolved = "transition_resolved"
	EventInputReceived      = "input_received"
	EventInputRejected      = "input_rejected"
	EventSlotSet            = "slot_set"

	EventAPICalled    = "api_called"
	EventAPIFailed    = "api_failed"
	EventLLMCalled    = "llm_called"
	EventLLMFailed    = "llm_failed"
	EventLoopGuardHit = "loop_guard_hit"
)
