package store

import (
	"context"
	"time"
)

// Store defines the persistence layer contract. The engine calls PatchSession
// exactly once per transition; patches are partial and last-write-wins, so
// replaying one is idempotent.
// All implementations must be safe for concurrent use.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, sess *SessionRecord) error
	GetSession(ctx context.Context, id string) (*SessionRecord, error)
	PatchSession(ctx context.Context, id string, patch SessionPatch) error
	ListSessions(ctx context.Context, filter SessionFilter) ([]*SessionRecord, error)
	DeleteSession(ctx context.Context, id string) error

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, sessionID string, since int64) ([]*Event, error)

	// Scenario definitions (registry survives restarts)
	PutScenario(ctx context.Context, rec *ScenarioRecord) error
	GetScenario(ctx context.Context, id string) (*ScenarioRecord, error)
	ListScenarios(ctx context.Context) ([]*ScenarioRecord, error)
	DeleteScenario(ctx context.Context, id string) error

	// Secrets (ciphertext only; encryption happens in the vault layer)
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	// Maintenance
	DeleteTerminalSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
