package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rendis/chatflow/pkg/schema"
)

// AppendEvent appends an event with a monotonically increasing per-session
// sequence. Runs in a transaction so sequence reads and writes cannot
// interleave under concurrency.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Acquire the write lock up front. In WAL mode, BeginTx alone may start
	// a deferred transaction, so force lock acquisition with a write-intent
	// statement.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE session_id = ?`, event.SessionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (session_id, node_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.SessionID, nullStr(event.NodeID), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// NodeVisit is one entry of a session's replayed node trail.
type NodeVisit struct {
	NodeID    string    `json:"node_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ReplayTrail rebuilds the ordered node trail of a session from its event
// log. Returns an error if sequence gaps are detected.
func (s *LibSQLStore) ReplayTrail(ctx context.Context, sessionID string) ([]NodeVisit, error) {
	events, err := s.GetEvents(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	// Validate sequence contiguity.
	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in session %s: expected %d, got %d", sessionID, expected, e.Sequence)
		}
	}

	var trail []NodeVisit
	for _, e := range events {
		switch e.Type {
		case schema.EventNodeEntered, schema.EventNodeExecuted, schema.EventNodeFailed:
			trail = append(trail, NodeVisit{
				NodeID:    e.NodeID,
				EventType: e.Type,
				Timestamp: e.Timestamp,
			})
		}
	}
	return trail, nil
}
