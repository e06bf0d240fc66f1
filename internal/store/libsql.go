package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/chatflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Sessions ---

func (s *LibSQLStore) CreateSession(ctx context.Context, sess *SessionRecord) error {
	slots, err := marshalMapOrDefault(sess.Slots)
	if err != nil {
		return fmt.Errorf("marshal slots: %w", err)
	}
	messages, err := marshalMessages(sess.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, scenario_id, current_node_id, status, awaiting_input, loading, slots, messages, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ScenarioID, sess.CurrentNodeID, string(sess.Status),
		boolInt(sess.AwaitingInput), boolInt(sess.Loading),
		string(slots), string(messages),
		timeOrNow(sess.CreatedAt), timeOrNow(sess.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	rec := &SessionRecord{}
	var (
		status               string
		awaiting, loading    int
		slotsJSON, msgsJSON  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, scenario_id, current_node_id, status, awaiting_input, loading, slots, messages, created_at, updated_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.ScenarioID, &rec.CurrentNodeID, &status, &awaiting, &loading,
		&slotsJSON, &msgsJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("session", id)
	}
	if err != nil {
		return nil, err
	}
	rec.Status = schema.SessionStatus(status)
	rec.AwaitingInput = awaiting != 0
	rec.Loading = loading != 0
	if err := json.Unmarshal([]byte(slotsJSON), &rec.Slots); err != nil {
		return nil, fmt.Errorf("unmarshal slots: %w", err)
	}
	if err := json.Unmarshal([]byte(msgsJSON), &rec.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	return rec, nil
}

func (s *LibSQLStore) PatchSession(ctx context.Context, id string, patch SessionPatch) error {
	var sets []string
	var args []any

	if patch.CurrentNodeID != nil {
		sets = append(sets, "current_node_id = ?")
		args = append(args, *patch.CurrentNodeID)
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.AwaitingInput != nil {
		sets = append(sets, "awaiting_input = ?")
		args = append(args, boolInt(*patch.AwaitingInput))
	}
	if patch.Loading != nil {
		sets = append(sets, "loading = ?")
		args = append(args, boolInt(*patch.Loading))
	}
	if patch.Slots != nil {
		slots, err := marshalMapOrDefault(patch.Slots)
		if err != nil {
			return fmt.Errorf("marshal slots: %w", err)
		}
		sets = append(sets, "slots = ?")
		args = append(args, string(slots))
	}
	if patch.Messages != nil {
		messages, err := marshalMessages(patch.Messages)
		if err != nil {
			return fmt.Errorf("marshal messages: %w", err)
		}
		sets = append(sets, "messages = ?")
		args = append(args, string(messages))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE sessions SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "session", id)
}

func (s *LibSQLStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*SessionRecord, error) {
	var where []string
	var args []any

	if filter.ScenarioID != "" {
		where = append(where, "scenario_id = ?")
		args = append(args, filter.ScenarioID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "updated_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, scenario_id, current_node_id, status, awaiting_input, loading, slots, messages, created_at, updated_at FROM sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*SessionRecord
	for rows.Next() {
		rec := &SessionRecord{}
		var (
			status              string
			awaiting, loading   int
			slotsJSON, msgsJSON string
		)
		if err := rows.Scan(&rec.ID, &rec.ScenarioID, &rec.CurrentNodeID, &status, &awaiting, &loading,
			&slotsJSON, &msgsJSON, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Status = schema.SessionStatus(status)
		rec.AwaitingInput = awaiting != 0
		rec.Loading = loading != 0
		if err := json.Unmarshal([]byte(slotsJSON), &rec.Slots); err != nil {
			return nil, fmt.Errorf("unmarshal slots: %w", err)
		}
		if err := json.Unmarshal([]byte(msgsJSON), &rec.Messages); err != nil {
			return nil, fmt.Errorf("unmarshal messages: %w", err)
		}
		sessions = append(sessions, rec)
	}
	return sessions, rows.Err()
}

func (s *LibSQLStore) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE session_id = ?`, id); err != nil {
		return err
	}
	return checkRowsAffected(res, "session", id)
}

// DeleteTerminalSessionsBefore removes completed, failed and canceled
// sessions last touched before the cutoff, with their events.
func (s *LibSQLStore) DeleteTerminalSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE session_id IN
		 (SELECT id FROM sessions WHERE status IN ('completed','failed','canceled') AND updated_at < ?)`,
		cutoff); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE status IN ('completed','failed','canceled') AND updated_at < ?`,
		cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Events ---

func (s *LibSQLStore) GetEvents(ctx context.Context, sessionID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, node_id, event_type, payload, timestamp, sequence
		 FROM events WHERE session_id = ? AND sequence > ? ORDER BY sequence ASC`,
		sessionID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var nodeID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &nodeID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.NodeID = nodeID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Scenarios ---

func (s *LibSQLStore) PutScenario(ctx context.Context, rec *ScenarioRecord) error {
	def, err := json.Marshal(rec.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scenarios (id, name, definition, created_at, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, definition=excluded.definition, updated_at=CURRENT_TIMESTAMP`,
		rec.ID, nullStr(rec.Name), string(def), timeOrNow(rec.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetScenario(ctx context.Context, id string) (*ScenarioRecord, error) {
	rec := &ScenarioRecord{}
	var name sql.NullString
	var defJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, definition, created_at, updated_at FROM scenarios WHERE id = ?`, id,
	).Scan(&rec.ID, &name, &defJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scenario", id)
	}
	if err != nil {
		return nil, err
	}
	rec.Name = name.String
	if err := json.Unmarshal([]byte(defJSON), &rec.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return rec, nil
}

func (s *LibSQLStore) ListScenarios(ctx context.Context) ([]*ScenarioRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, definition, created_at, updated_at FROM scenarios ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*ScenarioRecord
	for rows.Next() {
		rec := &ScenarioRecord{}
		var name sql.NullString
		var defJSON string
		if err := rows.Scan(&rec.ID, &name, &defJSON, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Name = name.String
		if err := json.Unmarshal([]byte(defJSON), &rec.Definition); err != nil {
			return nil, fmt.Errorf("unmarshal definition: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *LibSQLStore) DeleteScenario(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scenarios WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scenario", id)
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

func marshalMessages(msgs []schema.Message) (json.RawMessage, error) {
	if len(msgs) == 0 {
		return json.RawMessage("[]"), nil
	}
	return json.Marshal(msgs)
}
