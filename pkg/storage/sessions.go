package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stackmesh/convoy/pkg/coordinator"
)

// Session is the persisted view of one coordination run.
type Session struct {
	ID         string
	Goal       string
	Info       map[string]any
	Outcome    string
	CreatedAt  time.Time
	FinishedAt *time.Time
}

// busy-write retry parameters. PRAGMA busy_timeout covers most contention;
// this loop covers the rare SQLITE_BUSY that still escapes it.
const (
	writeMaxRetries = 3
	writeBaseDelay  = 100 * time.Millisecond
)

// execRetry runs one write, retrying only on SQLITE_BUSY/LOCKED.
func (s *Store) execRetry(ctx context.Context, query string, args ...any) error {
	var err error
	for attempt := 0; attempt <= writeMaxRetries; attempt++ {
		_, err = s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return nil
		}
		if !isBusyError(err) || attempt == writeMaxRetries {
			return err
		}
		delay := writeBaseDelay * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// CreateSession inserts a session row.
func (s *Store) CreateSession(ctx context.Context, id, goal string, info map[string]any) error {
	infoJSON, err := encodeInfo(info)
	if err != nil {
		return err
	}
	return s.execRetry(ctx, `
		INSERT INTO sessions (session_id, goal, info, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET goal = excluded.goal, info = excluded.info
	`, id, goal, infoJSON, time.Now().UTC())
}

// FinishSession records the terminal outcome of a session.
func (s *Store) FinishSession(ctx context.Context, id string, outcome string) error {
	return s.execRetry(ctx, `
		UPDATE sessions SET outcome = ?, finished_at = ? WHERE session_id = ?
	`, outcome, time.Now().UTC(), id)
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, goal, info, outcome, created_at, finished_at
		FROM sessions WHERE session_id = ?
	`, id)

	var session Session
	var infoJSON string
	var outcome sql.NullString
	var finished sql.NullTime
	if err := row.Scan(&session.ID, &session.Goal, &infoJSON, &outcome, &session.CreatedAt, &finished); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session %s not found", id)
		}
		return nil, err
	}
	session.Outcome = outcome.String
	if finished.Valid {
		t := finished.Time
		session.FinishedAt = &t
	}
	if err := json.Unmarshal([]byte(infoJSON), &session.Info); err != nil {
		session.Info = nil
	}
	return &session, nil
}

// ListSessions returns sessions, newest first, up to limit (all when <= 0).
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	query := `
		SELECT session_id, goal, info, outcome, created_at, finished_at
		FROM sessions ORDER BY created_at DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var session Session
		var infoJSON string
		var outcome sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&session.ID, &session.Goal, &infoJSON, &outcome, &session.CreatedAt, &finished); err != nil {
			return nil, err
		}
		session.Outcome = outcome.String
		if finished.Valid {
			t := finished.Time
			session.FinishedAt = &t
		}
		if err := json.Unmarshal([]byte(infoJSON), &session.Info); err != nil {
			session.Info = nil
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// CreateAgent inserts an agent row for a session participant.
func (s *Store) CreateAgent(ctx context.Context, id, sessionID, name string, info map[string]any) error {
	infoJSON, err := encodeInfo(info)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return s.execRetry(ctx, `
		INSERT INTO agents (agent_id, session_id, name, info, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET info = excluded.info, updated_at = excluded.updated_at
	`, id, sessionID, name, infoJSON, now, now)
}

// UpdateAgent applies a partial update to an agent row.
func (s *Store) UpdateAgent(ctx context.Context, id string, patch coordinator.AgentPatch) error {
	sets := "updated_at = ?"
	args := []any{time.Now().UTC()}
	if patch.State != nil {
		sets += ", state = ?"
		args = append(args, *patch.State)
	}
	if patch.CurrentTask != nil {
		sets += ", current_task = ?"
		args = append(args, *patch.CurrentTask)
	}
	if patch.Progress != nil {
		sets += ", progress = ?"
		args = append(args, *patch.Progress)
	}
	if patch.Error != nil {
		sets += ", error = ?"
		args = append(args, *patch.Error)
	}
	args = append(args, id)
	return s.execRetry(ctx, "UPDATE agents SET "+sets+" WHERE agent_id = ?", args...)
}

// GetSessionAgents returns all agent rows for a session, oldest first.
func (s *Store) GetSessionAgents(ctx context.Context, sessionID string) ([]coordinator.AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, session_id, name, state, current_task, progress, error, created_at, updated_at
		FROM agents WHERE session_id = ? ORDER BY created_at, agent_id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []coordinator.AgentRecord
	for rows.Next() {
		var a coordinator.AgentRecord
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Name, &a.State, &a.CurrentTask,
			&a.Progress, &a.Error, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func encodeInfo(info map[string]any) (string, error) {
	if info == nil {
		return "{}", nil
	}
	data, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("encode info: %w", err)
	}
	return string(data), nil
}
