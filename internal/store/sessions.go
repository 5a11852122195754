// internal/store/sessions.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/user/sessionhub/internal/types"
)

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, sess *types.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, start_time, status, summary) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.StartTime, sess.Status, sess.Summary,
	)
	return err
}

// SessionExists reports whether a session row exists.
func (s *Store) SessionExists(ctx context.Context, id types.SessionID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// GetSession retrieves a session row. Returns types.ErrNotFound if no row
// exists for the ID.
func (s *Store) GetSession(ctx context.Context, id types.SessionID) (*types.Session, error) {
	sess := &types.Session{}
	var end sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, start_time, end_time, status, summary FROM sessions WHERE session_id = ?`, id,
	).Scan(&sess.ID, &sess.StartTime, &end, &sess.Status, &sess.Summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if end.Valid {
		t := end.Time
		sess.EndTime = &t
	}
	return sess, nil
}

// UpdateSessionStatus flips a session's status without touching other
// columns. The startup crash scan uses this; it reports whether a row was
// actually updated so the scan stays idempotent.
func (s *Store) UpdateSessionStatus(ctx context.Context, id types.SessionID, status types.SessionStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ? WHERE session_id = ?`, status, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CompleteSession marks a session COMPLETED with its end time. An empty
// summary leaves the existing summary column untouched.
func (s *Store) CompleteSession(ctx context.Context, sess *types.Session) error {
	if sess.Summary != "" {
		_, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET end_time = ?, status = ?, summary = ? WHERE session_id = ?`,
			sess.EndTime, types.SessionCompleted, sess.Summary, sess.ID)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET end_time = ?, status = ? WHERE session_id = ?`,
		sess.EndTime, types.SessionCompleted, sess.ID)
	return err
}

// ListSessions returns recent sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]types.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, start_time, end_time, status, summary
		 FROM sessions ORDER BY start_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

// ListSessionsByStatus returns sessions with the given status, newest first.
func (s *Store) ListSessionsByStatus(ctx context.Context, status types.SessionStatus) ([]types.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, start_time, end_time, status, summary
		 FROM sessions WHERE status = ? ORDER BY start_time DESC`, status)
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

func scanSessions(rows *sql.Rows) ([]types.Session, error) {
	defer rows.Close()
	var sessions []types.Session
	for rows.Next() {
		var sess types.Session
		var end sql.NullTime
		if err := rows.Scan(&sess.ID, &sess.StartTime, &end, &sess.Status, &sess.Summary); err != nil {
			return nil, err
		}
		if end.Valid {
			t := end.Time
			sess.EndTime = &t
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// InsertRelationship records an immutable parent/child edge.
func (s *Store) InsertRelationship(ctx context.Context, rel *types.Relationship) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_relationships (parent_session_id, child_session_id, relation_type) VALUES (?, ?, ?)`,
		rel.ParentID, rel.ChildID, rel.Type)
	return err
}

// ResumeParent returns the crashed parent a session was resumed from, or
// "" when the session is not a resumption.
func (s *Store) ResumeParent(ctx context.Context, child types.SessionID) (types.SessionID, error) {
	var parent types.SessionID
	err := s.db.QueryRowContext(ctx,
		`SELECT parent_session_id FROM session_relationships
		 WHERE child_session_id = ? AND relation_type = ?`, child, types.RelationResume,
	).Scan(&parent)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return parent, err
}
