// internal/store/actions.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/user/sessionhub/internal/types"
)

const actionColumns = `action_id, session_id, action_type, start_time, end_time, status, params, result`

// InsertAction records a new action row with status STARTED.
func (s *Store) InsertAction(ctx context.Context, a *types.Action) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO actions (action_id, session_id, action_type, start_time, status, params)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.Type, a.StartTime, a.Status, nullRaw(a.Params),
	)
	return err
}

// FinishAction moves an action to a terminal status. The WHERE guard on
// STARTED enforces at-most-one-terminal-status: once terminal, further
// calls report false and change nothing.
func (s *Store) FinishAction(ctx context.Context, id types.ActionID, end time.Time, status types.ActionStatus, result []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE actions SET end_time = ?, status = ?, result = ?
		 WHERE action_id = ? AND status = ?`,
		end, status, nullRaw(result), id, types.ActionStarted,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetAction retrieves one action row. Returns types.ErrNotFound if the
// ID is unknown.
func (s *Store) GetAction(ctx context.Context, id types.ActionID) (*types.Action, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE action_id = ?`, id)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("action %s: %w", id, types.ErrNotFound)
	}
	return a, err
}

// ListSessionActions returns a session's actions, newest first.
func (s *Store) ListSessionActions(ctx context.Context, sessionID types.SessionID, limit int) ([]types.Action, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+actionColumns+` FROM actions
		 WHERE session_id = ? ORDER BY start_time DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	return scanActions(rows)
}

// ListActionsByType returns actions of one type across sessions, newest first.
func (s *Store) ListActionsByType(ctx context.Context, actionType string, limit int) ([]types.Action, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+actionColumns+` FROM actions
		 WHERE action_type = ? ORDER BY start_time DESC LIMIT ?`, actionType, limit)
	if err != nil {
		return nil, err
	}
	return scanActions(rows)
}

// ListPendingActions returns a session's STARTED actions oldest-first:
// the order in which interrupted work should be reconciled after resume.
func (s *Store) ListPendingActions(ctx context.Context, sessionID types.SessionID) ([]types.Action, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+actionColumns+` FROM actions
		 WHERE session_id = ? AND status = ? ORDER BY start_time ASC`,
		sessionID, types.ActionStarted)
	if err != nil {
		return nil, err
	}
	return scanActions(rows)
}

// ActionStats aggregates action counts by status and type for a session.
func (s *Store) ActionStats(ctx context.Context, sessionID types.SessionID) (*types.ActionStats, error) {
	stats := &types.ActionStats{
		StatusCounts: map[string]int64{},
		TypeCounts:   map[string]int64{},
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM actions WHERE session_id = ?`, sessionID).Scan(&stats.Total)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM actions WHERE session_id = ? GROUP BY status`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.StatusCounts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	typeRows, err := s.db.QueryContext(ctx,
		`SELECT action_type, COUNT(*) FROM actions WHERE session_id = ? GROUP BY action_type`, sessionID)
	if err != nil {
		return nil, err
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var actionType string
		var count int64
		if err := typeRows.Scan(&actionType, &count); err != nil {
			return nil, err
		}
		stats.TypeCounts[actionType] = count
	}
	return stats, typeRows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (*types.Action, error) {
	a := &types.Action{}
	var end sql.NullTime
	var params, result sql.NullString
	err := row.Scan(&a.ID, &a.SessionID, &a.Type, &a.StartTime, &end, &a.Status, &params, &result)
	if err != nil {
		return nil, err
	}
	if end.Valid {
		t := end.Time
		a.EndTime = &t
	}
	// Payloads pass through as raw bytes; callers decode lazily and a
	// malformed payload never fails the read.
	if params.Valid {
		a.Params = []byte(params.String)
	}
	if result.Valid {
		a.Result = []byte(result.String)
	}
	return a, nil
}

func scanActions(rows *sql.Rows) ([]types.Action, error) {
	defer rows.Close()
	var actions []types.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, *a)
	}
	return actions, rows.Err()
}

func nullRaw(raw []byte) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
