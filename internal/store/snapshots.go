// internal/store/snapshots.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/user/sessionhub/internal/types"
)

// InsertSnapshot appends a state snapshot row. Snapshots are append-only:
// one row per state mutation, never updated.
func (s *Store) InsertSnapshot(ctx context.Context, snap *types.Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state_snapshots (snapshot_id, session_id, timestamp, state_data)
		 VALUES (?, ?, ?, ?)`,
		snap.ID, snap.SessionID, snap.Timestamp, string(snap.State),
	)
	return err
}

// ListSnapshots returns snapshot metadata for a session, newest first.
func (s *Store) ListSnapshots(ctx context.Context, sessionID types.SessionID, limit int) ([]types.SnapshotMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT snapshot_id, session_id, timestamp FROM state_snapshots
		 WHERE session_id = ? ORDER BY timestamp DESC, snapshot_id LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metas []types.SnapshotMeta
	for rows.Next() {
		var m types.SnapshotMeta
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Timestamp); err != nil {
			return nil, err
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// GetSnapshot retrieves one snapshot with its full state payload.
func (s *Store) GetSnapshot(ctx context.Context, id types.SnapshotID) (*types.Snapshot, error) {
	snap := &types.Snapshot{}
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot_id, session_id, timestamp, state_data FROM state_snapshots
		 WHERE snapshot_id = ?`, id,
	).Scan(&snap.ID, &snap.SessionID, &snap.Timestamp, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	snap.State = []byte(state)
	return snap, nil
}

// LatestSnapshot returns the most recent snapshot for a session, or
// types.ErrNotFound when the session has none.
func (s *Store) LatestSnapshot(ctx context.Context, sessionID types.SessionID) (*types.Snapshot, error) {
	snap := &types.Snapshot{}
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot_id, session_id, timestamp, state_data FROM state_snapshots
		 WHERE session_id = ? ORDER BY timestamp DESC, snapshot_id DESC LIMIT 1`, sessionID,
	).Scan(&snap.ID, &snap.SessionID, &snap.Timestamp, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshots for %s: %w", sessionID, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	snap.State = []byte(state)
	return snap, nil
}
