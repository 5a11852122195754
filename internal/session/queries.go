// internal/session/queries.go
package session

import (
	"context"
	"fmt"

	"github.com/user/sessionhub/internal/types"
)

// Info returns session metadata enriched with its message count and, for
// resumed sessions, the crashed parent. An empty id targets the current
// session.
func (m *Manager) Info(ctx context.Context, id types.SessionID) (*types.Session, error) {
	if id == "" {
		id = m.CurrentID()
		if id == "" {
			return nil, types.ErrNoActiveSession
		}
	}

	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	count, err := m.store.CountMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	sess.MessageCount = count

	parent, err := m.store.ResumeParent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("look up resume parent: %w", err)
	}
	sess.ResumedFrom = parent
	return sess, nil
}

// History returns recent sessions, newest first.
func (m *Manager) History(ctx context.Context, limit int) ([]types.Session, error) {
	return m.store.ListSessions(ctx, limit)
}

// CrashedSessions returns all sessions currently marked CRASHED.
func (m *Manager) CrashedSessions(ctx context.Context) ([]types.Session, error) {
	return m.store.ListSessionsByStatus(ctx, types.SessionCrashed)
}

// Messages returns a session's conversation oldest-first. An empty id
// targets the current session.
func (m *Manager) Messages(ctx context.Context, id types.SessionID, limit int) ([]types.Message, error) {
	if id == "" {
		id = m.CurrentID()
		if id == "" {
			return nil, types.ErrNoActiveSession
		}
	}
	return m.store.ListMessages(ctx, id, limit)
}

// Snapshots returns snapshot metadata for a session, newest first. An
// empty id targets the current session.
func (m *Manager) Snapshots(ctx context.Context, id types.SessionID, limit int) ([]types.SnapshotMeta, error) {
	if id == "" {
		id = m.CurrentID()
		if id == "" {
			return nil, types.ErrNoActiveSession
		}
	}
	return m.store.ListSnapshots(ctx, id, limit)
}

// Snapshot returns one snapshot with its full state payload.
func (m *Manager) Snapshot(ctx context.Context, id types.SnapshotID) (*types.Snapshot, error) {
	return m.store.GetSnapshot(ctx, id)
}
