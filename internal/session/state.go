// internal/session/state.go
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/user/sessionhub/internal/types"
)

// SaveState persists the full session state: it stamps LastModified,
// rewrites the state.json mirror, and appends a snapshot row. Every
// state mutation flows through here, so the snapshot table is a complete
// ordered history, not a set of checkpoints.
func (m *Manager) SaveState(ctx context.Context, state *types.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return types.ErrNoActiveSession
	}
	return m.saveStateLocked(ctx, state)
}

func (m *Manager) saveStateLocked(ctx context.Context, state *types.SessionState) error {
	state.LastModified = time.Now()

	if err := writeStateFile(m.statePath(m.current.ID), state); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state snapshot: %w", err)
	}
	snap := &types.Snapshot{
		SnapshotMeta: types.SnapshotMeta{
			ID:        types.NewSnapshotID(),
			SessionID: m.current.ID,
			Timestamp: state.LastModified,
		},
		State: raw,
	}
	if err := m.store.InsertSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("insert state snapshot: %w", err)
	}
	return nil
}

// LoadState reads the current session's state mirror. A missing or
// unparsable file yields (nil, nil) so callers degrade gracefully; only
// I/O faults other than absence surface as errors.
func (m *Manager) LoadState(ctx context.Context) (*types.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, types.ErrNoActiveSession
	}
	return m.loadStateLocked()
}

func (m *Manager) loadStateLocked() (*types.SessionState, error) {
	state, err := readStateFile(m.statePath(m.current.ID))
	if err != nil {
		if errors.Is(err, types.ErrCorruptState) {
			m.logger.Error("state file unparsable", "session_id", string(m.current.ID), "error", err)
			return nil, nil
		}
		return nil, err
	}
	return state, nil
}

// UpdateState runs a read-modify-write of the session state under the
// manager's mutex. This is the single synchronization point that keeps
// concurrent mirror mutations (messages, actions, context) from
// interleaving.
func (m *Manager) UpdateState(ctx context.Context, mutate func(*types.SessionState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return types.ErrNoActiveSession
	}

	state, err := m.loadStateLocked()
	if err != nil {
		return err
	}
	if state == nil {
		state = types.NewSessionState(m.current.ID, m.current.StartTime)
	}
	if err := mutate(state); err != nil {
		return err
	}
	return m.saveStateLocked(ctx, state)
}

// RecordMessage appends one conversation entry to the store and to the
// state mirror.
func (m *Manager) RecordMessage(ctx context.Context, source, content string) (types.MessageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		m.logger.Warn("no active session to record message for")
		return "", types.ErrNoActiveSession
	}

	msg := &types.Message{
		ID:        types.NewMessageID(),
		SessionID: m.current.ID,
		Timestamp: time.Now(),
		Source:    source,
		Content:   content,
	}
	if err := m.store.InsertMessage(ctx, msg); err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}

	state, err := m.loadStateLocked()
	if err != nil {
		return "", err
	}
	if state == nil {
		state = types.NewSessionState(m.current.ID, m.current.StartTime)
	}
	state.Messages = append(state.Messages, types.StateMessage{
		ID:        msg.ID,
		Timestamp: msg.Timestamp,
		Source:    source,
		Content:   content,
	})
	if err := m.saveStateLocked(ctx, state); err != nil {
		return "", err
	}

	m.logger.Info("message recorded", "session_id", string(m.current.ID), "source", source)
	return msg.ID, nil
}

func readStateFile(path string) (*types.SessionState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var state types.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCorruptState, err)
	}
	return &state, nil
}

// writeStateFile rewrites state.json atomically via temp file + rename.
func writeStateFile(path string, state *types.SessionState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp state: %w", err)
	}
	return nil
}
