// internal/session/manager.go
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/sessionhub/internal/store"
	"github.com/user/sessionhub/internal/types"
)

// Dirs is the on-disk partition for session directories. Each session
// lives under exactly one of the three at any moment.
type Dirs struct {
	Active    string
	Crashed   string
	Completed string
}

// Manager owns session identity, status transitions, the directory
// partition, the crash-detection lock file, and the state mirror.
//
// The lock file holds the active session ID; its presence at construction
// time means the previous process died without ending its session. The
// constructor's scan is the only automatic recovery action: it moves the
// leftover directory to the crashed partition and flips the row to
// CRASHED. Directory moves and row updates are deliberately not atomic
// with each other; the scan checks directory existence and row status
// before acting, so re-running it after a partial failure converges.
//
// Start and Resume force-end any current session first (with a generic
// summary). That is intentional: the shell depends on it.
type Manager struct {
	store    *store.Store
	dirs     Dirs
	lockFile string
	logger   *slog.Logger

	mu        sync.Mutex
	current   *types.Session
	recovered types.SessionID
}

const stateFileName = "state.json"

// NewManager creates the session directories, runs the startup crash
// scan, and returns a manager with no current session.
func NewManager(st *store.Store, dirs Dirs, lockFile string) (*Manager, error) {
	m := &Manager{
		store:    st,
		dirs:     dirs,
		lockFile: lockFile,
		logger:   slog.With("component", "session"),
	}
	for _, dir := range []string{dirs.Active, dirs.Crashed, dirs.Completed} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(lockFile), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	if err := m.recoverCrashed(context.Background()); err != nil {
		return nil, err
	}
	if err := m.reattach(context.Background()); err != nil {
		return nil, err
	}
	return m, nil
}

// reattach re-adopts a session left active by a clean process exit. The
// crash scan has already run, so a directory still in the active
// partition with an ACTIVE row belongs to a session that was released
// with CleanExit rather than ended. The lock file is rewritten so a
// crash of this process is detected normally.
func (m *Manager) reattach(ctx context.Context) error {
	entries, err := os.ReadDir(m.dirs.Active)
	if err != nil {
		return fmt.Errorf("scan active dir: %w", err)
	}

	// Session IDs are timestamps, so the lexically last entry is the
	// newest. Anything older left behind is logged and ignored.
	for i := len(entries) - 1; i >= 0; i-- {
		if !entries[i].IsDir() {
			continue
		}
		id := types.SessionID(entries[i].Name())
		sess, err := m.store.GetSession(ctx, id)
		if errors.Is(err, types.ErrNotFound) {
			m.logger.Warn("active dir has no session row", "session_id", string(id))
			continue
		}
		if err != nil {
			return fmt.Errorf("load active session row: %w", err)
		}
		if sess.Status != types.SessionActive {
			m.logger.Warn("active dir for non-active session", "session_id", string(id), "status", string(sess.Status))
			continue
		}
		if err := os.WriteFile(m.lockFile, []byte(id), 0o644); err != nil {
			return fmt.Errorf("write lock file: %w", err)
		}
		m.current = sess
		m.logger.Info("reattached to active session", "session_id", string(id))
		return nil
	}
	return nil
}

// recoverCrashed is the startup reconciliation pass. Idempotent: every
// step checks before it acts, so a crash mid-scan is repaired by the
// next scan.
func (m *Manager) recoverCrashed(ctx context.Context) error {
	data, err := os.ReadFile(m.lockFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lock file: %w", err)
	}

	crashedID := types.SessionID(string(data))
	m.logger.Warn("lock file found, recovering crashed session", "session_id", string(crashedID))

	activeDir := filepath.Join(m.dirs.Active, string(crashedID))
	if _, err := os.Stat(activeDir); err == nil {
		crashedDir := filepath.Join(m.dirs.Crashed, string(crashedID))
		if err := os.Rename(activeDir, crashedDir); err != nil {
			return fmt.Errorf("move crashed session dir: %w", err)
		}
	}

	sess, err := m.store.GetSession(ctx, crashedID)
	switch {
	case errors.Is(err, types.ErrNotFound):
		m.logger.Warn("lock file names unknown session", "session_id", string(crashedID))
	case err != nil:
		return fmt.Errorf("load crashed session row: %w", err)
	case sess.Status == types.SessionActive:
		if _, err := m.store.UpdateSessionStatus(ctx, crashedID, types.SessionCrashed); err != nil {
			return fmt.Errorf("mark session crashed: %w", err)
		}
		m.recovered = crashedID
		m.logger.Info("crashed session recovered", "session_id", string(crashedID))
	}

	if err := os.Remove(m.lockFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// Recovered returns the session flipped to CRASHED by this process's
// startup scan, or "" when the previous exit was clean.
func (m *Manager) Recovered() types.SessionID {
	return m.recovered
}

// Current returns a copy of the current session handle, or nil.
func (m *Manager) Current() *types.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	sess := *m.current
	return &sess
}

// CurrentID returns the current session ID, or "".
func (m *Manager) CurrentID() types.SessionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.ID
}

// Start begins a new session and returns its handle. Any current session
// is ended first with a generic summary.
func (m *Manager) Start(ctx context.Context) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		if err := m.endLocked(ctx, "Ended to start new session"); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	id, err := m.allocateID(ctx, types.NewSessionID(now))
	if err != nil {
		return nil, err
	}

	sess := &types.Session{ID: id, StartTime: now, Status: types.SessionActive}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session row: %w", err)
	}
	if err := m.openSessionDir(sess.ID); err != nil {
		return nil, err
	}

	m.current = sess
	if err := m.saveStateLocked(ctx, types.NewSessionState(id, now)); err != nil {
		return nil, err
	}

	m.logger.Info("session started", "session_id", string(id))
	if err := m.store.LogEvent(ctx, "INFO", "session", "session started", id, nil); err != nil {
		m.logger.Warn("audit log failed", "error", err)
	}
	handle := *sess
	return &handle, nil
}

// Resume starts a new session that continues a crashed one. The crashed
// session's directory must exist under the crashed partition. The old
// state is cloned into the new session when it parses; a corrupted or
// missing state file degrades to a minimal state carrying only the
// lineage, so corruption never blocks resumption.
func (m *Manager) Resume(ctx context.Context, crashedID types.SessionID) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	crashedDir := filepath.Join(m.dirs.Crashed, string(crashedID))
	if _, err := os.Stat(crashedDir); err != nil {
		m.logger.Error("crashed session not found", "session_id", string(crashedID))
		return nil, fmt.Errorf("crashed session %s: %w", crashedID, types.ErrNotFound)
	}

	if m.current != nil {
		if err := m.endLocked(ctx, "Ended to resume crashed session"); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	newID := types.ResumedSessionID(crashedID, now)
	sess := &types.Session{ID: newID, StartTime: now, Status: types.SessionActive}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session row: %w", err)
	}
	rel := &types.Relationship{ParentID: crashedID, ChildID: newID, Type: types.RelationResume}
	if err := m.store.InsertRelationship(ctx, rel); err != nil {
		return nil, fmt.Errorf("record resume relationship: %w", err)
	}
	if err := m.openSessionDir(newID); err != nil {
		return nil, err
	}

	m.current = sess
	state := m.cloneCrashedState(crashedDir, crashedID, newID, now)
	if err := m.saveStateLocked(ctx, state); err != nil {
		return nil, err
	}

	m.logger.Info("session resumed", "session_id", string(newID), "resumed_from", string(crashedID))
	if err := m.store.LogEvent(ctx, "INFO", "session", "session resumed", newID,
		map[string]string{"resumed_from": string(crashedID)}); err != nil {
		m.logger.Warn("audit log failed", "error", err)
	}
	handle := *sess
	return &handle, nil
}

// cloneCrashedState loads the crashed session's last state and rebinds
// it to the new session. Any failure falls back to a minimal state; the
// fallback is mandatory.
func (m *Manager) cloneCrashedState(crashedDir string, crashedID, newID types.SessionID, start time.Time) *types.SessionState {
	fallback := types.NewSessionState(newID, start)
	fallback.ResumedFrom = crashedID

	data, err := os.ReadFile(filepath.Join(crashedDir, stateFileName))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.logger.Error("read crashed state", "session_id", string(crashedID), "error", err)
		}
		return fallback
	}

	var state types.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		m.logger.Error("crashed state unparsable, starting minimal",
			"session_id", string(crashedID), "error", err)
		return fallback
	}

	state.OriginalSessionID = state.SessionID
	state.SessionID = newID
	state.StartTime = start
	state.ResumedFrom = crashedID
	state.EndTime = nil
	state.Status = ""
	state.Summary = ""
	state.LastModified = start
	if state.Messages == nil {
		state.Messages = []types.StateMessage{}
	}
	if state.Context == nil {
		state.Context = map[string]json.RawMessage{}
	}
	return &state
}

// End completes the current session: terminal row update, state-file
// patch, directory move to the completed partition, lock-file removal.
// Safe to call again after success; the second call reports
// ErrNoActiveSession and does nothing.
func (m *Manager) End(ctx context.Context, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endLocked(ctx, summary)
}

func (m *Manager) endLocked(ctx context.Context, summary string) error {
	if m.current == nil {
		return types.ErrNoActiveSession
	}

	sess := m.current
	end := time.Now()
	sess.EndTime = &end
	sess.Status = types.SessionCompleted
	if summary != "" {
		sess.Summary = summary
	}
	if err := m.store.CompleteSession(ctx, sess); err != nil {
		return fmt.Errorf("complete session row: %w", err)
	}

	// Patch the state file in place. No snapshot row for the terminal
	// patch: the directory is about to leave the active partition.
	statePath := m.statePath(sess.ID)
	if state, err := readStateFile(statePath); err == nil && state != nil {
		state.EndTime = &end
		state.Status = types.SessionCompleted
		if summary != "" {
			state.Summary = summary
		}
		state.LastModified = end
		if err := writeStateFile(statePath, state); err != nil {
			m.logger.Error("patch terminal state file", "session_id", string(sess.ID), "error", err)
		}
	}

	activeDir := filepath.Join(m.dirs.Active, string(sess.ID))
	if _, err := os.Stat(activeDir); err == nil {
		completedDir := filepath.Join(m.dirs.Completed, string(sess.ID))
		if err := os.Rename(activeDir, completedDir); err != nil {
			return fmt.Errorf("move session dir to completed: %w", err)
		}
	}

	if err := os.Remove(m.lockFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}

	if err := m.store.LogEvent(ctx, "INFO", "session", "session ended", sess.ID,
		map[string]string{"summary": summary}); err != nil {
		m.logger.Warn("audit log failed", "error", err)
	}
	m.logger.Info("session ended", "session_id", string(sess.ID))
	m.current = nil
	return nil
}

// CleanExit removes the lock file on normal process exit so the next
// start does not misread a clean shutdown as a crash. Registered as a
// shutdown hook; never fails the exit path.
func (m *Manager) CleanExit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return
	}
	if err := os.Remove(m.lockFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Error("remove lock file on exit", "error", err)
	}
}

// allocateID probes the store for timestamp collisions. Sub-second
// session creation (tests, scripts) would otherwise collide.
func (m *Manager) allocateID(ctx context.Context, base types.SessionID) (types.SessionID, error) {
	id := base
	for n := 2; ; n++ {
		exists, err := m.store.SessionExists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("probe session id: %w", err)
		}
		if !exists {
			return id, nil
		}
		id = types.CollidedSessionID(base, n)
	}
}

func (m *Manager) openSessionDir(id types.SessionID) error {
	if err := os.MkdirAll(filepath.Join(m.dirs.Active, string(id)), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(m.lockFile, []byte(id), 0o644); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}

func (m *Manager) statePath(id types.SessionID) string {
	return filepath.Join(m.dirs.Active, string(id), stateFileName)
}

// ActiveDir returns the active partition root.
func (m *Manager) ActiveDir() string { return m.dirs.Active }

// CrashedDir returns the crashed partition root.
func (m *Manager) CrashedDir() string { return m.dirs.Crashed }

// CompletedDir returns the completed partition root.
func (m *Manager) CompletedDir() string { return m.dirs.Completed }
