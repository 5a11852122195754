// internal/action/log.go
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/sessionhub/internal/session"
	"github.com/user/sessionhub/internal/store"
	"github.com/user/sessionhub/internal/types"
)

// Log is the durable record of discrete units of work scoped to the
// current session. Action rows in the store are authoritative; the
// session state mirror is patched best-effort so a resumed session sees
// its in-flight work without a store round trip.
type Log struct {
	store    *store.Store
	sessions *session.Manager
	logger   *slog.Logger
}

// NewLog creates an action log bound to the current session of the given
// manager.
func NewLog(st *store.Store, sessions *session.Manager) *Log {
	return &Log{
		store:    st,
		sessions: sessions,
		logger:   slog.With("component", "action"),
	}
}

// Record inserts a STARTED action row for the current session and
// returns its ID. Fails with ErrNoActiveSession when no session is
// current; params are stored opaque.
func (l *Log) Record(ctx context.Context, actionType string, params json.RawMessage) (types.ActionID, error) {
	sessionID := l.sessions.CurrentID()
	if sessionID == "" {
		l.logger.Warn("no active session to record action for")
		return "", types.ErrNoActiveSession
	}

	a := &types.Action{
		ID:        types.NewActionID(),
		SessionID: sessionID,
		Type:      actionType,
		StartTime: time.Now(),
		Status:    types.ActionStarted,
		Params:    params,
	}
	if err := l.store.InsertAction(ctx, a); err != nil {
		return "", fmt.Errorf("insert action: %w", err)
	}

	if err := l.sessions.UpdateState(ctx, func(state *types.SessionState) error {
		state.Actions = append(state.Actions, types.StateAction{
			ID:        a.ID,
			Type:      a.Type,
			StartTime: a.StartTime,
			Status:    a.Status,
			Params:    a.Params,
		})
		return nil
	}); err != nil {
		l.logger.Warn("state mirror append failed", "action_id", string(a.ID), "error", err)
	}

	l.logger.Info("action recorded", "action_id", string(a.ID), "action_type", actionType)
	if err := l.store.LogEvent(ctx, "INFO", "action", "action started", sessionID,
		map[string]string{"action_id": string(a.ID), "action_type": actionType}); err != nil {
		l.logger.Warn("audit log failed", "error", err)
	}
	return a.ID, nil
}

// Complete moves an action to a terminal status with its result. Only
// STARTED actions can be terminalized; a second terminal call reports
// ErrNotPending and changes nothing. Arbitrary terminal status strings
// are accepted so callers mark FAILED through the same path.
func (l *Log) Complete(ctx context.Context, id types.ActionID, result json.RawMessage, status types.ActionStatus) error {
	sessionID := l.sessions.CurrentID()
	if sessionID == "" {
		l.logger.Warn("no active session to complete action for")
		return types.ErrNoActiveSession
	}

	end := time.Now()
	updated, err := l.store.FinishAction(ctx, id, end, status, result)
	if err != nil {
		return fmt.Errorf("finish action: %w", err)
	}
	if !updated {
		if _, err := l.store.GetAction(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("action %s: %w", id, types.ErrNotPending)
	}

	l.patchMirror(ctx, id, end, status, result)

	l.logger.Info("action completed", "action_id", string(id), "status", string(status))
	if err := l.store.LogEvent(ctx, "INFO", "action", "action completed", sessionID,
		map[string]string{"action_id": string(id), "status": string(status)}); err != nil {
		l.logger.Warn("audit log failed", "error", err)
	}
	return nil
}

// patchMirror updates the matching state-mirror entry. Best-effort: the
// entry may be missing (the store row still changed) and failures only
// log.
func (l *Log) patchMirror(ctx context.Context, id types.ActionID, end time.Time, status types.ActionStatus, result json.RawMessage) {
	if err := l.sessions.UpdateState(ctx, func(state *types.SessionState) error {
		for i := range state.Actions {
			if state.Actions[i].ID == id {
				state.Actions[i].EndTime = &end
				state.Actions[i].Status = status
				state.Actions[i].Result = result
				break
			}
		}
		return nil
	}); err != nil {
		l.logger.Warn("state mirror patch failed", "action_id", string(id), "error", err)
	}
}

// Func is a unit of work supervised by Execute. Its returned value is
// serialized as the action result.
type Func func(ctx context.Context, params json.RawMessage) (any, error)

// failureResult is the stored result of a failed or panicked action.
type failureResult struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

// Execute wraps fn in action tracking: every invocation of fn yields
// exactly one terminal action row, whether fn returns, errors, or
// panics. On success the result is stored with status COMPLETED; on
// failure a result capturing the error's type name and message is stored
// with status FAILED. fn is never invoked if recording fails.
func (l *Log) Execute(ctx context.Context, actionType string, fn Func, params json.RawMessage) (result json.RawMessage, id types.ActionID, err error) {
	id, err = l.Record(ctx, actionType, params)
	if err != nil {
		return nil, "", err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %s panicked: %v", actionType, r)
			result = l.failAction(ctx, id, fmt.Errorf("%v", r), fmt.Sprintf("%T", r))
		}
	}()

	value, fnErr := fn(ctx, params)
	if fnErr != nil {
		l.logger.Error("action failed", "action_id", string(id), "action_type", actionType, "error", fnErr)
		return l.failAction(ctx, id, fnErr, fmt.Sprintf("%T", fnErr)), id, fnErr
	}

	raw, marshalErr := json.Marshal(value)
	if marshalErr != nil {
		l.logger.Error("action result unserializable", "action_id", string(id), "error", marshalErr)
		return l.failAction(ctx, id, marshalErr, fmt.Sprintf("%T", marshalErr)), id, marshalErr
	}
	if err := l.Complete(ctx, id, raw, types.ActionCompleted); err != nil {
		return raw, id, err
	}
	return raw, id, nil
}

func (l *Log) failAction(ctx context.Context, id types.ActionID, cause error, typeName string) json.RawMessage {
	details, _ := json.Marshal(failureResult{Error: cause.Error(), ErrorType: typeName})
	if err := l.Complete(ctx, id, details, types.ActionFailed); err != nil {
		l.logger.Error("record action failure", "action_id", string(id), "error", err)
	}
	return details
}

// Cancel terminalizes a STARTED action with status CANCELED and a fixed
// reason. Rejected without side effects when the action is unknown or
// already terminal.
func (l *Log) Cancel(ctx context.Context, id types.ActionID) error {
	sessionID := l.sessions.CurrentID()
	if sessionID == "" {
		l.logger.Warn("no active session to cancel action for")
		return types.ErrNoActiveSession
	}

	a, err := l.store.GetAction(ctx, id)
	if err != nil {
		return err
	}
	if a.Status != types.ActionStarted {
		l.logger.Warn("action is not pending", "action_id", string(id), "status", string(a.Status))
		return fmt.Errorf("action %s: %w", id, types.ErrNotPending)
	}

	reason, _ := json.Marshal(map[string]string{"reason": "Canceled by user"})
	end := time.Now()
	updated, err := l.store.FinishAction(ctx, id, end, types.ActionCanceled, reason)
	if err != nil {
		return fmt.Errorf("cancel action: %w", err)
	}
	if !updated {
		return fmt.Errorf("action %s: %w", id, types.ErrNotPending)
	}
	l.patchMirror(ctx, id, end, types.ActionCanceled, reason)

	l.logger.Info("action canceled", "action_id", string(id))
	if err := l.store.LogEvent(ctx, "INFO", "action", "action canceled", sessionID,
		map[string]string{"action_id": string(id)}); err != nil {
		l.logger.Warn("audit log failed", "error", err)
	}
	return nil
}

// Retry re-records an action as a brand-new one with the same type and
// params plus a retry_of back-reference. The original row is never
// touched.
func (l *Log) Retry(ctx context.Context, id types.ActionID) (types.ActionID, error) {
	if l.sessions.CurrentID() == "" {
		l.logger.Warn("no active session to retry action for")
		return "", types.ErrNoActiveSession
	}

	original, err := l.store.GetAction(ctx, id)
	if err != nil {
		return "", err
	}

	params := map[string]json.RawMessage{}
	if len(original.Params) > 0 {
		// Non-object params are replaced by the back-reference alone
		// rather than failing the retry.
		if err := json.Unmarshal(original.Params, &params); err != nil {
			params = map[string]json.RawMessage{}
		}
	}
	ref, _ := json.Marshal(string(id))
	params["retry_of"] = ref
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshal retry params: %w", err)
	}

	newID, err := l.Record(ctx, original.Type, raw)
	if err != nil {
		return "", err
	}
	l.logger.Info("action retried", "action_id", string(id), "new_action_id", string(newID))
	return newID, nil
}

// Pending returns a session's STARTED actions oldest-first: the work a
// resumed session must reconcile (complete, cancel, or retry each one).
// An empty id targets the current session.
func (l *Log) Pending(ctx context.Context, sessionID types.SessionID) ([]types.Action, error) {
	if sessionID == "" {
		sessionID = l.sessions.CurrentID()
		if sessionID == "" {
			return nil, types.ErrNoActiveSession
		}
	}
	return l.store.ListPendingActions(ctx, sessionID)
}

// Get returns one action by ID.
func (l *Log) Get(ctx context.Context, id types.ActionID) (*types.Action, error) {
	return l.store.GetAction(ctx, id)
}

// SessionActions returns a session's actions newest-first. An empty id
// targets the current session.
func (l *Log) SessionActions(ctx context.Context, sessionID types.SessionID, limit int) ([]types.Action, error) {
	if sessionID == "" {
		sessionID = l.sessions.CurrentID()
		if sessionID == "" {
			return nil, types.ErrNoActiveSession
		}
	}
	return l.store.ListSessionActions(ctx, sessionID, limit)
}

// ByType returns actions of one type across all sessions, newest-first.
func (l *Log) ByType(ctx context.Context, actionType string, limit int) ([]types.Action, error) {
	return l.store.ListActionsByType(ctx, actionType, limit)
}

// Stats summarizes a session's action counts. An empty id targets the
// current session.
func (l *Log) Stats(ctx context.Context, sessionID types.SessionID) (*types.ActionStats, error) {
	if sessionID == "" {
		sessionID = l.sessions.CurrentID()
		if sessionID == "" {
			return nil, types.ErrNoActiveSession
		}
	}
	return l.store.ActionStats(ctx, sessionID)
}
