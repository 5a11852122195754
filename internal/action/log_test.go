package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/user/sessionhub/internal/session"
	"github.com/user/sessionhub/internal/store"
	"github.com/user/sessionhub/internal/types"
)

func newTestLog(t *testing.T) (*Log, *session.Manager, *store.Store) {
	t.Helper()
	root := t.TempDir()
	st, err := store.Open(filepath.Join(root, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	m, err := session.NewManager(st, session.Dirs{
		Active:    filepath.Join(root, "active"),
		Crashed:   filepath.Join(root, "crashed"),
		Completed: filepath.Join(root, "completed"),
	}, filepath.Join(root, "session.lock"))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return NewLog(st, m), m, st
}

func startSession(t *testing.T, m *session.Manager) types.SessionID {
	t.Helper()
	sess, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return sess.ID
}

func TestRecordRequiresActiveSession(t *testing.T) {
	log, _, _ := newTestLog(t)
	_, err := log.Record(context.Background(), "BUILD", nil)
	if !errors.Is(err, types.ErrNoActiveSession) {
		t.Errorf("err = %v, want ErrNoActiveSession", err)
	}
}

func TestRecordAndCompleteUpdatesMirror(t *testing.T) {
	log, m, st := newTestLog(t)
	ctx := context.Background()
	startSession(t, m)

	id, err := log.Record(ctx, "BUILD", json.RawMessage(`{"target":"all"}`))
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	state, err := m.LoadState(ctx)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if len(state.Actions) != 1 || state.Actions[0].ID != id {
		t.Fatalf("mirror missing started action: %v", state.Actions)
	}
	if state.Actions[0].Status != types.ActionStarted {
		t.Errorf("mirror status = %s", state.Actions[0].Status)
	}

	if err := log.Complete(ctx, id, json.RawMessage(`{"ok":true}`), types.ActionCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := st.GetAction(ctx, id)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if got.Status != types.ActionCompleted || got.EndTime == nil {
		t.Errorf("row not terminalized: %+v", got)
	}

	state, err = m.LoadState(ctx)
	if err != nil {
		t.Fatalf("reload state: %v", err)
	}
	if state.Actions[0].Status != types.ActionCompleted {
		t.Errorf("mirror not patched: %s", state.Actions[0].Status)
	}
	if string(state.Actions[0].Result) != `{"ok":true}` {
		t.Errorf("mirror result = %s", state.Actions[0].Result)
	}
}

func TestCompleteRejectsSecondTerminal(t *testing.T) {
	log, m, _ := newTestLog(t)
	ctx := context.Background()
	startSession(t, m)

	id, err := log.Record(ctx, "BUILD", nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := log.Complete(ctx, id, nil, types.ActionCompleted); err != nil {
		t.Fatalf("first complete: %v", err)
	}

	err = log.Complete(ctx, id, nil, types.ActionFailed)
	if !errors.Is(err, types.ErrNotPending) {
		t.Errorf("second complete err = %v, want ErrNotPending", err)
	}
}

func TestCompleteUnknownAction(t *testing.T) {
	log, m, _ := newTestLog(t)
	startSession(t, m)

	err := log.Complete(context.Background(), "missing", nil, types.ActionCompleted)
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestExecuteSuccess(t *testing.T) {
	log, m, st := newTestLog(t)
	ctx := context.Background()
	startSession(t, m)

	result, id, err := log.Execute(ctx, "BUILD", func(ctx context.Context, params json.RawMessage) (any, error) {
		return map[string]string{"artifact": "out.bin"}, nil
	}, json.RawMessage(`{"target":"all"}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if string(result) != `{"artifact":"out.bin"}` {
		t.Errorf("result = %s", result)
	}

	got, err := st.GetAction(ctx, id)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if got.Status != types.ActionCompleted {
		t.Errorf("status = %s", got.Status)
	}
}

func TestExecuteFailureRecordsErrorDetails(t *testing.T) {
	log, m, st := newTestLog(t)
	ctx := context.Background()
	startSession(t, m)

	boom := fmt.Errorf("disk full")
	result, id, err := log.Execute(ctx, "BUILD", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, boom
	}, nil)
	if err == nil {
		t.Fatalf("expected error")
	}

	var details failureResult
	if err := json.Unmarshal(result, &details); err != nil {
		t.Fatalf("parse failure result: %v", err)
	}
	if details.Error != "disk full" || details.ErrorType == "" {
		t.Errorf("details = %+v", details)
	}

	got, err := st.GetAction(ctx, id)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if got.Status != types.ActionFailed {
		t.Errorf("status = %s, want FAILED", got.Status)
	}
}

func TestExecutePanicStillTerminalizes(t *testing.T) {
	log, m, st := newTestLog(t)
	ctx := context.Background()
	startSession(t, m)

	_, id, err := log.Execute(ctx, "BUILD", func(ctx context.Context, params json.RawMessage) (any, error) {
		panic("unexpected")
	}, nil)
	if err == nil {
		t.Fatalf("expected error from panic")
	}

	got, getErr := st.GetAction(ctx, id)
	if getErr != nil {
		t.Fatalf("get action: %v", getErr)
	}
	if got.Status != types.ActionFailed {
		t.Errorf("status = %s, want FAILED", got.Status)
	}
}

func TestCancelOnlyPending(t *testing.T) {
	log, m, st := newTestLog(t)
	ctx := context.Background()
	startSession(t, m)

	id, err := log.Record(ctx, "DEPLOY", nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := log.Cancel(ctx, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, err := st.GetAction(ctx, id)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if got.Status != types.ActionCanceled {
		t.Errorf("status = %s, want CANCELED", got.Status)
	}
	var reason map[string]string
	if err := json.Unmarshal(got.Result, &reason); err != nil {
		t.Fatalf("parse reason: %v", err)
	}
	if reason["reason"] != "Canceled by user" {
		t.Errorf("reason = %v", reason)
	}

	if err := log.Cancel(ctx, id); !errors.Is(err, types.ErrNotPending) {
		t.Errorf("second cancel err = %v, want ErrNotPending", err)
	}
}

func TestRetryClonesWithBackReference(t *testing.T) {
	log, m, st := newTestLog(t)
	ctx := context.Background()
	startSession(t, m)

	id, err := log.Record(ctx, "DEPLOY", json.RawMessage(`{"env":"prod"}`))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := log.Cancel(ctx, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	newID, err := log.Retry(ctx, id)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if newID == id {
		t.Fatalf("retry must create a new action")
	}

	got, err := st.GetAction(ctx, newID)
	if err != nil {
		t.Fatalf("get retry: %v", err)
	}
	if got.Type != "DEPLOY" || got.Status != types.ActionStarted {
		t.Errorf("retry row = %+v", got)
	}
	var params map[string]json.RawMessage
	if err := json.Unmarshal(got.Params, &params); err != nil {
		t.Fatalf("parse params: %v", err)
	}
	if string(params["env"]) != `"prod"` {
		t.Errorf("env param lost: %v", params)
	}
	if string(params["retry_of"]) != fmt.Sprintf("%q", id) {
		t.Errorf("retry_of = %s", params["retry_of"])
	}

	// The original row is untouched.
	original, err := st.GetAction(ctx, id)
	if err != nil {
		t.Fatalf("get original: %v", err)
	}
	if original.Status != types.ActionCanceled {
		t.Errorf("original status = %s", original.Status)
	}
}

func TestPendingSurvivesCrashAndResume(t *testing.T) {
	log, m, st := newTestLog(t)
	ctx := context.Background()
	sessID := startSession(t, m)

	id, err := log.Record(ctx, "BUILD", nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	pending, err := log.Pending(ctx, "")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("pending = %v", pending)
	}

	// The pending row outlives the session: still queryable by the old
	// session id after a crash.
	pending, err = st.ListPendingActions(ctx, sessID)
	if err != nil {
		t.Fatalf("pending by id: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending rows = %d", len(pending))
	}
}
