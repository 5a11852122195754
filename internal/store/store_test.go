package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/sessionhub/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSession(t *testing.T, s *Store, id types.SessionID) *types.Session {
	t.Helper()
	sess := &types.Session{ID: id, StartTime: time.Now(), Status: types.SessionActive}
	if err := s.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func TestSessionLifecycleRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession(t, s, "20250101120000")

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != types.SessionActive {
		t.Errorf("status = %s, want ACTIVE", got.Status)
	}
	if got.EndTime != nil {
		t.Errorf("end time should be nil for active session")
	}

	end := time.Now()
	sess.EndTime = &end
	sess.Status = types.SessionCompleted
	sess.Summary = "done"
	if err := s.CompleteSession(ctx, sess); err != nil {
		t.Fatalf("complete session: %v", err)
	}

	got, err = s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session after complete: %v", err)
	}
	if got.Status != types.SessionCompleted || got.Summary != "done" {
		t.Errorf("got status=%s summary=%q", got.Status, got.Summary)
	}
	if got.EndTime == nil {
		t.Errorf("end time not set")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSession(context.Background(), "nope")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCompleteSessionKeepsSummaryWhenEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession(t, s, "20250101120000")
	end := time.Now()
	sess.EndTime = &end
	sess.Status = types.SessionCompleted
	sess.Summary = "first summary"
	if err := s.CompleteSession(ctx, sess); err != nil {
		t.Fatalf("complete: %v", err)
	}

	sess.Summary = ""
	if err := s.CompleteSession(ctx, sess); err != nil {
		t.Fatalf("re-complete: %v", err)
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Summary != "first summary" {
		t.Errorf("summary = %q, want original preserved", got.Summary)
	}
}

func TestUpdateSessionStatusReportsChange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s, "20250101120000")

	updated, err := s.UpdateSessionStatus(ctx, sess.ID, types.SessionCrashed)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if !updated {
		t.Errorf("expected update for existing session")
	}

	updated, err = s.UpdateSessionStatus(ctx, "missing", types.SessionCrashed)
	if err != nil {
		t.Fatalf("update missing: %v", err)
	}
	if updated {
		t.Errorf("expected no update for missing session")
	}
}

func TestResumeParent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	newTestSession(t, s, "parent")
	newTestSession(t, s, "child")

	rel := &types.Relationship{ParentID: "parent", ChildID: "child", Type: types.RelationResume}
	if err := s.InsertRelationship(ctx, rel); err != nil {
		t.Fatalf("insert relationship: %v", err)
	}

	parent, err := s.ResumeParent(ctx, "child")
	if err != nil {
		t.Fatalf("resume parent: %v", err)
	}
	if parent != "parent" {
		t.Errorf("parent = %s, want parent", parent)
	}

	parent, err = s.ResumeParent(ctx, "parent")
	if err != nil {
		t.Fatalf("resume parent of root: %v", err)
	}
	if parent != "" {
		t.Errorf("parent = %s, want empty", parent)
	}
}

func TestFinishActionTerminalGuard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s, "20250101120000")

	a := &types.Action{
		ID:        types.NewActionID(),
		SessionID: sess.ID,
		Type:      "BUILD",
		StartTime: time.Now(),
		Status:    types.ActionStarted,
		Params:    json.RawMessage(`{"target":"all"}`),
	}
	if err := s.InsertAction(ctx, a); err != nil {
		t.Fatalf("insert action: %v", err)
	}

	updated, err := s.FinishAction(ctx, a.ID, time.Now(), types.ActionCompleted, json.RawMessage(`{"ok":true}`))
	if err != nil {
		t.Fatalf("finish action: %v", err)
	}
	if !updated {
		t.Fatalf("first terminal write should land")
	}

	// A second terminal write must be a no-op.
	updated, err = s.FinishAction(ctx, a.ID, time.Now(), types.ActionFailed, nil)
	if err != nil {
		t.Fatalf("second finish: %v", err)
	}
	if updated {
		t.Errorf("terminal status was overwritten")
	}

	got, err := s.GetAction(ctx, a.ID)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if got.Status != types.ActionCompleted {
		t.Errorf("status = %s, want COMPLETED", got.Status)
	}
	if string(got.Result) != `{"ok":true}` {
		t.Errorf("result = %s", got.Result)
	}
}

func TestListPendingActionsOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s, "20250101120000")

	base := time.Now()
	ids := make([]types.ActionID, 3)
	for i := range ids {
		ids[i] = types.NewActionID()
		a := &types.Action{
			ID:        ids[i],
			SessionID: sess.ID,
			Type:      "STEP",
			StartTime: base.Add(time.Duration(i) * time.Second),
			Status:    types.ActionStarted,
		}
		if err := s.InsertAction(ctx, a); err != nil {
			t.Fatalf("insert action %d: %v", i, err)
		}
	}
	// Terminalize the middle one; it must drop out of the pending list.
	if _, err := s.FinishAction(ctx, ids[1], time.Now(), types.ActionCompleted, nil); err != nil {
		t.Fatalf("finish: %v", err)
	}

	pending, err := s.ListPendingActions(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if pending[0].ID != ids[0] || pending[1].ID != ids[2] {
		t.Errorf("pending order wrong: %v then %v", pending[0].ID, pending[1].ID)
	}
}

func TestActionStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s, "20250101120000")

	statuses := []types.ActionStatus{types.ActionStarted, types.ActionCompleted, types.ActionCompleted}
	for i, status := range statuses {
		a := &types.Action{
			ID:        types.NewActionID(),
			SessionID: sess.ID,
			Type:      "BUILD",
			StartTime: time.Now().Add(time.Duration(i) * time.Millisecond),
			Status:    status,
		}
		if err := s.InsertAction(ctx, a); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	stats, err := s.ActionStats(ctx, sess.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.StatusCounts["COMPLETED"] != 2 || stats.StatusCounts["STARTED"] != 1 {
		t.Errorf("status counts = %v", stats.StatusCounts)
	}
	if stats.TypeCounts["BUILD"] != 3 {
		t.Errorf("type counts = %v", stats.TypeCounts)
	}
}

func TestSnapshotsAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s, "20250101120000")

	base := time.Now()
	for i := 0; i < 3; i++ {
		snap := &types.Snapshot{
			SnapshotMeta: types.SnapshotMeta{
				ID:        types.NewSnapshotID(),
				SessionID: sess.ID,
				Timestamp: base.Add(time.Duration(i) * time.Second),
			},
			State: json.RawMessage(`{"rev":` + string(rune('0'+i)) + `}`),
		}
		if err := s.InsertSnapshot(ctx, snap); err != nil {
			t.Fatalf("insert snapshot %d: %v", i, err)
		}
	}

	metas, err := s.ListSnapshots(ctx, sess.ID, 10)
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(metas) != 3 {
		t.Fatalf("snapshots = %d, want 3", len(metas))
	}

	latest, err := s.LatestSnapshot(ctx, sess.ID)
	if err != nil {
		t.Fatalf("latest snapshot: %v", err)
	}
	if string(latest.State) != `{"rev":2}` {
		t.Errorf("latest state = %s", latest.State)
	}
}

func TestMessagesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s, "20250101120000")

	for i, content := range []string{"hello", "world"} {
		m := &types.Message{
			ID:        types.NewMessageID(),
			SessionID: sess.ID,
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
			Source:    "user",
			Content:   content,
		}
		if err := s.InsertMessage(ctx, m); err != nil {
			t.Fatalf("insert message: %v", err)
		}
	}

	messages, err := s.ListMessages(ctx, sess.ID, 10)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 2 || messages[0].Content != "hello" {
		t.Errorf("messages = %v", messages)
	}

	count, err := s.CountMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestBackup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	newTestSession(t, s, "20250101120000")

	dest := filepath.Join(t.TempDir(), "backup.db")
	if err := s.Backup(ctx, dest); err != nil {
		t.Fatalf("backup: %v", err)
	}

	copy, err := Open(dest)
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer copy.Close()

	if _, err := copy.GetSession(ctx, "20250101120000"); err != nil {
		t.Errorf("session missing from backup: %v", err)
	}
}
