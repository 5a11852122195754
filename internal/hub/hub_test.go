package hub

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/sessionhub/internal/config"
	"github.com/user/sessionhub/internal/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		DataDir:     root,
		LogLevel:    "error",
		ProjectName: "TestProject",
	}
	cfg.Database.Path = filepath.Join(root, "sessionhub.db")
	cfg.Sessions.ActiveDir = filepath.Join(root, "sessions", "active")
	cfg.Sessions.CrashedDir = filepath.Join(root, "sessions", "crashed")
	cfg.Sessions.CompletedDir = filepath.Join(root, "sessions", "completed")
	cfg.Sessions.LockFile = filepath.Join(root, "session.lock")
	cfg.Backup.Dir = filepath.Join(root, "backups")
	cfg.Actions.MaxConcurrent = 2
	return cfg
}

func TestCrashRecoverResumeRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	// First process: start a session, do some work, die mid-action.
	h1, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sess, err := h1.Sessions.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h1.Sessions.RecordMessage(ctx, "user", "begin the build"); err != nil {
		t.Fatalf("record message: %v", err)
	}
	if err := h1.Context.Set(ctx, "build.target", "all"); err != nil {
		t.Fatalf("set context: %v", err)
	}
	actionID, err := h1.Actions.Record(ctx, "BUILD", json.RawMessage(`{"target":"all"}`))
	if err != nil {
		t.Fatalf("record action: %v", err)
	}
	// Simulated crash: close the store but never release the lock.
	h1.Store.Close()

	// Second process: recovery runs at open.
	h2, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer h2.Close()

	if h2.Sessions.Recovered() != sess.ID {
		t.Fatalf("recovered = %q, want %q", h2.Sessions.Recovered(), sess.ID)
	}
	if _, err := os.Stat(filepath.Join(cfg.Sessions.CrashedDir, string(sess.ID), "crash_report.md")); err != nil {
		t.Errorf("crash report missing: %v", err)
	}

	crashed, err := h2.Sessions.CrashedSessions(ctx)
	if err != nil {
		t.Fatalf("crashed sessions: %v", err)
	}
	if len(crashed) != 1 || crashed[0].ID != sess.ID {
		t.Fatalf("crashed = %v", crashed)
	}

	// Resume carries state and exposes the in-flight action.
	resumed, err := h2.Sessions.Resume(ctx, sess.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	raw, err := h2.Context.Get(ctx, "build.target")
	if err != nil {
		t.Fatalf("context after resume: %v", err)
	}
	if string(raw) != `"all"` {
		t.Errorf("build.target = %s", raw)
	}

	pending, err := h2.Actions.Pending(ctx, sess.ID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != actionID {
		t.Fatalf("pending = %v", pending)
	}

	// Reconcile and finish.
	if err := h2.Actions.Complete(ctx, actionID, json.RawMessage(`{"recovered":true}`), types.ActionCompleted); err != nil {
		t.Fatalf("complete pending: %v", err)
	}
	if err := h2.Sessions.End(ctx, "finished after crash"); err != nil {
		t.Fatalf("end: %v", err)
	}

	if _, err := os.Stat(filepath.Join(cfg.Sessions.CompletedDir, string(resumed.ID))); err != nil {
		t.Errorf("resumed session not in completed partition: %v", err)
	}
	info, err := h2.Sessions.Info(ctx, resumed.ID)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Status != types.SessionCompleted || info.ResumedFrom != sess.ID {
		t.Errorf("info = %+v", info)
	}
}

func TestCleanExitDoesNotReportCrash(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	h1, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sess, err := h1.Sessions.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	h2, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer h2.Close()

	if h2.Sessions.Recovered() != "" {
		t.Errorf("clean exit misread as crash")
	}
	if h2.Sessions.CurrentID() != sess.ID {
		t.Errorf("session not reattached: %q", h2.Sessions.CurrentID())
	}
}

func TestBackupWritesTimestampedCopy(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	h, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()

	if _, err := h.Sessions.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	path, err := h.Backup(ctx)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("backup file missing: %v", err)
	}
}

func TestMaintenanceScheduleBuilds(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	h, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()

	sched, err := h.Maintenance(ctx)
	if err != nil {
		t.Fatalf("maintenance: %v", err)
	}
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start schedule: %v", err)
	}
	sched.Stop()
}
