package contextstore

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/user/sessionhub/internal/session"
	"github.com/user/sessionhub/internal/store"
	"github.com/user/sessionhub/internal/types"
)

func newTestStore(t *testing.T) (*Store, *session.Manager) {
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
	if _, err := m.Start(context.Background()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	return NewStore(st, m), m
}

func TestSetGetDelete(t *testing.T) {
	c, _ := newTestStore(t)
	ctx := context.Background()

	if err := c.Set(ctx, "focus", "parser rewrite"); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, err := c.Get(ctx, "focus")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(raw) != `"parser rewrite"` {
		t.Errorf("raw = %s", raw)
	}

	if err := c.Delete(ctx, "focus"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Get(ctx, "focus"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestNamespacedKeys(t *testing.T) {
	c, _ := newTestStore(t)
	ctx := context.Background()

	if err := c.SetIn(ctx, "build", "target", "all"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.SetIn(ctx, "build", "jobs", 4); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.SetIn(ctx, "deploy", "env", "prod"); err != nil {
		t.Fatalf("set: %v", err)
	}

	raw, err := c.GetIn(ctx, "build", "target")
	if err != nil {
		t.Fatalf("get in: %v", err)
	}
	if string(raw) != `"all"` {
		t.Errorf("raw = %s", raw)
	}

	spaces, err := c.Namespaces(ctx)
	if err != nil {
		t.Fatalf("namespaces: %v", err)
	}
	if !reflect.DeepEqual(spaces, []string{"build", "deploy"}) {
		t.Errorf("namespaces = %v", spaces)
	}

	keys, err := c.Keys(ctx, "build.")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"build.jobs", "build.target"}) {
		t.Errorf("keys = %v", keys)
	}
}

func TestClearNamespace(t *testing.T) {
	c, _ := newTestStore(t)
	ctx := context.Background()

	if err := c.SetIn(ctx, "build", "target", "all"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Set(ctx, "focus", "other work"); err != nil {
		t.Fatalf("set: %v", err)
	}

	if err := c.Clear(ctx, "build"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := c.GetIn(ctx, "build", "target"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("namespace not cleared")
	}
	if _, err := c.Get(ctx, "focus"); err != nil {
		t.Errorf("unrelated key cleared: %v", err)
	}
}

func TestMergeSingleSave(t *testing.T) {
	c, m := newTestStore(t)
	ctx := context.Background()

	before, err := m.Snapshots(ctx, "", 100)
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}

	if err := c.Merge(ctx, map[string]any{"a": 1, "b": 2, "c": 3}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	after, err := m.Snapshots(ctx, "", 100)
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if len(after) != len(before)+1 {
		t.Errorf("merge should add exactly one snapshot, got %d -> %d", len(before), len(after))
	}

	all, err := c.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("keys = %d", len(all))
	}
}

func TestHistoryTracksRevisions(t *testing.T) {
	c, _ := newTestStore(t)
	ctx := context.Background()

	if err := c.Set(ctx, "focus", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Set(ctx, "focus", "v2"); err != nil {
		t.Fatalf("set: %v", err)
	}

	revisions, err := c.History(ctx, "focus", 100)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	// Newest first: v2, v1, then the initial snapshot without the key.
	if len(revisions) < 3 {
		t.Fatalf("revisions = %d, want at least 3", len(revisions))
	}
	if !revisions[0].Present || string(revisions[0].Value) != `"v2"` {
		t.Errorf("latest = %+v", revisions[0])
	}
	if !revisions[1].Present || string(revisions[1].Value) != `"v1"` {
		t.Errorf("previous = %+v", revisions[1])
	}
	if revisions[len(revisions)-1].Present {
		t.Errorf("initial snapshot should not contain the key")
	}
}

func TestTransferFromOtherSession(t *testing.T) {
	c, m := newTestStore(t)
	ctx := context.Background()

	donor := m.CurrentID()
	if err := c.Set(ctx, "carry", "me"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Set(ctx, "existing", "donor value"); err != nil {
		t.Fatalf("set: %v", err)
	}

	// New session becomes current; donor's snapshots stay behind.
	if _, err := m.Start(ctx); err != nil {
		t.Fatalf("start new session: %v", err)
	}
	if err := c.Set(ctx, "existing", "mine"); err != nil {
		t.Fatalf("set: %v", err)
	}

	n, err := c.Transfer(ctx, donor, false)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if n != 1 {
		t.Errorf("copied = %d, want 1 (existing key preserved)", n)
	}

	raw, err := c.Get(ctx, "carry")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(raw) != `"me"` {
		t.Errorf("carry = %s", raw)
	}
	raw, err = c.Get(ctx, "existing")
	if err != nil {
		t.Fatalf("get existing: %v", err)
	}
	if string(raw) != `"mine"` {
		t.Errorf("existing overwritten without --overwrite: %s", raw)
	}
}

func TestSetMarshalsArbitraryValues(t *testing.T) {
	c, _ := newTestStore(t)
	ctx := context.Background()

	if err := c.Set(ctx, "config", map[string]int{"retries": 3}); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, err := c.Get(ctx, "config")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var decoded map[string]int
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["retries"] != 3 {
		t.Errorf("decoded = %v", decoded)
	}
}
