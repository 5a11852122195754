// internal/contextstore/contextstore.go
package contextstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/user/sessionhub/internal/session"
	"github.com/user/sessionhub/internal/store"
	"github.com/user/sessionhub/internal/types"
)

// Store manages the current session's key/value context. Keys are flat
// strings; a dotted prefix ("build.target") acts as a namespace. All
// mutations go through the session manager's state update path, so every
// context change lands in the mirror file and the snapshot history.
type Store struct {
	store    *store.Store
	sessions *session.Manager
	logger   *slog.Logger
}

// NewStore creates a context store bound to the manager's current
// session.
func NewStore(st *store.Store, sessions *session.Manager) *Store {
	return &Store{
		store:    st,
		sessions: sessions,
		logger:   slog.With("component", "context"),
	}
}

func nsKey(namespace, key string) string {
	if namespace == "" {
		return key
	}
	return namespace + "." + key
}

// Set stores a value under a flat key in the current session's context.
func (c *Store) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal context value: %w", err)
	}
	return c.sessions.UpdateState(ctx, func(state *types.SessionState) error {
		if state.Context == nil {
			state.Context = make(map[string]json.RawMessage)
		}
		state.Context[key] = raw
		return nil
	})
}

// SetIn stores a value under namespace.key.
func (c *Store) SetIn(ctx context.Context, namespace, key string, value any) error {
	return c.Set(ctx, nsKey(namespace, key), value)
}

// Get returns the raw value for a key, or ErrNotFound.
func (c *Store) Get(ctx context.Context, key string) (json.RawMessage, error) {
	state, err := c.sessions.LoadState(ctx)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("context key %s: %w", key, types.ErrNotFound)
	}
	raw, ok := state.Context[key]
	if !ok {
		return nil, fmt.Errorf("context key %s: %w", key, types.ErrNotFound)
	}
	return raw, nil
}

// GetIn returns the raw value for namespace.key, or ErrNotFound.
func (c *Store) GetIn(ctx context.Context, namespace, key string) (json.RawMessage, error) {
	return c.Get(ctx, nsKey(namespace, key))
}

// Delete removes one key. Removing an absent key is not an error.
func (c *Store) Delete(ctx context.Context, key string) error {
	return c.sessions.UpdateState(ctx, func(state *types.SessionState) error {
		delete(state.Context, key)
		return nil
	})
}

// Clear removes every key, or only a namespace's keys when namespace is
// non-empty.
func (c *Store) Clear(ctx context.Context, namespace string) error {
	return c.sessions.UpdateState(ctx, func(state *types.SessionState) error {
		if namespace == "" {
			state.Context = make(map[string]json.RawMessage)
			return nil
		}
		prefix := namespace + "."
		for k := range state.Context {
			if strings.HasPrefix(k, prefix) {
				delete(state.Context, k)
			}
		}
		return nil
	})
}

// Merge writes several values at once under a single state save.
func (c *Store) Merge(ctx context.Context, values map[string]any) error {
	encoded := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal context value %s: %w", k, err)
		}
		encoded[k] = raw
	}
	return c.sessions.UpdateState(ctx, func(state *types.SessionState) error {
		if state.Context == nil {
			state.Context = make(map[string]json.RawMessage)
		}
		for k, v := range encoded {
			state.Context[k] = v
		}
		return nil
	})
}

// Keys returns the sorted keys matching a prefix; an empty prefix lists
// everything.
func (c *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	state, err := c.sessions.LoadState(ctx)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, nil
	}
	var keys []string
	for k := range state.Context {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Namespaces returns the sorted distinct dotted prefixes in use.
func (c *Store) Namespaces(ctx context.Context) ([]string, error) {
	state, err := c.sessions.LoadState(ctx)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, nil
	}
	seen := make(map[string]struct{})
	for k := range state.Context {
		if i := strings.Index(k, "."); i > 0 {
			seen[k[:i]] = struct{}{}
		}
	}
	spaces := make([]string, 0, len(seen))
	for ns := range seen {
		spaces = append(spaces, ns)
	}
	sort.Strings(spaces)
	return spaces, nil
}

// All returns a copy of the full context map.
func (c *Store) All(ctx context.Context) (map[string]json.RawMessage, error) {
	state, err := c.sessions.LoadState(ctx)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, nil
	}
	out := make(map[string]json.RawMessage, len(state.Context))
	for k, v := range state.Context {
		out[k] = v
	}
	return out, nil
}

// Revision is one historical value of a context key.
type Revision struct {
	Timestamp time.Time       `json:"timestamp"`
	Value     json.RawMessage `json:"value,omitempty"`
	Present   bool            `json:"present"`
}

// History walks the current session's snapshot rows newest-first and
// reports how a key's value changed over time. Snapshots that fail to
// parse are skipped rather than aborting the walk.
func (c *Store) History(ctx context.Context, key string, limit int) ([]Revision, error) {
	sessionID := c.sessions.CurrentID()
	if sessionID == "" {
		return nil, types.ErrNoActiveSession
	}
	metas, err := c.store.ListSnapshots(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}

	var revisions []Revision
	for _, meta := range metas {
		snap, err := c.store.GetSnapshot(ctx, meta.ID)
		if err != nil {
			continue
		}
		var state types.SessionState
		if err := json.Unmarshal(snap.State, &state); err != nil {
			c.logger.Warn("skipping unparsable snapshot", "snapshot_id", string(meta.ID), "error", err)
			continue
		}
		raw, ok := state.Context[key]
		revisions = append(revisions, Revision{
			Timestamp: meta.Timestamp,
			Value:     raw,
			Present:   ok,
		})
	}
	return revisions, nil
}

// Transfer copies another session's context (from its latest snapshot)
// into the current session. Existing keys are only overwritten when
// overwrite is set. Returns the number of keys copied.
func (c *Store) Transfer(ctx context.Context, from types.SessionID, overwrite bool) (int, error) {
	snap, err := c.store.LatestSnapshot(ctx, from)
	if err != nil {
		return 0, err
	}
	var donor types.SessionState
	if err := json.Unmarshal(snap.State, &donor); err != nil {
		return 0, fmt.Errorf("%w: snapshot for session %s", types.ErrCorruptState, from)
	}
	if len(donor.Context) == 0 {
		return 0, nil
	}

	copied := 0
	err = c.sessions.UpdateState(ctx, func(state *types.SessionState) error {
		if state.Context == nil {
			state.Context = make(map[string]json.RawMessage)
		}
		for k, v := range donor.Context {
			if _, exists := state.Context[k]; exists && !overwrite {
				continue
			}
			state.Context[k] = v
			copied++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	c.logger.Info("context transferred", "from", string(from), "keys", copied)
	return copied, nil
}
