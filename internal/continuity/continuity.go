// internal/continuity/continuity.go
package continuity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/sessionhub/internal/session"
	"github.com/user/sessionhub/internal/store"
	"github.com/user/sessionhub/internal/types"
)

const (
	docFileName    = "continuity.md"
	reportFileName = "crash_report.md"
	recentMessages = 10
	recentActions  = 5
)

// Generator renders human-readable Markdown handoff documents: a
// continuity document for the current session and a crash report for a
// crashed one. Both live inside the session's partition directory next
// to state.json.
type Generator struct {
	store    *store.Store
	sessions *session.Manager
	project  string
	encoder  *tiktoken.Tiktoken
	logger   *slog.Logger
}

// New creates a generator. The token encoder is optional; when the
// encoding cannot be loaded the estimate falls back to a character
// heuristic.
func New(st *store.Store, sessions *session.Manager, project string) *Generator {
	g := &Generator{
		store:    st,
		sessions: sessions,
		project:  project,
		logger:   slog.With("component", "continuity"),
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		g.logger.Warn("token encoder unavailable, using character estimate", "error", err)
	} else {
		g.encoder = enc
	}
	return g
}

// EstimateTokens reports roughly how many tokens the text costs to feed
// back into a model context.
func (g *Generator) EstimateTokens(text string) int {
	if g.encoder != nil {
		return len(g.encoder.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// Generate writes the continuity document for the current session and
// returns its path. With final set the document is written into the
// completed partition, for use after End has moved the session dir.
func (g *Generator) Generate(ctx context.Context, final bool) (string, error) {
	id := g.sessions.CurrentID()
	if id == "" {
		return "", types.ErrNoActiveSession
	}

	info, err := g.sessions.Info(ctx, id)
	if err != nil {
		return "", err
	}
	messages, err := g.sessions.Messages(ctx, id, recentMessages)
	if err != nil {
		return "", err
	}
	actions, err := g.store.ListSessionActions(ctx, id, recentActions)
	if err != nil {
		return "", err
	}

	var parent *types.Session
	if info.ResumedFrom != "" {
		if p, err := g.sessions.Info(ctx, info.ResumedFrom); err == nil {
			parent = p
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s: Session Continuity Document\n", g.project)
	fmt.Fprintf(&b, "**Created: %s**\n\n", time.Now().Format("January 2, 2006 3:04PM"))

	if info.ResumedFrom != "" {
		b.WriteString("## Resumed Session Information\n")
		b.WriteString("This session is a continuation of a previous session.\n\n")
		fmt.Fprintf(&b, "- **Original Session ID**: %s\n", info.ResumedFrom)
		if parent != nil {
			fmt.Fprintf(&b, "- **Original Start Time**: %s\n", parent.StartTime.Format(time.RFC3339))
			fmt.Fprintf(&b, "- **Original End Time**: %s\n", formatEnd(parent.EndTime))
			fmt.Fprintf(&b, "- **Original Status**: %s\n", parent.Status)
		}
		fmt.Fprintf(&b, "- **Current Session ID**: %s\n", id)
		fmt.Fprintf(&b, "- **Current Start Time**: %s\n\n", info.StartTime.Format(time.RFC3339))
	} else {
		b.WriteString("## Current Session Overview\n\n")
		fmt.Fprintf(&b, "- **Session ID**: %s\n", id)
		fmt.Fprintf(&b, "- **Started**: %s\n", info.StartTime.Format(time.RFC3339))
		if final {
			fmt.Fprintf(&b, "- **Ended**: %s\n", formatEnd(info.EndTime))
			fmt.Fprintf(&b, "- **Status**: %s\n", info.Status)
			fmt.Fprintf(&b, "- **Summary**: %s\n", orDefault(info.Summary, "No summary provided."))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Current Conversation Context\n\n")
	if len(messages) > 0 {
		b.WriteString("Recent messages:\n\n")
		for _, m := range messages {
			fmt.Fprintf(&b, "**%s (%s)**: %s\n\n", m.Source, m.Timestamp.Format("3:04:05PM"), m.Content)
		}
	} else {
		b.WriteString("No recent messages in this session.\n\n")
	}

	b.WriteString("## Recent Actions\n\n")
	if len(actions) > 0 {
		b.WriteString("| Action Type | Start Time | Status |\n")
		b.WriteString("|------------|------------|--------|\n")
		for _, a := range actions {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", a.Type, a.StartTime.Format("3:04:05PM"), a.Status)
		}
	} else {
		b.WriteString("No recent actions in this session.\n\n")
	}

	b.WriteString("\n## Next Steps\n\n")
	if final {
		b.WriteString("This session has been completed. To continue development:\n\n")
		b.WriteString("1. Start a new session\n")
		b.WriteString("2. Review this continuity document for context\n")
		b.WriteString("3. Continue with remaining development tasks\n\n")
	} else {
		b.WriteString("To continue this development session:\n\n")
		b.WriteString("1. Complete the in-flight actions listed above\n")
		b.WriteString("2. Record results as they land\n")
		b.WriteString("3. End the session with a summary when done\n\n")
	}

	text := b.String()
	fmt.Fprintf(&b, "---\n\n*~%d tokens*\n", g.EstimateTokens(text))

	root := g.sessions.ActiveDir()
	if final {
		root = g.sessions.CompletedDir()
	}
	path := filepath.Join(root, string(id), docFileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create doc dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write continuity document: %w", err)
	}
	g.logger.Info("continuity document generated", "session_id", string(id), "path", path)
	return path, nil
}

// CrashReport writes a recovery report into a crashed session's
// directory and returns its path. The report survives even when the
// state file is corrupt; context keys are simply omitted then.
func (g *Generator) CrashReport(ctx context.Context, id types.SessionID) (string, error) {
	sessionDir := filepath.Join(g.sessions.CrashedDir(), string(id))
	if _, err := os.Stat(sessionDir); err != nil {
		return "", fmt.Errorf("crashed session %s: %w", id, types.ErrNotFound)
	}

	started := "Unknown"
	if info, err := g.store.GetSession(ctx, id); err == nil {
		started = info.StartTime.Format(time.RFC3339)
	}
	actions, err := g.store.ListSessionActions(ctx, id, recentActions)
	if err != nil {
		return "", err
	}
	messages, err := g.lastMessages(ctx, id)
	if err != nil {
		return "", err
	}
	contextKeys := readContextKeys(filepath.Join(sessionDir, "state.json"))

	var b strings.Builder
	fmt.Fprintf(&b, "# %s: Session Crash Report\n", g.project)
	fmt.Fprintf(&b, "**Created: %s**\n\n", time.Now().Format("January 2, 2006 3:04PM"))

	b.WriteString("## Session Information\n")
	fmt.Fprintf(&b, "- **Session ID**: %s\n", id)
	fmt.Fprintf(&b, "- **Started**: %s\n", started)
	fmt.Fprintf(&b, "- **Crashed**: %s\n\n", time.Now().Format(time.RFC3339))

	b.WriteString("## Last Actions\n")
	if len(actions) > 0 {
		b.WriteString("| Action Type | Start Time | Status |\n")
		b.WriteString("|------------|------------|--------|\n")
		for _, a := range actions {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", a.Type, a.StartTime.Format("3:04:05PM"), a.Status)
		}
	} else {
		b.WriteString("No actions recorded for this session.\n")
	}

	b.WriteString("\n## Last Messages\n")
	if len(messages) > 0 {
		b.WriteString("| Source | Time | Content |\n")
		b.WriteString("|--------|------|--------|\n")
		for _, m := range messages {
			content := m.Content
			if len(content) > 80 {
				content = content[:80] + "..."
			}
			fmt.Fprintf(&b, "| %s | %s | %s |\n", m.Source, m.Timestamp.Format("3:04:05PM"), content)
		}
	} else {
		b.WriteString("No messages recorded for this session.\n")
	}

	b.WriteString("\n## Context Information\n")
	if len(contextKeys) > 0 {
		b.WriteString("Available context keys:\n\n")
		for _, k := range contextKeys {
			fmt.Fprintf(&b, "- `%s`\n", k)
		}
	} else {
		b.WriteString("No context data available.\n")
	}

	b.WriteString("\n## Recovery Instructions\n")
	b.WriteString("To recover work from this session:\n\n")
	fmt.Fprintf(&b, "1. Review the session state file at `%s`\n", filepath.Join(sessionDir, "state.json"))
	b.WriteString("2. Check the last messages and actions above\n")
	fmt.Fprintf(&b, "3. Resume the session with `sessionhub session resume %s`\n", id)

	path := filepath.Join(sessionDir, reportFileName)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write crash report: %w", err)
	}
	g.logger.Info("crash report generated", "session_id", string(id), "path", path)
	return path, nil
}

// lastMessages returns the newest messages, newest first.
func (g *Generator) lastMessages(ctx context.Context, id types.SessionID) ([]types.Message, error) {
	rows, err := g.store.Query(ctx,
		`SELECT message_id, session_id, timestamp, source, content FROM conversations
		 WHERE session_id = ? ORDER BY timestamp DESC LIMIT ?`, id, recentMessages)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []types.Message
	for rows.Next() {
		var m types.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Timestamp, &m.Source, &m.Content); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func readContextKeys(statePath string) []string {
	data, err := os.ReadFile(statePath)
	if err != nil {
		return nil
	}
	var state types.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil
	}
	keys := make([]string, 0, len(state.Context))
	for k := range state.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatEnd(t *time.Time) string {
	if t == nil {
		return "N/A"
	}
	return t.Format(time.RFC3339)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
