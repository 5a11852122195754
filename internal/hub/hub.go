// internal/hub/hub.go
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/user/sessionhub/internal/action"
	"github.com/user/sessionhub/internal/config"
	"github.com/user/sessionhub/internal/continuity"
	"github.com/user/sessionhub/internal/contextstore"
	"github.com/user/sessionhub/internal/scheduler"
	"github.com/user/sessionhub/internal/session"
	"github.com/user/sessionhub/internal/settings"
	"github.com/user/sessionhub/internal/store"
	"github.com/user/sessionhub/internal/validation"
)

// Hub wires the store, the session lifecycle manager, and the
// collaborator components into one handle. Opening a hub runs crash
// recovery; closing it releases the session lock without ending the
// session, so the next open resumes cleanly instead of reporting a
// crash.
type Hub struct {
	Config     *config.Config
	Store      *store.Store
	Sessions   *session.Manager
	Actions    *action.Log
	Queue      *action.Queue
	Context    *contextstore.Store
	Settings   *settings.Manager
	Rules      *validation.Validator
	Continuity *continuity.Generator

	logger *slog.Logger
}

// Open builds the full component graph from config. Crash recovery runs
// inside the session manager constructor; if a crash was detected a
// crash report is generated best-effort before Open returns.
func Open(ctx context.Context, cfg *config.Config) (*Hub, error) {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	sessions, err := session.NewManager(st, session.Dirs{
		Active:    cfg.Sessions.ActiveDir,
		Crashed:   cfg.Sessions.CrashedDir,
		Completed: cfg.Sessions.CompletedDir,
	}, cfg.Sessions.LockFile)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init session manager: %w", err)
	}

	cfgStore, err := settings.NewManager(ctx, st)
	if err != nil {
		st.Close()
		return nil, err
	}
	rules, err := validation.New(ctx, st)
	if err != nil {
		st.Close()
		return nil, err
	}

	actions := action.NewLog(st, sessions)
	h := &Hub{
		Config:     cfg,
		Store:      st,
		Sessions:   sessions,
		Actions:    actions,
		Queue:      action.NewQueue(actions, cfg.Actions.MaxConcurrent),
		Context:    contextstore.NewStore(st, sessions),
		Settings:   cfgStore,
		Rules:      rules,
		Continuity: continuity.New(st, sessions, cfg.ProjectName),
		logger:     slog.With("component", "hub"),
	}

	if crashed := sessions.Recovered(); crashed != "" {
		h.logger.Warn("recovered from crash", "session_id", string(crashed))
		if _, err := h.Continuity.CrashReport(ctx, crashed); err != nil {
			h.logger.Warn("crash report generation failed", "session_id", string(crashed), "error", err)
		}
	}
	return h, nil
}

// Close releases the session lock for the still-active session, stops
// the queue, and closes the store.
func (h *Hub) Close() error {
	h.Queue.Stop()
	h.Sessions.CleanExit()
	return h.Store.Close()
}

// Backup copies the database into the backup directory with a
// timestamped name and refreshes the continuity document when a session
// is active. Returns the backup path.
func (h *Hub) Backup(ctx context.Context) (string, error) {
	name := fmt.Sprintf("sessionhub_%s.db", time.Now().Format("20060102150405"))
	dest := filepath.Join(h.Config.Backup.Dir, name)
	if err := h.Store.Backup(ctx, dest); err != nil {
		return "", err
	}
	h.logger.Info("database backed up", "path", dest)

	if h.Sessions.CurrentID() != "" {
		if _, err := h.Continuity.Generate(ctx, false); err != nil {
			h.logger.Warn("continuity refresh failed", "error", err)
		}
	}
	return dest, nil
}

// Maintenance builds the serve-mode scheduler: periodic database
// backups and continuity document refreshes, with intervals taken from
// the settings store.
func (h *Hub) Maintenance(ctx context.Context) (*scheduler.Scheduler, error) {
	var tasks []scheduler.Task

	backupEnabled, err := h.Settings.GetBool(ctx, "backup.enabled", true)
	if err != nil {
		return nil, err
	}
	if backupEnabled {
		interval, err := h.Settings.GetInt(ctx, "backup.interval_minutes", 60)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, scheduler.Task{
			Name:     "backup",
			Schedule: fmt.Sprintf("@every %dm", interval),
			Run: func(ctx context.Context) error {
				_, err := h.Backup(ctx)
				return err
			},
		})
	}

	refresh, err := h.Settings.GetInt(ctx, "continuity.refresh_minutes", 10)
	if err != nil {
		return nil, err
	}
	tasks = append(tasks, scheduler.Task{
		Name:     "continuity-refresh",
		Schedule: fmt.Sprintf("@every %dm", refresh),
		Run: func(ctx context.Context) error {
			if h.Sessions.CurrentID() == "" {
				return nil
			}
			_, err := h.Continuity.Generate(ctx, false)
			return err
		},
	})

	return scheduler.New(tasks), nil
}
