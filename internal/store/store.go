// internal/store/store.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/user/sessionhub/internal/types"
)

// Store is the SQLite persistence layer shared by the lifecycle manager,
// the action log, and the collaborator stores. database/sql pools
// connections; statements outside an explicit Tx auto-commit, so
// multi-statement atomicity requires Begin.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and runs migrations.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		start_time DATETIME NOT NULL,
		end_time DATETIME,
		status TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS conversations (
		message_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		source TEXT NOT NULL,
		content TEXT NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id, timestamp);

	CREATE TABLE IF NOT EXISTS actions (
		action_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		action_type TEXT NOT NULL,
		start_time DATETIME NOT NULL,
		end_time DATETIME,
		status TEXT NOT NULL,
		params TEXT,
		result TEXT,
		FOREIGN KEY (session_id) REFERENCES sessions(session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_actions_session ON actions(session_id, start_time);
	CREATE INDEX IF NOT EXISTS idx_actions_status ON actions(session_id, status);

	CREATE TABLE IF NOT EXISTS state_snapshots (
		snapshot_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		state_data TEXT NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_session ON state_snapshots(session_id, timestamp);

	CREATE TABLE IF NOT EXISTS session_relationships (
		relationship_id INTEGER PRIMARY KEY AUTOINCREMENT,
		parent_session_id TEXT NOT NULL,
		child_session_id TEXT NOT NULL,
		relation_type TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		config_key TEXT PRIMARY KEY,
		config_value TEXT NOT NULL,
		config_type TEXT NOT NULL DEFAULT 'TEXT',
		default_value TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		last_modified DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS validation_rules (
		rule_type TEXT PRIMARY KEY,
		pattern TEXT NOT NULL,
		error_message TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS field_rules (
		field_name TEXT PRIMARY KEY,
		rule_type TEXT NOT NULL,
		required INTEGER NOT NULL DEFAULT 0,
		description TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (rule_type) REFERENCES validation_rules(rule_type)
	);

	CREATE TABLE IF NOT EXISTS system_logs (
		log_id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		log_level TEXT NOT NULL,
		component TEXT NOT NULL,
		message TEXT NOT NULL,
		session_id TEXT,
		additional_data TEXT
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- generic primitives ---

// Exec runs a write statement and returns the number of affected rows.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Query runs a read query. The caller owns the returned rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// QueryRow runs a read query expected to return at most one row.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// Tx is an explicit transaction boundary. Statements issued through it
// commit or roll back together; everything else on the Store continues to
// auto-commit independently.
type Tx struct {
	tx *sql.Tx
}

// Begin opens an explicit transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Exec runs a write statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// --- audit log ---

// LogEvent appends an entry to the system_logs audit table. Audit
// failures are reported to the caller but are never fatal to the
// operation being audited.
func (s *Store) LogEvent(ctx context.Context, level, component, message string, sessionID types.SessionID, data any) error {
	var extra sql.NullString
	if data != nil {
		raw, err := json.Marshal(data)
		if err == nil {
			extra = sql.NullString{String: string(raw), Valid: true}
		}
	}
	var sid sql.NullString
	if sessionID != "" {
		sid = sql.NullString{String: string(sessionID), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_logs (timestamp, log_level, component, message, session_id, additional_data)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().UTC(), level, component, message, sid, extra,
	)
	return err
}

// Backup writes a consistent copy of the database to destPath.
func (s *Store) Backup(ctx context.Context, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	// VACUUM INTO snapshots the whole database in one statement.
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, destPath); err != nil {
		return fmt.Errorf("backup database: %w", err)
	}
	return nil
}
