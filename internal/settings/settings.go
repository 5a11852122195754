// internal/settings/settings.go
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/user/sessionhub/internal/store"
	"github.com/user/sessionhub/internal/types"
)

// Type is the declared value type of a setting. Values are stored as
// text and converted on read.
type Type string

const (
	TypeText    Type = "TEXT"
	TypeInteger Type = "INTEGER"
	TypeFloat   Type = "FLOAT"
	TypeBoolean Type = "BOOLEAN"
	TypeJSON    Type = "JSON"
)

// Setting is one typed configuration entry.
type Setting struct {
	Key          string    `json:"key"`
	Value        string    `json:"value"`
	Type         Type      `json:"type"`
	Default      string    `json:"default"`
	Description  string    `json:"description,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Manager reads and writes typed settings in the store. Unlike the
// bootstrap file config, these are runtime-adjustable and survive in the
// database alongside the data they govern.
type Manager struct {
	store  *store.Store
	logger *slog.Logger
}

// NewManager creates a settings manager and seeds the built-in defaults
// without overwriting existing values.
func NewManager(ctx context.Context, st *store.Store) (*Manager, error) {
	m := &Manager{
		store:  st,
		logger: slog.With("component", "settings"),
	}
	if err := m.seedDefaults(ctx); err != nil {
		return nil, fmt.Errorf("seed default settings: %w", err)
	}
	return m, nil
}

func defaultSettings() []Setting {
	return []Setting{
		{Key: "session.snapshot_limit", Value: "50", Type: TypeInteger,
			Description: "Max snapshots shown by history queries"},
		{Key: "session.message_limit", Value: "100", Type: TypeInteger,
			Description: "Max messages shown by conversation queries"},
		{Key: "backup.enabled", Value: "true", Type: TypeBoolean,
			Description: "Run scheduled database backups"},
		{Key: "backup.interval_minutes", Value: "60", Type: TypeInteger,
			Description: "Minutes between scheduled database backups"},
		{Key: "continuity.refresh_minutes", Value: "10", Type: TypeInteger,
			Description: "Minutes between continuity document refreshes"},
		{Key: "continuity.token_budget", Value: "4000", Type: TypeInteger,
			Description: "Token budget hint reported for continuity documents"},
		{Key: "actions.max_concurrent", Value: "4", Type: TypeInteger,
			Description: "Concurrent background action executions"},
	}
}

func (m *Manager) seedDefaults(ctx context.Context) error {
	for _, s := range defaultSettings() {
		_, err := m.store.Exec(ctx,
			`INSERT OR IGNORE INTO settings (config_key, config_value, config_type, default_value, description, last_modified)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			s.Key, s.Value, string(s.Type), s.Value, s.Description, time.Now().UTC())
		if err != nil {
			return err
		}
	}
	return nil
}

// Get returns a setting's value converted to its declared type.
func (m *Manager) Get(ctx context.Context, key string) (any, error) {
	s, err := m.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	return convert(s.Value, s.Type)
}

// GetDefault returns the setting's converted value, or fallback when the
// key does not exist.
func (m *Manager) GetDefault(ctx context.Context, key string, fallback any) (any, error) {
	v, err := m.Get(ctx, key)
	if errors.Is(err, types.ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// GetInt returns an INTEGER setting, or fallback when the key is absent.
func (m *Manager) GetInt(ctx context.Context, key string, fallback int64) (int64, error) {
	v, err := m.GetDefault(ctx, key, fallback)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("setting %s is not an integer", key)
	}
	return n, nil
}

// GetBool returns a BOOLEAN setting, or fallback when the key is absent.
func (m *Manager) GetBool(ctx context.Context, key string, fallback bool) (bool, error) {
	v, err := m.GetDefault(ctx, key, fallback)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("setting %s is not a boolean", key)
	}
	return b, nil
}

// Lookup returns the raw setting row.
func (m *Manager) Lookup(ctx context.Context, key string) (*Setting, error) {
	var s Setting
	var typ string
	err := m.store.QueryRow(ctx,
		`SELECT config_key, config_value, config_type, default_value, description, last_modified
		 FROM settings WHERE config_key = ?`, key).
		Scan(&s.Key, &s.Value, &typ, &s.Default, &s.Description, &s.LastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("setting %s: %w", key, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	s.Type = Type(typ)
	return &s, nil
}

// Set upserts a setting, encoding the value per the declared type. An
// incompatible value is rejected before anything is written. On first
// write the encoded value also becomes the key's default.
func (m *Manager) Set(ctx context.Context, key string, value any, typ Type, description string) error {
	encoded, err := encode(value, typ)
	if err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	_, err = m.store.Exec(ctx,
		`INSERT INTO settings (config_key, config_value, config_type, default_value, description, last_modified)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(config_key) DO UPDATE SET
			config_value = excluded.config_value,
			config_type = excluded.config_type,
			description = CASE WHEN excluded.description != '' THEN excluded.description ELSE settings.description END,
			last_modified = excluded.last_modified`,
		key, encoded, string(typ), encoded, description, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	m.logger.Info("setting updated", "key", key)
	return nil
}

// Reset restores a setting to its default value.
func (m *Manager) Reset(ctx context.Context, key string) error {
	n, err := m.store.Exec(ctx,
		`UPDATE settings SET config_value = default_value, last_modified = ? WHERE config_key = ?`,
		time.Now().UTC(), key)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("setting %s: %w", key, types.ErrNotFound)
	}
	m.logger.Info("setting reset", "key", key)
	return nil
}

// ResetAll restores every setting to its default value.
func (m *Manager) ResetAll(ctx context.Context) error {
	_, err := m.store.Exec(ctx,
		`UPDATE settings SET config_value = default_value, last_modified = ?`, time.Now().UTC())
	return err
}

// Delete removes a setting.
func (m *Manager) Delete(ctx context.Context, key string) error {
	n, err := m.store.Exec(ctx, `DELETE FROM settings WHERE config_key = ?`, key)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("setting %s: %w", key, types.ErrNotFound)
	}
	return nil
}

// List returns all settings ordered by key.
func (m *Manager) List(ctx context.Context) ([]Setting, error) {
	rows, err := m.store.Query(ctx,
		`SELECT config_key, config_value, config_type, default_value, description, last_modified
		 FROM settings ORDER BY config_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var s Setting
		var typ string
		if err := rows.Scan(&s.Key, &s.Value, &typ, &s.Default, &s.Description, &s.LastModified); err != nil {
			return nil, err
		}
		s.Type = Type(typ)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Export serializes every setting as indented JSON, suitable for Import.
func (m *Manager) Export(ctx context.Context) ([]byte, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(all, "", "  ")
}

// Import loads settings from an Export payload in one transaction.
// Either every entry lands or none do.
func (m *Manager) Import(ctx context.Context, data []byte) error {
	var entries []Setting
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse settings import: %w", err)
	}

	tx, err := m.store.Begin(ctx)
	if err != nil {
		return err
	}
	for _, s := range entries {
		if _, err := convert(s.Value, s.Type); err != nil {
			tx.Rollback()
			return fmt.Errorf("setting %s: %w", s.Key, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO settings (config_key, config_value, config_type, default_value, description, last_modified)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(config_key) DO UPDATE SET
				config_value = excluded.config_value,
				config_type = excluded.config_type,
				description = excluded.description,
				last_modified = excluded.last_modified`,
			s.Key, s.Value, string(s.Type), s.Default, s.Description, time.Now().UTC()); err != nil {
			tx.Rollback()
			return fmt.Errorf("import setting %s: %w", s.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settings import: %w", err)
	}
	m.logger.Info("settings imported", "count", len(entries))
	return nil
}

func convert(raw string, typ Type) (any, error) {
	switch typ {
	case TypeText, "":
		return raw, nil
	case TypeInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("value %q is not an integer", raw)
		}
		return n, nil
	case TypeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("value %q is not a float", raw)
		}
		return f, nil
	case TypeBoolean:
		switch strings.ToLower(raw) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return nil, fmt.Errorf("value %q is not a boolean", raw)
	case TypeJSON:
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("value is not valid JSON: %w", err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("unknown setting type %q", typ)
}

func encode(value any, typ Type) (string, error) {
	switch typ {
	case TypeText, "":
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", value), nil
	case TypeInteger:
		switch n := value.(type) {
		case int:
			return strconv.Itoa(n), nil
		case int64:
			return strconv.FormatInt(n, 10), nil
		case float64:
			if n == float64(int64(n)) {
				return strconv.FormatInt(int64(n), 10), nil
			}
		case string:
			if _, err := strconv.ParseInt(n, 10, 64); err == nil {
				return n, nil
			}
		}
		return "", fmt.Errorf("value %v is not an integer", value)
	case TypeFloat:
		switch f := value.(type) {
		case float64:
			return strconv.FormatFloat(f, 'g', -1, 64), nil
		case int:
			return strconv.Itoa(f), nil
		case int64:
			return strconv.FormatInt(f, 10), nil
		case string:
			if _, err := strconv.ParseFloat(f, 64); err == nil {
				return f, nil
			}
		}
		return "", fmt.Errorf("value %v is not a float", value)
	case TypeBoolean:
		switch b := value.(type) {
		case bool:
			return strconv.FormatBool(b), nil
		case string:
			if _, err := convert(b, TypeBoolean); err == nil {
				return b, nil
			}
		}
		return "", fmt.Errorf("value %v is not a boolean", value)
	case TypeJSON:
		raw, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("value is not serializable: %w", err)
		}
		return string(raw), nil
	}
	return "", fmt.Errorf("unknown setting type %q", typ)
}
