package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	DataDir     string `json:"data_dir"`
	LogLevel    string `json:"log_level"`
	ProjectName string `json:"project_name"`
	Database    struct {
		Path string `json:"path"`
	} `json:"database"`
	Sessions struct {
		ActiveDir    string `json:"active_dir"`
		CrashedDir   string `json:"crashed_dir"`
		CompletedDir string `json:"completed_dir"`
		LockFile     string `json:"lock_file"`
	} `json:"sessions"`
	Backup struct {
		Dir string `json:"dir"`
	} `json:"backup"`
	Actions struct {
		MaxConcurrent int64 `json:"max_concurrent"`
	} `json:"actions"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:     filepath.Join(os.Getenv("HOME"), ".sessionhub"),
		LogLevel:    "info",
		ProjectName: "SessionHub",
	}
	cfg.Actions.MaxConcurrent = 4

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if dataDir := os.Getenv("SESSIONHUB_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if level := os.Getenv("SESSIONHUB_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if dbPath := os.Getenv("SESSIONHUB_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	// Paths left empty resolve under the data dir
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(cfg.DataDir, "sessionhub.db")
	}
	if cfg.Sessions.ActiveDir == "" {
		cfg.Sessions.ActiveDir = filepath.Join(cfg.DataDir, "sessions", "active")
	}
	if cfg.Sessions.CrashedDir == "" {
		cfg.Sessions.CrashedDir = filepath.Join(cfg.DataDir, "sessions", "crashed")
	}
	if cfg.Sessions.CompletedDir == "" {
		cfg.Sessions.CompletedDir = filepath.Join(cfg.DataDir, "sessions", "completed")
	}
	if cfg.Sessions.LockFile == "" {
		cfg.Sessions.LockFile = filepath.Join(cfg.DataDir, "session.lock")
	}
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = filepath.Join(cfg.DataDir, "backups")
	}
	if cfg.Actions.MaxConcurrent <= 0 {
		cfg.Actions.MaxConcurrent = 4
	}

	return cfg, nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
