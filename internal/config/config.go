// Package config provides unified configuration loading for worldline.
// It supports loading from a per-project YAML file and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/worldline/internal/backup"
	"github.com/nvandessel/worldline/internal/store"
)

// FileName is the config file inside the project's .worldline directory.
const FileName = "config.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WORLDLINE_"

// Config contains all worldline configuration settings.
type Config struct {
	// Store selects where the fact delta is persisted.
	Store StoreConfig `json:"store" yaml:"store" envPrefix:"STORE_"`

	// Engine contains settings for turn simulation and travel.
	Engine EngineConfig `json:"engine" yaml:"engine" envPrefix:"ENGINE_"`

	// Logging contains settings for operational and turn logging.
	Logging LoggingConfig `json:"logging" yaml:"logging" envPrefix:"LOG_"`

	// Backup contains the backup directory and retention limits.
	Backup BackupConfig `json:"backup" yaml:"backup" envPrefix:"BACKUP_"`
}

// StoreConfig selects a row store backend.
type StoreConfig struct {
	// Backend is "sqlite" (default), "bolt" or "memory".
	Backend store.Backend `json:"backend" yaml:"backend" env:"BACKEND"`

	// Path overrides the backend's default file under .worldline.
	// Supports ${VAR} syntax for env vars.
	Path string `json:"path,omitempty" yaml:"path,omitempty" env:"PATH"`
}

// EngineConfig configures the simulation driver.
type EngineConfig struct {
	// Seed is the root random seed of a newly created world. Zero picks the
	// built-in default. Existing worlds keep their own seed.
	Seed uint64 `json:"seed" yaml:"seed" env:"SEED"`

	// DefaultSpeed is the travel speed of things without a speed stat.
	DefaultSpeed float64 `json:"default_speed" yaml:"default_speed" env:"DEFAULT_SPEED"`

	// CollapseRuns reports only the first tick of each run of matching
	// ticks in historical queries.
	CollapseRuns bool `json:"collapse_runs" yaml:"collapse_runs" env:"COLLAPSE_RUNS"`

	// Scripts is the directory of Lua rule scripts, relative to .worldline.
	Scripts string `json:"scripts" yaml:"scripts" env:"SCRIPTS"`
}

// LoggingConfig configures worldline's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "trace", "debug", "info" (default),
	// "warn" or "error". "debug" and "trace" also enable the turn log.
	Level string `json:"level" yaml:"level" env:"LEVEL"`

	// TurnLog forces .worldline/turns.jsonl on regardless of level.
	TurnLog bool `json:"turn_log" yaml:"turn_log" env:"TURN_LOG"`
}

// BackupConfig configures backups and their retention.
type BackupConfig struct {
	// Dir holds backup files. Empty means .worldline/backups.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty" env:"DIR"`

	// MaxCount keeps at most this many backups. Zero disables the limit.
	MaxCount int `json:"max_count" yaml:"max_count" env:"MAX_COUNT"`

	// MaxAge keeps backups younger than this, e.g. "30d" or "720h".
	MaxAge string `json:"max_age,omitempty" yaml:"max_age,omitempty" env:"MAX_AGE"`

	// MaxTotalSize caps the total size of kept backups, e.g. "100MB".
	MaxTotalSize string `json:"max_total_size,omitempty" yaml:"max_total_size,omitempty" env:"MAX_TOTAL_SIZE"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: store.BackendSQLite,
		},
		Engine: EngineConfig{
			DefaultSpeed: 1,
			Scripts:      "scripts",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Backup: BackupConfig{
			MaxCount: 10,
		},
	}
}

// Path returns the config file of a project root.
func Path(root string) string {
	return filepath.Join(store.LocalPath(root), FileName)
}

// Load loads configuration for the project at root.
// Order: defaults -> <root>/.worldline/config.yaml -> WORLDLINE_* environment
// variables. The result is validated.
func Load(root string) (*Config, error) {
	cfg := Default()

	path := Path(root)
	if _, err := os.Stat(path); err == nil {
		fileConfig, loadErr := LoadFromFile(path)
		if loadErr != nil {
			return nil, fmt.Errorf("loading config file: %w", loadErr)
		}
		cfg = fileConfig
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific YAML file. Unset fields
// keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Store.Path = expandEnvVars(cfg.Store.Path)
	cfg.Backup.Dir = expandEnvVars(cfg.Backup.Dir)
	cfg.Engine.Scripts = expandEnvVars(cfg.Engine.Scripts)

	return cfg, nil
}

// ApplyEnv overrides cfg with the WORLDLINE_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Save writes cfg to path, creating the directory if needed.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case store.BackendSQLite, store.BackendBolt, store.BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("invalid store backend: %s (valid: sqlite, bolt, memory)", c.Store.Backend))
	}

	if c.Engine.DefaultSpeed <= 0 {
		errs = append(errs, fmt.Errorf("default_speed must be positive, got %v", c.Engine.DefaultSpeed))
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if c.Logging.Level != "" && !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid log level: %s (valid: trace, debug, info, warn, error)", c.Logging.Level))
	}

	if c.Backup.MaxCount < 0 {
		errs = append(errs, fmt.Errorf("backup max_count must be non-negative, got %d", c.Backup.MaxCount))
	}
	if c.Backup.MaxAge != "" {
		if _, err := backup.ParseDuration(c.Backup.MaxAge); err != nil {
			errs = append(errs, fmt.Errorf("backup max_age: %w", err))
		}
	}
	if c.Backup.MaxTotalSize != "" {
		if _, err := backup.ParseSize(c.Backup.MaxTotalSize); err != nil {
			errs = append(errs, fmt.Errorf("backup max_total_size: %w", err))
		}
	}

	return errors.Join(errs...)
}

// StorePath resolves the row store location under root.
func (c *Config) StorePath(root string) string {
	if c.Store.Path != "" {
		if filepath.IsAbs(c.Store.Path) {
			return c.Store.Path
		}
		return filepath.Join(root, c.Store.Path)
	}
	return store.DefaultPath(root, c.Store.Backend)
}

// ScriptsDir resolves the Lua script directory under root.
func (c *Config) ScriptsDir(root string) string {
	if filepath.IsAbs(c.Engine.Scripts) {
		return c.Engine.Scripts
	}
	return filepath.Join(store.LocalPath(root), c.Engine.Scripts)
}

// BackupDir resolves the backup directory under root.
func (c *Config) BackupDir(root string) string {
	switch {
	case c.Backup.Dir == "":
		return filepath.Join(store.LocalPath(root), "backups")
	case filepath.IsAbs(c.Backup.Dir):
		return c.Backup.Dir
	}
	return filepath.Join(root, c.Backup.Dir)
}

// Retention converts the backup limits into a backup.Retention. Unset
// limits stay zero.
func (c *Config) Retention() (backup.Retention, error) {
	r := backup.Retention{MaxCount: c.Backup.MaxCount}
	var err error
	if c.Backup.MaxAge != "" {
		if r.MaxAge, err = backup.ParseDuration(c.Backup.MaxAge); err != nil {
			return backup.Retention{}, err
		}
	}
	if c.Backup.MaxTotalSize != "" {
		if r.MaxTotalBytes, err = backup.ParseSize(c.Backup.MaxTotalSize); err != nil {
			return backup.Retention{}, err
		}
	}
	return r, nil
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
