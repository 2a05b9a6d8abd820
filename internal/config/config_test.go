package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/worldline/internal/backup"
	"github.com/nvandessel/worldline/internal/store"
)

func writeConfig(t *testing.T, root, content string) {
	t.Helper()
	path := Path(root)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
}

func TestDefault(t *testing.T) {
	config := Default()

	if config.Store.Backend != store.BackendSQLite {
		t.Errorf("expected Backend sqlite, got %q", config.Store.Backend)
	}
	if config.Engine.DefaultSpeed != 1 {
		t.Errorf("expected DefaultSpeed 1, got %v", config.Engine.DefaultSpeed)
	}
	if config.Engine.CollapseRuns {
		t.Error("expected CollapseRuns to be false by default")
	}
	if config.Logging.Level != "info" {
		t.Errorf("expected Logging.Level 'info', got '%s'", config.Logging.Level)
	}
	if config.Backup.MaxCount != 10 {
		t.Errorf("expected Backup.MaxCount 10, got %d", config.Backup.MaxCount)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Backend != store.BackendSQLite {
		t.Errorf("expected defaults, got backend %q", cfg.Store.Backend)
	}
}

func TestLoad_File(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
store:
  backend: bolt
engine:
  seed: 42
  default_speed: 2.5
  collapse_runs: true
logging:
  level: debug
backup:
  max_age: 30d
`)

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Backend != store.BackendBolt {
		t.Errorf("expected Backend bolt, got %q", cfg.Store.Backend)
	}
	if cfg.Engine.Seed != 42 || cfg.Engine.DefaultSpeed != 2.5 || !cfg.Engine.CollapseRuns {
		t.Errorf("engine section not loaded: %+v", cfg.Engine)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected Logging.Level 'debug', got '%s'", cfg.Logging.Level)
	}
	// Unset fields keep their defaults.
	if cfg.Backup.MaxCount != 10 {
		t.Errorf("expected Backup.MaxCount default 10, got %d", cfg.Backup.MaxCount)
	}
	if cfg.Engine.Scripts != "scripts" {
		t.Errorf("expected Scripts default, got %q", cfg.Engine.Scripts)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
store:
  backend: bolt
logging:
  level: debug
`)
	t.Setenv("WORLDLINE_STORE_BACKEND", "memory")
	t.Setenv("WORLDLINE_ENGINE_SEED", "9")
	t.Setenv("WORLDLINE_ENGINE_COLLAPSE_RUNS", "true")
	t.Setenv("WORLDLINE_BACKUP_MAX_COUNT", "3")

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Backend != store.BackendMemory {
		t.Errorf("expected env backend memory, got %q", cfg.Store.Backend)
	}
	if cfg.Engine.Seed != 9 || !cfg.Engine.CollapseRuns {
		t.Errorf("engine env overrides not applied: %+v", cfg.Engine)
	}
	if cfg.Backup.MaxCount != 3 {
		t.Errorf("expected MaxCount 3, got %d", cfg.Backup.MaxCount)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("unset env var should keep file value, got %q", cfg.Logging.Level)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
		want    string
	}{
		{"bad backend", "store:\n  backend: postgres\n", nil, "invalid store backend"},
		{"bad yaml", "store: [\n", nil, "parsing config file"},
		{"bad env number", "", map[string]string{"WORLDLINE_ENGINE_SEED": "many"}, "parse env"},
		{"bad level", "logging:\n  level: loud\n", nil, "invalid log level"},
		{"bad age", "backup:\n  max_age: soon\n", nil, "max_age"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			if tt.content != "" {
				writeConfig(t, root, tt.content)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(root)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadFromFile_EnvExpansion(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
store:
  path: ${WORLD_HOME}/world.db
backup:
  dir: ${WORLD_HOME}/backups
`)
	t.Setenv("WORLD_HOME", "/srv/world")

	cfg, err := LoadFromFile(Path(root))
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Store.Path != "/srv/world/world.db" {
		t.Errorf("expected expanded store path, got %q", cfg.Store.Path)
	}
	if cfg.BackupDir(root) != "/srv/world/backups" {
		t.Errorf("expected expanded backup dir, got %q", cfg.BackupDir(root))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"default", func(*Config) {}, true},
		{"bolt", func(c *Config) { c.Store.Backend = store.BackendBolt }, true},
		{"empty level", func(c *Config) { c.Logging.Level = "" }, true},
		{"upper level", func(c *Config) { c.Logging.Level = "TRACE" }, true},
		{"zero speed", func(c *Config) { c.Engine.DefaultSpeed = 0 }, false},
		{"negative count", func(c *Config) { c.Backup.MaxCount = -1 }, false},
		{"bad size", func(c *Config) { c.Backup.MaxTotalSize = "lots" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err == nil) != tt.valid {
				t.Errorf("Validate() error = %v, valid = %v", err, tt.valid)
			}
		})
	}
}

func TestPaths(t *testing.T) {
	root := "/proj"
	cfg := Default()

	if got := cfg.StorePath(root); got != filepath.Join(root, ".worldline", "world.db") {
		t.Errorf("StorePath() = %q", got)
	}
	cfg.Store.Backend = store.BackendBolt
	if got := cfg.StorePath(root); got != filepath.Join(root, ".worldline", "world.bolt") {
		t.Errorf("StorePath(bolt) = %q", got)
	}
	cfg.Store.Path = "data/w.bolt"
	if got := cfg.StorePath(root); got != filepath.Join(root, "data", "w.bolt") {
		t.Errorf("StorePath(relative) = %q", got)
	}
	if got := cfg.ScriptsDir(root); got != filepath.Join(root, ".worldline", "scripts") {
		t.Errorf("ScriptsDir() = %q", got)
	}
	if got := cfg.BackupDir(root); got != filepath.Join(root, ".worldline", "backups") {
		t.Errorf("BackupDir() = %q", got)
	}
}

func TestRetention(t *testing.T) {
	cfg := Default()
	cfg.Backup.MaxCount = 0
	r, err := cfg.Retention()
	if err != nil || !r.IsZero() {
		t.Fatalf("no limits: retention = %+v, err = %v", r, err)
	}

	cfg.Backup.MaxCount = 2
	cfg.Backup.MaxAge = "1w"
	cfg.Backup.MaxTotalSize = "1MB"
	r, err = cfg.Retention()
	if err != nil {
		t.Fatal(err)
	}
	want := backup.Retention{MaxCount: 2, MaxAge: 7 * 24 * time.Hour, MaxTotalBytes: 1 << 20}
	if r != want {
		t.Errorf("Retention() = %+v, want %+v", r, want)
	}

	cfg.Backup.MaxAge = "soon"
	if _, err := cfg.Retention(); err == nil {
		t.Error("bad max_age should fail")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.Store.Backend = store.BackendBolt
	cfg.Engine.Seed = 5

	if err := Save(cfg, Path(root)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(root)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Store.Backend != store.BackendBolt || loaded.Engine.Seed != 5 {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}
