package main

import (
	"strings"
	"testing"

	"github.com/nvandessel/worldline/internal/config"
)

func TestConfigCmd(t *testing.T) {
	root := t.TempDir()
	isolateHome(t, root)

	if got := strings.TrimSpace(mustRun(t, root, "config", "get", "store.backend")); got != "sqlite" {
		t.Errorf("default backend = %q", got)
	}

	mustRun(t, root, "config", "set", "store.backend", "bolt")
	mustRun(t, root, "config", "set", "backup.max_age", "30d")
	mustRun(t, root, "config", "set", "engine.seed", "99")

	cfg, err := config.LoadFromFile(config.Path(root))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Backend != "bolt" || cfg.Backup.MaxAge != "30d" || cfg.Engine.Seed != 99 {
		t.Errorf("saved config = %+v", cfg)
	}
	// Untouched settings keep their defaults.
	if cfg.Backup.MaxCount != 10 || cfg.Engine.Scripts != "scripts" {
		t.Errorf("defaults lost: %+v", cfg)
	}

	out := mustRun(t, root, "config", "list")
	for _, want := range []string{"store.backend:", "bolt", "backup.max_age:", "logging.level:"} {
		if !strings.Contains(out, want) {
			t.Errorf("config list missing %q:\n%s", want, out)
		}
	}
}

func TestConfigCmd_EnvOverride(t *testing.T) {
	root := t.TempDir()
	isolateHome(t, root)
	t.Setenv("WORLDLINE_LOG_LEVEL", "debug")

	m := decodeJSON(t, mustRun(t, root, "config", "get", "logging.level", "--json"))
	if m["value"] != "debug" {
		t.Errorf("logging.level = %v, want debug", m["value"])
	}
}

func TestConfigCmd_SetRejects(t *testing.T) {
	root := t.TempDir()
	isolateHome(t, root)

	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown section", "network.port", "80"},
		{"unknown field", "store.driver", "x"},
		{"no field", "store", "x"},
		{"invalid backend", "store.backend", "postgres"},
		{"negative speed", "engine.default_speed", "-1"},
		{"bad age", "backup.max_age", "forever"},
		{"wrong type", "backup.max_count", "many"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCLI(t, root, "config", "set", tt.key, tt.val); err == nil {
				t.Errorf("config set %s %s should fail", tt.key, tt.val)
			}
		})
	}
	if _, err := runCLI(t, root, "config", "get", "store.driver"); err == nil {
		t.Error("config get of an unknown key should fail")
	}
}

func TestFlattenConfig(t *testing.T) {
	settings, err := flattenConfig(config.Default())
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{
		"store.backend", "store.path",
		"engine.seed", "engine.default_speed", "engine.collapse_runs", "engine.scripts",
		"logging.level", "logging.turn_log",
		"backup.dir", "backup.max_count", "backup.max_age", "backup.max_total_size",
	} {
		if _, ok := settings[key]; !ok {
			t.Errorf("flattenConfig missing %s", key)
		}
	}
}
