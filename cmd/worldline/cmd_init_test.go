package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitCmd(t *testing.T) {
	root := t.TempDir()
	isolateHome(t, root)

	out := mustRun(t, root, "init", "--json", "--seed", "5")
	m := decodeJSON(t, out)
	if m["config_created"] != true {
		t.Errorf("config_created = %v", m["config_created"])
	}
	if m["seed"] != float64(5) {
		t.Errorf("seed = %v, want 5", m["seed"])
	}

	for _, p := range []string{
		filepath.Join(root, ".worldline", "config.yaml"),
		filepath.Join(root, ".worldline", "scripts", "README.lua"),
		filepath.Join(root, ".worldline", "world.db"),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("init did not create %s: %v", p, err)
		}
	}

	// Running init again keeps the config and the world's seed.
	m = decodeJSON(t, mustRun(t, root, "init", "--json", "--seed", "9"))
	if m["config_created"] != false {
		t.Errorf("second init recreated the config")
	}
	if m["seed"] != float64(5) {
		t.Errorf("second init seed = %v, want 5", m["seed"])
	}
}

func TestInitCmd_Backend(t *testing.T) {
	root := t.TempDir()
	isolateHome(t, root)

	mustRun(t, root, "init", "--backend", "bolt")
	if _, err := os.Stat(filepath.Join(root, ".worldline", "world.bolt")); err != nil {
		t.Errorf("bolt store not created: %v", err)
	}
	if _, err := runCLI(t, root, "init", "--backend", "sqlite"); err == nil {
		t.Error("init --backend over an existing config should fail")
	}

	other := t.TempDir()
	if _, err := runCLI(t, other, "init", "--backend", "postgres"); err == nil {
		t.Error("init should reject an unknown backend")
	}
}

func TestInitCmd_ScriptsLoad(t *testing.T) {
	root := newFarm(t)
	// The README script is all comments; tally.lua declares a rule that
	// fires every turn.
	m := decodeJSON(t, mustRun(t, root, "run", "2", "--json"))
	summary := m["summary"].(map[string]any)
	if summary["fired"] != float64(2) {
		t.Errorf("fired = %v, want 2", summary["fired"])
	}
}
