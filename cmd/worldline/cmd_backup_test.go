package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBackupRestoreCmd(t *testing.T) {
	root := newFarm(t)
	mustRun(t, root, "run", "3")

	m := decodeJSON(t, mustRun(t, root, "backup", "--json"))
	path, _ := m["path"].(string)
	if !strings.HasPrefix(path, filepath.Join(root, ".worldline", "backups")) {
		t.Fatalf("backup path = %q", path)
	}
	if rows, _ := m["rows"].(float64); rows == 0 {
		t.Errorf("backup rows = %v", m["rows"])
	}

	v := decodeJSON(t, mustRun(t, root, "backup", "verify", path, "--json"))
	if v["valid"] != true {
		t.Errorf("verify = %v", v)
	}
	l := decodeJSON(t, mustRun(t, root, "backup", "list", "--json"))
	if l["total_count"] != float64(1) {
		t.Errorf("list total_count = %v", l["total_count"])
	}

	// Restore into a fresh project.
	other := t.TempDir()
	isolateHome(t, other)
	mustRun(t, other, "init")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	copied := filepath.Join(other, ".worldline", "backups", filepath.Base(path))
	if err := os.MkdirAll(filepath.Dir(copied), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(copied, data, 0600); err != nil {
		t.Fatal(err)
	}

	r := decodeJSON(t, mustRun(t, other, "restore", copied, "--mode", "replace", "--json"))
	if r["rows_restored"] != m["rows"] {
		t.Errorf("rows_restored = %v, want %v", r["rows_restored"], m["rows"])
	}
	st := decodeJSON(t, mustRun(t, other, "status", "--json"))
	if st["now"] != "0.3" || st["seed"] != float64(11) {
		t.Errorf("restored status = %v", st)
	}
	if got := strings.TrimSpace(mustRun(t, other, "stat", "farm", "count")); got != "3" {
		t.Errorf("restored count = %q, want 3", got)
	}
}

func TestBackupCmd_Rejections(t *testing.T) {
	root := newFarm(t)

	outside := filepath.Join(t.TempDir(), "stolen.wlb")
	if _, err := runCLI(t, root, "backup", "--output", outside); err == nil {
		t.Error("backup outside the backup directories should fail")
	}
	if _, err := runCLI(t, root, "restore", outside); err == nil {
		t.Error("restore from outside the backup directories should fail")
	}
	if _, err := runCLI(t, root, "restore", "x.wlb", "--mode", "overwrite"); err == nil {
		t.Error("unknown restore mode should fail")
	}

	corrupt := filepath.Join(root, ".worldline", "backups", "worldline-backup-bad.wlb")
	if err := os.MkdirAll(filepath.Dir(corrupt), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(corrupt, []byte("not a backup\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, root, "backup", "verify", corrupt); err == nil {
		t.Error("verify of a corrupt file should fail")
	}
}

func TestBackupCmd_NoWorld(t *testing.T) {
	root := t.TempDir()
	isolateHome(t, root)
	if _, err := runCLI(t, root, "backup"); err == nil {
		t.Error("backup without a world should fail")
	}
}

func TestBackupCmd_Retention(t *testing.T) {
	root := newFarm(t)
	mustRun(t, root, "config", "set", "backup.max_count", "1")

	mustRun(t, root, "backup")
	m := decodeJSON(t, mustRun(t, root, "backup", "--json"))
	if m["pruned"] != float64(1) {
		t.Errorf("pruned = %v, want 1", m["pruned"])
	}
	l := decodeJSON(t, mustRun(t, root, "backup", "list", "--json"))
	if l["total_count"] != float64(1) {
		t.Errorf("backups kept = %v, want 1", l["total_count"])
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{2048, "2.0 KB"},
		{3 << 20, "3.0 MB"},
	}
	for _, tt := range tests {
		if got := formatSize(tt.n); got != tt.want {
			t.Errorf("formatSize(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
