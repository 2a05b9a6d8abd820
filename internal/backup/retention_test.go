package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ranked builds readable backups one hour apart, newest first.
func ranked(now time.Time, sizes ...int64) []BackupInfo {
	out := make([]BackupInfo, len(sizes))
	for i, size := range sizes {
		out[i] = BackupInfo{
			Path:      filepath.Join("/b", string(rune('a'+i))+FileExt),
			Size:      size,
			CreatedAt: now.Add(-time.Duration(i) * time.Hour),
			Readable:  true,
		}
	}
	return out
}

func TestRetention_Select(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		retention Retention
		backups   []BackupInfo
		wantKeep  int
	}{
		{"unset keeps all", Retention{}, ranked(now, 1, 1, 1), 3},
		{"count", Retention{MaxCount: 2}, ranked(now, 1, 1, 1, 1), 2},
		{"count above total", Retention{MaxCount: 9}, ranked(now, 1), 1},
		{"age", Retention{MaxAge: 90 * time.Minute}, ranked(now, 1, 1, 1, 1), 2},
		{"size", Retention{MaxTotalBytes: 1200}, ranked(now, 500, 500, 500), 2},
		{"newest survives size", Retention{MaxTotalBytes: 10}, ranked(now, 500, 500), 1},
		{"any limit keeps", Retention{MaxCount: 1, MaxAge: 150 * time.Minute}, ranked(now, 1, 1, 1, 1), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keep, prune := tt.retention.Select(tt.backups, now)
			if len(keep) != tt.wantKeep {
				t.Errorf("kept %d, want %d", len(keep), tt.wantKeep)
			}
			if len(keep)+len(prune) != len(tt.backups) {
				t.Errorf("kept %d + pruned %d != %d", len(keep), len(prune), len(tt.backups))
			}
			if len(keep) > 0 && keep[0].Path != tt.backups[0].Path {
				t.Errorf("newest %s was not kept", tt.backups[0].Path)
			}
		})
	}
}

func TestRetention_PrunesUnreadable(t *testing.T) {
	now := time.Now()
	backups := ranked(now, 1, 1, 1)
	backups[0].Readable = false

	keep, prune := Retention{MaxCount: 5}.Select(backups, now)
	if len(prune) != 1 || prune[0].Path != backups[0].Path {
		t.Errorf("pruned %v, want the unreadable backup", prune)
	}
	if len(keep) != 2 {
		t.Errorf("kept %d, want 2", len(keep))
	}
}

func TestListBackups_ReadsHeaders(t *testing.T) {
	dir := t.TempDir()

	created := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	if _, err := writeFile(filepath.Join(dir, FilePrefix+"20260203-120000.000"+FileExt), Header{CreatedAt: created, Rows: 4}, []byte("rows")); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		FilePrefix + "20260201-120000.000" + FileExt: "no header",
		"not-a-backup.txt":                           "ignore this",
		FilePrefix + "20260202-120000.000.json":      "wrong extension",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}

	backups, err := ListBackups(dir)
	if err != nil {
		t.Fatalf("ListBackups() error = %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("ListBackups() found %d, want 2", len(backups))
	}
	if b := backups[0]; !b.Readable || b.Rows != 4 || !b.CreatedAt.Equal(created) || b.Version != FormatVersion {
		t.Errorf("first backup = %+v", b)
	}
	// The headerless file is dated by its name.
	if b := backups[1]; b.Readable || !b.CreatedAt.Equal(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("headerless backup = %+v", b)
	}

	missing, err := ListBackups(filepath.Join(dir, "missing"))
	if err != nil || missing != nil {
		t.Errorf("ListBackups(missing) = %v, %v", missing, err)
	}
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	for day := 1; day <= 5; day++ {
		created := time.Date(2026, 2, day, 12, 0, 0, 0, time.UTC)
		name := filepath.Join(dir, FilePrefix+created.Format(backupStamp)+FileExt)
		if _, err := writeFile(name, Header{CreatedAt: created}, []byte("rows")); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, FilePrefix+"broken"+FileExt), []byte("{"), 0600); err != nil {
		t.Fatal(err)
	}

	deleted, err := Prune(dir, Retention{MaxCount: 2})
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if len(deleted) != 4 {
		t.Errorf("deleted %d files, want 4", len(deleted))
	}

	remaining, _ := ListBackups(dir)
	if len(remaining) != 2 {
		t.Fatalf("remaining = %d, want 2", len(remaining))
	}
	if filepath.Base(remaining[0].Path) != FilePrefix+"20260205-120000.000"+FileExt {
		t.Errorf("newest kept = %s", remaining[0].Path)
	}

	if deleted, err := Prune(dir, Retention{}); err != nil || deleted != nil {
		t.Errorf("Prune(unset) = %v, %v", deleted, err)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"30d", 30 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"720h", 720 * time.Hour, false},
		{"0d", 0, false},
		{"", 0, true},
		{"abc", 0, true},
		{"3y", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.input)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, %v", tt.input, got, err)
		}
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"100MB", 100 << 20, false},
		{"1GB", 1 << 30, false},
		{"500kb", 500 << 10, false},
		{"1024B", 1024, false},
		{"0MB", 0, false},
		{"", 0, true},
		{"MB", 0, true},
		{"12TB", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.input)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseSize(%q) = %d, %v", tt.input, got, err)
		}
	}
}
