package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/worldline/internal/store"
)

var testTables = []store.Table{
	{Name: "thing_location", KeyFields: []string{"character", "thing"}},
	{Name: "eternal", KeyFields: []string{"key"}},
}

func createTestStore(t *testing.T) *store.MemoryRowStore {
	t.Helper()
	s, err := store.NewMemoryRowStore(testTables)
	if err != nil {
		t.Fatalf("NewMemoryRowStore() error = %v", err)
	}
	return s
}

func addTestData(t *testing.T, s store.RowStore) {
	t.Helper()
	ctx := context.Background()
	b, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	err = b.InsertRows("thing_location", []store.Row{
		{Key: []string{"farm", "cow"}, Branch: 0, Tick: 0, Value: []byte(`"barn"`)},
		{Key: []string{"farm", "cow"}, Branch: 0, Tick: 3, Value: []byte(`"field"`)},
		{Key: []string{"farm", "cow"}, Branch: 1, Tick: 2, Value: []byte(`null`)},
	})
	if err == nil {
		err = b.InsertRows("eternal", []store.Row{
			{Key: []string{"season"}, Value: []byte(`"spring"`)},
		})
	}
	if err != nil {
		_ = b.Rollback()
		t.Fatal(err)
	}
	if err := b.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	src := createTestStore(t)
	addTestData(t, src)

	ctx := context.Background()
	backupPath := filepath.Join(t.TempDir(), "test.wlb")

	header, err := Backup(ctx, src, backupPath)
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if header.Rows != 4 {
		t.Errorf("header.Rows = %d, want 4", header.Rows)
	}
	if header.Compression != Compression || !strings.HasPrefix(header.Checksum, "sha256:") {
		t.Errorf("header = %+v", header)
	}

	dst := createTestStore(t)
	result, err := Restore(ctx, dst, backupPath, RestoreMerge)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if result.RowsRestored != 4 {
		t.Errorf("RowsRestored = %d, want 4", result.RowsRestored)
	}
	if dst.Len("thing_location") != 3 || dst.Len("eternal") != 1 {
		t.Errorf("restored %d locations, %d eternal", dst.Len("thing_location"), dst.Len("eternal"))
	}

	rows, err := dst.SelectRows(ctx, "thing_location", store.Exact([]string{"farm", "cow"}, 1, 2))
	if err != nil || len(rows) != 1 || string(rows[0].Value) != "null" {
		t.Errorf("tombstone row = %v, %v", rows, err)
	}
}

func TestRestore_Modes(t *testing.T) {
	src := createTestStore(t)
	addTestData(t, src)
	ctx := context.Background()
	backupPath := filepath.Join(t.TempDir(), "modes.wlb")
	if _, err := Backup(ctx, src, backupPath); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		mode RestoreMode
		want int
	}{
		{RestoreMerge, 2},
		{RestoreReplace, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			dst := createTestStore(t)
			b, _ := dst.Begin(ctx)
			if err := b.InsertRows("eternal", []store.Row{{Key: []string{"weather"}, Value: []byte(`"rain"`)}}); err != nil {
				t.Fatal(err)
			}
			if err := b.Commit(); err != nil {
				t.Fatal(err)
			}

			if _, err := Restore(ctx, dst, backupPath, tt.mode); err != nil {
				t.Fatalf("Restore() error = %v", err)
			}
			if got := dst.Len("eternal"); got != tt.want {
				t.Errorf("eternal rows = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseRestoreMode(t *testing.T) {
	tests := []struct {
		in      string
		want    RestoreMode
		wantErr bool
	}{
		{"", RestoreMerge, false},
		{"merge", RestoreMerge, false},
		{"replace", RestoreReplace, false},
		{"overwrite", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRestoreMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseRestoreMode(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestBackup_PathValidation(t *testing.T) {
	src := createTestStore(t)
	addTestData(t, src)

	ctx := context.Background()
	allowedDir := t.TempDir()
	outsideDir := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"valid path inside allowed dir", filepath.Join(allowedDir, "a.wlb"), false},
		{"path outside allowed dir is rejected", filepath.Join(outsideDir, "a.wlb"), true},
		{"path traversal is rejected", filepath.Join(allowedDir, "..", "escape.wlb"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Backup(ctx, src, tt.path, allowedDir)
			if (err != nil) != tt.wantErr {
				t.Errorf("Backup() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && err != nil && !strings.Contains(err.Error(), "path rejected") {
				t.Errorf("Backup() error = %v, want 'path rejected' in message", err)
			}
		})
	}

	if _, err := Restore(ctx, createTestStore(t), filepath.Join(outsideDir, "a.wlb"), RestoreMerge, allowedDir); err == nil ||
		!strings.Contains(err.Error(), "path rejected") {
		t.Errorf("Restore() outside allowed dir error = %v", err)
	}
}

func TestBackup_FilePermissions(t *testing.T) {
	src := createTestStore(t)
	addTestData(t, src)

	backupDir := filepath.Join(t.TempDir(), "newdir", "backups")
	backupPath := filepath.Join(backupDir, "perm.wlb")
	if _, err := Backup(context.Background(), src, backupPath); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	info, err := os.Stat(backupPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("backup file permissions = %o, want 0600", perm)
	}
	dirInfo, err := os.Stat(backupDir)
	if err != nil {
		t.Fatal(err)
	}
	if perm := dirInfo.Mode().Perm(); perm != 0700 {
		t.Errorf("backup dir permissions = %o, want 0700", perm)
	}
}

func TestGenerateBackupPath(t *testing.T) {
	dir := "/tmp/backups"
	path := GenerateBackupPath(dir)

	if filepath.Dir(path) != dir {
		t.Errorf("GenerateBackupPath() dir = %s, want %s", filepath.Dir(path), dir)
	}
	if !isBackupFile(filepath.Base(path)) {
		t.Errorf("GenerateBackupPath() = %s, not recognised as a backup file", path)
	}
}
