// Package backup provides backup and restore of a world's row store.
package backup

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/nvandessel/worldline/internal/pathutil"
	"github.com/nvandessel/worldline/internal/store"
)

// FilePrefix starts every backup file name.
const FilePrefix = "worldline-backup-"

// FileExt ends every backup file name.
const FileExt = ".wlb"

// Backup dumps every row of rs to a compressed backup file at outputPath.
// When allowedDirs is non-empty, outputPath must be inside one of them.
func Backup(ctx context.Context, rs store.RowStore, outputPath string, allowedDirs ...string) (*Header, error) {
	if len(allowedDirs) > 0 {
		if err := pathutil.ValidatePath(outputPath, allowedDirs); err != nil {
			return nil, fmt.Errorf("backup path rejected: %w", err)
		}
	}

	var payload bytes.Buffer
	rows, err := store.Dump(ctx, rs, &payload)
	if err != nil {
		return nil, fmt.Errorf("failed to dump rows: %w", err)
	}

	header := Header{
		CreatedAt: time.Now().UTC(),
		Rows:      rows,
		Metadata:  map[string]string{"tables": fmt.Sprint(len(rs.Tables()))},
	}
	written, err := writeFile(outputPath, header, payload.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to write backup: %w", err)
	}
	return written, nil
}

// RestoreMode controls how restore handles existing data.
type RestoreMode string

const (
	// RestoreMerge overwrites rows at the same coordinates and keeps the rest (default).
	RestoreMerge RestoreMode = "merge"
	// RestoreReplace empties every table before restoring.
	RestoreReplace RestoreMode = "replace"
)

// ParseRestoreMode accepts "merge", "replace" or "" (merge).
func ParseRestoreMode(s string) (RestoreMode, error) {
	switch RestoreMode(s) {
	case "", RestoreMerge:
		return RestoreMerge, nil
	case RestoreReplace:
		return RestoreReplace, nil
	}
	return "", fmt.Errorf("invalid restore mode %q (valid: merge, replace)", s)
}

// RestoreResult contains statistics about the restore operation.
type RestoreResult struct {
	RowsRestored int       `json:"rows_restored"`
	Mode         string    `json:"mode"`
	CreatedAt    time.Time `json:"created_at"`
}

// Restore loads the rows of a backup file into rs in one batch. The world
// must be reopened afterwards; a running engine does not see restored rows.
func Restore(ctx context.Context, rs store.RowStore, inputPath string, mode RestoreMode, allowedDirs ...string) (*RestoreResult, error) {
	if len(allowedDirs) > 0 {
		if err := pathutil.ValidatePath(inputPath, allowedDirs); err != nil {
			return nil, fmt.Errorf("restore path rejected: %w", err)
		}
	}

	header, payload, err := ReadPayload(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}

	n, err := store.Load(ctx, rs, bytes.NewReader(payload), mode == RestoreReplace)
	if err != nil {
		return nil, fmt.Errorf("failed to load rows: %w", err)
	}
	if n != header.Rows {
		return nil, fmt.Errorf("backup header records %d rows, payload had %d", header.Rows, n)
	}
	return &RestoreResult{RowsRestored: n, Mode: string(mode), CreatedAt: header.CreatedAt}, nil
}

const backupStamp = "20060102-150405.000"

// GenerateBackupPath creates a timestamped backup filename in the given directory.
func GenerateBackupPath(dir string) string {
	return filepath.Join(dir, FilePrefix+time.Now().UTC().Format(backupStamp)+FileExt)
}
