package backup

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// BackupInfo describes one backup file found in a directory.
type BackupInfo struct {
	Path      string
	Size      int64
	CreatedAt time.Time
	Version   int
	Rows      int
	// Readable is false when the header could not be parsed. Such a file
	// cannot be restored.
	Readable bool
}

// Retention limits the backups kept in a directory. Zero fields are unset.
// A backup survives when any set limit keeps it, and the newest readable
// backup always survives.
type Retention struct {
	MaxCount      int
	MaxAge        time.Duration
	MaxTotalBytes int64
}

// IsZero reports whether no limit is set.
func (r Retention) IsZero() bool {
	return r.MaxCount <= 0 && r.MaxAge <= 0 && r.MaxTotalBytes <= 0
}

// Select splits backups, sorted newest first, into the ones to keep and the
// ones to prune. Unreadable backups are always pruned; the limits only see
// readable ones.
func (r Retention) Select(backups []BackupInfo, now time.Time) (keep, prune []BackupInfo) {
	if r.IsZero() {
		return backups, nil
	}
	var rank int
	var total int64
	for _, b := range backups {
		if !b.Readable {
			prune = append(prune, b)
			continue
		}
		total += b.Size
		if rank == 0 || r.keeps(b, rank, total, now) {
			keep = append(keep, b)
		} else {
			prune = append(prune, b)
		}
		rank++
	}
	return keep, prune
}

// keeps applies the limits to the backup at rank (0 is newest) whose size
// brings the running total to total.
func (r Retention) keeps(b BackupInfo, rank int, total int64, now time.Time) bool {
	switch {
	case r.MaxCount > 0 && rank < r.MaxCount:
		return true
	case r.MaxAge > 0 && now.Sub(b.CreatedAt) <= r.MaxAge:
		return true
	case r.MaxTotalBytes > 0 && total <= r.MaxTotalBytes:
		return true
	}
	return false
}

// Prune deletes the backups in dir that r does not keep and returns their
// paths.
func Prune(dir string, r Retention) ([]string, error) {
	if r.IsZero() {
		return nil, nil
	}
	backups, err := ListBackups(dir)
	if err != nil {
		return nil, err
	}
	_, drop := r.Select(backups, time.Now())

	var deleted []string
	for _, b := range drop {
		if err := os.Remove(b.Path); err != nil {
			return deleted, fmt.Errorf("removing %s: %w", filepath.Base(b.Path), err)
		}
		deleted = append(deleted, b.Path)
	}
	return deleted, nil
}

func isBackupFile(name string) bool {
	return strings.HasPrefix(name, FilePrefix) && strings.HasSuffix(name, FileExt)
}

// nameTime recovers the timestamp GenerateBackupPath puts in a file name.
func nameTime(name string) (time.Time, bool) {
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, FilePrefix), FileExt)
	t, err := time.Parse(backupStamp, stamp)
	return t, err == nil
}

// ListBackups returns the backups in dir, newest first. A missing directory
// holds no backups.
func ListBackups(dir string) ([]BackupInfo, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var backups []BackupInfo
	for _, e := range entries {
		if e.IsDir() || !isBackupFile(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		b := BackupInfo{Path: filepath.Join(dir, e.Name()), Size: fi.Size(), CreatedAt: fi.ModTime()}
		if header, err := ReadHeader(b.Path); err == nil {
			b.Readable = true
			b.Version = header.Version
			b.Rows = header.Rows
			b.CreatedAt = header.CreatedAt
		} else if t, ok := nameTime(e.Name()); ok {
			b.CreatedAt = t
		}
		backups = append(backups, b)
	}

	slices.SortFunc(backups, func(a, b BackupInfo) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(filepath.Base(b.Path), filepath.Base(a.Path))
	})
	return backups, nil
}

var durationUnits = map[string]time.Duration{
	"d": 24 * time.Hour,
	"w": 7 * 24 * time.Hour,
}

var sizeUnits = map[string]int64{
	"B":  1,
	"KB": 1 << 10,
	"MB": 1 << 20,
	"GB": 1 << 30,
}

// splitUnit splits "30d" into 30 and "d".
func splitUnit(s string) (int64, string, error) {
	i := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if i <= 0 {
		return 0, "", fmt.Errorf("missing number or unit")
	}
	n, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0, "", err
	}
	return n, s[i:], nil
}

// ParseDuration parses a Go duration ("720h") or a day or week count ("30d",
// "2w").
func ParseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	n, unit, err := splitUnit(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	mult, ok := durationUnits[unit]
	if !ok {
		return 0, fmt.Errorf("invalid duration %q: unknown unit %q", s, unit)
	}
	return time.Duration(n) * mult, nil
}

// ParseSize parses a byte count with a B, KB, MB or GB unit.
func ParseSize(s string) (int64, error) {
	n, unit, err := splitUnit(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	mult, ok := sizeUnits[strings.ToUpper(unit)]
	if !ok {
		return 0, fmt.Errorf("invalid size %q: unit must be B, KB, MB or GB", s)
	}
	return n * mult, nil
}
