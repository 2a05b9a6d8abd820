// Package pathutil confines backup and restore paths to known directories.
package pathutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DirName is worldline's data directory, both per project and in the home
// directory.
const DirName = ".worldline"

// ErrOutside is returned when a path resolves outside every allowed
// directory.
var ErrOutside = errors.New("outside allowed directories")

// PathError reports a rejected path. Path is already redacted.
type PathError struct {
	Path   string
	Reason string
	Err    error
}

func (e *PathError) Error() string {
	msg := "path validation failed: "
	if e.Path != "" {
		msg += fmt.Sprintf("%q: ", e.Path)
	}
	if e.Err != nil {
		return msg + e.Err.Error()
	}
	return msg + e.Reason
}

func (e *PathError) Unwrap() error { return e.Err }

// RedactPath shortens a path to .../<parent>/<base> for messages shown to
// users and MCP clients.
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	parent := filepath.Base(filepath.Dir(cleaned))
	if parent == "." || parent == string(filepath.Separator) {
		return filepath.Base(cleaned)
	}
	return ".../" + parent + "/" + filepath.Base(cleaned)
}

// ValidatePath checks that path lies inside one of allowedDirs once it is
// made absolute and symlinks in its existing ancestors are resolved. The
// file itself need not exist.
func ValidatePath(path string, allowedDirs []string) error {
	switch {
	case path == "":
		return &PathError{Reason: "path is empty"}
	case len(allowedDirs) == 0:
		return &PathError{Reason: "no allowed directories configured"}
	case strings.ContainsRune(path, 0):
		return &PathError{Reason: "path contains null byte"}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return &PathError{Path: RedactPath(path), Err: err}
	}
	target, err := resolve(abs)
	if err != nil {
		return &PathError{Path: RedactPath(abs), Err: err}
	}

	for _, dir := range allowedDirs {
		root, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if root, err = resolve(root); err != nil {
			continue
		}
		if within(target, root) {
			return nil
		}
	}
	return &PathError{Path: RedactPath(abs), Err: ErrOutside}
}

// resolve evaluates symlinks in the deepest existing ancestor of path and
// appends the rest unchanged.
func resolve(path string) (string, error) {
	var tail []string
	for cur := path; ; {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			slices.Reverse(tail)
			return filepath.Join(append([]string{resolved}, tail...)...), nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", fmt.Errorf("no existing ancestor of %s", RedactPath(path))
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}

// within reports whether path is root or below it.
func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// AllowedBackupDirs returns the directories backups may be written to and
// restored from: ~/.worldline/backups, <projectRoot>/.worldline/backups and,
// when set, the configured backup directory.
func AllowedBackupDirs(projectRoot, configured string) ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	dirs := []string{filepath.Join(home, DirName, "backups")}
	if projectRoot != "" {
		dirs = append(dirs, filepath.Join(projectRoot, DirName, "backups"))
	}
	if configured != "" && !slices.Contains(dirs, configured) {
		dirs = append(dirs, configured)
	}
	return dirs, nil
}
