package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirName is the per-project data directory.
const DirName = ".worldline"

// GlobalPath returns the path to the global .worldline directory.
// On Unix: ~/.worldline
// On Windows: %USERPROFILE%\.worldline
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, DirName), nil
}

// LocalPath returns the .worldline directory of the given project root.
func LocalPath(projectRoot string) string {
	return filepath.Join(projectRoot, DirName)
}

// EnsureLocalDir creates the project's .worldline directory if it doesn't
// exist.
func EnsureLocalDir(projectRoot string) (string, error) {
	dir := LocalPath(projectRoot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", DirName, err)
	}
	return dir, nil
}

// DefaultPath is where a backend keeps its file under the project root.
func DefaultPath(projectRoot string, backend Backend) string {
	switch backend {
	case BackendBolt:
		return filepath.Join(LocalPath(projectRoot), "world.bolt")
	case BackendMemory:
		return ""
	}
	return filepath.Join(LocalPath(projectRoot), "world.db")
}
