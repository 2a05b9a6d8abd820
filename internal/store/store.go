// Package store defines the RowStore interface the engine persists facts
// through, and its SQLite, bbolt and in-memory implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrClosed is returned by every operation on a closed store.
	ErrClosed = errors.New("store closed")

	// ErrUnknownTable is returned for a table the store was not opened with.
	ErrUnknownTable = errors.New("unknown table")
)

// Table declares one persisted fact kind: its name and the names of its key
// columns.
type Table struct {
	Name      string   `json:"name"`
	KeyFields []string `json:"key_fields"`
}

// Row is one persisted fact. Value is the fact's JSON encoding; "null" is a
// tombstone.
type Row struct {
	Key    []string `json:"key"`
	Branch int      `json:"branch"`
	Tick   int      `json:"tick"`
	Value  []byte   `json:"value"`
}

// Filter selects rows. Key is a prefix of the key columns; a negative Branch
// or Tick matches any.
type Filter struct {
	Key    []string
	Branch int
	Tick   int
}

// All matches every row of a table.
func All() Filter { return Filter{Branch: -1, Tick: -1} }

// Prefix matches every row whose key starts with key.
func Prefix(key ...string) Filter { return Filter{Key: key, Branch: -1, Tick: -1} }

// Exact matches the single row at (key, branch, tick).
func Exact(key []string, branch, tick int) Filter {
	return Filter{Key: key, Branch: branch, Tick: tick}
}

// Match reports whether r passes the filter.
func (f Filter) Match(r Row) bool {
	if len(f.Key) > len(r.Key) || !slices.Equal(f.Key, r.Key[:len(f.Key)]) {
		return false
	}
	if f.Branch >= 0 && r.Branch != f.Branch {
		return false
	}
	return f.Tick < 0 || r.Tick == f.Tick
}

// RowStore is the persistence collaborator. Reads go straight to storage;
// writes are grouped into one Batch per checkpoint.
type RowStore interface {
	// Tables lists the tables the store was opened with.
	Tables() []Table

	// SelectRows returns the matching rows ordered by key, branch, tick.
	SelectRows(ctx context.Context, table string, f Filter) ([]Row, error)

	// Begin starts a batch. Nothing is visible until Commit.
	Begin(ctx context.Context) (Batch, error)

	Close() error
}

// Batch groups row writes into one atomic commit.
type Batch interface {
	InsertRows(table string, rows []Row) error
	DeleteRows(table string, f Filter) error
	Commit() error
	Rollback() error
}

// Backend names a RowStore implementation.
type Backend string

const (
	BackendSQLite Backend = "sqlite"
	BackendBolt   Backend = "bolt"
	BackendMemory Backend = "memory"
)

// Open opens the backend at path with the given tables.
func Open(ctx context.Context, backend Backend, path string, tables []Table) (RowStore, error) {
	switch backend {
	case BackendSQLite, "":
		return NewSQLiteRowStore(ctx, path, tables)
	case BackendBolt:
		return NewBoltRowStore(path, tables)
	case BackendMemory:
		return NewMemoryRowStore(tables)
	}
	return nil, fmt.Errorf("unknown store backend %q", backend)
}

func validateTables(tables []Table) (map[string]Table, error) {
	out := make(map[string]Table, len(tables))
	for _, t := range tables {
		if t.Name == "" || len(t.KeyFields) == 0 {
			return nil, fmt.Errorf("table %q: name and key fields are required", t.Name)
		}
		if _, dup := out[t.Name]; dup {
			return nil, fmt.Errorf("table %q declared twice", t.Name)
		}
		out[t.Name] = t
	}
	return out, nil
}

func checkRow(t Table, r Row) error {
	if len(r.Key) != len(t.KeyFields) {
		return fmt.Errorf("table %s: key %v has %d fields, want %d", t.Name, r.Key, len(r.Key), len(t.KeyFields))
	}
	if r.Branch < 0 || r.Tick < 0 {
		return fmt.Errorf("table %s: negative branch or tick in row %v", t.Name, r.Key)
	}
	return nil
}

func compareRows(a, b Row) int {
	if c := slices.Compare(a.Key, b.Key); c != 0 {
		return c
	}
	if a.Branch != b.Branch {
		return a.Branch - b.Branch
	}
	return a.Tick - b.Tick
}
