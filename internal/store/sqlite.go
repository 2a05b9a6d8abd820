package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteRowStore implements RowStore with one SQLite table per fact table.
type SQLiteRowStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	tables map[string]Table
	order  []Table
	closed bool
}

// NewSQLiteRowStore opens or creates the database at path.
func NewSQLiteRowStore(ctx context.Context, path string, tables []Table) (*SQLiteRowStore, error) {
	byName, err := validateTables(tables)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(ctx, db, tables); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteRowStore{db: db, path: path, tables: byName, order: slices.Clone(tables)}, nil
}

// Path returns the database file.
func (s *SQLiteRowStore) Path() string { return s.path }

// Tables lists the tables the store was opened with.
func (s *SQLiteRowStore) Tables() []Table { return slices.Clone(s.order) }

func (s *SQLiteRowStore) table(name string) (Table, error) {
	t, ok := s.tables[name]
	if !ok {
		return Table{}, fmt.Errorf("%s: %w", name, ErrUnknownTable)
	}
	return t, nil
}

// where renders f as a WHERE clause over t's columns.
func where(t Table, f Filter) (string, []any) {
	var conds []string
	var args []any
	for i, k := range f.Key {
		if i >= len(t.KeyFields) {
			break
		}
		conds = append(conds, fmt.Sprintf("k_%s = ?", t.KeyFields[i]))
		args = append(args, k)
	}
	if f.Branch >= 0 {
		conds = append(conds, "branch = ?")
		args = append(args, f.Branch)
	}
	if f.Tick >= 0 {
		conds = append(conds, "tick = ?")
		args = append(args, f.Tick)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func keyColumns(t Table) string {
	cols := make([]string, len(t.KeyFields))
	for i, f := range t.KeyFields {
		cols[i] = "k_" + f
	}
	return strings.Join(cols, ", ")
}

// SelectRows returns the matching rows ordered by key, branch, tick.
func (s *SQLiteRowStore) SelectRows(ctx context.Context, table string, f Filter) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	if len(f.Key) > len(t.KeyFields) {
		return nil, nil
	}

	cond, args := where(t, f)
	cols := keyColumns(t)
	query := fmt.Sprintf(`SELECT %s, branch, tick, value FROM %s%s ORDER BY %s, branch, tick`,
		cols, factTable(t.Name), cond, cols)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select from %s: %w", table, err)
	}
	defer rows.Close()

	var out []Row
	n := len(t.KeyFields)
	for rows.Next() {
		key := make([]string, n)
		var value string
		dest := make([]any, 0, n+3)
		for i := range key {
			dest = append(dest, &key[i])
		}
		var r Row
		dest = append(dest, &r.Branch, &r.Tick, &value)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		r.Key = key
		r.Value = []byte(value)
		out = append(out, r)
	}
	return out, rows.Err()
}

type sqliteBatch struct {
	s   *SQLiteRowStore
	ctx context.Context
	tx  *sql.Tx
}

// Begin opens a transaction. The store's write lock is held until Commit or
// Rollback.
func (s *SQLiteRowStore) Begin(ctx context.Context) (Batch, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqliteBatch{s: s, ctx: ctx, tx: tx}, nil
}

func (b *sqliteBatch) InsertRows(table string, rows []Row) error {
	if b.tx == nil {
		return fmt.Errorf("batch already finished")
	}
	t, err := b.s.table(table)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	marks := strings.Repeat("?, ", len(t.KeyFields)+3)
	stmt, err := b.tx.PrepareContext(b.ctx, fmt.Sprintf(
		`INSERT OR REPLACE INTO %s (%s, branch, tick, value) VALUES (%s)`,
		factTable(t.Name), keyColumns(t), strings.TrimSuffix(marks, ", ")))
	if err != nil {
		return fmt.Errorf("failed to prepare insert into %s: %w", table, err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if err := checkRow(t, r); err != nil {
			return err
		}
		args := make([]any, 0, len(r.Key)+3)
		for _, k := range r.Key {
			args = append(args, k)
		}
		args = append(args, r.Branch, r.Tick, string(r.Value))
		if _, err := stmt.ExecContext(b.ctx, args...); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", table, err)
		}
	}
	return nil
}

func (b *sqliteBatch) DeleteRows(table string, f Filter) error {
	if b.tx == nil {
		return fmt.Errorf("batch already finished")
	}
	t, err := b.s.table(table)
	if err != nil {
		return err
	}
	if len(f.Key) > len(t.KeyFields) {
		return nil
	}
	cond, args := where(t, f)
	if _, err := b.tx.ExecContext(b.ctx, fmt.Sprintf(`DELETE FROM %s%s`, factTable(t.Name), cond), args...); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

func (b *sqliteBatch) Commit() error {
	if b.tx == nil {
		return fmt.Errorf("batch already finished")
	}
	defer b.finish()
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (b *sqliteBatch) Rollback() error {
	if b.tx == nil {
		return nil
	}
	defer b.finish()
	return b.tx.Rollback()
}

func (b *sqliteBatch) finish() {
	b.tx = nil
	b.s.mu.Unlock()
}

// Close closes the database.
func (s *SQLiteRowStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
