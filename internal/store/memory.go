package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemoryRowStore implements RowStore in memory for testing and for runs
// that never touch disk.
type MemoryRowStore struct {
	mu     sync.RWMutex
	tables map[string]Table
	order  []Table
	rows   map[string]map[rowID]Row
	closed bool
}

type rowID struct {
	key    string
	branch int
	tick   int
}

func idOf(r Row) rowID {
	return rowID{key: encodeKey(r.Key), branch: r.Branch, tick: r.Tick}
}

// NewMemoryRowStore creates an empty in-memory store.
func NewMemoryRowStore(tables []Table) (*MemoryRowStore, error) {
	byName, err := validateTables(tables)
	if err != nil {
		return nil, err
	}
	s := &MemoryRowStore{tables: byName, order: slices.Clone(tables), rows: make(map[string]map[rowID]Row)}
	for _, t := range tables {
		s.rows[t.Name] = make(map[rowID]Row)
	}
	return s, nil
}

// Tables lists the tables the store was opened with.
func (s *MemoryRowStore) Tables() []Table { return slices.Clone(s.order) }

// SelectRows returns the matching rows.
func (s *MemoryRowStore) SelectRows(ctx context.Context, table string, f Filter) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	rows, ok := s.rows[table]
	if !ok {
		return nil, fmt.Errorf("select %s: %w", table, ErrUnknownTable)
	}
	var out []Row
	for _, r := range rows {
		if f.Match(r) {
			out = append(out, cloneRow(r))
		}
	}
	slices.SortFunc(out, compareRows)
	return out, nil
}

// Len returns the number of rows in table.
func (s *MemoryRowStore) Len(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows[table])
}

type memOp struct {
	table  string
	insert []Row
	delete *Filter
}

type memoryBatch struct {
	s    *MemoryRowStore
	ops  []memOp
	done bool
}

// Begin starts a batch applied atomically by Commit.
func (s *MemoryRowStore) Begin(ctx context.Context) (Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return &memoryBatch{s: s}, nil
}

func (b *memoryBatch) table(name string) (Table, error) {
	if b.done {
		return Table{}, fmt.Errorf("batch already finished")
	}
	t, ok := b.s.tables[name]
	if !ok {
		return Table{}, fmt.Errorf("%s: %w", name, ErrUnknownTable)
	}
	return t, nil
}

func (b *memoryBatch) InsertRows(table string, rows []Row) error {
	t, err := b.table(table)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := checkRow(t, r); err != nil {
			return err
		}
	}
	cp := make([]Row, len(rows))
	for i, r := range rows {
		cp[i] = cloneRow(r)
	}
	b.ops = append(b.ops, memOp{table: table, insert: cp})
	return nil
}

func (b *memoryBatch) DeleteRows(table string, f Filter) error {
	if _, err := b.table(table); err != nil {
		return err
	}
	b.ops = append(b.ops, memOp{table: table, delete: &f})
	return nil
}

func (b *memoryBatch) Commit() error {
	if b.done {
		return fmt.Errorf("batch already finished")
	}
	b.done = true

	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if b.s.closed {
		return ErrClosed
	}
	for _, op := range b.ops {
		rows := b.s.rows[op.table]
		if op.delete != nil {
			for id, r := range rows {
				if op.delete.Match(r) {
					delete(rows, id)
				}
			}
			continue
		}
		for _, r := range op.insert {
			rows[idOf(r)] = r
		}
	}
	return nil
}

func (b *memoryBatch) Rollback() error {
	b.done = true
	b.ops = nil
	return nil
}

// Close marks the store closed.
func (s *MemoryRowStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneRow(r Row) Row {
	r.Key = slices.Clone(r.Key)
	r.Value = slices.Clone(r.Value)
	return r
}
