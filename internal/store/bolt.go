package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const (
	keySep   = "\x1f"
	coordSep = '\x1e'
)

// encodeKey joins key parts with the unit separator.
func encodeKey(key []string) string { return strings.Join(key, keySep) }

// boltKey lays a row out so that bbolt's byte order is key, branch, tick.
func boltKey(r Row) []byte {
	var buf bytes.Buffer
	buf.WriteString(encodeKey(r.Key))
	buf.WriteByte(coordSep)
	var n [16]byte
	binary.BigEndian.PutUint64(n[:8], uint64(r.Branch))
	binary.BigEndian.PutUint64(n[8:], uint64(r.Tick))
	buf.Write(n[:])
	return buf.Bytes()
}

func parseBoltKey(k []byte, arity int) (Row, error) {
	i := bytes.LastIndexByte(k, coordSep)
	if i < 0 || len(k)-i-1 != 16 {
		return Row{}, fmt.Errorf("malformed row key %q", k)
	}
	key := strings.Split(string(k[:i]), keySep)
	if len(key) != arity {
		return Row{}, fmt.Errorf("row key %q has %d fields, want %d", k, len(key), arity)
	}
	coords := k[i+1:]
	return Row{
		Key:    key,
		Branch: int(binary.BigEndian.Uint64(coords[:8])),
		Tick:   int(binary.BigEndian.Uint64(coords[8:])),
	}, nil
}

// seekPrefix is the byte prefix shared by every row whose key starts with
// key.
func seekPrefix(key []string, arity int) []byte {
	if len(key) == 0 {
		return nil
	}
	p := encodeKey(key)
	if len(key) == arity {
		return append([]byte(p), coordSep)
	}
	return []byte(p + keySep)
}

func seek(c *bbolt.Cursor, prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return c.First()
	}
	return c.Seek(prefix)
}

// BoltRowStore implements RowStore with one bbolt bucket per fact table.
type BoltRowStore struct {
	mu     sync.Mutex
	db     *bbolt.DB
	tables map[string]Table
	order  []Table
}

// NewBoltRowStore opens or creates the bbolt file at path.
func NewBoltRowStore(path string, tables []Table) (*BoltRowStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	byName, err := validateTables(tables)
	if err != nil {
		return nil, err
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	s := &BoltRowStore{db: db, tables: byName, order: slices.Clone(tables)}
	if err := s.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltRowStore) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, t := range s.order {
			if _, err := tx.CreateBucketIfNotExists([]byte(t.Name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", t.Name, err)
			}
		}
		return nil
	})
}

// Tables lists the tables the store was opened with.
func (s *BoltRowStore) Tables() []Table { return slices.Clone(s.order) }

func (s *BoltRowStore) live() (*bbolt.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.db, nil
}

// SelectRows scans the table's bucket from the filter's key prefix.
func (s *BoltRowStore) SelectRows(ctx context.Context, table string, f Filter) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db, err := s.live()
	if err != nil {
		return nil, err
	}
	t, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("select %s: %w", table, ErrUnknownTable)
	}
	if len(f.Key) > len(t.KeyFields) {
		return nil, nil
	}

	var out []Row
	err = db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(t.Name))
		if bucket == nil {
			return fmt.Errorf("%s bucket is missing", t.Name)
		}
		prefix := seekPrefix(f.Key, len(t.KeyFields))
		c := bucket.Cursor()
		for k, v := seek(c, prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			r, err := parseBoltKey(k, len(t.KeyFields))
			if err != nil {
				return err
			}
			if !f.Match(r) {
				continue
			}
			r.Value = slices.Clone(v)
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	slices.SortFunc(out, compareRows)
	return out, nil
}

type boltOp struct {
	table  string
	insert []Row
	delete *Filter
}

type boltBatch struct {
	s    *BoltRowStore
	ctx  context.Context
	ops  []boltOp
	done bool
}

// Begin starts a batch written by a single bbolt Update on Commit.
func (s *BoltRowStore) Begin(ctx context.Context) (Batch, error) {
	if _, err := s.live(); err != nil {
		return nil, err
	}
	return &boltBatch{s: s, ctx: ctx}, nil
}

func (b *boltBatch) table(name string) (Table, error) {
	if b.done {
		return Table{}, fmt.Errorf("batch already finished")
	}
	t, ok := b.s.tables[name]
	if !ok {
		return Table{}, fmt.Errorf("%s: %w", name, ErrUnknownTable)
	}
	return t, nil
}

func (b *boltBatch) InsertRows(table string, rows []Row) error {
	t, err := b.table(table)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := checkRow(t, r); err != nil {
			return err
		}
		for _, k := range r.Key {
			if strings.ContainsAny(k, keySep+string(coordSep)) {
				return fmt.Errorf("table %s: key field %q contains a reserved separator", t.Name, k)
			}
		}
	}
	cp := make([]Row, len(rows))
	for i, r := range rows {
		cp[i] = cloneRow(r)
	}
	b.ops = append(b.ops, boltOp{table: table, insert: cp})
	return nil
}

func (b *boltBatch) DeleteRows(table string, f Filter) error {
	if _, err := b.table(table); err != nil {
		return err
	}
	b.ops = append(b.ops, boltOp{table: table, delete: &f})
	return nil
}

func (b *boltBatch) Commit() error {
	if b.done {
		return fmt.Errorf("batch already finished")
	}
	b.done = true
	if err := b.ctx.Err(); err != nil {
		return err
	}
	db, err := b.s.live()
	if err != nil {
		return err
	}
	return db.Update(func(tx *bbolt.Tx) error {
		for _, op := range b.ops {
			t := b.s.tables[op.table]
			bucket := tx.Bucket([]byte(t.Name))
			if bucket == nil {
				return fmt.Errorf("%s bucket is missing", t.Name)
			}
			if op.delete != nil {
				if err := deleteMatching(bucket, t, *op.delete); err != nil {
					return err
				}
				continue
			}
			for _, r := range op.insert {
				if err := bucket.Put(boltKey(r), r.Value); err != nil {
					return fmt.Errorf("put %s row: %w", t.Name, err)
				}
			}
		}
		return nil
	})
}

func deleteMatching(bucket *bbolt.Bucket, t Table, f Filter) error {
	if len(f.Key) > len(t.KeyFields) {
		return nil
	}
	prefix := seekPrefix(f.Key, len(t.KeyFields))
	var doomed [][]byte
	c := bucket.Cursor()
	for k, _ := seek(c, prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		r, err := parseBoltKey(k, len(t.KeyFields))
		if err != nil {
			return err
		}
		if f.Match(r) {
			doomed = append(doomed, slices.Clone(k))
		}
	}
	for _, k := range doomed {
		if err := bucket.Delete(k); err != nil {
			return fmt.Errorf("delete %s row: %w", t.Name, err)
		}
	}
	return nil
}

func (b *boltBatch) Rollback() error {
	b.done = true
	b.ops = nil
	return nil
}

// Close closes the underlying bbolt database.
func (s *BoltRowStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
