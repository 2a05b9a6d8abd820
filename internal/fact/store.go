// Package fact implements the in-memory versioned fact store. Every record is
// addressed by table, key, branch and the tick from which it holds; a fact is
// superseded by a later fact in the same bucket, never edited in place.
//
// A Store has a single writer. Callers that share one across goroutines
// must serialize access themselves.
package fact

import (
	"fmt"
	"sort"
)

// Fact is one versioned record. A nil Value is a tombstone.
type Fact struct {
	Table  string
	Key    Key
	Branch int
	Tick   int
	Value  any
}

// Tombstone reports whether the fact marks its key as deleted.
func (f Fact) Tombstone() bool {
	return f.Value == nil
}

type bucketID struct {
	table  string
	key    string
	branch int
}

type factID struct {
	bucketID
	tick int
}

type bucket struct {
	key   Key
	ticks []int
	vals  []any
}

// at returns the index of the greatest tick <= t, or -1.
func (b *bucket) at(t int) int {
	return sort.Search(len(b.ticks), func(i int) bool { return b.ticks[i] > t }) - 1
}

// after returns the index of the smallest tick > t, or len(ticks).
func (b *bucket) after(t int) int {
	return sort.Search(len(b.ticks), func(i int) bool { return b.ticks[i] > t })
}

type link struct {
	parent int
	fork   int
}

type keyRef struct {
	key     Key
	buckets int
}

// Store holds every fact of a session in memory.
type Store struct {
	schemas map[string]Schema
	order   []string

	buckets map[bucketID]*bucket
	keys    map[string]map[string]*keyRef
	lineage map[int]link

	baseline map[factID]any
	dirty    map[factID]struct{}
	journal  []undo
	epoch    int
}

// NewStore creates an empty store for the given fact kinds.
func NewStore(schemas ...Schema) (*Store, error) {
	s := &Store{
		schemas:  make(map[string]Schema, len(schemas)),
		buckets:  make(map[bucketID]*bucket),
		keys:     make(map[string]map[string]*keyRef),
		lineage:  map[int]link{0: {parent: -1}},
		baseline: make(map[factID]any),
		dirty:    make(map[factID]struct{}),
	}
	for _, sc := range schemas {
		if err := sc.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.schemas[sc.Name]; dup {
			return nil, fmt.Errorf("table %s declared twice", sc.Name)
		}
		s.schemas[sc.Name] = sc
		s.order = append(s.order, sc.Name)
		s.keys[sc.Name] = make(map[string]*keyRef)
	}
	return s, nil
}

// Schemas returns the declared fact kinds in declaration order.
func (s *Store) Schemas() []Schema {
	out := make([]Schema, len(s.order))
	for i, name := range s.order {
		out[i] = s.schemas[name]
	}
	return out
}

func (s *Store) checkKey(table string, key Key) error {
	sc, ok := s.schemas[table]
	if !ok {
		return fmt.Errorf("unknown table %q", table)
	}
	if len(key) != len(sc.KeyFields) {
		return fmt.Errorf("table %s: key %s has %d fields, want %d", table, key, len(key), len(sc.KeyFields))
	}
	return key.validate()
}

// RegisterBranch records that branch diverges from parent at fork. Reads on
// branch at ticks before its own history fall through to the parent, as it
// stood at fork. A negative parent makes branch a root.
func (s *Store) RegisterBranch(branch, parent, fork int) {
	s.lineage[branch] = link{parent: parent, fork: fork}
}

// Parent returns the parent and fork tick of branch.
func (s *Store) Parent(branch int) (parent, fork int, ok bool) {
	l, ok := s.lineage[branch]
	if !ok || l.parent < 0 {
		return 0, 0, false
	}
	return l.parent, l.fork, true
}

// Put writes value at exactly (branch, tick), replacing any fact already at
// that tick. Earlier and later facts are untouched.
func (s *Store) Put(table string, key Key, branch, tick int, value any) error {
	if err := s.checkKey(table, key); err != nil {
		return err
	}
	if tick < 0 {
		return fmt.Errorf("table %s: negative tick %d", table, tick)
	}
	v, err := Normalize(value)
	if err != nil {
		return fmt.Errorf("table %s %s: %w", table, key, err)
	}
	s.set(table, key, branch, tick, v, true)
	return nil
}

// PutChecked is Put, refusing to write before history the bucket already
// holds. The refusal is a *ParadoxError.
func (s *Store) PutChecked(table string, key Key, branch, tick int, value any) error {
	if err := s.checkKey(table, key); err != nil {
		return err
	}
	if l, ok := s.lineage[branch]; ok && l.parent >= 0 && tick < l.fork {
		return fmt.Errorf("table %s %s: tick %d on branch %d (fork %d): %w", table, key, tick, branch, l.fork, ErrBeforeFork)
	}
	if b := s.buckets[bucketID{table, key.encode(), branch}]; b != nil && len(b.ticks) > 0 {
		if last := b.ticks[len(b.ticks)-1]; last > tick {
			return &ParadoxError{Table: table, Key: key, Branch: branch, Tick: tick, Later: last}
		}
	}
	return s.Put(table, key, branch, tick, value)
}

// Load inserts a fact read back from persistence. Loaded facts are part of
// the baseline and never show up in Diff.
func (s *Store) Load(f Fact) error {
	if err := s.checkKey(f.Table, f.Key); err != nil {
		return err
	}
	v, err := Normalize(f.Value)
	if err != nil {
		return err
	}
	s.set(f.Table, f.Key, f.Branch, f.Tick, v, false)
	s.baseline[factID{bucketID{f.Table, f.Key.encode(), f.Branch}, f.Tick}] = v
	return nil
}

func (s *Store) set(table string, key Key, branch, tick int, v any, track bool) {
	enc := key.encode()
	id := bucketID{table, enc, branch}
	b := s.buckets[id]
	if b == nil {
		b = &bucket{key: append(Key(nil), key...)}
		s.buckets[id] = b
		ref := s.keys[table][enc]
		if ref == nil {
			ref = &keyRef{key: b.key}
			s.keys[table][enc] = ref
		}
		ref.buckets++
	}

	i := sort.SearchInts(b.ticks, tick)
	if i < len(b.ticks) && b.ticks[i] == tick {
		if track {
			s.journal = append(s.journal, undo{id: factID{id, tick}, prev: b.vals[i], had: true})
		}
		b.vals[i] = v
	} else {
		if track {
			s.journal = append(s.journal, undo{id: factID{id, tick}})
		}
		b.ticks = append(b.ticks, 0)
		b.vals = append(b.vals, nil)
		copy(b.ticks[i+1:], b.ticks[i:])
		copy(b.vals[i+1:], b.vals[i:])
		b.ticks[i] = tick
		b.vals[i] = v
	}
	if track {
		s.dirty[factID{id, tick}] = struct{}{}
	}
}

func (s *Store) remove(id factID) {
	b := s.buckets[id.bucketID]
	if b == nil {
		return
	}
	i := sort.SearchInts(b.ticks, id.tick)
	if i >= len(b.ticks) || b.ticks[i] != id.tick {
		return
	}
	b.ticks = append(b.ticks[:i], b.ticks[i+1:]...)
	b.vals = append(b.vals[:i], b.vals[i+1:]...)
	s.dirty[id] = struct{}{}
	if len(b.ticks) == 0 {
		delete(s.buckets, id.bucketID)
		if ref := s.keys[id.table][id.key]; ref != nil {
			ref.buckets--
			if ref.buckets == 0 {
				delete(s.keys[id.table], id.key)
			}
		}
	}
}

func (s *Store) lookup(id factID) (any, bool) {
	b := s.buckets[id.bucketID]
	if b == nil {
		return nil, false
	}
	i := sort.SearchInts(b.ticks, id.tick)
	if i < len(b.ticks) && b.ticks[i] == id.tick {
		return b.vals[i], true
	}
	return nil, false
}

// GetAt returns the fact visible on branch at tick: the one with the greatest
// tick_from <= tick in the branch, or, failing that, in its ancestors as they
// stood at each fork.
func (s *Store) GetAt(table string, key Key, branch, tick int) (Fact, error) {
	if err := s.checkKey(table, key); err != nil {
		return Fact{}, err
	}
	enc := key.encode()
	b, t := branch, tick
	for {
		if bk := s.buckets[bucketID{table, enc, b}]; bk != nil {
			if i := bk.at(t); i >= 0 {
				return Fact{Table: table, Key: bk.key, Branch: b, Tick: bk.ticks[i], Value: bk.vals[i]}, nil
			}
		}
		l, ok := s.lineage[b]
		if !ok || l.parent < 0 {
			break
		}
		b = l.parent
		if l.fork < t {
			t = l.fork
		}
	}
	return Fact{}, fmt.Errorf("%s %s at branch %d tick %d: %w", table, key, branch, tick, ErrNotFound)
}

// GetExact returns the fact written on branch at exactly tick, ignoring
// inheritance.
func (s *Store) GetExact(table string, key Key, branch, tick int) (Fact, error) {
	if err := s.checkKey(table, key); err != nil {
		return Fact{}, err
	}
	v, ok := s.lookup(factID{bucketID{table, key.encode(), branch}, tick})
	if !ok {
		return Fact{}, fmt.Errorf("%s %s at branch %d tick %d: %w", table, key, branch, tick, ErrNotFound)
	}
	return Fact{Table: table, Key: key, Branch: branch, Tick: tick, Value: v}, nil
}

// ExistsAt reports whether a non-tombstone fact is visible at (branch, tick).
func (s *Store) ExistsAt(table string, key Key, branch, tick int) bool {
	f, err := s.GetAt(table, key, branch, tick)
	return err == nil && !f.Tombstone()
}

// NextAfter returns the first fact visible on branch with tick_from > tick.
func (s *Store) NextAfter(table string, key Key, branch, tick int) (Fact, bool) {
	if s.checkKey(table, key) != nil {
		return Fact{}, false
	}
	return s.nextAfter(table, key.encode(), branch, tick)
}

func (s *Store) nextAfter(table, enc string, branch, tick int) (Fact, bool) {
	var (
		best  Fact
		found bool
	)
	if bk := s.buckets[bucketID{table, enc, branch}]; bk != nil {
		if i := bk.after(tick); i < len(bk.ticks) {
			best = Fact{Table: table, Key: bk.key, Branch: branch, Tick: bk.ticks[i], Value: bk.vals[i]}
			found = true
		}
	}
	if l, ok := s.lineage[branch]; ok && l.parent >= 0 && tick < l.fork {
		if p, ok := s.nextAfter(table, enc, l.parent, tick); ok && p.Tick <= l.fork && (!found || p.Tick < best.Tick) {
			best, found = p, true
		}
	}
	return best, found
}

// Boundaries returns, in increasing order, every tick at which the value of
// key seen from branch may change.
func (s *Store) Boundaries(table string, key Key, branch int) []int {
	if s.checkKey(table, key) != nil {
		return nil
	}
	seen := make(map[int]struct{})
	s.boundaries(table, key.encode(), branch, -1, seen)
	out := make([]int, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Ints(out)
	return out
}

func (s *Store) boundaries(table, enc string, branch, limit int, seen map[int]struct{}) {
	if bk := s.buckets[bucketID{table, enc, branch}]; bk != nil {
		for _, t := range bk.ticks {
			if limit >= 0 && t > limit {
				break
			}
			seen[t] = struct{}{}
		}
	}
	if l, ok := s.lineage[branch]; ok && l.parent >= 0 {
		lim := l.fork
		if limit >= 0 && limit < lim {
			lim = limit
		}
		s.boundaries(table, enc, l.parent, lim, seen)
	}
}

// History returns the facts written on branch itself for key, oldest first.
func (s *Store) History(table string, key Key, branch int) []Fact {
	if s.checkKey(table, key) != nil {
		return nil
	}
	bk := s.buckets[bucketID{table, key.encode(), branch}]
	if bk == nil {
		return nil
	}
	out := make([]Fact, len(bk.ticks))
	for i := range bk.ticks {
		out[i] = Fact{Table: table, Key: bk.key, Branch: branch, Tick: bk.ticks[i], Value: bk.vals[i]}
	}
	return out
}

// Keys lists, sorted, every key of table starting with prefix that has facts
// on any branch. Callers decide visibility with ExistsAt.
func (s *Store) Keys(table string, prefix Key) []Key {
	refs := s.keys[table]
	out := make([]Key, 0, len(refs))
	for _, ref := range refs {
		if ref.key.HasPrefix(prefix) {
			out = append(out, ref.key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].encode() < out[j].encode() })
	return out
}

// LastTick returns the greatest tick_from written on branch itself across
// every table, or -1 when the branch has no facts.
func (s *Store) LastTick(branch int) int {
	last := -1
	for id, b := range s.buckets {
		if id.branch == branch && len(b.ticks) > 0 && b.ticks[len(b.ticks)-1] > last {
			last = b.ticks[len(b.ticks)-1]
		}
	}
	return last
}

// All returns every fact of table, sorted by key, branch and tick.
func (s *Store) All(table string) []Fact {
	var out []Fact
	for id, b := range s.buckets {
		if id.table != table {
			continue
		}
		for i := range b.ticks {
			out = append(out, Fact{Table: table, Key: b.key, Branch: id.branch, Tick: b.ticks[i], Value: b.vals[i]})
		}
	}
	sortFacts(out)
	return out
}

// DiscardBranch drops every fact written on branch and forgets its lineage.
func (s *Store) DiscardBranch(branch int) {
	var ids []factID
	for id, b := range s.buckets {
		if id.branch != branch {
			continue
		}
		for _, t := range b.ticks {
			ids = append(ids, factID{id, t})
		}
	}
	for _, id := range ids {
		s.remove(id)
	}
	delete(s.lineage, branch)
}

func sortFacts(fs []Fact) {
	sort.Slice(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		if ka, kb := a.Key.encode(), b.Key.encode(); ka != kb {
			return ka < kb
		}
		if a.Branch != b.Branch {
			return a.Branch < b.Branch
		}
		return a.Tick < b.Tick
	})
}
