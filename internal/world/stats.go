package world

import (
	"fmt"
	"sort"

	"github.com/nvandessel/worldline/internal/fact"
)

// Series names the fact series backing one stat of one entity.
type Series struct {
	Table string
	Key   fact.Key
}

// stats is the versioned key/value map every entity carries.
type stats struct {
	w      *World
	table  string
	prefix fact.Key
}

func newStats(w *World, table string, prefix fact.Key) stats {
	return stats{w: w, table: table, prefix: prefix}
}

func (s stats) key(name string) fact.Key {
	k := make(fact.Key, 0, len(s.prefix)+1)
	k = append(k, s.prefix...)
	return append(k, name)
}

// Stat returns the value of a stat now.
func (s stats) Stat(name string) (any, bool) {
	return s.w.get(s.table, s.key(name))
}

// StatAt returns the value of a stat at an explicit time.
func (s stats) StatAt(name string, branch, tick int) (any, bool) {
	f, err := s.w.facts.GetAt(s.table, s.key(name), branch, tick)
	if err != nil || f.Tombstone() {
		return nil, false
	}
	return f.Value, true
}

// SetStat writes a stat now. Use DelStat to remove one.
func (s stats) SetStat(name string, v any) error {
	if name == "" {
		return fmt.Errorf("stat name is required")
	}
	if v == nil {
		return fmt.Errorf("stat %q: nil value, use DelStat", name)
	}
	return s.w.put(s.table, s.key(name), v)
}

// DelStat tombstones a stat now.
func (s stats) DelStat(name string) error {
	if _, ok := s.Stat(name); !ok {
		return fmt.Errorf("stat %q: %w", name, ErrNotFound)
	}
	return s.w.put(s.table, s.key(name), nil)
}

// StatKeys lists the stats set now, sorted.
func (s stats) StatKeys() []string {
	keys := s.w.live(s.table, s.prefix)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if len(k) == len(s.prefix)+1 {
			out = append(out, k[len(k)-1])
		}
	}
	sort.Strings(out)
	return out
}

// Stats returns every stat set now.
func (s stats) Stats() map[string]any {
	out := make(map[string]any)
	for _, name := range s.StatKeys() {
		if v, ok := s.Stat(name); ok {
			out[name] = v
		}
	}
	return out
}

// StatSeries names the series a historical query reads for the stat.
func (s stats) StatSeries(name string) Series {
	return Series{Table: s.table, Key: s.key(name)}
}

func (s stats) setStats(m map[string]any) error {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if err := s.SetStat(k, m[k]); err != nil {
			return err
		}
	}
	return nil
}
