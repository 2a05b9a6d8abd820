// Package world models characters, places, things and portals on top of the
// versioned fact store. Entity values are lightweight handles: a name plus
// the World they resolve through, so nothing holds a pointer into another
// entity and every read happens at the world's current time.
package world

import (
	"errors"
	"fmt"
	"sort"

	"github.com/nvandessel/worldline/internal/fact"
	"github.com/nvandessel/worldline/internal/timestream"
)

// Fact tables owned by the world model.
const (
	TableCharacters     = "characters"
	TableNodes          = "nodes"
	TablePortals        = "portals"
	TableLocations      = "thing_locations"
	TableCharacterStats = "character_stats"
	TableNodeStats      = "node_stats"
	TablePortalStats    = "portal_stats"
	TableUnits          = "units"
)

var (
	// ErrNotFound is returned when an entity does not exist at the queried time.
	ErrNotFound = fact.ErrNotFound

	// ErrExists is returned when creating an entity whose name is taken.
	ErrExists = errors.New("already exists")
)

// Schemas returns the fact kinds the world model writes.
func Schemas() []fact.Schema {
	return []fact.Schema{
		{Name: TableCharacters, KeyFields: []string{"character"}},
		{Name: TableNodes, KeyFields: []string{"character", "node"}},
		{Name: TablePortals, KeyFields: []string{"character", "origin", "destination"}},
		{Name: TableLocations, KeyFields: []string{"character", "thing"}},
		{Name: TableCharacterStats, KeyFields: []string{"character", "stat"}},
		{Name: TableNodeStats, KeyFields: []string{"character", "node", "stat"}},
		{Name: TablePortalStats, KeyFields: []string{"character", "origin", "destination", "stat"}},
		{Name: TableUnits, KeyFields: []string{"character", "graph", "node"}},
	}
}

// Clock supplies the time reads and writes happen at.
type Clock interface {
	Now() timestream.Time
}

type fixedClock timestream.Time

func (c fixedClock) Now() timestream.Time { return timestream.Time(c) }

// World resolves entity handles against a fact store at a clock's time.
type World struct {
	facts *fact.Store
	clock Clock
}

// New returns a world over facts, reading the time from clock.
func New(facts *fact.Store, clock Clock) *World {
	return &World{facts: facts, clock: clock}
}

// At returns a view of the same world pinned to t. Writes through the view
// land at t.
func (w *World) At(t timestream.Time) *World {
	return &World{facts: w.facts, clock: fixedClock(t)}
}

// Now returns the time the world reads at.
func (w *World) Now() timestream.Time {
	return w.clock.Now()
}

// Facts returns the backing store.
func (w *World) Facts() *fact.Store {
	return w.facts
}

func (w *World) put(table string, key fact.Key, v any) error {
	now := w.clock.Now()
	return w.facts.PutChecked(table, key, now.Branch, now.Tick, v)
}

func (w *World) get(table string, key fact.Key) (any, bool) {
	now := w.clock.Now()
	f, err := w.facts.GetAt(table, key, now.Branch, now.Tick)
	if err != nil || f.Tombstone() {
		return nil, false
	}
	return f.Value, true
}

func (w *World) exists(table string, key fact.Key) bool {
	now := w.clock.Now()
	return w.facts.ExistsAt(table, key, now.Branch, now.Tick)
}

// live returns the keys under prefix that exist now.
func (w *World) live(table string, prefix fact.Key) []fact.Key {
	var out []fact.Key
	for _, k := range w.facts.Keys(table, prefix) {
		if w.exists(table, k) {
			out = append(out, k)
		}
	}
	return out
}

// NewCharacter creates a character, seeding it from graph when one is given.
func (w *World) NewCharacter(name string, graph *Graph, stats map[string]any) (*Character, error) {
	if name == "" {
		return nil, fmt.Errorf("character name is required")
	}
	if w.exists(TableCharacters, fact.Key{name}) {
		return nil, fmt.Errorf("character %q: %w", name, ErrExists)
	}
	if err := w.put(TableCharacters, fact.Key{name}, true); err != nil {
		return nil, fmt.Errorf("create character %q: %w", name, err)
	}
	c := &Character{w: w, name: name}
	c.stats = newStats(w, TableCharacterStats, fact.Key{name})
	if err := c.setStats(stats); err != nil {
		return nil, err
	}
	if graph != nil {
		if err := c.seed(graph); err != nil {
			return nil, fmt.Errorf("seed character %q: %w", name, err)
		}
	}
	return c, nil
}

// Character returns the character called name.
func (w *World) Character(name string) (*Character, error) {
	if !w.exists(TableCharacters, fact.Key{name}) {
		return nil, fmt.Errorf("character %q: %w", name, ErrNotFound)
	}
	return w.character(name), nil
}

func (w *World) character(name string) *Character {
	return &Character{w: w, name: name, stats: newStats(w, TableCharacterStats, fact.Key{name})}
}

// Characters returns the names of every character that exists now.
func (w *World) Characters() []string {
	keys := w.live(TableCharacters, nil)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k[0]
	}
	sort.Strings(out)
	return out
}
