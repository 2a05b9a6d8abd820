package world

import (
	"errors"
	"fmt"

	"github.com/nvandessel/worldline/internal/fact"
	"github.com/nvandessel/worldline/internal/timestream"
)

// ErrContainment is returned when a thing would end up inside itself.
var ErrContainment = errors.New("containment cycle")

func nodeKey(character, node string) fact.Key {
	return fact.Key{character, node}
}

// Place is a bare node.
type Place struct {
	stats
	c    *Character
	name string
}

func (p *Place) Kind() Kind { return KindPlace }

func (p *Place) Name() string { return p.name }

func (p *Place) Character() *Character { return p.c }

func (p *Place) Descriptor() string { return p.name }

func (p *Place) String() string { return p.name }

// Exists reports whether the place exists now.
func (p *Place) Exists() bool {
	k, ok := p.c.nodeKind(p.name)
	return ok && k == KindPlace
}

// Successors returns the destinations of portals leaving the place.
func (p *Place) Successors() []string {
	return p.c.Successors(p.name)
}

// Contents returns the things located directly in the place now.
func (p *Place) Contents() []*Thing {
	return p.c.contents(p.name)
}

// Delete tombstones the place and every portal touching it.
func (p *Place) Delete() error {
	if !p.Exists() {
		return fmt.Errorf("place %q: %w", p.name, ErrNotFound)
	}
	return p.c.deleteNode(p.name)
}

func (c *Character) deleteNode(name string) error {
	for _, dest := range c.Successors(name) {
		if err := c.w.put(TablePortals, fact.Key{c.name, name, dest}, nil); err != nil {
			return err
		}
	}
	for _, orig := range c.Predecessors(name) {
		if err := c.w.put(TablePortals, fact.Key{c.name, orig, name}, nil); err != nil {
			return err
		}
	}
	return c.w.put(TableNodes, nodeKey(c.name, name), nil)
}

func (c *Character) contents(loc string) []*Thing {
	var out []*Thing
	for _, k := range c.w.live(TableLocations, fact.Key{c.name}) {
		if v, _ := c.w.get(TableLocations, k); v == loc {
			if kind, ok := c.nodeKind(k[1]); ok && kind == KindThing {
				out = append(out, c.thing(k[1]))
			}
		}
	}
	return out
}

// Thing is a node with a location history.
type Thing struct {
	stats
	c    *Character
	name string
}

func (t *Thing) Kind() Kind { return KindThing }

func (t *Thing) Name() string { return t.name }

func (t *Thing) Character() *Character { return t.c }

func (t *Thing) Descriptor() string { return t.name }

func (t *Thing) String() string { return t.name }

// Exists reports whether the thing exists now.
func (t *Thing) Exists() bool {
	k, ok := t.c.nodeKind(t.name)
	return ok && k == KindThing
}

// Successors returns the destinations of portals leaving the thing.
func (t *Thing) Successors() []string {
	return t.c.Successors(t.name)
}

// Contents returns the things inside this one now.
func (t *Thing) Contents() []*Thing {
	return t.c.contents(t.name)
}

// StatSeries maps the pseudo-stat "location" onto the location series.
func (t *Thing) StatSeries(name string) Series {
	if name == "location" {
		return Series{Table: TableLocations, Key: t.locationKey()}
	}
	return t.stats.StatSeries(name)
}

func (t *Thing) locationKey() fact.Key {
	return fact.Key{t.c.name, t.name}
}

// Location returns where the thing is now. A deleted thing has a nil
// location and no error.
func (t *Thing) Location() (Location, error) {
	return t.LocationAt(t.c.w.Now().Branch, t.c.w.Now().Tick)
}

// LocationAt returns where the thing was at (branch, tick).
func (t *Thing) LocationAt(branch, tick int) (Location, error) {
	f, err := t.c.w.facts.GetAt(TableLocations, t.locationKey(), branch, tick)
	if err != nil {
		return nil, fmt.Errorf("location of %q: %w", t.name, err)
	}
	if f.Tombstone() {
		return nil, nil
	}
	desc, ok := f.Value.(string)
	if !ok {
		return nil, fmt.Errorf("location of %q: unexpected value %v", t.name, f.Value)
	}
	return t.c.decodeLocation(desc, timestream.Time{Branch: branch, Tick: tick}), nil
}

// SetLocation moves the thing now. loc is a place name, a
// Portal(origin->destination) descriptor or the name of a containing thing.
func (t *Thing) SetLocation(loc string) error {
	target, err := t.c.resolve(loc)
	if err != nil {
		return fmt.Errorf("move %q: %w", t.name, err)
	}
	if container, ok := target.(*Thing); ok {
		if err := t.checkContainment(container); err != nil {
			return err
		}
	}
	if err := t.c.w.put(TableLocations, t.locationKey(), target.Descriptor()); err != nil {
		return fmt.Errorf("move %q to %s: %w", t.name, loc, err)
	}
	return nil
}

// SetLocationAt moves the thing at an explicit time.
func (t *Thing) SetLocationAt(loc string, branch, tick int) error {
	at := t.c.w.At(timestream.Time{Branch: branch, Tick: tick}).character(t.c.name).thing(t.name)
	return at.SetLocation(loc)
}

func (t *Thing) checkContainment(container *Thing) error {
	seen := map[string]bool{}
	for cur := container; cur != nil; {
		if cur.name == t.name {
			return fmt.Errorf("put %q inside %q: %w", t.name, container.name, ErrContainment)
		}
		if seen[cur.name] {
			return fmt.Errorf("container chain of %q: %w", container.name, ErrContainment)
		}
		seen[cur.name] = true
		next, _ := cur.Container()
		cur = next
	}
	return nil
}

// Container returns the thing this one is inside, if any.
func (t *Thing) Container() (*Thing, bool) {
	loc, err := t.Location()
	if err != nil || loc == nil {
		return nil, false
	}
	c, ok := loc.(*Thing)
	return c, ok
}

// Place returns the place the thing effectively occupies: its own location
// when that is a place, its outermost container's otherwise. A thing in
// transit has no place.
func (t *Thing) Place() (*Place, error) {
	seen := map[string]bool{}
	cur := t
	for {
		if seen[cur.name] {
			return nil, fmt.Errorf("place of %q: %w", t.name, ErrContainment)
		}
		seen[cur.name] = true
		loc, err := cur.Location()
		if err != nil {
			return nil, err
		}
		switch l := loc.(type) {
		case *Place:
			return l, nil
		case *Thing:
			cur = l
		default:
			return nil, fmt.Errorf("place of %q: %w", t.name, ErrNotFound)
		}
	}
}

// Speed returns the "speed" stat, or def when unset or not a positive number.
func (t *Thing) Speed(def float64) float64 {
	v, ok := t.Stat("speed")
	if !ok {
		return def
	}
	var s float64
	switch n := v.(type) {
	case int64:
		s = float64(n)
	case float64:
		s = n
	}
	if s <= 0 {
		return def
	}
	return s
}

// Delete tombstones the thing and its location. History before now is kept.
func (t *Thing) Delete() error {
	if !t.Exists() {
		return fmt.Errorf("thing %q: %w", t.name, ErrNotFound)
	}
	if err := t.c.w.put(TableLocations, t.locationKey(), nil); err != nil {
		return err
	}
	return t.c.deleteNode(t.name)
}
