package world

import (
	"fmt"
	"sort"

	"github.com/nvandessel/worldline/internal/fact"
)

// Kind distinguishes entity types.
type Kind string

const (
	KindCharacter Kind = "character"
	KindPlace     Kind = "place"
	KindThing     Kind = "thing"
	KindPortal    Kind = "portal"
)

// Entity is anything that carries stats and can be deleted.
type Entity interface {
	Kind() Kind
	Name() string
	Character() *Character
	Exists() bool
	Stat(name string) (any, bool)
	StatAt(name string, branch, tick int) (any, bool)
	SetStat(name string, v any) error
	DelStat(name string) error
	StatKeys() []string
	Stats() map[string]any
	StatSeries(name string) Series
	Delete() error
}

// Node is a place or a thing.
type Node interface {
	Entity
	Successors() []string
}

// Character is a named graph of places, things and portals, plus the units
// it controls in other graphs.
type Character struct {
	stats
	w    *World
	name string
}

func (c *Character) Kind() Kind { return KindCharacter }

func (c *Character) Name() string { return c.name }

// Character returns c, so a Character satisfies Entity.
func (c *Character) Character() *Character { return c }

// World returns the world c resolves through.
func (c *Character) World() *World { return c.w }

// Exists reports whether the character exists now.
func (c *Character) Exists() bool {
	return c.w.exists(TableCharacters, fact.Key{c.name})
}

// Delete tombstones the character. Its places, things and history remain
// readable at earlier times.
func (c *Character) Delete() error {
	if !c.Exists() {
		return fmt.Errorf("character %q: %w", c.name, ErrNotFound)
	}
	return c.w.put(TableCharacters, fact.Key{c.name}, nil)
}

func (c *Character) nodeKind(name string) (Kind, bool) {
	v, ok := c.w.get(TableNodes, fact.Key{c.name, name})
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return Kind(s), true
}

func (c *Character) newNode(name string, kind Kind) error {
	if name == "" {
		return fmt.Errorf("node name is required")
	}
	if _, ok := ParsePortal(name); ok {
		return fmt.Errorf("node name %q looks like a portal", name)
	}
	if _, taken := c.nodeKind(name); taken {
		return fmt.Errorf("node %q in %q: %w", name, c.name, ErrExists)
	}
	return c.w.put(TableNodes, fact.Key{c.name, name}, string(kind))
}

// NewPlace creates a place.
func (c *Character) NewPlace(name string, stats map[string]any) (*Place, error) {
	if err := c.newNode(name, KindPlace); err != nil {
		return nil, err
	}
	p := c.place(name)
	if err := p.setStats(stats); err != nil {
		return nil, err
	}
	return p, nil
}

// NewThing creates a thing at location, which is resolved like
// Thing.SetLocation.
func (c *Character) NewThing(name, location string, stats map[string]any) (*Thing, error) {
	if location == "" {
		return nil, fmt.Errorf("thing %q: location is required", name)
	}
	if _, err := c.resolve(location); err != nil {
		return nil, fmt.Errorf("thing %q: %w", name, err)
	}
	if err := c.newNode(name, KindThing); err != nil {
		return nil, err
	}
	t := c.thing(name)
	if err := t.SetLocation(location); err != nil {
		return nil, err
	}
	if err := t.setStats(stats); err != nil {
		return nil, err
	}
	return t, nil
}

// NewPortal creates a portal from origin to destination. With symmetrical
// set the reverse portal is created too, unless it already exists.
func (c *Character) NewPortal(origin, destination string, stats map[string]any, symmetrical bool) (*Portal, error) {
	if origin == destination {
		return nil, fmt.Errorf("portal from %q to itself", origin)
	}
	for _, n := range []string{origin, destination} {
		if _, ok := c.nodeKind(n); !ok {
			return nil, fmt.Errorf("portal endpoint %q in %q: %w", n, c.name, ErrNotFound)
		}
	}
	key := fact.Key{c.name, origin, destination}
	if c.w.exists(TablePortals, key) {
		return nil, fmt.Errorf("portal %s in %q: %w", portalDescriptor(origin, destination), c.name, ErrExists)
	}
	if err := c.w.put(TablePortals, key, true); err != nil {
		return nil, err
	}
	p := c.portal(origin, destination)
	if err := p.setStats(stats); err != nil {
		return nil, err
	}
	if symmetrical && !c.w.exists(TablePortals, fact.Key{c.name, destination, origin}) {
		if _, err := c.NewPortal(destination, origin, stats, false); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (c *Character) place(name string) *Place {
	return &Place{stats: newStats(c.w, TableNodeStats, fact.Key{c.name, name}), c: c, name: name}
}

func (c *Character) thing(name string) *Thing {
	return &Thing{stats: newStats(c.w, TableNodeStats, fact.Key{c.name, name}), c: c, name: name}
}

func (c *Character) portal(origin, destination string) *Portal {
	return &Portal{
		stats: newStats(c.w, TablePortalStats, fact.Key{c.name, origin, destination}),
		c:     c,
		orig:  origin,
		dest:  destination,
	}
}

// Place returns the place called name.
func (c *Character) Place(name string) (*Place, error) {
	if k, ok := c.nodeKind(name); !ok || k != KindPlace {
		return nil, fmt.Errorf("place %q in %q: %w", name, c.name, ErrNotFound)
	}
	return c.place(name), nil
}

// Thing returns the thing called name.
func (c *Character) Thing(name string) (*Thing, error) {
	if k, ok := c.nodeKind(name); !ok || k != KindThing {
		return nil, fmt.Errorf("thing %q in %q: %w", name, c.name, ErrNotFound)
	}
	return c.thing(name), nil
}

// Node returns the place or thing called name.
func (c *Character) Node(name string) (Node, error) {
	k, ok := c.nodeKind(name)
	if !ok {
		return nil, fmt.Errorf("node %q in %q: %w", name, c.name, ErrNotFound)
	}
	if k == KindThing {
		return c.thing(name), nil
	}
	return c.place(name), nil
}

// Portal returns the portal from origin to destination.
func (c *Character) Portal(origin, destination string) (*Portal, error) {
	if !c.w.exists(TablePortals, fact.Key{c.name, origin, destination}) {
		return nil, fmt.Errorf("portal %s in %q: %w", portalDescriptor(origin, destination), c.name, ErrNotFound)
	}
	return c.portal(origin, destination), nil
}

// Places returns every place that exists now, sorted by name.
func (c *Character) Places() []*Place {
	var out []*Place
	for _, k := range c.w.live(TableNodes, fact.Key{c.name}) {
		if kind, _ := c.nodeKind(k[1]); kind == KindPlace {
			out = append(out, c.place(k[1]))
		}
	}
	return out
}

// Things returns every thing that exists now, sorted by name.
func (c *Character) Things() []*Thing {
	var out []*Thing
	for _, k := range c.w.live(TableNodes, fact.Key{c.name}) {
		if kind, _ := c.nodeKind(k[1]); kind == KindThing {
			out = append(out, c.thing(k[1]))
		}
	}
	return out
}

// Nodes returns every place and thing that exists now, sorted by name.
func (c *Character) Nodes() []Node {
	var out []Node
	for _, k := range c.w.live(TableNodes, fact.Key{c.name}) {
		if n, err := c.Node(k[1]); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// Portals returns every portal that exists now, ordered by origin then
// destination.
func (c *Character) Portals() []*Portal {
	keys := c.w.live(TablePortals, fact.Key{c.name})
	out := make([]*Portal, len(keys))
	for i, k := range keys {
		out[i] = c.portal(k[1], k[2])
	}
	return out
}

// Successors returns the sorted destinations of portals leaving node now.
func (c *Character) Successors(node string) []string {
	keys := c.w.live(TablePortals, fact.Key{c.name, node})
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k[2]
	}
	sort.Strings(out)
	return out
}

// Predecessors returns the sorted origins of portals entering node now.
func (c *Character) Predecessors(node string) []string {
	var out []string
	for _, p := range c.Portals() {
		if p.dest == node {
			out = append(out, p.orig)
		}
	}
	sort.Strings(out)
	return out
}

// resolve turns a location descriptor into the entity it names now.
func (c *Character) resolve(loc string) (Location, error) {
	if desc, ok := ParsePortal(loc); ok {
		return c.Portal(desc.Origin, desc.Destination)
	}
	n, err := c.Node(loc)
	if err != nil {
		return nil, err
	}
	return n.(Location), nil
}
