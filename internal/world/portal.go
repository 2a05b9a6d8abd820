package world

import (
	"fmt"

	"github.com/nvandessel/worldline/internal/fact"
)

// Portal is a directed edge between two nodes of a character.
type Portal struct {
	stats
	c    *Character
	orig string
	dest string
}

func (p *Portal) Kind() Kind { return KindPortal }

// Name returns the portal descriptor, Portal(origin->destination).
func (p *Portal) Name() string { return portalDescriptor(p.orig, p.dest) }

func (p *Portal) Character() *Character { return p.c }

func (p *Portal) Descriptor() string { return p.Name() }

func (p *Portal) String() string { return p.Name() }

// OriginName returns the origin node's name.
func (p *Portal) OriginName() string { return p.orig }

// DestinationName returns the destination node's name.
func (p *Portal) DestinationName() string { return p.dest }

// Exists reports whether the portal exists now.
func (p *Portal) Exists() bool {
	return p.c.w.exists(TablePortals, fact.Key{p.c.name, p.orig, p.dest})
}

// Origin resolves the origin node now.
func (p *Portal) Origin() (Node, error) {
	return p.c.Node(p.orig)
}

// Destination resolves the destination node now.
func (p *Portal) Destination() (Node, error) {
	return p.c.Node(p.dest)
}

// Reciprocal returns the portal running the other way, or ErrNotFound.
func (p *Portal) Reciprocal() (*Portal, error) {
	return p.c.Portal(p.dest, p.orig)
}

// Length returns the "length" stat, 1 when unset or not a positive number.
func (p *Portal) Length() float64 {
	v, ok := p.Stat("length")
	if !ok {
		return 1
	}
	switch n := v.(type) {
	case int64:
		if n > 0 {
			return float64(n)
		}
	case float64:
		if n > 0 {
			return n
		}
	}
	return 1
}

// Delete tombstones the portal.
func (p *Portal) Delete() error {
	if !p.Exists() {
		return fmt.Errorf("portal %s: %w", p.Name(), ErrNotFound)
	}
	return p.c.w.put(TablePortals, fact.Key{p.c.name, p.orig, p.dest}, nil)
}
