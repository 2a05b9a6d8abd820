package world

import (
	"fmt"

	"github.com/nvandessel/worldline/internal/fact"
)

func (c *Character) unitKey(n Node) fact.Key {
	return fact.Key{c.name, n.Character().Name(), n.Name()}
}

// AddUnit makes n, usually a node of another character, one of c's units.
// The relation is weak: deleting n leaves c intact.
func (c *Character) AddUnit(n Node) error {
	if !n.Exists() {
		return fmt.Errorf("unit %q of %q: %w", n.Name(), n.Character().Name(), ErrNotFound)
	}
	key := c.unitKey(n)
	if c.w.exists(TableUnits, key) {
		return nil
	}
	return c.w.put(TableUnits, key, true)
}

// RemoveUnit drops n from c's units.
func (c *Character) RemoveUnit(n Node) error {
	key := c.unitKey(n)
	if !c.w.exists(TableUnits, key) {
		return fmt.Errorf("unit %q of %q: %w", n.Name(), n.Character().Name(), ErrNotFound)
	}
	return c.w.put(TableUnits, key, nil)
}

// IsUnit reports whether n is currently one of c's units.
func (c *Character) IsUnit(n Node) bool {
	return c.w.exists(TableUnits, c.unitKey(n))
}

// Units returns c's units that still resolve to an existing node, ordered by
// graph then node name.
func (c *Character) Units() []Node {
	var out []Node
	for _, k := range c.w.live(TableUnits, fact.Key{c.name}) {
		if !c.w.exists(TableCharacters, fact.Key{k[1]}) {
			continue
		}
		n, err := c.w.character(k[1]).Node(k[2])
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
