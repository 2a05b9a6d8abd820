package engine

import (
	"fmt"
	"strings"

	"github.com/nvandessel/worldline/internal/fact"
	"github.com/nvandessel/worldline/internal/query"
	"github.com/nvandessel/worldline/internal/world"
)

// Historical names the history of one stat of entity for use in a query.
func (e *Engine) Historical(entity world.Entity, stat string) query.Operand {
	return query.Named(entity.Name()+"."+stat, entity.StatSeries(stat))
}

// Alias wraps a plain value for comparison against historical operands.
func (e *Engine) Alias(v any) query.Operand { return query.Alias(v) }

// Resolve turns a dotted reference into an operand: "character.stat" is a
// character stat, "character.node.stat" a stat of a place or thing, and
// "character.thing.location" a thing's location. Entities are not required
// to exist at the cursor.
func (e *Engine) Resolve(ref string) (query.Operand, error) {
	parts := strings.Split(ref, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("reference %q has an empty part", ref)
		}
	}
	var s world.Series
	switch len(parts) {
	case 2:
		s = world.Series{Table: world.TableCharacterStats, Key: fact.Key{parts[0], parts[1]}}
	case 3:
		if parts[2] == "location" {
			s = world.Series{Table: world.TableLocations, Key: fact.Key{parts[0], parts[1]}}
		} else {
			s = world.Series{Table: world.TableNodeStats, Key: fact.Key{parts[0], parts[1], parts[2]}}
		}
	default:
		return nil, fmt.Errorf("reference %q: want character.stat or character.node.stat", ref)
	}
	return query.Named(ref, s), nil
}

// ParseQuery parses a query expression whose identifiers are references
// accepted by Resolve.
func (e *Engine) ParseQuery(src string) (query.Expr, error) {
	return query.Parse(src, e.Resolve)
}

// TurnsWhen returns the ticks of the cursor's branch at which expr holds,
// from tick 0 through the branch end.
func (e *Engine) TurnsWhen(expr query.Expr) ([]int, error) {
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	now := e.time.Now()
	b, _ := e.time.Branch(now.Branch)
	end := max(b.End, now.Tick)
	return query.Ticks(query.TurnsWhen(e.facts, expr, now.Branch, end, query.CollapseRuns(e.collapse))), nil
}

// Eval reports whether expr holds at the cursor.
func (e *Engine) Eval(expr query.Expr) (bool, error) {
	if err := e.lock(); err != nil {
		return false, err
	}
	defer e.mu.Unlock()
	now := e.time.Now()
	return query.Eval(e.facts, expr, now.Branch, now.Tick), nil
}
