package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/nvandessel/worldline/internal/rules"
	"github.com/nvandessel/worldline/internal/store"
	"github.com/nvandessel/worldline/internal/travel"
	"github.com/nvandessel/worldline/internal/world"
)

// entity resolves "character" or "character.node" in w.
func entity(w *world.World, ref string) (world.Entity, error) {
	charName, nodeName, hasNode := strings.Cut(ref, ".")
	if charName == "" || (hasNode && nodeName == "") {
		return nil, fmt.Errorf("entity %q: want character or character.node", ref)
	}
	c, err := w.Character(charName)
	if err != nil {
		return nil, err
	}
	if !hasNode {
		return c, nil
	}
	return c.Node(nodeName)
}

// Stats returns every stat of the entity at the cursor.
func (e *Engine) Stats(ref string) (map[string]any, error) {
	var out map[string]any
	err := e.Update(func(w *world.World, _ *rules.Engine, _ *travel.Planner) error {
		ent, err := entity(w, ref)
		if err != nil {
			return err
		}
		out = ent.Stats()
		return nil
	})
	return out, err
}

// Stat returns one stat of the entity at the cursor.
func (e *Engine) Stat(ref, name string) (any, bool, error) {
	var (
		v  any
		ok bool
	)
	err := e.Update(func(w *world.World, _ *rules.Engine, _ *travel.Planner) error {
		ent, err := entity(w, ref)
		if err != nil {
			return err
		}
		v, ok = ent.Stat(name)
		return nil
	})
	return v, ok, err
}

// SetStat writes a stat of the entity at the cursor; nil deletes it.
func (e *Engine) SetStat(ref, name string, v any) error {
	return e.Update(func(w *world.World, _ *rules.Engine, _ *travel.Planner) error {
		ent, err := entity(w, ref)
		if err != nil {
			return err
		}
		if v == nil {
			return ent.DelStat(name)
		}
		return ent.SetStat(name, v)
	})
}

// WithRows checkpoints, then runs fn against the row store while holding
// the engine lock, so fn sees every fact written so far and nothing else
// writes meanwhile. fn must only read.
func (e *Engine) WithRows(ctx context.Context, fn func(rs store.RowStore) error) error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	if err := e.checkpoint(ctx); err != nil {
		return err
	}
	return fn(e.rows)
}
