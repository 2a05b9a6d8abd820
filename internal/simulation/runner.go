package simulation

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"testing"

	"github.com/nvandessel/worldline/internal/engine"
	"github.com/nvandessel/worldline/internal/graphdoc"
	"github.com/nvandessel/worldline/internal/logging"
	"github.com/nvandessel/worldline/internal/rules"
	"github.com/nvandessel/worldline/internal/script"
	"github.com/nvandessel/worldline/internal/store"
	"github.com/nvandessel/worldline/internal/travel"
	"github.com/nvandessel/worldline/internal/world"
)

// Runner orchestrates simulation scenarios against real engines and row
// stores.
type Runner struct {
	t    *testing.T
	root string
	runs int
}

// NewRunner creates a simulation runner rooted in a temp directory with a
// sandboxed HOME.
func NewRunner(t *testing.T) *Runner {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	return &Runner{t: t, root: tmpDir}
}

// Run seeds the scenario's world, advances its turns and returns what
// happened. The engine is closed when the test ends.
func (r *Runner) Run(scenario Scenario) Result {
	r.t.Helper()
	ctx := context.Background()

	backend := scenario.Backend
	if backend == "" {
		backend = store.BackendSQLite
	}
	r.runs++
	path := store.DefaultPath(filepath.Join(r.root, fmt.Sprintf("run-%d", r.runs)), backend)

	e := r.open(ctx, scenario, backend, path, seedOf(scenario))
	if err := seedWorld(e, scenario); err != nil {
		r.t.Fatalf("%s: seed world: %v", scenario.Name, err)
	}

	res := Result{Name: scenario.Name, Engine: e, Path: path, Backend: backend}
	for i := range scenario.Turns {
		if scenario.BeforeTurn != nil {
			if err := scenario.BeforeTurn(i, e); err != nil {
				r.t.Fatalf("%s: before turn %d: %v", scenario.Name, i, err)
			}
		}
		tr, err := e.NextTurn(ctx)
		if err != nil {
			r.t.Fatalf("%s: turn %d: %v", scenario.Name, i, err)
		}
		res.Turns = append(res.Turns, TurnSnapshot{
			Index:  i,
			Result: tr,
			Now:    e.Now(),
			Stats:  r.watch(e, scenario),
		})
	}
	if err := e.Checkpoint(ctx); err != nil {
		r.t.Fatalf("%s: checkpoint: %v", scenario.Name, err)
	}
	return res
}

// Reopen closes res.Engine and opens a new engine over the same row store,
// with the scenario's scripts registered again.
func (r *Runner) Reopen(scenario Scenario, res Result) *engine.Engine {
	r.t.Helper()
	ctx := context.Background()
	if err := res.Engine.Close(ctx); err != nil {
		r.t.Fatalf("%s: close: %v", scenario.Name, err)
	}
	return r.open(ctx, scenario, res.Backend, res.Path, 0)
}

func (r *Runner) open(ctx context.Context, scenario Scenario, backend store.Backend, path string, seed uint64) *engine.Engine {
	r.t.Helper()
	rows, err := store.Open(ctx, backend, path, engine.Tables())
	if err != nil {
		r.t.Fatalf("%s: open %s store: %v", scenario.Name, backend, err)
	}

	reg := rules.NewRegistry()
	rt := script.New(reg, logging.Discard())
	names := make([]string, 0, len(scenario.Scripts))
	for name := range scenario.Scripts {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := rt.LoadString(name, scenario.Scripts[name]); err != nil {
			rows.Close()
			r.t.Fatalf("%s: load %s: %v", scenario.Name, name, err)
		}
	}

	e, err := engine.Open(ctx, engine.Options{Rows: rows, Registry: reg, Seed: seed, Logger: logging.Discard()})
	if err != nil {
		rows.Close()
		r.t.Fatalf("%s: open engine: %v", scenario.Name, err)
	}
	r.t.Cleanup(func() { e.Close(context.Background()) })

	err = e.Update(func(_ *world.World, re *rules.Engine, _ *travel.Planner) error {
		return rt.Install(re)
	})
	if err != nil {
		r.t.Fatalf("%s: install scripts: %v", scenario.Name, err)
	}
	return e
}

func seedOf(s Scenario) uint64 {
	switch {
	case s.Seed != 0:
		return s.Seed
	case s.World != nil && s.World.Seed != nil:
		return *s.World.Seed
	}
	return 1
}

func seedWorld(e *engine.Engine, s Scenario) error {
	if s.World == nil {
		return nil
	}
	err := e.Update(func(w *world.World, _ *rules.Engine, _ *travel.Planner) error {
		return graphdoc.Apply(w, s.World)
	})
	if err != nil {
		return err
	}
	for k, v := range s.World.Eternal {
		if err := e.Eternal().Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

// watch reads the watched stats at the cursor.
func (r *Runner) watch(e *engine.Engine, s Scenario) map[string]any {
	r.t.Helper()
	out := make(map[string]any, len(s.Watch))
	for _, ref := range s.Watch {
		entity, stat, err := splitWatch(ref)
		if err != nil {
			r.t.Fatalf("%s: %v", s.Name, err)
		}
		v, ok, err := e.Stat(entity, stat)
		if err != nil {
			r.t.Fatalf("%s: watch %s: %v", s.Name, ref, err)
		}
		if ok {
			out[ref] = v
		}
	}
	return out
}
