// Package engine drives a world: it owns the fact store, the timestream and
// the rule engine, advances turns, and persists the fact delta to a row
// store at checkpoints.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nvandessel/worldline/internal/fact"
	"github.com/nvandessel/worldline/internal/logging"
	"github.com/nvandessel/worldline/internal/rules"
	"github.com/nvandessel/worldline/internal/store"
	"github.com/nvandessel/worldline/internal/timestream"
	"github.com/nvandessel/worldline/internal/travel"
	"github.com/nvandessel/worldline/internal/world"
)

// Fact tables owned by the driver.
const (
	TableEternal     = "eternal"
	TableBranches    = "branches"
	TableClock       = "clock"
	TableTurnReports = "turn_reports"
)

// DefaultSeed seeds a new world when Options.Seed is zero.
const DefaultSeed uint64 = 0x5eed

var reportKey = fact.Key{"turn"}

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("engine is closed")

// Schemas returns every fact kind a world writes: the world model, the rule
// definitions and the driver's own tables.
func Schemas() []fact.Schema {
	out := append(world.Schemas(), rules.Schemas()...)
	return append(out,
		fact.Schema{Name: TableEternal, KeyFields: []string{"key"}},
		fact.Schema{Name: TableBranches, KeyFields: []string{"id"}},
		fact.Schema{Name: TableClock, KeyFields: []string{"name"}},
		fact.Schema{Name: TableTurnReports, KeyFields: []string{"kind"}},
	)
}

// Tables returns Schemas as row store table definitions.
func Tables() []store.Table {
	schemas := Schemas()
	out := make([]store.Table, len(schemas))
	for i, s := range schemas {
		out[i] = store.Table{Name: s.Name, KeyFields: s.KeyFields}
	}
	return out
}

// Options configures Open.
type Options struct {
	// Rows persists the fact delta. It must have been opened with Tables().
	Rows store.RowStore

	// Registry holds the rule functions. Nil means an empty registry.
	Registry *rules.Registry

	// Seed is the root random seed of a new world. A world loaded from Rows
	// keeps the seed it was created with.
	Seed uint64

	// DefaultSpeed is the travel speed of things without a speed stat.
	DefaultSpeed float64

	// CollapseRuns makes TurnsWhen emit only the first tick of each run.
	CollapseRuns bool

	Logger  *slog.Logger
	TurnLog *logging.TurnLogger
}

// Engine is safe for concurrent use; every method serializes on one lock.
// Rule bodies run under that lock and must use their rules.Context rather
// than calling back into the Engine.
type Engine struct {
	mu sync.Mutex

	rows    store.RowStore
	facts   *fact.Store
	time    *timestream.Timestream
	world   *world.World
	rules   *rules.Engine
	travel  *travel.Planner
	logger  *slog.Logger
	turnLog *logging.TurnLogger

	collapse bool
	closed   bool
}

// Open loads the world persisted in opts.Rows, or starts an empty one.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Rows == nil {
		return nil, fmt.Errorf("row store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	facts, err := fact.NewStore(Schemas()...)
	if err != nil {
		return nil, err
	}
	loaded, err := loadFacts(ctx, opts.Rows, facts)
	if err != nil {
		return nil, err
	}

	ts := timestream.New(facts)
	if err := restoreTime(facts, ts); err != nil {
		return nil, err
	}

	facts.Checkpoint()
	seed, err := loadSeed(facts, opts.Seed)
	if err != nil {
		return nil, err
	}

	w := world.New(facts, ts)
	planner := travel.NewPlanner(ts, facts, opts.DefaultSpeed, logger)
	e := &Engine{
		rows:     opts.Rows,
		facts:    facts,
		time:     ts,
		world:    w,
		rules:    rules.NewEngine(w, opts.Registry, planner, seed, logger),
		travel:   planner,
		logger:   logger,
		turnLog:  opts.TurnLog,
		collapse: opts.CollapseRuns,
	}
	logger.Debug("world opened", "facts", loaded, "branches", ts.HiBranch()+1,
		"branch", ts.Now().Branch, "tick", ts.Now().Tick, "seed", seed)
	return e, nil
}

func loadSeed(facts *fact.Store, fallback uint64) (uint64, error) {
	f, err := facts.GetExact(TableClock, fact.Key{"seed"}, 0, 0)
	if err == nil && !f.Tombstone() {
		n, ok := f.Value.(int64)
		if !ok {
			return 0, fmt.Errorf("stored seed has type %T", f.Value)
		}
		return uint64(n), nil
	}
	if fallback == 0 {
		fallback = DefaultSeed
	}
	// int64 keeps the value inside the fact value domain; the bits survive.
	if err := facts.Put(TableClock, fact.Key{"seed"}, 0, 0, int64(fallback)); err != nil {
		return 0, err
	}
	return fallback, nil
}

func (e *Engine) lock() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// Facts returns the fact store. Callers must not use it concurrently with
// the Engine.
func (e *Engine) Facts() *fact.Store { return e.facts }

// Registry returns the rule function table.
func (e *Engine) Registry() *rules.Registry { return e.rules.Registry() }

// Seed returns the world's root random seed.
func (e *Engine) Seed() uint64 { return e.rules.Seed() }

// Update runs fn with exclusive access to the world, the rule engine and
// the travel planner.
func (e *Engine) Update(fn func(w *world.World, r *rules.Engine, p *travel.Planner) error) error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	return fn(e.world, e.rules, e.travel)
}

// View runs fn against a world pinned to t. fn must not write.
func (e *Engine) View(t timestream.Time, fn func(w *world.World) error) error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	return fn(e.world.At(t))
}

// NewCharacter creates a character at the cursor.
func (e *Engine) NewCharacter(name string, graph *world.Graph, stats map[string]any) error {
	return e.Update(func(w *world.World, _ *rules.Engine, _ *travel.Planner) error {
		_, err := w.NewCharacter(name, graph, stats)
		return err
	})
}

// Characters lists the characters that exist at the cursor.
func (e *Engine) Characters() ([]string, error) {
	var names []string
	err := e.Update(func(w *world.World, _ *rules.Engine, _ *travel.Planner) error {
		names = w.Characters()
		return nil
	})
	return names, err
}

// JourneyTo schedules the thing to travel to dest from the cursor.
func (e *Engine) JourneyTo(character, thing, dest string) (travel.Result, error) {
	var res travel.Result
	err := e.Update(func(w *world.World, _ *rules.Engine, p *travel.Planner) error {
		c, err := w.Character(character)
		if err != nil {
			return err
		}
		t, err := c.Thing(thing)
		if err != nil {
			return err
		}
		res, err = p.JourneyTo(t, dest)
		return err
	})
	return res, err
}

// Close checkpoints and closes the row store.
func (e *Engine) Close(ctx context.Context) error {
	if err := e.lock(); err != nil {
		return nil
	}
	defer e.mu.Unlock()
	cerr := e.checkpoint(ctx)
	e.closed = true
	if err := e.rows.Close(); err != nil && cerr == nil {
		cerr = err
	}
	return cerr
}
