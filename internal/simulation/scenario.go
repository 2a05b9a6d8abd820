package simulation

import (
	"fmt"
	"strings"

	"github.com/nvandessel/worldline/internal/engine"
	"github.com/nvandessel/worldline/internal/graphdoc"
	"github.com/nvandessel/worldline/internal/store"
	"github.com/nvandessel/worldline/internal/timestream"
)

// Scenario defines a complete simulation experiment.
type Scenario struct {
	Name string

	// World seeds the characters, stats and eternal values before turn 0.
	World *graphdoc.Document

	// Scripts maps a chunk name to Lua source declaring rules.
	Scripts map[string]string

	Turns int
	Seed  uint64 // 0 keeps the document's seed, or 1

	// Backend selects the row store; empty means SQLite.
	Backend store.Backend

	// Watch lists stats recorded after every turn, as "character.stat" or
	// "character.node.stat".
	Watch []string

	// BeforeTurn, when non-nil, runs before each turn. Use it to schedule
	// journeys or time travel between turns.
	BeforeTurn func(turn int, e *engine.Engine) error
}

// TurnSnapshot is the outcome of one turn.
type TurnSnapshot struct {
	Index  int
	Result engine.TurnResult

	// Now is the cursor after the turn.
	Now timestream.Time

	// Stats holds the watched stats after the turn; unset stats are absent.
	Stats map[string]any
}

// Result captures every turn and the engine, still open, that ran them.
type Result struct {
	Name   string
	Turns  []TurnSnapshot
	Engine *engine.Engine

	// Path is where the row store lives, for reopening.
	Path    string
	Backend store.Backend
}

// Last returns the final turn, or the zero snapshot when none ran.
func (r Result) Last() TurnSnapshot {
	if len(r.Turns) == 0 {
		return TurnSnapshot{}
	}
	return r.Turns[len(r.Turns)-1]
}

// splitWatch splits "a.b.stat" into the entity reference and the stat name.
func splitWatch(ref string) (string, string, error) {
	i := strings.LastIndex(ref, ".")
	if i <= 0 || i == len(ref)-1 {
		return "", "", fmt.Errorf("watch %q: want character.stat or character.node.stat", ref)
	}
	return ref[:i], ref[i+1:], nil
}
