// Package rules holds rule definitions, the rulebooks binding them to
// entities, and the evaluation of one turn.
package rules

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strconv"

	"github.com/nvandessel/worldline/internal/fact"
	"github.com/nvandessel/worldline/internal/logging"
	"github.com/nvandessel/worldline/internal/travel"
	"github.com/nvandessel/worldline/internal/utils"
	"github.com/nvandessel/worldline/internal/world"
)

// RuleError wraps a failure inside a rule body.
type RuleError struct {
	Rule   string
	Stage  string
	Entity string
	Err    error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %q %s on %s: %v", e.Rule, e.Stage, e.Entity, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

// Event is one action result reported by a turn.
type Event struct {
	Rule      string `json:"rule"`
	Scope     string `json:"scope"`
	Character string `json:"character"`
	Entity    string `json:"entity"`
	Result    string `json:"result"`
}

// Report is the outcome of one turn. Rules names each rule that fired at
// least once, in firing order.
type Report struct {
	Branch int      `json:"branch"`
	Tick   int      `json:"tick"`
	Fired  int      `json:"fired"`
	Rules  []string `json:"rules,omitempty"`
	Events []Event  `json:"events"`
}

// Value encodes the report as a fact value.
func (r Report) Value() any {
	events := make([]any, len(r.Events))
	for i, ev := range r.Events {
		events[i] = map[string]any{
			"rule":      ev.Rule,
			"scope":     ev.Scope,
			"character": ev.Character,
			"entity":    ev.Entity,
			"result":    ev.Result,
		}
	}
	return map[string]any{"fired": int64(r.Fired), "rules": toAny(r.Rules), "events": events}
}

// ReportFromValue decodes a report stored with Value.
func ReportFromValue(branch, tick int, v any) Report {
	r := Report{Branch: branch, Tick: tick}
	m, _ := v.(map[string]any)
	r.Fired = utils.GetInt(m, "fired", 0)
	r.Rules = utils.GetStringSlice(m, "rules")
	for _, e := range utils.GetSlice(m, "events") {
		em, _ := e.(map[string]any)
		r.Events = append(r.Events, Event{
			Rule:      utils.GetString(em, "rule", ""),
			Scope:     utils.GetString(em, "scope", ""),
			Character: utils.GetString(em, "character", ""),
			Entity:    utils.GetString(em, "entity", ""),
			Result:    utils.GetString(em, "result", ""),
		})
	}
	return r
}

// Engine evaluates rulebooks against the world at its current time.
type Engine struct {
	world    *world.World
	facts    *fact.Store
	registry *Registry
	travel   *travel.Planner
	seed     uint64
	logger   *slog.Logger
}

// NewEngine returns a rule engine. seed feeds every turn's random source.
func NewEngine(w *world.World, registry *Registry, planner *travel.Planner, seed uint64, logger *slog.Logger) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{world: w, facts: w.Facts(), registry: registry, travel: planner, seed: seed, logger: logger}
}

// Registry returns the function table.
func (e *Engine) Registry() *Registry { return e.registry }

// Seed returns the root random seed.
func (e *Engine) Seed() uint64 { return e.seed }

// TurnRand returns the random source for the turn at (branch, tick). It
// depends only on the seed and the time, so replaying a turn replays its
// randomness.
func TurnRand(seed uint64, branch, tick int) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strconv.Itoa(branch)))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(strconv.Itoa(tick)))
	return rand.New(rand.NewPCG(seed, h.Sum64()))
}

type binding struct {
	book    Rulebook
	members []world.Entity
}

// Evaluate runs every rulebook once at the current time. Members are
// snapshotted before any rule runs. Writes land at the current time and are
// visible to later rules; the first rule error aborts the turn with
// everything written so far left in place.
func (e *Engine) Evaluate(ctx context.Context) (Report, error) {
	now := e.world.Now()
	rc := &Context{
		World:  e.world,
		Travel: e.travel,
		Rand:   TurnRand(e.seed, now.Branch, now.Tick),
		Branch: now.Branch,
		Tick:   now.Tick,
		Logger: e.logger,
	}
	report := Report{Branch: now.Branch, Tick: now.Tick}

	var plan []binding
	for _, b := range e.Rulebooks() {
		plan = append(plan, binding{book: b, members: e.members(b.Scope)})
	}

	for _, bd := range plan {
		for _, m := range bd.members {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if !m.Exists() {
				continue
			}
			for _, name := range bd.book.Rules {
				rule, err := e.Rule(name)
				if err != nil {
					e.logger.Warn("rulebook names missing rule", "scope", bd.book.Scope.Key(), "rule", name)
					continue
				}
				events, fired, err := e.apply(rc, rule, m)
				if err != nil {
					return report, err
				}
				if fired {
					report.Fired++
					if !slices.Contains(report.Rules, rule.Name) {
						report.Rules = append(report.Rules, rule.Name)
					}
				}
				for _, res := range events {
					report.Events = append(report.Events, Event{
						Rule:      rule.Name,
						Scope:     bd.book.Scope.Key(),
						Character: m.Character().Name(),
						Entity:    m.Name(),
						Result:    res,
					})
				}
			}
		}
	}
	return report, nil
}

func (e *Engine) apply(rc *Context, rule Rule, m world.Entity) ([]string, bool, error) {
	ok, err := e.triggered(rc, rule, m)
	if err != nil || !ok {
		return nil, false, err
	}
	for _, name := range rule.Prereqs {
		fn, found := e.registry.Prereq(name)
		if !found {
			return nil, false, &RuleError{Rule: rule.Name, Stage: "prereq " + name, Entity: m.Name(), Err: ErrUnregistered}
		}
		pass, err := fn(rc, m)
		if err != nil {
			return nil, false, &RuleError{Rule: rule.Name, Stage: "prereq " + name, Entity: m.Name(), Err: err}
		}
		if !pass {
			return nil, false, nil
		}
	}

	logging.Trace(e.logger, "rule fired", "rule", rule.Name, "entity", m.Name(), "tick", rc.Tick)
	var events []string
	for _, name := range rule.Actions {
		fn, found := e.registry.Action(name)
		if !found {
			return events, true, &RuleError{Rule: rule.Name, Stage: "action " + name, Entity: m.Name(), Err: ErrUnregistered}
		}
		res, err := fn(rc, m)
		if err != nil {
			return events, true, &RuleError{Rule: rule.Name, Stage: "action " + name, Entity: m.Name(), Err: err}
		}
		if res != "" {
			events = append(events, res)
		}
	}
	return events, true, nil
}

func (e *Engine) triggered(rc *Context, rule Rule, m world.Entity) (bool, error) {
	if rule.Always {
		return true, nil
	}
	for _, name := range rule.Triggers {
		fn, found := e.registry.Trigger(name)
		if !found {
			return false, &RuleError{Rule: rule.Name, Stage: "trigger " + name, Entity: m.Name(), Err: ErrUnregistered}
		}
		ok, err := fn(rc, m)
		if err != nil {
			return false, &RuleError{Rule: rule.Name, Stage: "trigger " + name, Entity: m.Name(), Err: err}
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// members lists the entities a scope covers now, sorted by name.
func (e *Engine) members(s Scope) []world.Entity {
	c, err := e.world.Character(s.Character)
	if err != nil {
		return nil
	}
	var out []world.Entity
	switch s.Kind {
	case ScopeCharacter:
		out = append(out, c)
	case ScopeUnits:
		for _, n := range c.Units() {
			out = append(out, n)
		}
	case ScopeThings:
		for _, t := range c.Things() {
			out = append(out, t)
		}
	case ScopePlaces:
		for _, p := range c.Places() {
			out = append(out, p)
		}
	case ScopePortals:
		for _, p := range c.Portals() {
			out = append(out, p)
		}
	case ScopeNode:
		if n, err := c.Node(s.Node); err == nil {
			out = append(out, n)
		}
	case ScopePortal:
		if p, err := c.Portal(s.Origin, s.Destination); err == nil {
			out = append(out, p)
		}
	}
	return out
}
