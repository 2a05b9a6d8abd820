package rules

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"

	"github.com/nvandessel/worldline/internal/travel"
	"github.com/nvandessel/worldline/internal/world"
)

// Context is what rule functions see while a turn runs.
type Context struct {
	World  *world.World
	Travel *travel.Planner
	Rand   *rand.Rand
	Branch int
	Tick   int
	Logger *slog.Logger
}

// Predicate is a trigger or prereq body.
type Predicate func(ctx *Context, e world.Entity) (bool, error)

// Action is a rule body. A non-empty result becomes a turn event.
type Action func(ctx *Context, e world.Entity) (string, error)

// Registry is the function table rule definitions refer to by name. Names
// are the stable identity that survives restarts; bodies are registered
// again by the program on every start.
type Registry struct {
	triggers map[string]Predicate
	prereqs  map[string]Predicate
	actions  map[string]Action
}

// NewRegistry returns an empty function table.
func NewRegistry() *Registry {
	return &Registry{
		triggers: make(map[string]Predicate),
		prereqs:  make(map[string]Predicate),
		actions:  make(map[string]Action),
	}
}

// RegisterTrigger adds a trigger body.
func (r *Registry) RegisterTrigger(name string, fn Predicate) error {
	return register(r.triggers, "trigger", name, fn)
}

// RegisterPrereq adds a prereq body.
func (r *Registry) RegisterPrereq(name string, fn Predicate) error {
	return register(r.prereqs, "prereq", name, fn)
}

// RegisterAction adds an action body.
func (r *Registry) RegisterAction(name string, fn Action) error {
	return register(r.actions, "action", name, fn)
}

func register[F any](m map[string]F, kind, name string, fn F) error {
	if name == "" {
		return fmt.Errorf("%s name is required", kind)
	}
	if _, dup := m[name]; dup {
		return fmt.Errorf("%s %q already registered", kind, name)
	}
	m[name] = fn
	return nil
}

// Trigger looks up a trigger body.
func (r *Registry) Trigger(name string) (Predicate, bool) {
	fn, ok := r.triggers[name]
	return fn, ok
}

// Prereq looks up a prereq body.
func (r *Registry) Prereq(name string) (Predicate, bool) {
	fn, ok := r.prereqs[name]
	return fn, ok
}

// Action looks up an action body.
func (r *Registry) Action(name string) (Action, bool) {
	fn, ok := r.actions[name]
	return fn, ok
}

// Names lists registered function names by kind.
func (r *Registry) Names() map[string][]string {
	return map[string][]string{
		"trigger": sortedKeys(r.triggers),
		"prereq":  sortedKeys(r.prereqs),
		"action":  sortedKeys(r.actions),
	}
}

func sortedKeys[F any](m map[string]F) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// validate checks that every function a rule names is registered.
func (r *Registry) validate(rule Rule) error {
	for _, n := range rule.Triggers {
		if _, ok := r.triggers[n]; !ok {
			return fmt.Errorf("rule %q: trigger %q is not registered", rule.Name, n)
		}
	}
	for _, n := range rule.Prereqs {
		if _, ok := r.prereqs[n]; !ok {
			return fmt.Errorf("rule %q: prereq %q is not registered", rule.Name, n)
		}
	}
	for _, n := range rule.Actions {
		if _, ok := r.actions[n]; !ok {
			return fmt.Errorf("rule %q: action %q is not registered", rule.Name, n)
		}
	}
	return nil
}
