package rules

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/nvandessel/worldline/internal/fact"
	"github.com/nvandessel/worldline/internal/utils"
	"github.com/nvandessel/worldline/internal/world"
)

// Fact tables owned by the rule engine.
const (
	TableRules     = "rules"
	TableRulebooks = "rulebooks"
)

var (
	// ErrUnknownRule is returned for a rule name with no definition.
	ErrUnknownRule = errors.New("unknown rule")

	// ErrUnregistered is returned when a rule names a function missing from
	// the registry.
	ErrUnregistered = errors.New("function not registered")
)

// Schemas returns the fact kinds the rule engine writes.
func Schemas() []fact.Schema {
	return []fact.Schema{
		{Name: TableRules, KeyFields: []string{"rule"}},
		{Name: TableRulebooks, KeyFields: []string{"scope"}},
	}
}

// Rule is a named list of triggers, prereqs and actions. The rule fires
// when it is Always or any trigger holds; it then runs its actions in order
// if every prereq holds.
type Rule struct {
	Name     string   `json:"name" yaml:"name"`
	Triggers []string `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	Prereqs  []string `json:"prereqs,omitempty" yaml:"prereqs,omitempty"`
	Actions  []string `json:"actions" yaml:"actions"`
	Always   bool     `json:"always,omitempty" yaml:"always,omitempty"`
}

func (r Rule) value() map[string]any {
	return map[string]any{
		"triggers": toAny(r.Triggers),
		"prereqs":  toAny(r.Prereqs),
		"actions":  toAny(r.Actions),
		"always":   r.Always,
	}
}

func ruleFromValue(name string, v any) (Rule, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Rule{}, fmt.Errorf("rule %q: malformed definition %v", name, v)
	}
	return Rule{
		Name:     name,
		Triggers: utils.GetStringSlice(m, "triggers"),
		Prereqs:  utils.GetStringSlice(m, "prereqs"),
		Actions:  utils.GetStringSlice(m, "actions"),
		Always:   utils.GetBool(m, "always", false),
	}, nil
}

// ScopeKind names the class of entities a rulebook applies to.
type ScopeKind string

const (
	ScopeCharacter ScopeKind = "character"
	ScopeUnits     ScopeKind = "units"
	ScopeThings    ScopeKind = "things"
	ScopePlaces    ScopeKind = "places"
	ScopePortals   ScopeKind = "portals"
	ScopeNode      ScopeKind = "node"
	ScopePortal    ScopeKind = "portal"
)

// Scope identifies a rulebook: a character plus, for single-entity scopes,
// the node or portal.
type Scope struct {
	Kind        ScopeKind `json:"kind"`
	Character   string    `json:"character"`
	Node        string    `json:"node,omitempty"`
	Origin      string    `json:"origin,omitempty"`
	Destination string    `json:"destination,omitempty"`
}

// Key is the scope's stable identity, e.g. "units:wolves".
func (s Scope) Key() string {
	parts := []string{string(s.Kind), s.Character}
	switch s.Kind {
	case ScopeNode:
		parts = append(parts, s.Node)
	case ScopePortal:
		parts = append(parts, s.Origin, s.Destination)
	}
	return strings.Join(parts, ":")
}

func (s Scope) String() string { return s.Key() }

// Validate checks the scope names what its kind needs.
func (s Scope) Validate() error {
	if s.Character == "" {
		return fmt.Errorf("scope %s: character is required", s.Kind)
	}
	for _, part := range []string{s.Character, s.Node, s.Origin, s.Destination} {
		if strings.Contains(part, ":") {
			return fmt.Errorf("scope %s: name %q contains ':'", s.Kind, part)
		}
	}
	switch s.Kind {
	case ScopeCharacter, ScopeUnits, ScopeThings, ScopePlaces, ScopePortals:
	case ScopeNode:
		if s.Node == "" {
			return fmt.Errorf("scope %s: node is required", s.Kind)
		}
	case ScopePortal:
		if s.Origin == "" || s.Destination == "" {
			return fmt.Errorf("scope %s: origin and destination are required", s.Kind)
		}
	default:
		return fmt.Errorf("unknown scope kind %q", s.Kind)
	}
	return nil
}

// ParseScope parses the form produced by Key.
func ParseScope(key string) (Scope, error) {
	parts := strings.Split(key, ":")
	if len(parts) < 2 {
		return Scope{}, fmt.Errorf("malformed scope %q", key)
	}
	s := Scope{Kind: ScopeKind(parts[0]), Character: parts[1]}
	switch {
	case s.Kind == ScopeNode && len(parts) == 3:
		s.Node = parts[2]
	case s.Kind == ScopePortal && len(parts) == 4:
		s.Origin, s.Destination = parts[2], parts[3]
	case len(parts) != 2:
		return Scope{}, fmt.Errorf("malformed scope %q", key)
	}
	return s, s.Validate()
}

// Rulebook is the ordered list of rules bound to a scope. Rulebooks run in
// ascending priority.
type Rulebook struct {
	Scope    Scope    `json:"scope"`
	Rules    []string `json:"rules"`
	Priority float64  `json:"priority"`
}

func (b Rulebook) value() map[string]any {
	return map[string]any{"rules": toAny(b.Rules), "priority": b.Priority}
}

func rulebookFromValue(key string, v any) (Rulebook, error) {
	scope, err := ParseScope(key)
	if err != nil {
		return Rulebook{}, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return Rulebook{}, fmt.Errorf("rulebook %q: malformed value %v", key, v)
	}
	return Rulebook{
		Scope:    scope,
		Rules:    utils.GetStringSlice(m, "rules"),
		Priority: utils.GetFloat64(m, "priority", 0),
	}, nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func (e *Engine) put(table string, key fact.Key, v any) error {
	now := e.world.Now()
	return e.facts.PutChecked(table, key, now.Branch, now.Tick, v)
}

func (e *Engine) get(table string, key fact.Key) (any, bool) {
	now := e.world.Now()
	f, err := e.facts.GetAt(table, key, now.Branch, now.Tick)
	if err != nil || f.Tombstone() {
		return nil, false
	}
	return f.Value, true
}

// NewRule defines a rule now. Every function it names must be registered.
func (e *Engine) NewRule(r Rule) error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if _, ok := e.get(TableRules, fact.Key{r.Name}); ok {
		return fmt.Errorf("rule %q: %w", r.Name, world.ErrExists)
	}
	return e.SetRule(r)
}

// SetRule writes a rule definition now, replacing the previous one from
// this tick on. Earlier turns keep the definition they ran with.
func (e *Engine) SetRule(r Rule) error {
	if err := e.registry.validate(r); err != nil {
		return err
	}
	return e.put(TableRules, fact.Key{r.Name}, r.value())
}

// Rule returns a rule definition as of now.
func (e *Engine) Rule(name string) (Rule, error) {
	v, ok := e.get(TableRules, fact.Key{name})
	if !ok {
		return Rule{}, fmt.Errorf("rule %q: %w", name, ErrUnknownRule)
	}
	return ruleFromValue(name, v)
}

// Rules returns every rule defined now, sorted by name.
func (e *Engine) Rules() []Rule {
	var out []Rule
	for _, k := range e.facts.Keys(TableRules, nil) {
		if r, err := e.Rule(k[0]); err == nil {
			out = append(out, r)
		}
	}
	return out
}

// DeleteRule removes a rule definition from now on. Rulebooks that still
// name it skip it.
func (e *Engine) DeleteRule(name string) error {
	if _, err := e.Rule(name); err != nil {
		return err
	}
	return e.put(TableRules, fact.Key{name}, nil)
}

// Rulebook returns the rulebook of scope as of now.
func (e *Engine) Rulebook(scope Scope) (Rulebook, bool) {
	v, ok := e.get(TableRulebooks, fact.Key{scope.Key()})
	if !ok {
		return Rulebook{Scope: scope}, false
	}
	b, err := rulebookFromValue(scope.Key(), v)
	if err != nil {
		return Rulebook{Scope: scope}, false
	}
	return b, true
}

// Rulebooks returns every non-empty rulebook in evaluation order: ascending
// priority, then scope key.
func (e *Engine) Rulebooks() []Rulebook {
	var out []Rulebook
	for _, k := range e.facts.Keys(TableRulebooks, nil) {
		v, ok := e.get(TableRulebooks, k)
		if !ok {
			continue
		}
		b, err := rulebookFromValue(k[0], v)
		if err != nil || len(b.Rules) == 0 {
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Scope.Key() < out[j].Scope.Key()
	})
	return out
}

// Bind appends rule to the rulebook of scope. Binding a rule twice is a
// no-op.
func (e *Engine) Bind(scope Scope, rule string) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if _, err := e.Rule(rule); err != nil {
		return err
	}
	b, _ := e.Rulebook(scope)
	if slices.Contains(b.Rules, rule) {
		return nil
	}
	b.Rules = append(b.Rules, rule)
	return e.put(TableRulebooks, fact.Key{scope.Key()}, b.value())
}

// Unbind removes rule from the rulebook of scope.
func (e *Engine) Unbind(scope Scope, rule string) error {
	b, ok := e.Rulebook(scope)
	i := slices.Index(b.Rules, rule)
	if !ok || i < 0 {
		return fmt.Errorf("rule %q in %s: %w", rule, scope, fact.ErrNotFound)
	}
	b.Rules = slices.Delete(b.Rules, i, i+1)
	return e.put(TableRulebooks, fact.Key{scope.Key()}, b.value())
}

// SetPriority sets when the rulebook of scope runs relative to others.
func (e *Engine) SetPriority(scope Scope, priority float64) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	b, _ := e.Rulebook(scope)
	b.Priority = priority
	return e.put(TableRulebooks, fact.Key{scope.Key()}, b.value())
}
