// Package script loads rule bodies written in Lua. A script registers
// triggers, prereqs and actions by name in a rules.Registry and may declare
// rules and the scopes they bind to:
//
//	worldline.action("grow", function(e)
//	  e:set_stat("size", (e:stat("size") or 0) + 1)
//	  return "grew"
//	end)
//	worldline.rule{name = "growth", always = true, actions = {"grow"},
//	  bind = {{kind = "things", character = "garden"}}}
//
// The Lua state is not safe for concurrent use; the engine runs rule bodies
// one at a time.
package script

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"

	"github.com/nvandessel/worldline/internal/rules"
)

const (
	entityTypeName = "worldline.entity"
	functionsKey   = "worldline.functions"
)

// Declaration is a rule declared by a script together with the scopes it
// should be bound to.
type Declaration struct {
	Rule     rules.Rule
	Bind     []rules.Scope
	Priority map[string]float64
}

// Runtime is one Lua state whose functions are registered in a registry.
type Runtime struct {
	mu       sync.Mutex
	state    *lua.State
	registry *rules.Registry
	logger   *slog.Logger

	decls []Declaration

	// cur is the rule context of the call in progress.
	cur *rules.Context
	// failure is the Go error behind the Lua error being raised, so typed
	// errors such as paradoxes survive the trip through Lua.
	failure error
}

// New returns a runtime registering into registry.
func New(registry *rules.Registry, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	rt := &Runtime{state: lua.NewState(), registry: registry, logger: logger}
	lua.OpenLibraries(rt.state)
	rt.state.NewTable()
	rt.state.SetField(lua.RegistryIndex, functionsKey)
	rt.registerEntityType()
	rt.registerModule()
	return rt
}

// Declarations returns the rules declared so far, in declaration order.
func (rt *Runtime) Declarations() []Declaration {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return slices.Clone(rt.decls)
}

// LoadString runs src. name is used in error messages.
func (rt *Runtime) LoadString(name, src string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if err := lua.LoadBuffer(rt.state, src, name, "t"); err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	return rt.run(name)
}

// LoadFile runs the Lua file at path.
func (rt *Runtime) LoadFile(path string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if err := lua.LoadFile(rt.state, path, "t"); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return rt.run(path)
}

func (rt *Runtime) run(name string) error {
	rt.failure = nil
	if err := rt.state.ProtectedCall(0, 0, 0); err != nil {
		if rt.failure != nil {
			err = rt.failure
		}
		return fmt.Errorf("run %s: %w", name, err)
	}
	return nil
}

// LoadDir runs every .lua file in dir in name order. A missing directory
// loads nothing.
func (rt *Runtime) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".lua") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	for _, f := range files {
		if err := rt.LoadFile(f); err != nil {
			return 0, err
		}
	}
	return len(files), nil
}

// Install writes the declared rules into r and binds them. Rules whose
// current definition already matches are left alone, so installing the same
// scripts on every start does not add facts.
func (rt *Runtime) Install(r *rules.Engine) error {
	for _, d := range rt.Declarations() {
		cur, err := r.Rule(d.Rule.Name)
		if err != nil || !sameRule(cur, d.Rule) {
			if err := r.SetRule(d.Rule); err != nil {
				return fmt.Errorf("install rule %q: %w", d.Rule.Name, err)
			}
		}
		for _, s := range d.Bind {
			if err := r.Bind(s, d.Rule.Name); err != nil {
				return fmt.Errorf("bind rule %q to %s: %w", d.Rule.Name, s, err)
			}
			p, ok := d.Priority[s.Key()]
			if !ok {
				continue
			}
			if b, _ := r.Rulebook(s); b.Priority != p {
				if err := r.SetPriority(s, p); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func sameRule(a, b rules.Rule) bool {
	return a.Name == b.Name && a.Always == b.Always &&
		slices.Equal(a.Triggers, b.Triggers) &&
		slices.Equal(a.Prereqs, b.Prereqs) &&
		slices.Equal(a.Actions, b.Actions)
}

func functionKey(kind, name string) string { return kind + ":" + name }

// call invokes the stored Lua function key with the entity as argument and
// leaves its single result on the stack.
func (rt *Runtime) call(ctx *rules.Context, key string, e any) error {
	l := rt.state
	l.Field(lua.RegistryIndex, functionsKey)
	l.Field(-1, key)
	l.Remove(-2)
	if !l.IsFunction(-1) {
		l.Pop(1)
		return fmt.Errorf("lua function %s is missing", key)
	}
	rt.pushEntity(e)
	rt.cur, rt.failure = ctx, nil
	defer func() { rt.cur = nil }()
	if err := l.ProtectedCall(1, 1, 0); err != nil {
		if rt.failure != nil {
			return rt.failure
		}
		return fmt.Errorf("lua %s: %w", key, err)
	}
	return nil
}
