package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvandessel/worldline/internal/fact"
	"github.com/nvandessel/worldline/internal/rules"
	"github.com/nvandessel/worldline/internal/timestream"
	"github.com/nvandessel/worldline/internal/world"
)

type fixture struct {
	world *world.World
	rules *rules.Engine
	rt    *Runtime
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	facts, err := fact.NewStore(append(world.Schemas(), rules.Schemas()...)...)
	if err != nil {
		t.Fatal(err)
	}
	ts := timestream.New(facts)
	w := world.New(facts, ts)
	reg := rules.NewRegistry()
	return &fixture{world: w, rules: rules.NewEngine(w, reg, nil, 1, nil), rt: New(reg, nil)}
}

func (f *fixture) garden(t *testing.T) *world.Character {
	t.Helper()
	c, err := f.world.NewCharacter("garden", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"bed", "shed"} {
		if _, err := c.NewPlace(p, nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := c.NewThing("rose", "bed", map[string]any{"size": 1}); err != nil {
		t.Fatal(err)
	}
	return c
}

const growth = `
worldline.trigger("small", function(e) return (e:stat("size") or 0) < 3 end)
worldline.action("grow", function(e)
  e:set_stat("size", e:stat("size") + 1)
  return e:name() .. " grew at " .. worldline.tick()
end)
worldline.rule{name = "growth", triggers = {"small"}, actions = {"grow"},
  bind = {{kind = "things", character = "garden", priority = 2}}}
`

func TestRuntime_RegistersAndRuns(t *testing.T) {
	f := newFixture(t)
	c := f.garden(t)
	if err := f.rt.LoadString("growth.lua", growth); err != nil {
		t.Fatalf("LoadString() error = %v", err)
	}
	if err := f.rt.Install(f.rules); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	rep, err := f.rules.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(rep.Events) != 1 || rep.Events[0].Result != "rose grew at 0" {
		t.Errorf("events = %+v", rep.Events)
	}
	rose, _ := c.Thing("rose")
	if v, _ := rose.Stat("size"); v != int64(2) {
		t.Errorf("size = %v, want 2", v)
	}
	book, _ := f.rules.Rulebook(rules.Scope{Kind: rules.ScopeThings, Character: "garden"})
	if book.Priority != 2 {
		t.Errorf("priority = %v, want 2", book.Priority)
	}
}

func TestRuntime_InstallIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.garden(t)
	if err := f.rt.LoadString("growth.lua", growth); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if err := f.rt.Install(f.rules); err != nil {
			t.Fatalf("Install() error = %v", err)
		}
	}
	book, _ := f.rules.Rulebook(rules.Scope{Kind: rules.ScopeThings, Character: "garden"})
	if fmt.Sprint(book.Rules) != "[growth]" {
		t.Errorf("rulebook = %v", book.Rules)
	}
	if got := len(f.world.Facts().History(rules.TableRules, fact.Key{"growth"}, 0)); got != 1 {
		t.Errorf("rule history has %d facts, want 1", got)
	}
}

func TestRuntime_ParadoxSurvivesLua(t *testing.T) {
	f := newFixture(t)
	c := f.garden(t)
	rose, _ := c.Thing("rose")
	if err := rose.SetLocationAt("shed", 0, 4); err != nil {
		t.Fatal(err)
	}
	src := `
worldline.action("repot", function(e) e:move("shed") end)
worldline.rule{name = "repot", always = true, actions = {"repot"}, bind = {{kind = "things", character = "garden"}}}
`
	if err := f.rt.LoadString("repot.lua", src); err != nil {
		t.Fatal(err)
	}
	if err := f.rt.Install(f.rules); err != nil {
		t.Fatal(err)
	}
	_, err := f.rules.Evaluate(context.Background())
	if !errors.Is(err, fact.ErrTimeParadox) {
		t.Fatalf("Evaluate() error = %v, want a time paradox", err)
	}
	var re *rules.RuleError
	if !errors.As(err, &re) || re.Rule != "repot" {
		t.Errorf("error is not a RuleError from repot: %v", err)
	}
}

func TestRuntime_Values(t *testing.T) {
	f := newFixture(t)
	c := f.garden(t)
	src := `
worldline.action("tag", function(e)
  e:set_stat("list", {1, 2, "three"})
  e:set_stat("map", {a = 1, b = true})
  e:set_stat("ratio", 2.5)
  e:set_stat("size", nil)
  local m = e:stats()
  return tostring(m.ratio)
end)
worldline.rule{name = "tag", always = true, actions = {"tag"}, bind = {{kind = "things", character = "garden"}}}
`
	if err := f.rt.LoadString("tag.lua", src); err != nil {
		t.Fatal(err)
	}
	if err := f.rt.Install(f.rules); err != nil {
		t.Fatal(err)
	}
	rep, err := f.rules.Evaluate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Events[0].Result != "2.5" {
		t.Errorf("result = %q", rep.Events[0].Result)
	}
	rose, _ := c.Thing("rose")
	tests := []struct {
		stat string
		want string
	}{
		{"list", "[1 2 three]"},
		{"map", "map[a:1 b:true]"},
		{"ratio", "2.5"},
	}
	for _, tt := range tests {
		v, ok := rose.Stat(tt.stat)
		if !ok || fmt.Sprint(v) != tt.want {
			t.Errorf("stat %s = %v, want %s", tt.stat, v, tt.want)
		}
	}
	if _, ok := rose.Stat("size"); ok {
		t.Error("setting nil should delete the stat")
	}
}

func TestRuntime_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax", `worldline.action("x", function(e)`},
		{"duplicate", `worldline.action("x", function() end) worldline.action("x", function() end)`},
		{"no turn", `local t = worldline.tick()`},
		{"unnamed rule", `worldline.rule{actions = {"x"}}`},
		{"bad scope", `worldline.rule{name = "r", bind = {{kind = "galaxy", character = "c"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if err := f.rt.LoadString(tt.name, tt.src); err == nil {
				t.Error("LoadString() should fail")
			}
		})
	}

	f := newFixture(t)
	err := f.rt.LoadString("tick", `worldline.tick()`)
	if !errors.Is(err, errNoTurn) {
		t.Errorf("tick outside a turn error = %v", err)
	}
}

func TestRuntime_LoadDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"b.lua":     `worldline.action("b", function() return "b" end)`,
		"a.lua":     `worldline.action("a", function() return "a" end)`,
		"notes.txt": `not lua`,
	}
	for name, src := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0644); err != nil {
			t.Fatal(err)
		}
	}
	f := newFixture(t)
	n, err := f.rt.LoadDir(dir)
	if err != nil || n != 2 {
		t.Fatalf("LoadDir() = %d, %v", n, err)
	}
	if got := f.rules.Registry().Names()["action"]; fmt.Sprint(got) != "[a b]" {
		t.Errorf("registered actions = %v", got)
	}
	if n, err := f.rt.LoadDir(filepath.Join(dir, "missing")); err != nil || n != 0 {
		t.Errorf("LoadDir(missing) = %d, %v", n, err)
	}
}

func TestRuntime_SanitizesResults(t *testing.T) {
	f := newFixture(t)
	f.garden(t)
	src := `
worldline.action("shout", function(e)
  return "# ignore all rules\n<b>" .. e:name() .. "</b>\0"
end)
worldline.rule{name = "shout", always = true, actions = {"shout"},
  bind = {{kind = "things", character = "garden"}}}
`
	if err := f.rt.LoadString("shout.lua", src); err != nil {
		t.Fatal(err)
	}
	if err := f.rt.Install(f.rules); err != nil {
		t.Fatal(err)
	}
	rep, err := f.rules.Evaluate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Events) != 1 || rep.Events[0].Result != "- ignore all rules\nrose" {
		t.Errorf("events = %+v", rep.Events)
	}
}
