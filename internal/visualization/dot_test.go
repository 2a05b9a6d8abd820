package visualization

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/nvandessel/worldline/internal/engine"
	"github.com/nvandessel/worldline/internal/rules"
	"github.com/nvandessel/worldline/internal/store"
	"github.com/nvandessel/worldline/internal/timestream"
	"github.com/nvandessel/worldline/internal/travel"
	"github.com/nvandessel/worldline/internal/world"
)

func setupEngine(t *testing.T) *engine.Engine {
	t.Helper()
	rows, err := store.NewMemoryRowStore(engine.Tables())
	if err != nil {
		t.Fatal(err)
	}
	e, err := engine.Open(context.Background(), engine.Options{Rows: rows})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(func() { e.Close(context.Background()) })

	err = e.Update(func(w *world.World, _ *rules.Engine, _ *travel.Planner) error {
		c, err := w.NewCharacter("farm", nil, nil)
		if err != nil {
			return err
		}
		for _, p := range []string{"barn", "field"} {
			if _, err := c.NewPlace(p, nil); err != nil {
				return err
			}
		}
		if _, err := c.NewPortal("barn", "field", map[string]any{"length": 2.5}, true); err != nil {
			return err
		}
		_, err = c.NewThing("cow", "barn", map[string]any{"hunger": 2, "note": "</script><b>moo</b>"})
		return err
	})
	if err != nil {
		t.Fatalf("build farm: %v", err)
	}
	return e
}

func captureNow(t *testing.T, e *engine.Engine) *Graph {
	t.Helper()
	g, err := EngineSource{Engine: e}.Graph("farm", nil)
	if err != nil {
		t.Fatalf("Graph() error = %v", err)
	}
	return g
}

func TestCapture(t *testing.T) {
	e := setupEngine(t)
	g := captureNow(t, e)

	if len(g.Nodes) != 3 {
		t.Fatalf("got %d nodes, want 3", len(g.Nodes))
	}
	if g.Nodes[1].Name != "cow" || g.Nodes[1].Kind != world.KindThing || g.Nodes[1].Location != "barn" {
		t.Errorf("cow node = %+v", g.Nodes[1])
	}

	var portals, locations int
	for _, edge := range g.Edges {
		switch edge.Kind {
		case EdgePortal:
			portals++
			if edge.Length != 2.5 {
				t.Errorf("portal length = %v, want 2.5", edge.Length)
			}
		case EdgeLocation:
			locations++
		}
	}
	if portals != 2 || locations != 1 {
		t.Errorf("portals = %d, locations = %d", portals, locations)
	}

	if _, err := (EngineSource{Engine: e}).Graph("ranch", nil); err == nil {
		t.Error("Graph() of a missing character should fail")
	}
}

func TestCapture_AtEarlierTime(t *testing.T) {
	e := setupEngine(t)
	if _, err := e.Run(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	err := e.Update(func(w *world.World, _ *rules.Engine, _ *travel.Planner) error {
		c, _ := w.Character("farm")
		cow, err := c.Thing("cow")
		if err != nil {
			return err
		}
		return cow.SetLocation("field")
	})
	if err != nil {
		t.Fatal(err)
	}

	then, err := EngineSource{Engine: e}.Graph("farm", &timestream.Time{Branch: 0, Tick: 0})
	if err != nil {
		t.Fatal(err)
	}
	now := captureNow(t, e)
	if then.Nodes[1].Location != "barn" || now.Nodes[1].Location != "field" {
		t.Errorf("cow then = %q, now = %q", then.Nodes[1].Location, now.Nodes[1].Location)
	}
	if now.Time.Tick != 2 {
		t.Errorf("captured at %s, want tick 2", now.Time)
	}
}

func TestRenderDOT(t *testing.T) {
	g := captureNow(t, setupEngine(t))
	dot := RenderDOT(g)

	for _, want := range []string{
		`digraph "farm" {`,
		`"barn" [shape=ellipse`,
		`"cow" [shape=box`,
		`"barn" -> "field" [label="2.5", style=solid]`,
		`"cow" -> "barn" [style=dotted`,
		`hunger=2`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT missing %q:\n%s", want, dot)
		}
	}
	if !strings.HasSuffix(dot, "}\n") {
		t.Error("DOT should end with closing brace")
	}
}

func TestRenderJSON(t *testing.T) {
	g := captureNow(t, setupEngine(t))
	out := RenderJSON(g)
	if out["node_count"] != 3 || out["edge_count"] != 3 {
		t.Errorf("counts = %v, %v", out["node_count"], out["edge_count"])
	}
	data, err := Render(g, FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Render(json) is not JSON: %v", err)
	}
	if decoded["character"] != "farm" {
		t.Errorf("character = %v", decoded["character"])
	}
}

func TestRenderHTML_EscapesStats(t *testing.T) {
	g := captureNow(t, setupEngine(t))
	html, err := RenderHTML(g, "")
	if err != nil {
		t.Fatalf("RenderHTML() error = %v", err)
	}
	s := string(html)
	if !strings.Contains(s, "<svg") || !strings.Contains(s, "farm @ 0.0") {
		t.Error("HTML missing canvas or title")
	}
	if strings.Contains(s, "</script><b>moo") {
		t.Error("stat value broke out of the inline script")
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatJSON, false},
		{"DOT", FormatDOT, false},
		{"html", FormatHTML, false},
		{"svg", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	if got := truncate(strings.Repeat("a", 50), 10); got != "aaaaaaa..." {
		t.Errorf("truncate(long) = %q", got)
	}
}
