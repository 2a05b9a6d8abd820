package world

import (
	"errors"
	"testing"

	"github.com/nvandessel/worldline/internal/fact"
	"github.com/nvandessel/worldline/internal/timestream"
)

func newTestWorld(t *testing.T) (*World, *timestream.Timestream) {
	t.Helper()
	facts, err := fact.NewStore(Schemas()...)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	ts := timestream.New(facts)
	return New(facts, ts), ts
}

func mustCharacter(t *testing.T, w *World, name string) *Character {
	t.Helper()
	c, err := w.NewCharacter(name, nil, nil)
	if err != nil {
		t.Fatalf("NewCharacter(%q) error = %v", name, err)
	}
	return c
}

func TestNewCharacter(t *testing.T) {
	w, _ := newTestWorld(t)
	c, err := w.NewCharacter("physical", nil, map[string]any{"weather": "rain"})
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := c.Stat("weather"); !ok || v != "rain" {
		t.Errorf("Stat(weather) = %v, %v", v, ok)
	}
	if _, err := w.NewCharacter("physical", nil, nil); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate NewCharacter() error = %v, want ErrExists", err)
	}
	if _, err := w.Character("nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Character(nobody) error = %v, want ErrNotFound", err)
	}
	if got := w.Characters(); len(got) != 1 || got[0] != "physical" {
		t.Errorf("Characters() = %v", got)
	}
}

func TestPortalReciprocal(t *testing.T) {
	w, _ := newTestWorld(t)
	c := mustCharacter(t, w, "physical")
	_, _ = c.NewPlace("A", nil)
	_, _ = c.NewPlace("B", nil)
	_, _ = c.NewPlace("C", nil)

	ab, err := c.NewPortal("A", "B", map[string]any{"length": 10}, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ab.Reciprocal(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Reciprocal() error = %v, want ErrNotFound", err)
	}
	if ab.Length() != 10 {
		t.Errorf("Length() = %v, want 10", ab.Length())
	}

	bc, err := c.NewPortal("B", "C", nil, true)
	if err != nil {
		t.Fatal(err)
	}
	cb, err := bc.Reciprocal()
	if err != nil {
		t.Fatalf("Reciprocal() error = %v", err)
	}
	if cb.Name() != "Portal(C->B)" {
		t.Errorf("Reciprocal().Name() = %q", cb.Name())
	}
	if bc.Length() != 1 {
		t.Errorf("default Length() = %v, want 1", bc.Length())
	}

	if _, err := c.NewPortal("A", "nowhere", nil, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("NewPortal(missing endpoint) error = %v", err)
	}
	if got := c.Successors("B"); len(got) != 1 || got[0] != "C" {
		t.Errorf("Successors(B) = %v", got)
	}
}

func TestThingLocation(t *testing.T) {
	w, ts := newTestWorld(t)
	c := mustCharacter(t, w, "physical")
	_, _ = c.NewPlace("A", nil)
	_, _ = c.NewPlace("B", nil)
	_, _ = c.NewPortal("A", "B", nil, false)

	thing, err := c.NewThing("T", "A", nil)
	if err != nil {
		t.Fatal(err)
	}

	_ = ts.TimeTravel(0, 1)
	if err := thing.SetLocation("Portal(A->B)"); err != nil {
		t.Fatalf("SetLocation(portal) error = %v", err)
	}
	_ = ts.TimeTravel(0, 5)
	if err := thing.SetLocation("B"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		tick int
		kind Kind
		name string
	}{
		{0, KindPlace, "A"},
		{3, KindPortal, "Portal(A->B)"},
		{5, KindPlace, "B"},
	}
	for _, tt := range tests {
		loc, err := thing.LocationAt(0, tt.tick)
		if err != nil {
			t.Fatalf("LocationAt(%d) error = %v", tt.tick, err)
		}
		if loc.Kind() != tt.kind || loc.Name() != tt.name {
			t.Errorf("LocationAt(%d) = %s %s, want %s %s", tt.tick, loc.Kind(), loc.Name(), tt.kind, tt.name)
		}
	}

	if err := thing.SetLocation("nowhere"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetLocation(nowhere) error = %v, want ErrNotFound", err)
	}
}

func TestThingLocation_ParadoxInThePast(t *testing.T) {
	w, ts := newTestWorld(t)
	c := mustCharacter(t, w, "physical")
	_, _ = c.NewPlace("A", nil)
	_, _ = c.NewPlace("B", nil)
	thing, _ := c.NewThing("T", "A", nil)
	if err := thing.SetLocationAt("B", 0, 80); err != nil {
		t.Fatal(err)
	}

	err := thing.SetLocationAt("A", 0, 50)
	if !errors.Is(err, fact.ErrTimeParadox) {
		t.Fatalf("SetLocationAt(50) error = %v, want ErrTimeParadox", err)
	}

	if err := ts.TimeTravel(1, 50); err != nil {
		t.Fatal(err)
	}
	if err := thing.SetLocation("A"); err != nil {
		t.Fatalf("SetLocation on fork error = %v", err)
	}
	loc, err := thing.LocationAt(1, 80)
	if err != nil || loc.Name() != "A" {
		t.Errorf("LocationAt(trunk0, 80) = %v, %v; want A", loc, err)
	}
	loc, _ = thing.LocationAt(0, 80)
	if loc.Name() != "B" {
		t.Errorf("trunk history changed: %v", loc)
	}
}

func TestContainment(t *testing.T) {
	w, ts := newTestWorld(t)
	c := mustCharacter(t, w, "physical")
	_, _ = c.NewPlace("kitchen", nil)
	_, _ = c.NewPlace("hall", nil)
	bag, _ := c.NewThing("bag", "kitchen", nil)
	apple, err := c.NewThing("apple", "bag", nil)
	if err != nil {
		t.Fatal(err)
	}

	if cont, ok := apple.Container(); !ok || cont.Name() != "bag" {
		t.Errorf("Container() = %v, %v", cont, ok)
	}
	p, err := apple.Place()
	if err != nil || p.Name() != "kitchen" {
		t.Errorf("Place() = %v, %v; want kitchen", p, err)
	}

	_ = ts.TimeTravel(0, 1)
	_ = bag.SetLocation("hall")
	p, _ = apple.Place()
	if p.Name() != "hall" {
		t.Errorf("contained thing did not follow container: %v", p.Name())
	}

	if err := bag.SetLocation("apple"); !errors.Is(err, ErrContainment) {
		t.Errorf("SetLocation(cycle) error = %v, want ErrContainment", err)
	}
	if got := bag.Contents(); len(got) != 1 || got[0].Name() != "apple" {
		t.Errorf("Contents() = %v", got)
	}
}

func TestDeleteKeepsHistory(t *testing.T) {
	w, ts := newTestWorld(t)
	c := mustCharacter(t, w, "physical")
	_, _ = c.NewPlace("A", nil)
	_, _ = c.NewPlace("B", nil)
	_, _ = c.NewPortal("A", "B", nil, true)
	thing, _ := c.NewThing("T", "A", map[string]any{"hp": 3})

	_ = ts.TimeTravel(0, 4)
	if err := thing.Delete(); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if thing.Exists() {
		t.Error("thing exists after Delete()")
	}
	loc, err := thing.Location()
	if err != nil || loc != nil {
		t.Errorf("Location() after delete = %v, %v; want nil, nil", loc, err)
	}
	loc, err = thing.LocationAt(0, 3)
	if err != nil || loc.Name() != "A" {
		t.Errorf("LocationAt(3) = %v, %v; want A", loc, err)
	}
	if v, ok := thing.StatAt("hp", 0, 3); !ok || v != int64(3) {
		t.Errorf("StatAt(hp, 3) = %v, %v", v, ok)
	}

	place, _ := c.Place("B")
	if err := place.Delete(); err != nil {
		t.Fatal(err)
	}
	if len(c.Portals()) != 0 {
		t.Errorf("portals survived place deletion: %v", c.Portals())
	}
	if _, err := c.Place("B"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Place(B) error = %v", err)
	}
}

func TestUnits(t *testing.T) {
	w, ts := newTestWorld(t)
	phys := mustCharacter(t, w, "physical")
	_, _ = phys.NewPlace("field", nil)
	wolf, _ := phys.NewThing("wolf0", "field", nil)
	sheep, _ := phys.NewThing("sheep0", "field", nil)

	player := mustCharacter(t, w, "wolves")
	if err := player.AddUnit(wolf); err != nil {
		t.Fatal(err)
	}
	if err := player.AddUnit(sheep); err != nil {
		t.Fatal(err)
	}
	if got := player.Units(); len(got) != 2 {
		t.Fatalf("Units() = %v", got)
	}

	_ = ts.TimeTravel(0, 2)
	if err := sheep.Delete(); err != nil {
		t.Fatal(err)
	}
	units := player.Units()
	if len(units) != 1 || units[0].Name() != "wolf0" {
		t.Errorf("Units() after delete = %v", units)
	}
	if !player.Exists() {
		t.Error("deleting a unit deleted its character")
	}

	if err := player.RemoveUnit(wolf); err != nil {
		t.Fatal(err)
	}
	if player.IsUnit(wolf) {
		t.Error("IsUnit() after RemoveUnit")
	}
}

func TestStats(t *testing.T) {
	w, ts := newTestWorld(t)
	c := mustCharacter(t, w, "physical")
	p, _ := c.NewPlace("A", map[string]any{"temp": 20})

	_ = ts.TimeTravel(0, 3)
	_ = p.SetStat("temp", 25.5)
	_ = p.SetStat("name", "meadow")
	_ = ts.TimeTravel(0, 6)
	if err := p.DelStat("name"); err != nil {
		t.Fatal(err)
	}

	if v, _ := p.StatAt("temp", 0, 2); v != int64(20) {
		t.Errorf("temp at 2 = %v", v)
	}
	if v, _ := p.Stat("temp"); v != 25.5 {
		t.Errorf("temp now = %v", v)
	}
	if keys := p.StatKeys(); len(keys) != 1 || keys[0] != "temp" {
		t.Errorf("StatKeys() = %v", keys)
	}
	if err := p.DelStat("name"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DelStat() error = %v", err)
	}
	if err := p.SetStat("x", nil); err == nil {
		t.Error("SetStat(nil) should fail")
	}
}

func TestSeedFromGraph(t *testing.T) {
	w, _ := newTestWorld(t)
	g := &Graph{
		Nodes: []GraphNode{
			{Name: "apple", Attrs: map[string]any{"location": "bag"}},
			{Name: "bag", Attrs: map[string]any{"location": "A", "weight": 2}},
			{Name: "A"},
			{Name: "B", Attrs: map[string]any{"biome": "forest"}},
			{Name: "courier", Attrs: map[string]any{"location": "Portal(A->B)"}},
		},
		Edges: []GraphEdge{
			{Origin: "A", Destination: "B", Attrs: map[string]any{"length": 4}},
		},
	}
	c, err := w.NewCharacter("physical", g, nil)
	if err != nil {
		t.Fatalf("NewCharacter(graph) error = %v", err)
	}

	if len(c.Places()) != 2 || len(c.Things()) != 3 || len(c.Portals()) != 1 {
		t.Errorf("seeded %d places, %d things, %d portals", len(c.Places()), len(c.Things()), len(c.Portals()))
	}
	bag, _ := c.Thing("bag")
	if v, _ := bag.Stat("weight"); v != int64(2) {
		t.Errorf("bag weight = %v", v)
	}
	if _, ok := bag.Stat("location"); ok {
		t.Error("location attribute leaked into stats")
	}
	courier, _ := c.Thing("courier")
	if loc, _ := courier.Location(); loc == nil || loc.Kind() != KindPortal {
		t.Errorf("courier location = %v", loc)
	}

	bad := &Graph{Nodes: []GraphNode{{Name: "x", Attrs: map[string]any{"location": "nowhere"}}}}
	if _, err := w.NewCharacter("broken", bad, nil); err == nil {
		t.Error("NewCharacter(unresolvable graph) should fail")
	}
}

func TestParsePortal(t *testing.T) {
	tests := []struct {
		in     string
		want   PortalDesc
		wantOK bool
	}{
		{"Portal(A->B)", PortalDesc{"A", "B"}, true},
		{"Portal(A-B)", PortalDesc{}, false},
		{"Portal(->B)", PortalDesc{}, false},
		{"A", PortalDesc{}, false},
	}
	for _, tt := range tests {
		got, ok := ParsePortal(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParsePortal(%q) = %v, %v", tt.in, got, ok)
		}
	}
}
