package graphdoc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/worldline/internal/fact"
	"github.com/nvandessel/worldline/internal/timestream"
	"github.com/nvandessel/worldline/internal/world"
)

const farmYAML = `
seed: 7
eternal:
  season: spring
characters:
  - name: farm
    stats: {gold: 10}
    nodes:
      - name: barn
      - name: field
        attrs: {fertility: 0.5}
      - name: cow
        attrs: {location: barn, speed: 0.5, hunger: 2}
    edges:
      - origin: barn
        destination: field
        symmetrical: true
        attrs: {length: 2}
  - name: farmer
    units:
      - character: farm
        node: cow
`

func newWorld(t *testing.T) *world.World {
	t.Helper()
	facts, err := fact.NewStore(world.Schemas()...)
	if err != nil {
		t.Fatal(err)
	}
	return world.New(facts, timestream.New(facts))
}

func TestParse_YAML(t *testing.T) {
	doc, err := Parse([]byte(farmYAML), FormatYAML)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if doc.Seed == nil || *doc.Seed != 7 {
		t.Errorf("Seed = %v", doc.Seed)
	}
	if doc.Eternal["season"] != "spring" {
		t.Errorf("Eternal = %v", doc.Eternal)
	}
	if len(doc.Characters) != 2 {
		t.Fatalf("got %d characters", len(doc.Characters))
	}
	g := doc.Characters[0].Graph()
	if len(g.Edges) != 2 || g.Edges[1].Origin != "field" {
		t.Errorf("symmetrical edge not expanded: %+v", g.Edges)
	}
}

func TestParse_NumbersMatchAcrossFormats(t *testing.T) {
	yamlDoc, err := Parse([]byte(farmYAML), FormatYAML)
	if err != nil {
		t.Fatal(err)
	}
	data, err := Marshal(yamlDoc, FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	jsonDoc, err := Parse(data, FormatJSON)
	if err != nil {
		t.Fatalf("Parse(json) error = %v", err)
	}

	farm := jsonDoc.Characters[0]
	if got := farm.Stats["gold"]; got != int64(10) {
		t.Errorf("gold = %v (%T), want int64 10", got, got)
	}
	for _, n := range farm.Nodes {
		switch n.Name {
		case "field":
			if got := n.Attrs["fertility"]; got != 0.5 {
				t.Errorf("fertility = %v (%T), want 0.5", got, got)
			}
		case "cow":
			if got := n.Attrs["hunger"]; got != int64(2) {
				t.Errorf("hunger = %v (%T), want int64 2", got, got)
			}
		}
	}
	if got := farm.Edges[0].Attrs["length"]; got != int64(2) {
		t.Errorf("length = %v (%T), want int64 2", got, got)
	}
	if got := yamlDoc.Characters[0].Stats["gold"]; got != jsonDoc.Characters[0].Stats["gold"] {
		t.Errorf("yaml gold %v (%T) differs from json gold", got, got)
	}
}

func TestParse_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no characters", `seed: 1`},
		{"unknown field", `characters: [{name: a, colour: red}]`},
		{"dotted name", `characters: [{name: a.b}]`},
		{"edge without destination", `characters: [{name: a, edges: [{origin: x}]}]`},
		{"non-string location", `characters: [{name: a, nodes: [{name: n, attrs: {location: 3}}]}]`},
		{"negative seed", `{seed: -1, characters: []}`},
		{"not yaml", `characters: [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc), FormatYAML); err == nil {
				t.Error("Parse() should fail")
			}
		})
	}
}

func TestApply(t *testing.T) {
	doc, err := Parse([]byte(farmYAML), FormatYAML)
	if err != nil {
		t.Fatal(err)
	}
	w := newWorld(t)
	if err := Apply(w, doc); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	farm, err := w.Character("farm")
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := farm.Stat("gold"); v != int64(10) {
		t.Errorf("gold = %#v, want int64 10", v)
	}
	cow, err := farm.Thing("cow")
	if err != nil {
		t.Fatal(err)
	}
	if loc, _ := cow.Location(); loc == nil || loc.Descriptor() != "barn" {
		t.Errorf("cow location = %v", loc)
	}
	if got := cow.Speed(1); got != 0.5 {
		t.Errorf("cow speed = %v", got)
	}
	if _, err := farm.Portal("field", "barn"); err != nil {
		t.Errorf("reverse portal missing: %v", err)
	}

	farmer, _ := w.Character("farmer")
	units := farmer.Units()
	if len(units) != 1 || units[0].Name() != "cow" {
		t.Errorf("farmer units = %v", units)
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	doc, err := Parse([]byte(farmYAML), FormatYAML)
	if err != nil {
		t.Fatal(err)
	}
	w := newWorld(t)
	if err := Apply(w, doc); err != nil {
		t.Fatal(err)
	}

	for _, format := range []Format{FormatYAML, FormatJSON} {
		t.Run(string(format), func(t *testing.T) {
			out, err := Marshal(Snapshot(w), format)
			if err != nil {
				t.Fatal(err)
			}
			again, err := Parse(out, format)
			if err != nil {
				t.Fatalf("Parse(snapshot) error = %v\n%s", err, out)
			}
			w2 := newWorld(t)
			if err := Apply(w2, again); err != nil {
				t.Fatalf("Apply(snapshot) error = %v", err)
			}
			farm, _ := w2.Character("farm")
			if got := len(farm.Portals()); got != 2 {
				t.Errorf("portals after round trip = %d", got)
			}
			field, _ := farm.Place("field")
			if v, _ := field.Stat("fertility"); v != 0.5 {
				t.Errorf("fertility = %v", v)
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "seed.json")
	if err := os.WriteFile(jsonPath, []byte(`{"characters": [{"name": "solo"}]}`), 0644); err != nil {
		t.Fatal(err)
	}
	doc, err := ParseFile(jsonPath)
	if err != nil || len(doc.Characters) != 1 {
		t.Fatalf("ParseFile(json) = %+v, %v", doc, err)
	}

	_, err = ParseFile(filepath.Join(dir, "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read seed document") {
		t.Errorf("ParseFile(missing) error = %v", err)
	}
}

func TestFormatOf(t *testing.T) {
	tests := map[string]Format{
		"a.json": FormatJSON,
		"a.JSON": FormatJSON,
		"a.yaml": FormatYAML,
		"a.yml":  FormatYAML,
		"a":      FormatYAML,
	}
	for path, want := range tests {
		if got := FormatOf(path); got != want {
			t.Errorf("FormatOf(%q) = %s, want %s", path, got, want)
		}
	}
}
