// Package graphdoc reads and writes seed documents: YAML or JSON files
// describing characters and their graphs, validated against an embedded
// JSON Schema before they touch a world.
package graphdoc

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/worldline/internal/fact"
	"github.com/nvandessel/worldline/internal/world"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "https://worldline.dev/schemas/graphdoc.schema.json"

// Format is a document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf picks the format from a file extension; anything but .json is
// read as YAML.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Document seeds a world.
type Document struct {
	Seed       *uint64        `json:"seed,omitempty" yaml:"seed,omitempty"`
	Eternal    map[string]any `json:"eternal,omitempty" yaml:"eternal,omitempty"`
	Characters []Character    `json:"characters" yaml:"characters"`
}

// Character is one character of a document.
type Character struct {
	Name  string            `json:"name" yaml:"name"`
	Stats map[string]any    `json:"stats,omitempty" yaml:"stats,omitempty"`
	Nodes []world.GraphNode `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	Edges []Edge            `json:"edges,omitempty" yaml:"edges,omitempty"`
	Units []Unit            `json:"units,omitempty" yaml:"units,omitempty"`
}

// Edge is a portal. A symmetrical edge also creates the reverse portal with
// the same attributes.
type Edge struct {
	Origin      string         `json:"origin" yaml:"origin"`
	Destination string         `json:"destination" yaml:"destination"`
	Symmetrical bool           `json:"symmetrical,omitempty" yaml:"symmetrical,omitempty"`
	Attrs       map[string]any `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

// Unit makes a node of another character one of this character's units.
type Unit struct {
	Character string `json:"character" yaml:"character"`
	Node      string `json:"node" yaml:"node"`
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString(schemaURL, schemaJSON)
	})
	return schema, schemaErr
}

// Parse decodes and validates a document.
func Parse(data []byte, format Format) (*Document, error) {
	raw := data
	if format != FormatJSON {
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("convert yaml: %w", err)
		}
		raw = b
	}

	var generic any
	if err := decode(raw, &generic); err != nil {
		return nil, err
	}
	if err := Validate(generic); err != nil {
		return nil, err
	}
	var doc Document
	if err := decode(raw, &doc); err != nil {
		return nil, err
	}
	if err := doc.normalize(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// normalize converts every attribute map to fact values, so a document
// read from JSON holds the same types as one read from YAML or taken with
// Snapshot.
func (d *Document) normalize() error {
	if err := normalizeAttrs(d.Eternal, "eternal"); err != nil {
		return err
	}
	for _, c := range d.Characters {
		if err := normalizeAttrs(c.Stats, c.Name); err != nil {
			return err
		}
		for _, n := range c.Nodes {
			if err := normalizeAttrs(n.Attrs, c.Name+"."+n.Name); err != nil {
				return err
			}
		}
		for _, e := range c.Edges {
			if err := normalizeAttrs(e.Attrs, c.Name+"."+e.Origin+"->"+e.Destination); err != nil {
				return err
			}
		}
	}
	return nil
}

func normalizeAttrs(m map[string]any, owner string) error {
	for k, v := range m {
		n, err := fact.Normalize(v)
		if err != nil {
			return fmt.Errorf("%s: %s: %w", owner, k, err)
		}
		m[k] = n
	}
	return nil
}

// decode keeps numbers as json.Number so integers stay integers.
func decode(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	return nil
}

// ParseFile reads and parses the document at path.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed document: %w", err)
	}
	doc, err := Parse(data, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Validate checks a decoded JSON value against the document schema.
func Validate(v any) error {
	s, err := compiled()
	if err != nil {
		return fmt.Errorf("compile seed schema: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("invalid seed document: %w", err)
	}
	return nil
}

// Graph converts the character's nodes and edges for world seeding.
func (c Character) Graph() *world.Graph {
	g := &world.Graph{Nodes: c.Nodes}
	for _, e := range c.Edges {
		g.Edges = append(g.Edges, world.GraphEdge{Origin: e.Origin, Destination: e.Destination, Attrs: e.Attrs})
		if e.Symmetrical {
			g.Edges = append(g.Edges, world.GraphEdge{Origin: e.Destination, Destination: e.Origin, Attrs: e.Attrs})
		}
	}
	return g
}

// Apply creates every character of doc in w, then assigns units, so units
// may refer to characters declared later in the document.
func Apply(w *world.World, doc *Document) error {
	for _, c := range doc.Characters {
		if _, err := w.NewCharacter(c.Name, c.Graph(), c.Stats); err != nil {
			return err
		}
	}
	for _, c := range doc.Characters {
		if len(c.Units) == 0 {
			continue
		}
		owner, err := w.Character(c.Name)
		if err != nil {
			return err
		}
		for _, u := range c.Units {
			other, err := w.Character(u.Character)
			if err != nil {
				return fmt.Errorf("unit of %q: %w", c.Name, err)
			}
			n, err := other.Node(u.Node)
			if err != nil {
				return fmt.Errorf("unit of %q: %w", c.Name, err)
			}
			if err := owner.AddUnit(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// Snapshot describes the characters of w as they are at w's time. Applying
// the snapshot to an empty world recreates them.
func Snapshot(w *world.World) *Document {
	doc := &Document{}
	for _, name := range w.Characters() {
		c, err := w.Character(name)
		if err != nil {
			continue
		}
		cd := Character{Name: name, Stats: nonEmpty(c.Stats())}
		for _, p := range c.Places() {
			cd.Nodes = append(cd.Nodes, world.GraphNode{Name: p.Name(), Attrs: nonEmpty(p.Stats())})
		}
		for _, t := range c.Things() {
			attrs := t.Stats()
			if loc, err := t.Location(); err == nil && loc != nil {
				attrs["location"] = loc.Descriptor()
			}
			cd.Nodes = append(cd.Nodes, world.GraphNode{Name: t.Name(), Attrs: nonEmpty(attrs)})
		}
		for _, p := range c.Portals() {
			cd.Edges = append(cd.Edges, Edge{Origin: p.OriginName(), Destination: p.DestinationName(), Attrs: nonEmpty(p.Stats())})
		}
		for _, u := range c.Units() {
			cd.Units = append(cd.Units, Unit{Character: u.Character().Name(), Node: u.Name()})
		}
		doc.Characters = append(doc.Characters, cd)
	}
	return doc
}

func nonEmpty(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return m
}

// Marshal encodes doc.
func Marshal(doc *Document, format Format) ([]byte, error) {
	if format == FormatJSON {
		return json.MarshalIndent(doc, "", "  ")
	}
	return yaml.Marshal(doc)
}
