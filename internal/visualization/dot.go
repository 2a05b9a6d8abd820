// Package visualization renders a character's graph, as it stands at one
// point of the timestream, in DOT, JSON or HTML.
package visualization

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"sort"
	"strings"

	"github.com/nvandessel/worldline/internal/timestream"
	"github.com/nvandessel/worldline/internal/world"
)

// Format specifies the output format for graph rendering.
type Format string

const (
	FormatDOT  Format = "dot"
	FormatJSON Format = "json"
	FormatHTML Format = "html"
)

// ParseFormat accepts "dot", "json", "html" or "" (json).
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatJSON, nil
	case FormatDOT, FormatJSON, FormatHTML:
		return f, nil
	}
	return "", fmt.Errorf("unsupported format %q (use 'dot', 'json', or 'html')", s)
}

// Node is a place or thing of the rendered graph.
type Node struct {
	Name     string         `json:"name"`
	Kind     world.Kind     `json:"kind"`
	Location string         `json:"location,omitempty"`
	Stats    map[string]any `json:"stats,omitempty"`
}

// Edge is a portal, or the link from a thing to where it is.
type Edge struct {
	Origin      string  `json:"origin"`
	Destination string  `json:"destination"`
	Kind        string  `json:"kind"`
	Length      float64 `json:"length,omitempty"`
}

// Edge kinds.
const (
	EdgePortal   = "portal"
	EdgeLocation = "location"
)

// Graph is one character captured at one time.
type Graph struct {
	Character string          `json:"character"`
	Time      timestream.Time `json:"time"`
	Nodes     []Node          `json:"nodes"`
	Edges     []Edge          `json:"edges"`
	Units     []string        `json:"units,omitempty"`
}

// Capture reads the named character from w at w's time.
func Capture(w *world.World, character string) (*Graph, error) {
	c, err := w.Character(character)
	if err != nil {
		return nil, err
	}
	g := &Graph{Character: character, Time: w.Now(), Nodes: []Node{}, Edges: []Edge{}}
	for _, p := range c.Places() {
		g.Nodes = append(g.Nodes, Node{Name: p.Name(), Kind: world.KindPlace, Stats: nonEmpty(p.Stats())})
	}
	for _, t := range c.Things() {
		n := Node{Name: t.Name(), Kind: world.KindThing, Stats: nonEmpty(t.Stats())}
		if loc, err := t.Location(); err == nil && loc != nil {
			n.Location = loc.Descriptor()
			if _, isPortal := loc.(*world.Portal); !isPortal {
				g.Edges = append(g.Edges, Edge{Origin: t.Name(), Destination: n.Location, Kind: EdgeLocation})
			}
		}
		g.Nodes = append(g.Nodes, n)
	}
	for _, p := range c.Portals() {
		g.Edges = append(g.Edges, Edge{
			Origin:      p.OriginName(),
			Destination: p.DestinationName(),
			Kind:        EdgePortal,
			Length:      p.Length(),
		})
	}
	for _, u := range c.Units() {
		g.Units = append(g.Units, u.Character().Name()+"."+u.Name())
	}
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].Name < g.Nodes[j].Name })
	return g, nil
}

func nonEmpty(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return m
}

// nodeColors maps node kinds to DOT colors.
var nodeColors = map[world.Kind]string{
	world.KindPlace: "lightsteelblue",
	world.KindThing: "goldenrod",
}

// edgeStyles maps edge kinds to DOT styles.
var edgeStyles = map[string]string{
	EdgePortal:   "solid",
	EdgeLocation: "dotted",
}

// RenderDOT produces a Graphviz DOT representation of g.
func RenderDOT(g *Graph) string {
	var b strings.Builder
	fmt.Fprintf(&b, "digraph %q {\n", g.Character)
	fmt.Fprintf(&b, "  label=%q;\n", fmt.Sprintf("%s @ %s", g.Character, g.Time))
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [style=filled, fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [fontname=\"Helvetica\", fontsize=10];\n\n")

	for _, n := range g.Nodes {
		shape := "ellipse"
		if n.Kind == world.KindThing {
			shape = "box"
		}
		color := nodeColors[n.Kind]
		if color == "" {
			color = "lightgray"
		}
		fmt.Fprintf(&b, "  %q [shape=%s, fillcolor=%q, tooltip=%q];\n",
			n.Name, shape, color, tooltip(n.Stats))
	}
	b.WriteString("\n")

	for _, e := range g.Edges {
		style := edgeStyles[e.Kind]
		if style == "" {
			style = "solid"
		}
		if e.Kind == EdgePortal {
			fmt.Fprintf(&b, "  %q -> %q [label=\"%g\", style=%s];\n", e.Origin, e.Destination, e.Length, style)
			continue
		}
		fmt.Fprintf(&b, "  %q -> %q [style=%s, arrowhead=none];\n", e.Origin, e.Destination, style)
	}

	b.WriteString("}\n")
	return b.String()
}

// tooltip lists stats as "k=v" pairs, sorted by key.
func tooltip(stats map[string]any) string {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = truncate(fmt.Sprintf("%s=%v", k, stats[k]), 40)
	}
	return strings.Join(parts, ", ")
}

// RenderJSON produces a JSON-ready map of g with node and edge counts.
func RenderJSON(g *Graph) map[string]any {
	return map[string]any{
		"character":  g.Character,
		"time":       g.Time,
		"nodes":      g.Nodes,
		"edges":      g.Edges,
		"units":      g.Units,
		"node_count": len(g.Nodes),
		"edge_count": len(g.Edges),
	}
}

// htmlTemplateData holds data passed to the HTML template.
// GraphJSON is pre-sanitized JSON (via json.HTMLEscape) safe for inline <script>.
type htmlTemplateData struct {
	Title     string
	Graph     *Graph
	GraphJSON template.JS
	APIBase   string
}

// RenderHTML produces a self-contained HTML page listing g and drawing it
// with an inline SVG layout. apiBase, when set, lets the page reload the
// graph at another time from a Server.
func RenderHTML(g *Graph, apiBase string) ([]byte, error) {
	graphJSON, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("marshal graph data: %w", err)
	}

	tmplBytes, err := templates.ReadFile("templates/graph.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("read HTML template: %w", err)
	}
	tmpl, err := template.New("graph").Parse(string(tmplBytes))
	if err != nil {
		return nil, fmt.Errorf("parse HTML template: %w", err)
	}

	// json.HTMLEscape converts <, >, & to unicode escapes so stat values
	// cannot break out of the inline <script>.
	var escaped bytes.Buffer
	json.HTMLEscape(&escaped, graphJSON)

	var buf bytes.Buffer
	data := htmlTemplateData{
		Title:     fmt.Sprintf("%s @ %s", g.Character, g.Time),
		Graph:     g,
		GraphJSON: template.JS(escaped.String()), // #nosec G203
		APIBase:   apiBase,
	}
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute HTML template: %w", err)
	}
	return buf.Bytes(), nil
}

// Render encodes g in format.
func Render(g *Graph, format Format) ([]byte, error) {
	switch format {
	case FormatDOT:
		return []byte(RenderDOT(g)), nil
	case FormatHTML:
		return RenderHTML(g, "")
	case FormatJSON, "":
		return json.MarshalIndent(RenderJSON(g), "", "  ")
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
