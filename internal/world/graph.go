package world

import (
	"fmt"
	"sort"
)

// Graph is a plain node/edge graph used to seed a character. A node with a
// "location" attribute becomes a thing; every other node becomes a place.
// Remaining attributes become stats.
type Graph struct {
	Nodes []GraphNode `json:"nodes" yaml:"nodes"`
	Edges []GraphEdge `json:"edges" yaml:"edges"`
}

// GraphNode is one node of a seed graph.
type GraphNode struct {
	Name  string         `json:"name" yaml:"name"`
	Attrs map[string]any `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

// GraphEdge is one directed edge of a seed graph.
type GraphEdge struct {
	Origin      string         `json:"origin" yaml:"origin"`
	Destination string         `json:"destination" yaml:"destination"`
	Attrs       map[string]any `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

func (c *Character) seed(g *Graph) error {
	var things []GraphNode
	for _, n := range g.Nodes {
		if _, ok := n.Attrs["location"]; ok {
			if _, isStr := n.Attrs["location"].(string); !isStr {
				return fmt.Errorf("node %q: location must be a string", n.Name)
			}
			things = append(things, n)
			continue
		}
		if _, err := c.NewPlace(n.Name, n.Attrs); err != nil {
			return err
		}
	}

	// Things may sit inside other things or in portals, and portals may join
	// things, so create both in passes until nothing is left.
	edges := g.Edges
	for len(things) > 0 || len(edges) > 0 {
		progress := false

		var pendingEdges []GraphEdge
		for _, e := range edges {
			_, origOK := c.nodeKind(e.Origin)
			_, destOK := c.nodeKind(e.Destination)
			if !origOK || !destOK {
				pendingEdges = append(pendingEdges, e)
				continue
			}
			if _, err := c.NewPortal(e.Origin, e.Destination, e.Attrs, false); err != nil {
				return err
			}
			progress = true
		}
		edges = pendingEdges

		var pendingThings []GraphNode
		for _, n := range things {
			loc := n.Attrs["location"].(string)
			if _, err := c.resolve(loc); err != nil {
				pendingThings = append(pendingThings, n)
				continue
			}
			stats := make(map[string]any, len(n.Attrs))
			for k, v := range n.Attrs {
				if k != "location" {
					stats[k] = v
				}
			}
			if _, err := c.NewThing(n.Name, loc, stats); err != nil {
				return err
			}
			progress = true
		}
		things = pendingThings

		if !progress {
			var names []string
			for _, n := range things {
				names = append(names, n.Name)
			}
			for _, e := range edges {
				names = append(names, portalDescriptor(e.Origin, e.Destination))
			}
			sort.Strings(names)
			return fmt.Errorf("unresolvable graph entries %v", names)
		}
	}
	return nil
}
