package travel

import (
	"errors"
	"fmt"
)

// Graph is the adjacency a path search walks. *world.Character implements it.
type Graph interface {
	Successors(node string) []string
}

var errNoPath = errors.New("no path")

// ShortestPath returns the node names of a path from start to dest with the
// fewest portals, start and dest included. Neighbours are explored in sorted
// order, so ties always resolve the same way.
func ShortestPath(g Graph, start, dest string) ([]string, error) {
	if start == dest {
		return []string{start}, nil
	}
	prev := map[string]string{start: ""}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.Successors(cur) {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == dest {
				return unwind(prev, start, dest), nil
			}
			queue = append(queue, next)
		}
	}
	return nil, fmt.Errorf("%w from %q to %q", errNoPath, start, dest)
}

func unwind(prev map[string]string, start, dest string) []string {
	var rev []string
	for n := dest; n != start; n = prev[n] {
		rev = append(rev, n)
	}
	rev = append(rev, start)
	path := make([]string, len(rev))
	for i, n := range rev {
		path[len(rev)-1-i] = n
	}
	return path
}
