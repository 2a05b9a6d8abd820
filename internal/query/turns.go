package query

import (
	"iter"
	"sort"
)

type options struct {
	collapse bool
}

// Option adjusts TurnsWhen.
type Option func(*options)

// CollapseRuns makes TurnsWhen emit only the first tick of each run of
// consecutive satisfying ticks.
func CollapseRuns(on bool) Option {
	return func(o *options) { o.collapse = on }
}

// TurnsWhen returns the ticks of branch, from 0 through end, at which e
// holds, in increasing order. end is raised to the last tick any referenced
// series changes at. The sequence is computed lazily on every range over it
// and reflects the history at that moment.
func TurnsWhen(h History, e Expr, branch, end int, opts ...Option) iter.Seq[int] {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return func(yield func(int) bool) {
		bounds := boundaries(h, e, branch)
		if n := len(bounds); n > 0 && bounds[n-1] > end {
			end = bounds[n-1]
		}
		prev := false
		for i, from := range bounds {
			to := end
			if i+1 < len(bounds) {
				to = bounds[i+1] - 1
			}
			ok := e.eval(h, branch, from)
			switch {
			case !ok:
			case o.collapse:
				if !prev && !yield(from) {
					return
				}
			default:
				for t := from; t <= to; t++ {
					if !yield(t) {
						return
					}
				}
			}
			prev = ok
		}
	}
}

// Ticks collects a TurnsWhen sequence.
func Ticks(seq iter.Seq[int]) []int {
	var out []int
	for t := range seq {
		out = append(out, t)
	}
	return out
}

// boundaries is the sorted union of every referenced series' change ticks,
// starting at 0.
func boundaries(h History, e Expr, branch int) []int {
	seen := map[int]struct{}{0: {}}
	for _, s := range e.series() {
		for _, t := range h.Boundaries(s.Table, s.Key, branch) {
			if t >= 0 {
				seen[t] = struct{}{}
			}
		}
	}
	out := make([]int, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Ints(out)
	return out
}
