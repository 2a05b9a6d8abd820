package simulation

import (
	"reflect"
	"slices"
	"testing"

	"github.com/nvandessel/worldline/internal/fact"
)

// AssertStatAfter asserts the value of a watched stat after the given turn.
func AssertStatAfter(t *testing.T, result Result, turn int, ref string, want any) {
	t.Helper()
	if turn < 0 || turn >= len(result.Turns) {
		t.Fatalf("AssertStatAfter: turn %d out of range (%d turns)", turn, len(result.Turns))
	}
	got, ok := result.Turns[turn].Stats[ref]
	if !ok {
		t.Errorf("AssertStatAfter: turn %d: %s unset, want %v", turn, ref, want)
		return
	}
	if !fact.Equal(got, want) {
		t.Errorf("AssertStatAfter: turn %d: %s = %v (%T), want %v (%T)", turn, ref, got, got, want, want)
	}
}

// AssertEventually asserts that a watched stat reaches want after some turn
// and holds it through the last turn.
func AssertEventually(t *testing.T, result Result, ref string, want any) {
	t.Helper()
	first := -1
	for i, ts := range result.Turns {
		v, ok := ts.Stats[ref]
		if ok && fact.Equal(v, want) {
			if first < 0 {
				first = i
			}
			continue
		}
		if first >= 0 {
			t.Errorf("AssertEventually: %s reached %v after turn %d but was %v after turn %d", ref, want, first, v, i)
			return
		}
	}
	if first < 0 {
		t.Errorf("AssertEventually: %s never reached %v in %d turns", ref, want, len(result.Turns))
	}
}

// AssertNonDecreasing asserts that a numeric watched stat never goes down.
func AssertNonDecreasing(t *testing.T, result Result, ref string) {
	t.Helper()
	var prev any
	for _, ts := range result.Turns {
		v, ok := ts.Stats[ref]
		if !ok {
			continue
		}
		if prev != nil {
			c, ok := fact.Compare(v, prev)
			if !ok {
				t.Errorf("AssertNonDecreasing: turn %d: %s = %v is not comparable to %v", ts.Index, ref, v, prev)
				return
			}
			if c < 0 {
				t.Errorf("AssertNonDecreasing: turn %d: %s fell from %v to %v", ts.Index, ref, prev, v)
			}
		}
		prev = v
	}
}

// AssertRuleFired asserts that rule fired in at least minTurns turns.
func AssertRuleFired(t *testing.T, result Result, rule string, minTurns int) {
	t.Helper()
	count := 0
	for _, ts := range result.Turns {
		if slices.Contains(ts.Result.Rules, rule) {
			count++
		}
	}
	if count < minTurns {
		t.Errorf("AssertRuleFired: rule %s fired in %d turns (need %d)", rule, count, minTurns)
	}
}

// AssertNoForks asserts that no turn was moved to a new branch by a paradox.
func AssertNoForks(t *testing.T, result Result) {
	t.Helper()
	for _, ts := range result.Turns {
		if ts.Result.Forked >= 0 {
			t.Errorf("AssertNoForks: turn %d forked to branch %d", ts.Index, ts.Result.Forked)
		}
	}
}

// AssertSameHistory asserts that two runs produced identical reports and
// watched stats, turn by turn.
func AssertSameHistory(t *testing.T, a, b Result) {
	t.Helper()
	if len(a.Turns) != len(b.Turns) {
		t.Fatalf("AssertSameHistory: %s ran %d turns, %s ran %d", a.Name, len(a.Turns), b.Name, len(b.Turns))
	}
	for i := range a.Turns {
		ta, tb := a.Turns[i], b.Turns[i]
		if !reflect.DeepEqual(ta.Result.Events, tb.Result.Events) {
			t.Errorf("AssertSameHistory: turn %d events differ:\n%s: %+v\n%s: %+v", i, a.Name, ta.Result.Events, b.Name, tb.Result.Events)
		}
		if !reflect.DeepEqual(ta.Stats, tb.Stats) {
			t.Errorf("AssertSameHistory: turn %d stats differ:\n%s: %v\n%s: %v", i, a.Name, ta.Stats, b.Name, tb.Stats)
		}
	}
}
