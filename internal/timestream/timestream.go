// Package timestream manages the branch tree and the world-time cursor.
//
// Branch ids are dense: a new branch always gets hi_branch+1. Every branch
// except a root has a parent and a fork tick; before the fork tick its
// history is its parent's.
package timestream

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// ErrTimestream is matched by every NavigationError.
var ErrTimestream = errors.New("timestream error")

// NavigationError reports an invalid branch operation.
type NavigationError struct {
	Op     string
	Branch int
	Reason string
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("%s branch %d: %s", e.Op, e.Branch, e.Reason)
}

// Is lets errors.Is(err, ErrTimestream) match.
func (e *NavigationError) Is(target error) bool {
	return target == ErrTimestream
}

// Time is a world-time cursor position.
type Time struct {
	Branch int `json:"branch"`
	Tick   int `json:"tick"`
}

// String formats t as "branch.tick".
func (t Time) String() string {
	return strconv.Itoa(t.Branch) + "." + strconv.Itoa(t.Tick)
}

// Branch is one node of the branch tree. Parent is -1 for roots.
type Branch struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Parent   int    `json:"parent"`
	ForkTick int    `json:"fork_tick"`
	End      int    `json:"end"`
}

// Root reports whether the branch has no parent.
func (b Branch) Root() bool {
	return b.Parent < 0
}

// Lineage receives branch registrations so versioned collections can
// resolve inherited history. *fact.Store implements it.
type Lineage interface {
	RegisterBranch(branch, parent, fork int)
	DiscardBranch(branch int)
}

// Timestream owns the cursor and the branch tree. It has a single writer.
type Timestream struct {
	lineage  Lineage
	branches []Branch
	names    map[string]int
	children map[int]int

	now     Time
	hiTick  int
	main    int
	history []Time

	onTime   []func(old, new Time)
	onBranch []func(old, new int)
	onTick   []func(old, new int)
	onCreate []func(Branch)
}

// New returns a timestream positioned at tick 0 of the trunk.
func New(lineage Lineage) *Timestream {
	ts := &Timestream{
		lineage:  lineage,
		names:    make(map[string]int),
		children: make(map[int]int),
	}
	ts.branches = []Branch{{ID: 0, Name: "trunk", Parent: -1}}
	ts.names["trunk"] = 0
	if lineage != nil {
		lineage.RegisterBranch(0, -1, 0)
	}
	return ts
}

// Now returns the cursor.
func (ts *Timestream) Now() Time { return ts.now }

// HiBranch returns the highest branch id created so far.
func (ts *Timestream) HiBranch() int { return len(ts.branches) - 1 }

// HiTick returns the highest tick the cursor has reached on any branch.
func (ts *Timestream) HiTick() int { return ts.hiTick }

// MainBranch returns the id of the root the cursor's lineage started from.
func (ts *Timestream) MainBranch() int { return ts.main }

// Branch returns the record for id.
func (ts *Timestream) Branch(id int) (Branch, bool) {
	if id < 0 || id >= len(ts.branches) {
		return Branch{}, false
	}
	return ts.branches[id], true
}

// Lookup resolves a branch name.
func (ts *Timestream) Lookup(name string) (Branch, bool) {
	id, ok := ts.names[name]
	if !ok {
		return Branch{}, false
	}
	return ts.branches[id], true
}

// Branches returns every branch ordered by id.
func (ts *Timestream) Branches() []Branch {
	return append([]Branch(nil), ts.branches...)
}

// History returns the navigation history, oldest first.
func (ts *Timestream) History() []Time {
	return append([]Time(nil), ts.history...)
}

// MinTick is the earliest tick the cursor may occupy on branch.
func (ts *Timestream) MinTick(branch int) int {
	b, ok := ts.Branch(branch)
	if !ok || b.Root() {
		return 0
	}
	return b.ForkTick
}

// OnTime registers a listener fired after every cursor change.
func (ts *Timestream) OnTime(fn func(old, new Time)) { ts.onTime = append(ts.onTime, fn) }

// OnBranch registers a listener fired when the cursor changes branch.
func (ts *Timestream) OnBranch(fn func(old, new int)) { ts.onBranch = append(ts.onBranch, fn) }

// OnTick registers a listener fired when the cursor changes tick.
func (ts *Timestream) OnTick(fn func(old, new int)) { ts.onTick = append(ts.onTick, fn) }

// OnCreate registers a listener fired after a branch is created.
func (ts *Timestream) OnCreate(fn func(Branch)) { ts.onCreate = append(ts.onCreate, fn) }

// TimeTravel moves the cursor. Travelling to hi_branch+1 first creates that
// branch as a child of the current one, forking at tick.
func (ts *Timestream) TimeTravel(branch, tick int) error {
	hi := ts.HiBranch()
	switch {
	case branch < 0:
		return &NavigationError{Op: "time travel to", Branch: branch, Reason: "negative branch"}
	case branch > hi+1:
		return &NavigationError{Op: "time travel to", Branch: branch,
			Reason: fmt.Sprintf("would skip branches after %d", hi)}
	case branch == hi+1:
		if tick < 0 {
			tick = 0
		}
		if err := ts.NewBranch(ts.now.Branch, branch, tick); err != nil {
			return err
		}
	}
	ts.move(Time{Branch: branch, Tick: tick}, true)
	return nil
}

// TimeTravelNamed is TimeTravel to a branch looked up by name.
func (ts *Timestream) TimeTravelNamed(name string, tick int) error {
	id, ok := ts.names[name]
	if !ok {
		return &NavigationError{Op: "time travel to", Branch: -1, Reason: fmt.Sprintf("no branch named %q", name)}
	}
	return ts.TimeTravel(id, tick)
}

// Advance moves the cursor n ticks forward on the current branch without
// recording navigation history.
func (ts *Timestream) Advance(n int) {
	ts.move(Time{Branch: ts.now.Branch, Tick: ts.now.Tick + n}, false)
}

// Seek moves the cursor to t without recording navigation history and
// without creating branches.
func (ts *Timestream) Seek(t Time) error {
	if _, ok := ts.Branch(t.Branch); !ok {
		return &NavigationError{Op: "seek", Branch: t.Branch, Reason: "unknown branch"}
	}
	ts.move(t, false)
	return nil
}

// Back returns the cursor to where it was before the last recorded travel.
func (ts *Timestream) Back() (Time, bool) {
	if len(ts.history) == 0 {
		return ts.now, false
	}
	prev := ts.history[len(ts.history)-1]
	ts.history = ts.history[:len(ts.history)-1]
	if _, ok := ts.Branch(prev.Branch); !ok {
		return ts.now, false
	}
	ts.move(prev, false)
	return prev, true
}

func (ts *Timestream) move(to Time, record bool) {
	if min := ts.MinTick(to.Branch); to.Tick < min {
		to.Tick = min
	}
	old := ts.now
	if record && old != to {
		ts.history = append(ts.history, old)
	}
	ts.now = to
	if to.Tick > ts.hiTick {
		ts.hiTick = to.Tick
	}
	if b := &ts.branches[to.Branch]; to.Tick > b.End {
		b.End = to.Tick
	}
	if root := ts.rootOf(to.Branch); root != ts.main {
		ts.main = root
	}
	if old == to {
		return
	}
	for _, fn := range ts.onTime {
		fn(old, to)
	}
	if old.Branch != to.Branch {
		for _, fn := range ts.onBranch {
			fn(old.Branch, to.Branch)
		}
	}
	if old.Tick != to.Tick {
		for _, fn := range ts.onTick {
			fn(old.Tick, to.Tick)
		}
	}
}

func (ts *Timestream) rootOf(id int) int {
	for ts.branches[id].Parent >= 0 {
		id = ts.branches[id].Parent
	}
	return id
}

// NewBranch registers branch as a child of parent forking at fork. branch
// must be hi_branch+1.
func (ts *Timestream) NewBranch(parent, branch, fork int) error {
	if branch != ts.HiBranch()+1 {
		return &NavigationError{Op: "create", Branch: branch,
			Reason: fmt.Sprintf("next branch id is %d", ts.HiBranch()+1)}
	}
	p, ok := ts.Branch(parent)
	if !ok {
		return &NavigationError{Op: "create", Branch: branch, Reason: fmt.Sprintf("unknown parent %d", parent)}
	}
	if min := ts.MinTick(parent); fork < min {
		return &NavigationError{Op: "create", Branch: branch,
			Reason: fmt.Sprintf("fork tick %d precedes parent fork %d", fork, min)}
	}
	ts.add(Branch{ID: branch, Name: ts.childName(p), Parent: parent, ForkTick: fork, End: fork})
	return nil
}

// Fork creates the next branch as a child of parent at tick and returns it.
func (ts *Timestream) Fork(parent, tick int) (Branch, error) {
	id := ts.HiBranch() + 1
	if err := ts.NewBranch(parent, id, tick); err != nil {
		return Branch{}, err
	}
	return ts.branches[id], nil
}

func (ts *Timestream) childName(p Branch) string {
	for {
		n := ts.children[p.ID]
		ts.children[p.ID] = n + 1
		name := p.Name + strconv.Itoa(n)
		if _, taken := ts.names[name]; !taken {
			return name
		}
	}
}

func (ts *Timestream) add(b Branch) {
	ts.branches = append(ts.branches, b)
	ts.names[b.Name] = b.ID
	if ts.lineage != nil {
		ts.lineage.RegisterBranch(b.ID, b.Parent, b.ForkTick)
	}
	for _, fn := range ts.onCreate {
		fn(b)
	}
}

// SwitchMainBranch moves the cursor to the root branch called name, creating
// a new empty root when no branch has that name. Naming a non-root branch is
// an error.
func (ts *Timestream) SwitchMainBranch(name string) error {
	if id, ok := ts.names[name]; ok {
		b := ts.branches[id]
		if !b.Root() {
			return &NavigationError{Op: "switch main to", Branch: id, Reason: fmt.Sprintf("%q is not a main branch", name)}
		}
		ts.move(Time{Branch: id, Tick: b.End}, true)
		return nil
	}
	if name == "" {
		return &NavigationError{Op: "switch main to", Branch: -1, Reason: "empty branch name"}
	}
	b := Branch{ID: ts.HiBranch() + 1, Name: name, Parent: -1}
	ts.add(b)
	ts.move(Time{Branch: b.ID, Tick: 0}, true)
	return nil
}

// DiscardBranch removes the most recently created branch and its facts.
// Only the newest branch can be discarded so ids stay dense; the cursor must
// not be on it.
func (ts *Timestream) DiscardBranch(id int) error {
	if id != ts.HiBranch() || id == 0 {
		return &NavigationError{Op: "discard", Branch: id, Reason: "only the newest non-trunk branch can be discarded"}
	}
	if ts.now.Branch == id {
		return &NavigationError{Op: "discard", Branch: id, Reason: "cursor is on the branch"}
	}
	b := ts.branches[id]
	ts.branches = ts.branches[:id]
	delete(ts.names, b.Name)
	if b.Parent >= 0 {
		ts.children[b.Parent]--
	}
	kept := ts.history[:0]
	for _, h := range ts.history {
		if h.Branch != id {
			kept = append(kept, h)
		}
	}
	ts.history = kept
	if ts.lineage != nil {
		ts.lineage.DiscardBranch(id)
	}
	return nil
}

// Restore replaces the branch tree and cursor with persisted state.
func (ts *Timestream) Restore(branches []Branch, now Time) error {
	sorted := append([]Branch(nil), branches...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	if len(sorted) == 0 || sorted[0].ID != 0 {
		return &NavigationError{Op: "restore", Branch: 0, Reason: "trunk is missing"}
	}
	names := make(map[string]int, len(sorted))
	children := make(map[int]int)
	for i, b := range sorted {
		if b.ID != i {
			return &NavigationError{Op: "restore", Branch: b.ID, Reason: fmt.Sprintf("branch ids are not dense, expected %d", i)}
		}
		if b.Parent >= i {
			return &NavigationError{Op: "restore", Branch: b.ID, Reason: "parent created after child"}
		}
		names[b.Name] = b.ID
		if b.Parent >= 0 {
			children[b.Parent]++
		}
	}
	if now.Branch < 0 || now.Branch >= len(sorted) {
		return &NavigationError{Op: "restore", Branch: now.Branch, Reason: "cursor on unknown branch"}
	}
	ts.branches = sorted
	ts.names = names
	ts.children = children
	ts.history = nil
	ts.hiTick = 0
	for _, b := range sorted {
		if b.End > ts.hiTick {
			ts.hiTick = b.End
		}
		if ts.lineage != nil {
			ts.lineage.RegisterBranch(b.ID, b.Parent, b.ForkTick)
		}
	}
	ts.now = now
	if now.Tick > ts.hiTick {
		ts.hiTick = now.Tick
	}
	ts.main = ts.rootOf(now.Branch)
	return nil
}
