package fact

import (
	"errors"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(
		Schema{Name: "locations", KeyFields: []string{"character", "thing"}},
		Schema{Name: "stats", KeyFields: []string{"entity", "stat"}},
	)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s
}

func TestNewStore_RejectsBadSchemas(t *testing.T) {
	tests := []struct {
		name    string
		schemas []Schema
	}{
		{"empty name", []Schema{{Name: "", KeyFields: []string{"a"}}}},
		{"uppercase name", []Schema{{Name: "Things", KeyFields: []string{"a"}}}},
		{"no key fields", []Schema{{Name: "things"}}},
		{"reserved field", []Schema{{Name: "things", KeyFields: []string{"tick"}}}},
		{"duplicate field", []Schema{{Name: "things", KeyFields: []string{"a", "a"}}}},
		{"duplicate table", []Schema{{Name: "t", KeyFields: []string{"a"}}, {Name: "t", KeyFields: []string{"b"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewStore(tt.schemas...); err == nil {
				t.Error("NewStore() expected error, got nil")
			}
		})
	}
}

func TestPut_ValidatesKey(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("nope", Key{"a", "b"}, 0, 0, 1); err == nil {
		t.Error("Put() into unknown table should fail")
	}
	if err := s.Put("locations", Key{"a"}, 0, 0, 1); err == nil {
		t.Error("Put() with short key should fail")
	}
	if err := s.Put("locations", Key{"a\x1fb", "c"}, 0, 0, 1); err == nil {
		t.Error("Put() with separator in key should fail")
	}
	if err := s.Put("locations", Key{"a", "b"}, 0, 0, struct{}{}); err == nil {
		t.Error("Put() with unsupported value should fail")
	}
}

func TestGetAt_GreatestTickAtOrBefore(t *testing.T) {
	s := newTestStore(t)
	key := Key{"physical", "alice"}
	for _, w := range []struct {
		tick int
		loc  string
	}{{10, "kitchen"}, {0, "hall"}, {5, "garden"}} {
		if err := s.Put("locations", key, 0, w.tick, w.loc); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	tests := []struct {
		tick     int
		want     string
		wantTick int
	}{
		{0, "hall", 0},
		{4, "hall", 0},
		{5, "garden", 5},
		{9, "garden", 5},
		{10, "kitchen", 10},
		{1000, "kitchen", 10},
	}
	for _, tt := range tests {
		f, err := s.GetAt("locations", key, 0, tt.tick)
		if err != nil {
			t.Fatalf("GetAt(%d) error = %v", tt.tick, err)
		}
		if f.Value != tt.want || f.Tick != tt.wantTick {
			t.Errorf("GetAt(%d) = (%v, %d), want (%v, %d)", tt.tick, f.Value, f.Tick, tt.want, tt.wantTick)
		}
	}

	hist := s.History("locations", key, 0)
	for i := 1; i < len(hist); i++ {
		if hist[i].Tick <= hist[i-1].Tick {
			t.Fatalf("History() not strictly increasing: %v", hist)
		}
	}
}

func TestGetAt_NotFoundBeforeFirstFact(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("locations", Key{"physical", "bob"}, 0, 3, "hall"); err != nil {
		t.Fatal(err)
	}
	_, err := s.GetAt("locations", Key{"physical", "bob"}, 0, 2)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAt() error = %v, want ErrNotFound", err)
	}
}

func TestExistsAt_Tombstone(t *testing.T) {
	s := newTestStore(t)
	key := Key{"physical", "bob"}
	_ = s.Put("locations", key, 0, 0, "hall")
	_ = s.Put("locations", key, 0, 4, nil)

	if !s.ExistsAt("locations", key, 0, 3) {
		t.Error("ExistsAt(3) = false, want true")
	}
	if s.ExistsAt("locations", key, 0, 4) {
		t.Error("ExistsAt(4) = true after tombstone")
	}
	f, err := s.GetAt("locations", key, 0, 2)
	if err != nil || f.Value != "hall" {
		t.Errorf("history before deletion lost: %v, %v", f, err)
	}
}

func TestBranchInheritance(t *testing.T) {
	s := newTestStore(t)
	key := Key{"physical", "alice"}
	_ = s.Put("locations", key, 0, 0, "hall")
	_ = s.Put("locations", key, 0, 20, "garden")
	_ = s.Put("locations", key, 0, 40, "cellar")
	s.RegisterBranch(1, 0, 30)

	for tick := 0; tick < 30; tick++ {
		parent, _ := s.GetAt("locations", key, 0, tick)
		child, err := s.GetAt("locations", key, 1, tick)
		if err != nil {
			t.Fatalf("GetAt(child, %d) error = %v", tick, err)
		}
		if parent.Value != child.Value {
			t.Errorf("tick %d: child = %v, parent = %v", tick, child.Value, parent.Value)
		}
	}

	// Parent history after the fork stays invisible.
	f, err := s.GetAt("locations", key, 1, 50)
	if err != nil || f.Value != "garden" {
		t.Errorf("GetAt(child, 50) = %v, %v; want garden", f.Value, err)
	}

	_ = s.Put("locations", key, 1, 35, "attic")
	f, _ = s.GetAt("locations", key, 1, 50)
	if f.Value != "attic" || f.Branch != 1 {
		t.Errorf("GetAt(child, 50) = %+v, want attic from branch 1", f)
	}
	f, _ = s.GetAt("locations", key, 0, 50)
	if f.Value != "cellar" {
		t.Errorf("parent changed by child write: %v", f.Value)
	}
}

func TestPutChecked_Paradox(t *testing.T) {
	s := newTestStore(t)
	key := Key{"physical", "T"}
	_ = s.Put("locations", key, 0, 0, "A")
	_ = s.Put("locations", key, 0, 80, "C")

	err := s.PutChecked("locations", key, 0, 50, "B")
	if !errors.Is(err, ErrTimeParadox) {
		t.Fatalf("PutChecked() error = %v, want ErrTimeParadox", err)
	}
	var pe *ParadoxError
	if !errors.As(err, &pe) || pe.Later != 80 || pe.Tick != 50 {
		t.Errorf("ParadoxError = %+v", pe)
	}

	// The same write succeeds on a branch forked at the conflict.
	s.RegisterBranch(1, 0, 50)
	if err := s.PutChecked("locations", key, 1, 50, "B"); err != nil {
		t.Fatalf("PutChecked() on fork error = %v", err)
	}
	f, err := s.GetAt("locations", key, 1, 80)
	if err != nil || f.Value != "B" {
		t.Errorf("GetAt(fork, 80) = %v, %v; want B", f.Value, err)
	}

	if err := s.PutChecked("locations", key, 1, 10, "X"); !errors.Is(err, ErrBeforeFork) {
		t.Errorf("PutChecked() before fork error = %v, want ErrBeforeFork", err)
	}
}

func TestNextAfter(t *testing.T) {
	s := newTestStore(t)
	key := Key{"physical", "T"}
	_ = s.Put("locations", key, 0, 1, "Portal(A->B)")
	_ = s.Put("locations", key, 0, 101, "B")
	_ = s.Put("locations", key, 0, 200, "C")
	s.RegisterBranch(1, 0, 150)

	f, ok := s.NextAfter("locations", key, 0, 1)
	if !ok || f.Tick != 101 {
		t.Errorf("NextAfter(trunk, 1) = %v, %v", f, ok)
	}
	f, ok = s.NextAfter("locations", key, 1, 120)
	if ok {
		t.Errorf("NextAfter(child, 120) = %v, want none (parent fact past fork)", f)
	}
	f, ok = s.NextAfter("locations", key, 1, 50)
	if !ok || f.Tick != 101 {
		t.Errorf("NextAfter(child, 50) = %v, %v; want inherited tick 101", f, ok)
	}
}

func TestBoundaries(t *testing.T) {
	s := newTestStore(t)
	key := Key{"u", "location"}
	_ = s.Put("stats", key, 0, 0, "a")
	_ = s.Put("stats", key, 0, 5, "b")
	_ = s.Put("stats", key, 0, 9, "c")
	s.RegisterBranch(1, 0, 6)
	_ = s.Put("stats", key, 1, 7, "d")

	got := s.Boundaries("stats", key, 1)
	want := []int{0, 5, 7}
	if len(got) != len(want) {
		t.Fatalf("Boundaries() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Boundaries()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDiffAndCheckpoint(t *testing.T) {
	s := newTestStore(t)
	_ = s.Put("stats", Key{"alice", "hp"}, 0, 0, 10)
	_ = s.Put("stats", Key{"alice", "hp"}, 0, 1, 9)

	d := s.Diff()
	if len(d.Added) != 2 || len(d.Removed) != 0 {
		t.Fatalf("Diff() = %+v, want 2 added", d)
	}
	s.Checkpoint()
	if d := s.Diff(); !d.Empty() {
		t.Errorf("Diff() after checkpoint = %+v, want empty", d)
	}
	s.Checkpoint()
	if d := s.Diff(); !d.Empty() {
		t.Errorf("second Diff() = %+v, want empty", d)
	}

	// Rewriting an identical value is not a change.
	_ = s.Put("stats", Key{"alice", "hp"}, 0, 1, 9)
	if d := s.Diff(); !d.Empty() {
		t.Errorf("Diff() after identical write = %+v, want empty", d)
	}

	_ = s.Put("stats", Key{"alice", "hp"}, 0, 1, 8)
	d = s.Diff()
	if len(d.Added) != 1 || d.Added[0].Value != int64(8) {
		t.Errorf("Diff() after change = %+v", d)
	}
}

func TestDiff_DiscardedBranchIsRemoved(t *testing.T) {
	s := newTestStore(t)
	s.RegisterBranch(1, 0, 0)
	_ = s.Put("stats", Key{"alice", "hp"}, 1, 3, 1)
	s.Checkpoint()
	if parent, fork, ok := s.Parent(1); !ok || parent != 0 || fork != 0 {
		t.Fatalf("Parent(1) = %d, %d, %v; want 0, 0, true", parent, fork, ok)
	}

	s.DiscardBranch(1)
	d := s.Diff()
	if len(d.Removed) != 1 || d.Removed[0].Branch != 1 {
		t.Errorf("Diff() = %+v, want one removal on branch 1", d)
	}
	if _, _, ok := s.Parent(1); ok {
		t.Error("lineage of discarded branch survived")
	}
}

func TestLoad_IsBaseline(t *testing.T) {
	s := newTestStore(t)
	if err := s.Load(Fact{Table: "stats", Key: Key{"a", "b"}, Branch: 0, Tick: 2, Value: "x"}); err != nil {
		t.Fatal(err)
	}
	if d := s.Diff(); !d.Empty() {
		t.Errorf("Diff() after Load = %+v, want empty", d)
	}
	if !s.ExistsAt("stats", Key{"a", "b"}, 0, 2) {
		t.Error("loaded fact not visible")
	}
}

func TestRollback(t *testing.T) {
	s := newTestStore(t)
	key := Key{"alice", "hp"}
	_ = s.Put("stats", key, 0, 0, 10)
	s.Checkpoint()

	m := s.Mark()
	_ = s.Put("stats", key, 0, 0, 5)
	_ = s.Put("stats", key, 0, 3, 4)
	if err := s.Rollback(m); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	f, _ := s.GetAt("stats", key, 0, 10)
	if f.Value != int64(10) || f.Tick != 0 {
		t.Errorf("after Rollback GetAt = %+v, want 10 at tick 0", f)
	}
	if d := s.Diff(); !d.Empty() {
		t.Errorf("Diff() after Rollback = %+v, want empty", d)
	}

	s.Checkpoint()
	if err := s.Rollback(m); !errors.Is(err, ErrStaleMark) {
		t.Errorf("Rollback(stale) error = %v, want ErrStaleMark", err)
	}
}

func TestKeys(t *testing.T) {
	s := newTestStore(t)
	_ = s.Put("stats", Key{"bob", "hp"}, 0, 0, 1)
	_ = s.Put("stats", Key{"alice", "mp"}, 0, 0, 1)
	_ = s.Put("stats", Key{"alice", "hp"}, 0, 0, 1)

	got := s.Keys("stats", Key{"alice"})
	if len(got) != 2 || got[0][1] != "hp" || got[1][1] != "mp" {
		t.Errorf("Keys() = %v", got)
	}
	if all := s.Keys("stats", nil); len(all) != 3 {
		t.Errorf("Keys(nil) = %v, want 3 keys", all)
	}
}
