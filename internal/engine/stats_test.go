package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/nvandessel/worldline/internal/store"
	"github.com/nvandessel/worldline/internal/world"
)

func TestStats_GetSetDelete(t *testing.T) {
	e := openEngine(t, memRows(t), 1)
	mustOK(t, e.NewCharacter("farm", &world.Graph{
		Nodes: []world.GraphNode{{Name: "barn"}, {Name: "cow", Attrs: map[string]any{"location": "barn"}}},
	}, map[string]any{"gold": 3}))

	if v, ok, err := e.Stat("farm", "gold"); err != nil || !ok || v != int64(3) {
		t.Errorf("Stat(farm, gold) = %v, %v, %v", v, ok, err)
	}

	mustOK(t, e.SetStat("farm.cow", "hunger", 4))
	stats, err := e.Stats("farm.cow")
	mustOK(t, err)
	if stats["hunger"] != int64(4) {
		t.Errorf("cow stats = %v", stats)
	}

	mustOK(t, e.SetStat("farm.cow", "hunger", nil))
	if _, ok, _ := e.Stat("farm.cow", "hunger"); ok {
		t.Error("nil SetStat should delete the stat")
	}

	tests := []struct {
		ref  string
		want error
	}{
		{"ranch", world.ErrNotFound},
		{"farm.sheep", world.ErrNotFound},
		{"farm.", nil},
		{"", nil},
	}
	for _, tt := range tests {
		_, err := e.Stats(tt.ref)
		if err == nil {
			t.Errorf("Stats(%q) should fail", tt.ref)
			continue
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("Stats(%q) error = %v, want %v", tt.ref, err, tt.want)
		}
	}
}

func TestWithRows_SeesCheckpointedFacts(t *testing.T) {
	rows := memRows(t)
	e := openEngine(t, rows, 1)
	counterWorld(t, e)
	if _, err := e.Run(context.Background(), 2); err != nil {
		t.Fatal(err)
	}

	var n int
	err := e.WithRows(context.Background(), func(rs store.RowStore) error {
		n = rows.Len(TableTurnReports)
		return nil
	})
	mustOK(t, err)
	if n != 2 {
		t.Errorf("turn report rows = %d, want 2", n)
	}

	mustOK(t, e.Close(context.Background()))
	if err := e.WithRows(context.Background(), func(store.RowStore) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("WithRows after Close = %v, want ErrClosed", err)
	}
}
