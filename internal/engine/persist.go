package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nvandessel/worldline/internal/fact"
	"github.com/nvandessel/worldline/internal/store"
	"github.com/nvandessel/worldline/internal/timestream"
	"github.com/nvandessel/worldline/internal/utils"
)

func loadFacts(ctx context.Context, rs store.RowStore, facts *fact.Store) (int, error) {
	n := 0
	for _, s := range facts.Schemas() {
		rows, err := rs.SelectRows(ctx, s.Name, store.All())
		if err != nil {
			return n, fmt.Errorf("load %s: %w", s.Name, err)
		}
		for _, r := range rows {
			v, err := fact.Decode(r.Value)
			if err != nil {
				return n, fmt.Errorf("load %s %v at %d.%d: %w", s.Name, r.Key, r.Branch, r.Tick, err)
			}
			if err := facts.Load(fact.Fact{Table: s.Name, Key: r.Key, Branch: r.Branch, Tick: r.Tick, Value: v}); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func branchValue(b timestream.Branch) map[string]any {
	return map[string]any{
		"name":      b.Name,
		"parent":    int64(b.Parent),
		"fork_tick": int64(b.ForkTick),
		"end":       int64(b.End),
	}
}

func branchFromValue(id int, v any) (timestream.Branch, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return timestream.Branch{}, fmt.Errorf("branch %d: record has type %T", id, v)
	}
	b := timestream.Branch{
		ID:       id,
		Name:     utils.GetString(m, "name", ""),
		Parent:   utils.GetInt(m, "parent", 0),
		ForkTick: utils.GetInt(m, "fork_tick", 0),
		End:      utils.GetInt(m, "end", 0),
	}
	if b.Name == "" {
		return b, fmt.Errorf("branch %d: record has no name", id)
	}
	return b, nil
}

func timeValue(t timestream.Time) map[string]any {
	return map[string]any{"branch": int64(t.Branch), "tick": int64(t.Tick)}
}

// restoreTime rebuilds the branch tree and cursor from the branches and
// clock tables. A store without branch records keeps the fresh trunk.
func restoreTime(facts *fact.Store, ts *timestream.Timestream) error {
	var branches []timestream.Branch
	for _, f := range facts.All(TableBranches) {
		if f.Tombstone() || f.Branch != 0 || f.Tick != 0 {
			continue
		}
		id, err := strconv.Atoi(f.Key[0])
		if err != nil {
			return fmt.Errorf("branch record key %q: %w", f.Key[0], err)
		}
		b, err := branchFromValue(id, f.Value)
		if err != nil {
			return err
		}
		branches = append(branches, b)
	}
	if len(branches) == 0 {
		return nil
	}

	var now timestream.Time
	if f, err := facts.GetExact(TableClock, fact.Key{"now"}, 0, 0); err == nil && !f.Tombstone() {
		m, _ := f.Value.(map[string]any)
		now = timestream.Time{Branch: utils.GetInt(m, "branch", 0), Tick: utils.GetInt(m, "tick", 0)}
	}
	return ts.Restore(branches, now)
}

// saveTime writes the branch tree and cursor as facts so the next diff
// carries them. Records of discarded branches become tombstones.
func (e *Engine) saveTime() error {
	branches := e.time.Branches()
	for _, b := range branches {
		if err := e.facts.Put(TableBranches, fact.Key{strconv.Itoa(b.ID)}, 0, 0, branchValue(b)); err != nil {
			return err
		}
	}
	for _, f := range e.facts.All(TableBranches) {
		id, err := strconv.Atoi(f.Key[0])
		if err == nil && id >= len(branches) && !f.Tombstone() {
			if err := e.facts.Put(TableBranches, f.Key, 0, 0, nil); err != nil {
				return err
			}
		}
	}
	return e.facts.Put(TableClock, fact.Key{"now"}, 0, 0, timeValue(e.time.Now()))
}

// Checkpoint persists every fact changed since the last checkpoint in one
// row store batch. The baseline only advances once the batch commits, so a
// failed checkpoint can be retried.
func (e *Engine) Checkpoint(ctx context.Context) error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	return e.checkpoint(ctx)
}

func (e *Engine) checkpoint(ctx context.Context) error {
	if err := e.saveTime(); err != nil {
		return err
	}
	d := e.facts.Diff()
	if d.Empty() {
		return nil
	}

	inserts := make(map[string][]store.Row)
	var order []string
	for _, f := range d.Added {
		data, err := fact.Encode(f.Value)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", f.Table, f.Key, err)
		}
		if _, seen := inserts[f.Table]; !seen {
			order = append(order, f.Table)
		}
		inserts[f.Table] = append(inserts[f.Table], store.Row{Key: f.Key, Branch: f.Branch, Tick: f.Tick, Value: data})
	}

	batch, err := e.rows.Begin(ctx)
	if err != nil {
		return err
	}
	for _, f := range d.Removed {
		if err := batch.DeleteRows(f.Table, store.Exact(f.Key, f.Branch, f.Tick)); err != nil {
			_ = batch.Rollback()
			return fmt.Errorf("delete %s %s: %w", f.Table, f.Key, err)
		}
	}
	for _, table := range order {
		if err := batch.InsertRows(table, inserts[table]); err != nil {
			_ = batch.Rollback()
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	e.facts.Checkpoint()
	e.logger.Debug("checkpoint", "added", len(d.Added), "removed", len(d.Removed))
	return nil
}
