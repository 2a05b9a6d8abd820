package fact

// Delta is the change set between the baseline and the current store.
// Changed facts appear in Added with their new value.
type Delta struct {
	Added   []Fact
	Removed []Fact
}

// Empty reports whether nothing changed.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Diff returns the facts added, changed or removed since the last Checkpoint.
func (s *Store) Diff() Delta {
	var d Delta
	for id := range s.dirty {
		cur, has := s.lookup(id)
		base, had := s.baseline[id]
		switch {
		case has && (!had || !Equal(cur, base)):
			d.Added = append(d.Added, s.factFor(id, cur))
		case !has && had:
			d.Removed = append(d.Removed, s.factFor(id, base))
		}
	}
	sortFacts(d.Added)
	sortFacts(d.Removed)
	return d
}

// Checkpoint makes the current contents the new baseline. Call it only after
// the delta from Diff has been persisted.
func (s *Store) Checkpoint() {
	for id := range s.dirty {
		if cur, has := s.lookup(id); has {
			s.baseline[id] = cur
		} else {
			delete(s.baseline, id)
		}
	}
	s.dirty = make(map[factID]struct{})
	s.journal = nil
	s.epoch++
}

func (s *Store) factFor(id factID, v any) Fact {
	var key Key
	if ref := s.keys[id.table][id.key]; ref != nil {
		key = ref.key
	} else {
		key = decodeKey(id.key)
	}
	return Fact{Table: id.table, Key: key, Branch: id.branch, Tick: id.tick, Value: v}
}
