package fact

import "errors"

// ErrStaleMark is returned by Rollback for a mark taken before the last
// checkpoint.
var ErrStaleMark = errors.New("journal mark predates the last checkpoint")

type undo struct {
	id   factID
	prev any
	had  bool
}

// Mark is a position in the write journal.
type Mark struct {
	epoch int
	pos   int
}

// Mark returns the current journal position.
func (s *Store) Mark() Mark {
	return Mark{epoch: s.epoch, pos: len(s.journal)}
}

// Rollback undoes every write made since m, newest first.
func (s *Store) Rollback(m Mark) error {
	if m.epoch != s.epoch || m.pos > len(s.journal) {
		return ErrStaleMark
	}
	for i := len(s.journal) - 1; i >= m.pos; i-- {
		u := s.journal[i]
		if u.had {
			s.restore(u.id, u.prev)
		} else {
			s.remove(u.id)
		}
	}
	s.journal = s.journal[:m.pos]
	return nil
}

func (s *Store) restore(id factID, v any) {
	b := s.buckets[id.bucketID]
	if b == nil {
		return
	}
	if i := b.at(id.tick); i >= 0 && b.ticks[i] == id.tick {
		b.vals[i] = v
		s.dirty[id] = struct{}{}
	}
}
