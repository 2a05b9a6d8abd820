package fact

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no fact is visible at the queried time.
	ErrNotFound = errors.New("not found")

	// ErrTimeParadox is matched by every ParadoxError.
	ErrTimeParadox = errors.New("time paradox")

	// ErrBeforeFork is returned for writes into a branch earlier than its fork tick.
	ErrBeforeFork = errors.New("write precedes branch fork")
)

// ParadoxError reports a write that would land before history already
// recorded in the same bucket.
type ParadoxError struct {
	Table  string
	Key    Key
	Branch int
	Tick   int
	Later  int
}

func (e *ParadoxError) Error() string {
	return fmt.Sprintf("time paradox: %s %s on branch %d has a fact at tick %d, cannot write at tick %d",
		e.Table, e.Key, e.Branch, e.Later, e.Tick)
}

// Is lets errors.Is(err, ErrTimeParadox) match.
func (e *ParadoxError) Is(target error) bool {
	return target == ErrTimeParadox
}
