package engine

import (
	"github.com/nvandessel/worldline/internal/timestream"
)

// Status summarizes the cursor and the branch tree.
type Status struct {
	Now        timestream.Time     `json:"now"`
	BranchName string              `json:"branch_name"`
	MainBranch string              `json:"main_branch"`
	HiBranch   int                 `json:"hi_branch"`
	HiTick     int                 `json:"hi_tick"`
	Seed       uint64              `json:"seed"`
	Characters []string            `json:"characters"`
	Branches   []timestream.Branch `json:"branches"`
}

// Status reports where the cursor is.
func (e *Engine) Status() (Status, error) {
	if err := e.lock(); err != nil {
		return Status{}, err
	}
	defer e.mu.Unlock()
	now := e.time.Now()
	cur, _ := e.time.Branch(now.Branch)
	main, _ := e.time.Branch(e.time.MainBranch())
	return Status{
		Now:        now,
		BranchName: cur.Name,
		MainBranch: main.Name,
		HiBranch:   e.time.HiBranch(),
		HiTick:     e.time.HiTick(),
		Seed:       e.rules.Seed(),
		Characters: e.world.Characters(),
		Branches:   e.time.Branches(),
	}, nil
}

// Now returns the cursor.
func (e *Engine) Now() timestream.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.time.Now()
}

// TimeTravel moves the cursor, creating branch when it is one past the
// highest branch.
func (e *Engine) TimeTravel(branch, tick int) error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	if err := e.time.TimeTravel(branch, tick); err != nil {
		return err
	}
	e.logger.Debug("time travel", "branch", e.time.Now().Branch, "tick", e.time.Now().Tick)
	return nil
}

// TimeTravelNamed moves the cursor to tick of the named branch.
func (e *Engine) TimeTravelNamed(name string, tick int) error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	return e.time.TimeTravelNamed(name, tick)
}

// SwitchMainBranch moves to the root branch called name, creating it when
// it does not exist.
func (e *Engine) SwitchMainBranch(name string) error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	if err := e.time.SwitchMainBranch(name); err != nil {
		return err
	}
	e.logger.Info("switched main branch", "name", name, "branch", e.time.Now().Branch)
	return nil
}

// Back undoes the last recorded time travel.
func (e *Engine) Back() (timestream.Time, bool, error) {
	if err := e.lock(); err != nil {
		return timestream.Time{}, false, err
	}
	defer e.mu.Unlock()
	t, ok := e.time.Back()
	return t, ok, nil
}

// Branches returns every branch ordered by id.
func (e *Engine) Branches() []timestream.Branch {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.time.Branches()
}
