package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/nvandessel/worldline/internal/fact"
	"github.com/nvandessel/worldline/internal/logging"
	"github.com/nvandessel/worldline/internal/rules"
	"github.com/nvandessel/worldline/internal/timestream"
)

// TurnResult is what NextTurn did.
type TurnResult struct {
	rules.Report
	Replayed bool `json:"replayed"`
	// Forked is the branch a paradox moved the turn to, or -1.
	Forked int `json:"forked"`
}

// NextTurn simulates the turn at the cursor and advances one tick. A turn
// already simulated at the cursor is replayed instead: the cursor moves
// forward without running rules.
//
// When a rule provokes a time paradox, the turn's writes are rolled back,
// a branch is forked at the turn's tick and the turn runs once more there.
// Any other rule error aborts the turn and leaves its writes in place.
func (e *Engine) NextTurn(ctx context.Context) (TurnResult, error) {
	if err := e.lock(); err != nil {
		return TurnResult{}, err
	}
	defer e.mu.Unlock()
	return e.nextTurn(ctx)
}

// Run advances n turns, stopping at the first error.
func (e *Engine) Run(ctx context.Context, n int) ([]TurnResult, error) {
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	out := make([]TurnResult, 0, n)
	for range n {
		res, err := e.nextTurn(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (e *Engine) nextTurn(ctx context.Context) (TurnResult, error) {
	start := e.time.Now()
	if f, err := e.facts.GetExact(TableTurnReports, reportKey, start.Branch, start.Tick); err == nil && !f.Tombstone() {
		e.time.Advance(1)
		res := TurnResult{Report: rules.ReportFromValue(start.Branch, start.Tick, f.Value), Replayed: true, Forked: -1}
		e.logTurn(res)
		return res, nil
	}

	res := TurnResult{Forked: -1}
	rep, err := e.runTurn(ctx, start)
	if errors.Is(err, fact.ErrTimeParadox) {
		b, ferr := e.time.Fork(start.Branch, start.Tick)
		if ferr != nil {
			return res, fmt.Errorf("fork after %v: %w", err, ferr)
		}
		e.logger.Info("turn forked timeline", "parent", start.Branch, "branch", b.ID,
			"tick", start.Tick, "cause", err)
		if serr := e.time.Seek(timestream.Time{Branch: b.ID, Tick: start.Tick}); serr != nil {
			return res, serr
		}
		res.Forked = b.ID
		rep, err = e.runTurn(ctx, e.time.Now())
	}
	if err != nil {
		res.Report = rep
		return res, err
	}

	// A journey inside the turn may have forked and moved the cursor. The
	// rules after it ran on the fork, so the turn belongs there and the
	// parent stays unsimulated at this tick.
	now := e.time.Now()
	if now.Branch != rep.Branch {
		e.logger.Info("turn moved to forked timeline", "parent", rep.Branch, "branch", now.Branch,
			"tick", now.Tick)
		rep.Branch, rep.Tick = now.Branch, now.Tick
		res.Forked = now.Branch
	}
	res.Report = rep

	if err := e.facts.Put(TableTurnReports, reportKey, rep.Branch, rep.Tick, rep.Value()); err != nil {
		return res, err
	}
	e.time.Advance(rep.Tick + 1 - now.Tick)
	e.logTurn(res)
	return res, nil
}

// runTurn evaluates rules at at. A paradox undoes the attempt completely:
// fact writes, cursor movement and any branches created during it.
func (e *Engine) runTurn(ctx context.Context, at timestream.Time) (rules.Report, error) {
	mark := e.facts.Mark()
	hi := e.time.HiBranch()
	rep, err := e.rules.Evaluate(ctx)
	if err == nil || !errors.Is(err, fact.ErrTimeParadox) {
		return rep, err
	}
	if rerr := e.facts.Rollback(mark); rerr != nil {
		return rep, errors.Join(err, rerr)
	}
	if serr := e.time.Seek(at); serr != nil {
		return rep, errors.Join(err, serr)
	}
	for id := e.time.HiBranch(); id > hi; id-- {
		if derr := e.time.DiscardBranch(id); derr != nil {
			return rep, errors.Join(err, derr)
		}
	}
	return rep, err
}

func (e *Engine) logTurn(res TurnResult) {
	e.logger.Debug("turn", "branch", res.Branch, "tick", res.Tick, "fired", res.Fired,
		"events", len(res.Events), "replayed", res.Replayed)
	rec := logging.TurnRecord{
		Branch:   res.Branch,
		Tick:     res.Tick,
		Fired:    res.Fired,
		Replayed: res.Replayed,
		Forked:   res.Forked,
	}
	if len(res.Events) > 0 {
		rec.Events = res.Events
	}
	e.turnLog.Log(rec)
}

// Report returns the stored report of the turn at (branch, tick).
func (e *Engine) Report(branch, tick int) (rules.Report, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, err := e.facts.GetExact(TableTurnReports, reportKey, branch, tick)
	if err != nil || f.Tombstone() {
		return rules.Report{}, false
	}
	return rules.ReportFromValue(branch, tick, f.Value), true
}
