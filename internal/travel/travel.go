// Package travel plans journeys for things and writes them into their
// location history one portal at a time.
package travel

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/nvandessel/worldline/internal/fact"
	"github.com/nvandessel/worldline/internal/timestream"
	"github.com/nvandessel/worldline/internal/world"
)

// DefaultSpeed is the speed of a thing without a "speed" stat, in portal
// length per tick.
const DefaultSpeed = 0.1

// ErrJourney is matched by every JourneyError.
var ErrJourney = errors.New("journey error")

// JourneyError reports a journey that cannot be planned.
type JourneyError struct {
	Thing  string
	From   string
	To     string
	Reason string
}

func (e *JourneyError) Error() string {
	return fmt.Sprintf("journey of %q from %q to %q: %s", e.Thing, e.From, e.To, e.Reason)
}

// Is lets errors.Is(err, ErrJourney) match.
func (e *JourneyError) Is(target error) bool {
	return target == ErrJourney
}

// Step is one leg of a scheduled journey.
type Step struct {
	Portal string `json:"portal"`
	Enter  int    `json:"enter"`
	Arrive int    `json:"arrive"`
}

// Result describes a scheduled journey.
type Result struct {
	Branch int      `json:"branch"`
	Start  int      `json:"start"`
	Arrive int      `json:"arrive"`
	Path   []string `json:"path"`
	Steps  []Step   `json:"steps"`
	Forked bool     `json:"forked"`
}

// Planner schedules journeys. It forks through the timestream when a
// thing's future is already fixed.
type Planner struct {
	time         *timestream.Timestream
	facts        *fact.Store
	defaultSpeed float64
	logger       *slog.Logger
}

// NewPlanner returns a planner. A non-positive speed means DefaultSpeed.
func NewPlanner(ts *timestream.Timestream, facts *fact.Store, speed float64, logger *slog.Logger) *Planner {
	if speed <= 0 {
		speed = DefaultSpeed
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Planner{time: ts, facts: facts, defaultSpeed: speed, logger: logger}
}

// TicksToCross is how many ticks a thing at speed needs for a portal of
// length, never less than one.
func TicksToCross(length, speed float64) int {
	n := int(math.Ceil(length/speed - 1e-9))
	if n < 1 {
		return 1
	}
	return n
}

// JourneyTo schedules thing to travel to the place dest, starting at the
// cursor.
func (p *Planner) JourneyTo(thing *world.Thing, dest string) (Result, error) {
	now := p.time.Now()
	return p.JourneyAt(thing, dest, now.Branch, now.Tick)
}

// JourneyAt schedules thing to travel to dest from (branch, tick). When the
// thing already has location facts after the start, the journey is written
// on a new branch forked at the start and the cursor moves there.
func (p *Planner) JourneyAt(thing *world.Thing, dest string, branch, tick int) (Result, error) {
	res, err := p.plan(thing, dest, branch, tick)
	if err == nil {
		return res, nil
	}
	var paradox *fact.ParadoxError
	if !errors.As(err, &paradox) {
		return Result{}, err
	}

	fork := res.Start
	nb, ferr := p.time.Fork(branch, fork)
	if ferr != nil {
		return Result{}, fmt.Errorf("fork after %v: %w", err, ferr)
	}
	p.logger.Info("journey forked timeline",
		"thing", thing.Name(), "destination", dest,
		"parent", branch, "branch", nb.ID, "fork_tick", fork, "conflict_tick", paradox.Later)

	res, err = p.plan(thing, dest, nb.ID, fork)
	if err != nil {
		if derr := p.time.DiscardBranch(nb.ID); derr != nil {
			p.logger.Warn("discard of failed journey branch", "branch", nb.ID, "error", derr)
		}
		return Result{}, err
	}
	if err := p.time.TimeTravel(nb.ID, fork); err != nil {
		return Result{}, err
	}
	res.Forked = true
	return res, nil
}

// plan writes the journey on branch. On a paradox it undoes its own writes
// and returns the computed start tick with the error.
func (p *Planner) plan(thing *world.Thing, dest string, branch, tick int) (Result, error) {
	c := thing.Character()
	at := c.World().At(timestream.Time{Branch: branch, Tick: tick})
	ac, err := at.Character(c.Name())
	if err != nil {
		return Result{}, err
	}
	t, err := ac.Thing(thing.Name())
	if err != nil {
		return Result{}, err
	}

	start, startTick, err := p.startOf(t, branch, tick)
	if err != nil {
		return Result{}, err
	}
	if _, err := ac.Place(dest); err != nil {
		return Result{}, &JourneyError{Thing: t.Name(), From: start, To: dest, Reason: "destination is not a place"}
	}

	path, err := ShortestPath(ac, start, dest)
	if err != nil {
		return Result{Start: startTick}, &JourneyError{Thing: t.Name(), From: start, To: dest, Reason: err.Error()}
	}

	key := fact.Key{c.Name(), t.Name()}
	if later, ok := p.facts.NextAfter(world.TableLocations, key, branch, startTick); ok && later.Branch == branch {
		return Result{Start: startTick}, &fact.ParadoxError{
			Table: world.TableLocations, Key: key, Branch: branch, Tick: startTick, Later: later.Tick,
		}
	}

	speed := t.Speed(p.defaultSpeed)
	res := Result{Branch: branch, Start: startTick, Path: path}
	mark := p.facts.Mark()
	if err := p.schedule(t, ac, path, branch, speed, &res); err != nil {
		return Result{Start: startTick}, p.undo(mark, err)
	}
	if len(res.Steps) == 0 {
		res.Arrive = startTick
	}
	return res, nil
}

// undo rolls the store back to m after err. A failed rollback is joined
// into the result.
func (p *Planner) undo(m fact.Mark, err error) error {
	if rerr := p.facts.Rollback(m); rerr != nil {
		return errors.Join(err, rerr)
	}
	return err
}

// schedule writes the portal and arrival locations of every hop of path,
// starting the tick after res.Start.
func (p *Planner) schedule(t *world.Thing, c *world.Character, path []string, branch int, speed float64, res *Result) error {
	sched := res.Start + 1
	for i := 0; i+1 < len(path); i++ {
		portal, err := c.Portal(path[i], path[i+1])
		if err != nil {
			return err
		}
		enter := sched
		if err := t.SetLocationAt(portal.Descriptor(), branch, enter); err != nil {
			return err
		}
		sched += TicksToCross(portal.Length(), speed)
		if err := t.SetLocationAt(path[i+1], branch, sched); err != nil {
			return err
		}
		res.Steps = append(res.Steps, Step{Portal: portal.Descriptor(), Enter: enter, Arrive: sched})
		res.Arrive = sched
		sched++
	}
	return nil
}

// startOf finds the place a journey leaves from and the tick it can leave.
// A thing in transit leaves from the portal's destination once it arrives.
func (p *Planner) startOf(t *world.Thing, branch, tick int) (string, int, error) {
	loc, err := t.LocationAt(branch, tick)
	if err != nil {
		return "", 0, err
	}
	if loc == nil {
		return "", 0, fmt.Errorf("thing %q: %w", t.Name(), world.ErrNotFound)
	}
	if portal, ok := loc.(*world.Portal); ok {
		key := fact.Key{t.Character().Name(), t.Name()}
		next, ok := p.facts.NextAfter(world.TableLocations, key, branch, tick)
		if !ok {
			return portal.DestinationName(), tick, nil
		}
		return portal.DestinationName(), next.Tick, nil
	}
	place, err := t.Place()
	if err != nil {
		return "", 0, &JourneyError{Thing: t.Name(), From: loc.Name(), Reason: "not at a place"}
	}
	return place.Name(), tick, nil
}
