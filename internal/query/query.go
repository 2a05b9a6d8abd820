// Package query builds comparison expressions over stat histories and finds
// the ticks of a branch where they hold.
package query

import (
	"fmt"
	"strings"

	"github.com/nvandessel/worldline/internal/fact"
	"github.com/nvandessel/worldline/internal/world"
)

// History is the read side of the fact store that queries need.
type History interface {
	GetAt(table string, key fact.Key, branch, tick int) (fact.Fact, error)
	Boundaries(table string, key fact.Key, branch int) []int
}

// Operand is one side of a comparison: a stat series read at each tick, or
// a constant.
type Operand interface {
	valueAt(h History, branch, tick int) (any, bool)
	series() []world.Series
	String() string
}

type historical struct {
	s    world.Series
	name string
}

// Historical reads a stat series at every tick it is compared at. Use the
// entity's StatSeries to name it; a thing's "location" series holds the
// location descriptor.
func Historical(s world.Series) Operand {
	return historical{s: s, name: s.Table + s.Key.String()}
}

// Named is Historical with a display name.
func Named(name string, s world.Series) Operand {
	return historical{s: s, name: name}
}

func (o historical) valueAt(h History, branch, tick int) (any, bool) {
	f, err := h.GetAt(o.s.Table, o.s.Key, branch, tick)
	if err != nil || f.Tombstone() {
		return nil, false
	}
	return f.Value, true
}

func (o historical) series() []world.Series { return []world.Series{o.s} }

func (o historical) String() string { return o.name }

type alias struct{ v any }

// Alias wraps a constant so it can be compared against a history.
func Alias(v any) Operand {
	if n, err := fact.Normalize(v); err == nil {
		v = n
	}
	return alias{v: v}
}

func (o alias) valueAt(History, int, int) (any, bool) { return o.v, o.v != nil }

func (alias) series() []world.Series { return nil }

func (o alias) String() string {
	if s, ok := o.v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprint(o.v)
}

// ValueAt reads an operand at an explicit time.
func ValueAt(h History, o Operand, branch, tick int) (any, bool) {
	return o.valueAt(h, branch, tick)
}

// Expr is a boolean expression evaluated at one tick.
type Expr interface {
	eval(h History, branch, tick int) bool
	series() []world.Series
	String() string
}

// Eval evaluates e at an explicit time.
func Eval(h History, e Expr, branch, tick int) bool {
	return e.eval(h, branch, tick)
}

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "=="
	OpNe Op = "!="
	OpLt Op = "<"
	OpGt Op = ">"
	OpLe Op = "<="
	OpGe Op = ">="
)

type comparison struct {
	op          Op
	left, right Operand
}

// Compare builds left op right. A side with no value makes the comparison
// false, including for OpNe.
func Compare(left Operand, op Op, right Operand) (Expr, error) {
	switch op {
	case OpEq, OpNe, OpLt, OpGt, OpLe, OpGe:
		return comparison{op: op, left: left, right: right}, nil
	}
	return nil, fmt.Errorf("unknown operator %q", op)
}

func Eq(a, b Operand) Expr { return comparison{op: OpEq, left: a, right: b} }
func Ne(a, b Operand) Expr { return comparison{op: OpNe, left: a, right: b} }
func Lt(a, b Operand) Expr { return comparison{op: OpLt, left: a, right: b} }
func Gt(a, b Operand) Expr { return comparison{op: OpGt, left: a, right: b} }
func Le(a, b Operand) Expr { return comparison{op: OpLe, left: a, right: b} }
func Ge(a, b Operand) Expr { return comparison{op: OpGe, left: a, right: b} }

func (c comparison) eval(h History, branch, tick int) bool {
	a, ok := c.left.valueAt(h, branch, tick)
	if !ok {
		return false
	}
	b, ok := c.right.valueAt(h, branch, tick)
	if !ok {
		return false
	}
	switch c.op {
	case OpEq:
		return equal(a, b)
	case OpNe:
		return !equal(a, b)
	}
	n, ok := fact.Compare(a, b)
	if !ok {
		return false
	}
	switch c.op {
	case OpLt:
		return n < 0
	case OpGt:
		return n > 0
	case OpLe:
		return n <= 0
	default:
		return n >= 0
	}
}

// equal treats 2 and 2.0 as the same value.
func equal(a, b any) bool {
	switch a.(type) {
	case int64, float64:
		n, ok := fact.Compare(a, b)
		return ok && n == 0
	}
	return fact.Equal(a, b)
}

func (c comparison) series() []world.Series {
	return append(c.left.series(), c.right.series()...)
}

func (c comparison) String() string {
	return fmt.Sprintf("%s %s %s", c.left, c.op, c.right)
}

type allEqual []Operand

// AllEqual is the chained form a == b == c: every operand has a value and
// all values are equal.
func AllEqual(ops ...Operand) Expr { return allEqual(ops) }

func (e allEqual) eval(h History, branch, tick int) bool {
	if len(e) < 2 {
		return false
	}
	first, ok := e[0].valueAt(h, branch, tick)
	if !ok {
		return false
	}
	for _, o := range e[1:] {
		v, ok := o.valueAt(h, branch, tick)
		if !ok || !equal(first, v) {
			return false
		}
	}
	return true
}

func (e allEqual) series() []world.Series {
	var out []world.Series
	for _, o := range e {
		out = append(out, o.series()...)
	}
	return out
}

func (e allEqual) String() string {
	parts := make([]string, len(e))
	for i, o := range e {
		parts[i] = o.String()
	}
	return strings.Join(parts, " == ")
}

type boolean struct {
	and   bool
	exprs []Expr
}

// And holds when every expression holds.
func And(exprs ...Expr) Expr { return boolean{and: true, exprs: exprs} }

// Or holds when any expression holds.
func Or(exprs ...Expr) Expr { return boolean{exprs: exprs} }

func (b boolean) eval(h History, branch, tick int) bool {
	for _, e := range b.exprs {
		if e.eval(h, branch, tick) != b.and {
			return !b.and
		}
	}
	return b.and
}

func (b boolean) series() []world.Series {
	var out []world.Series
	for _, e := range b.exprs {
		out = append(out, e.series()...)
	}
	return out
}

func (b boolean) String() string {
	sep := " or "
	if b.and {
		sep = " and "
	}
	parts := make([]string, len(b.exprs))
	for i, e := range b.exprs {
		parts[i] = "(" + e.String() + ")"
	}
	return strings.Join(parts, sep)
}

type not struct{ e Expr }

// Not negates an expression.
func Not(e Expr) Expr { return not{e: e} }

func (n not) eval(h History, branch, tick int) bool { return !n.e.eval(h, branch, tick) }

func (n not) series() []world.Series { return n.e.series() }

func (n not) String() string { return "not (" + n.e.String() + ")" }
