package query

import (
	"fmt"
	"strconv"
	"strings"
	"text/scanner"
	"unicode"
)

// Resolver maps a reference such as "physical.T.location" to an operand.
type Resolver func(ref string) (Operand, error)

// Parse reads an expression such as
//
//	physical.sheep.location == physical.wolf.location and not physical.wolf.hungry == true
//
// References are dotted names handed to resolve. Literals are numbers,
// quoted strings, true and false. a == b == c chains into AllEqual. "and"
// binds tighter than "or"; parentheses group.
func Parse(src string, resolve Resolver) (Expr, error) {
	p := &parser{resolve: resolve}
	p.s.Init(strings.NewReader(src))
	p.s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats | scanner.ScanStrings
	p.s.IsIdentRune = func(ch rune, i int) bool {
		return ch == '_' || unicode.IsLetter(ch) || (i > 0 && (unicode.IsDigit(ch) || ch == '.' || ch == '-'))
	}
	p.s.Error = func(_ *scanner.Scanner, msg string) { p.err = fmt.Errorf("parse %q: %s", src, msg) }
	p.next()

	e, err := p.or()
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", src, err)
	}
	if p.tok != scanner.EOF {
		return nil, fmt.Errorf("parse %q: unexpected %q", src, p.text)
	}
	if p.err != nil {
		return nil, p.err
	}
	return e, nil
}

type parser struct {
	s       scanner.Scanner
	tok     rune
	text    string
	resolve Resolver
	err     error
}

func (p *parser) next() {
	p.tok = p.s.Scan()
	p.text = p.s.TokenText()
}

func (p *parser) keyword(kw string) bool {
	return p.tok == scanner.Ident && p.text == kw
}

func (p *parser) or() (Expr, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	exprs := []Expr{left}
	for p.keyword("or") {
		p.next()
		e, err := p.and()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	if len(exprs) == 1 {
		return left, nil
	}
	return Or(exprs...), nil
}

func (p *parser) and() (Expr, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	exprs := []Expr{left}
	for p.keyword("and") {
		p.next()
		e, err := p.unary()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	if len(exprs) == 1 {
		return left, nil
	}
	return And(exprs...), nil
}

func (p *parser) unary() (Expr, error) {
	switch {
	case p.keyword("not"):
		p.next()
		e, err := p.unary()
		if err != nil {
			return nil, err
		}
		return Not(e), nil
	case p.tok == '(':
		p.next()
		e, err := p.or()
		if err != nil {
			return nil, err
		}
		if p.tok != ')' {
			return nil, fmt.Errorf("expected ')', got %q", p.text)
		}
		p.next()
		return e, nil
	}
	return p.comparison()
}

func (p *parser) comparison() (Expr, error) {
	left, err := p.operand()
	if err != nil {
		return nil, err
	}
	op, err := p.operator()
	if err != nil {
		return nil, err
	}
	right, err := p.operand()
	if err != nil {
		return nil, err
	}
	if op != OpEq || p.tok != '=' {
		return Compare(left, op, right)
	}
	ops := []Operand{left, right}
	for p.tok == '=' {
		if op, err := p.operator(); err != nil || op != OpEq {
			return nil, fmt.Errorf("only == chains")
		}
		o, err := p.operand()
		if err != nil {
			return nil, err
		}
		ops = append(ops, o)
	}
	return AllEqual(ops...), nil
}

func (p *parser) operator() (Op, error) {
	first := p.tok
	switch first {
	case '=', '!', '<', '>':
	default:
		return "", fmt.Errorf("expected operator, got %q", p.text)
	}
	op := string(first)
	if p.s.Peek() == '=' {
		p.s.Next()
		op += "="
	}
	p.next()
	switch Op(op) {
	case OpEq, OpNe, OpLt, OpGt, OpLe, OpGe:
		return Op(op), nil
	}
	return "", fmt.Errorf("unknown operator %q", op)
}

func (p *parser) operand() (Operand, error) {
	text := p.text
	switch p.tok {
	case scanner.Int:
		p.next()
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, err
		}
		return Alias(n), nil
	case scanner.Float:
		p.next()
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, err
		}
		return Alias(f), nil
	case scanner.String:
		p.next()
		s, err := strconv.Unquote(text)
		if err != nil {
			return nil, err
		}
		return Alias(s), nil
	case scanner.Ident:
		p.next()
		switch text {
		case "true":
			return Alias(true), nil
		case "false":
			return Alias(false), nil
		}
		if p.resolve == nil {
			return nil, fmt.Errorf("no resolver for %q", text)
		}
		return p.resolve(text)
	case '-':
		p.next()
		o, err := p.operand()
		if err != nil {
			return nil, err
		}
		if a, ok := o.(alias); ok {
			switch v := a.v.(type) {
			case int64:
				return Alias(-v), nil
			case float64:
				return Alias(-v), nil
			}
		}
		return nil, fmt.Errorf("'-' applies to numbers only")
	}
	return nil, fmt.Errorf("expected operand, got %q", text)
}
