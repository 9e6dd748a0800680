package query

import (
	"fmt"
	"strconv"
	"strings"
	"text/scanner"
)

// Parse parses a predicate. An empty expression parses to nil.
func Parse(expr string) (Expression, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}

	var s scanner.Scanner
	s.Init(strings.NewReader(expr))
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats | scanner.ScanStrings
	var scanErr string
	s.Error = func(_ *scanner.Scanner, msg string) {
		if scanErr == "" {
			scanErr = msg
		}
	}

	p := &parser{s: &s, expr: expr}
	p.next()

	res, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if scanErr != "" {
		return nil, p.errorf("%s", scanErr)
	}
	if p.tok != scanner.EOF {
		return nil, p.errorf("unexpected %q after expression", p.lit)
	}
	return res, nil
}

// opToken marks a multi-character operator in parser.tok
const opToken = -100

type parser struct {
	s    *scanner.Scanner
	expr string
	tok  rune
	lit  string
	pos  int
}

func (p *parser) errorf(format string, args ...any) error {
	return SyntaxError{Expr: p.expr, Offset: p.pos, Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) next() {
	p.tok = p.s.Scan()
	p.lit = p.s.TokenText()
	p.pos = p.s.Position.Offset

	var second rune
	switch p.tok {
	case '=', '!', '<', '>':
		second = '='
	case '&':
		second = '&'
	case '|':
		second = '|'
	default:
		return
	}
	if p.s.Peek() == second {
		p.s.Next()
		p.lit += string(second)
		p.tok = opToken
	}
}

// levels lists the binary operators by increasing binding strength
var levels = [][]Operator{
	{OpOr},
	{OpAnd},
	{OpEqual, OpNotEqual, OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual, OpContains},
}

func (p *parser) parseOr() (Expression, error) {
	return p.parseLevel(0)
}

// parseLevel parses a left-associative chain of the operators at level.
// Comparisons do not chain: "a < b < c" is a syntax error.
func (p *parser) parseLevel(level int) (Expression, error) {
	if level == len(levels) {
		return p.parsePrimary()
	}

	lhs, err := p.parseLevel(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.operatorAt(level)
		if !ok {
			return lhs, nil
		}
		p.next()
		rhs, err := p.parseLevel(level + 1)
		if err != nil {
			return nil, err
		}
		lhs = &BinaryExpression{Left: lhs, Operator: op, Right: rhs}
		if level == len(levels)-1 {
			return lhs, nil
		}
	}
}

func (p *parser) operatorAt(level int) (Operator, bool) {
	for _, op := range levels[level] {
		if p.lit == string(op) && (p.tok == opToken || p.tok == scanner.Ident || len(op) == 1) {
			return op, true
		}
	}
	return "", false
}

func (p *parser) parsePrimary() (Expression, error) {
	switch p.tok {
	case scanner.Ident:
		name := p.lit
		if !fields[name] {
			return nil, p.errorf("unknown field %q", name)
		}
		p.next()
		return &Field{Name: name}, nil
	case scanner.String:
		val, err := strconv.Unquote(p.lit)
		if err != nil {
			return nil, p.errorf("bad string literal %s", p.lit)
		}
		p.next()
		return &Literal{Value: val}, nil
	case scanner.Int:
		n, err := strconv.ParseUint(p.lit, 0, 64)
		if err != nil {
			return nil, p.errorf("bad integer %s", p.lit)
		}
		p.next()
		return &Literal{Value: n}, nil
	case scanner.Float:
		f, err := strconv.ParseFloat(p.lit, 64)
		if err != nil {
			return nil, p.errorf("bad number %s", p.lit)
		}
		p.next()
		return &Literal{Value: f}, nil
	case '(':
		p.next()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok != ')' {
			return nil, p.errorf("expected closing parenthesis")
		}
		p.next()
		return expr, nil
	case scanner.EOF:
		return nil, p.errorf("unexpected end of expression")
	default:
		return nil, p.errorf("unexpected %q", p.lit)
	}
}
