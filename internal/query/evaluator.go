package query

import (
	"fmt"
	"strings"

	"github.com/polysync/rnr/internal/logfile"
	"github.com/polysync/rnr/internal/msgtype"
)

// Predicate is a compiled record filter
type Predicate struct {
	expr Expression
	src  string
	reg  *msgtype.Registry
}

// Compile parses expr into a predicate. Type names are resolved with reg
// (default msgtype.DefaultRegistry). An empty expression matches everything.
func Compile(expr string, reg *msgtype.Registry) (*Predicate, error) {
	e, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		reg = msgtype.DefaultRegistry()
	}
	return &Predicate{expr: e, src: expr, reg: reg}, nil
}

// String returns the source expression
func (p *Predicate) String() string {
	return p.src
}

// Match reports whether rec satisfies the predicate
func (p *Predicate) Match(rec *logfile.Record) (bool, error) {
	if p == nil || p.expr == nil {
		return true, nil
	}
	v, err := p.expr.Evaluate(Vars{
		FieldIndex:     rec.Index,
		FieldTimestamp: rec.Timestamp,
		FieldSize:      uint64(rec.Size),
		FieldType:      p.reg.Name(rec.Type),
		FieldTypeID:    uint64(rec.Type),
		FieldPayload:   string(rec.Payload),
	})
	if err != nil {
		return false, err
	}
	return toBool(v), nil
}

// Evaluate evaluates a binary expression
func (e *BinaryExpression) Evaluate(vars Vars) (any, error) {
	left, err := e.Left.Evaluate(vars)
	if err != nil {
		return nil, err
	}

	// short circuit before touching the right side
	switch e.Operator {
	case OpAnd:
		if !toBool(left) {
			return false, nil
		}
	case OpOr:
		if toBool(left) {
			return true, nil
		}
	}

	right, err := e.Right.Evaluate(vars)
	if err != nil {
		return nil, err
	}

	switch e.Operator {
	case OpEqual:
		return compare(left, right) == 0, nil
	case OpNotEqual:
		return compare(left, right) != 0, nil
	case OpGreaterThan:
		return compare(left, right) > 0, nil
	case OpLessThan:
		return compare(left, right) < 0, nil
	case OpGreaterOrEqual:
		return compare(left, right) >= 0, nil
	case OpLessOrEqual:
		return compare(left, right) <= 0, nil
	case OpContains:
		return strings.Contains(fmt.Sprint(left), fmt.Sprint(right)), nil
	case OpAnd, OpOr:
		return toBool(right), nil
	default:
		return nil, fmt.Errorf("unknown operator: %s", e.Operator)
	}
}

// compare orders numbers numerically and everything else as strings
func compare(a, b any) int {
	ua, aInt := a.(uint64)
	ub, bInt := b.(uint64)
	if aInt && bInt {
		switch {
		case ua < ub:
			return -1
		case ua > ub:
			return 1
		}
		return 0
	}

	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}

	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case nil:
		return false
	case uint64:
		return b != 0
	case float64:
		return b != 0
	case string:
		return b != ""
	}
	return true
}
