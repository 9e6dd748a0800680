// Package query evaluates record predicates such as
//
//	type == "gps" && timestamp >= 1700000000000000 && payload contains "fix"
//
// Fields: index, timestamp, size, type (registered name), type_id, payload.
package query

import (
	"fmt"

	"github.com/polysync/rnr/internal/rnrerr"
)

// Operator represents a logical or comparison operator
type Operator string

const (
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
	OpGreaterThan    Operator = ">"
	OpLessThan       Operator = "<"
	OpGreaterOrEqual Operator = ">="
	OpLessOrEqual    Operator = "<="
	OpContains       Operator = "contains"
	OpAnd            Operator = "&&"
	OpOr             Operator = "||"
)

// Record field names
const (
	FieldIndex     = "index"
	FieldTimestamp = "timestamp"
	FieldSize      = "size"
	FieldType      = "type"
	FieldTypeID    = "type_id"
	FieldPayload   = "payload"
)

var fields = map[string]bool{
	FieldIndex:     true,
	FieldTimestamp: true,
	FieldSize:      true,
	FieldType:      true,
	FieldTypeID:    true,
	FieldPayload:   true,
}

// Expression is a node of a parsed predicate
type Expression interface {
	Evaluate(vars Vars) (any, error)
}

// Vars binds field names to the values of one record. Numeric fields are
// uint64, type and payload are strings.
type Vars map[string]any

// BinaryExpression represents a binary operation (e.g., A == B)
type BinaryExpression struct {
	Left     Expression
	Operator Operator
	Right    Expression
}

// Literal is a constant: string, uint64 or float64
type Literal struct {
	Value any
}

func (l *Literal) Evaluate(Vars) (any, error) {
	return l.Value, nil
}

// Field is a record field reference
type Field struct {
	Name string
}

func (f *Field) Evaluate(vars Vars) (any, error) {
	return vars[f.Name], nil
}

// SyntaxError reports an expression that does not parse
type SyntaxError struct {
	Expr   string
	Offset int
	Reason string
}

func (e SyntaxError) Error() string {
	return fmt.Sprintf("invalid expression %q at offset %d: %s", e.Expr, e.Offset, e.Reason)
}

// Kind implements rnrerr.Kinded
func (e SyntaxError) Kind() rnrerr.Kind { return rnrerr.KindConfig }
