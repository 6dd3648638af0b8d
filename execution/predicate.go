package execution

import (
	"fmt"
	"strings"

	"mit.edu/dsg/heapdb/common"
	"mit.edu/dsg/heapdb/storage"
)

type ComparisonType int

const (
	Equal ComparisonType = iota
	NotEqual
	GreaterThan
	LessThan
	GreaterThanOrEqual
	LessThanOrEqual
	// Like is substring containment for strings and equality for ints.
	Like
)

func (c ComparisonType) String() string {
	switch c {
	case Equal:
		return "="
	case NotEqual:
		return "<>"
	case GreaterThan:
		return ">"
	case LessThan:
		return "<"
	case GreaterThanOrEqual:
		return ">="
	case LessThanOrEqual:
		return "<="
	case Like:
		return "LIKE"
	}
	return "???"
}

// ParseComparison maps an operator token such as "<=" or "like" to its ComparisonType.
func ParseComparison(s string) (ComparisonType, error) {
	switch strings.ToUpper(s) {
	case "=", "==":
		return Equal, nil
	case "<>", "!=":
		return NotEqual, nil
	case ">":
		return GreaterThan, nil
	case "<":
		return LessThan, nil
	case ">=":
		return GreaterThanOrEqual, nil
	case "<=":
		return LessThanOrEqual, nil
	case "LIKE":
		return Like, nil
	}
	return 0, common.Errorf(common.IllegalOperationError, "unknown comparison operator %q", s)
}

// Compare applies op to a and b, which must have the same type.
func Compare(a storage.Field, op ComparisonType, b storage.Field) bool {
	if op == Like {
		if a.Type() == common.StringType {
			return strings.Contains(a.StringValue(), b.StringValue())
		}
		return a.Compare(b) == 0
	}

	cmp := a.Compare(b)
	switch op {
	case Equal:
		return cmp == 0
	case NotEqual:
		return cmp != 0
	case GreaterThan:
		return cmp > 0
	case LessThan:
		return cmp < 0
	case GreaterThanOrEqual:
		return cmp >= 0
	case LessThanOrEqual:
		return cmp <= 0
	}
	return false
}

// Predicate compares one field of a tuple against a constant operand.
type Predicate struct {
	Field   int
	Op      ComparisonType
	Operand storage.Field
}

func NewPredicate(field int, op ComparisonType, operand storage.Field) Predicate {
	return Predicate{Field: field, Op: op, Operand: operand}
}

// Filter reports whether t satisfies the predicate.
func (p Predicate) Filter(t *storage.Tuple) bool {
	return Compare(t.Field(p.Field), p.Op, p.Operand)
}

func (p Predicate) String() string {
	return fmt.Sprintf("(f%d %s %s)", p.Field, p.Op, p.Operand)
}
