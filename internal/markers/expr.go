package markers

import (
	"strings"

	"github.com/pipwright/pipwright/internal/pep440"
)

// Expr is a node in a parsed marker expression tree.
type Expr interface {
	Eval(env Environment) bool
	String() string
}

// andExpr is true when every operand is true.
type andExpr struct {
	terms []Expr
}

func (e *andExpr) Eval(env Environment) bool {
	for _, t := range e.terms {
		if !t.Eval(env) {
			return false
		}
	}

	return true
}

func (e *andExpr) String() string {
	parts := make([]string, len(e.terms))
	for i, t := range e.terms {
		parts[i] = t.String()
	}

	return strings.Join(parts, " and ")
}

// orExpr is true when any operand is true.
type orExpr struct {
	terms []Expr
}

func (e *orExpr) Eval(env Environment) bool {
	for _, t := range e.terms {
		if t.Eval(env) {
			return true
		}
	}

	return false
}

func (e *orExpr) String() string {
	parts := make([]string, len(e.terms))
	for i, t := range e.terms {
		parts[i] = t.String()
	}

	return strings.Join(parts, " or ")
}

// compareExpr is a single `left OP right` comparison, where left and/or
// right may be a marker variable or a quoted literal.
type compareExpr struct {
	left  operand
	op    string
	right operand
}

type operand struct {
	variable string // marker variable name, empty if literal
	literal  string
}

func (o operand) resolve(env Environment) string {
	if o.variable == "" {
		return o.literal
	}

	v, _ := env.value(o.variable)

	return v
}

func (o operand) isVersion() bool {
	return o.variable != "" && isVersionVariable(o.variable)
}

func (o operand) String() string {
	if o.variable != "" {
		return o.variable
	}

	return `"` + o.literal + `"`
}

func (e *compareExpr) Eval(env Environment) bool {
	left := e.left.resolve(env)
	right := e.right.resolve(env)

	if e.left.isVersion() || e.right.isVersion() {
		if ok, matched := evalVersionCompare(left, e.op, right); ok {
			return matched
		}
	}

	return evalStringCompare(left, e.op, right)
}

func (e *compareExpr) String() string {
	return e.left.String() + " " + e.op + " " + e.right.String()
}

func evalVersionCompare(left, op, right string) (ok, matched bool) {
	lv, err1 := pep440.Parse(left)
	rv, err2 := pep440.Parse(right)

	if err1 != nil || err2 != nil {
		return false, false
	}

	cmp := lv.Compare(rv)

	switch op {
	case ">=":
		return true, cmp >= 0
	case "<=":
		return true, cmp <= 0
	case ">":
		return true, cmp > 0
	case "<":
		return true, cmp < 0
	case "==":
		return true, cmp == 0
	case "!=":
		return true, cmp != 0
	case "~=":
		return true, cmp >= 0 && lv.ReleasePrefixMatches(rv.Release()[:max(0, len(rv.Release())-1)])
	default:
		return false, false
	}
}

func evalStringCompare(left, op, right string) bool {
	switch op {
	case "==":
		return left == right
	case "!=":
		return left != right
	case "in":
		return strings.Contains(right, left)
	case "not in":
		return !strings.Contains(right, left)
	case ">=":
		return left >= right
	case "<=":
		return left <= right
	case ">":
		return left > right
	case "<":
		return left < right
	default:
		return false
	}
}
