package expr

import (
	"fmt"

	"github.com/quarrydb/quarry/errors"
	"github.com/quarrydb/quarry/schema"
)

// Kind discriminates the variants of an Expr. Plans arrive as trees of
// typed nodes, so expressions are a tagged variant dispatched on Kind
// rather than an interface hierarchy.
type Kind int

const (
	// ColumnRefKind reads a named column from the input row
	ColumnRefKind Kind = iota
	// LiteralKind produces a constant value
	LiteralKind
	// CompareKind compares two operands (=, <>, <, <=, >, >=)
	CompareKind
	// LogicalKind combines boolean operands (AND, OR, NOT)
	LogicalKind
	// InKind tests membership of an operand in a literal set
	InKind
	// CaseKind selects the first matching WHEN branch's value
	CaseKind
	// ArithmeticKind combines two numeric operands (+, -, *)
	ArithmeticKind
)

// Op names a comparison, logical or arithmetic operator
type Op int

// Operators usable in Compare, Logical and Arithmetic expressions
const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpNot
	OpAdd
	OpSub
	OpMul
)

// When is one branch of a CASE expression
type When struct {
	Cond *Expr
	Then *Expr
}

// Expr is a physical expression over the rows of a Batch. Exactly the
// fields relevant to Kind are populated.
type Expr struct {
	Kind     Kind
	Col      string
	Lit      interface{}
	LitType  schema.ColumnType
	Op       Op
	Children []*Expr
	Whens    []When
	Else     *Expr
	Set      []interface{}
}

// Col references a named input column
func Col(name string) *Expr {
	return &Expr{Kind: ColumnRefKind, Col: name}
}

// Lit produces a typed constant
func Lit(v interface{}, t schema.ColumnType) *Expr {
	return &Expr{Kind: LiteralKind, Lit: v, LitType: t}
}

// Eq compares two operands for equality
func Eq(l *Expr, r *Expr) *Expr {
	return &Expr{Kind: CompareKind, Op: OpEq, Children: []*Expr{l, r}}
}

// Compare builds a comparison with an explicit operator
func Compare(op Op, l *Expr, r *Expr) *Expr {
	return &Expr{Kind: CompareKind, Op: op, Children: []*Expr{l, r}}
}

// And requires both operands to hold
func And(l *Expr, r *Expr) *Expr {
	return &Expr{Kind: LogicalKind, Op: OpAnd, Children: []*Expr{l, r}}
}

// Or requires either operand to hold
func Or(l *Expr, r *Expr) *Expr {
	return &Expr{Kind: LogicalKind, Op: OpOr, Children: []*Expr{l, r}}
}

// Not negates its operand
func Not(e *Expr) *Expr {
	return &Expr{Kind: LogicalKind, Op: OpNot, Children: []*Expr{e}}
}

// In tests membership of an operand in a set of literal values
func In(e *Expr, vals ...interface{}) *Expr {
	return &Expr{Kind: InKind, Children: []*Expr{e}, Set: vals}
}

// Case selects the first WHEN branch whose condition holds, the ELSE
// branch if none do, or null when there is no ELSE. A conditional sum
// ("sum this value only when the day column equals Sunday") is a Sum
// aggregate over a Case with no ELSE.
func Case(whens []When, elseExpr *Expr) *Expr {
	return &Expr{Kind: CaseKind, Whens: whens, Else: elseExpr}
}

// Arith builds an arithmetic expression with an explicit operator
func Arith(op Op, l *Expr, r *Expr) *Expr {
	return &Expr{Kind: ArithmeticKind, Op: op, Children: []*Expr{l, r}}
}

// String returns a textual representation of this Expr
func (e *Expr) String() string {
	switch e.Kind {
	case ColumnRefKind:
		return e.Col
	case LiteralKind:
		if s, ok := e.Lit.(string); ok {
			return fmt.Sprintf("'%s'", s)
		}
		return fmt.Sprintf("%v", e.Lit)
	case CompareKind, ArithmeticKind:
		return fmt.Sprintf("(%s %s %s)", e.Children[0], opString(e.Op), e.Children[1])
	case LogicalKind:
		if e.Op == OpNot {
			return fmt.Sprintf("(NOT %s)", e.Children[0])
		}
		return fmt.Sprintf("(%s %s %s)", e.Children[0], opString(e.Op), e.Children[1])
	case InKind:
		return fmt.Sprintf("(%s IN %v)", e.Children[0], e.Set)
	case CaseKind:
		return "CASE"
	}
	return "?"
}

func opString(op Op) string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "<>"
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	case OpNot:
		return "NOT"
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	}
	return "?"
}

// TypeCheck resolves the output type of this Expr against an input
// Schema, returning a PlanValidationError on any mismatch
func (e *Expr) TypeCheck(in *schema.Schema) (schema.ColumnType, error) {
	switch e.Kind {
	case ColumnRefKind:
		idx, err := in.Offset(e.Col)
		if err != nil {
			return nil, errors.PlanValidationError{Node: e.String(), Reason: err.Error()}
		}
		return in.Column(idx).Type, nil
	case LiteralKind:
		if e.LitType == nil {
			return nil, errors.PlanValidationError{Node: e.String(), Reason: "literal has no declared type"}
		}
		return e.LitType, nil
	case CompareKind:
		lt, err := e.Children[0].TypeCheck(in)
		if err != nil {
			return nil, err
		}
		rt, err := e.Children[1].TypeCheck(in)
		if err != nil {
			return nil, err
		}
		if !schema.TypesEqual(lt, rt) {
			return nil, errors.PlanValidationError{
				Node:   e.String(),
				Reason: fmt.Sprintf("cannot compare %s with %s", lt, rt),
			}
		}
		return &schema.BoolColumnType{}, nil
	case LogicalKind:
		for _, child := range e.Children {
			ct, err := child.TypeCheck(in)
			if err != nil {
				return nil, err
			}
			if _, ok := ct.(*schema.BoolColumnType); !ok {
				return nil, errors.PlanValidationError{
					Node:   e.String(),
					Reason: fmt.Sprintf("logical operand has type %s, expected bool", ct),
				}
			}
		}
		return &schema.BoolColumnType{}, nil
	case InKind:
		if _, err := e.Children[0].TypeCheck(in); err != nil {
			return nil, err
		}
		return &schema.BoolColumnType{}, nil
	case CaseKind:
		var result schema.ColumnType
		for _, w := range e.Whens {
			ct, err := w.Cond.TypeCheck(in)
			if err != nil {
				return nil, err
			}
			if _, ok := ct.(*schema.BoolColumnType); !ok {
				return nil, errors.PlanValidationError{
					Node:   e.String(),
					Reason: fmt.Sprintf("CASE condition has type %s, expected bool", ct),
				}
			}
			tt, err := w.Then.TypeCheck(in)
			if err != nil {
				return nil, err
			}
			if result == nil {
				result = tt
			} else if !schema.TypesEqual(result, tt) {
				return nil, errors.PlanValidationError{
					Node:   e.String(),
					Reason: fmt.Sprintf("CASE branches have mixed types %s and %s", result, tt),
				}
			}
		}
		if e.Else != nil {
			et, err := e.Else.TypeCheck(in)
			if err != nil {
				return nil, err
			}
			if result != nil && !schema.TypesEqual(result, et) {
				return nil, errors.PlanValidationError{
					Node:   e.String(),
					Reason: fmt.Sprintf("CASE ELSE has type %s, branches have %s", et, result),
				}
			}
			if result == nil {
				result = et
			}
		}
		if result == nil {
			return nil, errors.PlanValidationError{Node: e.String(), Reason: "CASE has no branches"}
		}
		return result, nil
	case ArithmeticKind:
		lt, err := e.Children[0].TypeCheck(in)
		if err != nil {
			return nil, err
		}
		rt, err := e.Children[1].TypeCheck(in)
		if err != nil {
			return nil, err
		}
		if !schema.IsNumeric(lt) || !schema.IsNumeric(rt) || !schema.TypesEqual(lt, rt) {
			return nil, errors.PlanValidationError{
				Node:   e.String(),
				Reason: fmt.Sprintf("cannot apply %s to %s and %s", opString(e.Op), lt, rt),
			}
		}
		return lt, nil
	}
	return nil, errors.PlanValidationError{Node: e.String(), Reason: "unknown expression kind"}
}
