package expr

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/quarrydb/quarry/batch"
	"github.com/quarrydb/quarry/schema"
)

// ValueKind discriminates the runtime representation of a Value
type ValueKind int

const (
	// IntValue backs int32, int64, date and decimal (unscaled) values
	IntValue ValueKind = iota
	// FloatValue backs float64 values
	FloatValue
	// StringValue backs string values
	StringValue
	// BoolValue backs boolean values
	BoolValue
)

// Value is the result of evaluating an Expr against one row
type Value struct {
	Null  bool
	Kind  ValueKind
	Int   int64
	Float float64
	Str   string
	Bool  bool
}

// NullValue returns a null Value of the given kind
func NullValue(kind ValueKind) Value {
	return Value{Null: true, Kind: kind}
}

// Boxed returns this Value as a boxed interface value, nil when null
func (v Value) Boxed() interface{} {
	if v.Null {
		return nil
	}
	switch v.Kind {
	case FloatValue:
		return v.Float
	case StringValue:
		return v.Str
	case BoolValue:
		return v.Bool
	default:
		return v.Int
	}
}

// KindOf maps a ColumnType to its runtime ValueKind
func KindOf(t schema.ColumnType) ValueKind {
	switch t.(type) {
	case *schema.Float64ColumnType:
		return FloatValue
	case *schema.StringColumnType:
		return StringValue
	case *schema.BoolColumnType:
		return BoolValue
	default:
		return IntValue
	}
}

// Evaluate computes this Expr against one row of a Batch. Expressions
// are assumed to have passed TypeCheck against the Batch's Schema.
func (e *Expr) Evaluate(b *batch.Batch, row int) (Value, error) {
	switch e.Kind {
	case ColumnRefKind:
		idx, err := b.Schema().Offset(e.Col)
		if err != nil {
			return Value{}, err
		}
		return columnValue(b.Column(idx), row), nil
	case LiteralKind:
		return boxLiteral(e.Lit, e.LitType)
	case CompareKind:
		l, err := e.Children[0].Evaluate(b, row)
		if err != nil {
			return Value{}, err
		}
		r, err := e.Children[1].Evaluate(b, row)
		if err != nil {
			return Value{}, err
		}
		// SQL three-valued logic collapses to false at predicate boundaries
		if l.Null || r.Null {
			return NullValue(BoolValue), nil
		}
		cmp, err := compareValues(l, r)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: BoolValue, Bool: opHolds(e.Op, cmp)}, nil
	case LogicalKind:
		if e.Op == OpNot {
			v, err := e.Children[0].Evaluate(b, row)
			if err != nil {
				return Value{}, err
			}
			if v.Null {
				return v, nil
			}
			return Value{Kind: BoolValue, Bool: !v.Bool}, nil
		}
		l, err := e.Children[0].Evaluate(b, row)
		if err != nil {
			return Value{}, err
		}
		r, err := e.Children[1].Evaluate(b, row)
		if err != nil {
			return Value{}, err
		}
		if l.Null || r.Null {
			return NullValue(BoolValue), nil
		}
		if e.Op == OpAnd {
			return Value{Kind: BoolValue, Bool: l.Bool && r.Bool}, nil
		}
		return Value{Kind: BoolValue, Bool: l.Bool || r.Bool}, nil
	case InKind:
		v, err := e.Children[0].Evaluate(b, row)
		if err != nil {
			return Value{}, err
		}
		if v.Null {
			return NullValue(BoolValue), nil
		}
		for _, lit := range e.Set {
			if literalEquals(v, lit) {
				return Value{Kind: BoolValue, Bool: true}, nil
			}
		}
		return Value{Kind: BoolValue, Bool: false}, nil
	case CaseKind:
		for _, w := range e.Whens {
			cond, err := w.Cond.Evaluate(b, row)
			if err != nil {
				return Value{}, err
			}
			if !cond.Null && cond.Bool {
				return w.Then.Evaluate(b, row)
			}
		}
		if e.Else != nil {
			return e.Else.Evaluate(b, row)
		}
		// no ELSE: the branch kind is unknown here, but a null Int
		// merges identically for every accumulator
		return NullValue(IntValue), nil
	case ArithmeticKind:
		l, err := e.Children[0].Evaluate(b, row)
		if err != nil {
			return Value{}, err
		}
		r, err := e.Children[1].Evaluate(b, row)
		if err != nil {
			return Value{}, err
		}
		if l.Null || r.Null {
			return NullValue(l.Kind), nil
		}
		return arith(e.Op, l, r)
	}
	return Value{}, fmt.Errorf("Unknown expression kind %d", e.Kind)
}

// EvalPredicate computes a boolean Expr over every row of a Batch,
// returning the selection bitmap of rows where it holds. Null predicate
// results deselect the row.
func (e *Expr) EvalPredicate(b *batch.Batch) (*roaring.Bitmap, error) {
	sel := roaring.New()
	for row := 0; row < b.Len(); row++ {
		v, err := e.Evaluate(b, row)
		if err != nil {
			return nil, err
		}
		if !v.Null && v.Bool {
			sel.Add(uint32(row))
		}
	}
	return sel, nil
}

func columnValue(c *batch.Column, row int) Value {
	kind := KindOf(c.Type())
	if c.IsNull(row) {
		return NullValue(kind)
	}
	switch kind {
	case FloatValue:
		return Value{Kind: FloatValue, Float: c.Float64(row)}
	case StringValue:
		return Value{Kind: StringValue, Str: c.String(row)}
	case BoolValue:
		return Value{Kind: BoolValue, Bool: c.Bool(row)}
	default:
		return Value{Kind: IntValue, Int: c.Int64(row)}
	}
}

func boxLiteral(lit interface{}, t schema.ColumnType) (Value, error) {
	kind := KindOf(t)
	if lit == nil {
		return NullValue(kind), nil
	}
	switch kind {
	case FloatValue:
		f, ok := lit.(float64)
		if !ok {
			return Value{}, fmt.Errorf("Literal %v is not valid for type %s", lit, t)
		}
		return Value{Kind: FloatValue, Float: f}, nil
	case StringValue:
		s, ok := lit.(string)
		if !ok {
			return Value{}, fmt.Errorf("Literal %v is not valid for type %s", lit, t)
		}
		return Value{Kind: StringValue, Str: s}, nil
	case BoolValue:
		b, ok := lit.(bool)
		if !ok {
			return Value{}, fmt.Errorf("Literal %v is not valid for type %s", lit, t)
		}
		return Value{Kind: BoolValue, Bool: b}, nil
	default:
		switch iv := lit.(type) {
		case int:
			return Value{Kind: IntValue, Int: int64(iv)}, nil
		case int32:
			return Value{Kind: IntValue, Int: int64(iv)}, nil
		case int64:
			return Value{Kind: IntValue, Int: iv}, nil
		}
		return Value{}, fmt.Errorf("Literal %v is not valid for type %s", lit, t)
	}
}

// compareValues returns -1, 0 or 1 for ordered kinds
func compareValues(l Value, r Value) (int, error) {
	if l.Kind != r.Kind {
		return 0, fmt.Errorf("Cannot compare values of different kinds")
	}
	switch l.Kind {
	case IntValue:
		switch {
		case l.Int < r.Int:
			return -1, nil
		case l.Int > r.Int:
			return 1, nil
		}
		return 0, nil
	case FloatValue:
		switch {
		case l.Float < r.Float:
			return -1, nil
		case l.Float > r.Float:
			return 1, nil
		}
		return 0, nil
	case StringValue:
		switch {
		case l.Str < r.Str:
			return -1, nil
		case l.Str > r.Str:
			return 1, nil
		}
		return 0, nil
	case BoolValue:
		switch {
		case !l.Bool && r.Bool:
			return -1, nil
		case l.Bool && !r.Bool:
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("Unknown value kind %d", l.Kind)
}

func opHolds(op Op, cmp int) bool {
	switch op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	}
	return false
}

func literalEquals(v Value, lit interface{}) bool {
	switch v.Kind {
	case IntValue:
		switch iv := lit.(type) {
		case int:
			return v.Int == int64(iv)
		case int32:
			return v.Int == int64(iv)
		case int64:
			return v.Int == iv
		}
	case FloatValue:
		f, ok := lit.(float64)
		return ok && v.Float == f
	case StringValue:
		s, ok := lit.(string)
		return ok && v.Str == s
	case BoolValue:
		b, ok := lit.(bool)
		return ok && v.Bool == b
	}
	return false
}

func arith(op Op, l Value, r Value) (Value, error) {
	switch l.Kind {
	case IntValue:
		switch op {
		case OpAdd:
			return Value{Kind: IntValue, Int: l.Int + r.Int}, nil
		case OpSub:
			return Value{Kind: IntValue, Int: l.Int - r.Int}, nil
		case OpMul:
			return Value{Kind: IntValue, Int: l.Int * r.Int}, nil
		}
	case FloatValue:
		switch op {
		case OpAdd:
			return Value{Kind: FloatValue, Float: l.Float + r.Float}, nil
		case OpSub:
			return Value{Kind: FloatValue, Float: l.Float - r.Float}, nil
		case OpMul:
			return Value{Kind: FloatValue, Float: l.Float * r.Float}, nil
		}
	}
	return Value{}, fmt.Errorf("Operator %s is not valid for this value kind", opString(op))
}
