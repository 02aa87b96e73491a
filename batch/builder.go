package batch

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/quarrydb/quarry/schema"
)

// Builder accumulates rows for a new Batch. Builders are not safe for
// concurrent use; each task builds its own output Batches.
type Builder struct {
	schema *schema.Schema
	length int
	cols   []*Column
}

// NewBuilder is a factory for Builders over a given Schema
func NewBuilder(s *schema.Schema) *Builder {
	cols := make([]*Column, s.NumColumns())
	for i := range cols {
		cols[i] = &Column{typ: s.Column(i).Type}
	}
	return &Builder{schema: s, cols: cols}
}

// Len returns the number of rows appended so far
func (bld *Builder) Len() int {
	return bld.length
}

// AppendRow appends one row of boxed values in schema order. A nil value
// is recorded as null. Integer-backed columns accept int, int32 and int64.
func (bld *Builder) AppendRow(vals ...interface{}) error {
	if len(vals) != len(bld.cols) {
		return fmt.Errorf("Row width %d does not match Schema width %d", len(vals), len(bld.cols))
	}
	for i, v := range vals {
		if err := bld.appendValue(i, v); err != nil {
			return err
		}
	}
	bld.length++
	return nil
}

// AppendBatchRow appends one row copied from a source Batch with an
// identical column layout
func (bld *Builder) AppendBatchRow(src *Batch, row int) error {
	if len(src.cols) != len(bld.cols) {
		return fmt.Errorf("Source width %d does not match Schema width %d", len(src.cols), len(bld.cols))
	}
	for i, c := range src.cols {
		bld.copyValue(i, c, row)
	}
	bld.length++
	return nil
}

// AppendJoinedRow appends a row combining a left-side row with a right-side
// row. A nil right Batch null-pads the right-hand columns, which is how
// left-outer probe misses are emitted.
func (bld *Builder) AppendJoinedRow(left *Batch, lrow int, right *Batch, rrow int) error {
	nright := len(bld.cols) - len(left.cols)
	if nright < 0 || (right != nil && nright != len(right.cols)) {
		return fmt.Errorf("Joined row width does not match Schema width %d", len(bld.cols))
	}
	for i, c := range left.cols {
		bld.copyValue(i, c, lrow)
	}
	for i := 0; i < nright; i++ {
		if right == nil {
			bld.appendNull(len(left.cols) + i)
		} else {
			bld.copyValue(len(left.cols)+i, right.cols[i], rrow)
		}
	}
	bld.length++
	return nil
}

// Build produces the accumulated Batch and resets the Builder
func (bld *Builder) Build() *Batch {
	b := &Batch{schema: bld.schema, length: bld.length, cols: bld.cols}
	cols := make([]*Column, bld.schema.NumColumns())
	for i := range cols {
		cols[i] = &Column{typ: bld.schema.Column(i).Type}
	}
	bld.cols = cols
	bld.length = 0
	return b
}

func (bld *Builder) appendNull(col int) {
	c := bld.cols[col]
	if c.nulls == nil {
		c.nulls = roaring.New()
	}
	c.nulls.Add(uint32(bld.length))
	// keep value slices dense so row indices stay aligned
	switch c.typ.(type) {
	case *schema.BoolColumnType:
		c.bl = append(c.bl, false)
	case *schema.Float64ColumnType:
		c.f64 = append(c.f64, 0)
	case *schema.StringColumnType:
		c.str = append(c.str, "")
	default:
		c.i64 = append(c.i64, 0)
	}
}

func (bld *Builder) appendValue(col int, v interface{}) error {
	if v == nil {
		bld.appendNull(col)
		return nil
	}
	c := bld.cols[col]
	switch c.typ.(type) {
	case *schema.BoolColumnType:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("Value %v is not valid for column type %s", v, c.typ)
		}
		c.bl = append(c.bl, b)
	case *schema.Float64ColumnType:
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("Value %v is not valid for column type %s", v, c.typ)
		}
		c.f64 = append(c.f64, f)
	case *schema.StringColumnType:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("Value %v is not valid for column type %s", v, c.typ)
		}
		c.str = append(c.str, s)
	default:
		switch iv := v.(type) {
		case int:
			c.i64 = append(c.i64, int64(iv))
		case int32:
			c.i64 = append(c.i64, int64(iv))
		case int64:
			c.i64 = append(c.i64, iv)
		default:
			return fmt.Errorf("Value %v is not valid for column type %s", v, c.typ)
		}
	}
	return nil
}

func (bld *Builder) copyValue(col int, src *Column, row int) {
	if src.IsNull(row) {
		bld.appendNull(col)
		return
	}
	c := bld.cols[col]
	switch c.typ.(type) {
	case *schema.BoolColumnType:
		c.bl = append(c.bl, src.bl[row])
	case *schema.Float64ColumnType:
		c.f64 = append(c.f64, src.f64[row])
	case *schema.StringColumnType:
		c.str = append(c.str, src.str[row])
	default:
		c.i64 = append(c.i64, src.i64[row])
	}
}
