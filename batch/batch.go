package batch

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring"
	"github.com/quarrydb/quarry/schema"
)

// Column is the physical storage for one column of a Batch. Values live
// in one of the typed slices depending on the column's semantic type;
// nulls are tracked in a roaring bitmap (nil when the column has none).
type Column struct {
	typ   schema.ColumnType
	nulls *roaring.Bitmap
	i64   []int64
	f64   []float64
	str   []string
	bl    []bool
}

// Type returns the semantic type of this Column
func (c *Column) Type() schema.ColumnType {
	return c.typ
}

// IsNull returns true iff the value at the given row is null
func (c *Column) IsNull(row int) bool {
	return c.nulls != nil && c.nulls.Contains(uint32(row))
}

// NumNulls returns the number of null values in this Column
func (c *Column) NumNulls() int {
	if c.nulls == nil {
		return 0
	}
	return int(c.nulls.GetCardinality())
}

// Int64 returns the value at the given row for integer-backed columns
// (int32, int64, date, decimal). The result is meaningless for null rows.
func (c *Column) Int64(row int) int64 {
	return c.i64[row]
}

// Float64 returns the value at the given row for float columns
func (c *Column) Float64(row int) float64 {
	return c.f64[row]
}

// String returns the value at the given row for string columns
func (c *Column) String(row int) string {
	return c.str[row]
}

// Bool returns the value at the given row for bool columns
func (c *Column) Bool(row int) bool {
	return c.bl[row]
}

// Batch is an ordered sequence of rows sharing a fixed Schema, stored
// column-major. A Batch is immutable once produced; downstream operators
// derive new Batches instead of modifying one in place, which is what
// makes broadcast sides safe to probe concurrently.
type Batch struct {
	schema *schema.Schema
	length int
	cols   []*Column
}

// Schema returns the Schema shared by every row of this Batch
func (b *Batch) Schema() *schema.Schema {
	return b.schema
}

// Len returns the number of rows in this Batch
func (b *Batch) Len() int {
	return b.length
}

// Column returns the storage for the column at the given index
func (b *Batch) Column(idx int) *Column {
	return b.cols[idx]
}

// Value returns the boxed value at (col, row), or nil if it is null
func (b *Batch) Value(col int, row int) interface{} {
	c := b.cols[col]
	if c.IsNull(row) {
		return nil
	}
	switch c.typ.(type) {
	case *schema.BoolColumnType:
		return c.bl[row]
	case *schema.Float64ColumnType:
		return c.f64[row]
	case *schema.StringColumnType:
		return c.str[row]
	default:
		return c.i64[row]
	}
}

// Row returns the boxed values of one row, in schema order
func (b *Batch) Row(row int) []interface{} {
	vals := make([]interface{}, len(b.cols))
	for i := range b.cols {
		vals[i] = b.Value(i, row)
	}
	return vals
}

// Retain produces a new Batch containing only the rows whose indices are
// set in the selection bitmap, preserving their relative order
func (b *Batch) Retain(sel *roaring.Bitmap) *Batch {
	bld := NewBuilder(b.schema)
	it := sel.Iterator()
	for it.HasNext() {
		row := int(it.Next())
		if err := bld.AppendBatchRow(b, row); err != nil {
			// source rows always match their own schema
			panic(err)
		}
	}
	return bld.Build()
}

// Project returns a Batch restricted to the named columns, sharing the
// underlying column storage with this Batch
func (b *Batch) Project(colNames ...string) (*Batch, error) {
	projected, err := b.schema.Project(colNames...)
	if err != nil {
		return nil, err
	}
	cols := make([]*Column, len(colNames))
	for i, name := range colNames {
		idx, err := b.schema.Offset(name)
		if err != nil {
			return nil, err
		}
		cols[i] = b.cols[idx]
	}
	return &Batch{schema: projected, length: b.length, cols: cols}, nil
}

// Slice returns the contiguous row range [from, to) of this Batch,
// sharing the underlying column value storage
func (b *Batch) Slice(from int, to int) (*Batch, error) {
	if from < 0 || to < from || to > b.length {
		return nil, fmt.Errorf("slice bounds [%d, %d) out of range for %d rows", from, to, b.length)
	}
	cols := make([]*Column, len(b.cols))
	for i, c := range b.cols {
		sliced := &Column{typ: c.typ}
		if c.i64 != nil {
			sliced.i64 = c.i64[from:to]
		}
		if c.f64 != nil {
			sliced.f64 = c.f64[from:to]
		}
		if c.str != nil {
			sliced.str = c.str[from:to]
		}
		if c.bl != nil {
			sliced.bl = c.bl[from:to]
		}
		if c.nulls != nil {
			nulls := roaring.New()
			it := c.nulls.Iterator()
			for it.HasNext() {
				row := int(it.Next())
				if row >= to {
					break
				}
				if row >= from {
					nulls.Add(uint32(row - from))
				}
			}
			if !nulls.IsEmpty() {
				sliced.nulls = nulls
			}
		}
		cols[i] = sliced
	}
	return &Batch{schema: b.schema, length: to - from, cols: cols}, nil
}

// AppendKey appends a canonical byte encoding of the given row projected
// onto the given column indices. Equal keys always produce equal bytes,
// which is what shuffle routing, join lookup and grouping rely on.
func (b *Batch) AppendKey(dst []byte, cols []int, row int) []byte {
	var scratch [8]byte
	for _, colIdx := range cols {
		c := b.cols[colIdx]
		if c.IsNull(row) {
			dst = append(dst, 0x00)
			continue
		}
		dst = append(dst, 0x01)
		switch c.typ.(type) {
		case *schema.BoolColumnType:
			if c.bl[row] {
				dst = append(dst, 1)
			} else {
				dst = append(dst, 0)
			}
		case *schema.Float64ColumnType:
			binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(c.f64[row]))
			dst = append(dst, scratch[:]...)
		case *schema.StringColumnType:
			binary.LittleEndian.PutUint32(scratch[:4], uint32(len(c.str[row])))
			dst = append(dst, scratch[:4]...)
			dst = append(dst, c.str[row]...)
		default:
			binary.LittleEndian.PutUint64(scratch[:], uint64(c.i64[row]))
			dst = append(dst, scratch[:]...)
		}
	}
	return dst
}

// MemSize estimates the number of bytes of memory retained by this Batch
func (b *Batch) MemSize() int64 {
	var size int64
	for _, c := range b.cols {
		switch c.typ.(type) {
		case *schema.BoolColumnType:
			size += int64(len(c.bl))
		case *schema.StringColumnType:
			for _, s := range c.str {
				size += int64(len(s)) + 16
			}
		case *schema.Float64ColumnType:
			size += int64(len(c.f64)) * 8
		default:
			size += int64(len(c.i64)) * 8
		}
		if c.nulls != nil {
			size += int64(c.nulls.GetSizeInBytes())
		}
	}
	return size
}

// Empty returns a zero-row Batch for the given Schema. Empty partitions
// still ship a Batch for bookkeeping, so this is a common case.
func Empty(s *schema.Schema) *Batch {
	return NewBuilder(s).Build()
}

// String returns a short textual description of this Batch
func (b *Batch) String() string {
	return fmt.Sprintf("Batch[%d rows, schema %s]", b.length, b.schema)
}
