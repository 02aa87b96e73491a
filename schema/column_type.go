package schema

import "fmt"

// ColumnType describes the semantic type of a column within a Schema
type ColumnType interface {
	String() string
}

// BoolColumnType is a boolean column
type BoolColumnType struct{}

// String returns a textual representation of this ColumnType
func (t *BoolColumnType) String() string {
	return "bool"
}

// Int32ColumnType is a 32-bit signed integer column
type Int32ColumnType struct{}

// String returns a textual representation of this ColumnType
func (t *Int32ColumnType) String() string {
	return "int32"
}

// Int64ColumnType is a 64-bit signed integer column
type Int64ColumnType struct{}

// String returns a textual representation of this ColumnType
func (t *Int64ColumnType) String() string {
	return "int64"
}

// Float64ColumnType is a 64-bit floating point column
type Float64ColumnType struct{}

// String returns a textual representation of this ColumnType
func (t *Float64ColumnType) String() string {
	return "float64"
}

// StringColumnType is a variable-length string column
type StringColumnType struct{}

// String returns a textual representation of this ColumnType
func (t *StringColumnType) String() string {
	return "string"
}

// DateColumnType is a day-granularity date column, stored as days since epoch
type DateColumnType struct{}

// String returns a textual representation of this ColumnType
func (t *DateColumnType) String() string {
	return "date"
}

// DecimalColumnType is a fixed-point numeric column. Values are stored
// as unscaled 64-bit integers, so sums over currency-like data do not
// accumulate floating-point drift.
type DecimalColumnType struct {
	Scale int
}

// String returns a textual representation of this ColumnType
func (t *DecimalColumnType) String() string {
	return fmt.Sprintf("decimal(%d)", t.Scale)
}

// TypesEqual returns true iff two ColumnTypes represent the same semantic type
func TypesEqual(a ColumnType, b ColumnType) bool {
	switch at := a.(type) {
	case *DecimalColumnType:
		bt, ok := b.(*DecimalColumnType)
		return ok && at.Scale == bt.Scale
	case *BoolColumnType:
		_, ok := b.(*BoolColumnType)
		return ok
	case *Int32ColumnType:
		_, ok := b.(*Int32ColumnType)
		return ok
	case *Int64ColumnType:
		_, ok := b.(*Int64ColumnType)
		return ok
	case *Float64ColumnType:
		_, ok := b.(*Float64ColumnType)
		return ok
	case *StringColumnType:
		_, ok := b.(*StringColumnType)
		return ok
	case *DateColumnType:
		_, ok := b.(*DateColumnType)
		return ok
	}
	return false
}

// IsNumeric returns true iff a ColumnType supports arithmetic and summation
func IsNumeric(t ColumnType) bool {
	switch t.(type) {
	case *Int32ColumnType, *Int64ColumnType, *Float64ColumnType, *DecimalColumnType:
		return true
	}
	return false
}
