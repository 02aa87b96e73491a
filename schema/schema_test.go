package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateSchemaRejectsDuplicateNames(t *testing.T) {
	_, err := CreateSchema(
		Column{Name: "col1", Type: &Int64ColumnType{}},
		Column{Name: "col1", Type: &StringColumnType{}},
	)
	require.NotNil(t, err)
}

func TestOffset(t *testing.T) {
	s := MustCreateSchema(
		Column{Name: "col1", Type: &Int64ColumnType{}},
		Column{Name: "col2", Type: &StringColumnType{}},
	)
	idx, err := s.Offset("col2")
	require.Nil(t, err)
	require.Equal(t, 1, idx)
	_, err = s.Offset("nope")
	require.NotNil(t, err)
	require.True(t, s.HasColumn("col1"))
	require.False(t, s.HasColumn("nope"))
}

func TestProjectPreservesOrderAndTypes(t *testing.T) {
	s := MustCreateSchema(
		Column{Name: "a", Type: &Int64ColumnType{}},
		Column{Name: "b", Type: &Float64ColumnType{}},
		Column{Name: "c", Type: &StringColumnType{}},
	)
	p, err := s.Project("c", "a")
	require.Nil(t, err)
	require.Equal(t, []string{"c", "a"}, p.ColumnNames())
	require.True(t, TypesEqual(&StringColumnType{}, p.Column(0).Type))
	_, err = s.Project("missing")
	require.NotNil(t, err)
}

func TestEquals(t *testing.T) {
	a := MustCreateSchema(Column{Name: "x", Type: &Int32ColumnType{}})
	b := MustCreateSchema(Column{Name: "x", Type: &Int32ColumnType{}})
	c := MustCreateSchema(Column{Name: "x", Type: &Int64ColumnType{}})
	require.Nil(t, a.Equals(b))
	require.NotNil(t, a.Equals(c))
}

func TestConcatRejectsCollidingNames(t *testing.T) {
	a := MustCreateSchema(Column{Name: "x", Type: &Int64ColumnType{}})
	b := MustCreateSchema(Column{Name: "y", Type: &Int64ColumnType{}})
	joined, err := a.Concat(b)
	require.Nil(t, err)
	require.Equal(t, 2, joined.NumColumns())
	_, err = a.Concat(a)
	require.NotNil(t, err)
}

func TestDecimalTypeEquality(t *testing.T) {
	require.True(t, TypesEqual(&DecimalColumnType{Scale: 2}, &DecimalColumnType{Scale: 2}))
	require.False(t, TypesEqual(&DecimalColumnType{Scale: 2}, &DecimalColumnType{Scale: 4}))
	require.True(t, IsNumeric(&DecimalColumnType{Scale: 2}))
	require.False(t, IsNumeric(&StringColumnType{}))
}
