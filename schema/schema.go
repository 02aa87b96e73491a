package schema

import (
	"fmt"
	"strings"
)

// Column is a named, typed position within a Schema
type Column struct {
	Name string
	Type ColumnType
}

// Schema is an ordered sequence of (column name, semantic type) pairs.
// A Schema is stable for the lifetime of a Stage, and is shared (not
// copied) by every Batch produced under it.
type Schema struct {
	cols   []Column
	byName map[string]int
}

// CreateSchema is a factory for Schemas, rejecting duplicate column names
func CreateSchema(cols ...Column) (*Schema, error) {
	s := &Schema{
		cols:   make([]Column, 0, len(cols)),
		byName: make(map[string]int, len(cols)),
	}
	for _, col := range cols {
		if _, exists := s.byName[col.Name]; exists {
			return nil, fmt.Errorf("Schema already contains a column named %s", col.Name)
		}
		s.byName[col.Name] = len(s.cols)
		s.cols = append(s.cols, col)
	}
	return s, nil
}

// MustCreateSchema is CreateSchema for statically-known column lists, panicking on error
func MustCreateSchema(cols ...Column) *Schema {
	s, err := CreateSchema(cols...)
	if err != nil {
		panic(err)
	}
	return s
}

// NumColumns returns the number of columns in this Schema
func (s *Schema) NumColumns() int {
	return len(s.cols)
}

// Column returns the Column at a given index
func (s *Schema) Column(idx int) Column {
	return s.cols[idx]
}

// Offset returns the index of a named column, or an error if it does not exist
func (s *Schema) Offset(colName string) (int, error) {
	idx, ok := s.byName[colName]
	if !ok {
		return -1, fmt.Errorf("Schema does not contain a column named %s", colName)
	}
	return idx, nil
}

// HasColumn returns true iff this Schema contains a column with the given name
func (s *Schema) HasColumn(colName string) bool {
	_, ok := s.byName[colName]
	return ok
}

// ColumnNames returns the names of the columns in this Schema, in order
func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.cols))
	for i, col := range s.cols {
		names[i] = col.Name
	}
	return names
}

// ColumnTypes returns the types of the columns in this Schema, in order
func (s *Schema) ColumnTypes() []ColumnType {
	types := make([]ColumnType, len(s.cols))
	for i, col := range s.cols {
		types[i] = col.Type
	}
	return types
}

// Equals returns nil iff this and another Schema have identical column sequences
func (s *Schema) Equals(other *Schema) error {
	if len(s.cols) != len(other.cols) {
		return fmt.Errorf("Schemas have unequal numbers of columns: %d vs %d", len(s.cols), len(other.cols))
	}
	for i, col := range s.cols {
		if col.Name != other.cols[i].Name {
			return fmt.Errorf("Column %d names do not match: %s vs %s", i, col.Name, other.cols[i].Name)
		}
		if !TypesEqual(col.Type, other.cols[i].Type) {
			return fmt.Errorf("Column %s types do not match: %s vs %s", col.Name, col.Type, other.cols[i].Type)
		}
	}
	return nil
}

// Clone returns a copy of this Schema
func (s *Schema) Clone() *Schema {
	clone, err := CreateSchema(s.cols...)
	if err != nil {
		// cols came from a valid Schema, so duplicates are impossible
		panic(err)
	}
	return clone
}

// Project returns a new Schema containing the named columns, in the given order
func (s *Schema) Project(colNames ...string) (*Schema, error) {
	cols := make([]Column, len(colNames))
	for i, name := range colNames {
		idx, err := s.Offset(name)
		if err != nil {
			return nil, err
		}
		cols[i] = s.cols[idx]
	}
	return CreateSchema(cols...)
}

// Concat returns a new Schema with this Schema's columns followed by another's.
// Used to derive join output schemas, so colliding names are an error.
func (s *Schema) Concat(other *Schema) (*Schema, error) {
	cols := make([]Column, 0, len(s.cols)+len(other.cols))
	cols = append(cols, s.cols...)
	cols = append(cols, other.cols...)
	return CreateSchema(cols...)
}

// String returns a textual representation of this Schema
func (s *Schema) String() string {
	var sb strings.Builder
	sb.WriteString("(")
	for i, col := range s.cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s %s", col.Name, col.Type)
	}
	sb.WriteString(")")
	return sb.String()
}
