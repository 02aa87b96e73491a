package memory

import (
	"testing"

	"github.com/quarrydb/quarry/batch"
	"github.com/quarrydb/quarry/schema"
	"github.com/stretchr/testify/require"
)

func tableSchema() *schema.Schema {
	return schema.MustCreateSchema(
		schema.Column{Name: "id", Type: &schema.Int64ColumnType{}},
		schema.Column{Name: "name", Type: &schema.StringColumnType{}},
	)
}

func TestCreateTableRejectsDuplicates(t *testing.T) {
	ds := CreateDataSource()
	require.Nil(t, ds.CreateTable("t", tableSchema()))
	require.NotNil(t, ds.CreateTable("t", tableSchema()))
}

func TestAppendVerifiesSchema(t *testing.T) {
	ds := CreateDataSource()
	require.Nil(t, ds.CreateTable("t", tableSchema()))

	other := schema.MustCreateSchema(schema.Column{Name: "id", Type: &schema.Int64ColumnType{}})
	require.NotNil(t, ds.Append("t", batch.Empty(other)))
	require.NotNil(t, ds.Append("missing", batch.Empty(tableSchema())))
	require.Nil(t, ds.Append("t", batch.Empty(tableSchema())))
}

func TestScanProjectsAndRestarts(t *testing.T) {
	ds := CreateDataSource()
	s := tableSchema()
	require.Nil(t, ds.CreateTable("t", s))
	bld := batch.NewBuilder(s)
	require.Nil(t, bld.AppendRow(int64(1), "a"))
	require.Nil(t, bld.AppendRow(int64(2), "b"))
	require.Nil(t, ds.Append("t", bld.Build()))

	for attempt := 0; attempt < 2; attempt++ {
		it, err := ds.Scan("t", []string{"name"})
		require.Nil(t, err)
		b, err := it.NextBatch()
		require.Nil(t, err)
		require.Equal(t, []string{"name"}, b.Schema().ColumnNames())
		require.Equal(t, "a", b.Column(0).String(0))
	}
}
