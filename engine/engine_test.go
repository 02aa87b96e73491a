package engine

import (
	"context"
	"testing"

	"github.com/quarrydb/quarry/batch"
	"github.com/quarrydb/quarry/datasource"
	"github.com/quarrydb/quarry/datasource/memory"
	"github.com/quarrydb/quarry/errors"
	"github.com/quarrydb/quarry/expr"
	"github.com/quarrydb/quarry/plan"
	"github.com/quarrydb/quarry/schema"
	"github.com/quarrydb/quarry/stats"
	"github.com/stretchr/testify/require"
)

// testEnv builds a single-partition Env over an in-memory DataSource
func testEnv(source datasource.DataSource) *Env {
	return &Env{
		Ctx:             context.Background(),
		Source:          source,
		Partition:       0,
		ScanPartitions:  1,
		MaxRowsPerBatch: 1024,
	}
}

// drainRows pulls every row of a pipeline as boxed values
func drainRows(t *testing.T, it datasource.BatchIterator) [][]interface{} {
	var rows [][]interface{}
	for {
		b, err := it.NextBatch()
		if err != nil {
			require.True(t, errors.IsNoMoreBatches(err))
			return rows
		}
		for row := 0; row < b.Len(); row++ {
			rows = append(rows, b.Row(row))
		}
	}
}

func exprCol(name string) *expr.Expr {
	return expr.Col(name)
}

func exprMulInt(col string, by int64) *expr.Expr {
	return expr.Arith(expr.OpMul, expr.Col(col), expr.Lit(by, &schema.Int64ColumnType{}))
}

func salesSource(t *testing.T) *memory.DataSource {
	ds := memory.CreateDataSource()
	s := schema.MustCreateSchema(
		schema.Column{Name: "k", Type: &schema.StringColumnType{}},
		schema.Column{Name: "n", Type: &schema.Int64ColumnType{}},
	)
	require.Nil(t, ds.CreateTable("sales", s))
	bld := batch.NewBuilder(s)
	require.Nil(t, bld.AppendRow("a", int64(1)))
	require.Nil(t, bld.AppendRow("b", int64(2)))
	require.Nil(t, bld.AppendRow("a", int64(3)))
	require.Nil(t, ds.Append("sales", bld.Build()))
	require.Nil(t, bld.AppendRow("b", int64(4)))
	require.Nil(t, bld.AppendRow("c", nil))
	require.Nil(t, ds.Append("sales", bld.Build()))
	return ds
}

func TestScanSplitsBatchesAcrossPartitions(t *testing.T) {
	ds := salesSource(t)
	node := plan.NewScan("sales", "k", "n")
	require.Nil(t, plan.Validate(node, ds))

	total := 0
	for partition := 0; partition < 2; partition++ {
		env := testEnv(ds)
		env.Partition = partition
		env.ScanPartitions = 2
		it, err := Build(env, node)
		require.Nil(t, err)
		total += len(drainRows(t, it))
	}
	// every input row is consumed by exactly one task
	require.Equal(t, 5, total)
}

func TestProjectEvaluatesExpressions(t *testing.T) {
	ds := salesSource(t)
	node := plan.NewProject(plan.NewScan("sales", "k", "n"),
		plan.Projection{Name: "k", Expr: exprCol("k")},
		plan.Projection{Name: "doubled", Expr: exprMulInt("n", 2)},
	)
	require.Nil(t, plan.Validate(node, ds))
	it, err := Build(testEnv(ds), node)
	require.Nil(t, err)
	rows := drainRows(t, it)
	require.Equal(t, 5, len(rows))
	require.Equal(t, []interface{}{"a", int64(2)}, rows[0])
	// null input stays null through arithmetic
	require.Equal(t, []interface{}{"c", nil}, rows[4])
}

func TestUnionConcatenatesInputs(t *testing.T) {
	ds := salesSource(t)
	node := plan.NewUnion(plan.NewScan("sales", "k", "n"), plan.NewScan("sales", "k", "n"))
	require.Nil(t, plan.Validate(node, ds))
	it, err := Build(testEnv(ds), node)
	require.Nil(t, err)
	require.Equal(t, 10, len(drainRows(t, it)))
}

func TestOperatorStatsCountRowsInAndOut(t *testing.T) {
	ds := salesSource(t)
	node := plan.NewFilter(plan.NewScan("sales", "k", "n"),
		expr.Compare(expr.OpGe, expr.Col("n"), expr.Lit(int64(3), &schema.Int64ColumnType{})))
	require.Nil(t, plan.Validate(node, ds))

	env := testEnv(ds)
	env.Stats = stats.CreateRunStatistics()
	it, err := Build(env, node)
	require.Nil(t, err)
	require.Equal(t, 2, len(drainRows(t, it)))

	byName := make(map[string][2]int64)
	for _, op := range env.Stats.Summarize().Operators {
		byName[op.Name] = [2]int64{op.RowsIn, op.RowsOut}
	}
	// the scan reads externally, the filter consumed all five scan rows
	require.Equal(t, [2]int64{0, 5}, byName["Scan"])
	require.Equal(t, [2]int64{5, 2}, byName["Filter"])
}

func TestSortOrdersRowsNullsFirst(t *testing.T) {
	ds := salesSource(t)
	node := plan.NewSort(plan.NewScan("sales", "k", "n"), plan.Ordering{Col: "n", Desc: true})
	require.Nil(t, plan.Validate(node, ds))
	it, err := Build(testEnv(ds), node)
	require.Nil(t, err)
	rows := drainRows(t, it)
	require.Equal(t, 5, len(rows))
	require.Equal(t, int64(4), rows[0][1])
	require.Equal(t, int64(1), rows[3][1])
	// nulls sort first, so descending order puts them last
	require.Nil(t, rows[4][1])
}
