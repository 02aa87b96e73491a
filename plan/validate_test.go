package plan

import (
	"strings"
	"testing"

	"github.com/quarrydb/quarry/errors"
	"github.com/quarrydb/quarry/expr"
	"github.com/quarrydb/quarry/schema"
	"github.com/stretchr/testify/require"
)

// fakeCatalog resolves table schemas from a static map
type fakeCatalog map[string]*schema.Schema

func (c fakeCatalog) TableSchema(table string) (*schema.Schema, error) {
	s, ok := c[table]
	if !ok {
		return nil, errors.PlanValidationError{Node: table, Reason: "unknown table"}
	}
	return s, nil
}

func testCatalog() fakeCatalog {
	return fakeCatalog{
		"sales": schema.MustCreateSchema(
			schema.Column{Name: "date_sk", Type: &schema.Int64ColumnType{}},
			schema.Column{Name: "price", Type: &schema.DecimalColumnType{Scale: 2}},
			schema.Column{Name: "qty", Type: &schema.Int32ColumnType{}},
		),
		"dates": schema.MustCreateSchema(
			schema.Column{Name: "d_date_sk", Type: &schema.Int64ColumnType{}},
			schema.Column{Name: "d_year", Type: &schema.Int32ColumnType{}},
			schema.Column{Name: "d_day_name", Type: &schema.StringColumnType{}},
		),
	}
}

func TestValidateAssignsIDsAndSchemas(t *testing.T) {
	scan := NewScan("sales", "date_sk", "price")
	filter := NewFilter(scan, expr.Compare(expr.OpGt, expr.Col("date_sk"), expr.Lit(int64(0), &schema.Int64ColumnType{})))
	require.Nil(t, Validate(filter, testCatalog()))
	require.Equal(t, 0, scan.ID)
	require.Equal(t, 1, filter.ID)
	require.Equal(t, []string{"date_sk", "price"}, filter.OutputSchema().ColumnNames())
}

func TestValidateRejectsBoundaryRoot(t *testing.T) {
	root := NewExchange(NewScan("sales", "date_sk"), []string{"date_sk"}, 0)
	err := Validate(root, testCatalog())
	var pve errors.PlanValidationError
	require.ErrorAs(t, err, &pve)
}

func TestValidateRejectsUnknownScanColumn(t *testing.T) {
	err := Validate(NewScan("sales", "nope"), testCatalog())
	require.NotNil(t, err)
}

func TestValidateRejectsNonBroadcastJoinBuild(t *testing.T) {
	probe := NewScan("sales", "date_sk", "price")
	build := NewScan("dates", "d_date_sk", "d_day_name")
	join := NewHashJoin(probe, build, InnerJoin, []string{"date_sk"}, []string{"d_date_sk"})
	err := Validate(join, testCatalog())
	var pve errors.PlanValidationError
	require.ErrorAs(t, err, &pve)
	require.Contains(t, pve.Reason, "BroadcastExchange")
}

func TestValidateJoinSchemaAndKeyTypes(t *testing.T) {
	probe := NewScan("sales", "date_sk", "price")
	build := NewBroadcastExchange(NewScan("dates", "d_date_sk", "d_day_name"))
	join := NewHashJoin(probe, build, InnerJoin, []string{"date_sk"}, []string{"d_date_sk"})
	require.Nil(t, Validate(join, testCatalog()))
	require.Equal(t, []string{"date_sk", "price", "d_date_sk", "d_day_name"}, join.OutputSchema().ColumnNames())

	mismatched := NewHashJoin(
		NewScan("sales", "date_sk", "price"),
		NewBroadcastExchange(NewScan("dates", "d_date_sk", "d_day_name")),
		InnerJoin, []string{"price"}, []string{"d_date_sk"})
	require.NotNil(t, Validate(mismatched, testCatalog()))
}

func TestValidateRejectsCollidingJoinColumns(t *testing.T) {
	// a self-join without renaming would emit every column name twice
	probe := NewScan("sales", "date_sk", "price")
	build := NewBroadcastExchange(NewScan("sales", "date_sk", "price"))
	join := NewHashJoin(probe, build, InnerJoin, []string{"date_sk"}, []string{"date_sk"})
	err := Validate(join, testCatalog())
	var pve errors.PlanValidationError
	require.ErrorAs(t, err, &pve)
	require.Contains(t, pve.Reason, "date_sk")
}

func TestValidateRejectsFilterWithoutPredicate(t *testing.T) {
	err := Validate(NewFilter(NewScan("sales", "date_sk"), nil), testCatalog())
	var pve errors.PlanValidationError
	require.ErrorAs(t, err, &pve)
	require.Contains(t, pve.Reason, "predicate")
}

func TestValidateAggregateOutputSchema(t *testing.T) {
	scan := NewScan("sales", "date_sk", "price", "qty")
	agg := NewHashAggregate(scan, []string{"date_sk"}, []AggSpec{
		{Name: "total", Func: AggSum, Arg: expr.Col("price")},
		{Name: "units", Func: AggSum, Arg: expr.Col("qty")},
		{Name: "n", Func: AggCount},
	}, SinglePhase)
	require.Nil(t, Validate(agg, testCatalog()))
	out := agg.OutputSchema()
	require.Equal(t, []string{"date_sk", "total", "units", "n"}, out.ColumnNames())
	// decimal sums keep their scale
	require.True(t, schema.TypesEqual(&schema.DecimalColumnType{Scale: 2}, out.Column(1).Type))
	// int32 sums widen to int64
	require.True(t, schema.TypesEqual(&schema.Int64ColumnType{}, out.Column(2).Type))
	require.True(t, schema.TypesEqual(&schema.Int64ColumnType{}, out.Column(3).Type))
}

func TestValidateRejectsNonNumericSum(t *testing.T) {
	scan := NewScan("dates", "d_day_name")
	agg := NewHashAggregate(scan, nil, []AggSpec{
		{Name: "bad", Func: AggSum, Arg: expr.Col("d_day_name")},
	}, SinglePhase)
	require.NotNil(t, Validate(agg, testCatalog()))
}

func TestValidateUnionSchemaMismatch(t *testing.T) {
	u := NewUnion(NewScan("sales", "date_sk"), NewScan("dates", "d_date_sk"))
	require.NotNil(t, Validate(u, testCatalog()))

	ok := NewUnion(NewScan("sales", "date_sk", "price"), NewScan("sales", "date_sk", "price"))
	require.Nil(t, Validate(ok, testCatalog()))
}

func TestValidateBloomProbe(t *testing.T) {
	build := NewBloomBuild(NewScan("dates", "d_date_sk", "d_year"), "d_date_sk", 0.01)
	filter := NewFilter(
		NewScan("sales", "date_sk", "price"),
		expr.Compare(expr.OpGt, expr.Col("date_sk"), expr.Lit(int64(0), &schema.Int64ColumnType{})),
	).WithBloomProbe(build, "date_sk")
	require.Nil(t, Validate(filter, testCatalog()))
	// the bloom build's output is the candidate column alone
	require.Equal(t, []string{"d_date_sk"}, build.OutputSchema().ColumnNames())
}

func TestAnalyze(t *testing.T) {
	scan := NewScan("sales", "date_sk", "price")
	sorted := NewSort(scan, Ordering{Col: "price", Desc: true})
	analysis, err := Analyze(sorted, testCatalog())
	require.Nil(t, err)
	require.Equal(t, []string{"date_sk", "price"}, analysis.ColumnNames)
	require.True(t, strings.Contains(analysis.ExplainString, "Sort by=(price desc)"))
	require.True(t, strings.Contains(analysis.ExplainString, "Scan table=sales"))
}
