package engine

import (
	"fmt"
	"testing"

	"github.com/quarrydb/quarry/batch"
	"github.com/quarrydb/quarry/datasource/memory"
	"github.com/quarrydb/quarry/exchange"
	"github.com/quarrydb/quarry/plan"
	"github.com/quarrydb/quarry/schema"
	"github.com/quarrydb/quarry/stats"
	"github.com/stretchr/testify/require"
)

func joinSource(t *testing.T) *memory.DataSource {
	ds := memory.CreateDataSource()
	sales := schema.MustCreateSchema(
		schema.Column{Name: "date_sk", Type: &schema.Int64ColumnType{}},
		schema.Column{Name: "price", Type: &schema.Int64ColumnType{}},
	)
	require.Nil(t, ds.CreateTable("sales", sales))
	bld := batch.NewBuilder(sales)
	require.Nil(t, bld.AppendRow(int64(1), int64(10)))
	require.Nil(t, bld.AppendRow(int64(2), int64(20)))
	require.Nil(t, bld.AppendRow(int64(3), int64(30)))
	require.Nil(t, bld.AppendRow(nil, int64(40)))
	require.Nil(t, ds.Append("sales", bld.Build()))

	dates := schema.MustCreateSchema(
		schema.Column{Name: "d_date_sk", Type: &schema.Int64ColumnType{}},
		schema.Column{Name: "d_day_name", Type: &schema.StringColumnType{}},
	)
	require.Nil(t, ds.CreateTable("dates", dates))
	bld = batch.NewBuilder(dates)
	require.Nil(t, bld.AppendRow(int64(1), "Sunday"))
	require.Nil(t, bld.AppendRow(int64(2), "Monday"))
	// duplicate build key: each matching probe row joins both
	require.Nil(t, bld.AppendRow(int64(2), "Monday2"))
	require.Nil(t, bld.AppendRow(nil, "Nullday"))
	require.Nil(t, ds.Append("dates", bld.Build()))
	return ds
}

// stageBroadcast collects a table's batches into a finished Broadcast,
// standing in for the build-side stage
func stageBroadcast(t *testing.T, ds *memory.DataSource, table string, columns []string) *exchange.Broadcast {
	bc := exchange.CreateBroadcast(0, 1<<24)
	it, err := ds.Scan(table, columns)
	require.Nil(t, err)
	for {
		b, err := it.NextBatch()
		if err != nil {
			break
		}
		require.Nil(t, bc.Add(b))
	}
	bc.Finish(nil)
	return bc
}

func buildJoinPlan(t *testing.T, ds *memory.DataSource, joinType plan.JoinType) (*plan.Node, *Env) {
	probe := plan.NewScan("sales", "date_sk", "price")
	build := plan.NewBroadcastExchange(plan.NewScan("dates", "d_date_sk", "d_day_name"))
	join := plan.NewHashJoin(probe, build, joinType, []string{"date_sk"}, []string{"d_date_sk"})
	require.Nil(t, plan.Validate(join, ds))

	env := testEnv(ds)
	env.Stats = stats.CreateRunStatistics()
	env.Broadcasts = map[int]*exchange.Broadcast{
		build.ID: stageBroadcast(t, ds, "dates", []string{"d_date_sk", "d_day_name"}),
	}
	return join, env
}

func TestInnerJoinMatchesNestedLoop(t *testing.T) {
	ds := joinSource(t)
	join, env := buildJoinPlan(t, ds, plan.InnerJoin)
	it, err := Build(env, join)
	require.Nil(t, err)
	rows := drainRows(t, it)

	// date_sk=1 matches once, date_sk=2 matches the duplicated build key
	// twice, date_sk=3 and the null probe key match nothing
	require.Equal(t, 3, len(rows))
	byPrice := make(map[int64][]string)
	for _, row := range rows {
		byPrice[row[1].(int64)] = append(byPrice[row[1].(int64)], row[3].(string))
	}
	require.Equal(t, []string{"Sunday"}, byPrice[10])
	require.ElementsMatch(t, []string{"Monday", "Monday2"}, byPrice[20])
}

func TestLeftOuterJoinNullPadsMisses(t *testing.T) {
	ds := joinSource(t)
	join, env := buildJoinPlan(t, ds, plan.LeftOuterJoin)
	it, err := Build(env, join)
	require.Nil(t, err)
	rows := drainRows(t, it)

	// all four probe rows survive; misses carry null build columns
	require.Equal(t, 5, len(rows))
	misses := 0
	for _, row := range rows {
		if row[2] == nil {
			require.Nil(t, row[3])
			misses++
		}
	}
	// date_sk=3 and the null-key probe row both miss
	require.Equal(t, 2, misses)
}

func TestJoinRecordsBuildCardinality(t *testing.T) {
	ds := joinSource(t)
	join, env := buildJoinPlan(t, ds, plan.InnerJoin)
	it, err := Build(env, join)
	require.Nil(t, err)
	drainRows(t, it)
	// two distinct non-null build keys were observed
	require.Equal(t, uint64(2), env.Stats.EstimatedBuildNDV(join.ID))
}

func TestBuildCacheConstructsTableOncePerNode(t *testing.T) {
	cache := CreateBuildCache()
	calls := 0
	construct := func() (map[string][]rowRef, error) {
		calls++
		return map[string][]rowRef{"k": nil}, nil
	}
	for i := 0; i < 3; i++ {
		m, err := cache.table(7, construct)
		require.Nil(t, err)
		require.NotNil(t, m)
	}
	require.Equal(t, 1, calls)

	// failed constructions are retried rather than cached
	fails := 0
	failing := func() (map[string][]rowRef, error) {
		fails++
		if fails == 1 {
			return nil, fmt.Errorf("broadcast not finished")
		}
		return map[string][]rowRef{}, nil
	}
	_, err := cache.table(8, failing)
	require.NotNil(t, err)
	_, err = cache.table(8, failing)
	require.Nil(t, err)
	require.Equal(t, 2, fails)
}

func TestJoinTasksShareOneBuildTable(t *testing.T) {
	ds := joinSource(t)
	join, env := buildJoinPlan(t, ds, plan.InnerJoin)

	// two probe tasks over the same query-wide environment
	first, err := Build(env, join)
	require.Nil(t, err)
	firstRows := drainRows(t, first)

	second, err := Build(env, join)
	require.Nil(t, err)
	require.Equal(t, firstRows, drainRows(t, second))

	// the second drain reused the table, so each distinct build key was
	// observed exactly once
	require.Equal(t, uint64(2), env.Stats.EstimatedBuildNDV(join.ID))
	require.Equal(t, 1, len(env.Builds.tables))
}

func TestJoinEmptyBuildSide(t *testing.T) {
	ds := joinSource(t)
	probe := plan.NewScan("sales", "date_sk", "price")
	build := plan.NewBroadcastExchange(plan.NewScan("dates", "d_date_sk", "d_day_name"))
	join := plan.NewHashJoin(probe, build, plan.InnerJoin, []string{"date_sk"}, []string{"d_date_sk"})
	require.Nil(t, plan.Validate(join, ds))

	bc := exchange.CreateBroadcast(0, 1<<24)
	bc.Finish(nil)
	env := testEnv(ds)
	env.Broadcasts = map[int]*exchange.Broadcast{build.ID: bc}

	it, err := Build(env, join)
	require.Nil(t, err)
	require.Equal(t, 0, len(drainRows(t, it)))
}
