// Package engine executes the operators of a single task: one partition
// of one stage. Operators form a pull pipeline of BatchIterators rooted
// at the stage's inputs (scans, exchange readers, broadcast consumers).
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/quarrydb/quarry/batch"
	"github.com/quarrydb/quarry/datasource"
	"github.com/quarrydb/quarry/errors"
	"github.com/quarrydb/quarry/exchange"
	"github.com/quarrydb/quarry/plan"
	"github.com/quarrydb/quarry/stats"
)

// Env is the execution environment of one task. Tasks share no mutable
// state except the synchronized caches: everything else reachable from
// here is either owned by the task or immutable once published
// (broadcasts, bloom filters, completed build tables).
type Env struct {
	Ctx             context.Context
	Source          datasource.DataSource
	Partition       int
	ScanPartitions  int
	MaxRowsPerBatch int
	Exchanges       map[int]*exchange.Exchange
	Broadcasts      map[int]*exchange.Broadcast
	Filters         map[int]*exchange.FilterHandoff
	Builds          *BuildCache
	Stats           *stats.RunStatistics

	// rows emitted per node within this task, for operator input counts
	taskRows map[int]int64
}

// Build constructs the pull pipeline for an operator subtree. Boundary
// nodes (Exchange, BroadcastExchange) appearing below the subtree root
// are stage inputs and become readers of their materialized artifacts.
func Build(env *Env, n *plan.Node) (datasource.BatchIterator, error) {
	if env.Builds == nil {
		env.Builds = CreateBuildCache()
	}
	if env.taskRows == nil {
		env.taskRows = make(map[int]int64)
	}
	var it datasource.BatchIterator
	var err error
	switch n.Kind {
	case plan.ScanKind:
		it, err = buildScan(env, n)
	case plan.FilterKind:
		it, err = buildFilter(env, n)
	case plan.ProjectKind:
		it, err = buildProject(env, n)
	case plan.UnionKind:
		it, err = buildUnion(env, n)
	case plan.SortKind:
		it, err = buildSort(env, n)
	case plan.HashAggregateKind:
		it, err = buildAggregate(env, n)
	case plan.HashJoinKind:
		it, err = buildHashJoin(env, n)
	case plan.ExchangeKind:
		ex, ok := env.Exchanges[n.ID]
		if !ok {
			return nil, fmt.Errorf("No materialized exchange for node %d", n.ID)
		}
		it = ex.OpenReader(env.Ctx, env.Partition)
	case plan.BroadcastExchangeKind:
		bc, ok := env.Broadcasts[n.ID]
		if !ok {
			return nil, fmt.Errorf("No broadcast dataset for node %d", n.ID)
		}
		it = &broadcastIterator{ctx: env.Ctx, broadcast: bc}
	default:
		return nil, fmt.Errorf("Operator %s cannot be built inside a task pipeline", n.Kind)
	}
	if err != nil {
		return nil, err
	}
	return &instrumentedIterator{
		wrapped:  it,
		env:      env,
		nodeID:   n.ID,
		name:     n.Kind.String(),
		inputIDs: pipelineInputIDs(n),
	}, nil
}

// pipelineInputIDs lists the children whose rows stream into an operator
// within the task pipeline. Leaves have none; a hash join's build side
// and a filter's bloom probe dependency arrive as materialized artifacts
// rather than streamed rows, so they are not inputs here.
func pipelineInputIDs(n *plan.Node) []int {
	switch n.Kind {
	case plan.ScanKind, plan.ExchangeKind, plan.BroadcastExchangeKind:
		return nil
	case plan.UnionKind:
		ids := make([]int, len(n.Children))
		for i, child := range n.Children {
			ids[i] = child.ID
		}
		return ids
	default:
		return []int{n.Children[0].ID}
	}
}

// broadcastIterator replays a collected broadcast dataset to one consumer
type broadcastIterator struct {
	ctx       context.Context
	broadcast *exchange.Broadcast
	batches   []*batch.Batch
	collected bool
	next      int
}

// NextBatch blocks for the broadcast build on first use, then replays
// the shared dataset
func (it *broadcastIterator) NextBatch() (*batch.Batch, error) {
	if !it.collected {
		batches, err := it.broadcast.Collect(it.ctx)
		if err != nil {
			return nil, err
		}
		it.batches = batches
		it.collected = true
	}
	if it.next >= len(it.batches) {
		return nil, errors.NoMoreBatchesError{}
	}
	b := it.batches[it.next]
	it.next++
	return b, nil
}

// instrumentedIterator records per-operator row, batch and timing
// statistics as data flows through. An operator's input row count is
// the sum of what its pipeline children emitted within this task, read
// at flush time when the children are already exhausted.
type instrumentedIterator struct {
	wrapped  datasource.BatchIterator
	env      *Env
	nodeID   int
	name     string
	inputIDs []int
	flushed  bool
	rows     int64
	batches  int64
	bytes    int64
	elapsed  time.Duration
}

// NextBatch delegates to the wrapped iterator, accumulating statistics
func (it *instrumentedIterator) NextBatch() (*batch.Batch, error) {
	start := time.Now()
	b, err := it.wrapped.NextBatch()
	it.elapsed += time.Since(start)
	if err != nil {
		if errors.IsNoMoreBatches(err) && !it.flushed && it.env.Stats != nil {
			var rowsIn int64
			for _, id := range it.inputIDs {
				rowsIn += it.env.taskRows[id]
			}
			it.env.Stats.RecordOperator(it.nodeID, it.name, rowsIn, it.rows, it.batches, it.bytes, it.elapsed)
			it.flushed = true
		}
		return nil, err
	}
	it.rows += int64(b.Len())
	it.batches++
	it.bytes += b.MemSize()
	it.env.taskRows[it.nodeID] += int64(b.Len())
	return b, nil
}
