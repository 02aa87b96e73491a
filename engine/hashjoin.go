package engine

import (
	"context"
	"sync"

	"github.com/quarrydb/quarry/batch"
	"github.com/quarrydb/quarry/datasource"
	"github.com/quarrydb/quarry/errors"
	"github.com/quarrydb/quarry/exchange"
	"github.com/quarrydb/quarry/plan"
	"github.com/quarrydb/quarry/schema"
	"github.com/quarrydb/quarry/stats"
)

// BuildCache shares completed join build tables across the tasks of one
// query. The build side of a broadcast join is identical for every probe
// partition, so the table is constructed once and probed read-only.
type BuildCache struct {
	lock   sync.Mutex
	tables map[int]map[string][]rowRef
}

// CreateBuildCache is a factory for BuildCaches
func CreateBuildCache() *BuildCache {
	return &BuildCache{tables: make(map[int]map[string][]rowRef)}
}

// table returns the memoized build table for a join node, constructing
// it under the lock on first use. Failed constructions are not cached.
func (bc *BuildCache) table(nodeID int, build func() (map[string][]rowRef, error)) (map[string][]rowRef, error) {
	bc.lock.Lock()
	defer bc.lock.Unlock()
	if m, ok := bc.tables[nodeID]; ok {
		return m, nil
	}
	m, err := build()
	if err != nil {
		return nil, err
	}
	bc.tables[nodeID] = m
	return m, nil
}

// joinState tracks the lifecycle of a broadcast hash join within a task
type joinState int

const (
	buildPending joinState = iota
	buildComplete
	probing
	joinDone
)

// hashJoinIterator is the broadcast variant of the hash join: the build
// side arrives as a complete broadcast dataset and is mapped from join
// key to matching rows; the probe side streams against the finished map.
// The build map is read-only after construction, so any number of joins
// over the same broadcast may probe concurrently.
type hashJoinIterator struct {
	ctx       context.Context
	node      *plan.Node
	probe     datasource.BatchIterator
	broadcast *exchange.Broadcast
	builds    *BuildCache
	stats     *stats.RunStatistics
	outSchema *schema.Schema
	maxRows   int

	state       joinState
	probeCols   []int
	buildCols   []int
	buildMap    map[string][]rowRef
	pending     []*batch.Batch
	pendingNext int
}

func buildHashJoin(env *Env, n *plan.Node) (datasource.BatchIterator, error) {
	probe, err := Build(env, n.Children[0])
	if err != nil {
		return nil, err
	}
	build := n.Children[1]
	bc, ok := env.Broadcasts[build.ID]
	if !ok {
		return nil, errors.StageDependencyError{
			StageID:      n.ID,
			DependencyID: build.ID,
			Cause:        errors.NoMoreBatchesError{},
		}
	}
	probeCols := make([]int, len(n.ProbeKeys))
	for i, k := range n.ProbeKeys {
		idx, err := n.Children[0].OutputSchema().Offset(k)
		if err != nil {
			return nil, err
		}
		probeCols[i] = idx
	}
	buildCols := make([]int, len(n.BuildKeys))
	for i, k := range n.BuildKeys {
		idx, err := build.OutputSchema().Offset(k)
		if err != nil {
			return nil, err
		}
		buildCols[i] = idx
	}
	maxRows := env.MaxRowsPerBatch
	if maxRows < 1 {
		maxRows = 4096
	}
	return &hashJoinIterator{
		ctx:       env.Ctx,
		node:      n,
		probe:     probe,
		broadcast: bc,
		builds:    env.Builds,
		stats:     env.Stats,
		outSchema: n.OutputSchema(),
		maxRows:   maxRows,
		probeCols: probeCols,
		buildCols: buildCols,
	}, nil
}

// runBuild obtains the key-to-rows map for this join, constructing it
// from the completed broadcast on the query's first probe task and
// reusing the shared table on every other
func (it *hashJoinIterator) runBuild() error {
	m, err := it.builds.table(it.node.ID, it.buildTable)
	if err != nil {
		return err
	}
	it.buildMap = m
	it.state = buildComplete
	return nil
}

// buildTable constructs the key-to-rows map from the completed
// broadcast. Rows with a null join key never match, so they are left
// out of the map.
func (it *hashJoinIterator) buildTable() (map[string][]rowRef, error) {
	batches, err := it.broadcast.Collect(it.ctx)
	if err != nil {
		return nil, err
	}
	buildMap := make(map[string][]rowRef)
	var key []byte
	for _, b := range batches {
		for row := 0; row < b.Len(); row++ {
			if anyNull(b, it.buildCols, row) {
				continue
			}
			key = b.AppendKey(key[:0], it.buildCols, row)
			buildMap[string(key)] = append(buildMap[string(key)], rowRef{b: b, row: row})
			if it.stats != nil {
				it.stats.ObserveBuildKey(it.node.ID, key)
			}
		}
	}
	return buildMap, nil
}

// NextBatch returns the next Batch of joined rows
func (it *hashJoinIterator) NextBatch() (*batch.Batch, error) {
	if it.state == buildPending {
		if err := it.runBuild(); err != nil {
			return nil, err
		}
		it.state = probing
	}
	for {
		if it.pendingNext < len(it.pending) {
			b := it.pending[it.pendingNext]
			it.pendingNext++
			return b, nil
		}
		if it.state == joinDone {
			return nil, errors.NoMoreBatchesError{}
		}
		if err := it.probeNext(); err != nil {
			return nil, err
		}
	}
}

// probeNext consumes one probe batch, emitting the cross-product of
// matches for every probe key with multiple build-side matches
func (it *hashJoinIterator) probeNext() error {
	pb, err := it.probe.NextBatch()
	if err != nil {
		if errors.IsNoMoreBatches(err) {
			it.state = joinDone
			return nil
		}
		return err
	}
	it.pending = it.pending[:0]
	it.pendingNext = 0
	bld := batch.NewBuilder(it.outSchema)
	var key []byte
	for row := 0; row < pb.Len(); row++ {
		var matches []rowRef
		if !anyNull(pb, it.probeCols, row) {
			key = pb.AppendKey(key[:0], it.probeCols, row)
			matches = it.buildMap[string(key)]
		}
		if len(matches) == 0 {
			// inner joins drop unmatched probe rows; left-outer joins
			// null-pad the build side
			if it.node.JoinType == plan.LeftOuterJoin {
				if err := bld.AppendJoinedRow(pb, row, nil, 0); err != nil {
					return err
				}
			}
		} else {
			for _, m := range matches {
				if err := bld.AppendJoinedRow(pb, row, m.b, m.row); err != nil {
					return err
				}
			}
		}
		if bld.Len() >= it.maxRows {
			it.pending = append(it.pending, bld.Build())
		}
	}
	if bld.Len() > 0 {
		it.pending = append(it.pending, bld.Build())
	}
	return nil
}

func anyNull(b *batch.Batch, cols []int, row int) bool {
	for _, col := range cols {
		if b.Column(col).IsNull(row) {
			return true
		}
	}
	return false
}
