package cluster

import (
	"context"

	"github.com/quarrydb/quarry/batch"
	"github.com/quarrydb/quarry/bloom"
	"github.com/quarrydb/quarry/datasource"
	"github.com/quarrydb/quarry/engine"
	"github.com/quarrydb/quarry/errors"
	"github.com/quarrydb/quarry/exchange"
	"github.com/quarrydb/quarry/plan"
)

// runTask executes one partition of one stage: it builds the operator
// pipeline below the stage boundary, drains it, and delivers the output
// to the stage's materialization target. Output stays owned by the task
// until the pipeline is fully drained, so an aborted attempt leaves no
// partial writes behind and retrying is safe.
func (c *Coordinator) runTask(ctx context.Context, q *query, stage *Stage, partition int) error {
	env := &engine.Env{
		Ctx:             ctx,
		Source:          c.source,
		Partition:       partition,
		ScanPartitions:  stage.Partitions,
		MaxRowsPerBatch: c.conf.MaxRowsPerBatch,
		Exchanges:       q.exchanges,
		Broadcasts:      q.broadcasts,
		Filters:         q.filters,
		Builds:          q.builds,
		Stats:           q.stats,
	}
	switch stage.Root.Kind {
	case plan.ExchangeKind:
		return c.runExchangeTask(env, q, stage)
	case plan.BroadcastExchangeKind:
		return c.runBroadcastTask(env, q, stage)
	case plan.BloomBuildKind:
		return c.runBloomBuildTask(env, q, stage)
	default:
		return c.runResultTask(env, q, stage, partition)
	}
}

// runExchangeTask routes this task's rows into per-destination buffers,
// then hands all buffers to the transport at once. Every destination
// receives a buffer, zero-row ones included.
func (c *Coordinator) runExchangeTask(env *engine.Env, q *query, stage *Stage) error {
	ex := q.exchanges[stage.Root.ID]
	pipeline, err := engine.Build(env, stage.Root.Children[0])
	if err != nil {
		return err
	}
	splitter, err := exchange.CreateSplitter(stage.Root.OutputSchema(), stage.Root.PartitionKeys, ex.NumPartitions())
	if err != nil {
		return err
	}
	if err := drain(pipeline, splitter.Add); err != nil {
		return err
	}
	if err := ex.Publish(splitter.Flush()); err != nil {
		return err
	}
	ex.CloseProducer()
	return nil
}

// runBroadcastTask contributes this task's rows to the broadcast
// dataset. Output is buffered task-locally and contributed in one
// all-or-nothing AddAll, so a failed attempt leaves nothing behind and
// a retry cannot double-count rows. The ceiling is enforced at
// contribution, failing an oversized build side instead of spilling.
func (c *Coordinator) runBroadcastTask(env *engine.Env, q *query, stage *Stage) error {
	bc := q.broadcasts[stage.Root.ID]
	pipeline, err := engine.Build(env, stage.Root.Children[0])
	if err != nil {
		return err
	}
	var collected []*batch.Batch
	err = drain(pipeline, func(b *batch.Batch) error {
		collected = append(collected, b)
		return nil
	})
	if err != nil {
		return err
	}
	return bc.AddAll(collected)
}

// runBloomBuildTask drains the candidate subquery, sizes a filter for
// the observed key count, and publishes it for probing scans. An empty
// candidate set publishes an empty filter, which rejects every key.
func (c *Coordinator) runBloomBuildTask(env *engine.Env, q *query, stage *Stage) error {
	node := stage.Root
	pipeline, err := engine.Build(env, node.Children[0])
	if err != nil {
		return err
	}
	keyCol, err := node.Children[0].OutputSchema().Offset(node.BloomColumn)
	if err != nil {
		return err
	}
	fpp := node.BloomFPP
	if fpp == 0 {
		fpp = c.conf.BloomFPP
	}
	var keys [][]byte
	err = drain(pipeline, func(b *batch.Batch) error {
		for row := 0; row < b.Len(); row++ {
			keys = append(keys, b.AppendKey(nil, []int{keyCol}, row))
		}
		return nil
	})
	if err != nil {
		return err
	}
	filter := bloom.NewFilter(len(keys), fpp, c.conf.BloomSeed)
	for _, key := range keys {
		filter.Add(key)
	}
	q.filters[node.ID].Publish(filter, nil)
	return nil
}

// runResultTask drains the final stage's pipeline into the result
// collector
func (c *Coordinator) runResultTask(env *engine.Env, q *query, stage *Stage, partition int) error {
	pipeline, err := engine.Build(env, stage.Root)
	if err != nil {
		return err
	}
	var collected []*batch.Batch
	err = drain(pipeline, func(b *batch.Batch) error {
		collected = append(collected, b)
		return nil
	})
	if err != nil {
		return err
	}
	q.collector.deliver(partition, collected)
	return nil
}

// drain pulls every batch from a pipeline into a consumer
func drain(it datasource.BatchIterator, consume func(*batch.Batch) error) error {
	for {
		b, err := it.NextBatch()
		if err != nil {
			if errors.IsNoMoreBatches(err) {
				return nil
			}
			return err
		}
		if err := consume(b); err != nil {
			return err
		}
	}
}
