package engine

import (
	"github.com/quarrydb/quarry/batch"
	"github.com/quarrydb/quarry/datasource"
	"github.com/quarrydb/quarry/errors"
	"github.com/quarrydb/quarry/plan"
)

// scanIterator reads one task's share of a table scan. The storage
// collaborator serves the full batch sequence; batches are assigned to
// tasks round-robin, so re-invoking the scan for each task is safe and
// every batch is consumed by exactly one task.
type scanIterator struct {
	source    datasource.BatchIterator
	partition int
	total     int
	index     int
}

func buildScan(env *Env, n *plan.Node) (datasource.BatchIterator, error) {
	it, err := env.Source.Scan(n.Table, n.Columns)
	if err != nil {
		return nil, err
	}
	total := env.ScanPartitions
	if total < 1 {
		total = 1
	}
	return &scanIterator{source: it, partition: env.Partition % total, total: total}, nil
}

// NextBatch returns the next Batch assigned to this task's partition
func (it *scanIterator) NextBatch() (*batch.Batch, error) {
	for {
		b, err := it.source.NextBatch()
		if err != nil {
			if errors.IsNoMoreBatches(err) {
				return nil, errors.NoMoreBatchesError{}
			}
			return nil, err
		}
		owned := it.index%it.total == it.partition
		it.index++
		if owned {
			return b, nil
		}
	}
}
