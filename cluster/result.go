package cluster

import (
	"context"
	"sync"

	"github.com/google/btree"
	"github.com/quarrydb/quarry/batch"
	"github.com/quarrydb/quarry/engine"
	"github.com/quarrydb/quarry/errors"
	"github.com/quarrydb/quarry/plan"
	"github.com/quarrydb/quarry/stats"
)

// ResultBatch is one unit of the streamed query result
type ResultBatch struct {
	Batch    *batch.Batch
	RowCount int
}

// ResultStream is the client-visible result of a submitted plan:
// a sequence of ResultBatches followed by a terminal metrics summary,
// or by a single terminal error. Batches streamed before a failure
// remain valid; the stream is then marked incomplete.
type ResultStream struct {
	batches chan *ResultBatch

	lock       sync.Mutex
	err        error
	summary    *stats.Summary
	incomplete bool
}

func createResultStream() *ResultStream {
	return &ResultStream{batches: make(chan *ResultBatch, 16)}
}

// NextResult returns the next ResultBatch, NoMoreBatchesError once the
// stream completes, or the query's terminal error
func (rs *ResultStream) NextResult() (*ResultBatch, error) {
	rb, ok := <-rs.batches
	if !ok {
		rs.lock.Lock()
		defer rs.lock.Unlock()
		if rs.err != nil {
			return nil, rs.err
		}
		return nil, errors.NoMoreBatchesError{}
	}
	return rb, nil
}

// Summary returns the terminal metrics summary, available once the
// stream has completed successfully
func (rs *ResultStream) Summary() *stats.Summary {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	return rs.summary
}

// Err returns the terminal error, if the query failed
func (rs *ResultStream) Err() error {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	return rs.err
}

// Incomplete returns true iff the stream terminated before delivering
// the full result
func (rs *ResultStream) Incomplete() bool {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	return rs.incomplete
}

func (rs *ResultStream) fail(err error) {
	rs.lock.Lock()
	rs.err = err
	rs.incomplete = true
	rs.lock.Unlock()
	close(rs.batches)
}

func (rs *ResultStream) finish(summary *stats.Summary) {
	rs.lock.Lock()
	rs.summary = summary
	rs.lock.Unlock()
	close(rs.batches)
}

// collector gathers the final stage's per-partition outputs. Partition
// outputs carry no cross-partition order; when the plan root is a Sort,
// the collector re-establishes the client-visible total order with an
// ordered merge before streaming.
type collector struct {
	lock       sync.Mutex
	partitions map[int][]*batch.Batch
}

func createCollector() *collector {
	return &collector{partitions: make(map[int][]*batch.Batch)}
}

func (col *collector) deliver(partition int, batches []*batch.Batch) {
	col.lock.Lock()
	defer col.lock.Unlock()
	col.partitions[partition] = append(col.partitions[partition], batches...)
}

// rowItem orders rows within the merge tree. seq breaks ties so equal
// keys never displace one another.
type rowItem struct {
	b       *batch.Batch
	row     int
	keyCols []int
	orderBy []plan.Ordering
	seq     int
}

// Less orders rowItems by the plan's sort keys
func (ri rowItem) Less(than btree.Item) bool {
	other := than.(rowItem)
	for k, o := range ri.orderBy {
		cmp := engine.CompareRows(ri.b, ri.row, other.b, other.row, ri.keyCols[k])
		if cmp == 0 {
			continue
		}
		if o.Desc {
			return cmp > 0
		}
		return cmp < 0
	}
	return ri.seq < other.seq
}

// stream emits the collected result in client order: merged through a
// btree when the root imposes an ordering, otherwise in partition order.
// Sends race the context so an abandoned stream cannot strand the query
// goroutine on a full channel.
func (col *collector) stream(ctx context.Context, root *plan.Node, numPartitions int, maxRowsPerBatch int, rs *ResultStream) error {
	col.lock.Lock()
	defer col.lock.Unlock()
	send := func(b *batch.Batch) error {
		select {
		case rs.batches <- &ResultBatch{Batch: b, RowCount: b.Len()}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if root.Kind != plan.SortKind {
		for partition := 0; partition < numPartitions; partition++ {
			for _, b := range col.partitions[partition] {
				for from := 0; from < b.Len(); from += maxRowsPerBatch {
					to := from + maxRowsPerBatch
					if to > b.Len() {
						to = b.Len()
					}
					part, err := b.Slice(from, to)
					if err != nil {
						return err
					}
					if err := send(part); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}

	outSchema := root.OutputSchema()
	keyCols := make([]int, len(root.OrderBy))
	for i, o := range root.OrderBy {
		idx, err := outSchema.Offset(o.Col)
		if err != nil {
			return err
		}
		keyCols[i] = idx
	}
	tree := btree.New(16)
	seq := 0
	for partition := 0; partition < numPartitions; partition++ {
		for _, b := range col.partitions[partition] {
			for row := 0; row < b.Len(); row++ {
				tree.ReplaceOrInsert(rowItem{b: b, row: row, keyCols: keyCols, orderBy: root.OrderBy, seq: seq})
				seq++
			}
		}
	}
	bld := batch.NewBuilder(outSchema)
	var streamErr error
	tree.Ascend(func(item btree.Item) bool {
		ri := item.(rowItem)
		if err := bld.AppendBatchRow(ri.b, ri.row); err != nil {
			streamErr = err
			return false
		}
		if bld.Len() >= maxRowsPerBatch {
			if err := send(bld.Build()); err != nil {
				streamErr = err
				return false
			}
		}
		return true
	})
	if streamErr != nil {
		return streamErr
	}
	if bld.Len() > 0 {
		return send(bld.Build())
	}
	return nil
}
