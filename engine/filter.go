package engine

import (
	"context"

	"github.com/RoaringBitmap/roaring"
	"github.com/quarrydb/quarry/batch"
	"github.com/quarrydb/quarry/bloom"
	"github.com/quarrydb/quarry/datasource"
	"github.com/quarrydb/quarry/errors"
	"github.com/quarrydb/quarry/exchange"
	"github.com/quarrydb/quarry/expr"
	"github.com/quarrydb/quarry/plan"
)

// filterIterator applies a boolean predicate, and optionally a
// runtime-built bloom filter, to each input batch. The bloom probe runs
// first since a definite miss makes predicate evaluation unnecessary.
type filterIterator struct {
	ctx       context.Context
	input     datasource.BatchIterator
	predicate *expr.Expr
	handoff   *exchange.FilterHandoff
	probeCol  int
	filter    *bloom.Filter
	waited    bool
}

func buildFilter(env *Env, n *plan.Node) (datasource.BatchIterator, error) {
	if n.Predicate == nil {
		return nil, errors.PlanValidationError{Node: n.Kind.String(), Reason: "filter requires a predicate"}
	}
	input, err := Build(env, n.Children[0])
	if err != nil {
		return nil, err
	}
	it := &filterIterator{ctx: env.Ctx, input: input, predicate: n.Predicate, probeCol: -1}
	if n.Probe != nil {
		idx, err := n.Children[0].OutputSchema().Offset(n.Probe.Col)
		if err != nil {
			return nil, err
		}
		it.probeCol = idx
		it.handoff = env.Filters[n.Probe.Build.ID]
	}
	return it, nil
}

// NextBatch filters the next input Batch, waiting for the bloom filter
// build on first use when a probe is attached
func (it *filterIterator) NextBatch() (*batch.Batch, error) {
	if it.handoff != nil && !it.waited {
		filter, err := it.handoff.Wait(it.ctx)
		if err != nil {
			return nil, err
		}
		it.filter = filter
		it.waited = true
	}
	for {
		b, err := it.input.NextBatch()
		if err != nil {
			return nil, err
		}
		sel, err := it.predicate.EvalPredicate(b)
		if err != nil {
			return nil, err
		}
		if it.filter != nil {
			sel = it.probeRows(b, sel)
		}
		if int(sel.GetCardinality()) == b.Len() {
			return b, nil
		}
		return b.Retain(sel), nil
	}
}

// probeRows drops selected rows whose probed key is definitely absent
// from the candidate set. False positives pass through and are resolved
// by the join itself.
func (it *filterIterator) probeRows(b *batch.Batch, sel *roaring.Bitmap) *roaring.Bitmap {
	kept := roaring.New()
	cols := []int{it.probeCol}
	iter := sel.Iterator()
	var key []byte
	for iter.HasNext() {
		row := iter.Next()
		key = b.AppendKey(key[:0], cols, int(row))
		if it.filter.MightContain(key) {
			kept.Add(row)
		}
	}
	return kept
}
