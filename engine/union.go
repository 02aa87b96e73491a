package engine

import (
	"github.com/quarrydb/quarry/batch"
	"github.com/quarrydb/quarry/datasource"
	"github.com/quarrydb/quarry/errors"
	"github.com/quarrydb/quarry/plan"
)

// unionIterator concatenates homogeneous inputs, draining each child in
// order. Cross-input row order carries no guarantee, matching the
// cross-partition ordering contract.
type unionIterator struct {
	inputs  []datasource.BatchIterator
	current int
}

func buildUnion(env *Env, n *plan.Node) (datasource.BatchIterator, error) {
	inputs := make([]datasource.BatchIterator, len(n.Children))
	for i, child := range n.Children {
		input, err := Build(env, child)
		if err != nil {
			return nil, err
		}
		inputs[i] = input
	}
	return &unionIterator{inputs: inputs}, nil
}

// NextBatch returns the next Batch from the first non-exhausted input
func (it *unionIterator) NextBatch() (*batch.Batch, error) {
	for it.current < len(it.inputs) {
		b, err := it.inputs[it.current].NextBatch()
		if err != nil {
			if errors.IsNoMoreBatches(err) {
				it.current++
				continue
			}
			return nil, err
		}
		return b, nil
	}
	return nil, errors.NoMoreBatchesError{}
}
