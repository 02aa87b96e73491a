package engine

import (
	"sort"

	"github.com/quarrydb/quarry/batch"
	"github.com/quarrydb/quarry/datasource"
	"github.com/quarrydb/quarry/errors"
	"github.com/quarrydb/quarry/expr"
	"github.com/quarrydb/quarry/plan"
	"github.com/quarrydb/quarry/schema"
)

// aggIterator implements both halves of the two-phase grouped reduction.
// The partial phase accumulates raw argument values per group within one
// partition; the final phase, running after the key-routed shuffle,
// merges partial accumulators sharing a key. Merging is associative and
// commutative, which is what makes the split correct.
//
// Accumulator maps are arena-per-task: never shared, merged only at the
// phase boundary via the shuffle.
type aggIterator struct {
	env       *Env
	input     datasource.BatchIterator
	node      *plan.Node
	inSchema  *schema.Schema
	outSchema *schema.Schema
	output    []*batch.Batch
	populated bool
	next      int
}

// groupState is one group's accumulators plus its representative key values
type groupState struct {
	groupVals []interface{}
	sumsInt   []int64
	sumsFloat []float64
}

func buildAggregate(env *Env, n *plan.Node) (datasource.BatchIterator, error) {
	input, err := Build(env, n.Children[0])
	if err != nil {
		return nil, err
	}
	return &aggIterator{
		env:       env,
		input:     input,
		node:      n,
		inSchema:  n.Children[0].OutputSchema(),
		outSchema: n.OutputSchema(),
	}, nil
}

// NextBatch returns the next Batch of grouped output rows
func (it *aggIterator) NextBatch() (*batch.Batch, error) {
	if !it.populated {
		if err := it.populate(); err != nil {
			return nil, err
		}
		it.populated = true
	}
	if it.next >= len(it.output) {
		return nil, errors.NoMoreBatchesError{}
	}
	b := it.output[it.next]
	it.next++
	return b, nil
}

func (it *aggIterator) populate() error {
	groupCols := make([]int, len(it.node.GroupBy))
	for i, g := range it.node.GroupBy {
		idx, err := it.inSchema.Offset(g)
		if err != nil {
			return err
		}
		groupCols[i] = idx
	}
	// in the final phase each accumulator merges the partial column
	// carrying its own name
	mergeCols := make([]int, len(it.node.Aggregates))
	if it.node.Phase == plan.FinalPhase {
		for i, spec := range it.node.Aggregates {
			idx, err := it.inSchema.Offset(spec.Name)
			if err != nil {
				return err
			}
			mergeCols[i] = idx
		}
	}
	floatAgg := make([]bool, len(it.node.Aggregates))
	for i := range it.node.Aggregates {
		outIdx := len(it.node.GroupBy) + i
		_, floatAgg[i] = it.outSchema.Column(outIdx).Type.(*schema.Float64ColumnType)
	}

	groups := make(map[string]*groupState)
	var key []byte
	for {
		b, err := it.input.NextBatch()
		if err != nil {
			if errors.IsNoMoreBatches(err) {
				break
			}
			return err
		}
		for row := 0; row < b.Len(); row++ {
			key = b.AppendKey(key[:0], groupCols, row)
			state, ok := groups[string(key)]
			if !ok {
				state = &groupState{
					groupVals: make([]interface{}, len(groupCols)),
					sumsInt:   make([]int64, len(it.node.Aggregates)),
					sumsFloat: make([]float64, len(it.node.Aggregates)),
				}
				for i, col := range groupCols {
					state.groupVals[i] = b.Value(col, row)
				}
				groups[string(key)] = state
			}
			if err := it.accumulate(state, b, row, mergeCols, floatAgg); err != nil {
				return err
			}
		}
	}
	return it.emit(groups, floatAgg)
}

func (it *aggIterator) accumulate(state *groupState, b *batch.Batch, row int, mergeCols []int, floatAgg []bool) error {
	for i, spec := range it.node.Aggregates {
		if it.node.Phase == plan.FinalPhase {
			// merge a partial accumulator: sums and counts both add
			c := b.Column(mergeCols[i])
			if c.IsNull(row) {
				continue
			}
			if floatAgg[i] {
				state.sumsFloat[i] += c.Float64(row)
			} else {
				state.sumsInt[i] += c.Int64(row)
			}
			continue
		}
		switch spec.Func {
		case plan.AggCount:
			if spec.Arg == nil {
				state.sumsInt[i]++
				continue
			}
			v, err := spec.Arg.Evaluate(b, row)
			if err != nil {
				return err
			}
			if !v.Null {
				state.sumsInt[i]++
			}
		case plan.AggSum:
			v, err := spec.Arg.Evaluate(b, row)
			if err != nil {
				return err
			}
			// null contributions count as zero, not null
			if v.Null {
				continue
			}
			if v.Kind == expr.FloatValue {
				state.sumsFloat[i] += v.Float
			} else {
				state.sumsInt[i] += v.Int
			}
		}
	}
	return nil
}

// emit produces one output row per distinct key, in deterministic key
// order so independently re-executed equivalent subtrees yield identical
// output. No input rows means no output rows: absent groups are not
// zero-filled.
func (it *aggIterator) emit(groups map[string]*groupState, floatAgg []bool) error {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	maxRows := it.env.MaxRowsPerBatch
	if maxRows < 1 {
		maxRows = len(keys) + 1
	}
	bld := batch.NewBuilder(it.outSchema)
	vals := make([]interface{}, it.outSchema.NumColumns())
	for _, k := range keys {
		state := groups[k]
		copy(vals, state.groupVals)
		for i := range it.node.Aggregates {
			if floatAgg[i] {
				vals[len(state.groupVals)+i] = state.sumsFloat[i]
			} else {
				vals[len(state.groupVals)+i] = state.sumsInt[i]
			}
		}
		if err := bld.AppendRow(vals...); err != nil {
			return err
		}
		if bld.Len() >= maxRows {
			it.output = append(it.output, bld.Build())
		}
	}
	if bld.Len() > 0 {
		it.output = append(it.output, bld.Build())
	}
	return nil
}
