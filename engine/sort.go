package engine

import (
	"sort"

	"github.com/quarrydb/quarry/batch"
	"github.com/quarrydb/quarry/datasource"
	"github.com/quarrydb/quarry/errors"
	"github.com/quarrydb/quarry/plan"
	"github.com/quarrydb/quarry/schema"
)

// sortIterator imposes a total order on its input. It fully drains the
// child before emitting, since the last input row may sort first.
type sortIterator struct {
	env       *Env
	input     datasource.BatchIterator
	orderBy   []plan.Ordering
	schema    *schema.Schema
	sorted    []*batch.Batch
	populated bool
	next      int
}

type rowRef struct {
	b   *batch.Batch
	row int
}

func buildSort(env *Env, n *plan.Node) (datasource.BatchIterator, error) {
	input, err := Build(env, n.Children[0])
	if err != nil {
		return nil, err
	}
	return &sortIterator{env: env, input: input, orderBy: n.OrderBy, schema: n.OutputSchema()}, nil
}

// NextBatch returns the next Batch of the sorted output
func (it *sortIterator) NextBatch() (*batch.Batch, error) {
	if !it.populated {
		if err := it.populate(); err != nil {
			return nil, err
		}
		it.populated = true
	}
	if it.next >= len(it.sorted) {
		return nil, errors.NoMoreBatchesError{}
	}
	b := it.sorted[it.next]
	it.next++
	return b, nil
}

func (it *sortIterator) populate() error {
	var rows []rowRef
	for {
		b, err := it.input.NextBatch()
		if err != nil {
			if errors.IsNoMoreBatches(err) {
				break
			}
			return err
		}
		for row := 0; row < b.Len(); row++ {
			rows = append(rows, rowRef{b: b, row: row})
		}
	}
	keyCols := make([]int, len(it.orderBy))
	for i, o := range it.orderBy {
		idx, err := it.schema.Offset(o.Col)
		if err != nil {
			return err
		}
		keyCols[i] = idx
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for k, o := range it.orderBy {
			cmp := CompareRows(rows[i].b, rows[i].row, rows[j].b, rows[j].row, keyCols[k])
			if cmp == 0 {
				continue
			}
			if o.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	maxRows := it.env.MaxRowsPerBatch
	if maxRows < 1 {
		maxRows = len(rows) + 1
	}
	bld := batch.NewBuilder(it.schema)
	for _, ref := range rows {
		if err := bld.AppendBatchRow(ref.b, ref.row); err != nil {
			return err
		}
		if bld.Len() >= maxRows {
			it.sorted = append(it.sorted, bld.Build())
		}
	}
	if bld.Len() > 0 || len(it.sorted) == 0 {
		it.sorted = append(it.sorted, bld.Build())
	}
	return nil
}

// CompareRows orders two rows by one column: -1, 0 or 1, with nulls
// sorting first. Shared with the coordinator's ordered result merge.
func CompareRows(lb *batch.Batch, lrow int, rb *batch.Batch, rrow int, col int) int {
	lc, rc := lb.Column(col), rb.Column(col)
	lnull, rnull := lc.IsNull(lrow), rc.IsNull(rrow)
	switch {
	case lnull && rnull:
		return 0
	case lnull:
		return -1
	case rnull:
		return 1
	}
	switch lc.Type().(type) {
	case *schema.BoolColumnType:
		lv, rv := lc.Bool(lrow), rc.Bool(rrow)
		switch {
		case !lv && rv:
			return -1
		case lv && !rv:
			return 1
		}
		return 0
	case *schema.Float64ColumnType:
		lv, rv := lc.Float64(lrow), rc.Float64(rrow)
		switch {
		case lv < rv:
			return -1
		case lv > rv:
			return 1
		}
		return 0
	case *schema.StringColumnType:
		lv, rv := lc.String(lrow), rc.String(rrow)
		switch {
		case lv < rv:
			return -1
		case lv > rv:
			return 1
		}
		return 0
	default:
		lv, rv := lc.Int64(lrow), rc.Int64(rrow)
		switch {
		case lv < rv:
			return -1
		case lv > rv:
			return 1
		}
		return 0
	}
}
