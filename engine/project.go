package engine

import (
	"github.com/quarrydb/quarry/batch"
	"github.com/quarrydb/quarry/datasource"
	"github.com/quarrydb/quarry/plan"
	"github.com/quarrydb/quarry/schema"
)

// projectIterator computes named output columns from expressions over
// each input batch
type projectIterator struct {
	input       datasource.BatchIterator
	projections []plan.Projection
	outSchema   *schema.Schema
}

func buildProject(env *Env, n *plan.Node) (datasource.BatchIterator, error) {
	input, err := Build(env, n.Children[0])
	if err != nil {
		return nil, err
	}
	return &projectIterator{input: input, projections: n.Projections, outSchema: n.OutputSchema()}, nil
}

// NextBatch projects the next input Batch
func (it *projectIterator) NextBatch() (*batch.Batch, error) {
	b, err := it.input.NextBatch()
	if err != nil {
		return nil, err
	}
	bld := batch.NewBuilder(it.outSchema)
	vals := make([]interface{}, len(it.projections))
	for row := 0; row < b.Len(); row++ {
		for i, p := range it.projections {
			v, err := p.Expr.Evaluate(b, row)
			if err != nil {
				return nil, err
			}
			vals[i] = v.Boxed()
		}
		if err := bld.AppendRow(vals...); err != nil {
			return nil, err
		}
	}
	return bld.Build(), nil
}
