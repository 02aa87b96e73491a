package plan

import (
	"fmt"

	"github.com/quarrydb/quarry/errors"
	"github.com/quarrydb/quarry/schema"
)

// Catalog resolves table schemas for Scan leaves. The storage
// collaborator's DataSource satisfies it.
type Catalog interface {
	TableSchema(table string) (*schema.Schema, error)
}

// Validate assigns node IDs, derives every operator's output schema and
// verifies operator/input compatibility, returning a PlanValidationError
// on the first mismatch. A plan must pass Validate before execution.
func Validate(root *Node, catalog Catalog) error {
	if root.IsBoundary() {
		return errors.PlanValidationError{
			Node:   root.Kind.String(),
			Reason: "plan root cannot be a data-movement boundary",
		}
	}
	nextID := 0
	return root.Walk(func(n *Node) error {
		n.ID = nextID
		nextID++
		return deriveSchema(n, catalog)
	})
}

func deriveSchema(n *Node, catalog Catalog) error {
	fail := func(reason string) error {
		return errors.PlanValidationError{Node: fmt.Sprintf("%s#%d", n.Kind, n.ID), Reason: reason}
	}
	switch n.Kind {
	case ScanKind:
		tableSchema, err := catalog.TableSchema(n.Table)
		if err != nil {
			return fail(err.Error())
		}
		out, err := tableSchema.Project(n.Columns...)
		if err != nil {
			return fail(err.Error())
		}
		n.outSchema = out
	case FilterKind:
		in := n.Children[0].outSchema
		if n.Predicate == nil {
			return fail("filter requires a predicate")
		}
		predType, err := n.Predicate.TypeCheck(in)
		if err != nil {
			return err
		}
		if _, ok := predType.(*schema.BoolColumnType); !ok {
			return fail(fmt.Sprintf("predicate has type %s, expected bool", predType))
		}
		if n.Probe != nil {
			if !in.HasColumn(n.Probe.Col) {
				return fail(fmt.Sprintf("bloom probe column %s is not in input schema", n.Probe.Col))
			}
			if n.Probe.Build.Kind != BloomBuildKind {
				return fail("bloom probe dependency is not a BloomBuild")
			}
		}
		n.outSchema = in
	case ProjectKind:
		in := n.Children[0].outSchema
		cols := make([]schema.Column, len(n.Projections))
		for i, p := range n.Projections {
			t, err := p.Expr.TypeCheck(in)
			if err != nil {
				return err
			}
			cols[i] = schema.Column{Name: p.Name, Type: t}
		}
		out, err := schema.CreateSchema(cols...)
		if err != nil {
			return fail(err.Error())
		}
		n.outSchema = out
	case ExchangeKind:
		in := n.Children[0].outSchema
		for _, key := range n.PartitionKeys {
			if !in.HasColumn(key) {
				return fail(fmt.Sprintf("partition key %s is not in input schema", key))
			}
		}
		if n.Partitions < 0 {
			return fail("partition count cannot be negative")
		}
		n.outSchema = in
	case BroadcastExchangeKind:
		n.outSchema = n.Children[0].outSchema
	case HashAggregateKind:
		in := n.Children[0].outSchema
		cols := make([]schema.Column, 0, len(n.GroupBy)+len(n.Aggregates))
		for _, g := range n.GroupBy {
			idx, err := in.Offset(g)
			if err != nil {
				return fail(err.Error())
			}
			cols = append(cols, in.Column(idx))
		}
		for _, spec := range n.Aggregates {
			t, err := aggOutputType(spec, in, n.Phase)
			if err != nil {
				return fail(err.Error())
			}
			cols = append(cols, schema.Column{Name: spec.Name, Type: t})
		}
		out, err := schema.CreateSchema(cols...)
		if err != nil {
			return fail(err.Error())
		}
		n.outSchema = out
	case HashJoinKind:
		if len(n.Children) != 2 {
			return fail("hash join requires probe and build children")
		}
		if n.Children[1].Kind != BroadcastExchangeKind {
			return fail("hash join build side must be a BroadcastExchange")
		}
		probe, build := n.Children[0].outSchema, n.Children[1].outSchema
		if len(n.ProbeKeys) == 0 || len(n.ProbeKeys) != len(n.BuildKeys) {
			return fail("probe and build key lists must be non-empty and of equal length")
		}
		for i := range n.ProbeKeys {
			pidx, err := probe.Offset(n.ProbeKeys[i])
			if err != nil {
				return fail(err.Error())
			}
			bidx, err := build.Offset(n.BuildKeys[i])
			if err != nil {
				return fail(err.Error())
			}
			pt, bt := probe.Column(pidx).Type, build.Column(bidx).Type
			if !schema.TypesEqual(pt, bt) {
				return fail(fmt.Sprintf("join key types do not match: %s vs %s", pt, bt))
			}
		}
		out, err := probe.Concat(build)
		if err != nil {
			return fail(err.Error())
		}
		n.outSchema = out
	case SortKind:
		in := n.Children[0].outSchema
		for _, o := range n.OrderBy {
			if !in.HasColumn(o.Col) {
				return fail(fmt.Sprintf("sort column %s is not in input schema", o.Col))
			}
		}
		n.outSchema = in
	case UnionKind:
		if len(n.Children) == 0 {
			return fail("union requires at least one input")
		}
		first := n.Children[0].outSchema
		for _, child := range n.Children[1:] {
			if err := first.Equals(child.outSchema); err != nil {
				return fail(fmt.Sprintf("union inputs have mismatched schemas: %v", err))
			}
		}
		n.outSchema = first
	case BloomBuildKind:
		in := n.Children[0].outSchema
		out, err := in.Project(n.BloomColumn)
		if err != nil {
			return fail(err.Error())
		}
		n.outSchema = out
	default:
		return fail("unknown operator kind")
	}
	return nil
}

// aggOutputType derives an accumulator column's type. Int32 sums widen
// to int64 so distributed merges cannot overflow sooner than a
// single-pass run would.
func aggOutputType(spec AggSpec, in *schema.Schema, phase AggPhase) (schema.ColumnType, error) {
	switch spec.Func {
	case AggCount:
		if spec.Arg != nil {
			if _, err := spec.Arg.TypeCheck(in); err != nil {
				return nil, err
			}
		}
		return &schema.Int64ColumnType{}, nil
	case AggSum:
		if spec.Arg == nil {
			return nil, fmt.Errorf("sum aggregate %s requires an argument", spec.Name)
		}
		t, err := spec.Arg.TypeCheck(in)
		if err != nil {
			return nil, err
		}
		// the final phase re-sums partial accumulator columns, so its
		// argument is already the widened type
		if !schema.IsNumeric(t) {
			return nil, fmt.Errorf("sum aggregate %s has non-numeric argument type %s", spec.Name, t)
		}
		if _, ok := t.(*schema.Int32ColumnType); ok {
			return &schema.Int64ColumnType{}, nil
		}
		return t, nil
	}
	return nil, fmt.Errorf("unknown aggregate function for %s", spec.Name)
}
