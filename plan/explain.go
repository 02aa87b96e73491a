package plan

import (
	"fmt"
	"strings"

	"github.com/quarrydb/quarry/schema"
)

// Analysis describes a plan's output without executing it
type Analysis struct {
	ColumnNames   []string
	ColumnTypes   []schema.ColumnType
	ExplainString string
}

// Analyze validates a plan and returns its output column names, types
// and textual explanation, for pre-execution introspection
func Analyze(root *Node, catalog Catalog) (*Analysis, error) {
	if err := Validate(root, catalog); err != nil {
		return nil, err
	}
	out := root.OutputSchema()
	return &Analysis{
		ColumnNames:   out.ColumnNames(),
		ColumnTypes:   out.ColumnTypes(),
		ExplainString: Explain(root),
	}, nil
}

// Explain renders a plan as an indented operator tree
func Explain(root *Node) string {
	var sb strings.Builder
	explainNode(&sb, root, 0)
	return sb.String()
}

func explainNode(sb *strings.Builder, n *Node, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(describe(n))
	sb.WriteString("\n")
	for _, child := range n.Children {
		explainNode(sb, child, depth+1)
	}
}

func describe(n *Node) string {
	switch n.Kind {
	case ScanKind:
		return fmt.Sprintf("Scan table=%s columns=(%s)", n.Table, strings.Join(n.Columns, ", "))
	case FilterKind:
		if n.Probe != nil {
			return fmt.Sprintf("Filter predicate=%s bloom=%s", n.Predicate, n.Probe.Col)
		}
		return fmt.Sprintf("Filter predicate=%s", n.Predicate)
	case ProjectKind:
		names := make([]string, len(n.Projections))
		for i, p := range n.Projections {
			names[i] = fmt.Sprintf("%s=%s", p.Name, p.Expr)
		}
		return fmt.Sprintf("Project (%s)", strings.Join(names, ", "))
	case ExchangeKind:
		return fmt.Sprintf("Exchange keys=(%s) partitions=%d", strings.Join(n.PartitionKeys, ", "), n.Partitions)
	case BroadcastExchangeKind:
		return "BroadcastExchange"
	case HashAggregateKind:
		aggs := make([]string, len(n.Aggregates))
		for i, a := range n.Aggregates {
			aggs[i] = fmt.Sprintf("%s:%s", a.Name, a.Func)
		}
		return fmt.Sprintf("HashAggregate[%s] groupBy=(%s) aggs=(%s)", n.Phase, strings.Join(n.GroupBy, ", "), strings.Join(aggs, ", "))
	case HashJoinKind:
		return fmt.Sprintf("HashJoin[%s] probeKeys=(%s) buildKeys=(%s)", n.JoinType, strings.Join(n.ProbeKeys, ", "), strings.Join(n.BuildKeys, ", "))
	case SortKind:
		keys := make([]string, len(n.OrderBy))
		for i, o := range n.OrderBy {
			if o.Desc {
				keys[i] = o.Col + " desc"
			} else {
				keys[i] = o.Col
			}
		}
		return fmt.Sprintf("Sort by=(%s)", strings.Join(keys, ", "))
	case UnionKind:
		return fmt.Sprintf("Union inputs=%d", len(n.Children))
	case BloomBuildKind:
		return fmt.Sprintf("BloomBuild column=%s fpp=%g", n.BloomColumn, n.BloomFPP)
	}
	return n.Kind.String()
}
