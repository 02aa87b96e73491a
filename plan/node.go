// Package plan defines the physical operator tree consumed by the
// execution runtime. Plans arrive already optimized; this package only
// validates them, derives schemas, and describes them for introspection.
package plan

import (
	"github.com/quarrydb/quarry/expr"
	"github.com/quarrydb/quarry/schema"
)

// Kind discriminates physical operator variants. The runtime dispatches
// on Kind rather than through an interface hierarchy, which keeps stage
// cutting and task construction a flat switch.
type Kind int

const (
	// ScanKind reads a column projection of a table from the storage collaborator
	ScanKind Kind = iota
	// FilterKind applies a boolean predicate, and optionally a bloom-filter probe
	FilterKind
	// ProjectKind computes named output columns from expressions
	ProjectKind
	// ExchangeKind repartitions rows across workers by a partition key
	ExchangeKind
	// BroadcastExchangeKind replicates its entire input to all consumers
	BroadcastExchangeKind
	// HashAggregateKind groups rows and accumulates reducible state
	HashAggregateKind
	// HashJoinKind joins a streamed probe side against a broadcast build side
	HashJoinKind
	// SortKind imposes the client-visible result order
	SortKind
	// UnionKind concatenates homogeneous inputs
	UnionKind
	// BloomBuildKind builds a probabilistic membership filter from a candidate column
	BloomBuildKind
)

// String returns the operator name for a Kind
func (k Kind) String() string {
	switch k {
	case ScanKind:
		return "Scan"
	case FilterKind:
		return "Filter"
	case ProjectKind:
		return "Project"
	case ExchangeKind:
		return "Exchange"
	case BroadcastExchangeKind:
		return "BroadcastExchange"
	case HashAggregateKind:
		return "HashAggregate"
	case HashJoinKind:
		return "HashJoin"
	case SortKind:
		return "Sort"
	case UnionKind:
		return "Union"
	case BloomBuildKind:
		return "BloomBuild"
	}
	return "Unknown"
}

// JoinType selects the join variant applied during probing
type JoinType int

const (
	// InnerJoin drops probe rows whose key is absent from the build side
	InnerJoin JoinType = iota
	// LeftOuterJoin emits unmatched probe rows null-padded on the build side
	LeftOuterJoin
)

// String returns a textual representation of this JoinType
func (jt JoinType) String() string {
	if jt == LeftOuterJoin {
		return "left-outer"
	}
	return "inner"
}

// AggFunc names a reduction whose merge is associative and commutative
type AggFunc int

const (
	// AggSum accumulates a running sum, treating null contributions as zero
	AggSum AggFunc = iota
	// AggCount counts rows with a non-null argument (or all rows when Arg is nil)
	AggCount
)

// String returns a textual representation of this AggFunc
func (f AggFunc) String() string {
	if f == AggCount {
		return "count"
	}
	return "sum"
}

// AggPhase distinguishes the two halves of the shuffle-split aggregation
// protocol, plus a single-pass mode for undistributed execution
type AggPhase int

const (
	// PartialPhase accumulates per input partition, before the shuffle
	PartialPhase AggPhase = iota
	// FinalPhase merges partial accumulators after the key-routed shuffle
	FinalPhase
	// SinglePhase accumulates and finalizes in one pass
	SinglePhase
)

// String returns a textual representation of this AggPhase
func (p AggPhase) String() string {
	switch p {
	case PartialPhase:
		return "partial"
	case FinalPhase:
		return "final"
	}
	return "single"
}

// AggSpec describes one accumulator column of a HashAggregate
type AggSpec struct {
	Name string
	Func AggFunc
	Arg  *expr.Expr
}

// Projection is one named output column of a Project
type Projection struct {
	Name string
	Expr *expr.Expr
}

// Ordering is one sort key of a Sort
type Ordering struct {
	Col  string
	Desc bool
}

// BloomProbe attaches a runtime-built membership filter to a Filter,
// pruning rows whose probed column is definitely absent from the
// candidate set before they reach a join
type BloomProbe struct {
	Build *Node
	Col   string
}

// Node is one operator of a physical plan tree. Exactly the fields
// relevant to Kind are populated. IDs and output schemas are assigned
// by Validate.
type Node struct {
	ID       int
	Kind     Kind
	Children []*Node

	Table   string
	Columns []string

	Predicate *expr.Expr
	Probe     *BloomProbe

	Projections []Projection

	PartitionKeys []string
	Partitions    int

	GroupBy    []string
	Aggregates []AggSpec
	Phase      AggPhase

	JoinType  JoinType
	ProbeKeys []string
	BuildKeys []string

	OrderBy []Ordering

	BloomColumn string
	BloomFPP    float64

	outSchema *schema.Schema
}

// OutputSchema returns the schema this operator emits. Valid only after
// the plan has passed Validate.
func (n *Node) OutputSchema() *schema.Schema {
	return n.outSchema
}

// NewScan reads the named columns of a table
func NewScan(table string, columns ...string) *Node {
	return &Node{Kind: ScanKind, Table: table, Columns: columns}
}

// NewFilter applies a predicate to its input
func NewFilter(child *Node, predicate *expr.Expr) *Node {
	return &Node{Kind: FilterKind, Children: []*Node{child}, Predicate: predicate}
}

// WithBloomProbe attaches a bloom-filter probe to a Filter. The build
// node becomes a plan dependency of the Filter's stage, so the filter is
// always fully built and broadcast before the probed scan starts.
func (n *Node) WithBloomProbe(build *Node, col string) *Node {
	n.Probe = &BloomProbe{Build: build, Col: col}
	n.Children = append(n.Children, build)
	return n
}

// NewProject computes named columns from expressions over its input
func NewProject(child *Node, projections ...Projection) *Node {
	return &Node{Kind: ProjectKind, Children: []*Node{child}, Projections: projections}
}

// NewExchange repartitions its input by key across the given number of
// partitions (0 means the executor default)
func NewExchange(child *Node, partitionKeys []string, partitions int) *Node {
	return &Node{Kind: ExchangeKind, Children: []*Node{child}, PartitionKeys: partitionKeys, Partitions: partitions}
}

// NewBroadcastExchange replicates its entire input to every consumer
func NewBroadcastExchange(child *Node) *Node {
	return &Node{Kind: BroadcastExchangeKind, Children: []*Node{child}}
}

// NewHashAggregate groups its input and accumulates the given specs
func NewHashAggregate(child *Node, groupBy []string, aggregates []AggSpec, phase AggPhase) *Node {
	return &Node{Kind: HashAggregateKind, Children: []*Node{child}, GroupBy: groupBy, Aggregates: aggregates, Phase: phase}
}

// NewHashJoin joins a probe side against a build side, which must be a
// BroadcastExchange
func NewHashJoin(probe *Node, build *Node, joinType JoinType, probeKeys []string, buildKeys []string) *Node {
	return &Node{
		Kind:      HashJoinKind,
		Children:  []*Node{probe, build},
		JoinType:  joinType,
		ProbeKeys: probeKeys,
		BuildKeys: buildKeys,
	}
}

// NewSort imposes a total order on its input
func NewSort(child *Node, orderBy ...Ordering) *Node {
	return &Node{Kind: SortKind, Children: []*Node{child}, OrderBy: orderBy}
}

// NewUnion concatenates inputs sharing a schema
func NewUnion(children ...*Node) *Node {
	return &Node{Kind: UnionKind, Children: children}
}

// NewBloomBuild builds a membership filter over a candidate key column
func NewBloomBuild(child *Node, column string, targetFPP float64) *Node {
	return &Node{Kind: BloomBuildKind, Children: []*Node{child}, BloomColumn: column, BloomFPP: targetFPP}
}

// IsBoundary returns true iff this operator separates stages: its output
// is materialized and moved rather than streamed within a task
func (n *Node) IsBoundary() bool {
	switch n.Kind {
	case ExchangeKind, BroadcastExchangeKind, BloomBuildKind:
		return true
	}
	return false
}

// Walk visits this subtree postorder
func (n *Node) Walk(fn func(*Node) error) error {
	for _, child := range n.Children {
		if err := child.Walk(fn); err != nil {
			return err
		}
	}
	return fn(n)
}
