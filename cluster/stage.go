// Package cluster coordinates distributed query execution: it cuts a
// validated physical plan into stages at data-movement boundaries,
// schedules stages over a task pool in dependency order, and collects
// the final stage's output into the client-visible result stream.
package cluster

import (
	"fmt"

	"github.com/quarrydb/quarry/errors"
	"github.com/quarrydb/quarry/plan"
)

// Stage is a subgraph of operators bounded by exchange boundaries. A
// stage executes one task per partition, only once every dependency
// stage has materialized its output, and is torn down with the query.
type Stage struct {
	ID           int
	Root         *plan.Node
	Dependencies []int
	Partitions   int
}

// IsBroadcast returns true iff this stage materializes a broadcast or
// bloom-filter artifact. Broadcast-producing stages wait only on their
// own dependencies, never on sibling stages, so duplicate broadcast
// subtrees execute speculatively and concurrently.
func (s *Stage) IsBroadcast() bool {
	return s.Root.Kind == plan.BroadcastExchangeKind || s.Root.Kind == plan.BloomBuildKind
}

// StageDAG is the dependency graph of a cut plan. Stages are indexed by
// ID, children before parents, with explicit adjacency rather than
// pointer links so cancellation and ownership stay simple.
type StageDAG struct {
	Stages     []*Stage
	RootStage  int
	byBoundary map[int]int // boundary plan-node ID -> producing stage ID
}

// ProducerOf returns the stage that materializes a boundary plan node
func (dag *StageDAG) ProducerOf(nodeID int) (int, bool) {
	sid, ok := dag.byBoundary[nodeID]
	return sid, ok
}

// CutStages partitions a validated plan into stages by cutting at every
// exchange, broadcast and bloom-build boundary, and computes the
// dependency DAG among them
func CutStages(root *plan.Node, defaultPartitions int) (*StageDAG, error) {
	dag := &StageDAG{byBoundary: make(map[int]int)}
	rootStage, err := dag.build(root, defaultPartitions)
	if err != nil {
		return nil, err
	}
	dag.RootStage = rootStage
	return dag, nil
}

// build creates the stage rooted at a subtree, creating dependency
// stages for any boundary nodes found below it first
func (dag *StageDAG) build(root *plan.Node, defaultPartitions int) (int, error) {
	stage := &Stage{Root: root}
	var inputExchanges []*plan.Node
	var walk func(n *plan.Node) error
	walk = func(n *plan.Node) error {
		for _, child := range n.Children {
			if child.IsBoundary() {
				depID, err := dag.build(child, defaultPartitions)
				if err != nil {
					return err
				}
				stage.Dependencies = append(stage.Dependencies, depID)
				if child.Kind == plan.ExchangeKind {
					inputExchanges = append(inputExchanges, child)
				}
				continue
			}
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return 0, err
	}

	switch {
	case root.Kind == plan.BloomBuildKind:
		// a single task drains the candidate subquery into one filter
		stage.Partitions = 1
	case len(inputExchanges) > 0:
		stage.Partitions = effectivePartitions(inputExchanges[0], defaultPartitions)
		for _, ex := range inputExchanges[1:] {
			if effectivePartitions(ex, defaultPartitions) != stage.Partitions {
				return 0, errors.PlanValidationError{
					Node:   fmt.Sprintf("%s#%d", root.Kind, root.ID),
					Reason: "stage reads exchanges with differing partition counts",
				}
			}
		}
	default:
		stage.Partitions = defaultPartitions
	}

	stage.ID = len(dag.Stages)
	dag.Stages = append(dag.Stages, stage)
	if root.IsBoundary() {
		dag.byBoundary[root.ID] = stage.ID
	}
	return stage.ID, nil
}

// effectivePartitions resolves an Exchange node's partition count,
// falling back to the executor default
func effectivePartitions(ex *plan.Node, defaultPartitions int) int {
	if ex.Partitions > 0 {
		return ex.Partitions
	}
	return defaultPartitions
}
