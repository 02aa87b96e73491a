// Package stats tracks per-operator and per-stage execution statistics
// for a running query, including the build-side cardinality sketches
// that inform broadcast-versus-shuffle join selection.
package stats

import (
	"sync"
	"time"

	"github.com/axiomhq/hyperloglog"
)

// OperatorStats accumulates execution counters for one plan operator
type OperatorStats struct {
	Name    string
	RowsIn  int64
	RowsOut int64
	Batches int64
	Bytes   int64
	Runtime time.Duration
}

// StageStats rolls up one stage's task executions
type StageStats struct {
	StageID int
	Tasks   int
	Retries int
	RowsOut int64
	Runtime time.Duration
}

// RunStatistics contains statistics about a running query. All methods
// are safe for concurrent use by worker tasks.
type RunStatistics struct {
	lock      sync.Mutex
	started   bool
	startTime time.Time
	runtime   time.Duration

	operators map[int]*OperatorStats
	stages    map[int]*StageStats
	ndv       map[int]*hyperloglog.Sketch
}

// CreateRunStatistics is a factory for RunStatistics
func CreateRunStatistics() *RunStatistics {
	return &RunStatistics{
		operators: make(map[int]*OperatorStats),
		stages:    make(map[int]*StageStats),
		ndv:       make(map[int]*hyperloglog.Sketch),
	}
}

// Start triggers statistics tracking, if it hasn't been started already
func (rs *RunStatistics) Start() {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	if !rs.started {
		rs.started = true
		rs.startTime = time.Now()
	}
}

// Finish completes statistics tracking
func (rs *RunStatistics) Finish() {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	rs.runtime = time.Since(rs.startTime)
}

// RecordOperator accumulates one task's counters for a plan operator
func (rs *RunStatistics) RecordOperator(nodeID int, name string, rowsIn int64, rowsOut int64, batches int64, bytes int64, runtime time.Duration) {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	op, ok := rs.operators[nodeID]
	if !ok {
		op = &OperatorStats{Name: name}
		rs.operators[nodeID] = op
	}
	op.RowsIn += rowsIn
	op.RowsOut += rowsOut
	op.Batches += batches
	op.Bytes += bytes
	op.Runtime += runtime
}

// OperatorRowsOut returns the rows recorded as produced by one operator
// so far
func (rs *RunStatistics) OperatorRowsOut(nodeID int) int64 {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	if op, ok := rs.operators[nodeID]; ok {
		return op.RowsOut
	}
	return 0
}

// StartStage registers a stage before its tasks fan out
func (rs *RunStatistics) StartStage(stageID int, tasks int) {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	rs.stages[stageID] = &StageStats{StageID: stageID, Tasks: tasks}
}

// EndStage records a stage's wall time once all of its tasks complete
func (rs *RunStatistics) EndStage(stageID int, runtime time.Duration, rowsOut int64) {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	if s, ok := rs.stages[stageID]; ok {
		s.Runtime = runtime
		s.RowsOut += rowsOut
	}
}

// RecordRetry counts one task retry within a stage
func (rs *RunStatistics) RecordRetry(stageID int) {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	if s, ok := rs.stages[stageID]; ok {
		s.Retries++
	}
}

// ObserveBuildKey feeds one join build-side key into that join's
// cardinality sketch
func (rs *RunStatistics) ObserveBuildKey(nodeID int, key []byte) {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	sketch, ok := rs.ndv[nodeID]
	if !ok {
		sketch = hyperloglog.New14()
		rs.ndv[nodeID] = sketch
	}
	sketch.Insert(key)
}

// EstimatedBuildNDV returns the estimated number of distinct build-side
// keys observed for a join, or 0 if none were recorded
func (rs *RunStatistics) EstimatedBuildNDV(nodeID int) uint64 {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	sketch, ok := rs.ndv[nodeID]
	if !ok {
		return 0
	}
	return sketch.Estimate()
}

// Summary is the terminal metrics report streamed to the client after
// the last result batch
type Summary struct {
	Runtime   time.Duration
	Operators []OperatorStats
	Stages    []StageStats
	BuildNDV  map[int]uint64
}

// Summarize produces the terminal metrics summary
func (rs *RunStatistics) Summarize() *Summary {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	summary := &Summary{
		Runtime:  rs.runtime,
		BuildNDV: make(map[int]uint64, len(rs.ndv)),
	}
	for _, op := range rs.operators {
		summary.Operators = append(summary.Operators, *op)
	}
	for _, s := range rs.stages {
		summary.Stages = append(summary.Stages, *s)
	}
	for nodeID, sketch := range rs.ndv {
		summary.BuildNDV[nodeID] = sketch.Estimate()
	}
	return summary
}
