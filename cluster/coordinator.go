package cluster

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/panjf2000/ants/v2"
	"github.com/quarrydb/quarry/config"
	"github.com/quarrydb/quarry/datasource"
	"github.com/quarrydb/quarry/engine"
	"github.com/quarrydb/quarry/errors"
	"github.com/quarrydb/quarry/exchange"
	"github.com/quarrydb/quarry/logging"
	"github.com/quarrydb/quarry/plan"
	"github.com/quarrydb/quarry/stats"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Coordinator accepts physical plans and drives their distributed
// execution: validation, stage cutting, scheduling over a shared task
// pool, and result collection. A Coordinator may run any number of
// queries concurrently; queries share the task pool and nothing else.
type Coordinator struct {
	conf   *config.Config
	source datasource.DataSource
	log    *zap.Logger
	pool   *ants.Pool
}

// CreateCoordinator is a factory for Coordinators over a DataSource
func CreateCoordinator(conf *config.Config, source datasource.DataSource) (*Coordinator, error) {
	conf.FillDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	pool, err := ants.NewPool(conf.TaskSlots)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		conf:   conf,
		source: source,
		log:    logging.NewLogger(conf.LogLevel),
		pool:   pool,
	}, nil
}

// Close releases the Coordinator's task pool. In-flight queries are not
// interrupted; cancel their contexts first.
func (c *Coordinator) Close() {
	c.pool.Release()
	_ = c.log.Sync()
}

// Analyze validates a plan and reports its output schema and structure
// without executing it
func (c *Coordinator) Analyze(root *plan.Node) (*plan.Analysis, error) {
	return plan.Analyze(root, c.source)
}

// query is the in-flight state of one submitted plan: the cut stage
// DAG, plus the materialization target of every boundary node
type query struct {
	id         string
	dag        *StageDAG
	exchanges  map[int]*exchange.Exchange
	broadcasts map[int]*exchange.Broadcast
	filters    map[int]*exchange.FilterHandoff
	builds     *engine.BuildCache
	stats      *stats.RunStatistics
	collector  *collector
	done       []chan struct{} // per stage, closed on success
}

// SubmitPlan validates a physical plan and begins executing it,
// returning a ResultStream immediately. Plan validation failures are
// returned synchronously; execution failures arrive on the stream.
func (c *Coordinator) SubmitPlan(ctx context.Context, root *plan.Node) (*ResultStream, error) {
	if err := plan.Validate(root, c.source); err != nil {
		return nil, err
	}
	dag, err := CutStages(root, c.conf.Partitions)
	if err != nil {
		return nil, err
	}
	q, err := c.prepare(dag)
	if err != nil {
		return nil, err
	}
	rs := createResultStream()
	c.log.Info("Submitted plan",
		zap.String("query", q.id),
		zap.Int("stages", len(dag.Stages)),
	)
	go c.execute(ctx, q, rs)
	return rs, nil
}

// prepare allocates the materialization target for every boundary
// stage: an Exchange, a Broadcast dataset or a FilterHandoff
func (c *Coordinator) prepare(dag *StageDAG) (*query, error) {
	codec, err := exchange.CreateCodec(c.conf.Codec)
	if err != nil {
		return nil, err
	}
	q := &query{
		id:         uuid.Must(uuid.NewV4()).String(),
		dag:        dag,
		exchanges:  make(map[int]*exchange.Exchange),
		broadcasts: make(map[int]*exchange.Broadcast),
		filters:    make(map[int]*exchange.FilterHandoff),
		builds:     engine.CreateBuildCache(),
		stats:      stats.CreateRunStatistics(),
		collector:  createCollector(),
		done:       make([]chan struct{}, len(dag.Stages)),
	}
	for _, stage := range dag.Stages {
		q.done[stage.ID] = make(chan struct{})
		switch stage.Root.Kind {
		case plan.ExchangeKind:
			consumers := effectivePartitions(stage.Root, c.conf.Partitions)
			q.exchanges[stage.Root.ID] = exchange.CreateExchange(
				stage.Root.OutputSchema(), codec, stage.Partitions, consumers)
		case plan.BroadcastExchangeKind:
			q.broadcasts[stage.Root.ID] = exchange.CreateBroadcast(stage.ID, c.conf.BroadcastCeilingBytes)
		case plan.BloomBuildKind:
			q.filters[stage.Root.ID] = exchange.CreateFilterHandoff()
		}
	}
	return q, nil
}

// execute runs every stage of the query in dependency order and
// terminates the result stream with either the merged result and a
// metrics summary or the first failure
func (c *Coordinator) execute(ctx context.Context, q *query, rs *ResultStream) {
	q.stats.Start()
	group, groupCtx := errgroup.WithContext(ctx)
	for _, stage := range q.dag.Stages {
		stage := stage
		group.Go(func() error {
			return c.runStage(groupCtx, q, stage)
		})
	}
	if err := group.Wait(); err != nil {
		c.log.Warn("Query failed",
			zap.String("query", q.id),
			zap.Error(err),
		)
		rs.fail(err)
		return
	}
	rootStage := q.dag.Stages[q.dag.RootStage]
	if err := q.collector.stream(ctx, rootStage.Root, rootStage.Partitions, c.conf.MaxRowsPerBatch, rs); err != nil {
		rs.fail(err)
		return
	}
	q.stats.Finish()
	c.log.Info("Query finished", zap.String("query", q.id))
	rs.finish(q.stats.Summarize())
}

// runStage waits for the stage's dependencies, fans its tasks out over
// the pool, and publishes its materialized output. Broadcast and
// bloom-build stages complete their artifact even on failure so blocked
// consumers observe the error instead of hanging.
func (c *Coordinator) runStage(ctx context.Context, q *query, stage *Stage) error {
	for _, dep := range stage.Dependencies {
		select {
		case <-q.done[dep]:
		case <-ctx.Done():
			return errors.StageDependencyError{StageID: stage.ID, DependencyID: dep, Cause: ctx.Err()}
		}
	}
	start := time.Now()
	q.stats.StartStage(stage.ID, stage.Partitions)
	c.log.Debug("Starting stage",
		zap.String("query", q.id),
		zap.Int("stage", stage.ID),
		zap.Int("tasks", stage.Partitions),
	)
	err := c.runStageTasks(ctx, q, stage)
	if err == nil {
		err = ctx.Err()
	}
	switch stage.Root.Kind {
	case plan.BroadcastExchangeKind:
		q.broadcasts[stage.Root.ID].Finish(err)
	case plan.BloomBuildKind:
		if err != nil {
			q.filters[stage.Root.ID].Publish(nil, err)
		}
	}
	if err != nil {
		return err
	}
	q.stats.EndStage(stage.ID, time.Since(start), q.stats.OperatorRowsOut(stageOutputNode(stage).ID))
	close(q.done[stage.ID])
	return nil
}

// stageOutputNode is the last pipeline operator of a stage: the boundary
// node's child for producing stages, the root itself for the result stage
func stageOutputNode(stage *Stage) *plan.Node {
	if stage.Root.IsBoundary() {
		return stage.Root.Children[0]
	}
	return stage.Root
}

// runStageTasks submits one task per partition to the shared pool and
// waits for all of them, combining every partition's failure
func (c *Coordinator) runStageTasks(ctx context.Context, q *query, stage *Stage) error {
	var wg sync.WaitGroup
	var lock sync.Mutex
	var taskErrs *multierror.Error
	for partition := 0; partition < stage.Partitions; partition++ {
		partition := partition
		wg.Add(1)
		submitErr := c.pool.Submit(func() {
			defer wg.Done()
			if err := c.runTaskWithRetry(ctx, q, stage, partition); err != nil {
				lock.Lock()
				taskErrs = multierror.Append(taskErrs, err)
				lock.Unlock()
			}
		})
		if submitErr != nil {
			wg.Done()
			lock.Lock()
			taskErrs = multierror.Append(taskErrs, submitErr)
			lock.Unlock()
			break
		}
	}
	wg.Wait()
	return taskErrs.ErrorOrNil()
}

// runTaskWithRetry executes one task, re-running transient failures up
// to the configured retry bound. Exhausting the bound wraps the last
// cause in a TaskExecutionError naming the stage and task.
func (c *Coordinator) runTaskWithRetry(ctx context.Context, q *query, stage *Stage, partition int) error {
	var lastErr error
	for attempt := 0; attempt <= c.conf.MaxTaskRetries; attempt++ {
		if attempt > 0 {
			q.stats.RecordRetry(stage.ID)
			c.log.Debug("Retrying task",
				zap.String("query", q.id),
				zap.Int("stage", stage.ID),
				zap.Int("task", partition),
				zap.Int("attempt", attempt),
			)
		}
		lastErr = c.runTask(ctx, q, stage, partition)
		if lastErr == nil {
			return nil
		}
		if isFatal(lastErr) {
			return lastErr
		}
	}
	return errors.TaskExecutionError{
		StageID:  stage.ID,
		TaskID:   partition,
		Attempts: c.conf.MaxTaskRetries + 1,
		Cause:    lastErr,
	}
}

// isFatal returns true iff a task failure cannot be cured by re-running
// the task. Plan defects and resource ceilings are deterministic;
// cancellation means the query is already being torn down.
func isFatal(err error) bool {
	switch err.(type) {
	case errors.PlanValidationError, errors.ResourceExceededError:
		return true
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}
