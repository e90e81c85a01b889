package strategy

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aosanya/workflowforge/internal/execctx"
	"github.com/aosanya/workflowforge/internal/task"
	"github.com/aosanya/workflowforge/internal/workflow"
)

// Parallel creates every targeted task up front and dispatches them through
// a bounded worker pool, then aggregates their outcomes: any FAILED task
// fails the workflow, else any still-suspended task (AWAITING_RETRY or a
// QUEUED dispatch still RUNNING) leaves the workflow RUNNING, else the
// workflow completes. requireUserReview is not supported on parallel tasks
// (logged and ignored) since there is no single sequential point to suspend
// at — reviewing one branch while its siblings keep running has no clean
// semantics.
type Parallel struct {
	tasks     TaskService
	workflows WorkflowService
	poolSize  int
}

// NewParallel wires a Parallel strategy. poolSize bounds how many tasks this
// strategy dispatches concurrently; defaults to 10.
func NewParallel(tasks TaskService, workflows WorkflowService, poolSize int) *Parallel {
	if poolSize <= 0 {
		poolSize = 10
	}
	return &Parallel{tasks: tasks, workflows: workflows, poolSize: poolSize}
}

// Type implements Strategy.
func (p *Parallel) Type() workflow.StrategyType { return workflow.StrategyParallel }

// Execute implements Strategy.
func (p *Parallel) Execute(ctx context.Context, wf *workflow.Execution, def *workflow.WorkflowDefinition, ec *execctx.Context) (workflow.Status, error) {
	return p.run(ctx, wf, def, ec, nil)
}

// ExecuteSubset implements Strategy.
func (p *Parallel) ExecuteSubset(ctx context.Context, wf *workflow.Execution, def *workflow.WorkflowDefinition, ec *execctx.Context, taskIDs []string) (workflow.Status, error) {
	return p.run(ctx, wf, def, ec, toSet(taskIDs))
}

func (p *Parallel) run(ctx context.Context, wf *workflow.Execution, def *workflow.WorkflowDefinition, ec *execctx.Context, subset map[string]bool) (workflow.Status, error) {
	var targets []workflow.TaskDefinition
	for _, td := range def.Tasks {
		if subset != nil && !subset[td.ID] {
			continue
		}
		if td.RequireUserReview {
			log.WithField("task", td.ID).Warn("requireUserReview is ignored under the parallel strategy")
		}
		targets = append(targets, td)
	}
	if len(targets) == 0 {
		return workflow.StatusCompleted, nil
	}

	results := make([]*task.Execution, len(targets))
	errs := make([]error, len(targets))
	sem := make(chan struct{}, p.poolSize)
	var wg sync.WaitGroup

	for i, td := range targets {
		t, err := p.resolveTask(ctx, wf.ID, td)
		if err != nil {
			return workflow.StatusFailed, err
		}
		if t.Status != task.StatusPending && t.Status != task.StatusAwaitingRetry {
			results[i] = t
			continue
		}

		wg.Add(1)
		go func(i int, td workflow.TaskDefinition, t *task.Execution) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				errs[i] = ctx.Err()
				return
			}

			configuration := configFromDefinition(td.Configuration)
			timeout := time.Duration(td.TimeoutSeconds) * time.Second
			r, err := p.tasks.Execute(ctx, t.ID, ec, configuration, timeout)
			results[i] = r
			errs[i] = err
		}(i, td, t)
	}
	wg.Wait()

	status := workflow.StatusCompleted
	for i, r := range results {
		if errs[i] != nil {
			return workflow.StatusFailed, errs[i]
		}
		if r == nil {
			continue
		}
		if err := p.workflows.MergeVariables(ctx, wf.ID, r.Outputs); err != nil {
			return workflow.StatusFailed, err
		}
		switch r.Status {
		case task.StatusFailed:
			status = workflow.StatusFailed
		case task.StatusAwaitingRetry, task.StatusRunning:
			if status != workflow.StatusFailed {
				status = workflow.StatusRunning
			}
		case task.StatusCancelled:
			if status != workflow.StatusFailed && status != workflow.StatusRunning {
				status = workflow.StatusCancelled
			}
		}
	}
	return status, nil
}

func (p *Parallel) resolveTask(ctx context.Context, workflowExecutionID string, td workflow.TaskDefinition) (*task.Execution, error) {
	existing, err := findExistingTask(ctx, p.tasks, workflowExecutionID, td.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return p.tasks.Create(ctx, workflowExecutionID, td.ID, td.Type, toTaskMode(td.ExecutionMode), td.RetryLimit, nil)
}
