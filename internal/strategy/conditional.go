package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/aosanya/workflowforge/internal/condition"
	"github.com/aosanya/workflowforge/internal/execctx"
	"github.com/aosanya/workflowforge/internal/task"
	"github.com/aosanya/workflowforge/internal/workflow"
)

// Conditional runs a workflow's tasks in executionOrder like Sequential, but
// first evaluates each task's conditionalExpression: a task whose guard
// evaluates false is skipped outright instead of dispatched, and only a
// true guard permits branching on nextTaskOnSuccess/nextTaskOnFailure. A
// task with no conditionalExpression always runs.
type Conditional struct {
	tasks     TaskService
	workflows WorkflowService
	evaluator *condition.Evaluator
}

// NewConditional wires a Conditional strategy.
func NewConditional(tasks TaskService, workflows WorkflowService, evaluator *condition.Evaluator) *Conditional {
	if evaluator == nil {
		evaluator = condition.NewEvaluator()
	}
	return &Conditional{tasks: tasks, workflows: workflows, evaluator: evaluator}
}

// Type implements Strategy.
func (c *Conditional) Type() workflow.StrategyType { return workflow.StrategyConditional }

// Execute implements Strategy.
func (c *Conditional) Execute(ctx context.Context, wf *workflow.Execution, def *workflow.WorkflowDefinition, ec *execctx.Context) (workflow.Status, error) {
	return c.run(ctx, wf, def, ec, nil)
}

// ExecuteSubset implements Strategy.
func (c *Conditional) ExecuteSubset(ctx context.Context, wf *workflow.Execution, def *workflow.WorkflowDefinition, ec *execctx.Context, taskIDs []string) (workflow.Status, error) {
	return c.run(ctx, wf, def, ec, toSet(taskIDs))
}

func (c *Conditional) run(ctx context.Context, wf *workflow.Execution, def *workflow.WorkflowDefinition, ec *execctx.Context, subset map[string]bool) (workflow.Status, error) {
	if len(def.Tasks) == 0 {
		return workflow.StatusCompleted, nil
	}

	index := wf.CurrentTaskIndex
	if subset != nil {
		index = 0
	}

	for index >= 0 && index < len(def.Tasks) {
		td := def.Tasks[index]
		if subset != nil && !subset[td.ID] {
			index++
			continue
		}

		t, err := c.resolveTask(ctx, wf.ID, td)
		if err != nil {
			return workflow.StatusFailed, err
		}

		if t.Status == task.StatusPending {
			guardTrue, err := c.evaluateGuard(ctx, td, ec)
			if err != nil {
				return workflow.StatusFailed, err
			}
			if !guardTrue {
				t, err = c.tasks.Skip(ctx, t.ID)
				if err != nil {
					return workflow.StatusFailed, err
				}
			}
		}

		if subset == nil && td.RequireUserReview && t.Status == task.StatusPending {
			if err := openReviewGate(ctx, c.workflows, wf, t.ID); err != nil {
				return workflow.StatusFailed, err
			}
			if err := c.workflows.SetCurrentTaskIndex(ctx, wf.ID, index); err != nil {
				return workflow.StatusFailed, err
			}
			return workflow.StatusAwaitingUserReview, nil
		}

		if t.Status == task.StatusPending || t.Status == task.StatusAwaitingRetry {
			configuration := configFromDefinition(td.Configuration)
			timeout := time.Duration(td.TimeoutSeconds) * time.Second
			t, err = c.tasks.Execute(ctx, t.ID, ec, configuration, timeout)
			if err != nil {
				return workflow.StatusFailed, err
			}
		}

		switch t.Status {
		case task.StatusCompleted:
			ec.Merge(t.Outputs)
			if err := c.workflows.MergeVariables(ctx, wf.ID, t.Outputs); err != nil {
				return workflow.StatusFailed, err
			}
			next, err := nextIndex(def, td.NextTaskOnSuccess, index)
			if err != nil {
				return workflow.StatusFailed, err
			}
			index = next

		case task.StatusSkipped:
			index++

		case task.StatusFailed:
			if td.NextTaskOnFailure == "" {
				if err := c.workflows.SetCurrentTaskIndex(ctx, wf.ID, index); err != nil {
					return workflow.StatusFailed, err
				}
				return workflow.StatusFailed, nil
			}
			idx := def.IndexOf(td.NextTaskOnFailure)
			if idx < 0 {
				return workflow.StatusFailed, fmt.Errorf("failure branch target task %q not found in workflow definition %s", td.NextTaskOnFailure, def.ID)
			}
			index = idx

		case task.StatusAwaitingRetry, task.StatusRunning:
			if err := c.workflows.SetCurrentTaskIndex(ctx, wf.ID, index); err != nil {
				return workflow.StatusFailed, err
			}
			return workflow.StatusRunning, nil

		case task.StatusCancelled:
			return workflow.StatusCancelled, nil

		default:
			return workflow.StatusFailed, fmt.Errorf("unexpected task status %s for task %s", t.Status, t.ID)
		}

		if err := c.workflows.SetCurrentTaskIndex(ctx, wf.ID, index); err != nil {
			return workflow.StatusFailed, err
		}
	}

	return workflow.StatusCompleted, nil
}

func (c *Conditional) evaluateGuard(ctx context.Context, td workflow.TaskDefinition, ec *execctx.Context) (bool, error) {
	if td.ConditionalExpression == "" {
		return true, nil
	}
	return c.evaluator.Evaluate(ctx, td.ConditionalExpression, ec)
}

func (c *Conditional) resolveTask(ctx context.Context, workflowExecutionID string, td workflow.TaskDefinition) (*task.Execution, error) {
	existing, err := findExistingTask(ctx, c.tasks, workflowExecutionID, td.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return c.tasks.Create(ctx, workflowExecutionID, td.ID, td.Type, toTaskMode(td.ExecutionMode), td.RetryLimit, nil)
}
