package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/aosanya/workflowforge/internal/execctx"
	"github.com/aosanya/workflowforge/internal/task"
	"github.com/aosanya/workflowforge/internal/workflow"
)

// Sequential runs a workflow's tasks one at a time in executionOrder,
// branching on nextTaskOnSuccess/nextTaskOnFailure and suspending the
// workflow whenever a task demands a user review, lands in AWAITING_RETRY,
// or is dispatched to a queue.
type Sequential struct {
	tasks     TaskService
	workflows WorkflowService
}

// NewSequential wires a Sequential strategy.
func NewSequential(tasks TaskService, workflows WorkflowService) *Sequential {
	return &Sequential{tasks: tasks, workflows: workflows}
}

// Type implements Strategy.
func (s *Sequential) Type() workflow.StrategyType { return workflow.StrategySequential }

// Execute implements Strategy.
func (s *Sequential) Execute(ctx context.Context, wf *workflow.Execution, def *workflow.WorkflowDefinition, ec *execctx.Context) (workflow.Status, error) {
	return s.run(ctx, wf, def, ec, nil)
}

// ExecuteSubset implements Strategy.
func (s *Sequential) ExecuteSubset(ctx context.Context, wf *workflow.Execution, def *workflow.WorkflowDefinition, ec *execctx.Context, taskIDs []string) (workflow.Status, error) {
	return s.run(ctx, wf, def, ec, toSet(taskIDs))
}

func (s *Sequential) run(ctx context.Context, wf *workflow.Execution, def *workflow.WorkflowDefinition, ec *execctx.Context, subset map[string]bool) (workflow.Status, error) {
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

		t, err := s.resolveTask(ctx, wf.ID, td)
		if err != nil {
			return workflow.StatusFailed, err
		}

		if subset == nil && td.RequireUserReview && t.Status == task.StatusPending {
			if err := openReviewGate(ctx, s.workflows, wf, t.ID); err != nil {
				return workflow.StatusFailed, err
			}
			if err := s.workflows.SetCurrentTaskIndex(ctx, wf.ID, index); err != nil {
				return workflow.StatusFailed, err
			}
			return workflow.StatusAwaitingUserReview, nil
		}

		if t.Status == task.StatusPending || t.Status == task.StatusAwaitingRetry {
			configuration := configFromDefinition(td.Configuration)
			timeout := time.Duration(td.TimeoutSeconds) * time.Second
			t, err = s.tasks.Execute(ctx, t.ID, ec, configuration, timeout)
			if err != nil {
				return workflow.StatusFailed, err
			}
		}

		switch t.Status {
		case task.StatusCompleted:
			ec.Merge(t.Outputs)
			if err := s.workflows.MergeVariables(ctx, wf.ID, t.Outputs); err != nil {
				return workflow.StatusFailed, err
			}

			next, err := nextIndex(def, td.NextTaskOnSuccess, index)
			if err != nil {
				return workflow.StatusFailed, err
			}
			index = next

		case task.StatusFailed:
			next, status, err := s.branchOnFailure(ctx, wf, def, td, index)
			if err != nil {
				return workflow.StatusFailed, err
			}
			if status != "" {
				return status, nil
			}
			index = next

		case task.StatusSkipped:
			index++

		case task.StatusAwaitingRetry, task.StatusRunning:
			if err := s.workflows.SetCurrentTaskIndex(ctx, wf.ID, index); err != nil {
				return workflow.StatusFailed, err
			}
			return workflow.StatusRunning, nil

		case task.StatusCancelled:
			return workflow.StatusCancelled, nil

		default:
			return workflow.StatusFailed, fmt.Errorf("unexpected task status %s for task %s", t.Status, t.ID)
		}

		if err := s.workflows.SetCurrentTaskIndex(ctx, wf.ID, index); err != nil {
			return workflow.StatusFailed, err
		}
	}

	return workflow.StatusCompleted, nil
}

func (s *Sequential) resolveTask(ctx context.Context, workflowExecutionID string, td workflow.TaskDefinition) (*task.Execution, error) {
	existing, err := findExistingTask(ctx, s.tasks, workflowExecutionID, td.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return s.tasks.Create(ctx, workflowExecutionID, td.ID, td.Type, toTaskMode(td.ExecutionMode), td.RetryLimit, nil)
}

// branchOnFailure resolves a failed task's nextTaskOnFailure branch. If no
// branch is configured the workflow terminates FAILED.
func (s *Sequential) branchOnFailure(ctx context.Context, wf *workflow.Execution, def *workflow.WorkflowDefinition, td workflow.TaskDefinition, currentIndex int) (int, workflow.Status, error) {
	if td.NextTaskOnFailure == "" {
		if err := s.workflows.SetCurrentTaskIndex(ctx, wf.ID, currentIndex); err != nil {
			return 0, "", err
		}
		return 0, workflow.StatusFailed, nil
	}
	idx := def.IndexOf(td.NextTaskOnFailure)
	if idx < 0 {
		return 0, "", fmt.Errorf("failure branch target task %q not found in workflow definition %s", td.NextTaskOnFailure, def.ID)
	}
	return idx, "", nil
}
