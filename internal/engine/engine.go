// Package engine owns the Workflow Engine: strategy resolution, driving a
// workflow execution through its strategy until it lands on a terminal or
// suspended status, and restarting a single task within an
// otherwise-already-run workflow.
package engine

import (
	log "github.com/sirupsen/logrus"

	"github.com/aosanya/workflowforge/internal/apperror"
	"github.com/aosanya/workflowforge/internal/execctx"
	"github.com/aosanya/workflowforge/internal/strategy"
	"github.com/aosanya/workflowforge/internal/task"
	"github.com/aosanya/workflowforge/internal/workflow"

	"context"
	"fmt"
)

// Engine drives workflow executions through their resolved strategy.
type Engine struct {
	workflows  *workflow.Service
	tasks      *task.Service
	strategies *strategy.Registry
}

// New wires an Engine.
func New(workflows *workflow.Service, tasks *task.Service, strategies *strategy.Registry) *Engine {
	return &Engine{workflows: workflows, tasks: tasks, strategies: strategies}
}

// resolveStrategy looks up def's declared strategy, falling back to
// SEQUENTIAL with a warning if that exact strategy isn't registered. If
// SEQUENTIAL itself isn't registered, execution cannot proceed at all.
func (e *Engine) resolveStrategy(def *workflow.WorkflowDefinition) (strategy.Strategy, error) {
	if s, ok := e.strategies.Get(def.StrategyType); ok {
		return s, nil
	}

	log.WithFields(log.Fields{
		"workflowDefinition": def.ID,
		"strategyType":       def.StrategyType,
	}).Warn("strategy type not registered, falling back to SEQUENTIAL")

	if s, ok := e.strategies.Get(workflow.StrategySequential); ok {
		return s, nil
	}
	return nil, apperror.ConfigurationErrorf("no SEQUENTIAL fallback strategy registered, cannot drive workflow definition %s", def.ID)
}

// ExecuteWorkflow drives id's workflow execution through its strategy until
// it reaches a terminal status or suspends (AWAITING_RETRY, a QUEUED
// dispatch, or AWAITING_USER_REVIEW). A workflow whose status is anything
// other than CREATED or RUNNING is a no-op: terminal statuses admit no
// further transitions, and every other suspended status (PAUSED,
// AWAITING_USER_REVIEW) must be explicitly resumed first.
func (e *Engine) ExecuteWorkflow(ctx context.Context, id string) (*workflow.Execution, error) {
	wf, err := e.workflows.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.Status != workflow.StatusCreated && wf.Status != workflow.StatusRunning {
		return wf, nil
	}

	def, err := e.workflows.Definition(ctx, wf)
	if err != nil {
		return nil, fmt.Errorf("load workflow definition for execution %s: %w", id, err)
	}

	s, err := e.resolveStrategy(def)
	if err != nil {
		if _, updateErr := e.workflows.UpdateStatus(ctx, id, workflow.StatusFailed); updateErr != nil {
			log.WithError(updateErr).WithField("workflow", id).Error("failed to record configuration failure")
		}
		return nil, err
	}

	if wf.Status == workflow.StatusCreated {
		wf, err = e.workflows.UpdateStatus(ctx, id, workflow.StatusRunning)
		if err != nil {
			return nil, err
		}
	}

	ec := execctx.New(wf.Variables)
	result, runErr := s.Execute(ctx, wf, def, ec)
	if runErr != nil {
		if msgErr := e.workflows.SetErrorMessage(ctx, id, runErr.Error()); msgErr != nil {
			log.WithError(msgErr).WithField("workflow", id).Error("failed to record strategy error message")
		}
		if _, updateErr := e.workflows.UpdateStatus(ctx, id, workflow.StatusFailed); updateErr != nil {
			log.WithError(updateErr).WithField("workflow", id).Error("failed to record strategy failure")
		}
		return nil, fmt.Errorf("execute workflow %s: %w", id, runErr)
	}

	if result == workflow.StatusRunning {
		return e.workflows.Get(ctx, id)
	}
	return e.workflows.UpdateStatus(ctx, id, result)
}

// ExecuteTaskSubset re-drives only the named tasks of id's workflow
// execution through its strategy's ExecuteSubset, used by retrySubset.
func (e *Engine) ExecuteTaskSubset(ctx context.Context, id string, taskIDs []string) (*workflow.Execution, error) {
	wf, err := e.workflows.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	def, err := e.workflows.Definition(ctx, wf)
	if err != nil {
		return nil, fmt.Errorf("load workflow definition for execution %s: %w", id, err)
	}

	s, err := e.resolveStrategy(def)
	if err != nil {
		return nil, err
	}

	ec := execctx.New(wf.Variables)
	result, runErr := s.ExecuteSubset(ctx, wf, def, ec, taskIDs)
	if runErr != nil {
		if msgErr := e.workflows.SetErrorMessage(ctx, id, runErr.Error()); msgErr != nil {
			log.WithError(msgErr).WithField("workflow", id).Error("failed to record strategy error message")
		}
		if _, updateErr := e.workflows.UpdateStatus(ctx, id, workflow.StatusFailed); updateErr != nil {
			log.WithError(updateErr).WithField("workflow", id).Error("failed to record strategy failure")
		}
		return nil, fmt.Errorf("execute task subset for workflow %s: %w", id, runErr)
	}

	if result == workflow.StatusRunning {
		return e.workflows.Get(ctx, id)
	}
	return e.workflows.UpdateStatus(ctx, id, result)
}

// RestartTask resets a single task execution to PENDING, rewinds the
// workflow's currentTaskIndex to that task's position — including backward,
// when the task sits earlier than where the workflow currently stands, per
// the decided open question that a backward branch must be able to replay
// intervening tasks — and re-drives the workflow from there.
func (e *Engine) RestartTask(ctx context.Context, workflowExecutionID, taskDefinitionID string) (*workflow.Execution, error) {
	wf, err := e.workflows.Get(ctx, workflowExecutionID)
	if err != nil {
		return nil, err
	}
	def, err := e.workflows.Definition(ctx, wf)
	if err != nil {
		return nil, fmt.Errorf("load workflow definition for execution %s: %w", workflowExecutionID, err)
	}

	index := def.IndexOf(taskDefinitionID)
	if index < 0 {
		return nil, apperror.NotFoundf("task definition %s in workflow definition %s", taskDefinitionID, def.ID)
	}

	existing, err := e.findTaskExecution(ctx, workflowExecutionID, taskDefinitionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if _, err := e.tasks.Reset(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("reset task %s: %w", existing.ID, err)
		}
	}

	if err := e.workflows.SetCurrentTaskIndex(ctx, workflowExecutionID, index); err != nil {
		return nil, err
	}
	if _, err := e.workflows.UpdateStatus(ctx, workflowExecutionID, workflow.StatusRunning); err != nil {
		return nil, err
	}

	return e.ExecuteWorkflow(ctx, workflowExecutionID)
}

func (e *Engine) findTaskExecution(ctx context.Context, workflowExecutionID, taskDefinitionID string) (*task.Execution, error) {
	all, err := e.tasks.ListByWorkflow(ctx, workflowExecutionID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for workflow %s: %w", workflowExecutionID, err)
	}
	for _, t := range all {
		if t.TaskDefinitionID == taskDefinitionID {
			return t, nil
		}
	}
	return nil, nil
}
