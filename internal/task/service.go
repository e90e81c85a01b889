package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/aosanya/workflowforge/internal/apperror"
	"github.com/aosanya/workflowforge/internal/eventbus"
	"github.com/aosanya/workflowforge/internal/execctx"
	"github.com/aosanya/workflowforge/internal/executor"
	"github.com/aosanya/workflowforge/internal/queue"
	"github.com/aosanya/workflowforge/internal/retry"
)

// Service owns the task execution state machine: create, execute, complete,
// fail, skip, and the due-retry query driving the scheduler.
type Service struct {
	repo        Repository
	registry    *executor.Registry
	events      *eventbus.Bus
	retryPolicy retry.Policy
	queue       *queue.Client
	sem         chan struct{}
}

// NewService wires a task Service. poolSize bounds how many LOCAL task
// executions may run concurrently (workflow.task.execution.thread-pool-size).
// queueClient may be nil when no task type uses QUEUED execution mode.
func NewService(repo Repository, registry *executor.Registry, events *eventbus.Bus, policy retry.Policy, queueClient *queue.Client, poolSize int) *Service {
	if poolSize <= 0 {
		poolSize = 10
	}
	return &Service{
		repo:        repo,
		registry:    registry,
		events:      events,
		retryPolicy: policy,
		queue:       queueClient,
		sem:         make(chan struct{}, poolSize),
	}
}

// Create persists a new PENDING task execution and fires TaskCreated.
func (s *Service) Create(ctx context.Context, workflowExecutionID, taskDefinitionID, taskType string, mode ExecutionMode, retryLimit int, inputs map[string]string) (*Execution, error) {
	t := &Execution{
		ID:                  uuid.New().String(),
		WorkflowExecutionID: workflowExecutionID,
		TaskDefinitionID:    taskDefinitionID,
		TaskType:            taskType,
		Status:              StatusPending,
		ExecutionMode:       mode,
		RetryLimit:          retryLimit,
		Inputs:              inputs,
		Outputs:             make(map[string]string),
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create task execution: %w", err)
	}

	s.publish(eventbus.KindTaskCreated, t, "")
	return t, nil
}

// Execute transitions a PENDING or AWAITING_RETRY task to RUNNING and
// dispatches it. LOCAL tasks run synchronously (bounded by the execution
// thread pool) and return with a terminal-or-AWAITING_RETRY status. QUEUED
// tasks are published to the task-dispatch queue and return immediately
// still RUNNING; their resolution arrives later via the async result
// ingress.
func (s *Service) Execute(ctx context.Context, id string, ec *execctx.Context, configuration map[string]interface{}, timeout time.Duration) (*Execution, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusPending && t.Status != StatusAwaitingRetry {
		return nil, apperror.StateErrorf("task %s cannot execute from status %s", id, t.Status)
	}

	now := time.Now().UTC()
	t.Status = StatusRunning
	t.StartedAt = &now
	t.CompletedAt = nil
	t.ErrorMessage = ""
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("persist task running state: %w", err)
	}
	s.publish(eventbus.KindTaskStarted, t, "")

	if t.ExecutionMode == ModeQueued {
		msg := queue.TaskMessage{
			WorkflowExecutionID: t.WorkflowExecutionID,
			TaskExecutionID:     t.ID,
			TaskType:            t.TaskType,
			Configuration:       configuration,
			DispatchedAt:        now,
		}
		if s.queue == nil {
			return nil, fmt.Errorf("task %s is QUEUED but no queue client is configured", id)
		}
		if err := s.queue.PublishTask(msg); err != nil {
			return s.Fail(ctx, id, err.Error())
		}
		return t, nil
	}

	return s.runLocal(ctx, t, ec, configuration, timeout)
}

func (s *Service) runLocal(ctx context.Context, t *Execution, ec *execctx.Context, configuration map[string]interface{}, timeout time.Duration) (*Execution, error) {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	outputs, execErr := s.safeDispatch(runCtx, t.TaskType, configuration, ec)
	if execErr != nil {
		var valErr *executor.ValidationError
		if errors.As(execErr, &valErr) {
			log.WithError(execErr).WithField("task", t.ID).Warn("task configuration invalid, failing without retry")
			return s.forceFail(ctx, t, execErr.Error())
		}
		return s.Fail(ctx, t.ID, execErr.Error())
	}

	out := make(map[string]string, len(outputs))
	for k, v := range outputs {
		out[k] = fmt.Sprintf("%v", v)
	}
	return s.Complete(ctx, t.ID, out)
}

// safeDispatch recovers a panicking executor into an ExecutorError so one
// bad executor cannot crash the task service's worker pool.
func (s *Service) safeDispatch(ctx context.Context, taskType string, configuration map[string]interface{}, ec *execctx.Context) (outputs map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &executor.ExecutorError{TaskType: taskType, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return s.registry.Dispatch(ctx, executor.Definition{TaskType: taskType, Configuration: configuration}, ec)
}

// Complete transitions a RUNNING task to COMPLETED, merging outputs. A
// PENDING task may also complete directly: the review service does this when
// a reviewer approves a task that was never dispatched because it suspended
// behind a review gate first.
func (s *Service) Complete(ctx context.Context, id string, outputs map[string]string) (*Execution, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusRunning && t.Status != StatusPending {
		return nil, apperror.StateErrorf("task %s cannot complete from status %s", id, t.Status)
	}

	now := time.Now().UTC()
	t.Status = StatusCompleted
	t.CompletedAt = &now
	if t.Outputs == nil {
		t.Outputs = make(map[string]string)
	}
	for k, v := range outputs {
		t.Outputs[k] = v
	}

	if err := s.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("persist task completion: %w", err)
	}
	s.publish(eventbus.KindTaskCompleted, t, "")
	return t, nil
}

// Fail handles a task's failure: AWAITING_RETRY if the task's own retryLimit
// allows another attempt, else terminal FAILED. A no-op on a task already
// FAILED: callers like the async ingress or the stuck-workflow scheduler
// cannot always know whether a fail was already processed. Also accepts a
// PENDING task: the review service calls this when a reviewer rejects a task
// that was never dispatched because it suspended behind a review gate first.
func (s *Service) Fail(ctx context.Context, id string, errMsg string) (*Execution, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusFailed {
		return t, nil
	}
	if t.Status != StatusRunning && t.Status != StatusPending {
		return nil, apperror.StateErrorf("task %s cannot fail from status %s", id, t.Status)
	}

	t.ErrorMessage = errMsg

	if t.RetryCount < t.RetryLimit {
		t.RetryCount++
		next := s.retryPolicy.NextRetryAt(time.Now().UTC(), t.RetryCount)
		t.Status = StatusAwaitingRetry
		t.NextRetryAt = &next
		if err := s.repo.Update(ctx, t); err != nil {
			return nil, fmt.Errorf("persist task retry schedule: %w", err)
		}
		s.publish(eventbus.KindTaskRetryScheduled, t, errMsg)
		return t, nil
	}

	return s.forceFail(ctx, t, errMsg)
}

func (s *Service) forceFail(ctx context.Context, t *Execution, errMsg string) (*Execution, error) {
	now := time.Now().UTC()
	t.Status = StatusFailed
	t.CompletedAt = &now
	t.ErrorMessage = errMsg
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("persist task failure: %w", err)
	}
	s.publish(eventbus.KindTaskFailed, t, errMsg)
	return t, nil
}

// Skip transitions a PENDING task directly to SKIPPED, used by the
// Conditional strategy when its guard expression evaluates false.
func (s *Service) Skip(ctx context.Context, id string) (*Execution, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusPending {
		return nil, apperror.StateErrorf("task %s cannot skip from status %s", id, t.Status)
	}

	now := time.Now().UTC()
	t.Status = StatusSkipped
	t.CompletedAt = &now
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("persist task skip: %w", err)
	}
	s.publish(eventbus.KindTaskSkipped, t, "")
	return t, nil
}

// Cancel transitions any non-terminal task to CANCELLED, used when the
// owning workflow is cancelled.
func (s *Service) Cancel(ctx context.Context, id string) (*Execution, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status.IsTerminal() {
		return t, nil
	}

	now := time.Now().UTC()
	t.Status = StatusCancelled
	t.CompletedAt = &now
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("persist task cancellation: %w", err)
	}
	return t, nil
}

// Get returns a task execution by id.
func (s *Service) Get(ctx context.Context, id string) (*Execution, error) {
	return s.repo.Get(ctx, id)
}

// Reset prepares a task for re-run: PENDING, cleared timestamps/outputs/
// error, retryCount reset to 0. Used by the engine's restartTask operation.
func (s *Service) Reset(ctx context.Context, id string) (*Execution, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Status = StatusPending
	t.StartedAt = nil
	t.CompletedAt = nil
	t.ErrorMessage = ""
	t.RetryCount = 0
	t.NextRetryAt = nil
	t.Outputs = make(map[string]string)
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("persist task reset: %w", err)
	}
	return t, nil
}

// TasksToRetry returns tasks awaiting retry whose nextRetryAt has passed.
func (s *Service) TasksToRetry(ctx context.Context, now time.Time) ([]*Execution, error) {
	return s.repo.TasksToRetry(ctx, now)
}

// ListByWorkflow returns every task execution owned by a workflow execution.
func (s *Service) ListByWorkflow(ctx context.Context, workflowExecutionID string) ([]*Execution, error) {
	return s.repo.ListByWorkflow(ctx, workflowExecutionID)
}

// DeleteByWorkflow removes every task execution owned by a workflow
// execution, used by the retention sweep once the owning workflow itself
// has passed its retention threshold.
func (s *Service) DeleteByWorkflow(ctx context.Context, workflowExecutionID string) error {
	return s.repo.DeleteByWorkflow(ctx, workflowExecutionID)
}

func (s *Service) publish(kind eventbus.Kind, t *Execution, message string) {
	if s.events == nil {
		return
	}
	s.events.Publish(eventbus.Event{
		Kind:                kind,
		WorkflowExecutionID: t.WorkflowExecutionID,
		TaskExecutionID:     t.ID,
		Attributes: map[string]interface{}{
			"taskType":   t.TaskType,
			"retryCount": t.RetryCount,
			"message":    message,
		},
	})
}
