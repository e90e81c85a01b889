package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aosanya/workflowforge/internal/apperror"
	"github.com/aosanya/workflowforge/internal/eventbus"
)

// Service owns the workflow execution state machine: creation,
// pause/resume/cancel/retry, deletion, and the queries the scheduler and
// API depend on.
type Service struct {
	definitions DefinitionRepository
	executions  ExecutionRepository
	events      *eventbus.Bus
}

// NewService wires a workflow Service.
func NewService(definitions DefinitionRepository, executions ExecutionRepository, events *eventbus.Bus) *Service {
	return &Service{definitions: definitions, executions: executions, events: events}
}

// Definitions exposes the definition repository for handlers/CRUD.
func (s *Service) Definitions() DefinitionRepository { return s.definitions }

// CreateDefinition persists a new, immutable workflow definition. Updating a
// definition means creating a new version, not mutating this one.
func (s *Service) CreateDefinition(ctx context.Context, d *WorkflowDefinition) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	return s.definitions.Create(ctx, d)
}

// StartWorkflow creates a new CREATED workflow execution for the given
// definition identity and seed variables, and fires WorkflowCreated.
func (s *Service) StartWorkflow(ctx context.Context, name, version string, variables map[string]string) (*Execution, error) {
	def, err := s.definitions.GetByNameVersion(ctx, name, version)
	if err != nil {
		return nil, err
	}

	if variables == nil {
		variables = make(map[string]string)
	}
	e := &Execution{
		ID:                   uuid.New().String(),
		WorkflowDefinitionID: def.ID,
		CorrelationID:        uuid.New().String(),
		Status:               StatusCreated,
		CurrentTaskIndex:     0,
		Variables:            variables,
	}
	if err := s.executions.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("create workflow execution: %w", err)
	}

	s.publish(eventbus.KindWorkflowCreated, e, "")
	return e, nil
}

// Get returns a workflow execution by id.
func (s *Service) Get(ctx context.Context, id string) (*Execution, error) {
	return s.executions.Get(ctx, id)
}

// GetByCorrelationID returns a workflow execution by its correlation id.
func (s *Service) GetByCorrelationID(ctx context.Context, correlationID string) (*Execution, error) {
	return s.executions.GetByCorrelationID(ctx, correlationID)
}

// ListByStatus returns every workflow execution in the given status.
func (s *Service) ListByStatus(ctx context.Context, status Status) ([]*Execution, error) {
	return s.executions.ListByStatus(ctx, status)
}

// FindCompletedOlderThan returns terminal executions completed before t.
func (s *Service) FindCompletedOlderThan(ctx context.Context, t time.Time) ([]*Execution, error) {
	return s.executions.FindCompletedOlderThan(ctx, t)
}

// FindPausedOlderThan returns PAUSED executions started before t.
func (s *Service) FindPausedOlderThan(ctx context.Context, t time.Time) ([]*Execution, error) {
	return s.executions.FindPausedOlderThan(ctx, t)
}

// Definition loads the WorkflowDefinition an execution belongs to.
func (s *Service) Definition(ctx context.Context, e *Execution) (*WorkflowDefinition, error) {
	return s.definitions.Get(ctx, e.WorkflowDefinitionID)
}

var legalTransitions = map[Status]map[Status]bool{
	StatusCreated: {
		StatusRunning: true,
	},
	StatusRunning: {
		StatusCompleted:          true,
		StatusFailed:             true,
		StatusCancelled:          true,
		StatusPaused:             true,
		StatusAwaitingUserReview: true,
		StatusRunning:            true,
	},
	StatusPaused: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusAwaitingUserReview: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusFailed: {
		StatusRunning: true,
	},
}

// UpdateStatus validates and applies a workflow status transition, setting
// completedAt iff the new status is terminal, and publishing StatusChanged.
func (s *Service) UpdateStatus(ctx context.Context, id string, newStatus Status) (*Execution, error) {
	e, err := s.executions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status.IsTerminal() {
		return nil, apperror.StateErrorf("workflow %s is terminal (%s), cannot transition to %s", id, e.Status, newStatus)
	}
	if !legalTransitions[e.Status][newStatus] {
		return nil, apperror.StateErrorf("illegal transition for workflow %s: %s -> %s", id, e.Status, newStatus)
	}

	oldStatus := e.Status
	e.Status = newStatus
	if e.Status == StatusRunning && e.StartedAt == nil {
		now := time.Now().UTC()
		e.StartedAt = &now
	}
	if newStatus.IsTerminal() {
		now := time.Now().UTC()
		e.CompletedAt = &now
	}

	if err := s.executions.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("persist workflow status transition: %w", err)
	}

	s.publish(eventbus.KindWorkflowStatusChanged, e, fmt.Sprintf("%s -> %s", oldStatus, newStatus))
	s.publishForStatus(e)
	return e, nil
}

// Pause transitions a RUNNING workflow to PAUSED.
func (s *Service) Pause(ctx context.Context, id string) (*Execution, error) {
	return s.UpdateStatus(ctx, id, StatusPaused)
}

// Resume transitions a PAUSED workflow back to RUNNING. Callers then invoke
// the engine to re-drive execution.
func (s *Service) Resume(ctx context.Context, id string) (*Execution, error) {
	return s.UpdateStatus(ctx, id, StatusRunning)
}

// Cancel transitions a non-terminal workflow to CANCELLED immediately.
// In-flight local tasks are allowed to finish, but their later persistence
// must detect the cancelled parent and discard the result.
func (s *Service) Cancel(ctx context.Context, id string) (*Execution, error) {
	return s.UpdateStatus(ctx, id, StatusCancelled)
}

// RetryWorkflow transitions a FAILED workflow back to RUNNING, incrementing
// retryCount.
func (s *Service) RetryWorkflow(ctx context.Context, id string) (*Execution, error) {
	e, err := s.executions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusFailed {
		return nil, apperror.StateErrorf("workflow %s cannot retry from status %s", id, e.Status)
	}
	e.RetryCount++
	if err := s.executions.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("persist workflow retry count: %w", err)
	}
	return s.UpdateStatus(ctx, id, StatusRunning)
}

// RetrySubsetPrepare validates that id is FAILED or PAUSED ahead of a
// retrySubset(ids) call; retryCount is deliberately not reset here — only
// restartTask resets a task's own retryCount.
func (s *Service) RetrySubsetPrepare(ctx context.Context, id string) (*Execution, error) {
	e, err := s.executions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusFailed && e.Status != StatusPaused {
		return nil, apperror.StateErrorf("workflow %s cannot retry subset from status %s", id, e.Status)
	}
	return s.UpdateStatus(ctx, id, StatusRunning)
}

// MergeVariables folds outputs into the execution's shared variable map and
// persists the change.
func (s *Service) MergeVariables(ctx context.Context, id string, outputs map[string]string) error {
	e, err := s.executions.Get(ctx, id)
	if err != nil {
		return err
	}
	if e.Variables == nil {
		e.Variables = make(map[string]string)
	}
	for k, v := range outputs {
		e.Variables[k] = v
	}
	return s.executions.Update(ctx, e)
}

// SetCurrentTaskIndex persists a new currentTaskIndex, used by the engine
// when a branch jumps backward or forward in the ordered task list.
func (s *Service) SetCurrentTaskIndex(ctx context.Context, id string, index int) error {
	e, err := s.executions.Get(ctx, id)
	if err != nil {
		return err
	}
	e.CurrentTaskIndex = index
	return s.executions.Update(ctx, e)
}

// SetErrorMessage persists the execution's errorMessage without changing
// its status.
func (s *Service) SetErrorMessage(ctx context.Context, id string, message string) error {
	e, err := s.executions.Get(ctx, id)
	if err != nil {
		return err
	}
	e.ErrorMessage = message
	return s.executions.Update(ctx, e)
}

// AddReviewPoint appends a review point to the execution's ordered list.
func (s *Service) AddReviewPoint(ctx context.Context, id string, rp UserReviewPoint) error {
	e, err := s.executions.Get(ctx, id)
	if err != nil {
		return err
	}
	e.ReviewPoints = append(e.ReviewPoints, rp)
	return s.executions.Update(ctx, e)
}

// UpdateReviewPoint replaces a review point matching rp.ID in place.
func (s *Service) UpdateReviewPoint(ctx context.Context, id string, rp UserReviewPoint) error {
	e, err := s.executions.Get(ctx, id)
	if err != nil {
		return err
	}
	found := false
	for i := range e.ReviewPoints {
		if e.ReviewPoints[i].ID == rp.ID {
			e.ReviewPoints[i] = rp
			found = true
			break
		}
	}
	if !found {
		return apperror.NotFoundf("review point %s on workflow %s", rp.ID, id)
	}
	return s.executions.Update(ctx, e)
}

// Delete removes a terminal workflow execution. Callers are responsible for
// cascading deletes of owned task executions (task.Service.DeleteByWorkflow)
// before or after calling this, since ownership crosses package boundaries.
func (s *Service) Delete(ctx context.Context, id string) error {
	e, err := s.executions.Get(ctx, id)
	if err != nil {
		return err
	}
	if !e.Status.IsTerminal() {
		return apperror.StateErrorf("workflow %s must be terminal to delete, is %s", id, e.Status)
	}
	return s.executions.Delete(ctx, id)
}

func (s *Service) publishForStatus(e *Execution) {
	var kind eventbus.Kind
	switch e.Status {
	case StatusRunning:
		kind = eventbus.KindWorkflowStarted
	case StatusCompleted:
		kind = eventbus.KindWorkflowCompleted
	case StatusFailed:
		kind = eventbus.KindWorkflowFailed
	case StatusPaused:
		kind = eventbus.KindWorkflowPaused
	case StatusCancelled:
		kind = eventbus.KindWorkflowCancelled
	case StatusAwaitingUserReview:
		kind = eventbus.KindUserReviewRequested
	default:
		return
	}
	s.publish(kind, e, "")
}

func (s *Service) publish(kind eventbus.Kind, e *Execution, message string) {
	if s.events == nil {
		return
	}
	s.events.Publish(eventbus.Event{
		Kind:                kind,
		WorkflowExecutionID: e.ID,
		CorrelationID:       e.CorrelationID,
		Attributes: map[string]interface{}{
			"status":  string(e.Status),
			"message": message,
		},
	})
}
