// Package review implements the User Review Service: submitting a human
// decision against an open review point and driving the workflow forward
// according to that decision.
package review

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aosanya/workflowforge/internal/apperror"
	"github.com/aosanya/workflowforge/internal/engine"
	"github.com/aosanya/workflowforge/internal/eventbus"
	"github.com/aosanya/workflowforge/internal/task"
	"github.com/aosanya/workflowforge/internal/workflow"
)

// Service owns submission of human review decisions against suspended
// workflow executions.
type Service struct {
	workflows *workflow.Service
	tasks     *task.Service
	engine    *engine.Engine
	events    *eventbus.Bus
}

// New wires a review Service.
func New(workflows *workflow.Service, tasks *task.Service, eng *engine.Engine, events *eventbus.Bus) *Service {
	return &Service{workflows: workflows, tasks: tasks, engine: eng, events: events}
}

// PendingReviews returns every workflow execution currently suspended
// AWAITING_USER_REVIEW.
func (s *Service) PendingReviews(ctx context.Context) ([]*workflow.Execution, error) {
	return s.workflows.ListByStatus(ctx, workflow.StatusAwaitingUserReview)
}

// SubmitReview applies a human decision to the open review point on
// workflowExecutionID's execution. The reviewed task execution still sits
// PENDING, never having been dispatched, since it suspended behind its
// review gate before the strategy ran it:
//
//   - APPROVE: the reviewed task execution is completed directly (with
//     whatever outputs it already carries), the workflow resumes RUNNING,
//     and the engine re-drives it forward past that task.
//   - REJECT: the reviewed task execution is failed directly, the workflow
//     resumes RUNNING, and the engine re-drives it — following the task's
//     retryLimit and nextTaskOnFailure branch like any other failure.
//   - RESTART: the reviewed task is reset to PENDING and the engine replays
//     the workflow from that task's position.
func (s *Service) SubmitReview(ctx context.Context, workflowExecutionID, reviewPointID string, decision workflow.ReviewDecision, reviewer, comment string) (*workflow.Execution, error) {
	wf, err := s.workflows.Get(ctx, workflowExecutionID)
	if err != nil {
		return nil, err
	}
	if wf.Status != workflow.StatusAwaitingUserReview {
		return nil, apperror.StateErrorf("workflow %s is not awaiting review (status %s)", workflowExecutionID, wf.Status)
	}

	rp, ok := findReviewPoint(wf, reviewPointID)
	if !ok {
		return nil, apperror.NotFoundf("review point %s on workflow %s", reviewPointID, workflowExecutionID)
	}
	if !rp.Open() {
		return nil, apperror.StateErrorf("review point %s on workflow %s already decided", reviewPointID, workflowExecutionID)
	}

	now := time.Now().UTC()
	rp.ReviewedAt = &now
	rp.Reviewer = reviewer
	rp.Comment = comment
	rp.Decision = decision
	if err := s.workflows.UpdateReviewPoint(ctx, workflowExecutionID, *rp); err != nil {
		return nil, fmt.Errorf("persist review decision: %w", err)
	}
	s.publish(wf, rp, decision)

	switch decision {
	case workflow.DecisionApprove:
		taskExec, err := s.tasks.Get(ctx, rp.TaskExecutionID)
		if err != nil {
			return nil, err
		}
		if _, err := s.tasks.Complete(ctx, rp.TaskExecutionID, taskExec.Outputs); err != nil {
			return nil, fmt.Errorf("complete task %s: %w", rp.TaskExecutionID, err)
		}
		if _, err := s.workflows.UpdateStatus(ctx, workflowExecutionID, workflow.StatusRunning); err != nil {
			return nil, err
		}
		return s.engine.ExecuteWorkflow(ctx, workflowExecutionID)

	case workflow.DecisionReject:
		if _, err := s.tasks.Fail(ctx, rp.TaskExecutionID, fmt.Sprintf("Rejected by user: %s", reviewer)); err != nil {
			return nil, fmt.Errorf("fail task %s: %w", rp.TaskExecutionID, err)
		}
		if _, err := s.workflows.UpdateStatus(ctx, workflowExecutionID, workflow.StatusRunning); err != nil {
			return nil, err
		}
		return s.engine.ExecuteWorkflow(ctx, workflowExecutionID)

	case workflow.DecisionRestart:
		taskExec, err := s.tasks.Get(ctx, rp.TaskExecutionID)
		if err != nil {
			return nil, err
		}
		return s.engine.RestartTask(ctx, workflowExecutionID, taskExec.TaskDefinitionID)

	default:
		return nil, fmt.Errorf("unknown review decision %q", decision)
	}
}

func findReviewPoint(wf *workflow.Execution, reviewPointID string) (*workflow.UserReviewPoint, bool) {
	for i := range wf.ReviewPoints {
		if wf.ReviewPoints[i].ID == reviewPointID {
			return &wf.ReviewPoints[i], true
		}
	}
	return nil, false
}

func (s *Service) publish(wf *workflow.Execution, rp *workflow.UserReviewPoint, decision workflow.ReviewDecision) {
	if s.events == nil {
		return
	}
	s.events.Publish(eventbus.Event{
		Kind:                eventbus.KindUserReviewSubmitted,
		WorkflowExecutionID: wf.ID,
		TaskExecutionID:     rp.TaskExecutionID,
		ReviewPointID:       rp.ID,
		CorrelationID:       wf.CorrelationID,
		Attributes: map[string]interface{}{
			"decision": string(decision),
		},
	})
	log.WithFields(log.Fields{
		"workflow": wf.ID,
		"review":   rp.ID,
		"decision": decision,
	}).Info("review decision submitted")
}
