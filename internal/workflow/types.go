// Package workflow holds the workflow definition/execution domain model and
// the Workflow Execution Service that owns the workflow state machine.
package workflow

import (
	"time"
)

// StrategyType selects which execution strategy drives a workflow's tasks.
type StrategyType string

const (
	StrategySequential  StrategyType = "SEQUENTIAL"
	StrategyParallel    StrategyType = "PARALLEL"
	StrategyConditional StrategyType = "CONDITIONAL"
)

// ExecutionMode selects how a task is dispatched.
type ExecutionMode string

const (
	ExecutionModeLocal  ExecutionMode = "LOCAL"
	ExecutionModeQueued ExecutionMode = "QUEUED"
)

// Status is the workflow execution's lifecycle state.
type Status string

const (
	StatusCreated             Status = "CREATED"
	StatusRunning             Status = "RUNNING"
	StatusPaused              Status = "PAUSED"
	StatusAwaitingUserReview  Status = "AWAITING_USER_REVIEW"
	StatusCompleted           Status = "COMPLETED"
	StatusFailed              Status = "FAILED"
	StatusCancelled           Status = "CANCELLED"
)

// IsTerminal reports whether status admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ReviewDecision is the outcome of a user review submission.
type ReviewDecision string

const (
	DecisionApprove ReviewDecision = "APPROVE"
	DecisionReject  ReviewDecision = "REJECT"
	DecisionRestart ReviewDecision = "RESTART"
)

// TaskDefinition is one step of a WorkflowDefinition's ordered task graph.
type TaskDefinition struct {
	ID                    string            `json:"id"`
	Name                  string            `json:"name"`
	Type                  string            `json:"type"`
	ExecutionOrder        int               `json:"executionOrder"`
	RetryLimit            int               `json:"retryLimit"`
	TimeoutSeconds        int               `json:"timeoutSeconds"`
	ExecutionMode         ExecutionMode     `json:"executionMode"`
	RequireUserReview     bool              `json:"requireUserReview"`
	ConditionalExpression string            `json:"conditionalExpression,omitempty"`
	NextTaskOnSuccess     string            `json:"nextTaskOnSuccess,omitempty"`
	NextTaskOnFailure     string            `json:"nextTaskOnFailure,omitempty"`
	Configuration         map[string]string `json:"configuration,omitempty"`
}

// WorkflowDefinition is an immutable, versioned, ordered task graph. Updates
// create a new version rather than mutating an existing one.
type WorkflowDefinition struct {
	Key          string           `json:"_key,omitempty"`
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Description  string           `json:"description,omitempty"`
	Version      string           `json:"version"`
	StrategyType StrategyType     `json:"strategyType"`
	Tasks        []TaskDefinition `json:"tasks"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// TaskByID returns the task definition with the given id, if present.
func (d *WorkflowDefinition) TaskByID(id string) (*TaskDefinition, bool) {
	for i := range d.Tasks {
		if d.Tasks[i].ID == id {
			return &d.Tasks[i], true
		}
	}
	return nil, false
}

// IndexOf returns the position of the task with the given id within the
// ordered task list, or -1 if absent.
func (d *WorkflowDefinition) IndexOf(id string) int {
	for i := range d.Tasks {
		if d.Tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// UserReviewPoint records a human-in-the-loop suspension for one task
// execution.
type UserReviewPoint struct {
	ID              string          `json:"id"`
	TaskExecutionID string          `json:"taskExecutionId"`
	CreatedAt       time.Time       `json:"createdAt"`
	ReviewedAt      *time.Time      `json:"reviewedAt,omitempty"`
	Reviewer        string          `json:"reviewer,omitempty"`
	Comment         string          `json:"comment,omitempty"`
	Decision        ReviewDecision  `json:"decision,omitempty"`
}

// Open reports whether the review point is still awaiting a decision.
func (r *UserReviewPoint) Open() bool { return r.ReviewedAt == nil }

// Execution is one durable run of a WorkflowDefinition.
type Execution struct {
	Key                  string            `json:"_key,omitempty"`
	ID                   string            `json:"id"`
	WorkflowDefinitionID string            `json:"workflowDefinitionId"`
	CorrelationID        string            `json:"correlationId"`
	Status               Status            `json:"status"`
	StartedAt            *time.Time        `json:"startedAt,omitempty"`
	CompletedAt          *time.Time        `json:"completedAt,omitempty"`
	CurrentTaskIndex     int               `json:"currentTaskIndex"`
	RetryCount           int               `json:"retryCount"`
	ErrorMessage         string            `json:"errorMessage,omitempty"`
	Variables            map[string]string `json:"variables"`
	ReviewPoints         []UserReviewPoint `json:"reviewPoints"`
}

// OpenReviewPoint returns the first review point with no decision yet.
func (e *Execution) OpenReviewPoint() (*UserReviewPoint, bool) {
	for i := range e.ReviewPoints {
		if e.ReviewPoints[i].Open() {
			return &e.ReviewPoints[i], true
		}
	}
	return nil, false
}
