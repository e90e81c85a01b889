package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aosanya/workflowforge/internal/execctx"
	"github.com/aosanya/workflowforge/internal/task"
	"github.com/aosanya/workflowforge/internal/workflow"
)

// fakeTasks is an in-memory TaskService test double: tasks Execute
// immediately to COMPLETED unless the taskType is pre-registered with a
// scripted outcome.
type fakeTasks struct {
	byID        map[string]*task.Execution
	outcomeFor  map[string]task.Status // taskType -> forced outcome
	errorFor    map[string]string
	executeHits map[string]int
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{
		byID:        make(map[string]*task.Execution),
		outcomeFor:  make(map[string]task.Status),
		errorFor:    make(map[string]string),
		executeHits: make(map[string]int),
	}
}

func (f *fakeTasks) Create(_ context.Context, workflowExecutionID, taskDefinitionID, taskType string, mode task.ExecutionMode, retryLimit int, inputs map[string]string) (*task.Execution, error) {
	t := &task.Execution{
		ID:                  uuid.New().String(),
		WorkflowExecutionID: workflowExecutionID,
		TaskDefinitionID:    taskDefinitionID,
		TaskType:            taskType,
		Status:              task.StatusPending,
		ExecutionMode:       mode,
		RetryLimit:          retryLimit,
	}
	f.byID[t.ID] = t
	return t, nil
}

func (f *fakeTasks) Execute(_ context.Context, id string, _ *execctx.Context, _ map[string]interface{}, _ time.Duration) (*task.Execution, error) {
	t := f.byID[id]
	f.executeHits[id]++
	outcome, forced := f.outcomeFor[t.TaskType]
	if !forced {
		outcome = task.StatusCompleted
	}
	t.Status = outcome
	if outcome == task.StatusCompleted {
		t.Outputs = map[string]string{"ran": t.TaskType}
	}
	if outcome == task.StatusFailed {
		t.ErrorMessage = f.errorFor[t.TaskType]
	}
	return t, nil
}

func (f *fakeTasks) Get(_ context.Context, id string) (*task.Execution, error) {
	return f.byID[id], nil
}

func (f *fakeTasks) ListByWorkflow(_ context.Context, workflowExecutionID string) ([]*task.Execution, error) {
	var out []*task.Execution
	for _, t := range f.byID {
		if t.WorkflowExecutionID == workflowExecutionID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTasks) Skip(_ context.Context, id string) (*task.Execution, error) {
	t := f.byID[id]
	t.Status = task.StatusSkipped
	return t, nil
}

type fakeWorkflows struct {
	indices   map[string]int
	variables map[string]map[string]string
	reviews   map[string][]workflow.UserReviewPoint
}

func newFakeWorkflows() *fakeWorkflows {
	return &fakeWorkflows{
		indices:   make(map[string]int),
		variables: make(map[string]map[string]string),
		reviews:   make(map[string][]workflow.UserReviewPoint),
	}
}

func (f *fakeWorkflows) SetCurrentTaskIndex(_ context.Context, id string, index int) error {
	f.indices[id] = index
	return nil
}

func (f *fakeWorkflows) MergeVariables(_ context.Context, id string, outputs map[string]string) error {
	if f.variables[id] == nil {
		f.variables[id] = make(map[string]string)
	}
	for k, v := range outputs {
		f.variables[id][k] = v
	}
	return nil
}

func (f *fakeWorkflows) AddReviewPoint(_ context.Context, id string, rp workflow.UserReviewPoint) error {
	f.reviews[id] = append(f.reviews[id], rp)
	return nil
}

func def3Tasks() *workflow.WorkflowDefinition {
	return &workflow.WorkflowDefinition{
		ID: "def-1",
		Tasks: []workflow.TaskDefinition{
			{ID: "t1", Type: "a", ExecutionOrder: 0},
			{ID: "t2", Type: "b", ExecutionOrder: 1},
			{ID: "t3", Type: "c", ExecutionOrder: 2},
		},
	}
}

func TestSequential_RunsAllTasksToCompletion(t *testing.T) {
	tasks := newFakeTasks()
	wfs := newFakeWorkflows()
	s := NewSequential(tasks, wfs)

	wf := &workflow.Execution{ID: "wf-1"}
	def := def3Tasks()

	status, err := s.Execute(context.Background(), wf, def, execctx.New(nil))
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, status)
	assert.Equal(t, "c", wfs.variables["wf-1"]["ran"])
}

func TestSequential_FailureWithoutBranchStopsWorkflow(t *testing.T) {
	tasks := newFakeTasks()
	tasks.outcomeFor["b"] = task.StatusFailed
	wfs := newFakeWorkflows()
	s := NewSequential(tasks, wfs)

	wf := &workflow.Execution{ID: "wf-1"}
	def := def3Tasks()

	status, err := s.Execute(context.Background(), wf, def, execctx.New(nil))
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, status)
	assert.Equal(t, 1, wfs.indices["wf-1"])
}

func TestSequential_FailureBranchJumps(t *testing.T) {
	tasks := newFakeTasks()
	tasks.outcomeFor["b"] = task.StatusFailed
	wfs := newFakeWorkflows()
	s := NewSequential(tasks, wfs)

	def := def3Tasks()
	def.Tasks[1].NextTaskOnFailure = "t3"
	wf := &workflow.Execution{ID: "wf-1"}

	status, err := s.Execute(context.Background(), wf, def, execctx.New(nil))
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, status)
}

func TestSequential_AwaitingRetrySuspendsWithoutAdvancing(t *testing.T) {
	tasks := newFakeTasks()
	tasks.outcomeFor["b"] = task.StatusAwaitingRetry
	wfs := newFakeWorkflows()
	s := NewSequential(tasks, wfs)

	wf := &workflow.Execution{ID: "wf-1"}
	def := def3Tasks()

	status, err := s.Execute(context.Background(), wf, def, execctx.New(nil))
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRunning, status)
	assert.Equal(t, 1, wfs.indices["wf-1"])
}

func TestSequential_RequireUserReviewSuspendsOnce(t *testing.T) {
	tasks := newFakeTasks()
	wfs := newFakeWorkflows()
	s := NewSequential(tasks, wfs)

	def := def3Tasks()
	def.Tasks[0].RequireUserReview = true
	wf := &workflow.Execution{ID: "wf-1"}

	status, err := s.Execute(context.Background(), wf, def, execctx.New(nil))
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusAwaitingUserReview, status)
	require.Len(t, wfs.reviews["wf-1"], 1)
	assert.True(t, wfs.reviews["wf-1"][0].Open())
}

func TestSequential_ApprovedReviewContinuesForward(t *testing.T) {
	tasks := newFakeTasks()
	wfs := newFakeWorkflows()
	s := NewSequential(tasks, wfs)

	def := def3Tasks()
	def.Tasks[0].RequireUserReview = true
	wf := &workflow.Execution{ID: "wf-1"}

	status, err := s.Execute(context.Background(), wf, def, execctx.New(nil))
	require.NoError(t, err)
	require.Equal(t, workflow.StatusAwaitingUserReview, status)

	// The gated task t1 is still PENDING; a review approval completes it
	// directly, the way review.Service does, before the strategy resumes.
	all, err := tasks.ListByWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	all[0].Status = task.StatusCompleted
	all[0].Outputs = map[string]string{"ran": all[0].TaskType}

	status, err = s.Execute(context.Background(), wf, def, execctx.New(nil))
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, status)
}

func TestSequential_ExecuteSubsetSkipsUnlistedTasks(t *testing.T) {
	tasks := newFakeTasks()
	wfs := newFakeWorkflows()
	s := NewSequential(tasks, wfs)

	def := def3Tasks()
	wf := &workflow.Execution{ID: "wf-1"}

	status, err := s.ExecuteSubset(context.Background(), wf, def, execctx.New(nil), []string{"t2"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, status)

	all, _ := tasks.ListByWorkflow(context.Background(), "wf-1")
	assert.Len(t, all, 1)
}

func TestParallel_AggregatesSuccess(t *testing.T) {
	tasks := newFakeTasks()
	wfs := newFakeWorkflows()
	p := NewParallel(tasks, wfs, 2)

	def := def3Tasks()
	wf := &workflow.Execution{ID: "wf-1"}

	status, err := p.Execute(context.Background(), wf, def, execctx.New(nil))
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, status)
}

func TestParallel_AnyFailureFailsWorkflow(t *testing.T) {
	tasks := newFakeTasks()
	tasks.outcomeFor["b"] = task.StatusFailed
	wfs := newFakeWorkflows()
	p := NewParallel(tasks, wfs, 2)

	def := def3Tasks()
	wf := &workflow.Execution{ID: "wf-1"}

	status, err := p.Execute(context.Background(), wf, def, execctx.New(nil))
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, status)
}

func TestParallel_AnySuspendedLeavesWorkflowRunning(t *testing.T) {
	tasks := newFakeTasks()
	tasks.outcomeFor["b"] = task.StatusAwaitingRetry
	wfs := newFakeWorkflows()
	p := NewParallel(tasks, wfs, 2)

	def := def3Tasks()
	wf := &workflow.Execution{ID: "wf-1"}

	status, err := p.Execute(context.Background(), wf, def, execctx.New(nil))
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRunning, status)
}

func TestConditional_SkipsFalseGuard(t *testing.T) {
	tasks := newFakeTasks()
	wfs := newFakeWorkflows()
	c := NewConditional(tasks, wfs, nil)

	def := def3Tasks()
	def.Tasks[1].ConditionalExpression = "1 == 2"
	wf := &workflow.Execution{ID: "wf-1"}

	status, err := c.Execute(context.Background(), wf, def, execctx.New(nil))
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, status)

	all, _ := tasks.ListByWorkflow(context.Background(), "wf-1")
	var skipped int
	for _, tt := range all {
		if tt.Status == task.StatusSkipped {
			skipped++
		}
	}
	assert.Equal(t, 1, skipped)
}

func TestConditional_RunsTrueGuard(t *testing.T) {
	tasks := newFakeTasks()
	wfs := newFakeWorkflows()
	c := NewConditional(tasks, wfs, nil)

	def := def3Tasks()
	def.Tasks[1].ConditionalExpression = "1 == 1"
	wf := &workflow.Execution{ID: "wf-1"}

	status, err := c.Execute(context.Background(), wf, def, execctx.New(nil))
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, status)

	all, _ := tasks.ListByWorkflow(context.Background(), "wf-1")
	var completed int
	for _, tt := range all {
		if tt.Status == task.StatusCompleted {
			completed++
		}
	}
	assert.Equal(t, 3, completed)
}

func TestRegistry_GetReturnsRegisteredStrategy(t *testing.T) {
	reg := NewRegistry()
	tasks := newFakeTasks()
	wfs := newFakeWorkflows()
	reg.Register(NewSequential(tasks, wfs))

	s, ok := reg.Get(workflow.StrategySequential)
	require.True(t, ok)
	assert.Equal(t, workflow.StrategySequential, s.Type())

	_, ok = reg.Get(workflow.StrategyParallel)
	assert.False(t, ok)
}
