package ingress

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aosanya/workflowforge/internal/engine"
	"github.com/aosanya/workflowforge/internal/eventbus"
	"github.com/aosanya/workflowforge/internal/executor"
	"github.com/aosanya/workflowforge/internal/queue"
	"github.com/aosanya/workflowforge/internal/retry"
	"github.com/aosanya/workflowforge/internal/strategy"
	"github.com/aosanya/workflowforge/internal/task"
	"github.com/aosanya/workflowforge/internal/workflow"
)

func queuedDef() *workflow.WorkflowDefinition {
	return &workflow.WorkflowDefinition{
		ID:           "def-1",
		Name:         "queued-flow",
		Version:      "v1",
		StrategyType: workflow.StrategySequential,
		Tasks: []workflow.TaskDefinition{
			{ID: "t1", Name: "step1", Type: "remote-job", ExecutionOrder: 0},
		},
	}
}

func newHarness(t *testing.T, retryPolicy retry.Policy) (*Ingress, *workflow.Service, *task.Service, task.Repository) {
	t.Helper()
	events := eventbus.New(true)

	defs := workflow.NewInMemoryDefinitionRepository()
	execs := workflow.NewInMemoryExecutionRepository()
	wfSvc := workflow.NewService(defs, execs, events)
	require.NoError(t, defs.Create(context.Background(), queuedDef()))

	reg := executor.NewRegistry(nil)
	taskRepo := task.NewInMemoryRepository()
	taskSvc := task.NewService(taskRepo, reg, events, retryPolicy, nil, 5)

	strategies := strategy.NewRegistry()
	strategies.Register(strategy.NewSequential(taskSvc, wfSvc))
	eng := engine.New(wfSvc, taskSvc, strategies)

	return New(taskSvc, wfSvc, eng, nil), wfSvc, taskSvc, taskRepo
}

// startDispatchedTask simulates a workflow already suspended with its only
// task dispatched to an external QUEUED worker: the task sits RUNNING and
// the workflow sits RUNNING at that task's index, exactly as task.Execute
// would have left them without needing a real queue connection.
func startDispatchedTask(t *testing.T, wfSvc *workflow.Service, taskSvc *task.Service, taskRepo task.Repository) (*workflow.Execution, *task.Execution) {
	t.Helper()
	ctx := context.Background()

	wf, err := wfSvc.StartWorkflow(ctx, "queued-flow", "v1", nil)
	require.NoError(t, err)
	_, err = wfSvc.UpdateStatus(ctx, wf.ID, workflow.StatusRunning)
	require.NoError(t, err)
	require.NoError(t, wfSvc.SetCurrentTaskIndex(ctx, wf.ID, 0))

	te, err := taskSvc.Create(ctx, wf.ID, "t1", "remote-job", task.ModeQueued, 3, nil)
	require.NoError(t, err)
	te.Status = task.StatusRunning
	require.NoError(t, taskRepo.Update(ctx, te))

	return wf, te
}

func TestHandle_SuccessCompletesTaskAndAdvancesWorkflow(t *testing.T) {
	ing, wfSvc, taskSvc, taskRepo := newHarness(t, retry.Default())
	wf, te := startDispatchedTask(t, wfSvc, taskSvc, taskRepo)

	ing.handle(queue.ResultMessage{
		TaskExecutionID: te.ID,
		Success:         true,
		Outputs:         map[string]interface{}{"result": "ok"},
	})

	final, err := wfSvc.Get(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, final.Status)

	completed, err := taskSvc.Get(context.Background(), te.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, completed.Status)
	assert.Equal(t, "ok", completed.Outputs["result"])
}

func TestHandle_FailureFailsWorkflowWhenRetriesExhausted(t *testing.T) {
	ing, wfSvc, taskSvc, taskRepo := newHarness(t, retry.Policy{MaxAttempts: 0})
	wf, te := startDispatchedTask(t, wfSvc, taskSvc, taskRepo)
	te.RetryLimit = 0
	require.NoError(t, taskRepo.Update(context.Background(), te))

	ing.handle(queue.ResultMessage{
		TaskExecutionID: te.ID,
		Success:         false,
		Error:           "remote worker crashed",
	})

	final, err := wfSvc.Get(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, final.Status)
}

func TestHandle_UnknownTaskIDIsDroppedWithoutPanic(t *testing.T) {
	ing, _, _, _ := newHarness(t, retry.Default())
	assert.NotPanics(t, func() {
		ing.handle(queue.ResultMessage{TaskExecutionID: "does-not-exist", Success: true})
	})
}
