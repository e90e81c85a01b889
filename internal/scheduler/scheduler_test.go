package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aosanya/workflowforge/internal/config"
	"github.com/aosanya/workflowforge/internal/engine"
	"github.com/aosanya/workflowforge/internal/eventbus"
	"github.com/aosanya/workflowforge/internal/execctx"
	"github.com/aosanya/workflowforge/internal/executor"
	"github.com/aosanya/workflowforge/internal/retry"
	"github.com/aosanya/workflowforge/internal/strategy"
	"github.com/aosanya/workflowforge/internal/task"
	"github.com/aosanya/workflowforge/internal/workflow"
)

// flakyExecutor fails its first N calls, then succeeds, letting tests drive
// a task into AWAITING_RETRY and later resolve it.
type flakyExecutor struct {
	failures int
	calls    int
}

func (f *flakyExecutor) TaskType() string { return "flaky" }

func (f *flakyExecutor) Execute(_ context.Context, _ executor.Definition, _ *execctx.Context) (map[string]interface{}, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, &executor.ExecutorError{TaskType: "flaky", Err: assert.AnError}
	}
	return map[string]interface{}{"success": true}, nil
}

func flakyDef() *workflow.WorkflowDefinition {
	return &workflow.WorkflowDefinition{
		ID:           "def-1",
		Name:         "flaky-flow",
		Version:      "v1",
		StrategyType: workflow.StrategySequential,
		Tasks: []workflow.TaskDefinition{
			{ID: "t1", Name: "step1", Type: "flaky", ExecutionOrder: 0, RetryLimit: 3},
		},
	}
}

func newHarness(t *testing.T, def *workflow.WorkflowDefinition, failures int) (*Scheduler, *workflow.Service, *task.Service, workflow.ExecutionRepository) {
	t.Helper()
	events := eventbus.New(true)

	defs := workflow.NewInMemoryDefinitionRepository()
	execs := workflow.NewInMemoryExecutionRepository()
	wfSvc := workflow.NewService(defs, execs, events)
	require.NoError(t, defs.Create(context.Background(), def))

	reg := executor.NewRegistry(nil)
	require.NoError(t, reg.Register(&flakyExecutor{failures: failures}))
	policy := retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, Multiplier: 1, MaxInterval: time.Millisecond}
	taskSvc := task.NewService(task.NewInMemoryRepository(), reg, events, policy, nil, 5)

	strategies := strategy.NewRegistry()
	strategies.Register(strategy.NewSequential(taskSvc, wfSvc))
	eng := engine.New(wfSvc, taskSvc, strategies)

	sched := New(config.SchedulerConfig{TickSeconds: 1}, config.RetentionConfig{TerminalDays: 30}, taskSvc, wfSvc, eng)
	return sched, wfSvc, taskSvc, execs
}

func TestRunRetryTick_RedrivesDueTask(t *testing.T) {
	def := flakyDef()
	sched, wfSvc, taskSvc, _ := newHarness(t, def, 1)

	exec, err := wfSvc.StartWorkflow(context.Background(), def.Name, def.Version, nil)
	require.NoError(t, err)

	result, err := sched.engine.ExecuteWorkflow(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusRunning, result.Status)

	tasks, err := taskSvc.ListByWorkflow(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, task.StatusAwaitingRetry, tasks[0].Status)

	time.Sleep(5 * time.Millisecond)
	sched.runRetryTick()

	final, err := wfSvc.Get(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, final.Status)
}

func TestRunRetryTick_NoDueTasksIsNoop(t *testing.T) {
	def := flakyDef()
	sched, wfSvc, _, _ := newHarness(t, def, 0)

	exec, err := wfSvc.StartWorkflow(context.Background(), def.Name, def.Version, nil)
	require.NoError(t, err)
	result, err := sched.engine.ExecuteWorkflow(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusCompleted, result.Status)

	sched.runRetryTick()

	final, err := wfSvc.Get(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, final.Status)
}

func TestRunMaintenanceSweep_PurgesExpiredTerminalWorkflows(t *testing.T) {
	def := flakyDef()
	sched, wfSvc, taskSvc, execs := newHarness(t, def, 0)

	exec, err := wfSvc.StartWorkflow(context.Background(), def.Name, def.Version, nil)
	require.NoError(t, err)
	result, err := sched.engine.ExecuteWorkflow(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusCompleted, result.Status)

	past := time.Now().UTC().AddDate(0, 0, -31)
	result.CompletedAt = &past
	require.NoError(t, execs.Update(context.Background(), result))

	sched.runMaintenanceSweep()

	_, err = wfSvc.Get(context.Background(), exec.ID)
	assert.Error(t, err)

	remaining, err := taskSvc.ListByWorkflow(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestRunMaintenanceSweep_KeepsRecentTerminalWorkflows(t *testing.T) {
	def := flakyDef()
	sched, wfSvc, _, _ := newHarness(t, def, 0)

	exec, err := wfSvc.StartWorkflow(context.Background(), def.Name, def.Version, nil)
	require.NoError(t, err)
	result, err := sched.engine.ExecuteWorkflow(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusCompleted, result.Status)

	sched.runMaintenanceSweep()

	kept, err := wfSvc.Get(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, kept.Status)
}
