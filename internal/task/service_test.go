package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aosanya/workflowforge/internal/eventbus"
	"github.com/aosanya/workflowforge/internal/execctx"
	"github.com/aosanya/workflowforge/internal/executor"
	"github.com/aosanya/workflowforge/internal/retry"
)

type flakyExecutor struct {
	taskType    string
	failUntil   int
	calls       int
	alwaysFails bool
}

func (f *flakyExecutor) TaskType() string { return f.taskType }

func (f *flakyExecutor) Execute(ctx context.Context, def executor.Definition, ec *execctx.Context) (map[string]interface{}, error) {
	f.calls++
	if f.alwaysFails || f.calls <= f.failUntil {
		return nil, errors.New("boom")
	}
	return map[string]interface{}{"success": true}, nil
}

func newTestService(reg *executor.Registry, policy retry.Policy) (*Service, *InMemoryRepository) {
	repo := NewInMemoryRepository()
	events := eventbus.New(true)
	svc := NewService(repo, reg, events, policy, nil, 5)
	return svc, repo
}

func TestService_HappyPathCompletes(t *testing.T) {
	reg := executor.NewRegistry(nil)
	require.NoError(t, reg.Register(executor.NewEchoExecutor()))
	svc, _ := newTestService(reg, retry.Default())

	ctx := context.Background()
	tsk, err := svc.Create(ctx, "wf-1", "def-1", "echo", ModeLocal, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, tsk.Status)

	result, err := svc.Execute(ctx, tsk.ID, execctx.New(nil), map[string]interface{}{"message": "hi"}, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.NotNil(t, result.CompletedAt)
}

func TestService_RetryToSuccess(t *testing.T) {
	reg := executor.NewRegistry(nil)
	flaky := &flakyExecutor{taskType: "flaky", failUntil: 2}
	require.NoError(t, reg.Register(flaky))

	policy := retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, Multiplier: 1.0, MaxInterval: time.Millisecond}
	svc, _ := newTestService(reg, policy)

	ctx := context.Background()
	tsk, err := svc.Create(ctx, "wf-1", "def-1", "flaky", ModeLocal, 3, nil)
	require.NoError(t, err)

	result, err := svc.Execute(ctx, tsk.ID, execctx.New(nil), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingRetry, result.Status)
	assert.Equal(t, 1, result.RetryCount)

	result, err = svc.Execute(ctx, tsk.ID, execctx.New(nil), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingRetry, result.Status)
	assert.Equal(t, 2, result.RetryCount)

	result, err = svc.Execute(ctx, tsk.ID, execctx.New(nil), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 2, result.RetryCount)
}

func TestService_RetryExhaustion(t *testing.T) {
	reg := executor.NewRegistry(nil)
	flaky := &flakyExecutor{taskType: "flaky", alwaysFails: true}
	require.NoError(t, reg.Register(flaky))

	policy := retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, Multiplier: 1.0, MaxInterval: time.Millisecond}
	svc, _ := newTestService(reg, policy)

	ctx := context.Background()
	tsk, err := svc.Create(ctx, "wf-1", "def-1", "flaky", ModeLocal, 3, nil)
	require.NoError(t, err)

	var result *Execution
	for i := 0; i < 4; i++ {
		result, err = svc.Execute(ctx, tsk.ID, execctx.New(nil), nil, 0)
		require.NoError(t, err)
		if result.Status == StatusFailed {
			break
		}
	}

	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.ErrorMessage, "boom")
	assert.Equal(t, 3, result.RetryCount)
}

func TestService_FailOnAlreadyFailedIsNoOp(t *testing.T) {
	reg := executor.NewRegistry(nil)
	flaky := &flakyExecutor{taskType: "flaky", alwaysFails: true}
	require.NoError(t, reg.Register(flaky))

	svc, _ := newTestService(reg, retry.Policy{MaxAttempts: 0, InitialInterval: time.Millisecond, Multiplier: 1, MaxInterval: time.Millisecond})

	ctx := context.Background()
	tsk, err := svc.Create(ctx, "wf-1", "def-1", "flaky", ModeLocal, 0, nil)
	require.NoError(t, err)

	result, err := svc.Execute(ctx, tsk.ID, execctx.New(nil), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)

	again, err := svc.Fail(ctx, tsk.ID, "different error")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, again.Status)
	assert.Equal(t, result.ErrorMessage, again.ErrorMessage)
}

func TestService_Skip(t *testing.T) {
	reg := executor.NewRegistry(nil)
	require.NoError(t, reg.Register(executor.NewEchoExecutor()))
	svc, _ := newTestService(reg, retry.Default())

	ctx := context.Background()
	tsk, err := svc.Create(ctx, "wf-1", "def-1", "echo", ModeLocal, 0, nil)
	require.NoError(t, err)

	result, err := svc.Skip(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, result.Status)
	assert.NotNil(t, result.CompletedAt)
}

func TestService_ValidationErrorFailsWithoutRetry(t *testing.T) {
	reg := executor.NewRegistry(nil)
	require.NoError(t, reg.Register(executor.NewDelayExecutor()))
	svc, _ := newTestService(reg, retry.Policy{MaxAttempts: 5, InitialInterval: time.Millisecond, Multiplier: 1, MaxInterval: time.Millisecond})

	ctx := context.Background()
	tsk, err := svc.Create(ctx, "wf-1", "def-1", "delay", ModeLocal, 5, nil)
	require.NoError(t, err)

	result, err := svc.Execute(ctx, tsk.ID, execctx.New(nil), map[string]interface{}{}, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 0, result.RetryCount)
}

func TestService_TasksToRetry(t *testing.T) {
	reg := executor.NewRegistry(nil)
	flaky := &flakyExecutor{taskType: "flaky", alwaysFails: true}
	require.NoError(t, reg.Register(flaky))

	policy := retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, Multiplier: 1, MaxInterval: time.Millisecond}
	svc, _ := newTestService(reg, policy)

	ctx := context.Background()
	tsk, err := svc.Create(ctx, "wf-1", "def-1", "flaky", ModeLocal, 3, nil)
	require.NoError(t, err)

	_, err = svc.Execute(ctx, tsk.ID, execctx.New(nil), nil, 0)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	due, err := svc.TasksToRetry(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, tsk.ID, due[0].ID)
}
