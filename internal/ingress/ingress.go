// Package ingress implements the Async Result Ingress: consuming task
// results published by external QUEUED-mode workers and feeding them back
// into the task state machine and the workflow engine.
package ingress

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/aosanya/workflowforge/internal/engine"
	"github.com/aosanya/workflowforge/internal/queue"
	"github.com/aosanya/workflowforge/internal/task"
	"github.com/aosanya/workflowforge/internal/workflow"
)

// queueGroup is the NATS queue group ingress subscribers share, so a
// horizontally-scaled ingress never double-processes one result.
const queueGroup = "workflowforge-ingress"

// Ingress consumes ResultMessages and resolves the matching task execution.
type Ingress struct {
	tasks     *task.Service
	workflows *workflow.Service
	engine    *engine.Engine
	queue     *queue.Client
}

// New wires an Ingress.
func New(tasks *task.Service, workflows *workflow.Service, eng *engine.Engine, q *queue.Client) *Ingress {
	return &Ingress{tasks: tasks, workflows: workflows, engine: eng, queue: q}
}

// Start subscribes to the task-result subject. Unlike the retry scheduler's
// cron-driven pull, this is push-driven: each message is handled as it
// arrives, on a goroutine owned by the NATS client.
func (i *Ingress) Start() error {
	if _, err := i.queue.SubscribeResults(queueGroup, i.handle); err != nil {
		return fmt.Errorf("subscribe to task results: %w", err)
	}
	log.Info("async result ingress subscribed")
	return nil
}

// handle resolves one ResultMessage. A task execution id this ingress
// doesn't recognize is logged and dropped rather than retried: the queue
// client never requeues, since a persistently-unknown id would otherwise
// loop forever. A result whose owning workflow has already reached a
// terminal status (completed, failed, or cancelled out from under the
// in-flight task) is discarded outright: no outputs merged, no event
// published, no re-drive — terminal statuses admit no further transitions.
func (i *Ingress) handle(msg queue.ResultMessage) {
	ctx := context.Background()

	t, err := i.tasks.Get(ctx, msg.TaskExecutionID)
	if err != nil {
		log.WithError(err).WithField("task", msg.TaskExecutionID).Warn("discarding result for unknown task execution")
		return
	}

	wf, err := i.workflows.Get(ctx, t.WorkflowExecutionID)
	if err != nil {
		log.WithError(err).WithField("workflow", t.WorkflowExecutionID).Warn("discarding result for unknown workflow execution")
		return
	}
	if wf.Status.IsTerminal() {
		log.WithFields(log.Fields{"task": t.ID, "workflow": wf.ID, "status": wf.Status}).
			Info("discarding async result for terminal workflow execution")
		return
	}

	if msg.Success {
		outputs := make(map[string]string, len(msg.Outputs))
		for k, v := range msg.Outputs {
			outputs[k] = fmt.Sprintf("%v", v)
		}
		if _, err := i.tasks.Complete(ctx, t.ID, outputs); err != nil {
			log.WithError(err).WithField("task", t.ID).Error("failed to record task completion from async result")
			return
		}
	} else {
		if _, err := i.tasks.Fail(ctx, t.ID, msg.Error); err != nil {
			log.WithError(err).WithField("task", t.ID).Error("failed to record task failure from async result")
			return
		}
	}

	if _, err := i.engine.ExecuteWorkflow(ctx, t.WorkflowExecutionID); err != nil {
		log.WithError(err).WithField("workflow", t.WorkflowExecutionID).Error("failed to re-drive workflow after async result")
	}
}
