// Package scheduler implements the Retry Scheduler: a cron-driven tick that
// re-drives workflows with tasks due for retry, plus a slower maintenance
// sweep that flags stuck suspended workflows and purges old terminal ones.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/aosanya/workflowforge/internal/config"
	"github.com/aosanya/workflowforge/internal/engine"
	"github.com/aosanya/workflowforge/internal/task"
	"github.com/aosanya/workflowforge/internal/workflow"
)

// stuckSuspensionThreshold is how long a workflow may sit PAUSED or
// AWAITING_USER_REVIEW before the maintenance sweep logs it as stuck. There is currently no operator-facing
// escalation beyond the log line.
const stuckSuspensionThreshold = 24 * time.Hour

// Scheduler owns the retry tick and the maintenance sweep.
type Scheduler struct {
	cron          *cron.Cron
	tasks         *task.Service
	workflows     *workflow.Service
	engine        *engine.Engine
	tickSeconds   int
	retentionDays int
}

// New wires a Scheduler from configuration. tickSeconds governs how often
// due retries are swept; retentionDays governs how long a terminal workflow
// execution is kept before the maintenance sweep purges it.
func New(cfg config.SchedulerConfig, retention config.RetentionConfig, tasks *task.Service, workflows *workflow.Service, eng *engine.Engine) *Scheduler {
	tick := cfg.TickSeconds
	if tick <= 0 {
		tick = 30
	}
	return &Scheduler{
		cron:          cron.New(cron.WithSeconds()),
		tasks:         tasks,
		workflows:     workflows,
		engine:        eng,
		tickSeconds:   tick,
		retentionDays: retention.TerminalDays,
	}
}

// Start registers the retry tick and maintenance sweep and starts the cron
// runner in the background.
func (s *Scheduler) Start() error {
	tickSpec := fmt.Sprintf("@every %ds", s.tickSeconds)
	if _, err := s.cron.AddFunc(tickSpec, s.runRetryTick); err != nil {
		return fmt.Errorf("register retry tick: %w", err)
	}
	if _, err := s.cron.AddFunc("@hourly", s.runMaintenanceSweep); err != nil {
		return fmt.Errorf("register maintenance sweep: %w", err)
	}

	s.cron.Start()
	log.Info("retry scheduler started")
	return nil
}

// Stop gracefully stops the cron runner, waiting for in-flight jobs up to
// ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		log.Info("retry scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runRetryTick re-drives every workflow execution with at least one task
// execution due for retry. A workflow is re-driven at most once per tick
// even if several of its tasks are due, since the strategy's resolveTask
// picks up every AWAITING_RETRY task it owns in one pass.
func (s *Scheduler) runRetryTick() {
	ctx := context.Background()
	due, err := s.tasks.TasksToRetry(ctx, time.Now().UTC())
	if err != nil {
		log.WithError(err).Error("list tasks due for retry")
		return
	}
	if len(due) == 0 {
		return
	}

	seen := make(map[string]bool, len(due))
	for _, t := range due {
		if seen[t.WorkflowExecutionID] {
			continue
		}
		seen[t.WorkflowExecutionID] = true

		if _, err := s.engine.ExecuteWorkflow(ctx, t.WorkflowExecutionID); err != nil {
			log.WithError(err).WithField("workflow", t.WorkflowExecutionID).Error("retry tick failed to re-drive workflow")
		}
	}
}

// runMaintenanceSweep logs workflows stuck PAUSED or AWAITING_USER_REVIEW
// past stuckSuspensionThreshold, and purges terminal workflows completed
// more than retentionDays ago.
func (s *Scheduler) runMaintenanceSweep() {
	ctx := context.Background()

	stuckCutoff := time.Now().UTC().Add(-stuckSuspensionThreshold)
	paused, err := s.workflows.FindPausedOlderThan(ctx, stuckCutoff)
	if err != nil {
		log.WithError(err).Error("find stuck paused workflows")
	} else {
		for _, e := range paused {
			log.WithFields(log.Fields{"workflow": e.ID, "status": e.Status, "startedAt": e.StartedAt}).
				Warn("workflow has been suspended past the stuck threshold")
		}
	}
	reviewing, err := s.workflows.ListByStatus(ctx, workflow.StatusAwaitingUserReview)
	if err != nil {
		log.WithError(err).Error("find stuck workflows awaiting review")
	} else {
		for _, e := range reviewing {
			if e.StartedAt != nil && e.StartedAt.Before(stuckCutoff) {
				log.WithFields(log.Fields{"workflow": e.ID, "status": e.Status, "startedAt": e.StartedAt}).
					Warn("workflow has been suspended past the stuck threshold")
			}
		}
	}

	if s.retentionDays <= 0 {
		return
	}
	retentionCutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	expired, err := s.workflows.FindCompletedOlderThan(ctx, retentionCutoff)
	if err != nil {
		log.WithError(err).Error("find expired terminal workflows")
		return
	}
	for _, e := range expired {
		if err := s.tasks.DeleteByWorkflow(ctx, e.ID); err != nil {
			log.WithError(err).WithField("workflow", e.ID).Error("purge task executions before deleting workflow")
			continue
		}
		if err := s.workflows.Delete(ctx, e.ID); err != nil {
			log.WithError(err).WithField("workflow", e.ID).Error("purge expired terminal workflow")
			continue
		}
		log.WithField("workflow", e.ID).Info("purged terminal workflow past retention threshold")
	}
}
