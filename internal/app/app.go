package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aosanya/workflowforge/internal/api"
	"github.com/aosanya/workflowforge/internal/condition"
	"github.com/aosanya/workflowforge/internal/config"
	"github.com/aosanya/workflowforge/internal/database"
	"github.com/aosanya/workflowforge/internal/engine"
	"github.com/aosanya/workflowforge/internal/eventbus"
	"github.com/aosanya/workflowforge/internal/eventstream"
	"github.com/aosanya/workflowforge/internal/executor"
	"github.com/aosanya/workflowforge/internal/executor/schema"
	"github.com/aosanya/workflowforge/internal/ingress"
	"github.com/aosanya/workflowforge/internal/queue"
	"github.com/aosanya/workflowforge/internal/retry"
	"github.com/aosanya/workflowforge/internal/review"
	"github.com/aosanya/workflowforge/internal/scheduler"
	"github.com/aosanya/workflowforge/internal/strategy"
	"github.com/aosanya/workflowforge/internal/task"
	"github.com/aosanya/workflowforge/internal/workflow"
)

// App wires every orchestrator component into one running process:
// database connection, event bus, executor registry, task and workflow
// services, strategy registry, engine, retry scheduler, review service,
// async result ingress, and the admin REST API.
type App struct {
	config *config.Config

	dbClient    *database.ArangoClient
	queueClient *queue.Client
	events      *eventbus.Bus

	workflows    *workflow.Service
	tasks        *task.Service
	engine       *engine.Engine
	reviews      *review.Service
	scheduler    *scheduler.Scheduler
	ingress      *ingress.Ingress
	stream       *eventstream.Hub
	streamCancel context.CancelFunc

	apiServer *api.Server
}

// New wires every component and returns a ready-to-run App. It does not
// bind any listener or start any background goroutine — call Run for that.
func New(cfg *config.Config) (*App, error) {
	dbClient, err := database.NewArangoClient(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to arangodb: %w", err)
	}
	if err := dbClient.Ping(); err != nil {
		logrus.WithError(err).Warn("database ping failed, continuing with limited functionality")
	}

	ctx := dbClient.Context()

	definitions, err := workflow.NewArangoDefinitionRepository(ctx, dbClient)
	if err != nil {
		return nil, fmt.Errorf("initialize workflow definition repository: %w", err)
	}
	executions, err := workflow.NewArangoExecutionRepository(ctx, dbClient)
	if err != nil {
		return nil, fmt.Errorf("initialize workflow execution repository: %w", err)
	}
	taskRepo, err := task.NewArangoRepository(ctx, dbClient)
	if err != nil {
		return nil, fmt.Errorf("initialize task execution repository: %w", err)
	}

	// The queue is optional: a deployment whose task types are all LOCAL
	// never needs NATS, so a connect failure here is logged and the
	// orchestrator runs with queueClient nil (task.Service and the builtin
	// executors already treat that as "no QUEUED support available").
	queueClient, err := queue.Connect(cfg.Queue)
	if err != nil {
		logrus.WithError(err).Warn("failed to connect to task queue, QUEUED execution mode unavailable")
		queueClient = nil
	}

	events := eventbus.New(cfg.Events.Enabled)

	validator := schema.NewValidator()
	registry := executor.NewRegistry(validator)
	registry.Register(executor.NewEchoExecutor())
	registry.Register(executor.NewHTTPExecutor(nil))
	registry.Register(executor.NewDelayExecutor())
	if queueClient != nil {
		registry.Register(executor.NewQueuePublishExecutor(queueClient))
	}

	initial, maxInterval, multiplier, maxAttempts := cfg.RetryDefaults()
	policy := retry.Policy{
		MaxAttempts:     maxAttempts,
		InitialInterval: initial,
		Multiplier:      multiplier,
		MaxInterval:     maxInterval,
	}

	taskService := task.NewService(taskRepo, registry, events, policy, queueClient, cfg.Task.ExecutionThreadPoolSize)
	workflowService := workflow.NewService(definitions, executions, events)

	strategies := strategy.NewRegistry()
	strategies.Register(strategy.NewSequential(taskService, workflowService))
	strategies.Register(strategy.NewParallel(taskService, workflowService, cfg.Task.ExecutionThreadPoolSize))
	strategies.Register(strategy.NewConditional(taskService, workflowService, condition.NewEvaluator()))

	eng := engine.New(workflowService, taskService, strategies)
	retryScheduler := scheduler.New(cfg.Scheduler, cfg.Retention, taskService, workflowService, eng)
	reviewService := review.New(workflowService, taskService, eng, events)

	var ing *ingress.Ingress
	if queueClient != nil {
		ing = ingress.New(taskService, workflowService, eng, queueClient)
	}

	stream := eventstream.New(events)

	apiServer := api.NewServer(&api.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		Environment:  os.Getenv("WF_ENV"),
	}, &api.Services{
		Workflows: workflowService,
		Tasks:     taskService,
		Engine:    eng,
		Reviews:   reviewService,
		Stream:    stream,
	})

	return &App{
		config:      cfg,
		dbClient:    dbClient,
		queueClient: queueClient,
		events:      events,
		workflows:   workflowService,
		tasks:       taskService,
		engine:      eng,
		reviews:     reviewService,
		scheduler:   retryScheduler,
		ingress:     ing,
		stream:      stream,
		apiServer:   apiServer,
	}, nil
}

// Run starts the retry scheduler, the async result ingress (if a queue is
// configured), and the admin API, then blocks until SIGINT/SIGTERM, at
// which point it shuts everything down in reverse order.
func (a *App) Run() error {
	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("start retry scheduler: %w", err)
	}

	if a.ingress != nil {
		if err := a.ingress.Start(); err != nil {
			return fmt.Errorf("start async result ingress: %w", err)
		}
	}

	streamCtx, streamCancel := context.WithCancel(context.Background())
	a.streamCancel = streamCancel
	go a.stream.Run(streamCtx)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := a.apiServer.Start(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logrus.Info("shutdown signal received")
	case err := <-serverErrCh:
		logrus.WithError(err).Error("API server failed to start")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a.streamCancel()

	if err := a.apiServer.Stop(shutdownCtx); err != nil {
		logrus.WithError(err).Error("API server shutdown error")
	}

	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		logrus.WithError(err).Error("retry scheduler shutdown error")
	}

	if a.queueClient != nil {
		if err := a.queueClient.Close(); err != nil {
			logrus.WithError(err).Error("queue client close error")
		}
	}

	if err := a.dbClient.Close(); err != nil {
		logrus.WithError(err).Error("database close error")
		return err
	}

	logrus.Info("workflowforge stopped")
	return nil
}
