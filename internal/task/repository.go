package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aosanya/workflowforge/internal/apperror"
	"github.com/aosanya/workflowforge/internal/database"
	driver "github.com/arangodb/go-driver"
	log "github.com/sirupsen/logrus"
)

// Repository persists TaskExecution documents.
type Repository interface {
	Create(ctx context.Context, t *Execution) error
	Get(ctx context.Context, id string) (*Execution, error)
	Update(ctx context.Context, t *Execution) error
	ListByWorkflow(ctx context.Context, workflowExecutionID string) ([]*Execution, error)
	TasksToRetry(ctx context.Context, now time.Time) ([]*Execution, error)
	DeleteByWorkflow(ctx context.Context, workflowExecutionID string) error
}

const collectionName = "task_executions"

// ArangoRepository implements Repository over ArangoDB.
type ArangoRepository struct {
	db         driver.Database
	collection driver.Collection
}

// NewArangoRepository ensures the task_executions collection and its
// indexes exist, then returns a repository backed by it.
func NewArangoRepository(ctx context.Context, client *database.ArangoClient) (*ArangoRepository, error) {
	col, err := client.EnsureCollection(ctx, collectionName)
	if err != nil {
		return nil, fmt.Errorf("ensure %s collection: %w", collectionName, err)
	}
	client.EnsurePersistentIndex(ctx, col, "idx_status", []string{"status"}, false)
	client.EnsurePersistentIndex(ctx, col, "idx_workflow", []string{"workflowExecutionId"}, false)
	client.EnsurePersistentIndex(ctx, col, "idx_next_retry", []string{"status", "nextRetryAt"}, false)

	log.WithField("collection", collectionName).Info("task execution repository initialized")
	return &ArangoRepository{db: client.Database(), collection: col}, nil
}

// Create stores a new task execution, assigning its ArangoDB key from ID.
func (r *ArangoRepository) Create(ctx context.Context, t *Execution) error {
	t.Key = t.ID
	if _, err := r.collection.CreateDocument(ctx, t); err != nil {
		return fmt.Errorf("create task execution %s: %w", t.ID, err)
	}
	return nil
}

// Get retrieves a task execution by id.
func (r *ArangoRepository) Get(ctx context.Context, id string) (*Execution, error) {
	var t Execution
	if _, err := r.collection.ReadDocument(ctx, id, &t); err != nil {
		if driver.IsNotFound(err) {
			return nil, apperror.NotFoundf("task execution %s", id)
		}
		return nil, fmt.Errorf("read task execution %s: %w", id, err)
	}
	return &t, nil
}

// Update replaces an existing task execution document.
func (r *ArangoRepository) Update(ctx context.Context, t *Execution) error {
	t.Key = t.ID
	if _, err := r.collection.ReplaceDocument(ctx, t.ID, t); err != nil {
		if driver.IsNotFound(err) {
			return apperror.NotFoundf("task execution %s", t.ID)
		}
		return fmt.Errorf("update task execution %s: %w", t.ID, err)
	}
	return nil
}

// ListByWorkflow returns every task execution owned by a workflow execution.
func (r *ArangoRepository) ListByWorkflow(ctx context.Context, workflowExecutionID string) ([]*Execution, error) {
	query := "FOR t IN @@collection FILTER t.workflowExecutionId == @wfId SORT t.startedAt ASC RETURN t"
	bindVars := map[string]interface{}{"@collection": collectionName, "wfId": workflowExecutionID}
	return r.queryAll(ctx, query, bindVars)
}

// TasksToRetry returns every task execution awaiting a retry whose
// nextRetryAt has passed.
func (r *ArangoRepository) TasksToRetry(ctx context.Context, now time.Time) ([]*Execution, error) {
	query := "FOR t IN @@collection FILTER t.status == @status AND t.nextRetryAt != null AND t.nextRetryAt <= @now RETURN t"
	bindVars := map[string]interface{}{
		"@collection": collectionName,
		"status":      string(StatusAwaitingRetry),
		"now":         now.UTC().Format(time.RFC3339Nano),
	}
	return r.queryAll(ctx, query, bindVars)
}

// DeleteByWorkflow removes every task execution owned by a workflow
// execution, used when a terminal workflow is deleted.
func (r *ArangoRepository) DeleteByWorkflow(ctx context.Context, workflowExecutionID string) error {
	query := "FOR t IN @@collection FILTER t.workflowExecutionId == @wfId REMOVE t IN @@collection"
	bindVars := map[string]interface{}{"@collection": collectionName, "wfId": workflowExecutionID}
	cursor, err := r.db.Query(ctx, query, bindVars)
	if err != nil {
		return fmt.Errorf("delete task executions for %s: %w", workflowExecutionID, err)
	}
	defer cursor.Close()
	return nil
}

func (r *ArangoRepository) queryAll(ctx context.Context, query string, bindVars map[string]interface{}) ([]*Execution, error) {
	cursor, err := r.db.Query(ctx, query, bindVars)
	if err != nil {
		return nil, fmt.Errorf("query task executions: %w", err)
	}
	defer cursor.Close()

	var results []*Execution
	for cursor.HasMore() {
		var t Execution
		if _, err := cursor.ReadDocument(ctx, &t); err != nil {
			return nil, fmt.Errorf("read task execution document: %w", err)
		}
		results = append(results, &t)
	}
	return results, nil
}

// InMemoryRepository is a concurrency-safe in-memory Repository used in
// tests.
type InMemoryRepository struct {
	mu    sync.RWMutex
	tasks map[string]*Execution
}

// NewInMemoryRepository returns an empty InMemoryRepository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{tasks: make(map[string]*Execution)}
}

func clone(t *Execution) *Execution {
	cp := *t
	cp.Inputs = copyMap(t.Inputs)
	cp.Outputs = copyMap(t.Outputs)
	return &cp
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Create implements Repository.
func (r *InMemoryRepository) Create(_ context.Context, t *Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[t.ID]; exists {
		return fmt.Errorf("task execution %s already exists", t.ID)
	}
	r.tasks[t.ID] = clone(t)
	return nil
}

// Get implements Repository.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, apperror.NotFoundf("task execution %s", id)
	}
	return clone(t), nil
}

// Update implements Repository.
func (r *InMemoryRepository) Update(_ context.Context, t *Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.ID]; !ok {
		return apperror.NotFoundf("task execution %s", t.ID)
	}
	r.tasks[t.ID] = clone(t)
	return nil
}

// ListByWorkflow implements Repository.
func (r *InMemoryRepository) ListByWorkflow(_ context.Context, workflowExecutionID string) ([]*Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Execution
	for _, t := range r.tasks {
		if t.WorkflowExecutionID == workflowExecutionID {
			out = append(out, clone(t))
		}
	}
	return out, nil
}

// TasksToRetry implements Repository.
func (r *InMemoryRepository) TasksToRetry(_ context.Context, now time.Time) ([]*Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Execution
	for _, t := range r.tasks {
		if t.Status == StatusAwaitingRetry && t.NextRetryAt != nil && !t.NextRetryAt.After(now) {
			out = append(out, clone(t))
		}
	}
	return out, nil
}

// DeleteByWorkflow implements Repository.
func (r *InMemoryRepository) DeleteByWorkflow(_ context.Context, workflowExecutionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.tasks {
		if t.WorkflowExecutionID == workflowExecutionID {
			delete(r.tasks, id)
		}
	}
	return nil
}
